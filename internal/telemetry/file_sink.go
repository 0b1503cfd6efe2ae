package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// FileSink writes one small JSON file per event under {dir}, mirroring the
// teacher's internal/notify.EventWriter pattern — used as the local fallback
// sink when no websocket telemetry collector is configured, so a benchmark
// harness can tail the directory without a live connection.
type FileSink struct {
	dir string
}

// NewFileSink constructs a FileSink writing under dir (created on first
// Emit if absent).
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// Emit writes evt as {dir}/{unixnano}-{type}.event. Errors are logged, not
// returned — matching internal/notify.EventWriter.Notify's "errors are
// returned but not fatal" posture, adapted here to the Sink interface which
// has no error return at all.
func (f *FileSink) Emit(evt Event) {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		log.Printf("telemetry: mkdir %s: %v", f.dir, err)
		return
	}

	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("telemetry: marshal event: %v", err)
		return
	}

	name := fmt.Sprintf("%d-%s.event", time.Now().UnixNano(), evt.Type)
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		log.Printf("telemetry: write %s: %v", path, err)
	}
}
