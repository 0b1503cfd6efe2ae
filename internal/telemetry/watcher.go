package telemetry

import (
	"encoding/json"
	"log"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Watcher tails a FileSink's directory, decoding each newly written event
// file and delivering it to Handler. This is the cross-process read side of
// the filesystem fallback sink (file_sink.go): a benchmark harness or
// operator tool with no websocket connection can still observe the engine's
// telemetry stream by watching the directory instead of polling it.
//
// Grounded on the teacher's internal/notify package, which paired its
// EventWriter with an fsnotify-based reader for the same reason.
type Watcher struct {
	fsw     *fsnotify.Watcher
	Handler func(Event)
}

// NewWatcher starts watching dir for newly created event files. Close stops
// the underlying fsnotify watcher.
func NewWatcher(dir string, handler func(Event)) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{fsw: fsw, Handler: handler}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.handleFile(ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("telemetry: watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		log.Printf("telemetry: watcher: malformed event file %s: %v", path, err)
		return
	}
	if w.Handler != nil {
		w.Handler(evt)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
