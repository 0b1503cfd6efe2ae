package telemetry_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/engramind/internal/telemetry"
)

type recordingSink struct {
	events []telemetry.Event
}

func (r *recordingSink) Emit(e telemetry.Event) {
	r.events = append(r.events, e)
}

func TestBus_Publish_FansOutToAllSinks(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	bus := telemetry.NewBus(8, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	go bus.Run(ctx)

	bus.Publish(telemetry.Event{Type: telemetry.EventInsert, Fields: map[string]any{"id": int64(1)}})
	cancel()
	bus.Wait()

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.Equal(t, telemetry.EventInsert, a.events[0].Type)
	assert.False(t, a.events[0].Time.IsZero())
}

func TestFileSink_Emit_WritesOneFilePerEvent(t *testing.T) {
	dir := t.TempDir()
	sink := telemetry.NewFileSink(dir)

	sink.Emit(telemetry.Event{Type: telemetry.EventIndexRebuild, Time: time.Now()})

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, filepath.Base(entries[0].Name()), "index_rebuild")
}

func TestWatcher_DeliversEventsWrittenByFileSink(t *testing.T) {
	dir := t.TempDir()
	sink := telemetry.NewFileSink(dir)

	received := make(chan telemetry.Event, 1)
	w, err := telemetry.NewWatcher(dir, func(e telemetry.Event) {
		received <- e
	})
	require.NoError(t, err)
	defer w.Close()

	sink.Emit(telemetry.Event{Type: telemetry.EventSupersede, Fields: map[string]any{"superseded_id": int64(1)}})

	select {
	case evt := <-received:
		assert.Equal(t, telemetry.EventSupersede, evt.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watcher to deliver event")
	}
}
