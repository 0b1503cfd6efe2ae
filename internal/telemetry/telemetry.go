// Package telemetry implements the structured event bus spec.md §6 names
// ("Telemetry. Emits structured events for: insert, search ..., supersede,
// sleep-cycle-stage-complete, decay-prune, index-rebuild") but leaves
// transport-less. This repository supplies a buffered fan-out bus — grounded
// on the teacher's enrichmentQueue channel idiom
// (internal/engine/memory_engine.go) — plus two sinks: a websocket client
// (websocket_sink.go) and a filesystem sink (file_sink.go, grounded on
// internal/notify).
package telemetry

import (
	"context"
	"log"
	"time"
)

// EventType enumerates the event kinds spec.md §6 names.
type EventType string

const (
	EventInsert              EventType = "insert"
	EventSearch              EventType = "search"
	EventSupersede           EventType = "supersede"
	EventSleepCycleStage     EventType = "sleep_cycle_stage_complete"
	EventDecayPrune          EventType = "decay_prune"
	EventIndexRebuild        EventType = "index_rebuild"
)

// Event is one structured telemetry record.
type Event struct {
	Type      EventType      `json:"type"`
	Time      time.Time      `json:"time"`
	LatencyMS float64        `json:"latency_ms,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Sink consumes Events. Emit must not block the caller for long; slow sinks
// should buffer internally.
type Sink interface {
	Emit(Event)
}

// Bus fans events out to every registered Sink over a buffered channel, so
// Publish from a hot path (insert, search) never blocks on a slow sink.
type Bus struct {
	sinks []Sink
	ch    chan Event
	done  chan struct{}
}

// NewBus constructs a Bus with the given channel buffer size.
func NewBus(buffer int, sinks ...Sink) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{sinks: sinks, ch: make(chan Event, buffer), done: make(chan struct{})}
}

// Run drains the event channel until ctx is cancelled, dispatching each
// event to every sink; on cancellation it first delivers any events still
// buffered, then returns. Call it in its own goroutine.
func (b *Bus) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case evt := <-b.ch:
					for _, s := range b.sinks {
						s.Emit(evt)
					}
				default:
					return
				}
			}
		case evt := <-b.ch:
			for _, s := range b.sinks {
				s.Emit(evt)
			}
		}
	}
}

// Publish enqueues evt, stamping Time if unset. Drops the event and logs if
// the buffer is full rather than blocking the caller — telemetry must never
// slow down the engine's own operations.
func (b *Bus) Publish(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}
	select {
	case b.ch <- evt:
	default:
		log.Printf("telemetry: event buffer full, dropping %s event", evt.Type)
	}
}

// Wait blocks until Run has returned after its context was cancelled.
func (b *Bus) Wait() {
	<-b.done
}
