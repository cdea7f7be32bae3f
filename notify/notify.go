// Package notify fans committed escrow events out to observers. Every sink is
// fire-and-forget: a failing sink is logged and never reaches the operation
// that produced the events.
package notify

import (
	"context"
	"sync"

	"escrow-backend/core/escrow"
	"escrow-backend/metrics"

	"github.com/rs/zerolog/log"
)

// Multi delivers events to every registered sink in registration order.
type Multi struct {
	mu    sync.RWMutex
	sinks []escrow.Notifier
}

func NewMulti(sinks ...escrow.Notifier) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		m.Add(s)
	}
	return m
}

// Add registers another sink. Nil sinks are ignored.
func (m *Multi) Add(sink escrow.Notifier) {
	if sink == nil {
		return
	}
	m.mu.Lock()
	m.sinks = append(m.sinks, sink)
	m.mu.Unlock()
}

func (m *Multi) Notify(ctx context.Context, events []escrow.EventRecord) {
	m.mu.RLock()
	sinks := append([]escrow.Notifier{}, m.sinks...)
	m.mu.RUnlock()
	for _, sink := range sinks {
		deliver(ctx, sink, events)
	}
}

func deliver(ctx context.Context, sink escrow.Notifier, events []escrow.EventRecord) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordNotifyFailure("panic")
			log.Error().Interface("panic", r).Msg("event sink panicked")
		}
	}()
	sink.Notify(ctx, events)
}

// LogNotifier writes one structured log line per event.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, events []escrow.EventRecord) {
	for _, ev := range events {
		log.Info().
			Uint64("seq", ev.Seq).
			Str("kind", string(ev.Kind)).
			Str("task_id", ev.TaskID.String()).
			Str("event_id", ev.ID.String()).
			Msg("escrow event")
	}
}

// MetricsNotifier counts committed events by kind.
type MetricsNotifier struct{}

func (MetricsNotifier) Notify(_ context.Context, events []escrow.EventRecord) {
	for _, ev := range events {
		metrics.RecordEvent(string(ev.Kind))
	}
}
