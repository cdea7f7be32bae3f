package notify

import (
	"context"
	"sync"

	"escrow-backend/core/escrow"
	"escrow-backend/metrics"

	"github.com/rs/zerolog/log"
)

const defaultSubscriberBuffer = 64

// Broadcaster hands events to in-process subscribers such as SSE streams.
// A subscriber whose buffer is full misses the event rather than stalling commits.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan escrow.EventRecord]struct{}
	buffer int
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broadcaster{subs: make(map[chan escrow.EventRecord]struct{}), buffer: buffer}
}

// Subscribe returns a channel of future events and a cancel func that must be
// called to release it.
func (b *Broadcaster) Subscribe() (<-chan escrow.EventRecord, func()) {
	ch := make(chan escrow.EventRecord, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) Notify(_ context.Context, events []escrow.EventRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		for _, ev := range events {
			select {
			case ch <- ev:
			default:
				metrics.RecordNotifyFailure("broadcast")
				log.Warn().Uint64("seq", ev.Seq).Msg("dropping event for slow subscriber")
			}
		}
	}
}
