package changefeed

import (
	"context"
	"sync"
	"time"
)

// Event announces a committed ledger mutation. Subscribers re-read whatever
// they project; the event carries no document bodies.
type Event struct {
	Op          string    `json:"op"`
	ShiftIDs    []string  `json:"shift_ids"`
	Collections []string  `json:"collections"`
	At          time.Time `json:"at"`
}

func (e Event) TouchesShift(shiftID string) bool {
	for _, id := range e.ShiftIDs {
		if id == shiftID {
			return true
		}
	}
	return false
}

type Feed interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns a channel that is closed once ctx is done.
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// Local fans events out to in-process subscribers. A subscriber whose buffer
// is full misses the event.
type Local struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	buffer int
}

func NewLocal(buffer int) *Local {
	if buffer < 1 {
		buffer = 64
	}
	return &Local{subs: make(map[int]chan Event), buffer: buffer}
}

func (l *Local) Publish(_ context.Context, ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (l *Local) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, l.buffer)
	l.mu.Lock()
	id := l.next
	l.next++
	l.subs[id] = ch
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, id)
		close(ch)
		l.mu.Unlock()
	}()
	return ch, nil
}
