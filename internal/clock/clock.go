package clock

import (
	"sync"
	"time"
)

// Clock is the authoritative server-time source. Client-supplied timestamps
// are never used for shift boundaries.
type Clock interface {
	Now() time.Time
}

type System struct{}

func (System) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a test clock. Each call to Now advances it by Step.
type Manual struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

func NewManual(start time.Time, step time.Duration) *Manual {
	return &Manual{now: start.UTC(), Step: step}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now
	m.now = m.now.Add(m.Step)
	return now
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
