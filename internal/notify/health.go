package notify

import (
	"sync"
	"time"
)

// ChannelHealth is a point-in-time view of one channel's breaker state.
type ChannelHealth struct {
	ConsecutiveFailures int
	OpenUntil           time.Time
}

type channelState struct {
	mu sync.Mutex
	ChannelHealth
}

// HealthRegistry tracks consecutive failures per channel and trips a circuit
// breaker past the threshold. Process-wide: one registry is shared by all
// notification jobs, and state resets on process start.
type HealthRegistry struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	channels map[Channel]*channelState
}

// NewHealthRegistry creates a registry. threshold is the consecutive-failure
// count that opens a channel's circuit; cooldown is how long it stays open.
func NewHealthRegistry(threshold int, cooldown time.Duration) *HealthRegistry {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &HealthRegistry{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		channels:  make(map[Channel]*channelState),
	}
}

// WithClock overrides the time source for tests.
func (r *HealthRegistry) WithClock(now func() time.Time) *HealthRegistry {
	if now != nil {
		r.now = now
	}
	return r
}

func (r *HealthRegistry) state(ch Channel) *channelState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.channels[ch]
	if !ok {
		s = &channelState{}
		r.channels[ch] = s
	}
	return s
}

// Open reports whether the channel's circuit is currently open.
func (r *HealthRegistry) Open(ch Channel) bool {
	s := r.state(ch)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.OpenUntil.After(r.now())
}

// RecordFailure increments the failure streak and reports whether this
// failure tripped the breaker.
func (r *HealthRegistry) RecordFailure(ch Channel) bool {
	s := r.state(ch)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConsecutiveFailures++
	if s.ConsecutiveFailures >= r.threshold && !s.OpenUntil.After(r.now()) {
		s.OpenUntil = r.now().Add(r.cooldown)
		return true
	}
	return false
}

// RecordSuccess resets the channel's failure streak and closes its circuit.
func (r *HealthRegistry) RecordSuccess(ch Channel) {
	s := r.state(ch)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConsecutiveFailures = 0
	s.OpenUntil = time.Time{}
}

// Snapshot returns a copy of the channel's current health.
func (r *HealthRegistry) Snapshot(ch Channel) ChannelHealth {
	s := r.state(ch)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ChannelHealth
}
