package backoff

import "time"

// DefaultSchedule is the retry delay schedule applied to failed deliveries.
var DefaultSchedule = []time.Duration{
	10 * time.Second,
	30 * time.Second,
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// Policy maps an attempt number to the delay before the next retry.
type Policy struct {
	schedule []time.Duration
}

// New returns a Policy over the given schedule. An empty schedule falls back
// to DefaultSchedule.
func New(schedule []time.Duration) Policy {
	if len(schedule) == 0 {
		schedule = DefaultSchedule
	}
	return Policy{schedule: schedule}
}

// Delay returns the retry delay for a 1-based attempt number. Attempts past
// the end of the schedule keep getting the last entry. Pure: safe to
// recompute after a crash or duplicate invocation.
func (p Policy) Delay(attemptNumber int) time.Duration {
	idx := attemptNumber - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.schedule) {
		idx = len(p.schedule) - 1
	}
	return p.schedule[idx]
}
