package endpoint

import "time"

// State is a point-in-time snapshot of one endpoint's health and usage.
type State struct {
	ID                  int
	BaseURL             string
	Healthy             bool
	ConsecutiveFailures int
	LastFailureAt       time.Time
	RequestsServed      int64
}

// SelectionStrategy picks the next endpoint to use. Implementations receive a
// snapshot of all endpoint states plus the pool's rotation cursor and return
// the chosen index. Reactivate reports that the pick is an unhealthy endpoint
// whose cooldown has elapsed and that the pool should provisionally mark it
// healthy again (half-open probe).
type SelectionStrategy interface {
	Select(now time.Time, states []State, cursor int) (index int, reactivate bool)
}

// HealthAwareRoundRobin rotates over healthy endpoints, reactivates cooled-down
// unhealthy ones, and degrades to the least-failed endpoint when nothing else
// qualifies.
type HealthAwareRoundRobin struct {
	// Cooldown is how long an endpoint stays sidelined after being marked
	// unhealthy before it is eligible for a half-open probe.
	Cooldown time.Duration
}

// Select implements SelectionStrategy.
func (s HealthAwareRoundRobin) Select(now time.Time, states []State, cursor int) (int, bool) {
	n := len(states)

	for i := 0; i < n; i++ {
		idx := (cursor + i) % n
		if states[idx].Healthy {
			return idx, false
		}
	}

	// Full rotation of unhealthy endpoints: probe anything whose cooldown
	// has elapsed.
	for i := 0; i < n; i++ {
		idx := (cursor + i) % n
		if now.Sub(states[idx].LastFailureAt) >= s.Cooldown {
			return idx, true
		}
	}

	// Best-effort degrade: least consecutive failures wins.
	best := 0
	for i := 1; i < n; i++ {
		if states[i].ConsecutiveFailures < states[best].ConsecutiveFailures {
			best = i
		}
	}
	return best, false
}
