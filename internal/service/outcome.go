package service

import (
	"math/rand"
	"sync"
)

// OutcomeGenerator decides whether a simulated external effect succeeds.
// Payment capture and inventory fault injection both take one, so the
// failure behavior stays out of the business logic and under test control.
type OutcomeGenerator interface {
	Succeeds() bool
}

// AlwaysSucceed never fails
type AlwaysSucceed struct{}

func (AlwaysSucceed) Succeeds() bool { return true }

// Probabilistic fails a configured percentage of the time
type Probabilistic struct {
	mu          sync.Mutex
	failureRate int
	rng         *rand.Rand
}

// NewProbabilistic creates a generator failing failureRate percent of calls.
// Rates outside 0-100 are clamped.
func NewProbabilistic(failureRate int, rng *rand.Rand) *Probabilistic {
	if failureRate < 0 {
		failureRate = 0
	}
	if failureRate > 100 {
		failureRate = 100
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Probabilistic{failureRate: failureRate, rng: rng}
}

func (p *Probabilistic) Succeeds() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Intn(100) >= p.failureRate
}

// Scripted replays a fixed outcome sequence, then keeps succeeding.
// Test-oriented.
type Scripted struct {
	mu       sync.Mutex
	outcomes []bool
}

// NewScripted creates a generator returning the given outcomes in order
func NewScripted(outcomes ...bool) *Scripted {
	return &Scripted{outcomes: outcomes}
}

func (s *Scripted) Succeeds() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outcomes) == 0 {
		return true
	}
	next := s.outcomes[0]
	s.outcomes = s.outcomes[1:]
	return next
}
