// Package playback schedules a non-repeating randomized walk over the video catalog.
package playback

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/justestif/go-shorts-feed/internal/domain"
)

// Scheduler is a finite state machine over a shuffled order of catalog indices and a cursor.
// Within one cycle every index is visited exactly once. Advancing past the end reshuffles.
//
// A Scheduler is not safe for concurrent use; Feed serializes access to its own.
type Scheduler struct {
	order  []int
	cursor int
	cycles int
	rng    *rand.Rand
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSeed makes the shuffle sequence deterministic.
func WithSeed(seed uint64) Option {
	return func(s *Scheduler) {
		s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithRand sets the random source directly.
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.rng = r
		}
	}
}

// New returns a Scheduler over n catalog entries, already shuffled with the cursor at 0.
func New(n int, opts ...Option) *Scheduler {
	s := &Scheduler{}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	s.rebuild(n)
	return s
}

func (s *Scheduler) rebuild(n int) {
	if n < 0 {
		n = 0
	}
	s.order = make([]int, n)
	for i := range s.order {
		s.order[i] = i
	}
	s.shuffle()
}

// shuffle applies a Fisher-Yates permutation and resets the cursor.
func (s *Scheduler) shuffle() {
	s.rng.Shuffle(len(s.order), func(i, j int) {
		s.order[i], s.order[j] = s.order[j], s.order[i]
	})
	s.cursor = 0
}

// Len returns the catalog size the order was built for.
func (s *Scheduler) Len() int { return len(s.order) }

// Current returns the catalog index under the cursor. ok is false for an empty catalog.
func (s *Scheduler) Current() (index int, ok bool) {
	if len(s.order) == 0 {
		return -1, false
	}
	return s.order[s.cursor], true
}

// Next advances the cursor. Moving past the last position reshuffles, starts a new cycle
// and reports reshuffled.
func (s *Scheduler) Next() (index int, reshuffled bool) {
	if len(s.order) == 0 {
		return -1, false
	}
	s.cursor++
	if s.cursor >= len(s.order) {
		s.shuffle()
		s.cycles++
		reshuffled = true
	}
	return s.order[s.cursor], reshuffled
}

// Previous moves the cursor back, wrapping to the last position without reshuffling.
func (s *Scheduler) Previous() int {
	if len(s.order) == 0 {
		return -1
	}
	s.cursor--
	if s.cursor < 0 {
		s.cursor = len(s.order) - 1
	}
	return s.order[s.cursor]
}

// Order returns a copy of the current permutation.
func (s *Scheduler) Order() []int { return slices.Clone(s.order) }

// Cursor returns the current position within Order.
func (s *Scheduler) Cursor() int { return s.cursor }

// Cycles returns how many times the order was exhausted and reshuffled.
func (s *Scheduler) Cycles() int { return s.cycles }

// Resize rebuilds the order for a catalog of n entries. Old indices are meaningless after
// a catalog change, so the order is reshuffled and the cursor returns to 0.
func (s *Scheduler) Resize(n int) {
	s.rebuild(n)
}

// Restore installs a previously saved order. order must be a permutation of [0, Len()) and
// cursor must be within it.
func (s *Scheduler) Restore(order []int, cursor int) error {
	if len(order) != len(s.order) {
		return fmt.Errorf("restore order: %d entries for catalog of %d: %w", len(order), len(s.order), domain.ErrInvalidArgument)
	}
	seen := make([]bool, len(order))
	for _, idx := range order {
		if idx < 0 || idx >= len(order) || seen[idx] {
			return fmt.Errorf("restore order: index %d: %w", idx, domain.ErrInvalidArgument)
		}
		seen[idx] = true
	}
	if len(order) > 0 && (cursor < 0 || cursor >= len(order)) {
		return fmt.Errorf("restore order: cursor %d: %w", cursor, domain.ErrInvalidArgument)
	}
	s.order = slices.Clone(order)
	s.cursor = max(cursor, 0)
	return nil
}
