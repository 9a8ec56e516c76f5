package playback

import (
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/justestif/go-shorts-feed/internal/domain"
)

func TestScheduler_NoRepeatWithinCycle(t *testing.T) {
	for _, n := range []int{1, 2, 7, 50} {
		s := New(n, WithSeed(uint64(n)))

		seen := make(map[int]bool, n)
		idx, _ := s.Current()
		seen[idx] = true
		for i := 1; i < n; i++ {
			idx, reshuffled := s.Next()
			if reshuffled {
				t.Fatalf("n=%d: reshuffled after %d steps", n, i)
			}
			if seen[idx] {
				t.Fatalf("n=%d: index %d repeated within cycle", n, idx)
			}
			seen[idx] = true
		}
		if len(seen) != n {
			t.Errorf("n=%d: visited %d indices", n, len(seen))
		}

		if _, reshuffled := s.Next(); !reshuffled {
			t.Errorf("n=%d: advancing past the end did not reshuffle", n)
		}
		if s.Cursor() != 0 || s.Cycles() != 1 {
			t.Errorf("n=%d: after reshuffle cursor=%d cycles=%d, want 0 and 1", n, s.Cursor(), s.Cycles())
		}
	}
}

func TestScheduler_OrderIsPermutation(t *testing.T) {
	s := New(20, WithSeed(42))
	order := s.Order()
	sorted := slices.Clone(order)
	slices.Sort(sorted)
	for i, v := range sorted {
		if v != i {
			t.Fatalf("Order() = %v is not a permutation", order)
		}
	}
}

func TestScheduler_SeedIsDeterministic(t *testing.T) {
	a := New(30, WithSeed(7))
	b := New(30, WithSeed(7))
	if diff := cmp.Diff(a.Order(), b.Order()); diff != "" {
		t.Errorf("same seed, different order (-a +b):\n%s", diff)
	}
}

func TestScheduler_PreviousWraps(t *testing.T) {
	s := New(4, WithSeed(1))
	order := s.Order()

	if got := s.Previous(); got != order[3] {
		t.Errorf("Previous() = %d, want last index %d", got, order[3])
	}
	if s.Cursor() != 3 {
		t.Errorf("Cursor() = %d, want 3", s.Cursor())
	}
	if diff := cmp.Diff(order, s.Order()); diff != "" {
		t.Errorf("backward wrap reshuffled (-before +after):\n%s", diff)
	}
	if s.Cycles() != 0 {
		t.Errorf("Cycles() = %d, want 0", s.Cycles())
	}
}

func TestScheduler_Empty(t *testing.T) {
	s := New(0)
	if _, ok := s.Current(); ok {
		t.Error("Current() ok on empty catalog")
	}
	if idx, reshuffled := s.Next(); idx != -1 || reshuffled {
		t.Errorf("Next() = %d, %v on empty catalog", idx, reshuffled)
	}
	if idx := s.Previous(); idx != -1 {
		t.Errorf("Previous() = %d on empty catalog", idx)
	}
}

func TestScheduler_Resize(t *testing.T) {
	s := New(5, WithSeed(3))
	s.Next()
	s.Next()

	s.Resize(3)
	if s.Len() != 3 || s.Cursor() != 0 {
		t.Errorf("after Resize(3): len=%d cursor=%d", s.Len(), s.Cursor())
	}
	for _, idx := range s.Order() {
		if idx >= 3 {
			t.Errorf("stale index %d after shrink", idx)
		}
	}
}

func TestScheduler_Restore(t *testing.T) {
	tests := []struct {
		name    string
		order   []int
		cursor  int
		wantErr bool
	}{
		{name: "valid", order: []int{2, 0, 1}, cursor: 1},
		{name: "wrong length", order: []int{0, 1}, cursor: 0, wantErr: true},
		{name: "duplicate", order: []int{0, 0, 1}, cursor: 0, wantErr: true},
		{name: "out of range", order: []int{0, 1, 3}, cursor: 0, wantErr: true},
		{name: "cursor out of range", order: []int{0, 1, 2}, cursor: 3, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(3, WithSeed(9))
			before := s.Order()
			err := s.Restore(tt.order, tt.cursor)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidArgument) {
					t.Fatalf("Restore() error = %v, want ErrInvalidArgument", err)
				}
				if diff := cmp.Diff(before, s.Order()); diff != "" {
					t.Errorf("failed Restore() changed order (-before +after):\n%s", diff)
				}
				return
			}
			if err != nil {
				t.Fatalf("Restore() error = %v", err)
			}
			if got, _ := s.Current(); got != tt.order[tt.cursor] {
				t.Errorf("Current() = %d, want %d", got, tt.order[tt.cursor])
			}
		})
	}
}
