package playback

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/justestif/go-shorts-feed/internal/catalog"
	"github.com/justestif/go-shorts-feed/internal/domain"
)

// Recorder persists what one user's feed shows. progress.UserTracker and client.Client satisfy it.
type Recorder interface {
	MarkWatched(ctx context.Context, videoID string, duration int) (domain.WatchState, error)
	UpdateLastVideo(ctx context.Context, videoID string) (domain.WatchState, error)
	SaveSessionOrder(ctx context.Context, order []string) (domain.WatchState, error)
}

// Feed binds a Scheduler to catalog entries and reports movement to a Recorder.
// Local navigation always succeeds; a Recorder error is returned alongside the new entry.
type Feed struct {
	mu      sync.Mutex
	entries []catalog.Entry
	sched   *Scheduler
	rec     Recorder
}

// NewFeed creates a feed over entries. It does not persist the initial shuffle;
// call Resume to adopt a saved order or persist a new one.
func NewFeed(entries []catalog.Entry, rec Recorder, opts ...Option) *Feed {
	return &Feed{
		entries: slices.Clone(entries),
		sched:   New(len(entries), opts...),
		rec:     rec,
	}
}

// Current returns the entry under the cursor.
func (f *Feed) Current() (catalog.Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentLocked()
}

func (f *Feed) currentLocked() (catalog.Entry, bool) {
	idx, ok := f.sched.Current()
	if !ok {
		return catalog.Entry{}, false
	}
	return f.entries[idx], true
}

// Next advances to the next entry. A reshuffle persists the new order before the last video is recorded.
func (f *Feed) Next(ctx context.Context) (catalog.Entry, error) {
	f.mu.Lock()
	idx, reshuffled := f.sched.Next()
	if idx < 0 {
		f.mu.Unlock()
		return catalog.Entry{}, nil
	}
	entry := f.entries[idx]
	var order []string
	if reshuffled {
		order = f.orderLocked()
	}
	f.mu.Unlock()

	if order != nil {
		if _, err := f.rec.SaveSessionOrder(ctx, order); err != nil {
			return entry, fmt.Errorf("saving order: %w", err)
		}
	}
	return entry, f.recordLast(ctx, entry)
}

// Previous moves back one entry, wrapping without reshuffling.
func (f *Feed) Previous(ctx context.Context) (catalog.Entry, error) {
	f.mu.Lock()
	idx := f.sched.Previous()
	if idx < 0 {
		f.mu.Unlock()
		return catalog.Entry{}, nil
	}
	entry := f.entries[idx]
	f.mu.Unlock()

	return entry, f.recordLast(ctx, entry)
}

// Watched marks the current entry watched.
func (f *Feed) Watched(ctx context.Context, duration int) (domain.WatchState, error) {
	entry, ok := f.Current()
	if !ok {
		return domain.WatchState{}, fmt.Errorf("mark watched: empty catalog: %w", domain.ErrInvalidArgument)
	}
	return f.rec.MarkWatched(ctx, entry.Filename, duration)
}

func (f *Feed) recordLast(ctx context.Context, entry catalog.Entry) error {
	if _, err := f.rec.UpdateLastVideo(ctx, entry.Filename); err != nil {
		return fmt.Errorf("recording last video: %w", err)
	}
	return nil
}

// Order returns the video ids in play order.
func (f *Feed) Order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orderLocked()
}

func (f *Feed) orderLocked() []string {
	order := f.sched.Order()
	ids := make([]string, len(order))
	for i, idx := range order {
		ids[i] = f.entries[idx].Filename
	}
	return ids
}

// Cycles returns how many full passes the scheduler has completed.
func (f *Feed) Cycles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sched.Cycles()
}

// Resume restores a persisted order and positions the cursor on lastVideoID.
// Saved ids no longer in the catalog are dropped and catalog entries missing from the saved order
// are appended in shuffled order. The resulting order is persisted.
func (f *Feed) Resume(ctx context.Context, saved []string, lastVideoID string) error {
	f.mu.Lock()
	pos := make(map[string]int, len(f.entries))
	for i, e := range f.entries {
		pos[e.Filename] = i
	}

	order := make([]int, 0, len(f.entries))
	used := make([]bool, len(f.entries))
	for _, id := range saved {
		if i, ok := pos[id]; ok && !used[i] {
			order = append(order, i)
			used[i] = true
		}
	}
	var fresh []int
	for i := range f.entries {
		if !used[i] {
			fresh = append(fresh, i)
		}
	}
	f.sched.rng.Shuffle(len(fresh), func(i, j int) { fresh[i], fresh[j] = fresh[j], fresh[i] })
	order = append(order, fresh...)

	cursor := 0
	if i, ok := pos[lastVideoID]; ok {
		cursor = slices.Index(order, i)
	}
	if err := f.sched.Restore(order, cursor); err != nil {
		f.mu.Unlock()
		return err
	}
	ids := f.orderLocked()
	f.mu.Unlock()

	if _, err := f.rec.SaveSessionOrder(ctx, ids); err != nil {
		return fmt.Errorf("saving order: %w", err)
	}
	return nil
}

// SetCatalog replaces the entries. The order is rebuilt and reshuffled with the cursor at 0,
// then persisted.
func (f *Feed) SetCatalog(ctx context.Context, entries []catalog.Entry) error {
	f.mu.Lock()
	f.entries = slices.Clone(entries)
	f.sched.Resize(len(entries))
	ids := f.orderLocked()
	f.mu.Unlock()

	if _, err := f.rec.SaveSessionOrder(ctx, ids); err != nil {
		return fmt.Errorf("saving order: %w", err)
	}
	return nil
}
