// Package progress tracks watched videos, the saved playback order and watch cycles.
package progress

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/justestif/go-shorts-feed/internal/domain"
	"github.com/justestif/go-shorts-feed/internal/log"
	"github.com/justestif/go-shorts-feed/internal/metrics"
	"github.com/justestif/go-shorts-feed/internal/store"
)

// DefaultWatchDuration is recorded when a client reports no duration, in seconds.
const DefaultWatchDuration = 5

// Default concurrency for PruneAll.
const DefaultConcurrency = 5

// Tracker records watch progress on user records.
type Tracker struct {
	store       store.Store
	now         func() time.Time
	concurrency int
	logger      zerolog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithConcurrency sets how many users PruneAll processes at once.
func WithConcurrency(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

// NewTracker creates a Tracker over s.
func NewTracker(s store.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:       s,
		now:         func() time.Time { return time.Now().UTC() },
		concurrency: DefaultConcurrency,
		logger:      log.WithComponent("progress"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MarkWatched adds videoID to the watched set and records its progress.
// The first recorded progress is kept; later calls for the same video succeed without changing it.
func (t *Tracker) MarkWatched(ctx context.Context, userID, videoID string, duration int) (domain.WatchState, error) {
	if videoID == "" {
		return domain.WatchState{}, fmt.Errorf("mark watched: video id: %w", domain.ErrInvalidArgument)
	}
	if duration <= 0 {
		duration = DefaultWatchDuration
	}
	now := t.now()
	return t.mutate(ctx, "mark watched", userID, func(r *domain.UserRecord) bool {
		if !r.WatchedVideos.Add(videoID) {
			return false
		}
		if _, ok := r.WatchProgress[videoID]; !ok {
			r.WatchProgress[videoID] = domain.WatchEntry{WatchedAt: now, Duration: duration}
		}
		return true
	})
}

// UpdateLastVideo sets the last video shown.
func (t *Tracker) UpdateLastVideo(ctx context.Context, userID, videoID string) (domain.WatchState, error) {
	if videoID == "" {
		return domain.WatchState{}, fmt.Errorf("update last video: video id: %w", domain.ErrInvalidArgument)
	}
	return t.mutate(ctx, "update last video", userID, func(r *domain.UserRecord) bool {
		if r.LastVideoID == domain.VideoRef(videoID) {
			return false
		}
		r.LastVideoID = domain.VideoRef(videoID)
		return true
	})
}

// SaveSessionOrder replaces the persisted playback order.
func (t *Tracker) SaveSessionOrder(ctx context.Context, userID string, order []string) (domain.WatchState, error) {
	if order == nil {
		order = []string{}
	}
	return t.mutate(ctx, "save session order", userID, func(r *domain.UserRecord) bool {
		if slices.Equal(r.CurrentSessionOrder, order) {
			return false
		}
		r.CurrentSessionOrder = slices.Clone(order)
		return true
	})
}

// ResetProgress clears watch state and starts a new cycle.
func (t *Tracker) ResetProgress(ctx context.Context, userID string) (domain.WatchState, error) {
	ws, err := t.mutate(ctx, "reset progress", userID, func(r *domain.UserRecord) bool {
		resetProgress(r)
		return true
	})
	if err == nil {
		metrics.IncCycleCompleted()
	}
	return ws, err
}

func resetProgress(r *domain.UserRecord) {
	r.WatchedVideos = domain.VideoSet{}
	r.WatchProgress = make(map[string]domain.WatchEntry)
	r.CurrentSessionOrder = []string{}
	r.LastVideoID = ""
	r.TotalCycles++
}

// CompleteCycleIfExhausted resets progress when every catalog id has been watched.
// It reports whether a new cycle started. An empty catalog never completes a cycle.
func (t *Tracker) CompleteCycleIfExhausted(ctx context.Context, userID string, catalogIDs []string) (domain.WatchState, bool, error) {
	completed := false
	ws, err := t.mutate(ctx, "complete cycle", userID, func(r *domain.UserRecord) bool {
		completed = len(catalogIDs) > 0 && allWatched(r.WatchedVideos, catalogIDs)
		if completed {
			resetProgress(r)
		}
		return completed
	})
	if err != nil {
		return domain.WatchState{}, false, err
	}
	if completed {
		metrics.IncCycleCompleted()
		t.logger.Info().Str("user_id", userID).Int("total_cycles", ws.TotalCycles).Msg("watch cycle completed")
	}
	return ws, completed, nil
}

func allWatched(watched domain.VideoSet, catalogIDs []string) bool {
	seen := make(map[string]struct{}, len(watched))
	for _, id := range watched {
		seen[id] = struct{}{}
	}
	for _, id := range catalogIDs {
		if _, ok := seen[id]; !ok {
			return false
		}
	}
	return true
}

// PruneDeleted drops watched ids, order entries and progress for videos no longer in existing.
// Relative order of the saved order is preserved. Applying it twice equals applying it once.
func (t *Tracker) PruneDeleted(ctx context.Context, userID string, existing []string) (domain.WatchState, error) {
	keep := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		keep[id] = struct{}{}
	}
	valid := func(id string) bool {
		_, ok := keep[id]
		return ok
	}

	return t.mutate(ctx, "prune deleted", userID, func(r *domain.UserRecord) bool {
		before := len(r.WatchedVideos) + len(r.CurrentSessionOrder) + len(r.WatchProgress)

		r.WatchedVideos.Retain(valid)
		r.CurrentSessionOrder = slices.DeleteFunc(r.CurrentSessionOrder, func(id string) bool { return !valid(id) })
		for id := range r.WatchProgress {
			if !valid(id) {
				delete(r.WatchProgress, id)
			}
		}

		return len(r.WatchedVideos)+len(r.CurrentSessionOrder)+len(r.WatchProgress) != before
	})
}

// State returns the full watch state including the saved order and progress map.
func (t *Tracker) State(ctx context.Context, userID string) (domain.WatchState, error) {
	rec, err := t.store.Get(ctx, userID)
	if err != nil {
		return domain.WatchState{}, fmt.Errorf("reading watch state: %w", err)
	}
	return domain.WatchStateOf(rec, true), nil
}

// UserTracker binds a Tracker to one user.
type UserTracker struct {
	t      *Tracker
	userID string
}

// ForUser returns a view of t scoped to userID.
func (t *Tracker) ForUser(userID string) *UserTracker {
	return &UserTracker{t: t, userID: userID}
}

// MarkWatched marks videoID watched for the bound user.
func (u *UserTracker) MarkWatched(ctx context.Context, videoID string, duration int) (domain.WatchState, error) {
	return u.t.MarkWatched(ctx, u.userID, videoID, duration)
}

// UpdateLastVideo records the bound user's last video.
func (u *UserTracker) UpdateLastVideo(ctx context.Context, videoID string) (domain.WatchState, error) {
	return u.t.UpdateLastVideo(ctx, u.userID, videoID)
}

// SaveSessionOrder persists the bound user's playback order.
func (u *UserTracker) SaveSessionOrder(ctx context.Context, order []string) (domain.WatchState, error) {
	return u.t.SaveSessionOrder(ctx, u.userID, order)
}

// mutate applies fn atomically. When fn reports no change nothing is written
// and the current state is returned.
func (t *Tracker) mutate(ctx context.Context, op, userID string, fn func(*domain.UserRecord) bool) (domain.WatchState, error) {
	var unchanged domain.WatchState
	rec, err := t.store.Mutate(ctx, userID, func(r *domain.UserRecord) error {
		if !fn(r) {
			unchanged = domain.WatchStateOf(r, false)
			return store.ErrNoChange
		}
		return nil
	})
	if errors.Is(err, store.ErrNoChange) {
		return unchanged, nil
	}
	if err != nil {
		return domain.WatchState{}, fmt.Errorf("%s: %w", op, err)
	}
	return domain.WatchStateOf(rec, false), nil
}
