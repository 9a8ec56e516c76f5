// Package reconcile keeps a client-side shadow of a user's reaction sets that reflects edits
// immediately and converges with the server.
//
// Every edit runs in three phases: apply locally, send asynchronously, reconcile on completion.
// The shadow is never edited in place. It is recomputed as the last accepted server snapshot plus a
// replay of edits still in flight, so a rollback is just dropping the failed edit and recomputing.
package reconcile

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/justestif/go-shorts-feed/internal/domain"
	"github.com/justestif/go-shorts-feed/internal/log"
	"github.com/justestif/go-shorts-feed/internal/reactions"
)

// DefaultRefreshInterval is how often Run fetches the authoritative sets.
const DefaultRefreshInterval = 10 * time.Second

// Remote is the authoritative side of reaction edits for one user.
type Remote interface {
	Do(ctx context.Context, action domain.Action, videoID string) (domain.ReactionResult, error)
	Reactions(ctx context.Context) (domain.ReactionResult, error)
}

// View is an immutable snapshot of the shadow.
type View struct {
	Sets     domain.ReactionSets
	Version  uint64 // bumped on every change to the shadow
	Revision int64  // server revision of the snapshot the shadow is built on
	Pending  int    // edits not yet resolved
}

// Failure describes an edit the server did not accept. The edit has already been rolled back.
type Failure struct {
	Action  domain.Action
	VideoID string
	Err     error
}

type op struct {
	id     uint64
	action domain.Action
	video  string
}

// Layer owns the shadow for one user.
type Layer struct {
	remote    Remote
	onFailure func(Failure)
	logger    zerolog.Logger

	mu      sync.Mutex
	base    domain.ReactionSets
	baseRev int64
	pending []op
	nextID  uint64
	epoch   uint64 // bumped whenever the base or the pending edits change
	view    View

	subMu     sync.Mutex // serializes observer delivery
	subs      map[uint64]func(View)
	nextSub   uint64
	delivered uint64

	wg sync.WaitGroup
}

// Option configures a Layer.
type Option func(*Layer)

// WithFailureHandler is called once per rolled back edit.
func WithFailureHandler(fn func(Failure)) Option {
	return func(l *Layer) {
		l.onFailure = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Layer) {
		l.logger = logger
	}
}

// New creates a Layer with an empty shadow at revision 0. Call Refresh to load the server state.
func New(remote Remote, opts ...Option) *Layer {
	l := &Layer{
		remote: remote,
		logger: log.WithComponent("reconcile"),
		subs:   make(map[uint64]func(View)),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.base = domain.ReactionSets{Favorites: domain.VideoSet{}, Likes: domain.VideoSet{}, Dislikes: domain.VideoSet{}}
	l.view = View{Sets: l.base.Clone()}
	return l
}

// View returns the current shadow.
func (l *Layer) View() View {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneView(l.view)
}

// Version returns the current shadow version.
func (l *Layer) Version() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.view.Version
}

// Subscribe registers fn to receive every new View in version order. fn runs on the goroutine
// that caused the change and must not call back into the Layer. The returned func unsubscribes.
func (l *Layer) Subscribe(fn func(View)) (cancel func()) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	return func() {
		l.subMu.Lock()
		defer l.subMu.Unlock()
		delete(l.subs, id)
	}
}

// Apply records an absolute edit locally, notifies observers and sends it to the remote.
// The returned channel yields nil once the server accepted the edit, or the error after it
// was rolled back, and is then closed. Toggle actions must be resolved with the Toggle helpers.
func (l *Layer) Apply(ctx context.Context, action domain.Action, videoID string) <-chan error {
	done := make(chan error, 1)
	if videoID == "" || action == domain.ActionToggleFavorite {
		done <- fmt.Errorf("%s %q: %w", action, videoID, domain.ErrInvalidArgument)
		close(done)
		return done
	}
	if _, err := new(domain.ReactionSets).Apply(action, videoID); err != nil {
		done <- err
		close(done)
		return done
	}

	l.mu.Lock()
	o := op{id: l.nextID, action: action, video: videoID}
	l.nextID++
	l.pending = append(l.pending, o)
	l.epoch++
	v := l.recomputeLocked()
	l.mu.Unlock()
	l.publish(v)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		res, err := l.remote.Do(ctx, action, videoID)
		done <- l.resolve(o, res, err)
		close(done)
	}()
	return done
}

// ToggleLike likes videoID, or clears the like if the shadow already has it.
func (l *Layer) ToggleLike(ctx context.Context, videoID string) <-chan error {
	action := domain.ActionLike
	if l.View().Sets.Likes.Has(videoID) {
		action = domain.ActionUnlike
	}
	return l.Apply(ctx, action, videoID)
}

// ToggleDislike dislikes videoID, or clears the dislike if the shadow already has it.
func (l *Layer) ToggleDislike(ctx context.Context, videoID string) <-chan error {
	action := domain.ActionDislike
	if l.View().Sets.Dislikes.Has(videoID) {
		action = domain.ActionUndislike
	}
	return l.Apply(ctx, action, videoID)
}

// ToggleFavorite flips favorite membership as seen in the shadow. The edit is sent as an absolute
// set or unset so a resent or reordered call cannot flip it back.
func (l *Layer) ToggleFavorite(ctx context.Context, videoID string) <-chan error {
	action := domain.ActionFavorite
	if l.View().Sets.Favorites.Has(videoID) {
		action = domain.ActionUnfavorite
	}
	return l.Apply(ctx, action, videoID)
}

func (l *Layer) resolve(o op, res domain.ReactionResult, callErr error) error {
	l.mu.Lock()
	l.pending = slices.DeleteFunc(l.pending, func(p op) bool { return p.id == o.id })
	l.epoch++
	if callErr == nil {
		l.acceptLocked(res)
	}
	v := l.recomputeLocked()
	l.mu.Unlock()
	l.publish(v)

	if callErr == nil {
		return nil
	}

	err := fmt.Errorf("%s %s: %w", o.action, o.video, callErr)
	l.logger.Warn().Err(callErr).Str("action", string(o.action)).Str("video_id", o.video).Msg("edit rolled back")
	if l.onFailure != nil {
		l.onFailure(Failure{Action: o.action, VideoID: o.video, Err: err})
	}
	return err
}

// Refresh fetches the authoritative sets. A snapshot newer than the current base replaces it and
// in-flight edits are replayed on top, so they are never clobbered by older server data.
//
// A lower revision is normally a stale read and is ignored. When no edit was pending and nothing
// changed locally while it was fetched, it means the server's revision counter restarted, and the
// snapshot is adopted.
func (l *Layer) Refresh(ctx context.Context) error {
	l.mu.Lock()
	epoch := l.epoch
	l.mu.Unlock()

	res, err := l.remote.Reactions(ctx)
	if err != nil {
		return fmt.Errorf("refreshing reactions: %w", err)
	}

	l.mu.Lock()
	accepted := l.acceptLocked(res)
	if !accepted && res.Revision < l.baseRev && len(l.pending) == 0 && l.epoch == epoch {
		l.logger.Info().Int64("revision", res.Revision).Int64("previous", l.baseRev).Msg("server revision restarted")
		l.setBaseLocked(res)
		accepted = true
	}
	if !accepted {
		l.mu.Unlock()
		return nil
	}
	v := l.recomputeLocked()
	l.mu.Unlock()
	l.publish(v)
	return nil
}

// Run refreshes every interval until ctx is done. Refresh failures are logged and retried on the
// next tick.
func (l *Layer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Refresh(ctx); err != nil && ctx.Err() == nil {
				l.logger.Warn().Err(err).Msg("periodic refresh failed")
			}
		}
	}
}

// Wait blocks until every in-flight edit has resolved.
func (l *Layer) Wait() {
	l.wg.Wait()
}

// acceptLocked installs res as the base when it is newer.
func (l *Layer) acceptLocked(res domain.ReactionResult) bool {
	if res.Revision <= l.baseRev {
		return false
	}
	l.setBaseLocked(res)
	return true
}

func (l *Layer) setBaseLocked(res domain.ReactionResult) {
	l.base = res.Sets.Clone()
	l.baseRev = res.Revision
	l.epoch++
}

// recomputeLocked rebuilds the view from the base and pending edits and bumps the version.
func (l *Layer) recomputeLocked() View {
	sets := l.base.Clone()
	for _, p := range l.pending {
		// Only validated absolute actions are queued.
		_, _ = sets.Apply(p.action, p.video)
	}
	l.view = View{
		Sets:     sets,
		Version:  l.view.Version + 1,
		Revision: l.baseRev,
		Pending:  len(l.pending),
	}
	return cloneView(l.view)
}

func (l *Layer) publish(v View) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	if v.Version <= l.delivered {
		return
	}
	l.delivered = v.Version
	for _, fn := range l.subs {
		fn(cloneView(v))
	}
}

func cloneView(v View) View {
	v.Sets = v.Sets.Clone()
	return v
}

// InProcess adapts a Synchronizer to Remote for one user.
func InProcess(s *reactions.Synchronizer, userID string) Remote {
	return inProcess{sync: s, userID: userID}
}

type inProcess struct {
	sync   *reactions.Synchronizer
	userID string
}

func (p inProcess) Do(ctx context.Context, action domain.Action, videoID string) (domain.ReactionResult, error) {
	return p.sync.Do(ctx, p.userID, action, videoID)
}

func (p inProcess) Reactions(ctx context.Context) (domain.ReactionResult, error) {
	return p.sync.Reactions(ctx, p.userID)
}
