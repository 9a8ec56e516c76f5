package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"github.com/justestif/go-shorts-feed/internal/domain"
	"github.com/justestif/go-shorts-feed/internal/reactions"
	"github.com/justestif/go-shorts-feed/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// gatedRemote applies edits to a real synchronizer, but each call waits until the test releases it.
type gatedRemote struct {
	inner Remote

	mu    sync.Mutex
	gates map[string]chan error // keyed by action+video
}

func newGatedRemote(t *testing.T) *gatedRemote {
	t.Helper()
	s := store.NewMemoryStore()
	if _, err := s.Upsert(context.Background(), "u", func(*domain.UserRecord) error { return nil }); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	return &gatedRemote{
		inner: InProcess(reactions.NewSynchronizer(s), "u"),
		gates: make(map[string]chan error),
	}
}

func (g *gatedRemote) gate(action domain.Action, video string) chan error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := string(action) + "/" + video
	ch, ok := g.gates[key]
	if !ok {
		ch = make(chan error, 1)
		g.gates[key] = ch
	}
	return ch
}

// release lets the pending call for action and video finish with err (nil applies it).
func (g *gatedRemote) release(action domain.Action, video string, err error) {
	g.gate(action, video) <- err
}

func (g *gatedRemote) Do(ctx context.Context, action domain.Action, video string) (domain.ReactionResult, error) {
	if err := <-g.gate(action, video); err != nil {
		return domain.ReactionResult{}, err
	}
	return g.inner.Do(ctx, action, video)
}

func (g *gatedRemote) Reactions(ctx context.Context) (domain.ReactionResult, error) {
	return g.inner.Reactions(ctx)
}

func newTestLayer(remote Remote, opts ...Option) *Layer {
	return New(remote, append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
}

func TestApply_LocalFirstThenAccepted(t *testing.T) {
	remote := newGatedRemote(t)
	l := newTestLayer(remote)
	ctx := context.Background()

	done := l.Apply(ctx, domain.ActionLike, "v1")
	v := l.View()
	if !v.Sets.Likes.Has("v1") || v.Pending != 1 {
		t.Fatalf("optimistic view = %+v, want v1 liked with 1 pending", v)
	}

	remote.release(domain.ActionLike, "v1", nil)
	if err := <-done; err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	v = l.View()
	if !v.Sets.Likes.Has("v1") || v.Pending != 0 || v.Revision != 2 {
		t.Errorf("settled view = %+v, want v1 liked at revision 2", v)
	}
}

func TestApply_FailureRollsBack(t *testing.T) {
	remote := newGatedRemote(t)
	var failures []Failure
	var mu sync.Mutex
	l := newTestLayer(remote, WithFailureHandler(func(f Failure) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, f)
	}))
	ctx := context.Background()

	before := l.View()
	done := l.ToggleFavorite(ctx, "v1")
	if !l.View().Sets.Favorites.Has("v1") {
		t.Fatal("favorite not applied locally")
	}

	remote.release(domain.ActionFavorite, "v1", domain.ErrNetworkFailure)
	err := <-done
	if !errors.Is(err, domain.ErrNetworkFailure) {
		t.Fatalf("Apply() error = %v, want ErrNetworkFailure", err)
	}

	after := l.View()
	if diff := cmp.Diff(before.Sets, after.Sets); diff != "" {
		t.Errorf("rollback did not restore sets (-before +after):\n%s", diff)
	}
	if after.Version <= before.Version {
		t.Errorf("Version = %d, want > %d", after.Version, before.Version)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(failures) != 1 || failures[0].VideoID != "v1" || failures[0].Action != domain.ActionFavorite {
		t.Errorf("failures = %+v", failures)
	}
}

// A failed older edit must not undo a newer edit to a different video.
func TestApply_FailureKeepsLaterEdits(t *testing.T) {
	remote := newGatedRemote(t)
	l := newTestLayer(remote)
	ctx := context.Background()

	first := l.Apply(ctx, domain.ActionLike, "v1")
	second := l.Apply(ctx, domain.ActionDislike, "v2")

	remote.release(domain.ActionLike, "v1", errors.New("boom"))
	if err := <-first; err == nil {
		t.Fatal("expected failure")
	}
	v := l.View()
	if v.Sets.Likes.Has("v1") || !v.Sets.Dislikes.Has("v2") {
		t.Errorf("view after partial failure = %+v", v.Sets)
	}

	remote.release(domain.ActionDislike, "v2", nil)
	if err := <-second; err != nil {
		t.Fatalf("second Apply() error = %v", err)
	}
}

// Calls completing out of order leave the shadow equal to the server.
func TestApply_OutOfOrderCompletionConverges(t *testing.T) {
	remote := newGatedRemote(t)
	l := newTestLayer(remote)
	ctx := context.Background()

	like := l.ToggleLike(ctx, "v")
	dislike := l.ToggleDislike(ctx, "v")
	if v := l.View(); v.Sets.Likes.Has("v") || !v.Sets.Dislikes.Has("v") {
		t.Fatalf("local view = %+v, want v disliked", v.Sets)
	}

	// The server sees the dislike first, then the like.
	remote.release(domain.ActionDislike, "v", nil)
	if err := <-dislike; err != nil {
		t.Fatalf("dislike error = %v", err)
	}
	remote.release(domain.ActionLike, "v", nil)
	if err := <-like; err != nil {
		t.Fatalf("like error = %v", err)
	}

	server, err := remote.Reactions(ctx)
	if err != nil {
		t.Fatalf("Reactions() error = %v", err)
	}
	if diff := cmp.Diff(server.Sets, l.View().Sets); diff != "" {
		t.Errorf("shadow diverged from server (-server +shadow):\n%s", diff)
	}
}

func TestRefresh_KeepsInFlightEdits(t *testing.T) {
	remote := newGatedRemote(t)
	l := newTestLayer(remote)
	ctx := context.Background()

	// Another device favorites v2 directly on the server.
	if _, err := remote.inner.Do(ctx, domain.ActionFavorite, "v2"); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	done := l.Apply(ctx, domain.ActionLike, "v1")
	if err := l.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	v := l.View()
	if !v.Sets.Favorites.Has("v2") || !v.Sets.Likes.Has("v1") {
		t.Errorf("view after refresh = %+v, want server favorite and pending like", v.Sets)
	}

	remote.release(domain.ActionLike, "v1", nil)
	if err := <-done; err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
}

// staleRemote returns a fixed snapshot on refresh. during runs while the snapshot is in flight.
// Edits fail unless release is set, in which case they block until it is closed.
type staleRemote struct {
	snap    domain.ReactionResult
	during  func()
	release chan struct{}
}

func (s staleRemote) Do(ctx context.Context, _ domain.Action, _ string) (domain.ReactionResult, error) {
	if s.release == nil {
		return domain.ReactionResult{}, errors.New("rejected")
	}
	<-s.release
	return domain.ReactionResult{}, errors.New("rejected")
}

func (s staleRemote) Reactions(context.Context) (domain.ReactionResult, error) {
	if s.during != nil {
		s.during()
	}
	return s.snap, nil
}

func snapshot(rev int64, likes ...string) domain.ReactionResult {
	return domain.ReactionResult{
		Sets:     domain.ReactionSets{Likes: domain.VideoSet(likes), Dislikes: domain.VideoSet{}, Favorites: domain.VideoSet{}},
		Revision: rev,
	}
}

func TestRefresh_OlderRevision(t *testing.T) {
	ctx := context.Background()

	t.Run("stale read during local activity is ignored", func(t *testing.T) {
		l := newTestLayer(staleRemote{snap: snapshot(5, "new")})
		if err := l.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}

		l.remote = staleRemote{snap: snapshot(3, "old"), during: func() {
			// An edit resolves while the snapshot is in flight.
			<-l.Apply(ctx, domain.ActionDislike, "x")
		}}
		if err := l.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		if v := l.View(); !v.Sets.Likes.Has("new") || v.Sets.Likes.Has("old") || v.Revision != 5 {
			t.Errorf("stale snapshot applied: %+v", v)
		}
	})

	t.Run("restarted server is adopted when idle", func(t *testing.T) {
		l := newTestLayer(staleRemote{snap: snapshot(5, "before")})
		if err := l.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}

		l.remote = staleRemote{snap: snapshot(2, "after")}
		if err := l.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		v := l.View()
		if diff := cmp.Diff(domain.VideoSet{"after"}, v.Sets.Likes); diff != "" || v.Revision != 2 {
			t.Errorf("View() = %+v, want restarted snapshot at revision 2 (likes diff %s)", v, diff)
		}

		// Convergence resumes from the new counter.
		l.remote = staleRemote{snap: snapshot(3, "after", "next")}
		if err := l.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		if v := l.View(); !v.Sets.Likes.Has("next") || v.Revision != 3 {
			t.Errorf("View() after restart = %+v", v)
		}
	})

	t.Run("pending edit keeps the base", func(t *testing.T) {
		release := make(chan struct{})
		l := newTestLayer(staleRemote{snap: snapshot(5, "before"), release: release})
		if err := l.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}

		l.remote = staleRemote{snap: snapshot(2, "after"), release: release}
		done := l.Apply(ctx, domain.ActionLike, "mine")
		if err := l.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		if v := l.View(); !v.Sets.Likes.Has("before") || v.Revision != 5 {
			t.Errorf("base replaced while an edit was pending: %+v", v)
		}

		close(release)
		<-done
	})
}

func TestApply_InvalidArguments(t *testing.T) {
	l := newTestLayer(newGatedRemote(t))
	tests := []struct {
		name   string
		action domain.Action
		video  string
	}{
		{name: "missing video", action: domain.ActionLike, video: ""},
		{name: "relative toggle", action: domain.ActionToggleFavorite, video: "v"},
		{name: "unknown action", action: "shrug", video: "v"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := l.Version()
			err := <-l.Apply(context.Background(), tt.action, tt.video)
			if !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("Apply() error = %v, want ErrInvalidArgument", err)
			}
			if l.Version() != before {
				t.Error("rejected edit changed the shadow")
			}
		})
	}
}

func TestSubscribe_DeliversInVersionOrder(t *testing.T) {
	remote := newGatedRemote(t)
	l := newTestLayer(remote)
	ctx := context.Background()

	var mu sync.Mutex
	var versions []uint64
	cancel := l.Subscribe(func(v View) {
		mu.Lock()
		defer mu.Unlock()
		versions = append(versions, v.Version)
	})

	done := l.Apply(ctx, domain.ActionLike, "v1")
	remote.release(domain.ActionLike, "v1", nil)
	<-done
	cancel()
	l.Apply(ctx, domain.ActionUnlike, "v1")
	remote.release(domain.ActionUnlike, "v1", nil)
	l.Wait()

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]uint64{1, 2}, versions); diff != "" {
		t.Errorf("delivered versions mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	remote := newGatedRemote(t)
	l := newTestLayer(remote)
	if _, err := remote.inner.Do(context.Background(), domain.ActionLike, "v9"); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		l.Run(ctx, 5*time.Millisecond)
		close(stopped)
	}()

	deadline := time.After(5 * time.Second)
	for !l.View().Sets.Likes.Has("v9") {
		select {
		case <-deadline:
			t.Fatal("periodic refresh never applied server state")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-stopped
}
