package reactions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/justestif/go-shorts-feed/internal/domain"
	"github.com/justestif/go-shorts-feed/internal/store"
)

func newTestSynchronizer(t *testing.T, users ...string) *Synchronizer {
	t.Helper()
	s := store.NewMemoryStore()
	for _, u := range users {
		if _, err := s.Upsert(context.Background(), u, func(*domain.UserRecord) error { return nil }); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}
	return NewSynchronizer(s)
}

func TestLikeThenDislike(t *testing.T) {
	rs := newTestSynchronizer(t, "u")
	ctx := context.Background()

	res, err := rs.AddLike(ctx, "u", "v")
	if err != nil {
		t.Fatalf("AddLike() error = %v", err)
	}
	if !res.Sets.Likes.Has("v") || res.Sets.Dislikes.Has("v") {
		t.Errorf("after AddLike: likes %v dislikes %v", res.Sets.Likes, res.Sets.Dislikes)
	}

	res, err = rs.AddDislike(ctx, "u", "v")
	if err != nil {
		t.Fatalf("AddDislike() error = %v", err)
	}
	if res.Sets.Likes.Has("v") || !res.Sets.Dislikes.Has("v") {
		t.Errorf("after AddDislike: likes %v dislikes %v", res.Sets.Likes, res.Sets.Dislikes)
	}
	if res.Outcome != domain.OutcomeDisliked {
		t.Errorf("Outcome = %q, want %q", res.Outcome, domain.OutcomeDisliked)
	}
}

// An empty record liked twice holds one like and no dislikes.
func TestAddLike_Twice(t *testing.T) {
	rs := newTestSynchronizer(t, "u")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := rs.AddLike(ctx, "u", "v1"); err != nil {
			t.Fatalf("AddLike() error = %v", err)
		}
	}
	res, err := rs.Reactions(ctx, "u")
	if err != nil {
		t.Fatalf("Reactions() error = %v", err)
	}
	want := domain.ReactionSets{Favorites: domain.VideoSet{}, Likes: domain.VideoSet{"v1"}, Dislikes: domain.VideoSet{}}
	if diff := cmp.Diff(want, res.Sets); diff != "" {
		t.Errorf("sets mismatch (-want +got):\n%s", diff)
	}
	if res.Revision != 3 {
		t.Errorf("Revision = %d, want 3", res.Revision)
	}
}

func TestRemove_ReportsAbsence(t *testing.T) {
	rs := newTestSynchronizer(t, "u")
	ctx := context.Background()

	tests := []struct {
		name string
		op   func() (domain.ReactionResult, error)
		want domain.Outcome
	}{
		{name: "remove absent like", op: func() (domain.ReactionResult, error) { return rs.RemoveLike(ctx, "u", "v") }, want: domain.OutcomeLikeAbsent},
		{name: "remove absent dislike", op: func() (domain.ReactionResult, error) { return rs.RemoveDislike(ctx, "u", "v") }, want: domain.OutcomeDislikeAbsent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.op()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Outcome != tt.want {
				t.Errorf("Outcome = %q, want %q", res.Outcome, tt.want)
			}
		})
	}
}

// Reaction operations write even when the sets are unchanged.
func TestRemoveAbsent_BumpsRevision(t *testing.T) {
	rs := newTestSynchronizer(t, "u")
	ctx := context.Background()

	before, err := rs.Reactions(ctx, "u")
	if err != nil {
		t.Fatalf("Reactions() error = %v", err)
	}
	res, err := rs.RemoveLike(ctx, "u", "v")
	if err != nil {
		t.Fatalf("RemoveLike() error = %v", err)
	}
	if res.Outcome != domain.OutcomeLikeAbsent || res.Revision != before.Revision+1 {
		t.Errorf("RemoveLike() = %q at revision %d, want %q at %d", res.Outcome, res.Revision, domain.OutcomeLikeAbsent, before.Revision+1)
	}
	if diff := cmp.Diff(before.Sets, res.Sets); diff != "" {
		t.Errorf("sets changed (-before +after):\n%s", diff)
	}
}

func TestToggleFavorite_TwiceRestores(t *testing.T) {
	rs := newTestSynchronizer(t, "u")
	ctx := context.Background()

	first, err := rs.ToggleFavorite(ctx, "u", "v")
	if err != nil {
		t.Fatalf("ToggleFavorite() error = %v", err)
	}
	if first.Outcome != domain.OutcomeFavoriteAdded {
		t.Errorf("first Outcome = %q, want %q", first.Outcome, domain.OutcomeFavoriteAdded)
	}
	second, err := rs.ToggleFavorite(ctx, "u", "v")
	if err != nil {
		t.Fatalf("ToggleFavorite() error = %v", err)
	}
	if second.Outcome != domain.OutcomeFavoriteRemoved || second.Sets.Favorites.Has("v") {
		t.Errorf("second toggle = %q favorites %v", second.Outcome, second.Sets.Favorites)
	}
}

func TestSetFavorite_Idempotent(t *testing.T) {
	rs := newTestSynchronizer(t, "u")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := rs.SetFavorite(ctx, "u", "v", true)
		if err != nil {
			t.Fatalf("SetFavorite() error = %v", err)
		}
		if len(res.Sets.Favorites) != 1 {
			t.Errorf("Favorites = %v, want [v]", res.Sets.Favorites)
		}
	}
}

func TestErrors(t *testing.T) {
	rs := newTestSynchronizer(t, "u")
	ctx := context.Background()

	tests := []struct {
		name    string
		userID  string
		videoID string
		action  domain.Action
		wantErr error
	}{
		{name: "missing video", userID: "u", videoID: "", action: domain.ActionLike, wantErr: domain.ErrInvalidArgument},
		{name: "missing user id", userID: "", videoID: "v", action: domain.ActionLike, wantErr: domain.ErrInvalidArgument},
		{name: "unknown user", userID: "ghost", videoID: "v", action: domain.ActionLike, wantErr: domain.ErrNotFound},
		{name: "unknown action", userID: "u", videoID: "v", action: "shrug", wantErr: domain.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rs.Do(ctx, tt.userID, tt.action, tt.videoID)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Do() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// Racing like and dislike calls always leave a video in at most one of the two sets.
func TestConcurrentReactions_Converge(t *testing.T) {
	syncer := newTestSynchronizer(t, "u")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := fmt.Sprintf("v%d", i%5)
			var err error
			if i%2 == 0 {
				_, err = syncer.AddLike(ctx, "u", v)
			} else {
				_, err = syncer.AddDislike(ctx, "u", v)
			}
			if err != nil {
				t.Errorf("reaction error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	res, err := syncer.Reactions(ctx, "u")
	if err != nil {
		t.Fatalf("Reactions() error = %v", err)
	}
	for _, v := range res.Sets.Likes {
		if res.Sets.Dislikes.Has(v) {
			t.Errorf("%s is both liked and disliked", v)
		}
	}
	if got := len(res.Sets.Likes) + len(res.Sets.Dislikes); got != 5 {
		t.Errorf("videos with a reaction = %d, want 5", got)
	}
	if res.Revision != 51 {
		t.Errorf("Revision = %d, want 51", res.Revision)
	}
}
