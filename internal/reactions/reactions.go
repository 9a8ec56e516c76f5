// Package reactions applies like, dislike and favorite marks to user records.
package reactions

import (
	"context"
	"fmt"

	"github.com/justestif/go-shorts-feed/internal/domain"
	"github.com/justestif/go-shorts-feed/internal/metrics"
	"github.com/justestif/go-shorts-feed/internal/store"
)

// Synchronizer is the server side of reaction edits.
// Like/dislike exclusivity is enforced here so out-of-order client calls converge.
type Synchronizer struct {
	store store.Store
}

// NewSynchronizer creates a Synchronizer over s.
func NewSynchronizer(s store.Store) *Synchronizer {
	return &Synchronizer{store: s}
}

// AddLike removes videoID from dislikes and adds it to likes.
func (s *Synchronizer) AddLike(ctx context.Context, userID, videoID string) (domain.ReactionResult, error) {
	return s.Do(ctx, userID, domain.ActionLike, videoID)
}

// AddDislike removes videoID from likes and adds it to dislikes.
func (s *Synchronizer) AddDislike(ctx context.Context, userID, videoID string) (domain.ReactionResult, error) {
	return s.Do(ctx, userID, domain.ActionDislike, videoID)
}

// RemoveLike removes videoID from likes. Absence is reported in the outcome, not as an error.
func (s *Synchronizer) RemoveLike(ctx context.Context, userID, videoID string) (domain.ReactionResult, error) {
	return s.Do(ctx, userID, domain.ActionUnlike, videoID)
}

// RemoveDislike removes videoID from dislikes.
func (s *Synchronizer) RemoveDislike(ctx context.Context, userID, videoID string) (domain.ReactionResult, error) {
	return s.Do(ctx, userID, domain.ActionUndislike, videoID)
}

// ToggleFavorite adds videoID to favorites, or removes it if present.
func (s *Synchronizer) ToggleFavorite(ctx context.Context, userID, videoID string) (domain.ReactionResult, error) {
	return s.Do(ctx, userID, domain.ActionToggleFavorite, videoID)
}

// SetFavorite forces favorite membership. Unlike the toggle it is safe to resend.
func (s *Synchronizer) SetFavorite(ctx context.Context, userID, videoID string, on bool) (domain.ReactionResult, error) {
	action := domain.ActionUnfavorite
	if on {
		action = domain.ActionFavorite
	}
	return s.Do(ctx, userID, action, videoID)
}

// Reactions returns the current sets without writing.
func (s *Synchronizer) Reactions(ctx context.Context, userID string) (domain.ReactionResult, error) {
	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		return domain.ReactionResult{}, fmt.Errorf("reading reactions: %w", err)
	}
	return domain.ReactionResult{Sets: rec.ReactionSets.Clone(), Revision: rec.Revision}, nil
}

// Do applies action to videoID in one atomic store mutation and returns the resulting sets.
func (s *Synchronizer) Do(ctx context.Context, userID string, action domain.Action, videoID string) (domain.ReactionResult, error) {
	if userID == "" {
		return domain.ReactionResult{}, fmt.Errorf("%s: user id: %w", action, domain.ErrInvalidArgument)
	}
	if videoID == "" {
		return domain.ReactionResult{}, fmt.Errorf("%s: video id: %w", action, domain.ErrInvalidArgument)
	}

	var outcome domain.Outcome
	rec, err := s.store.Mutate(ctx, userID, func(r *domain.UserRecord) error {
		o, err := r.ReactionSets.Apply(action, videoID)
		outcome = o
		return err
	})
	if err != nil {
		return domain.ReactionResult{}, fmt.Errorf("%s: %w", action, err)
	}

	metrics.IncReaction(string(outcome))
	return domain.ReactionResult{
		Outcome:  outcome,
		Sets:     rec.ReactionSets.Clone(),
		Revision: rec.Revision,
	}, nil
}
