package domain

import "fmt"

// Outcome names what a reaction operation did.
type Outcome string

const (
	OutcomeLiked           Outcome = "liked"
	OutcomeDisliked        Outcome = "disliked"
	OutcomeLikeRemoved     Outcome = "like_removed"
	OutcomeLikeAbsent      Outcome = "like_absent"
	OutcomeDislikeRemoved  Outcome = "dislike_removed"
	OutcomeDislikeAbsent   Outcome = "dislike_absent"
	OutcomeFavoriteAdded   Outcome = "favorite_added"
	OutcomeFavoriteRemoved Outcome = "favorite_removed"
)

// ReactionSets holds a user's favorites, likes and dislikes.
// A video id is never in both Likes and Dislikes.
type ReactionSets struct {
	Favorites VideoSet `json:"favorites"`
	Likes     VideoSet `json:"likes"`
	Dislikes  VideoSet `json:"dislikes"`
}

// ReactionResult is returned by every reaction operation so callers can resync without a second read.
type ReactionResult struct {
	Outcome  Outcome      `json:"outcome,omitempty"`
	Sets     ReactionSets `json:"sets"`
	Revision int64        `json:"revision"`
}

func (rs *ReactionSets) normalize() {
	if rs.Favorites == nil {
		rs.Favorites = VideoSet{}
	}
	if rs.Likes == nil {
		rs.Likes = VideoSet{}
	}
	if rs.Dislikes == nil {
		rs.Dislikes = VideoSet{}
	}
}

// Clone returns a deep copy.
func (rs ReactionSets) Clone() ReactionSets {
	return ReactionSets{
		Favorites: rs.Favorites.Clone(),
		Likes:     rs.Likes.Clone(),
		Dislikes:  rs.Dislikes.Clone(),
	}
}

// AddLike clears any dislike of v and likes it. Liking twice is a no-op.
func (rs *ReactionSets) AddLike(v string) Outcome {
	rs.Dislikes.Remove(v)
	rs.Likes.Add(v)
	return OutcomeLiked
}

// AddDislike clears any like of v and dislikes it.
func (rs *ReactionSets) AddDislike(v string) Outcome {
	rs.Likes.Remove(v)
	rs.Dislikes.Add(v)
	return OutcomeDisliked
}

// RemoveLike removes v from likes, reporting whether it was there.
func (rs *ReactionSets) RemoveLike(v string) Outcome {
	if rs.Likes.Remove(v) {
		return OutcomeLikeRemoved
	}
	return OutcomeLikeAbsent
}

// RemoveDislike removes v from dislikes, reporting whether it was there.
func (rs *ReactionSets) RemoveDislike(v string) Outcome {
	if rs.Dislikes.Remove(v) {
		return OutcomeDislikeRemoved
	}
	return OutcomeDislikeAbsent
}

// ToggleFavorite flips v's favorite membership.
func (rs *ReactionSets) ToggleFavorite(v string) Outcome {
	if rs.Favorites.Remove(v) {
		return OutcomeFavoriteRemoved
	}
	rs.Favorites.Add(v)
	return OutcomeFavoriteAdded
}

// SetFavorite forces v's favorite membership to on.
func (rs *ReactionSets) SetFavorite(v string, on bool) Outcome {
	if on {
		rs.Favorites.Add(v)
		return OutcomeFavoriteAdded
	}
	rs.Favorites.Remove(v)
	return OutcomeFavoriteRemoved
}

// Action names a reaction edit. Like, Unlike, Dislike, Undislike, Favorite and Unfavorite are
// absolute intents: applying one twice equals applying it once.
type Action string

const (
	ActionLike           Action = "like"
	ActionUnlike         Action = "unlike"
	ActionDislike        Action = "dislike"
	ActionUndislike      Action = "undislike"
	ActionFavorite       Action = "favorite"
	ActionUnfavorite     Action = "unfavorite"
	ActionToggleFavorite Action = "toggle_favorite"
)

// Apply performs a on v.
func (rs *ReactionSets) Apply(a Action, v string) (Outcome, error) {
	switch a {
	case ActionLike:
		return rs.AddLike(v), nil
	case ActionUnlike:
		return rs.RemoveLike(v), nil
	case ActionDislike:
		return rs.AddDislike(v), nil
	case ActionUndislike:
		return rs.RemoveDislike(v), nil
	case ActionFavorite:
		return rs.SetFavorite(v, true), nil
	case ActionUnfavorite:
		return rs.SetFavorite(v, false), nil
	case ActionToggleFavorite:
		return rs.ToggleFavorite(v), nil
	default:
		return "", fmt.Errorf("reaction action %q: %w", a, ErrInvalidArgument)
	}
}
