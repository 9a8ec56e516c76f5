package domain

import "slices"

// VideoSet is an insertion-ordered set of video ids.
// Per-user sets stay small, so membership is a linear scan.
type VideoSet []string

// NewVideoSet builds a set from ids, dropping duplicates and empty ids.
func NewVideoSet(ids ...string) VideoSet {
	s := make(VideoSet, 0, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Has reports whether id is in the set.
func (s VideoSet) Has(id string) bool {
	return slices.Contains(s, id)
}

// Add appends id if absent and reports whether the set changed.
func (s *VideoSet) Add(id string) bool {
	if id == "" || s.Has(id) {
		return false
	}
	*s = append(*s, id)
	return true
}

// Remove deletes id and reports whether it was present.
func (s *VideoSet) Remove(id string) bool {
	i := slices.Index(*s, id)
	if i < 0 {
		return false
	}
	*s = slices.Delete(*s, i, i+1)
	return true
}

// Retain keeps only the ids for which keep returns true, preserving order.
func (s *VideoSet) Retain(keep func(string) bool) {
	*s = slices.DeleteFunc(*s, func(id string) bool { return !keep(id) })
}

// Clone returns a copy that never aliases s. A nil set clones to an empty one.
func (s VideoSet) Clone() VideoSet {
	out := make(VideoSet, len(s))
	copy(out, s)
	return out
}
