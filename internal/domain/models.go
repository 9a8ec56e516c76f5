// Package domain defines the per-user record shared by the feed's server and client packages.
package domain

import (
	"encoding/json"
	"slices"
	"time"
)

// Profile holds display fields from the identity provider. None of them drive logic.
type Profile struct {
	Username     string `json:"username"`
	FirstName    string `json:"firstName,omitempty"`
	LastName     string `json:"lastName,omitempty"`
	LanguageCode string `json:"languageCode"`
	IsPremium    bool   `json:"isPremium"`
}

// VideoRef is an optional video id. The empty ref encodes as JSON null.
type VideoRef string

// MarshalJSON implements json.Marshaler.
func (v VideoRef) MarshalJSON() ([]byte, error) {
	if v == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(v))
}

// UnmarshalJSON implements json.Unmarshaler. null decodes to the empty ref.
func (v *VideoRef) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*v = VideoRef(s)
	return nil
}

// WatchEntry records when a video was first marked watched and for how long.
type WatchEntry struct {
	WatchedAt time.Time `json:"watchedAt"`
	Duration  int       `json:"duration"` // seconds
}

// Session is one login-to-logout span.
type Session struct {
	ID              string     `json:"sessionId"`
	LoginTime       time.Time  `json:"loginTime"`
	LogoutTime      *time.Time `json:"logoutTime"` // nullable
	DurationSeconds int64      `json:"durationSeconds"`
	LastActivity    time.Time  `json:"lastActivity"`
}

// Open reports whether the session has not been logged out.
func (s Session) Open() bool {
	return s.LogoutTime == nil
}

// UserRecord is the durable state kept for one identity.
type UserRecord struct {
	ID      string  `json:"id"`
	Profile Profile `json:"profile"`

	ReactionSets

	WatchedVideos       VideoSet              `json:"watchedVideos"`
	WatchProgress       map[string]WatchEntry `json:"watchProgress"`
	LastVideoID         VideoRef              `json:"lastVideoId"` // null when none
	CurrentSessionOrder []string              `json:"currentSessionOrder"`
	TotalCycles         int                   `json:"totalCycles"`

	Sessions []Session `json:"sessions"`

	FirstLogin   time.Time `json:"firstLogin"`
	LastLogin    time.Time `json:"lastLogin"`
	LastActivity time.Time `json:"lastActivity"`
	LastModified time.Time `json:"lastModified"`

	// Revision is assigned by the store and incremented on every successful write.
	Revision int64 `json:"revision"`
}

// NewUserRecord returns an empty record for id.
func NewUserRecord(id string) *UserRecord {
	r := &UserRecord{ID: id}
	r.Normalize()
	return r
}

// Normalize replaces nil collections with empty ones so records encode as [] and {}.
func (r *UserRecord) Normalize() {
	r.ReactionSets.normalize()
	if r.WatchedVideos == nil {
		r.WatchedVideos = VideoSet{}
	}
	if r.WatchProgress == nil {
		r.WatchProgress = make(map[string]WatchEntry)
	}
	if r.CurrentSessionOrder == nil {
		r.CurrentSessionOrder = []string{}
	}
	if r.Sessions == nil {
		r.Sessions = []Session{}
	}
}

// Clone returns a deep copy of the record.
func (r *UserRecord) Clone() *UserRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.ReactionSets = r.ReactionSets.Clone()
	out.WatchedVideos = r.WatchedVideos.Clone()
	out.CurrentSessionOrder = slices.Clone(r.CurrentSessionOrder)
	out.WatchProgress = make(map[string]WatchEntry, len(r.WatchProgress))
	for k, v := range r.WatchProgress {
		out.WatchProgress[k] = v
	}
	out.Sessions = make([]Session, len(r.Sessions))
	for i, s := range r.Sessions {
		if s.LogoutTime != nil {
			t := *s.LogoutTime
			s.LogoutTime = &t
		}
		out.Sessions[i] = s
	}
	out.Normalize()
	return &out
}

// Touch marks the record as written at now. Stores call it once per successful mutate.
func (r *UserRecord) Touch(now time.Time) {
	r.LastModified = now
	r.Revision++
}

// FindSession returns the index of the session with id, or -1.
func (r *UserRecord) FindSession(id string) int {
	for i := range r.Sessions {
		if r.Sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// WatchState is the watch-progress subset of a record returned by progress operations.
type WatchState struct {
	WatchedVideos       []string              `json:"watchedVideos"`
	WatchedCount        int                   `json:"watchedCount"`
	LastVideoID         VideoRef              `json:"lastVideoId"`
	TotalCycles         int                   `json:"totalCycles"`
	CurrentSessionOrder []string              `json:"currentSessionOrder,omitempty"`
	WatchProgress       map[string]WatchEntry `json:"watchProgress,omitempty"`
	Revision            int64                 `json:"revision"`
}

// WatchStateOf extracts the watch state from r. Order and progress are included only when full is set.
func WatchStateOf(r *UserRecord, full bool) WatchState {
	ws := WatchState{
		WatchedVideos: r.WatchedVideos.Clone(),
		WatchedCount:  len(r.WatchedVideos),
		LastVideoID:   r.LastVideoID,
		TotalCycles:   r.TotalCycles,
		Revision:      r.Revision,
	}
	if full {
		ws.CurrentSessionOrder = slices.Clone(r.CurrentSessionOrder)
		ws.WatchProgress = make(map[string]WatchEntry, len(r.WatchProgress))
		for k, v := range r.WatchProgress {
			ws.WatchProgress[k] = v
		}
	}
	return ws
}
