// Package session opens, heartbeats and closes login sessions on a user record.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/justestif/go-shorts-feed/internal/domain"
	"github.com/justestif/go-shorts-feed/internal/log"
	"github.com/justestif/go-shorts-feed/internal/metrics"
	"github.com/justestif/go-shorts-feed/internal/store"
)

// Default profile values applied when the identity provider leaves them empty.
const (
	DefaultLanguageCode = "en"
	usernamePrefix      = "user_"
)

// Stats aggregates a user's sessions.
type Stats struct {
	SessionsCount  int   `json:"sessionsCount"`
	ActiveSessions int   `json:"activeSessions"`
	TotalTime      int64 `json:"totalTime"` // seconds
}

// Manager records session lifecycle events in the store.
type Manager struct {
	store  store.Store
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a session manager over s.
func NewManager(s store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  s,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.WithComponent("session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Login creates the user record if needed and opens a new session.
// Missing profile fields are defaulted rather than rejected.
func (m *Manager) Login(ctx context.Context, userID string, profile domain.Profile) (string, *domain.UserRecord, error) {
	if userID == "" {
		return "", nil, fmt.Errorf("login: user id: %w", domain.ErrInvalidArgument)
	}

	sessionID := uuid.NewString()
	now := m.now()

	rec, err := m.store.Upsert(ctx, userID, func(r *domain.UserRecord) error {
		mergeProfile(&r.Profile, profile, userID)
		if r.FirstLogin.IsZero() {
			r.FirstLogin = now
		}
		r.LastLogin = now
		r.LastActivity = now
		r.Sessions = append(r.Sessions, domain.Session{
			ID:           sessionID,
			LoginTime:    now,
			LastActivity: now,
		})
		return nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("login: %w", err)
	}

	metrics.IncSessionEvent("login")
	m.logger.Info().Str("user_id", userID).Str("session_id", sessionID).Msg("session opened")
	return sessionID, rec, nil
}

// mergeProfile copies provided fields over the stored profile and fills defaults.
func mergeProfile(dst *domain.Profile, src domain.Profile, userID string) {
	if src.Username != "" {
		dst.Username = src.Username
	}
	if src.FirstName != "" {
		dst.FirstName = src.FirstName
	}
	if src.LastName != "" {
		dst.LastName = src.LastName
	}
	if src.LanguageCode != "" {
		dst.LanguageCode = src.LanguageCode
	}
	if src.IsPremium {
		dst.IsPremium = true
	}
	if dst.Username == "" {
		dst.Username = usernamePrefix + userID
	}
	if dst.LanguageCode == "" {
		dst.LanguageCode = DefaultLanguageCode
	}
}

// Heartbeat records activity at `at` on an open session. A zero at means now.
func (m *Manager) Heartbeat(ctx context.Context, userID, sessionID string, at time.Time) error {
	if at.IsZero() {
		at = m.now()
	}
	_, err := m.store.Mutate(ctx, userID, func(r *domain.UserRecord) error {
		s, err := openSession(r, sessionID)
		if err != nil {
			return err
		}
		s.LastActivity = at
		s.DurationSeconds = elapsedSeconds(s.LoginTime, at)
		if at.After(r.LastActivity) {
			r.LastActivity = at
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	metrics.IncSessionEvent("heartbeat")
	return nil
}

// Logout closes an open session and finalizes its duration.
// Logging out twice reports an error matching both ErrSessionNotFound and ErrAlreadyClosed.
func (m *Manager) Logout(ctx context.Context, userID, sessionID string) error {
	now := m.now()
	_, err := m.store.Mutate(ctx, userID, func(r *domain.UserRecord) error {
		s, err := openSession(r, sessionID)
		if err != nil {
			return err
		}
		closeSession(s, now)
		r.LastActivity = now
		return nil
	})
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	metrics.IncSessionEvent("logout")
	m.logger.Info().Str("user_id", userID).Str("session_id", sessionID).Msg("session closed")
	return nil
}

// Stats sums closed durations plus elapsed time of open sessions.
// A user with no record has zero stats.
func (m *Manager) Stats(ctx context.Context, userID string) (Stats, error) {
	rec, err := m.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Stats{}, nil
		}
		return Stats{}, fmt.Errorf("session stats: %w", err)
	}
	return StatsOf(rec, m.now()), nil
}

// StatsOf computes session stats for rec as of now.
func StatsOf(rec *domain.UserRecord, now time.Time) Stats {
	st := Stats{SessionsCount: len(rec.Sessions)}
	for _, s := range rec.Sessions {
		if s.Open() {
			st.ActiveSessions++
			st.TotalTime += elapsedSeconds(s.LoginTime, now)
			continue
		}
		st.TotalTime += s.DurationSeconds
	}
	return st
}

// CloseIdle closes open sessions whose last activity is older than idle.
// Their duration is finalized at the last recorded activity. It returns how many were closed.
func (m *Manager) CloseIdle(ctx context.Context, userID string, idle time.Duration) (int, error) {
	cutoff := m.now().Add(-idle)
	closed := 0
	_, err := m.store.Mutate(ctx, userID, func(r *domain.UserRecord) error {
		closed = 0
		for i := range r.Sessions {
			s := &r.Sessions[i]
			if s.Open() && s.LastActivity.Before(cutoff) {
				closeSession(s, s.LastActivity)
				closed++
			}
		}
		if closed == 0 {
			return store.ErrNoChange
		}
		return nil
	})
	if errors.Is(err, store.ErrNoChange) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("closing idle sessions: %w", err)
	}
	for range closed {
		metrics.IncSessionEvent("idle_close")
	}
	m.logger.Info().Str("user_id", userID).Int("closed", closed).Msg("idle sessions closed")
	return closed, nil
}

// openSession returns the open session with id, or the matching lifecycle error.
func openSession(r *domain.UserRecord, id string) (*domain.Session, error) {
	i := r.FindSession(id)
	if i < 0 {
		return nil, domain.MissingSession(id)
	}
	s := &r.Sessions[i]
	if !s.Open() {
		return nil, domain.ClosedSession(id)
	}
	return s, nil
}

func closeSession(s *domain.Session, at time.Time) {
	t := at
	s.LogoutTime = &t
	s.DurationSeconds = elapsedSeconds(s.LoginTime, at)
}

func elapsedSeconds(from, to time.Time) int64 {
	d := int64(to.Sub(from) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}
