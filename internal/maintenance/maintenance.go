// Package maintenance runs the background sweeps that keep stored progress consistent with the catalog.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/justestif/go-shorts-feed/internal/catalog"
	"github.com/justestif/go-shorts-feed/internal/domain"
	"github.com/justestif/go-shorts-feed/internal/log"
	"github.com/justestif/go-shorts-feed/internal/progress"
	"github.com/justestif/go-shorts-feed/internal/session"
	"github.com/justestif/go-shorts-feed/internal/store"
)

// Common errors.
var (
	// ErrSweepTooRecent is returned when a prune sweep is attempted within the cooldown period.
	ErrSweepTooRecent = errors.New("prune sweep attempted too recently")

	// ErrEmptyCatalog is returned instead of pruning every user's progress against an empty catalog.
	ErrEmptyCatalog = errors.New("catalog is empty")
)

const (
	// DefaultCooldown is the minimum time between unforced prune sweeps.
	DefaultCooldown = 5 * time.Minute

	// DefaultPruneSchedule runs the prune sweep hourly.
	DefaultPruneSchedule = "0 * * * *"

	// DefaultIdleSchedule runs the idle-session sweep every 15 minutes.
	DefaultIdleSchedule = "*/15 * * * *"
)

var cronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Service runs prune and idle-session sweeps across all stored users.
type Service struct {
	store    store.Store
	tracker  *progress.Tracker
	sessions *session.Manager
	catalog  catalog.Lister

	cooldown    time.Duration
	idleTimeout time.Duration
	now         func() time.Time
	logger      zerolog.Logger

	mu        sync.Mutex
	lastPrune time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCooldown sets the minimum time between unforced prune sweeps.
func WithCooldown(d time.Duration) Option {
	return func(s *Service) {
		s.cooldown = d
	}
}

// WithIdleTimeout closes sessions with no activity for d. Zero disables the idle sweep.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.idleTimeout = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// New creates a maintenance service.
func New(st store.Store, tracker *progress.Tracker, sessions *session.Manager, cat catalog.Lister, opts ...Option) *Service {
	s := &Service{
		store:    st,
		tracker:  tracker,
		sessions: sessions,
		catalog:  cat,
		cooldown: DefaultCooldown,
		now:      time.Now,
		logger:   log.WithComponent("maintenance"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CanPrune reports whether an unforced sweep is allowed now, and if not, when it will be.
func (s *Service) CanPrune() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPrune.IsZero() {
		return true, time.Time{}
	}
	next := s.lastPrune.Add(s.cooldown)
	if s.now().Before(next) {
		return false, next
	}
	return true, time.Time{}
}

// Prune removes progress for videos no longer in the catalog, for every user.
// Returns ErrSweepTooRecent if called within the cooldown period unless force is set.
func (s *Service) Prune(ctx context.Context, force bool) (progress.PruneReport, error) {
	if !force {
		if ok, next := s.CanPrune(); !ok {
			return progress.PruneReport{}, fmt.Errorf("%w: next sweep available at %s", ErrSweepTooRecent, next.Format(time.RFC3339))
		}
	}

	entries, err := s.catalog.List(ctx)
	if err != nil {
		return progress.PruneReport{}, fmt.Errorf("listing catalog: %w", err)
	}
	return s.pruneAgainst(ctx, entries)
}

func (s *Service) pruneAgainst(ctx context.Context, entries []catalog.Entry) (progress.PruneReport, error) {
	if len(entries) == 0 {
		return progress.PruneReport{}, ErrEmptyCatalog
	}

	s.mu.Lock()
	s.lastPrune = s.now()
	s.mu.Unlock()

	return s.tracker.PruneAll(ctx, catalog.IDs(entries))
}

// OnCatalogChange returns a callback for catalog.FileCatalog.Watch that prunes against the new entries.
func (s *Service) OnCatalogChange(ctx context.Context) func([]catalog.Entry) {
	return func(entries []catalog.Entry) {
		if _, err := s.pruneAgainst(ctx, entries); err != nil {
			s.logger.Warn().Err(err).Msg("prune after catalog change failed")
		}
	}
}

// CloseIdle closes idle sessions for every user. It is a no-op when no idle timeout is set.
func (s *Service) CloseIdle(ctx context.Context) (int, error) {
	if s.idleTimeout <= 0 {
		return 0, nil
	}
	ids, err := s.store.IDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing users for idle sweep: %w", err)
	}

	total := 0
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := s.sessions.CloseIdle(ctx, id, s.idleTimeout)
		switch {
		case err == nil:
			total += n
		case errors.Is(err, domain.ErrNotFound):
		default:
			errs = append(errs, fmt.Errorf("user %s: %w", id, err))
		}
	}
	s.logger.Info().Int("users", len(ids)).Int("closed", total).Msg("idle sweep finished")
	return total, errors.Join(errs...)
}

// Schedule holds cron expressions for the sweeps. An empty expression disables that sweep.
type Schedule struct {
	Prune string `yaml:"prune"`
	Idle  string `yaml:"idle"`
}

// DefaultSchedule returns the default sweep schedule.
func DefaultSchedule() Schedule {
	return Schedule{Prune: DefaultPruneSchedule, Idle: DefaultIdleSchedule}
}

// Validate checks that every non-empty expression parses. Schedules run in UTC.
func (sch Schedule) Validate() error {
	for name, expr := range map[string]string{"prune": sch.Prune, "idle": sch.Idle} {
		if expr == "" {
			continue
		}
		if strings.Contains(strings.ToUpper(expr), "TZ=") {
			return fmt.Errorf("%s schedule must be UTC-only (timezone prefixes are not allowed)", name)
		}
		if _, err := cronParser.Parse(expr); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", name, expr, err)
		}
	}
	return nil
}

// Run executes the sweeps on sch until ctx is done, then waits for running jobs to finish.
func (s *Service) Run(ctx context.Context, sch Schedule) error {
	if err := sch.Validate(); err != nil {
		return err
	}

	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if sch.Prune != "" {
		if _, err := c.AddFunc(sch.Prune, func() {
			report, err := s.Prune(ctx, false)
			switch {
			case errors.Is(err, ErrSweepTooRecent), errors.Is(err, ErrEmptyCatalog):
				s.logger.Debug().Err(err).Msg("scheduled prune skipped")
			case err != nil:
				s.logger.Warn().Err(err).Int("failed", report.Failed).Msg("scheduled prune failed")
			}
		}); err != nil {
			return fmt.Errorf("scheduling prune: %w", err)
		}
	}
	if sch.Idle != "" && s.idleTimeout > 0 {
		if _, err := c.AddFunc(sch.Idle, func() {
			if _, err := s.CloseIdle(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("scheduled idle sweep failed")
			}
		}); err != nil {
			return fmt.Errorf("scheduling idle sweep: %w", err)
		}
	}

	c.Start()
	s.logger.Info().Str("prune", sch.Prune).Str("idle", sch.Idle).Msg("maintenance scheduler started")
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
