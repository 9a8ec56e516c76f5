package progress

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/justestif/go-shorts-feed/internal/domain"
	"github.com/justestif/go-shorts-feed/internal/metrics"
)

// PruneReport summarizes a PruneAll sweep.
type PruneReport struct {
	Users   int // users visited
	Skipped int // users that disappeared mid-sweep
	Failed  int // users whose prune failed
}

// PruneAll runs PruneDeleted for every stored user with at most the configured number of workers.
// Individual failures are logged and counted; the joined error is returned after every user is visited.
func (t *Tracker) PruneAll(ctx context.Context, existing []string) (PruneReport, error) {
	ids, err := t.store.IDs(ctx)
	if err != nil {
		metrics.RecordPruneSweep(0, err)
		return PruneReport{}, fmt.Errorf("listing users for prune: %w", err)
	}

	var skipped, failed atomic.Int32
	errs := make([]error, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			_, err := t.PruneDeleted(gctx, id, existing)
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrNotFound):
				skipped.Add(1)
			default:
				failed.Add(1)
				errs[i] = fmt.Errorf("user %s: %w", id, err)
				t.logger.Warn().Err(err).Str("user_id", id).Msg("prune failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	report := PruneReport{Users: len(ids), Skipped: int(skipped.Load()), Failed: int(failed.Load())}
	err = errors.Join(errs...)
	if ctxErr := ctx.Err(); ctxErr != nil && err == nil {
		err = ctxErr
	}
	metrics.RecordPruneSweep(report.Users, err)
	t.logger.Info().
		Int("users", report.Users).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Int("catalog_size", len(existing)).
		Msg("prune sweep finished")
	return report, err
}
