package store

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/justestif/go-shorts-feed/internal/domain"
	"github.com/justestif/go-shorts-feed/internal/metrics"
)

// instrumented records a span and Prometheus series for every store call.
type instrumented struct {
	next    Store
	backend string
	tracer  trace.Tracer
}

// Instrument wraps s so every operation is traced and counted under the backend label.
func Instrument(s Store, backend string) Store {
	return &instrumented{
		next:    s,
		backend: backend,
		tracer:  otel.Tracer("github.com/justestif/go-shorts-feed/internal/store"),
	}
}

func (i *instrumented) observe(ctx context.Context, op, userID string) (context.Context, func(error)) {
	ctx, span := i.tracer.Start(ctx, "store."+op, trace.WithAttributes(
		attribute.String("store.backend", i.backend),
		attribute.String("user.id", userID),
	))
	start := time.Now()
	return ctx, func(err error) {
		outcome := "ok"
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrNotFound):
			outcome = "not_found"
		case errors.Is(err, ErrNoChange):
			outcome = "unchanged"
		default:
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.ObserveStoreOp(i.backend, op, outcome, time.Since(start))
		span.End()
	}
}

func (i *instrumented) Get(ctx context.Context, userID string) (*domain.UserRecord, error) {
	ctx, done := i.observe(ctx, "get", userID)
	rec, err := i.next.Get(ctx, userID)
	done(err)
	return rec, err
}

func (i *instrumented) Mutate(ctx context.Context, userID string, fn MutateFunc) (*domain.UserRecord, error) {
	ctx, done := i.observe(ctx, "mutate", userID)
	rec, err := i.next.Mutate(ctx, userID, fn)
	done(err)
	return rec, err
}

func (i *instrumented) Upsert(ctx context.Context, userID string, fn MutateFunc) (*domain.UserRecord, error) {
	ctx, done := i.observe(ctx, "upsert", userID)
	rec, err := i.next.Upsert(ctx, userID, fn)
	done(err)
	return rec, err
}

func (i *instrumented) IDs(ctx context.Context) ([]string, error) {
	ctx, done := i.observe(ctx, "ids", "")
	ids, err := i.next.IDs(ctx)
	done(err)
	return ids, err
}

func (i *instrumented) Close() error {
	return i.next.Close()
}
