package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/justestif/go-shorts-feed/internal/domain"
	"github.com/justestif/go-shorts-feed/internal/metrics"
)

func TestInstrument_Outcomes(t *testing.T) {
	const backend = "instrument_outcomes"
	s := Instrument(NewMemoryStore(), backend)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, "u1", func(*domain.UserRecord) error { return nil }); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	rec, err := s.Mutate(ctx, "u1", func(*domain.UserRecord) error { return ErrNoChange })
	if !errors.Is(err, ErrNoChange) || rec != nil {
		t.Fatalf("Mutate() = %v, %v; want ErrNoChange", rec, err)
	}
	if _, err := s.Mutate(ctx, "u1", func(*domain.UserRecord) error {
		return fmt.Errorf("nothing to close: %w", ErrNoChange)
	}); !errors.Is(err, ErrNoChange) {
		t.Fatalf("Mutate() error = %v, want wrapped ErrNoChange", err)
	}
	if _, err := s.Mutate(ctx, "ghost", func(*domain.UserRecord) error { return nil }); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Mutate(ghost) error = %v, want ErrNotFound", err)
	}
	if _, err := s.Mutate(ctx, "u1", func(*domain.UserRecord) error { return errors.New("boom") }); err == nil {
		t.Fatal("Mutate() error = nil, want boom")
	}

	tests := []struct {
		op      string
		outcome string
		want    float64
	}{
		{"upsert", "ok", 1},
		{"mutate", "unchanged", 2},
		{"mutate", "not_found", 1},
		{"mutate", "error", 1},
		{"mutate", "ok", 0},
	}
	for _, tt := range tests {
		t.Run(tt.op+"/"+tt.outcome, func(t *testing.T) {
			got := testutil.ToFloat64(metrics.StoreOps.WithLabelValues(backend, tt.op, tt.outcome))
			if got != tt.want {
				t.Errorf("%s{outcome=%s} = %v, want %v", tt.op, tt.outcome, got, tt.want)
			}
		})
	}

	got, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Revision != 1 {
		t.Errorf("Revision = %d, want 1 after aborted writes", got.Revision)
	}
}
