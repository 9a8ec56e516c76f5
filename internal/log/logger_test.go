package log

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestFromContext_FallsBackToBase(t *testing.T) {
	l := FromContext(context.Background())
	if l == nil {
		t.Fatal("FromContext() returned nil")
	}
	if l.GetLevel() == zerolog.Disabled {
		t.Error("FromContext() returned a disabled logger")
	}
}

func TestFromContext_UsesAttachedLogger(t *testing.T) {
	attached := zerolog.Nop().Level(zerolog.WarnLevel)
	ctx := attached.WithContext(context.Background())

	got := FromContext(ctx)
	if got.GetLevel() != zerolog.WarnLevel {
		t.Errorf("level = %v, want %v", got.GetLevel(), zerolog.WarnLevel)
	}
}
