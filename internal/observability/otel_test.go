package observability

import (
	"context"
	"testing"
	"time"

	"github.com/reviewpulse/reviewpulse/internal/log"
)

func TestSetupReturnsShutdown(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{
		Endpoint:    "localhost:4318",
		ServiceName: "reviewpulse-test",
		Environment: "test",
	}, log.NewNop())
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if shutdown == nil {
		t.Fatal("nil shutdown function")
	}

	// Only the init span is pending; with no collector listening the flush
	// fails, but it must respect the deadline and never hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}

func TestSetupDefaults(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{}, nil)
	if err != nil {
		t.Fatalf("Setup with empty config: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
