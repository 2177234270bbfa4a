package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func waitDone(t *testing.T, ctx context.Context) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context was not cancelled")
	}
}

func TestCombineContextCancelsWithSecondary(t *testing.T) {
	defer goleak.VerifyNone(t)

	parent := context.Background()
	secondary, cancelSecondary := context.WithCancel(context.Background())

	combined, cancel := CombineContext(parent, secondary)
	defer cancel()

	assert.NoError(t, combined.Err())
	cancelSecondary()
	waitDone(t, combined)
}

func TestCombineContextCancelsWithParent(t *testing.T) {
	defer goleak.VerifyNone(t)

	parent, cancelParent := context.WithCancel(context.Background())
	secondary, cancelSecondary := context.WithCancel(context.Background())
	defer cancelSecondary()

	combined, cancel := CombineContext(parent, secondary)
	defer cancel()

	cancelParent()
	waitDone(t, combined)
}

func TestCombineContextCancelReleasesMonitor(t *testing.T) {
	// The returned cancel alone must tear the monitor goroutine down even
	// when neither input context ever fires; goleak catches a stray monitor.
	defer goleak.VerifyNone(t)

	combined, cancel := CombineContext(context.Background(), context.Background())
	cancel()
	waitDone(t, combined)
}
