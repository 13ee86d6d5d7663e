package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRunner_Every(t *testing.T) {
	r := NewRunner(nil)

	var calls atomic.Int32
	require.NoError(t, r.Every("analysis", time.Second, func(ctx context.Context) error {
		if ctx.Err() == nil {
			calls.Add(1)
		}
		return nil
	}))
	assert.Equal(t, 1, r.Entries())

	r.Start()
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Stop(stopCtx)
}

func TestRunner_RejectsInvalidInterval(t *testing.T) {
	r := NewRunner(nil)
	assert.Error(t, r.Every("broken", 0, func(context.Context) error { return nil }))
	assert.Equal(t, 0, r.Entries())
}

func TestRunner_JobErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	r := NewRunner(zap.New(core))

	r.run("sweep", func(context.Context) error { return errors.New("smtp down") })
	r.run("sweep", func(context.Context) error { return nil })

	failed := logs.FilterMessage("Job failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "sweep", failed[0].ContextMap()["job"])
	assert.Len(t, logs.FilterMessage("Job finished").All(), 1)
}

func TestRunner_StopCancelsJobContext(t *testing.T) {
	r := NewRunner(nil)
	r.Start()
	r.Stop(context.Background())

	var seen error
	r.run("late", func(ctx context.Context) error {
		seen = ctx.Err()
		return nil
	})
	assert.ErrorIs(t, seen, context.Canceled)
}
