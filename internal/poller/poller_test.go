package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/briefcast/internal/pipelinetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_TicksUntilCancelled(t *testing.T) {
	var fast, failing atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, pipelinetest.Logger(),
			Loop{Name: "fast", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
				fast.Add(1)
				return nil
			}},
			Loop{Name: "failing", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
				failing.Add(1)
				return errors.New("tick failed")
			}},
		)
	}()

	require.Eventually(t, func() bool {
		return fast.Load() >= 3 && failing.Load() >= 3
	}, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestRun_RunOnStart(t *testing.T) {
	ran := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = Run(ctx, pipelinetest.Logger(), Loop{
			Name:       "daily",
			Interval:   time.Hour,
			RunOnStart: true,
			Run: func(context.Context) error {
				ran <- struct{}{}
				return nil
			},
		})
	}()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not run on start")
	}
}
