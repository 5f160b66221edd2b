package poller

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Loop runs one periodic task
type Loop struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// Run starts every loop and blocks until ctx is cancelled. A failing tick is
// logged and the loop keeps its schedule.
func Run(ctx context.Context, logger *slog.Logger, loops ...Loop) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, loop := range loops {
		g.Go(func() error {
			loop.serve(ctx, logger.With(slog.String("loop", loop.Name)))
			return nil
		})
	}
	return g.Wait()
}

func (l Loop) serve(ctx context.Context, logger *slog.Logger) {
	logger.Info("Poller started", slog.Duration("interval", l.Interval))

	if l.RunOnStart {
		l.tick(ctx, logger)
	}

	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Poller stopped")
			return
		case <-ticker.C:
			l.tick(ctx, logger)
		}
	}
}

func (l Loop) tick(ctx context.Context, logger *slog.Logger) {
	start := time.Now()
	if err := l.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("Poller tick failed",
			slog.String("step", l.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("Poller tick finished", slog.Duration("elapsed", time.Since(start)))
}
