package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// Component is a long-running part of the service. Run blocks until ctx is done;
// returning early with an error stops every other component.
type Component struct {
	Name string
	Run  func(ctx context.Context) error
}

// Runner owns process lifetime: signals, fan-out of components and the wait on shutdown.
type Runner struct {
	logger *slog.Logger
	// slowStop is how long components may take to stop before Run logs them as stuck.
	slowStop time.Duration
}

func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger, slowStop: 30 * time.Second}
}

// Run starts every component and blocks until SIGINT/SIGTERM, parent cancellation
// or the first component failure, then waits for the rest to stop.
func (r *Runner) Run(ctx context.Context, components ...Component) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	r.logger.Info("service starting", "components", names(components))

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range components {
		g.Go(func() error {
			err := c.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", c.Name, err)
			}
			r.logger.Debug("component stopped", "component", c.Name)
			return nil
		})
	}

	done := make(chan struct{})
	go r.watchShutdown(gctx, done)
	err := g.Wait()
	close(done)

	if err != nil {
		r.logger.Error("service stopped with error", "error", err, "uptime", time.Since(started).Round(time.Second))
		return err
	}
	r.logger.Info("service stopped", "uptime", time.Since(started).Round(time.Second))
	return nil
}

// watchShutdown logs why shutdown began and warns once if it drags on.
func (r *Runner) watchShutdown(ctx context.Context, done <-chan struct{}) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	}
	r.logger.Info("shutting down", "cause", context.Cause(ctx))

	t := time.NewTimer(r.slowStop)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		r.logger.Warn("components still stopping", "waited", r.slowStop)
	}
}

func names(cs []Component) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name
	}
	return out
}
