package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/irctrakz/mcastrec/pkg/config"
	"github.com/irctrakz/mcastrec/pkg/logging"
	"github.com/irctrakz/mcastrec/pkg/recorder"
	"golang.org/x/sync/errgroup"
)

// serve blocks until a signal arrives, done closes, or a helper fails. The
// stats reporter and health endpoint run alongside when configured. A final
// stats line is logged on the way out.
func serve(ctx context.Context, c *config.Config, rec *recorder.Recorder, done <-chan struct{}) error {
	interval, err := c.StatsInterval()
	if err != nil {
		return err
	}
	reporter := newStatsReporter(rec, c.Stats.Format)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		select {
		case sig := <-sigCh:
			logging.Infof("received %s, shutting down", sig)
		case <-done:
		case <-ctx.Done():
		}
		return nil
	})

	if interval > 0 {
		g.Go(func() error {
			reporter.Run(ctx, interval)
			return nil
		})
	}

	if c.Stats.HealthAddr != "" {
		srv := &http.Server{
			Addr:              c.Stats.HealthAddr,
			Handler:           healthHandler(rec),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logging.Infof("health endpoint listening on %s", c.Stats.HealthAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	reporter.Dump()
	return err
}
