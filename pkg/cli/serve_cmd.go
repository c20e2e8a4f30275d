package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"airlift-demo/internal/api"
	"airlift-demo/internal/app"
	"airlift-demo/internal/middleware"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(rt *runtime) *cobra.Command {
	var stage string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run schedules and peering polls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, rt, stage)
		},
	}
	addStageFlag(cmd.Flags(), &stage)
	return cmd
}

// serve runs the API server and the scheduler until ctx is done or either
// fails.
func serve(ctx context.Context, rt *runtime, stage string) error {
	a, err := app.New(ctx, app.Deps{Cfg: rt.cfg, Logger: rt.logger}, stage)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	g, ctx := errgroup.WithContext(ctx)

	handler := api.NewHandler(a.Stage.Name, a.Stage.Defs, a.Events, a.Materializer, a.TaskRunner(), a.State, rt.logger)
	srv := &http.Server{
		Addr: rt.cfg.ListenAddr,
		Handler: api.NewRouter(ctx, handler, api.RouterConfig{
			RateLimit: middleware.RateLimitConfig{
				RequestsPerSecond: rt.cfg.RateLimitRPS,
				Burst:             rt.cfg.RateLimitBurst,
			},
			CORSAllowedOrigins: rt.cfg.CORSAllowedOrigins,
		}, rt.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		rt.logger.Info("HTTP API listening", "addr", srv.Addr, "stage", a.Stage.Name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := a.Scheduler.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		a.Scheduler.Stop()
		return nil
	})

	return g.Wait()
}
