package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"goa.design/clue/log"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, Feishu intake and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig(opts)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = newLogContext(ctx, cfg.Debug)

			a, err := wireApp(ctx, cfg)
			if err != nil {
				log.Errorf(ctx, err, "startup failed")
				return err
			}
			defer a.Close()
			return a.serve(ctx)
		},
	}
}

// serve blocks until ctx is canceled or a listener fails, then shuts every
// component down
func (a *app) serve(ctx context.Context) error {
	a.store.Watch(ctx)
	a.scheduler.Start(ctx)

	errCh := make(chan error, 2)
	go func() { errCh <- a.api.Start(ctx) }()
	go func() { errCh <- a.intake.Start(ctx) }()

	log.Info(ctx, log.KV{K: "component", V: "nudge"}, log.KV{K: "msg", V: "serving"},
		log.KV{K: "version", V: version}, log.KV{K: "api_port", V: a.api.GetPort()})

	var err error
	select {
	case <-ctx.Done():
		log.Info(ctx, log.KV{K: "component", V: "nudge"}, log.KV{K: "msg", V: "shutting down"})
	case err = <-errCh:
		if err != nil {
			log.Errorf(ctx, err, "listener stopped")
		}
	}

	a.intake.Stop()
	a.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if serr := a.api.Stop(shutdownCtx); serr != nil {
		log.Errorf(ctx, serr, "api shutdown")
	}
	return err
}
