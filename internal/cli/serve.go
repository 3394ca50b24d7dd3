package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/ryos-memory/internal/logging"
	"github.com/rcliao/ryos-memory/internal/scheduler"
	"github.com/rcliao/ryos-memory/internal/server"
	"github.com/rcliao/ryos-memory/internal/worker"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled sweep",
		Run:   runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (overrides config)")
	cmd.Flags().Bool("no-sweep", false, "Disable the scheduled sweep")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	noSweep, _ := cmd.Flags().GetBool("no-sweep")

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := logging.From(ctx)

	a, err := newApp(ctx, cfg)
	if err != nil {
		exitErr("start", err)
	}
	defer a.Close()

	dispatcher := worker.NewDispatcher(a.processor,
		worker.WithConcurrency(cfg.WorkerConcurrency),
		worker.WithRunTimeout(cfg.Pipeline.LockTTL),
	)

	srv := server.New(cfg.Server, server.Deps{
		Processor:    a.processor,
		Submitter:    dispatcher,
		Notes:        a.store,
		Auth:         a.authenticator(),
		Gatherer:     a.registry,
		LookbackDays: cfg.Pipeline.LookbackDays,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	if !noSweep {
		sweeper, err := scheduler.New(a.store, dispatcher, cfg.Schedule,
			scheduler.WithLookbackDays(cfg.Pipeline.LookbackDays))
		if err != nil {
			exitErr("scheduler", err)
		}
		if err := sweeper.Start(ctx); err != nil {
			exitErr("scheduler", err)
		}
		if next, err := sweeper.NextRun(); err == nil {
			logger.Info("sweep scheduled", "spec", cfg.Schedule, "next_run", next)
		}
		g.Go(func() error {
			<-gctx.Done()
			return sweeper.Shutdown()
		})
	}

	runErr := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := dispatcher.Shutdown(drainCtx); err != nil {
		logger.Warn("background runs still in flight at exit", logging.ErrAttr(err))
	}

	if runErr != nil {
		exitErr("serve", runErr)
	}
}
