package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"taskfleet/internal/api"
	"taskfleet/internal/config"
	httptask "taskfleet/internal/handlers/http"
	"taskfleet/internal/handlers/shell"
	"taskfleet/internal/registry"
	"taskfleet/internal/scheduler"
)

var enableDebug bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the scheduler and the status server",
	RunE:  runScheduler,
}

func init() {
	runCmd.Flags().BoolVar(&enableDebug, "debug", false, "expose /debug/pprof on the status server")
}

func runScheduler(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, store, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	node, err := cfg.Node()
	if err != nil {
		return err
	}
	res, err := cfg.Resolver()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := scheduler.NewService(scheduler.Config{
		Store:         store,
		Registry:      registry.New(configuredTasks(cfg)...),
		Resolver:      res,
		Node:          node,
		Strategy:      cfg.LeaseStrategy(),
		MaxConcurrent: cfg.Executor.MaxConcurrent,
		Logger:        &logger,
		Metrics:       scheduler.NewMetrics(reg),
	})
	if err := svc.Start(ctx); err != nil {
		return err
	}

	var srv *http.Server
	if cfg.HTTP.Addr != "" {
		srv = &http.Server{
			Addr: cfg.HTTP.Addr,
			Handler: api.NewServer(svc, store, api.Options{
				Gatherer:    reg,
				EnableDebug: enableDebug,
				Logger:      logger,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("http server")
				stop()
			}
		}()
	}

	notify(logger, daemon.SdNotifyReady)
	<-ctx.Done()
	logger.Info().Msg("shutting down")
	notify(logger, daemon.SdNotifyStopping)

	timeout := cfg.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}
	svc.Stop(shutdownCtx)
	return nil
}

// configuredTasks declares the shell and http tasks listed in config.
func configuredTasks(cfg config.Config) []registry.Declaration {
	decls := make([]registry.Declaration, 0, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		opt := registry.WithProfile(t.ProfileName())
		switch {
		case t.Shell != nil:
			decls = append(decls, registry.Method(registry.Instance(*t.Shell), t.Name, shell.Cmd.Run, opt))
		case t.HTTP != nil:
			decls = append(decls, registry.Method(registry.Instance(*t.HTTP), t.Name, httptask.Request.Run, opt))
		default:
			decls = append(decls, registry.Func(t.Name, nil, opt))
		}
	}
	return decls
}

func notify(logger zerolog.Logger, state string) {
	ok, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Warn().Err(err).Str("state", state).Msg("systemd notify failed")
		return
	}
	if ok {
		logger.Debug().Str("state", state).Msg("systemd notified")
	}
}
