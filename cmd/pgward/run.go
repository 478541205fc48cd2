package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"pgward/internal/config"
	"pgward/internal/orchestrator"
)

// runDaemon starts one orchestrator per configured target and blocks until
// the process is signaled to stop. When a listen address is configured the
// status API is served alongside the schedulers.
func runDaemon() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	listen := fs.String("listen", "", "Status API listen address (overrides config)")
	configPath := fs.String("config", "", "Path to config file (overrides PGWARD_CONFIG)")
	fs.Parse(os.Args[2:])

	logger := newLogger()

	path := config.Path()
	if *configPath != "" {
		path = *configPath
	}
	cfg, err := config.Parse(path)
	if err != nil {
		logger.Fatal().Err(err).Str("path", path).Msg("failed to load config")
	}
	if err := preflightCheck(true, true); err != nil {
		logger.Fatal().Err(err).Msg("preflight check failed")
	}

	ctx := context.Background()
	orchs := make([]*orchestrator.Orchestrator, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		orch, err := buildTarget(ctx, cfg, t, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("target", t.Key).Msg("failed to set up target")
		}
		orchs = append(orchs, orch)
	}

	for _, orch := range orchs {
		orch.Start()
		logger.Info().
			Str("target", orch.Key()).
			Time("next_run", orch.NextRun()).
			Int("backups", orch.Catalog().Len()).
			Msg("target scheduled")
	}

	addr := cfg.Listen
	if *listen != "" {
		addr = *listen
	}
	if addr != "" {
		srv := newStatusServer(orchs, logger)
		go func() {
			if err := srv.ListenAndServe(addr); err != nil {
				logger.Fatal().Err(err).Msg("status API failed")
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info().Msg("shutting down")
	for _, orch := range orchs {
		orch.Stop()
	}
}
