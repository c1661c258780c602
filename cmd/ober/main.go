package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dirkpetersen/ober/pkg/check"
	"github.com/dirkpetersen/ober/pkg/config"
	"github.com/dirkpetersen/ober/pkg/exporter"
	"github.com/dirkpetersen/ober/pkg/lifecycle"
	"github.com/dirkpetersen/ober/pkg/metrics"
	"github.com/dirkpetersen/ober/pkg/probe"
	"github.com/dirkpetersen/ober/pkg/status"
	"github.com/dirkpetersen/ober/pkg/system"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `Usage: ober [flags] <command>

Commands:
  start     Start HAProxy and the HA mechanism
  stop      Stop services (graceful by default, --force for immediate)
  restart   Restart services (--reload-only for zero-downtime reload)
  status    Show service status
  test      Validate configuration and test connectivity
  config    Regenerate failover daemon configurations
  monitor   Run the Prometheus exporter

Flags:
  -config path   Path to ober.yaml (default /etc/ober/ober.yaml)
  -debug         Enable debug logging
  -json          JSON output for status and test
`

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	configPath := flag.String("config", "/etc/ober/ober.yaml", "Path to the configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	jsonOut := flag.Bool("json", false, "JSON output where supported")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := system.NewExecRunner(log.Logger)
	services := system.NewSystemdManager(runner, log.Logger)
	orch := lifecycle.New(cfg, services, log.Logger)

	switch args[0] {
	case "start":
		runStart(ctx, cfg, orch)
	case "stop":
		fs := flag.NewFlagSet("stop", flag.ExitOnError)
		force := fs.Bool("force", false, "Force immediate stop without graceful shutdown")
		fs.Parse(args[1:])
		runStop(ctx, orch, *force)
	case "restart":
		fs := flag.NewFlagSet("restart", flag.ExitOnError)
		reloadOnly := fs.Bool("reload-only", false, "Only reload HAProxy config (zero-downtime)")
		fs.Parse(args[1:])
		runRestart(ctx, orch, *reloadOnly)
	case "status":
		runStatus(ctx, cfg, services, runner, *jsonOut)
	case "test":
		runTest(ctx, cfg, runner, *jsonOut)
	case "config":
		runConfig(ctx, cfg, runner)
	case "monitor":
		runMonitor(ctx, cfg, services, runner)
	default:
		log.Error().Str("command", args[0]).Msg("Unknown command")
		flag.Usage()
		os.Exit(1)
	}
}

func reportWarnings(res *lifecycle.Result) {
	if err := lifecycle.WarningError(res); err != nil {
		log.Warn().Err(err).Msg("Completed with warnings")
	}
}

func runStart(ctx context.Context, cfg *config.Config, orch *lifecycle.Orchestrator) {
	// The failover configuration is regenerated on every start so it
	// always reflects the current node set and VIP list.
	if err := generateConfigs(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to generate failover configuration")
	}

	res, err := orch.Start(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	reportWarnings(res)
	log.Info().Msg("Services started. Run 'ober status' to check service health")
}

func runStop(ctx context.Context, orch *lifecycle.Orchestrator, force bool) {
	res, err := orch.Stop(ctx, force)
	reportWarnings(res)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to stop services")
	}
	log.Info().Msg("Services stopped")
}

func runRestart(ctx context.Context, orch *lifecycle.Orchestrator, reloadOnly bool) {
	res, err := orch.Restart(ctx, reloadOnly)
	reportWarnings(res)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to restart services")
	}
	log.Info().Msg("Services restarted")
}

func runStatus(ctx context.Context, cfg *config.Config, services system.ServiceManager, runner system.Runner, jsonOut bool) {
	collector := status.New(cfg, services, runner, fileExists, log.Logger)
	snap := collector.Collect(ctx)

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			log.Fatal().Err(err).Msg("Failed to encode status")
		}
		return
	}

	for name, svc := range snap.Services {
		log.Info().
			Str("service", name).
			Str("status", svc.Status).
			Bool("enabled", svc.Enabled).
			Int("pid", svc.PID).
			Msg("Service")
	}
	if snap.HAProxy.Version != "" {
		log.Info().Str("version", snap.HAProxy.Version).Msg("HAProxy")
	}
	if snap.BGP.Version != "" {
		log.Info().Str("version", snap.BGP.Version).Msg("ExaBGP")
	}
	if snap.Keepalived.Version != "" {
		log.Info().Str("version", snap.Keepalived.Version).Msg("Keepalived")
	}
	for instance, state := range snap.Keepalived.VRRPState {
		log.Info().Str("instance", instance).Str("state", state).Msg("VRRP")
	}
	if len(snap.Config.VIPs) > 0 {
		log.Info().Strs("vips", snap.Config.VIPs).Msg("Configured VIPs")
	}
}

func runTest(ctx context.Context, cfg *config.Config, runner system.Runner, jsonOut bool) {
	prober := probe.NewProber(10, 5)
	checker := check.New(cfg, runner, prober, log.Logger)
	report := checker.Run(ctx)

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			log.Fatal().Err(err).Msg("Failed to encode report")
		}
	} else {
		for _, t := range report.Tests {
			ev := log.Info()
			if !t.Passed {
				ev = log.Warn()
			}
			ev.Bool("passed", t.Passed).Str("detail", t.Message).Msg(t.Name)
		}
		for _, e := range report.Errors {
			log.Error().Msg(e)
		}
		for _, w := range report.Warnings {
			log.Warn().Msg(w)
		}
	}

	// Warnings alone are not fatal; an invalid configuration is.
	if !report.ConfigValid {
		os.Exit(1)
	}
}

func runConfig(ctx context.Context, cfg *config.Config, runner system.Runner) {
	if err := generateConfigs(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to generate failover configuration")
	}
	log.Info().Msg("Failover configuration generated")
}

func runMonitor(ctx context.Context, cfg *config.Config, services system.ServiceManager, runner system.Runner) {
	collector := status.New(cfg, services, runner, fileExists, log.Logger)
	server := exporter.NewServer(cfg, collector, metrics.NewSet(), log.Logger)
	if err := server.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Exporter failed")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
