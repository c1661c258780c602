// Package lifecycle sequences start, stop and restart of the edge
// proxy and the configured HA mechanism. Ordering is the whole point:
// the proxy must accept connections before routes or VIPs send traffic
// its way, and traffic must be withdrawn and drained before the proxy
// goes down.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dirkpetersen/ober/pkg/config"
	"github.com/dirkpetersen/ober/pkg/system"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Fixed delays. Settle gives HAProxy a moment to bind its listeners
// before the HA mechanism attracts traffic; drain lets in-flight
// connections finish after routes/VIPs are withdrawn.
const (
	SettleDelay = 1 * time.Second
	DrainDelay  = 5 * time.Second
)

// ErrNotPrivileged is returned when a lifecycle operation is attempted
// without root privileges. It is a hard precondition, not retryable.
var ErrNotPrivileged = fmt.Errorf("lifecycle operations require root privileges")

// Sleeper abstracts the settle/drain waits so tests run instantly.
type Sleeper interface {
	Sleep(d time.Duration)
}

// SleeperFunc adapts a function to the Sleeper interface.
type SleeperFunc func(d time.Duration)

func (f SleeperFunc) Sleep(d time.Duration) { f(d) }

// Result reports the outcome of a lifecycle operation. Warnings are
// non-fatal failures (HA mechanism trouble); a nil error with warnings
// still counts as success.
type Result struct {
	Warnings []string
}

func (r *Result) warnf(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Orchestrator drives the two managed services in order.
type Orchestrator struct {
	cfg        *config.Config
	services   system.ServiceManager
	sleeper    Sleeper
	privileged func() bool
	logger     zerolog.Logger
}

// New creates an orchestrator bound to the given service manager.
func New(cfg *config.Config, services system.ServiceManager, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		services:   services,
		sleeper:    SleeperFunc(time.Sleep),
		privileged: system.Privileged,
		logger:     logger.With().Str("component", "lifecycle").Logger(),
	}
}

// SetSleeper replaces the settle/drain wait implementation.
func (o *Orchestrator) SetSleeper(s Sleeper) { o.sleeper = s }

// SetPrivilegeCheck replaces the privilege probe.
func (o *Orchestrator) SetPrivilegeCheck(fn func() bool) { o.privileged = fn }

// Start brings services up: HAProxy first, then the HA mechanism once
// the proxy has had a moment to start accepting connections. A missing
// HA prerequisite (no neighbors, no rendered config) downgrades the HA
// start to a warning; the proxy alone is still a working deployment.
func (o *Orchestrator) Start(ctx context.Context) (*Result, error) {
	if !o.privileged() {
		return nil, ErrNotPrivileged
	}

	res := &Result{}

	if _, err := os.Stat(o.cfg.HAProxyConfigPath()); err != nil {
		return nil, fmt.Errorf("HAProxy configuration not found at %s: run 'ober config' first", o.cfg.HAProxyConfigPath())
	}

	o.logger.Info().Msg("Starting ober services")

	if err := o.services.Enable(ctx, config.ServiceHTTP); err != nil {
		return nil, fmt.Errorf("failed to enable %s: %w", config.ServiceHTTP, err)
	}
	if err := o.services.Start(ctx, config.ServiceHTTP); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", config.ServiceHTTP, err)
	}
	o.logger.Info().Str("service", config.ServiceHTTP).Msg("Started HAProxy")

	o.sleeper.Sleep(SettleDelay)

	switch o.cfg.HAMode {
	case config.HAModeBGP:
		if !o.bgpConfigured() {
			o.logger.Warn().Msg("Skipping ober-bgp (not configured)")
			res.warnf("skipping %s: BGP not configured", config.ServiceBGP)
			return res, nil
		}
		if err := o.startHA(ctx, config.ServiceBGP); err != nil {
			res.warnf("%v", err)
		} else {
			o.logger.Info().Str("service", config.ServiceBGP).Msg("Started ExaBGP")
		}
	case config.HAModeKeepalived:
		if _, err := os.Stat(o.cfg.KeepalivedConfigPath()); err != nil {
			o.logger.Warn().Msg("Skipping ober-ha (not configured)")
			res.warnf("skipping %s: keepalived not configured", config.ServiceHA)
			return res, nil
		}
		if err := o.startHA(ctx, config.ServiceHA); err != nil {
			res.warnf("%v", err)
		} else {
			o.logger.Info().Str("service", config.ServiceHA).Msg("Started keepalived")
		}
	}

	return res, nil
}

func (o *Orchestrator) bgpConfigured() bool {
	if len(o.cfg.BGP.Neighbors) == 0 {
		return false
	}
	_, err := os.Stat(o.cfg.BGPConfigPath())
	return err == nil
}

func (o *Orchestrator) startHA(ctx context.Context, name string) error {
	if err := o.services.Enable(ctx, name); err != nil {
		return fmt.Errorf("failed to enable %s: %w", name, err)
	}
	if err := o.services.Start(ctx, name); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}
	return nil
}

// Stop brings services down. Graceful (default): withdraw the HA
// mechanism first so no new traffic arrives, drain, then stop the
// proxy. Forced: stop everything immediately without draining.
// HA stop failures are warnings; a proxy stop failure is fatal.
func (o *Orchestrator) Stop(ctx context.Context, force bool) (*Result, error) {
	if !o.privileged() {
		return nil, ErrNotPrivileged
	}

	res := &Result{}
	o.logger.Info().Bool("force", force).Msg("Stopping ober services")

	bgpActive := o.services.IsActive(ctx, config.ServiceBGP)
	haActive := o.services.IsActive(ctx, config.ServiceHA)
	httpActive := o.services.IsActive(ctx, config.ServiceHTTP)

	if !force {
		if o.cfg.HAMode == config.HAModeBGP && bgpActive {
			o.logger.Info().Msg("Withdrawing BGP routes")
			if err := o.services.Stop(ctx, config.ServiceBGP); err != nil {
				res.warnf("failed to stop %s: %v", config.ServiceBGP, err)
			} else {
				bgpActive = false
			}
		} else if o.cfg.HAMode == config.HAModeKeepalived && haActive {
			o.logger.Info().Msg("Releasing VIPs")
			if err := o.services.Stop(ctx, config.ServiceHA); err != nil {
				res.warnf("failed to stop %s: %v", config.ServiceHA, err)
			} else {
				haActive = false
			}
		}

		if httpActive {
			o.logger.Info().Dur("drain", DrainDelay).Msg("Waiting for connections to drain")
			o.sleeper.Sleep(DrainDelay)
		}
	}

	if httpActive {
		if err := o.services.Stop(ctx, config.ServiceHTTP); err != nil {
			return res, fmt.Errorf("failed to stop %s: %w", config.ServiceHTTP, err)
		}
		o.logger.Info().Str("service", config.ServiceHTTP).Msg("Stopped HAProxy")
	} else {
		o.logger.Debug().Msg("ober-http was not running")
	}

	// Sweep up any HA service still active, regardless of mode.
	if bgpActive {
		if err := o.services.Stop(ctx, config.ServiceBGP); err != nil {
			res.warnf("failed to stop %s: %v", config.ServiceBGP, err)
		}
	}
	if haActive {
		if err := o.services.Stop(ctx, config.ServiceHA); err != nil {
			res.warnf("failed to stop %s: %v", config.ServiceHA, err)
		}
	}

	return res, nil
}

// Restart restarts services. With reloadOnly, HAProxy reloads its
// configuration in place (zero downtime) without touching the HA
// mechanism; a reload failure escalates to a full HAProxy restart
// rather than failing outright.
func (o *Orchestrator) Restart(ctx context.Context, reloadOnly bool) (*Result, error) {
	if !o.privileged() {
		return nil, ErrNotPrivileged
	}

	res := &Result{}

	if reloadOnly {
		if !o.services.IsActive(ctx, config.ServiceHTTP) {
			o.logger.Warn().Msg("HAProxy is not running, starting instead")
			return o.Start(ctx)
		}
		if err := o.services.Reload(ctx, config.ServiceHTTP); err != nil {
			o.logger.Error().Err(err).Msg("Reload failed, attempting full restart")
			res.warnf("reload of %s failed, escalated to restart: %v", config.ServiceHTTP, err)
			if err := o.services.Restart(ctx, config.ServiceHTTP); err != nil {
				return res, fmt.Errorf("failed to restart %s after reload failure: %w", config.ServiceHTTP, err)
			}
		}
		o.logger.Info().Msg("HAProxy configuration reloaded")
		return res, nil
	}

	o.logger.Info().Msg("Restarting ober services")

	if err := o.services.Restart(ctx, config.ServiceHTTP); err != nil {
		return nil, fmt.Errorf("failed to restart %s: %w", config.ServiceHTTP, err)
	}
	o.logger.Info().Str("service", config.ServiceHTTP).Msg("Restarted HAProxy")

	o.sleeper.Sleep(SettleDelay)

	haService := o.cfg.HAServiceName()
	if o.services.IsEnabled(ctx, haService) {
		if err := o.services.Restart(ctx, haService); err != nil {
			res.warnf("failed to restart %s: %v", haService, err)
		} else {
			o.logger.Info().Str("service", haService).Msg("Restarted HA service")
		}
	}

	return res, nil
}

// WarningError folds a result's warnings into one error value for
// callers that want them as a single report line.
func WarningError(res *Result) error {
	if res == nil || len(res.Warnings) == 0 {
		return nil
	}
	var merr *multierror.Error
	for _, w := range res.Warnings {
		merr = multierror.Append(merr, fmt.Errorf("%s", w))
	}
	return merr.ErrorOrNil()
}
