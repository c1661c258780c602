package system

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ServiceManager controls and inspects OS-managed services. The
// lifecycle orchestrator only talks to this interface; tests inject a
// recording fake.
type ServiceManager interface {
	Enable(ctx context.Context, name string) error
	Disable(ctx context.Context, name string) error
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	Reload(ctx context.Context, name string) error
	IsActive(ctx context.Context, name string) bool
	IsEnabled(ctx context.Context, name string) bool
	Status(ctx context.Context, name string) string
	PID(ctx context.Context, name string) int
}

// SystemdManager implements ServiceManager via systemctl.
type SystemdManager struct {
	runner Runner
	logger zerolog.Logger
}

// NewSystemdManager creates a systemctl-backed service manager.
func NewSystemdManager(runner Runner, logger zerolog.Logger) *SystemdManager {
	return &SystemdManager{
		runner: runner,
		logger: logger.With().Str("component", "systemd").Logger(),
	}
}

func (m *SystemdManager) systemctl(ctx context.Context, verb, name string) error {
	output, err := m.runner.Run(ctx, "systemctl", verb, name)
	if err != nil {
		return fmt.Errorf("systemctl %s %s: %w: %s", verb, name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (m *SystemdManager) Enable(ctx context.Context, name string) error {
	return m.systemctl(ctx, "enable", name)
}

func (m *SystemdManager) Disable(ctx context.Context, name string) error {
	return m.systemctl(ctx, "disable", name)
}

func (m *SystemdManager) Start(ctx context.Context, name string) error {
	return m.systemctl(ctx, "start", name)
}

func (m *SystemdManager) Stop(ctx context.Context, name string) error {
	return m.systemctl(ctx, "stop", name)
}

func (m *SystemdManager) Restart(ctx context.Context, name string) error {
	return m.systemctl(ctx, "restart", name)
}

func (m *SystemdManager) Reload(ctx context.Context, name string) error {
	return m.systemctl(ctx, "reload", name)
}

// IsActive reports whether the unit is currently running. systemctl
// exits non-zero for inactive units, which is not an error here.
func (m *SystemdManager) IsActive(ctx context.Context, name string) bool {
	output, _ := m.runner.Run(ctx, "systemctl", "is-active", name)
	return strings.TrimSpace(string(output)) == "active"
}

// IsEnabled reports whether the unit starts at boot.
func (m *SystemdManager) IsEnabled(ctx context.Context, name string) bool {
	output, _ := m.runner.Run(ctx, "systemctl", "is-enabled", name)
	return strings.TrimSpace(string(output)) == "enabled"
}

// Status returns the unit's ActiveState ("active", "inactive",
// "failed", ...) or "unknown" when the query fails.
func (m *SystemdManager) Status(ctx context.Context, name string) string {
	output, err := m.runner.Run(ctx, "systemctl", "show", name, "--property=ActiveState", "--value")
	if err != nil {
		return "unknown"
	}
	state := strings.TrimSpace(string(output))
	if state == "" {
		return "unknown"
	}
	return state
}

// PID returns the unit's main process id, or 0 when not running.
func (m *SystemdManager) PID(ctx context.Context, name string) int {
	output, err := m.runner.Run(ctx, "systemctl", "show", name, "--property=MainPID", "--value")
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(output)))
	if err != nil {
		return 0
	}
	return pid
}

// ServiceInfo is a point-in-time snapshot of one unit's state.
type ServiceInfo struct {
	Name    string `json:"name"`
	Active  bool   `json:"active"`
	Enabled bool   `json:"enabled"`
	Status  string `json:"status"`
	PID     int    `json:"pid"`
}

// QueryService collects a full snapshot of one unit.
func QueryService(ctx context.Context, mgr ServiceManager, name string) ServiceInfo {
	return ServiceInfo{
		Name:    name,
		Active:  mgr.IsActive(ctx, name),
		Enabled: mgr.IsEnabled(ctx, name),
		Status:  mgr.Status(ctx, name),
		PID:     mgr.PID(ctx, name),
	}
}
