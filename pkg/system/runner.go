// Package system wraps the external collaborators ober drives: the
// service manager (systemd), the binaries it validates configs with,
// and basic host facts. Everything side-effecting is behind an
// interface so command logic can be tested against fakes.
package system

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCommandTimeout bounds every external command invocation.
// A hung binary must never hang an ober command with it.
const DefaultCommandTimeout = 10 * time.Second

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands via os/exec with a per-call timeout.
type ExecRunner struct {
	Timeout time.Duration
	logger  zerolog.Logger
}

// NewExecRunner creates a Runner with the default timeout.
func NewExecRunner(logger zerolog.Logger) *ExecRunner {
	return &ExecRunner{
		Timeout: DefaultCommandTimeout,
		logger:  logger.With().Str("component", "exec").Logger(),
	}
}

// Run executes name with args, bounded by the runner's timeout on top
// of any deadline already present on ctx.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			r.logger.Warn().Str("cmd", name).Dur("timeout", timeout).Msg("Command timed out")
			return output, context.DeadlineExceeded
		}
		r.logger.Debug().Err(err).Str("cmd", name).Strs("args", args).Msg("Command failed")
		return output, err
	}
	return output, nil
}

// Privileged reports whether the process runs with root privileges.
// Lifecycle operations require this as a hard precondition.
func Privileged() bool {
	return os.Geteuid() == 0
}

// CommandExists reports whether a binary is resolvable on PATH.
func CommandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
