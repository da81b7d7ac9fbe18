// Package oscmd is the boundary to external OS tooling. Commands are opaque:
// the provisioner only observes exit status, it never parses tool output.
package oscmd

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/slok/firstboot/internal/log"
)

// Runner runs external OS commands.
type Runner interface {
	// Run executes a command synchronously and returns an error on non-zero
	// exit. The error message carries a tail of the combined output for
	// diagnosis.
	Run(ctx context.Context, name string, args ...string) error
	// Start launches a command detached (fire and forget). The caller joins
	// on it through the process waiter, exit status is not observed.
	Start(ctx context.Context, name string, args ...string) error
}

// ExecRunnerConfig is the configuration for the exec based runner.
type ExecRunnerConfig struct {
	Logger log.Logger
}

func (c *ExecRunnerConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "oscmd.ExecRunner"})
	return nil
}

// ExecRunner is a Runner implementation based on os/exec.
type ExecRunner struct {
	logger log.Logger
}

// NewExecRunner creates a new exec based command runner.
func NewExecRunner(cfg ExecRunnerConfig) (*ExecRunner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &ExecRunner{logger: cfg.Logger}, nil
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	r.logger.Debugf("Running command: %s %s", name, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w (%s)", name, err, outputTail(out))
	}

	return nil
}

func (r *ExecRunner) Start(ctx context.Context, name string, args ...string) error {
	r.logger.Debugf("Starting detached command: %s %s", name, strings.Join(args, " "))

	// Not CommandContext on purpose: the detached job must outlive step
	// boundaries, its completion is observed through the process table.
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("could not start %s: %w", name, err)
	}

	// Reap the child when it exits so it doesn't linger as a zombie while
	// the run is still in progress.
	go func() { _ = cmd.Wait() }()

	return nil
}

const outputTailLen = 400

func outputTail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if s == "" {
		return "no output"
	}
	if len(s) > outputTailLen {
		s = "..." + s[len(s)-outputTailLen:]
	}
	return s
}
