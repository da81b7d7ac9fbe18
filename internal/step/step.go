// Package step runs single provisioning operations against external OS
// tooling and applies the run's failure policy: fatal failures abort the
// whole run, tolerated failures are logged and skipped.
package step

import (
	"context"
	"fmt"

	"github.com/slok/firstboot/internal/log"
	"github.com/slok/firstboot/internal/progress"
)

// Policy selects what a step failure means for the run.
type Policy string

const (
	// PolicyFatal aborts the whole provisioning run on failure. Used for
	// steps with no safe continuation.
	PolicyFatal Policy = "fatal"
	// PolicyTolerated logs the failure and continues. Used for best-effort
	// cleanup steps.
	PolicyTolerated Policy = "tolerated"
)

// Operation is a single external operation. The executor only observes its
// error result, it never interprets tool output.
type Operation func(ctx context.Context) error

// FatalError aborts the provisioning run. It carries the failing step name so
// the operator message has context.
type FatalError struct {
	Step string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// RunnerConfig is the configuration for the step runner.
type RunnerConfig struct {
	Reporter progress.Reporter
	Logger   log.Logger
}

func (c *RunnerConfig) defaults() error {
	if c.Reporter == nil {
		c.Reporter = progress.NewNoop()
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "step.Runner"})
	return nil
}

// Runner executes provisioning steps sequentially, reporting each one through
// the progress reporter.
type Runner struct {
	reporter progress.Reporter
	logger   log.Logger
}

// NewRunner creates a new step runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Runner{
		reporter: cfg.Reporter,
		logger:   cfg.Logger,
	}, nil
}

// Run reports name through the progress reporter and executes op. On failure
// a fatal step returns a *FatalError, a tolerated step logs and returns nil.
func (r *Runner) Run(ctx context.Context, name string, policy Policy, op Operation) error {
	r.reporter.Begin(name)

	err := op(ctx)
	if err == nil {
		r.reporter.End()
		return nil
	}

	if policy == PolicyTolerated {
		r.logger.Warningf("Tolerated failure on %q: %v", name, err)
		// The step still reports completion, the run moves on.
		r.reporter.End()
		return nil
	}

	r.reporter.Fail(err)
	return &FatalError{Step: name, Err: err}
}
