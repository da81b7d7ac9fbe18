// Package procwait waits for OS processes the provisioner did not start (or
// started detached) by polling the process table until no process matches a
// pattern. Absence of the pattern is the completion signal: there is no
// handle to join on for jobs owned by the OS itself (e.g. unattended
// upgrades), so this is the only join mechanism available.
package procwait

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/slok/firstboot/internal/log"
	"github.com/slok/firstboot/internal/progress"
)

// Process is a single entry of the OS process table.
type Process struct {
	PID     int32
	Command string
}

// Lister lists the current OS process table.
type Lister interface {
	Processes(ctx context.Context) ([]Process, error)
}

type psutilLister bool

// NewPSUtilLister returns a Lister based on the real OS process table.
func NewPSUtilLister() Lister { return psutilLister(true) }

func (psutilLister) Processes(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list processes: %w", err)
	}

	result := make([]Process, 0, len(procs))
	for _, p := range procs {
		// Command line is preferred so patterns can match arguments, fall
		// back to the process name for kernel threads and the like.
		cmd, err := p.CmdlineWithContext(ctx)
		if err != nil || cmd == "" {
			cmd, _ = p.NameWithContext(ctx)
		}
		if cmd == "" {
			continue
		}
		result = append(result, Process{PID: p.Pid, Command: cmd})
	}

	return result, nil
}

// WaiterConfig is the configuration for the process waiter.
type WaiterConfig struct {
	Lister   Lister
	Reporter progress.Reporter
	Logger   log.Logger
	// Interval between polls of the process table.
	Interval time.Duration
	// Timeout aborts the wait when exceeded. Zero disables it: a
	// provisioning run prefers an indefinite wait over a false failure.
	Timeout time.Duration
}

func (c *WaiterConfig) defaults() error {
	if c.Lister == nil {
		c.Lister = NewPSUtilLister()
	}
	if c.Reporter == nil {
		c.Reporter = progress.NewNoop()
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "procwait.Waiter"})
	if c.Interval <= 0 {
		c.Interval = 500 * time.Millisecond
	}
	return nil
}

// Waiter blocks until no process matches a pattern.
type Waiter struct {
	lister   Lister
	reporter progress.Reporter
	logger   log.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewWaiter creates a new process waiter.
func NewWaiter(cfg WaiterConfig) (*Waiter, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Waiter{
		lister:   cfg.Lister,
		reporter: cfg.Reporter,
		logger:   cfg.Logger,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
	}, nil
}

// WaitFor blocks until no process in the process table matches pattern.
// Zero matches at the first poll is a no-op success, so it serves both "wait
// for a process I just started" and "wait for a process that might not have
// started yet" (callers allow a grace period for the latter). Each poll
// advances the progress spinner so the operator sees liveness.
func (w *Waiter) WaitFor(ctx context.Context, pattern string) error {
	var deadline <-chan time.Time
	if w.timeout > 0 {
		t := time.NewTimer(w.timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		matched, err := w.anyMatch(ctx, pattern)
		if err != nil {
			return err
		}
		if !matched {
			w.logger.Debugf("No process matching %q, wait satisfied", pattern)
			return nil
		}

		w.reporter.Tick()

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %q cancelled: %w", pattern, ctx.Err())
		case <-deadline:
			return fmt.Errorf("timed out after %s waiting for %q to finish", w.timeout, pattern)
		case <-time.After(w.interval):
		}
	}
}

func (w *Waiter) anyMatch(ctx context.Context, pattern string) (bool, error) {
	procs, err := w.lister.Processes(ctx)
	if err != nil {
		return false, fmt.Errorf("could not poll process table: %w", err)
	}

	for _, p := range procs {
		if strings.Contains(p.Command, pattern) {
			return true, nil
		}
	}

	return false, nil
}

// IsRunning returns whether any process currently matches pattern.
func (w *Waiter) IsRunning(ctx context.Context, pattern string) (bool, error) {
	return w.anyMatch(ctx, pattern)
}
