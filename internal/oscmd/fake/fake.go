// Package fake provides an oscmd.Runner that records commands instead of
// executing them. Used by tests to assert tool invocation order without
// touching the machine.
package fake

import (
	"context"
	"strings"
	"sync"
)

// Call is a single recorded command invocation.
type Call struct {
	Name     string
	Args     []string
	Detached bool
}

// Line returns the invocation as a single command line string.
func (c Call) Line() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Runner is a fake implementation of oscmd.Runner.
type Runner struct {
	mu    sync.Mutex
	calls []Call
	// Errs maps a command line (see Call.Line) to the error it must return.
	Errs map[string]error
}

// NewRunner creates a new fake command runner.
func NewRunner() *Runner {
	return &Runner{Errs: map[string]error{}}
}

func (r *Runner) Run(_ context.Context, name string, args ...string) error {
	return r.record(Call{Name: name, Args: args})
}

func (r *Runner) Start(_ context.Context, name string, args ...string) error {
	return r.record(Call{Name: name, Args: args, Detached: true})
}

func (r *Runner) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, c)
	return r.Errs[c.Line()]
}

// Calls returns a copy of the recorded invocations.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	calls := make([]Call, len(r.calls))
	copy(calls, r.calls)
	return calls
}

// Lines returns the recorded invocations as command line strings.
func (r *Runner) Lines() []string {
	calls := r.Calls()
	lines := make([]string, 0, len(calls))
	for _, c := range calls {
		lines = append(lines, c.Line())
	}
	return lines
}
