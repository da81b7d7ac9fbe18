// Package progress renders operator-facing progress for the provisioning run.
//
// The run is strictly sequential, so there is at most one open task. Callers
// are not required to close a task before opening the next one: Begin
// finalizes whatever task is currently open. This models fire-and-forget
// sequencing where only the caller knows the real completion boundary.
package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/slok/firstboot/internal/model"
)

// Reporter is the progress stream the provisioning steps report through.
// Implementations never return errors and never block the caller.
type Reporter interface {
	// Begin finalizes the currently open task (if any) as done and opens a
	// new one. It returns the task it owns so callers can inspect it.
	Begin(name string) *model.Task
	// Tick advances the liveness spinner of the open task.
	Tick()
	// End finalizes the currently open task as done.
	End()
	// Fail finalizes the currently open task as failed.
	Fail(err error)
}

var defaultFrames = []rune{'|', '/', '-', '\\'}

// ConsoleConfig is the configuration for the console reporter.
type ConsoleConfig struct {
	Out    io.Writer
	Frames []rune
}

func (c *ConsoleConfig) defaults() error {
	if c.Out == nil {
		return fmt.Errorf("output writer is required")
	}
	if len(c.Frames) == 0 {
		c.Frames = defaultFrames
	}
	return nil
}

// Console is a Reporter that renders tasks to a terminal, updating the
// current line in place.
type Console struct {
	out     io.Writer
	frames  []rune
	frame   int
	current *model.Task
	mu      sync.Mutex
}

// NewConsole creates a new console reporter.
func NewConsole(cfg ConsoleConfig) (*Console, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Console{
		out:    cfg.Out,
		frames: cfg.Frames,
	}, nil
}

func (c *Console) Begin(name string) *model.Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.finalize(model.TaskStatusDone, "")

	task := &model.Task{Name: name, Status: model.TaskStatusPending}
	task.Status = model.TaskStatusRunning
	c.current = task
	c.frame = 0
	fmt.Fprintf(c.out, "%s ... ", name)

	return task
}

func (c *Console) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || c.current.Finished() {
		return
	}

	fmt.Fprintf(c.out, "\r%s ... %c", c.current.Name, c.frames[c.frame])
	c.frame = (c.frame + 1) % len(c.frames)
}

func (c *Console) End() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.finalize(model.TaskStatusDone, "")
}

func (c *Console) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	c.finalize(model.TaskStatusFailed, errMsg)
}

// finalize moves the open task to a terminal state exactly once and emits its
// completion marker. Must be called with the lock held.
func (c *Console) finalize(status model.TaskStatus, errMsg string) {
	if c.current == nil || c.current.Finished() {
		c.current = nil
		return
	}

	c.current.Status = status
	c.current.Error = errMsg

	switch status {
	case model.TaskStatusFailed:
		fmt.Fprintf(c.out, "\r%s ... failed\n", c.current.Name)
	default:
		fmt.Fprintf(c.out, "\r%s ... done\n", c.current.Name)
	}

	c.current = nil
}

// Noop is a reporter that tracks task state but renders nothing. Useful for
// tests and quiet runs.
type Noop struct {
	mu      sync.Mutex
	current *model.Task
}

func NewNoop() *Noop { return &Noop{} }

func (n *Noop) Begin(name string) *model.Task {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.current != nil && !n.current.Finished() {
		n.current.Status = model.TaskStatusDone
	}
	n.current = &model.Task{Name: name, Status: model.TaskStatusRunning}
	return n.current
}

func (n *Noop) Tick() {}

func (n *Noop) End() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.current != nil && !n.current.Finished() {
		n.current.Status = model.TaskStatusDone
	}
	n.current = nil
}

func (n *Noop) Fail(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.current != nil && !n.current.Finished() {
		n.current.Status = model.TaskStatusFailed
		if err != nil {
			n.current.Error = err.Error()
		}
	}
	n.current = nil
}
