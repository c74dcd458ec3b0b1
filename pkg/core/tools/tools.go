// Package tools defines the function-calling surface exposed to the language
// model and dispatches calls to injected handlers under a hard timeout.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Definition describes one callable function in the shape the LLM stage
// serializes into its request.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Handler executes one tool call. Handlers must honor ctx cancellation;
// the dispatcher stops waiting when the timeout elapses but cannot stop a
// handler that ignores its context.
type Handler func(ctx context.Context, input map[string]any) (string, error)

// Result is what flows back to the LLM stage for a tool call. IsError marks
// a failed or timed-out call so the model can recover conversationally.
type Result struct {
	Content string
	IsError bool
}

// Binding pairs a definition with its handler.
type Binding struct {
	Definition Definition
	Handler    Handler
}

const defaultTimeout = 5 * time.Second

// Dispatcher routes tool calls by name and bounds how long a single call may
// hold up the conversation turn.
type Dispatcher struct {
	byName  map[string]Binding
	timeout time.Duration
	logger  *slog.Logger
}

func NewDispatcher(timeout time.Duration, logger *slog.Logger, bindings ...Binding) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		byName:  make(map[string]Binding, len(bindings)),
		timeout: timeout,
		logger:  logger,
	}
	for _, b := range bindings {
		if b.Definition.Name == "" || b.Handler == nil {
			continue
		}
		d.byName[b.Definition.Name] = b
	}
	return d
}

// Definitions returns the registered tool definitions sorted by name, for
// inclusion in LLM requests.
func (d *Dispatcher) Definitions() []Definition {
	if d == nil {
		return nil
	}
	out := make([]Definition, 0, len(d.byName))
	for _, b := range d.byName {
		out = append(out, b.Definition)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch runs the named tool and always returns a Result the LLM stage can
// feed back to the model. Unknown names, handler errors, and timeouts come
// back as error results rather than Go errors so a stuck or broken tool
// never kills the turn.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, input map[string]any) Result {
	if d == nil {
		return Result{Content: "no tools are configured", IsError: true}
	}
	b, ok := d.byName[name]
	if !ok {
		return Result{Content: fmt.Sprintf("unknown tool %q", name), IsError: true}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		content string
		err     error
	}
	ch := make(chan outcome, 1)
	go func() {
		content, err := b.Handler(callCtx, input)
		ch <- outcome{content: content, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			d.logger.Warn("tool call failed", "tool", name, "error", out.err)
			return Result{Content: fmt.Sprintf("tool %s failed: %v", name, out.err), IsError: true}
		}
		return Result{Content: out.content}
	case <-callCtx.Done():
		d.logger.Warn("tool call timed out", "tool", name, "timeout", d.timeout)
		return Result{Content: fmt.Sprintf("tool %s did not respond within %s", name, d.timeout), IsError: true}
	}
}
