// Package sandbox executes short, model-authored transformation scripts
// against an in-memory record snapshot. The VM has no ambient I/O: the only
// injected surface is the record array, an accumulator, and console.log.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
)

const defaultBudget = 5 * time.Second

// Result is the outcome of a script run.
type Result struct {
	Success bool     `json:"success"`
	Data    []any    `json:"data,omitempty"`
	Error   string   `json:"error,omitempty"`
	Logs    []string `json:"logs,omitempty"`
}

// Executor runs untrusted scripts with a wall-clock budget.
type Executor struct {
	budget time.Duration
}

// New creates an Executor. A budget <= 0 uses the 5s default.
func New(budget time.Duration) *Executor {
	if budget <= 0 {
		budget = defaultBudget
	}
	return &Executor{budget: budget}
}

// Execute evaluates script against entries. The script body runs inside a
// function receiving `entries` and `results`; it must either return an array
// or push extracted items onto `results`. Any exception, budget overrun, or
// non-array return is converted into an error Result — nothing propagates to
// the caller as a Go error or panic.
func (e *Executor) Execute(ctx context.Context, script string, entries []map[string]any) Result {
	var logs []string

	vm := goja.New()

	consoleObj := vm.NewObject()
	if err := consoleObj.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		logs = append(logs, strings.Join(parts, " "))
		return goja.Undefined()
	}); err != nil {
		return Result{Error: fmt.Sprintf("setting up sandbox: %v", err), Logs: logs}
	}
	if err := vm.Set("console", consoleObj); err != nil {
		return Result{Error: fmt.Sprintf("setting up sandbox: %v", err), Logs: logs}
	}

	if err := vm.Set("entries", entries); err != nil {
		return Result{Error: fmt.Sprintf("injecting entries: %v", err), Logs: logs}
	}

	accumulator := vm.NewArray()
	if err := vm.Set("results", accumulator); err != nil {
		return Result{Error: fmt.Sprintf("injecting accumulator: %v", err), Logs: logs}
	}

	// Interrupt the VM when the budget elapses or the caller cancels.
	runCtx, cancel := context.WithTimeout(ctx, e.budget)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-runCtx.Done():
			vm.Interrupt("execution budget exceeded")
		case <-done:
		}
	}()

	wrapped := "(function(entries, results) {\n" + script + "\n})(entries, results);"
	value, err := vm.RunString(wrapped)
	if err != nil {
		return Result{Error: scriptErrorMessage(err), Logs: logs}
	}

	if data, ok := exportArray(value); ok {
		return Result{Success: true, Data: data, Logs: logs}
	}

	// No explicit array return: fall back to the accumulator.
	if data, ok := exportArray(accumulator); ok && len(data) > 0 {
		return Result{Success: true, Data: data, Logs: logs}
	}

	return Result{
		Error: "script must return an array or push items onto results",
		Logs:  logs,
	}
}

// exportArray converts a JS value into a Go slice if it is an array.
func exportArray(v goja.Value) ([]any, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, false
	}
	exported := v.Export()
	data, ok := exported.([]any)
	return data, ok
}

// scriptErrorMessage extracts a clean message from a VM error: the thrown
// Error's message when available, otherwise the engine's own description.
func scriptErrorMessage(err error) string {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return "execution budget exceeded"
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		if obj, ok := exc.Value().(*goja.Object); ok {
			if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
				return msg.String()
			}
		}
		return exc.Value().String()
	}

	return err.Error()
}
