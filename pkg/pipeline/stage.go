package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// PreProcessor normalizes an input envelope before execution. It cannot
// fail; malformed entries are dropped or passed through, never fatal.
type PreProcessor interface {
	Apply(in Input, run *Context) Input
}

// Executor resolves and executes the operation's statement. The
// context.Context bounds the backend call only; the pipeline adds no
// cancellation points of its own.
type Executor interface {
	Apply(ctx context.Context, in Input, run *Context) (Output, error)
}

// PostProcessor shapes an output envelope after execution. Like the
// pre-processor it cannot fail.
type PostProcessor interface {
	Apply(out Output, run *Context) Output
}

// PreFunc adapts a function to the PreProcessor interface.
type PreFunc func(in Input, run *Context) Input

// Apply calls f.
func (f PreFunc) Apply(in Input, run *Context) Input { return f(in, run) }

// PostFunc adapts a function to the PostProcessor interface.
type PostFunc func(out Output, run *Context) Output

// Apply calls f.
func (f PostFunc) Apply(out Output, run *Context) Output { return f(out, run) }

// Runner chains the fixed pre-process, execute, post-process sequence
// for one operation. It never reorders, skips, or retries stages.
type Runner struct {
	operation string
	pre       PreProcessor
	exec      Executor
	post      PostProcessor
}

// NewRunner builds a Runner for the named operation. The executor is
// required; a nil pre- or post-processor defaults to pass-through.
func NewRunner(operation string, pre PreProcessor, exec Executor, post PostProcessor) (*Runner, error) {
	if operation == "" {
		return nil, errors.New("operation name is required")
	}
	if exec == nil {
		return nil, fmt.Errorf("operation %s: executor is required", operation)
	}
	if pre == nil {
		pre = PreFunc(func(in Input, _ *Context) Input { return in })
	}
	if post == nil {
		post = PostFunc(func(out Output, _ *Context) Output { return out })
	}
	return &Runner{operation: operation, pre: pre, exec: exec, post: post}, nil
}

// Operation returns the operation name this runner serves.
func (r *Runner) Operation() string { return r.operation }

// Run executes the three stages in order. An executor failure aborts
// the run; the post-process stage never sees a failed execution. The
// returned error carries stage and operation attribution.
func (r *Runner) Run(ctx context.Context, in Input, run *Context) (Output, error) {
	pre := r.pre.Apply(in, run)

	out, err := r.exec.Apply(ctx, pre, run)
	if err != nil {
		var pe *Error
		if errors.As(err, &pe) {
			pe.At(StageExec, r.operation)
			return Output{}, err
		}
		return Output{}, Internalf("unclassified executor failure").At(StageExec, r.operation).Wrap(err)
	}

	return r.post.Apply(out, run), nil
}
