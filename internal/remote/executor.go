// Package remote executes allow-listed diagnostic and management commands
// against gateway hosts over an SSH transport.
package remote

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"fleetgate/internal/types"
)

const (
	// Retry backoff for transport-level failures.
	retryDelay    = 500 * time.Millisecond
	retryMaxDelay = 5 * time.Second
)

// Transport opens one remote-shell session and runs a single command.
// Sessions are never pooled across calls; each invocation is independent.
type Transport interface {
	Exec(ctx context.Context, target types.RemoteTarget, command string, timeout time.Duration) (types.ExecutionResult, error)
}

// Executor runs commands against resolved targets with a retry and timeout
// policy. It keeps no persistent state.
type Executor struct {
	transport Transport
	timeout   time.Duration
	retries   int
}

// NewExecutor returns an Executor with the given defaults. retries is the
// number of additional attempts after the first on transport-level failure.
func NewExecutor(transport Transport, timeout time.Duration, retries int) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	return &Executor{transport: transport, timeout: timeout, retries: retries}
}

// RunNamed executes an allow-listed command by name. The allow-list check
// happens before any network I/O; unknown names fail with
// types.ErrCommandNotAllowed.
func (e *Executor) RunNamed(ctx context.Context, target types.RemoteTarget, name string, args ...string) (types.ExecutionResult, error) {
	spec, ok := LookupCommand(name)
	if !ok {
		log.Printf("[WARN] Rejected command %q for %s: not in allow-list", name, target)
		return types.ExecutionResult{}, fmt.Errorf("%w: %q", types.ErrCommandNotAllowed, name)
	}
	command, err := spec.render(args...)
	if err != nil {
		return types.ExecutionResult{}, err
	}
	return e.run(ctx, target, command, e.retries, e.timeout)
}

// RunRaw executes an operator-supplied command string. Reserved for internal
// call sites that build the string from validated, already-escaped arguments;
// never exposed directly to end users.
func (e *Executor) RunRaw(ctx context.Context, target types.RemoteTarget, command string, retries int, timeout time.Duration) (types.ExecutionResult, error) {
	if retries < 0 {
		retries = e.retries
	}
	if timeout <= 0 {
		timeout = e.timeout
	}
	return e.run(ctx, target, command, retries, timeout)
}

// run applies the retry policy: transport-level failures are retried, a
// completed session with a non-zero remote exit code is not. Many allow-listed
// commands exit non-zero on "not found" conditions that are valid answers.
func (e *Executor) run(ctx context.Context, target types.RemoteTarget, command string, retries int, timeout time.Duration) (types.ExecutionResult, error) {
	start := time.Now()
	var result types.ExecutionResult

	err := retry.Do(func() error {
		r, execErr := e.transport.Exec(ctx, target, command, timeout)
		if execErr != nil {
			return execErr
		}
		result = r
		return nil
	},
		retry.Attempts(uint(retries+1)),
		retry.Delay(retryDelay),
		retry.MaxDelay(retryMaxDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(types.IsTransport),
		retry.Context(ctx),
	)
	if err != nil {
		log.Printf("[WARN] Command failed on %s after %d attempt(s) in %v: %v", target, retries+1, time.Since(start), err)
		return types.ExecutionResult{Success: false, Error: err.Error()}, err
	}

	log.Printf("[DEBUG] Command completed on %s in %v (exit: %d, output: %d bytes)",
		target, time.Since(start), result.ExitCode, len(result.Output))
	return result, nil
}
