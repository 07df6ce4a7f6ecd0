package types

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the failure taxonomy of the control plane.
var (
	// ErrNoTarget means no remote target is resolvable for the instance.
	// Surfaced immediately, never retried.
	ErrNoTarget = errors.New("no remote target configured")

	// ErrCommandNotAllowed means the command name is not in the allow-list.
	// Always fatal to the call, never retried.
	ErrCommandNotAllowed = errors.New("command not in allow-list")

	// ErrDeviceNotFound means a pairing operation found the device in neither
	// the gateway-side lists nor the local pending cache. Distinct from a
	// transport failure so callers can retry the latter safely.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrMachineNotFound means no persisted machine record has the given id.
	ErrMachineNotFound = errors.New("machine not found")
)

// TransportError is a connection, auth, or timeout failure at the SSH or TCP
// layer. Retried per policy, then surfaced as "unreachable".
type TransportError struct {
	Op     string // "dial", "auth", "session", "probe"
	Target string // redacted target identity
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a transport-level failure and therefore
// retryable.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// ParseError means remote output matched no expected shape. It signals "no
// usable signal from this source" and causes fallback to the next stage; it
// must never propagate past the fallback boundary.
type ParseError struct {
	Source string // which command/endpoint produced the output
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable %s output: %s", e.Source, e.Detail)
}
