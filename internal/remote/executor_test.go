package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleetgate/internal/types"
)

// mockTransport scripts per-attempt outcomes and counts connection attempts.
type mockTransport struct {
	calls    int
	commands []string
	results  []mockResult
}

type mockResult struct {
	result types.ExecutionResult
	err    error
}

func (m *mockTransport) Exec(_ context.Context, target types.RemoteTarget, command string, _ time.Duration) (types.ExecutionResult, error) {
	m.calls++
	m.commands = append(m.commands, command)
	if len(m.results) == 0 {
		return types.ExecutionResult{Success: true}, nil
	}
	next := m.results[0]
	if len(m.results) > 1 {
		m.results = m.results[1:]
	}
	return next.result, next.err
}

func transportErr() *types.TransportError {
	return &types.TransportError{Op: "dial", Target: "ops@host:22", Err: errors.New("connection refused")}
}

func TestRunNamedRejectsUnlistedCommandWithoutIO(t *testing.T) {
	mock := &mockTransport{}
	exec := NewExecutor(mock, time.Second, 3)

	names := []string{"rm-rf", "reboot", "", "status; rm -rf /"}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			_, err := exec.RunNamed(context.Background(), types.RemoteTarget{Host: "h"}, name)
			if !errors.Is(err, types.ErrCommandNotAllowed) {
				t.Fatalf("err = %v, want ErrCommandNotAllowed", err)
			}
		})
	}
	if mock.calls != 0 {
		t.Fatalf("transport saw %d connection attempts, want 0", mock.calls)
	}
}

func TestRunNamedExecutesAllowListedCommand(t *testing.T) {
	mock := &mockTransport{results: []mockResult{
		{result: types.ExecutionResult{Success: true, Output: `{"online":true}`}},
	}}
	exec := NewExecutor(mock, time.Second, 0)

	res, err := exec.RunNamed(context.Background(), types.RemoteTarget{Host: "h"}, CmdStatus)
	if err != nil {
		t.Fatalf("RunNamed: %v", err)
	}
	if !res.Success {
		t.Error("expected transport-level success")
	}
	if mock.commands[0] != "gateway status --json" {
		t.Errorf("command = %q", mock.commands[0])
	}
}

func TestRunNamedSanitizesArguments(t *testing.T) {
	mock := &mockTransport{}
	exec := NewExecutor(mock, time.Second, 0)

	_, err := exec.RunNamed(context.Background(), types.RemoteTarget{Host: "h"}, CmdApproveDevice, "dev-1; rm -rf /")
	if err != nil {
		t.Fatalf("RunNamed: %v", err)
	}
	want := "gateway devices approve dev-1rm-rf --json"
	if mock.commands[0] != want {
		t.Errorf("command = %q, want %q", mock.commands[0], want)
	}
}

func TestRunNamedRejectsArgumentMismatch(t *testing.T) {
	mock := &mockTransport{}
	exec := NewExecutor(mock, time.Second, 0)

	if _, err := exec.RunNamed(context.Background(), types.RemoteTarget{Host: "h"}, CmdApproveDevice); err == nil {
		t.Fatal("expected error for missing argument")
	}
	if _, err := exec.RunNamed(context.Background(), types.RemoteTarget{Host: "h"}, CmdStatus, "extra"); err == nil {
		t.Fatal("expected error for unexpected argument")
	}
	if mock.calls != 0 {
		t.Fatalf("transport saw %d attempts, want 0", mock.calls)
	}
}

func TestRunRetriesTransportFailures(t *testing.T) {
	mock := &mockTransport{results: []mockResult{
		{err: transportErr()},
		{err: transportErr()},
		{result: types.ExecutionResult{Success: true, Output: "ok"}},
	}}
	exec := NewExecutor(mock, time.Second, 2)

	res, err := exec.RunNamed(context.Background(), types.RemoteTarget{Host: "h"}, CmdUptime)
	if err != nil {
		t.Fatalf("RunNamed: %v", err)
	}
	if !res.Success {
		t.Error("expected success after retries")
	}
	if mock.calls != 3 {
		t.Errorf("attempts = %d, want 3", mock.calls)
	}
}

func TestRunSurfacesTransportFailureAfterRetries(t *testing.T) {
	mock := &mockTransport{results: []mockResult{{err: transportErr()}}}
	exec := NewExecutor(mock, time.Second, 1)

	_, err := exec.RunNamed(context.Background(), types.RemoteTarget{Host: "h"}, CmdUptime)
	if !types.IsTransport(err) {
		t.Fatalf("err = %v, want transport error", err)
	}
	if mock.calls != 2 {
		t.Errorf("attempts = %d, want 2", mock.calls)
	}
}

func TestRunDoesNotRetryRemoteExitCode(t *testing.T) {
	// Non-zero exit is a valid "not found" answer, not a transport failure.
	mock := &mockTransport{results: []mockResult{
		{result: types.ExecutionResult{Success: false, Output: "device not found", ExitCode: 1}},
	}}
	exec := NewExecutor(mock, time.Second, 3)

	res, err := exec.RunNamed(context.Background(), types.RemoteTarget{Host: "h"}, CmdDeviceList)
	if err != nil {
		t.Fatalf("RunNamed: %v", err)
	}
	if res.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1", res.ExitCode)
	}
	if mock.calls != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on remote exit code)", mock.calls)
	}
}

func TestSanitizeArg(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"dev-42", "dev-42"},
		{"req_7.3:a", "req_7.3:a"},
		{"bad;id && rm", "badidrm"},
		{"$(whoami)", "whoami"},
		{"`ls`", "ls"},
		{"   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := SanitizeArg(tt.input); got != tt.want {
				t.Errorf("SanitizeArg(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
