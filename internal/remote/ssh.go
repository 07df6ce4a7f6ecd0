package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"fleetgate/internal/types"
)

// maxSessionOutput caps captured stdout/stderr per session.
const maxSessionOutput = 256 * 1024

// SSHTransport opens one SSH session per Exec call. No connection pooling:
// each invocation is independent so no credentials or shell state leak across
// calls.
type SSHTransport struct{}

// NewSSHTransport returns the production SSH transport.
func NewSSHTransport() *SSHTransport {
	return &SSHTransport{}
}

// Exec dials the target, runs command in a fresh session, and tears everything
// down. The timeout bounds the whole session lifetime, not just the read phase.
func (*SSHTransport) Exec(ctx context.Context, target types.RemoteTarget, command string, timeout time.Duration) (types.ExecutionResult, error) {
	cfg, err := clientConfig(target, timeout)
	if err != nil {
		return types.ExecutionResult{}, &types.TransportError{Op: "auth", Target: target.String(), Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return types.ExecutionResult{}, &types.TransportError{Op: "dial", Target: target.String(), Err: err}
	}
	// Deadline on the raw connection bounds handshake, exec, and read together.
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return types.ExecutionResult{}, &types.TransportError{Op: "dial", Target: target.String(), Err: err}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, target.Addr(), cfg)
	if err != nil {
		conn.Close()
		return types.ExecutionResult{}, &types.TransportError{Op: "auth", Target: target.String(), Err: err}
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return types.ExecutionResult{}, &types.TransportError{Op: "session", Target: target.String(), Err: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &limitWriter{buf: &stdout, max: maxSessionOutput}
	session.Stderr = &limitWriter{buf: &stderr, max: maxSessionOutput}

	exitCode := 0
	if err := session.Run(command); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			// The session completed; a non-zero exit is the remote command's
			// answer, not a transport failure.
			exitCode = exitErr.ExitStatus()
		} else {
			return types.ExecutionResult{}, &types.TransportError{Op: "session", Target: target.String(), Err: err}
		}
	}

	return types.ExecutionResult{
		Success:  exitCode == 0,
		Output:   stdout.String(),
		Error:    stderr.String(),
		ExitCode: exitCode,
	}, nil
}

// clientConfig builds the SSH client config from the target's auth material.
// Key material never appears in returned errors or logs.
func clientConfig(target types.RemoteTarget, timeout time.Duration) (*ssh.ClientConfig, error) {
	cfg := &ssh.ClientConfig{
		User: target.User,
		// Gateway hosts are customer-operated and reinstalled freely; pinning
		// host keys here would strand every reconciliation after a rebuild.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
		Timeout:         timeout,
	}

	keyData := target.Key
	if len(keyData) == 0 && target.KeyPath != "" {
		data, err := os.ReadFile(target.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		keyData = data
	}
	if len(keyData) > 0 {
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, errors.New("failed to parse private key")
		}
		cfg.Auth = append(cfg.Auth, ssh.PublicKeys(signer))
	}
	if len(cfg.Auth) == 0 && target.Password != "" {
		cfg.Auth = append(cfg.Auth, ssh.Password(target.Password))
	}
	if len(cfg.Auth) == 0 {
		return nil, errors.New("no authentication method configured")
	}
	return cfg, nil
}

// limitWriter discards bytes beyond max.
type limitWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *limitWriter) Write(p []byte) (int, error) {
	if remaining := w.max - w.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			w.buf.Write(p[:remaining])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}
