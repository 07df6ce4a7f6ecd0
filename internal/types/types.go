// Package types defines shared data structures for fleetgate.
package types

import (
	"fmt"
	"time"
)

// NodeSource identifies which probe produced a NodeView.
type NodeSource string

// Node observation sources, in decreasing order of fidelity.
const (
	SourceGatewayCLI  NodeSource = "gateway-cli"
	SourceGatewayHTTP NodeSource = "gateway-http"
	SourceTCP         NodeSource = "tcp"
	SourceLocal       NodeSource = "local"
)

// MachineStatus is the persisted connection state of a machine record.
type MachineStatus string

const (
	StatusConnected    MachineStatus = "connected"
	StatusDisconnected MachineStatus = "disconnected"
	StatusUnknown      MachineStatus = "unknown"
)

// RemoteTarget identifies one gateway-bearing host and how to reach it over SSH.
// Resolved per logical instance; immutable once resolved for a call.
type RemoteTarget struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	KeyPath  string `yaml:"key_path" json:"-"`
	Key      []byte `yaml:"-" json:"-"`
	Password string `yaml:"password" json:"-"`
}

// Addr returns the host:port dial address, defaulting to SSH port 22.
func (t RemoteTarget) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", t.Host, port)
}

// String renders the target without authentication material. Safe to log.
func (t RemoteTarget) String() string {
	return fmt.Sprintf("%s@%s", t.User, t.Addr())
}

// CacheKey returns a stable cache/identity key for the resolved target.
func (t RemoteTarget) CacheKey() string {
	return t.User + "@" + t.Addr()
}

// ExecutionResult is the outcome of one remote command invocation.
//
// Success reflects transport-level success only: the SSH session completed and
// the remote command exited zero. Many allow-listed commands intentionally exit
// non-zero on "not found" answers, so callers must inspect Output (and ExitCode)
// to determine semantic success.
type ExecutionResult struct {
	Success  bool   `json:"success"`
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// NodeView is a normalized, source-tagged snapshot of one live node as reported
// by whichever source answered. Never persisted as-is.
type NodeView struct {
	Hostname     string     `json:"hostname,omitempty"`
	Name         string     `json:"name,omitempty"`
	DisplayName  string     `json:"display_name,omitempty"`
	IP           string     `json:"ip,omitempty"`
	Connected    bool       `json:"connected"`
	Platform     string     `json:"platform,omitempty"`
	Version      string     `json:"version,omitempty"`
	Capabilities []string   `json:"capabilities,omitempty"`
	Source       NodeSource `json:"source"`
}

// MachineRecord is the control plane's persisted belief about one node.
//
// Invariant: Status == connected implies LastSeen was refreshed at or after the
// last transition into that state. Records are never deleted automatically;
// deletion is an explicit operator action.
type MachineRecord struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	DisplayName string        `json:"display_name"`
	Hostname    string        `json:"hostname"`
	IPAddress   string        `json:"ip_address"`
	OS          string        `json:"os"`
	Status      MachineStatus `json:"status"`
	LastSeen    time.Time     `json:"last_seen"`
	CreatedAt   time.Time     `json:"created_at"`
}

// PairedDevice is a device the gateway reports as admitted.
type PairedDevice struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
}

// PendingDevice is a device that announced itself to the gateway but has not
// been admitted. It is a view projected from whichever source last answered;
// it has no persisted identity until approved.
type PendingDevice struct {
	RequestID    string `json:"request_id"`
	DeviceID     string `json:"device_id,omitempty"`
	Hostname     string `json:"hostname,omitempty"`
	IP           string `json:"ip,omitempty"`
	Platform     string `json:"platform,omitempty"`
	Role         string `json:"role,omitempty"`
	FirstSeenAge string `json:"first_seen_age,omitempty"`
}

// FleetView is the merged answer of one reconciliation pass.
type FleetView struct {
	GatewayOnline   bool            `json:"gateway_online"`
	LiveNodes       []NodeView      `json:"live_nodes"`
	PairedDevices   []PairedDevice  `json:"paired_devices"`
	PendingDevices  []PendingDevice `json:"pending_devices"`
	TrackedMachines []MachineRecord `json:"tracked_machines"`
}
