package fleet

import (
	"context"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"fleetgate/internal/store"
	"fleetgate/internal/types"
)

// TargetResolver resolves the remote target for a logical instance.
type TargetResolver interface {
	Resolve(instanceID string) (types.RemoteTarget, bool)
}

// CommandRunner is the slice of the remote executor the engine depends on.
type CommandRunner interface {
	RunNamed(ctx context.Context, target types.RemoteTarget, name string, args ...string) (types.ExecutionResult, error)
	RunRaw(ctx context.Context, target types.RemoteTarget, command string, retries int, timeout time.Duration) (types.ExecutionResult, error)
}

// Options tune the engine's probe behavior.
type Options struct {
	// GatewayHTTPPort is where the gateway's HTTP API listens on the target.
	GatewayHTTPPort int
	// ProbePorts are tried, in order, by the direct TCP reachability probe.
	ProbePorts []int
	// ProbeTimeout bounds each HTTP/TCP/ICMP probe.
	ProbeTimeout time.Duration
}

// Engine composes the remote executor, the gateway HTTP fallback, and
// TCP-level probes into one consistent fleet view, and writes status
// transitions back to the machine store.
type Engine struct {
	resolver TargetResolver
	runner   CommandRunner
	machines store.MachineStore
	cache    *NodeCache

	gatewayHTTPPort int
	probePorts      []int
	probeTimeout    time.Duration

	httpClient *http.Client
	dial       func(network, addr string, timeout time.Duration) (net.Conn, error)
	pingHost   func(ctx context.Context, host string, timeout time.Duration) (time.Duration, bool)
	now        func() time.Time

	pendingMu     sync.Mutex
	pending       map[string][]types.PendingDevice
	approvedCount int
}

// NewEngine wires a reconciliation engine. cache may be shared across engines
// for the same process.
func NewEngine(resolver TargetResolver, runner CommandRunner, machines store.MachineStore, cache *NodeCache, opts Options) *Engine {
	if opts.GatewayHTTPPort == 0 {
		opts.GatewayHTTPPort = 18789
	}
	if len(opts.ProbePorts) == 0 {
		opts.ProbePorts = []int{opts.GatewayHTTPPort, 22}
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	return &Engine{
		resolver:        resolver,
		runner:          runner,
		machines:        machines,
		cache:           cache,
		gatewayHTTPPort: opts.GatewayHTTPPort,
		probePorts:      opts.ProbePorts,
		probeTimeout:    opts.ProbeTimeout,
		httpClient:      &http.Client{Timeout: opts.ProbeTimeout},
		dial:            net.DialTimeout,
		pingHost:        icmpPing,
		now:             time.Now,
		pending:         make(map[string][]types.PendingDevice),
	}
}

// Reconcile merges live node observations for one instance with persisted
// records. It never fails outright for an unreachable target: it degrades to
// GatewayOnline=false plus whatever the store remembers. The only errors are
// types.ErrNoTarget and store failures.
func (e *Engine) Reconcile(ctx context.Context, instanceID string) (types.FleetView, error) {
	view := types.FleetView{
		LiveNodes:       []types.NodeView{},
		PairedDevices:   []types.PairedDevice{},
		PendingDevices:  []types.PendingDevice{},
		TrackedMachines: []types.MachineRecord{},
	}

	records, err := e.machines.ListMachines(ctx)
	if err != nil {
		return view, err
	}

	target, ok := e.resolver.Resolve(instanceID)
	if !ok {
		view.TrackedMachines = records
		return view, types.ErrNoTarget
	}

	result, confirmed, stage := e.enumerate(ctx, target)
	view.GatewayOnline = result.gatewayOnline
	if result.nodes != nil {
		view.LiveNodes = result.nodes
	}
	if confirmed {
		log.Printf("[DEBUG] Enumerated %d node(s) for %s via %s (gateway online: %v)",
			len(view.LiveNodes), target, stage, view.GatewayOnline)
	} else {
		log.Printf("[WARN] Gateway %s unreachable on all enumeration stages", target)
	}

	if view.GatewayOnline {
		view.PairedDevices = e.fetchPaired(ctx, target)
		view.PendingDevices = e.fetchPending(ctx, target)
	}

	view.TrackedMachines = e.applyTransitions(ctx, records, view.LiveNodes, confirmed)
	return view, nil
}

// RunCommand executes an allow-listed command against the instance's target.
// This is the only command surface exposed upward; raw execution stays
// internal.
func (e *Engine) RunCommand(ctx context.Context, instanceID, name string, args ...string) (types.ExecutionResult, error) {
	target, ok := e.resolver.Resolve(instanceID)
	if !ok {
		return types.ExecutionResult{}, types.ErrNoTarget
	}
	return e.runner.RunNamed(ctx, target, name, args...)
}

// ApprovedCount returns how many pending devices this process has approved.
func (e *Engine) ApprovedCount() int {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	return e.approvedCount
}

// applyTransitions matches live nodes against records, writes status and
// lastSeen transitions one record at a time (partial completion is tolerated),
// and auto-creates records for unmatched live nodes.
//
// A previously-connected record with no live match moves to disconnected only
// when the gateway was confirmed reachable this pass: absence of evidence
// while the gateway is unreachable is not evidence of disconnection.
func (e *Engine) applyTransitions(ctx context.Context, records []types.MachineRecord, nodes []types.NodeView, confirmed bool) []types.MachineRecord {
	now := e.now()
	out := make([]types.MachineRecord, len(records))
	copy(out, records)
	matched := make(map[string]bool)

	for _, node := range nodes {
		idx := -1
		for i := range out {
			if IdentifiersOverlap(node, out[i]) {
				idx = i
				break
			}
		}
		if idx < 0 {
			// A pre-registered placeholder may claim the first live node of
			// matching platform that no other record owns.
			for i := range out {
				if isPlaceholder(out[i]) && !matched[out[i].ID] && platformsLooselyMatch(out[i].OS, node.Platform) {
					idx = i
					break
				}
			}
		}

		if idx < 0 {
			rec := recordFromNode(node, now)
			id, err := e.machines.CreateMachine(ctx, rec)
			if err != nil {
				log.Printf("[WARN] Failed to auto-create machine for node %q: %v", nodeLabel(node), err)
				continue
			}
			rec.ID = id
			log.Printf("[INFO] Auto-discovered node %q, created machine %s", nodeLabel(node), id)
			matched[id] = true
			out = append(out, rec)
			continue
		}

		rec := &out[idx]
		backfillRecord(rec, node)
		if node.Connected {
			rec.Status = types.StatusConnected
			rec.LastSeen = now
		} else if confirmed {
			rec.Status = types.StatusDisconnected
		}
		matched[rec.ID] = true
		if err := e.machines.UpdateMachine(ctx, *rec); err != nil {
			log.Printf("[WARN] Failed to update machine %s: %v", rec.ID, err)
		}
	}

	if confirmed {
		for i := range out {
			rec := &out[i]
			if matched[rec.ID] || rec.Status != types.StatusConnected {
				continue
			}
			rec.Status = types.StatusDisconnected
			if err := e.machines.UpdateMachine(ctx, *rec); err != nil {
				log.Printf("[WARN] Failed to mark machine %s disconnected: %v", rec.ID, err)
			}
		}
	}
	return out
}

func recordFromNode(node types.NodeView, now time.Time) types.MachineRecord {
	name := node.Name
	if name == "" {
		name = node.Hostname
	}
	display := node.DisplayName
	if display == "" {
		display = name
	}
	rec := types.MachineRecord{
		Name:        name,
		DisplayName: display,
		Hostname:    node.Hostname,
		IPAddress:   node.IP,
		OS:          canonicalPlatform(node.Platform),
		Status:      types.StatusDisconnected,
		CreatedAt:   now,
	}
	if node.Connected {
		rec.Status = types.StatusConnected
		rec.LastSeen = now
	}
	return rec
}

// backfillRecord fills empty identifying fields from a live observation.
// Existing values are operator-owned and never overwritten.
func backfillRecord(rec *types.MachineRecord, node types.NodeView) {
	if rec.Hostname == "" {
		rec.Hostname = node.Hostname
	}
	if rec.IPAddress == "" {
		rec.IPAddress = node.IP
	}
	if rec.OS == "" {
		rec.OS = canonicalPlatform(node.Platform)
	}
	if rec.Name == "" {
		if node.Name != "" {
			rec.Name = node.Name
		} else {
			rec.Name = node.Hostname
		}
	}
	if rec.DisplayName == "" {
		if node.DisplayName != "" {
			rec.DisplayName = node.DisplayName
		} else {
			rec.DisplayName = rec.Name
		}
	}
}

func nodeLabel(node types.NodeView) string {
	switch {
	case node.Hostname != "":
		return node.Hostname
	case node.Name != "":
		return node.Name
	case node.DisplayName != "":
		return node.DisplayName
	default:
		return node.IP
	}
}

// DeduplicateMachines merges records sharing a hostname: the survivor is the
// one with a non-default display name, otherwise the oldest. Returns how many
// records were deleted. This is an explicit operator action.
func (e *Engine) DeduplicateMachines(ctx context.Context) (int, error) {
	records, err := e.machines.ListMachines(ctx)
	if err != nil {
		return 0, err
	}

	byHostname := make(map[string][]types.MachineRecord)
	for _, rec := range records {
		host := normalizedHostname(rec.Hostname)
		if host == "" {
			continue
		}
		byHostname[host] = append(byHostname[host], rec)
	}

	deleted := 0
	for host, group := range byHostname {
		if len(group) < 2 {
			continue
		}
		keep := pickSurvivor(group)
		for _, rec := range group {
			if rec.ID == keep.ID {
				continue
			}
			if err := e.machines.DeleteMachine(ctx, rec.ID); err != nil {
				log.Printf("[WARN] Dedup: failed to delete machine %s (%s): %v", rec.ID, host, err)
				continue
			}
			log.Printf("[INFO] Dedup: merged machine %s into %s (hostname %s)", rec.ID, keep.ID, host)
			deleted++
		}
	}
	return deleted, nil
}

// pickSurvivor prefers a record whose display name differs from the hostname
// (an operator gave it a real name), breaking ties by age.
func pickSurvivor(group []types.MachineRecord) types.MachineRecord {
	keep := group[0]
	for _, rec := range group[1:] {
		keepCustom := hasCustomDisplayName(keep)
		recCustom := hasCustomDisplayName(rec)
		switch {
		case recCustom && !keepCustom:
			keep = rec
		case recCustom == keepCustom && rec.CreatedAt.Before(keep.CreatedAt):
			keep = rec
		}
	}
	return keep
}

func hasCustomDisplayName(rec types.MachineRecord) bool {
	display := normalizedHostname(rec.DisplayName)
	return display != "" && display != normalizedHostname(rec.Hostname) && display != normalizedHostname(rec.Name)
}

func normalizedHostname(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
