package fleet

import (
	"context"
	"fmt"
	"log"

	"fleetgate/internal/types"
)

// HealthResult is the answer of a single-machine health check. An unreachable
// machine is an expected, frequent outcome: it is reported here, never as an
// error.
type HealthResult struct {
	MachineID string              `json:"machine_id"`
	Status    types.MachineStatus `json:"status"`
	Reachable bool                `json:"reachable"`
	Method    string              `json:"method,omitempty"`
	LatencyMS int64               `json:"latency_ms,omitempty"`
	Detail    string              `json:"detail,omitempty"`
}

// HealthCheck runs the fallback chain for one machine and persists the
// resulting status transition. Beyond the gateway stages it also tries the
// gateway's HTTP API, a direct TCP probe of the machine, and finally ICMP,
// because some deployments block the shell transport but expose the gateway
// API, or vice versa.
func (e *Engine) HealthCheck(ctx context.Context, instanceID, machineID string) (HealthResult, error) {
	rec, err := e.machines.GetMachine(ctx, machineID)
	if err != nil {
		return HealthResult{}, err
	}
	if rec == nil {
		return HealthResult{}, types.ErrMachineNotFound
	}

	result := HealthResult{MachineID: machineID, Status: rec.Status}
	target, hasTarget := e.resolver.Resolve(instanceID)
	gatewayConfirmed := false

	if hasTarget {
		start := e.now()
		enum, confirmed, stage := e.enumerate(ctx, target)
		gatewayConfirmed = confirmed
		if confirmed {
			for _, node := range enum.nodes {
				if !IdentifiersOverlap(node, *rec) {
					continue
				}
				result.Reachable = node.Connected
				result.Method = stage
				result.LatencyMS = e.now().Sub(start).Milliseconds()
				if node.Connected {
					result.Status = types.StatusConnected
				} else {
					result.Status = types.StatusDisconnected
					result.Detail = "gateway reports node disconnected"
				}
				break
			}
		}

		// Gateway HTTP API fallback against the gateway host.
		if !result.Reachable && result.Method == "" {
			if nodes, latency, ok := e.probeGatewayHTTP(ctx, target.Host); ok {
				gatewayConfirmed = true
				for _, node := range nodes {
					if IdentifiersOverlap(node, *rec) && node.Connected {
						result.Reachable = true
						result.Status = types.StatusConnected
						result.Method = string(types.SourceGatewayHTTP)
						result.LatencyMS = latency.Milliseconds()
						break
					}
				}
			}
		}
	}

	// Direct probes against the machine itself.
	if !result.Reachable {
		if host := machineAddress(*rec); host != "" {
			if port, latency, ok := e.probeTCP(host); ok {
				result.Reachable = true
				result.Status = types.StatusConnected
				result.Method = string(types.SourceTCP)
				result.LatencyMS = latency.Milliseconds()
				result.Detail = fmt.Sprintf("tcp port %d open", port)
			} else if latency, ok := e.pingHost(ctx, host, e.probeTimeout); ok {
				result.Reachable = true
				result.Status = types.StatusConnected
				result.Method = "ping"
				result.LatencyMS = latency.Milliseconds()
			}
		}
	}

	e.persistHealthTransition(ctx, *rec, &result, gatewayConfirmed)
	return result, nil
}

// persistHealthTransition applies the same status rule as reconciliation:
// a reachable machine becomes connected with a fresh lastSeen; an absent one
// becomes disconnected only when the gateway was confirmed reachable.
func (e *Engine) persistHealthTransition(ctx context.Context, rec types.MachineRecord, result *HealthResult, gatewayConfirmed bool) {
	switch {
	case result.Status == types.StatusConnected:
		rec.Status = types.StatusConnected
		rec.LastSeen = e.now()
	case gatewayConfirmed:
		rec.Status = types.StatusDisconnected
		result.Status = types.StatusDisconnected
		if result.Detail == "" {
			result.Detail = "not reachable by any method"
		}
	default:
		// No authoritative signal: keep the stored status.
		result.Status = rec.Status
		if result.Detail == "" {
			result.Detail = "gateway unreachable; status unchanged"
		}
		return
	}

	if err := e.machines.UpdateMachine(ctx, rec); err != nil {
		log.Printf("[WARN] Failed to persist health transition for %s: %v", rec.ID, err)
	}
}

func machineAddress(rec types.MachineRecord) string {
	if rec.IPAddress != "" {
		return rec.IPAddress
	}
	return rec.Hostname
}
