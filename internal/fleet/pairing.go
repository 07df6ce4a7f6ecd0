package fleet

import (
	"context"
	"fmt"
	"log"

	"fleetgate/internal/remote"
	"fleetgate/internal/types"
)

// PairingResult is the structured outcome of an approve/reject/remove call.
// Found=false is the 404-equivalent "device not found anywhere" answer; a
// transport failure is returned as an error instead so callers know the call
// is safe to retry.
type PairingResult struct {
	Success   bool   `json:"success"`
	Found     bool   `json:"found"`
	Gateway   bool   `json:"gateway"`
	Local     bool   `json:"local"`
	MachineID string `json:"machine_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Approve admits a pending device: a gateway-side CLI call first, a
// lower-level gateway-side mutation if that was ambiguous, and independently
// the local pending cache. Either side succeeding counts as success; the two
// are allowed to diverge transiently and re-converge on the next
// reconciliation pass. On success the device is upserted as a machine record
// so it is visible as tracked without waiting for the next poll.
//
// Approve is idempotent: approving an already-approved device succeeds again
// without creating a second record.
func (e *Engine) Approve(ctx context.Context, instanceID, deviceID string) (PairingResult, error) {
	result, ack, target, err := e.mutateDevice(ctx, instanceID, deviceID, remote.CmdApproveDevice)
	if err != nil {
		return result, err
	}
	if !result.Success {
		return result, nil
	}

	if result.Local {
		e.pendingMu.Lock()
		e.approvedCount++
		e.pendingMu.Unlock()
	}

	device := ack.Device
	if device == nil {
		device = &remote.DeviceEntry{ID: remote.SanitizeArg(deviceID)}
	}
	if machineID, err := e.upsertApprovedDevice(ctx, *device); err != nil {
		log.Printf("[WARN] Approved device %s but failed to upsert machine record: %v", deviceID, err)
	} else {
		result.MachineID = machineID
		e.cache.Invalidate(target.CacheKey())
	}
	return result, nil
}

// Reject discards a pending device through the same dual path. No machine
// record side effect.
func (e *Engine) Reject(ctx context.Context, instanceID, deviceID string) (PairingResult, error) {
	result, _, _, err := e.mutateDevice(ctx, instanceID, deviceID, remote.CmdRejectDevice)
	return result, err
}

// Remove unpairs an approved device at the gateway only. The machine record,
// if any, is deliberately left alone: "no longer paired" and "no longer a
// record we choose to remember" are different operator decisions.
func (e *Engine) Remove(ctx context.Context, instanceID, deviceID string) (PairingResult, error) {
	id := remote.SanitizeArg(deviceID)
	if id == "" {
		return PairingResult{}, fmt.Errorf("invalid device id %q", deviceID)
	}
	target, ok := e.resolver.Resolve(instanceID)
	if !ok {
		return PairingResult{}, types.ErrNoTarget
	}

	ack, transportErr := e.gatewayMutation(ctx, target, remote.CmdRemoveDevice, id)
	result := PairingResult{Gateway: ack.OK, Success: ack.OK, Found: ack.OK}
	if ack.OK {
		e.cache.Invalidate(target.CacheKey())
		return result, nil
	}
	if ack.NotFound {
		result.Message = "device not found"
		return result, nil
	}
	if transportErr != nil {
		return result, transportErr
	}
	result.Message = "gateway did not acknowledge removal"
	return result, nil
}

// mutateDevice is the shared approve/reject flow: gateway CLI, low-level
// fallback, then the local pending list.
func (e *Engine) mutateDevice(ctx context.Context, instanceID, deviceID, command string) (PairingResult, remote.Ack, types.RemoteTarget, error) {
	id := remote.SanitizeArg(deviceID)
	if id == "" {
		return PairingResult{}, remote.Ack{}, types.RemoteTarget{}, fmt.Errorf("invalid device id %q", deviceID)
	}
	target, ok := e.resolver.Resolve(instanceID)
	if !ok {
		return PairingResult{}, remote.Ack{}, types.RemoteTarget{}, types.ErrNoTarget
	}

	ack, transportErr := e.gatewayMutation(ctx, target, command, id)

	result := PairingResult{Gateway: ack.OK}
	// The local pending list is checked independently: the gateway-side and
	// local views may diverge transiently.
	if entry, ok := e.takePending(target.CacheKey(), id); ok {
		result.Local = true
		if ack.Device == nil {
			ack.Device = entryFromPending(entry)
		}
	}

	result.Success = result.Gateway || result.Local
	result.Found = result.Success
	if result.Success {
		return result, ack, target, nil
	}
	if ack.NotFound {
		result.Message = "device not found"
		return result, ack, target, nil
	}
	if transportErr != nil {
		// Neither path answered; let the caller retry.
		return result, ack, target, transportErr
	}
	result.Message = "device not found"
	return result, ack, target, nil
}

// gatewayMutation runs the named CLI mutation and, when its answer is
// ambiguous, falls back to the gateway's local admin API over the same
// transport.
func (e *Engine) gatewayMutation(ctx context.Context, target types.RemoteTarget, command, id string) (remote.Ack, error) {
	var transportErr error
	var ack remote.Ack

	res, err := e.runner.RunNamed(ctx, target, command, id)
	switch {
	case err == nil:
		if a, perr := remote.DecodeAck(command, combinedOutput(res)); perr == nil {
			ack = a
		}
	case types.IsTransport(err):
		transportErr = err
	default:
		return remote.Ack{}, err
	}

	if !ack.OK && !ack.NotFound {
		raw := fmt.Sprintf("curl -fsS -m 5 -X POST http://127.0.0.1:%d/api/devices/%s/%s",
			e.gatewayHTTPPort, id, mutationVerb(command))
		res, err := e.runner.RunRaw(ctx, target, raw, 0, 0)
		if err == nil {
			if a, perr := remote.DecodeAck(command, combinedOutput(res)); perr == nil {
				ack = a
				transportErr = nil
			}
		} else if types.IsTransport(err) && transportErr == nil {
			transportErr = err
		}
	}
	return ack, transportErr
}

func mutationVerb(command string) string {
	switch command {
	case remote.CmdApproveDevice:
		return "approve"
	case remote.CmdRejectDevice:
		return "reject"
	case remote.CmdRemoveDevice:
		return "remove"
	}
	return command
}

func combinedOutput(res types.ExecutionResult) string {
	if res.Output != "" {
		return res.Output
	}
	return res.Error
}

// takePending removes and returns the pending entry matching id, if cached.
func (e *Engine) takePending(key, id string) (types.PendingDevice, bool) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	list := e.pending[key]
	for i, p := range list {
		if p.DeviceID == id || p.RequestID == id {
			e.pending[key] = append(list[:i:i], list[i+1:]...)
			return p, true
		}
	}
	return types.PendingDevice{}, false
}

func entryFromPending(p types.PendingDevice) *remote.DeviceEntry {
	id := p.DeviceID
	if id == "" {
		id = p.RequestID
	}
	return &remote.DeviceEntry{
		ID:       id,
		Hostname: p.Hostname,
		IP:       p.IP,
		Platform: p.Platform,
		Role:     p.Role,
	}
}

// upsertApprovedDevice creates or refreshes the machine record for a just
// approved device, matching by identifiers so repeated approvals never
// duplicate records.
func (e *Engine) upsertApprovedDevice(ctx context.Context, device remote.DeviceEntry) (string, error) {
	node := types.NodeView{
		Name:      device.Name,
		Hostname:  device.Hostname,
		IP:        device.IP,
		Platform:  device.Platform,
		Connected: true,
		Source:    types.SourceGatewayCLI,
	}
	if node.Hostname == "" && node.Name == "" {
		node.Name = device.ID
	}

	records, err := e.machines.ListMachines(ctx)
	if err != nil {
		return "", err
	}
	now := e.now()
	for i := range records {
		if !IdentifiersOverlap(node, records[i]) {
			continue
		}
		rec := records[i]
		backfillRecord(&rec, node)
		rec.Status = types.StatusConnected
		rec.LastSeen = now
		if err := e.machines.UpdateMachine(ctx, rec); err != nil {
			return "", err
		}
		return rec.ID, nil
	}

	rec := recordFromNode(node, now)
	return e.machines.CreateMachine(ctx, rec)
}
