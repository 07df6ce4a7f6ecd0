package fleet

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-ping/ping"

	"fleetgate/internal/remote"
	"fleetgate/internal/types"
)

// stageResult is one enumeration stage's answer.
type stageResult struct {
	nodes         []types.NodeView
	gatewayOnline bool
}

// enumerationStage is one strategy in the fallback chain. fetch returns false
// when the stage produced no usable signal, which moves the driver to the
// next stage.
type enumerationStage struct {
	name  string
	fetch func(ctx context.Context, target types.RemoteTarget) (stageResult, bool)
}

// stages returns the fallback chain in priority order. The order is the
// contract: each stage runs only after the previous yielded nothing usable,
// bounding worst-case latency and remote load.
func (e *Engine) stages() []enumerationStage {
	return []enumerationStage{
		{name: "node-list", fetch: e.fetchRichNodeList},
		{name: "device-list", fetch: e.fetchStatusAndDevices},
		{name: "process-probe", fetch: e.fetchProcessHeuristic},
	}
}

// enumerate drives the chain. confirmed reports whether any stage got an
// authoritative answer from the gateway host; without it, callers must not
// treat missing nodes as disconnections.
func (e *Engine) enumerate(ctx context.Context, target types.RemoteTarget) (stageResult, bool, string) {
	for _, stage := range e.stages() {
		if result, ok := stage.fetch(ctx, target); ok {
			return result, true, stage.name
		}
	}
	return stageResult{}, false, ""
}

// fetchRichNodeList is stage 1: the cached, highest-fidelity enumeration. A
// non-empty result is authoritative for both gateway reachability and node
// connection state.
func (e *Engine) fetchRichNodeList(ctx context.Context, target types.RemoteTarget) (stageResult, bool) {
	nodes, ok := e.cachedNodeList(ctx, target)
	if !ok || len(nodes) == 0 {
		return stageResult{}, false
	}
	return stageResult{nodes: nodes, gatewayOnline: true}, true
}

// cachedNodeList consults the NodeCache and pays at most one remote call per
// TTL window per target.
func (e *Engine) cachedNodeList(ctx context.Context, target types.RemoteTarget) ([]types.NodeView, bool) {
	key := target.CacheKey()
	if nodes, age, ok := e.cache.Get(key); ok {
		log.Printf("[DEBUG] Node list for %s served from cache (age %v)", target, age)
		return nodes, true
	}

	res, err := e.runner.RunNamed(ctx, target, remote.CmdNodeList)
	if err != nil {
		return nil, false
	}
	nodes, err := remote.DecodeNodeList(res.Output, types.SourceGatewayCLI)
	if err != nil {
		log.Printf("[DEBUG] Node list from %s unusable: %v", target, err)
		return nil, false
	}
	e.cache.Put(key, nodes)
	return nodes, true
}

// fetchStatusAndDevices is stage 2: a lighter status probe plus the paired
// device list, yielding a less detailed per-node shape.
func (e *Engine) fetchStatusAndDevices(ctx context.Context, target types.RemoteTarget) (stageResult, bool) {
	res, err := e.runner.RunNamed(ctx, target, remote.CmdStatus)
	if err != nil {
		return stageResult{}, false
	}
	status, perr := remote.DecodeStatus(res.Output)
	if perr != nil {
		return stageResult{}, false
	}
	if !status.Online {
		// Authoritative answer: the host responded and the gateway is down.
		return stageResult{gatewayOnline: false}, true
	}

	result := stageResult{gatewayOnline: true}
	if devRes, err := e.runner.RunNamed(ctx, target, remote.CmdDeviceList); err == nil {
		if devices, perr := remote.DecodeDeviceList(devRes.Output); perr == nil {
			for _, d := range devices {
				result.nodes = append(result.nodes, types.NodeView{
					Name:      d.Name,
					Hostname:  d.Hostname,
					IP:        d.IP,
					Platform:  canonicalPlatform(d.Platform),
					Connected: d.Connected,
					Source:    types.SourceGatewayCLI,
				})
			}
		}
	}
	return result, true
}

// fetchProcessHeuristic is stage 3: a process-list pattern match plus a
// listening-port check on the gateway host. It only answers "is a gateway
// process apparently running", never per-node detail.
func (e *Engine) fetchProcessHeuristic(ctx context.Context, target types.RemoteTarget) (stageResult, bool) {
	usable := false
	online := false

	if res, err := e.runner.RunNamed(ctx, target, remote.CmdProcessCheck); err == nil {
		usable = true
		if remote.ParseProcessList(res.Output) {
			online = true
		}
	}
	if !online {
		if res, err := e.runner.RunNamed(ctx, target, remote.CmdPortCheck); err == nil {
			usable = true
			if remote.ParseListeningPort(res.Output, e.gatewayHTTPPort) {
				online = true
			}
		}
	}
	if !usable {
		return stageResult{}, false
	}
	return stageResult{gatewayOnline: online}, true
}

// fetchPaired returns the gateway's paired-device list, best effort.
func (e *Engine) fetchPaired(ctx context.Context, target types.RemoteTarget) []types.PairedDevice {
	res, err := e.runner.RunNamed(ctx, target, remote.CmdDeviceList)
	if err != nil {
		return []types.PairedDevice{}
	}
	entries, perr := remote.DecodeDeviceList(res.Output)
	if perr != nil {
		return []types.PairedDevice{}
	}
	paired := make([]types.PairedDevice, 0, len(entries))
	for _, d := range entries {
		paired = append(paired, types.PairedDevice{DeviceID: d.ID, Name: d.Name, Role: d.Role})
	}
	return paired
}

// fetchPending returns the gateway's pending-device list and refreshes the
// local pending cache used by approve/reject.
func (e *Engine) fetchPending(ctx context.Context, target types.RemoteTarget) []types.PendingDevice {
	res, err := e.runner.RunNamed(ctx, target, remote.CmdPendingList)
	if err != nil {
		return e.cachedPending(target.CacheKey())
	}
	pending, perr := remote.DecodePendingList(res.Output)
	if perr != nil {
		return e.cachedPending(target.CacheKey())
	}

	e.pendingMu.Lock()
	e.pending[target.CacheKey()] = pending
	e.pendingMu.Unlock()
	return pending
}

func (e *Engine) cachedPending(key string) []types.PendingDevice {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	cached := e.pending[key]
	out := make([]types.PendingDevice, len(cached))
	copy(out, cached)
	return out
}

// probeGatewayHTTP asks the gateway's own HTTP API for the node list. This
// path exists because some deployments block SSH but expose the gateway API.
func (e *Engine) probeGatewayHTTP(ctx context.Context, host string) ([]types.NodeView, time.Duration, bool) {
	url := fmt.Sprintf("http://%s:%d/api/nodes", host, e.gatewayHTTPPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, false
	}
	start := e.now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, 0, false
	}
	defer resp.Body.Close()
	latency := e.now().Sub(start)

	if resp.StatusCode != http.StatusOK {
		return nil, 0, false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, false
	}
	nodes, perr := remote.DecodeNodeList(string(body), types.SourceGatewayHTTP)
	if perr != nil {
		return nil, 0, false
	}
	return nodes, latency, true
}

// probeTCP dials the machine's address on a short list of common ports.
func (e *Engine) probeTCP(host string) (int, time.Duration, bool) {
	for _, port := range e.probePorts {
		start := e.now()
		conn, err := e.dial("tcp", fmt.Sprintf("%s:%d", host, port), e.probeTimeout)
		if err != nil {
			continue
		}
		conn.Close()
		return port, e.now().Sub(start), true
	}
	return 0, 0, false
}

// icmpPing is the last-resort reachability check for hosts with every probed
// port filtered.
func icmpPing(ctx context.Context, host string, timeout time.Duration) (time.Duration, bool) {
	pinger, err := ping.NewPinger(host)
	if err != nil {
		return 0, false
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(false)
	type pingOutcome struct {
		latency time.Duration
		ok      bool
	}
	done := make(chan pingOutcome, 1)
	go func() {
		if err := pinger.Run(); err != nil {
			done <- pingOutcome{}
			return
		}
		stats := pinger.Statistics()
		done <- pingOutcome{latency: stats.AvgRtt, ok: stats.PacketsRecv > 0}
	}()
	select {
	case out := <-done:
		return out.latency, out.ok
	case <-ctx.Done():
		pinger.Stop()
		return 0, false
	}
}
