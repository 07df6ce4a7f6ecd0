package remote

import (
	"encoding/json"
	"fmt"
	"strings"

	"fleetgate/internal/types"
)

// The gateway CLI speaks JSON on current builds and semi-structured text on
// legacy ones. Every decoder here tries the JSON shape first and falls back to
// tolerant text scanning; a types.ParseError means "no usable signal from this
// source" and triggers fallback, it never propagates past that boundary.

// GatewayStatus is the decoded answer of the status probe.
type GatewayStatus struct {
	Online    bool
	Version   string
	NodeCount int
}

// DeviceEntry is the less detailed per-device shape of the device-list and
// approval commands.
type DeviceEntry struct {
	ID        string
	Name      string
	Hostname  string
	Role      string
	IP        string
	Platform  string
	Connected bool
}

// Ack is the decoded outcome of a gateway-side mutation (approve/reject/remove).
// NotFound is a valid answer, distinct from a transport failure.
type Ack struct {
	OK       bool
	NotFound bool
	Device   *DeviceEntry
}

type nodeJSON struct {
	Hostname     string   `json:"hostname"`
	Name         string   `json:"name"`
	DisplayName  string   `json:"displayName"`
	DisplayName2 string   `json:"display_name"`
	IP           string   `json:"ip"`
	Address      string   `json:"address"`
	Connected    *bool    `json:"connected"`
	Online       *bool    `json:"online"`
	Platform     string   `json:"platform"`
	OS           string   `json:"os"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

func (n nodeJSON) toView(source types.NodeSource) types.NodeView {
	view := types.NodeView{
		Hostname:     n.Hostname,
		Name:         n.Name,
		DisplayName:  n.DisplayName,
		IP:           n.IP,
		Platform:     n.Platform,
		Version:      n.Version,
		Capabilities: n.Capabilities,
		Source:       source,
	}
	if view.DisplayName == "" {
		view.DisplayName = n.DisplayName2
	}
	if view.IP == "" {
		view.IP = n.Address
	}
	if view.Platform == "" {
		view.Platform = n.OS
	}
	switch {
	case n.Connected != nil:
		view.Connected = *n.Connected
	case n.Online != nil:
		view.Connected = *n.Online
	}
	return view
}

// DecodeNodeList decodes the richest node enumeration. Accepts a JSON object
// with a "nodes" array, a bare JSON array, or legacy text rows.
func DecodeNodeList(raw string, source types.NodeSource) ([]types.NodeView, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &types.ParseError{Source: "node-list", Detail: "empty output"}
	}

	var wrapper struct {
		Nodes []nodeJSON `json:"nodes"`
	}
	if err := json.Unmarshal([]byte(trimmed), &wrapper); err == nil && wrapper.Nodes != nil {
		return nodeViews(wrapper.Nodes, source), nil
	}
	var bare []nodeJSON
	if err := json.Unmarshal([]byte(trimmed), &bare); err == nil {
		return nodeViews(bare, source), nil
	}

	return decodeLegacyNodeList(trimmed, source)
}

func nodeViews(nodes []nodeJSON, source types.NodeSource) []types.NodeView {
	views := make([]types.NodeView, 0, len(nodes))
	for _, n := range nodes {
		view := n.toView(source)
		if view.Hostname == "" && view.Name == "" && view.DisplayName == "" && view.IP == "" {
			continue // unidentifiable row
		}
		views = append(views, view)
	}
	return views
}

// decodeLegacyNodeList parses whitespace-separated rows of the form the older
// CLI prints: name, a connected/disconnected token, and optionally platform
// and address in either order.
func decodeLegacyNodeList(raw string, source types.NodeSource) ([]types.NodeView, error) {
	var views []types.NodeView
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || strings.EqualFold(fields[0], "name") || strings.EqualFold(fields[0], "node") {
			continue
		}
		view := types.NodeView{Name: fields[0], Source: source}
		recognized := false
		for _, f := range fields[1:] {
			switch lower := strings.ToLower(f); {
			case lower == "connected" || lower == "online":
				view.Connected = true
				recognized = true
			case lower == "disconnected" || lower == "offline":
				recognized = true
			case looksLikeIP(f):
				view.IP = f
			case isKnownPlatform(lower):
				view.Platform = lower
			}
		}
		if recognized {
			views = append(views, view)
		}
	}
	if len(views) == 0 {
		if strings.Contains(strings.ToLower(raw), "no nodes") {
			return []types.NodeView{}, nil
		}
		return nil, &types.ParseError{Source: "node-list", Detail: "no node rows recognized"}
	}
	return views, nil
}

// DecodeStatus decodes the status probe output.
func DecodeStatus(raw string) (GatewayStatus, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return GatewayStatus{}, &types.ParseError{Source: "status", Detail: "empty output"}
	}

	var js struct {
		Online  *bool  `json:"online"`
		Running *bool  `json:"running"`
		Version string `json:"version"`
		Nodes   int    `json:"nodes"`
	}
	if err := json.Unmarshal([]byte(trimmed), &js); err == nil && (js.Online != nil || js.Running != nil) {
		status := GatewayStatus{Version: js.Version, NodeCount: js.Nodes}
		if js.Online != nil {
			status.Online = *js.Online
		} else {
			status.Online = *js.Running
		}
		return status, nil
	}

	lower := strings.ToLower(trimmed)
	for _, token := range []string{"gateway is running", "active (running)", "status: online", "online"} {
		if strings.Contains(lower, token) {
			return GatewayStatus{Online: true}, nil
		}
	}
	for _, token := range []string{"not running", "stopped", "inactive", "status: offline", "offline"} {
		if strings.Contains(lower, token) {
			return GatewayStatus{Online: false}, nil
		}
	}
	return GatewayStatus{}, &types.ParseError{Source: "status", Detail: "no status token found"}
}

type deviceJSON struct {
	ID        string `json:"id"`
	DeviceID  string `json:"device_id"`
	RequestID string `json:"request_id"`
	Name      string `json:"name"`
	Hostname  string `json:"hostname"`
	Role      string `json:"role"`
	IP        string `json:"ip"`
	Platform  string `json:"platform"`
	Connected bool   `json:"connected"`
	Age       string `json:"age"`
}

func (d deviceJSON) entry() DeviceEntry {
	id := d.ID
	if id == "" {
		id = d.DeviceID
	}
	return DeviceEntry{
		ID:        id,
		Name:      d.Name,
		Hostname:  d.Hostname,
		Role:      d.Role,
		IP:        d.IP,
		Platform:  d.Platform,
		Connected: d.Connected,
	}
}

// DecodeDeviceList decodes the paired-device enumeration.
func DecodeDeviceList(raw string) ([]DeviceEntry, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &types.ParseError{Source: "device-list", Detail: "empty output"}
	}

	var wrapper struct {
		Devices []deviceJSON `json:"devices"`
	}
	if err := json.Unmarshal([]byte(trimmed), &wrapper); err == nil && wrapper.Devices != nil {
		entries := make([]DeviceEntry, 0, len(wrapper.Devices))
		for _, d := range wrapper.Devices {
			entries = append(entries, d.entry())
		}
		return entries, nil
	}
	var bare []deviceJSON
	if err := json.Unmarshal([]byte(trimmed), &bare); err == nil {
		entries := make([]DeviceEntry, 0, len(bare))
		for _, d := range bare {
			entries = append(entries, d.entry())
		}
		return entries, nil
	}

	if strings.Contains(strings.ToLower(trimmed), "no devices") {
		return []DeviceEntry{}, nil
	}
	return nil, &types.ParseError{Source: "device-list", Detail: "not a recognized device list"}
}

// DecodePendingList decodes the pending-device enumeration.
func DecodePendingList(raw string) ([]types.PendingDevice, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &types.ParseError{Source: "pending-list", Detail: "empty output"}
	}

	var wrapper struct {
		Pending []deviceJSON `json:"pending"`
	}
	if err := json.Unmarshal([]byte(trimmed), &wrapper); err == nil && wrapper.Pending != nil {
		pending := make([]types.PendingDevice, 0, len(wrapper.Pending))
		for _, d := range wrapper.Pending {
			pending = append(pending, types.PendingDevice{
				RequestID:    firstNonEmpty(d.RequestID, d.ID, d.DeviceID),
				DeviceID:     firstNonEmpty(d.DeviceID, d.ID),
				Hostname:     d.Hostname,
				IP:           d.IP,
				Platform:     d.Platform,
				Role:         d.Role,
				FirstSeenAge: d.Age,
			})
		}
		return pending, nil
	}

	if strings.Contains(strings.ToLower(trimmed), "no pending") {
		return []types.PendingDevice{}, nil
	}
	return nil, &types.ParseError{Source: "pending-list", Detail: "not a recognized pending list"}
}

// DecodeAck decodes an approve/reject/remove outcome. "Already approved" and
// friends count as success so the mutations stay idempotent under retry.
func DecodeAck(source, raw string) (Ack, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Ack{}, &types.ParseError{Source: source, Detail: "empty output"}
	}

	var js struct {
		Success *bool       `json:"success"`
		OK      *bool       `json:"ok"`
		Error   string      `json:"error"`
		Device  *deviceJSON `json:"device"`
	}
	if err := json.Unmarshal([]byte(trimmed), &js); err == nil && (js.Success != nil || js.OK != nil || js.Error != "") {
		ack := Ack{}
		if js.Success != nil {
			ack.OK = *js.Success
		} else if js.OK != nil {
			ack.OK = *js.OK
		}
		if js.Device != nil {
			entry := js.Device.entry()
			ack.Device = &entry
		}
		if !ack.OK && isNotFoundPhrase(js.Error) {
			ack.NotFound = true
		}
		return ack, nil
	}

	lower := strings.ToLower(trimmed)
	if isNotFoundPhrase(lower) {
		return Ack{NotFound: true}, nil
	}
	for _, token := range []string{"already approved", "already rejected", "already removed", "approved", "rejected", "removed", "success", "ok"} {
		if strings.Contains(lower, token) {
			return Ack{OK: true}, nil
		}
	}
	if strings.Contains(lower, "error") || strings.Contains(lower, "failed") {
		return Ack{}, nil
	}
	return Ack{}, &types.ParseError{Source: source, Detail: "no acknowledgement token found"}
}

func isNotFoundPhrase(s string) bool {
	s = strings.ToLower(s)
	for _, token := range []string{"not found", "no such device", "unknown device", "unknown request"} {
		if strings.Contains(s, token) {
			return true
		}
	}
	return false
}

// ParseListeningPort reports whether ss/netstat output shows a listener on port.
func ParseListeningPort(raw string, port int) bool {
	needle := fmt.Sprintf(":%d", port)
	for _, line := range strings.Split(raw, "\n") {
		if !strings.Contains(strings.ToUpper(line), "LISTEN") {
			continue
		}
		for _, f := range strings.Fields(line) {
			if strings.HasSuffix(f, needle) {
				return true
			}
		}
	}
	return false
}

// ParseProcessList reports whether pgrep-style output names a gateway process.
func ParseProcessList(raw string) bool {
	for _, line := range strings.Split(raw, "\n") {
		if strings.Contains(strings.ToLower(line), "gateway") {
			return true
		}
	}
	return false
}

func looksLikeIP(s string) bool {
	if strings.Count(s, ".") != 3 {
		return strings.Count(s, ":") >= 2 // rough IPv6 check
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}

func isKnownPlatform(s string) bool {
	switch s {
	case "linux", "darwin", "macos", "windows", "android", "ios", "freebsd":
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
