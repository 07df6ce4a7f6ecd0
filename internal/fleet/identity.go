package fleet

import (
	"strings"

	"fleetgate/internal/types"
)

// IdentifiersOverlap reports whether a live node observation and a persisted
// record refer to the same machine: any of hostname, name, or display name
// coincide case-insensitively, or the IP addresses match.
//
// Matching is many-candidates-to-one and the first record with any overlap
// wins, so identifier hygiene (no shared hostnames across distinct machines)
// is an operational invariant, not one this function enforces.
func IdentifiersOverlap(node types.NodeView, rec types.MachineRecord) bool {
	nodeNames := nameSet(node.Hostname, node.Name, node.DisplayName)
	recNames := nameSet(rec.Hostname, rec.Name, rec.DisplayName)
	for name := range nodeNames {
		if recNames[name] {
			return true
		}
	}
	nodeIP := strings.TrimSpace(node.IP)
	recIP := strings.TrimSpace(rec.IPAddress)
	return nodeIP != "" && nodeIP == recIP
}

func nameSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			set[n] = true
		}
	}
	return set
}

// isPlaceholder reports whether a record was pre-registered by display name
// alone and has not yet claimed a live node.
func isPlaceholder(rec types.MachineRecord) bool {
	return strings.TrimSpace(rec.Hostname) == "" && strings.TrimSpace(rec.IPAddress) == ""
}

// platformsLooselyMatch compares an OS field against a node platform,
// tolerating empty values and the macos/darwin split.
func platformsLooselyMatch(recOS, nodePlatform string) bool {
	a := canonicalPlatform(recOS)
	b := canonicalPlatform(nodePlatform)
	if a == "" || b == "" {
		return true
	}
	return a == b
}

func canonicalPlatform(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "macos", "osx", "mac":
		return "darwin"
	}
	return s
}
