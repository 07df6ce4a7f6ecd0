package fleet

import (
	"testing"

	"fleetgate/internal/types"
)

func TestIdentifiersOverlap(t *testing.T) {
	tests := []struct {
		name string
		node types.NodeView
		rec  types.MachineRecord
		want bool
	}{
		{
			name: "hostname match",
			node: types.NodeView{Hostname: "node-7"},
			rec:  types.MachineRecord{Hostname: "node-7"},
			want: true,
		},
		{
			name: "case and whitespace insensitive",
			node: types.NodeView{Hostname: "Node-7 "},
			rec:  types.MachineRecord{Hostname: "node-7"},
			want: true,
		},
		{
			name: "node hostname against record display name",
			node: types.NodeView{Hostname: "alices-laptop"},
			rec:  types.MachineRecord{DisplayName: "Alices-Laptop"},
			want: true,
		},
		{
			name: "ip match with different names",
			node: types.NodeView{Hostname: "new-name", IP: "10.0.0.7"},
			rec:  types.MachineRecord{Hostname: "old-name", IPAddress: "10.0.0.7"},
			want: true,
		},
		{
			name: "empty ips never match each other",
			node: types.NodeView{Hostname: "a"},
			rec:  types.MachineRecord{Hostname: "b"},
			want: false,
		},
		{
			name: "no overlap",
			node: types.NodeView{Hostname: "node-7", IP: "10.0.0.7"},
			rec:  types.MachineRecord{Hostname: "node-8", IPAddress: "10.0.0.8"},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IdentifiersOverlap(tt.node, tt.rec); got != tt.want {
				t.Errorf("IdentifiersOverlap = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsPlaceholder(t *testing.T) {
	if !isPlaceholder(types.MachineRecord{DisplayName: "Alice's Laptop"}) {
		t.Error("record with only a display name is a placeholder")
	}
	if isPlaceholder(types.MachineRecord{Hostname: "node-7"}) {
		t.Error("record with a hostname is not a placeholder")
	}
	if isPlaceholder(types.MachineRecord{IPAddress: "10.0.0.7"}) {
		t.Error("record with an ip is not a placeholder")
	}
}

func TestPlatformsLooselyMatch(t *testing.T) {
	tests := []struct {
		recOS, nodePlatform string
		want                bool
	}{
		{"macos", "darwin", true},
		{"osx", "macos", true},
		{"linux", "linux", true},
		{"Linux", "linux", true},
		{"", "linux", true},
		{"windows", "", true},
		{"linux", "darwin", false},
		{"windows", "linux", false},
	}
	for _, tt := range tests {
		if got := platformsLooselyMatch(tt.recOS, tt.nodePlatform); got != tt.want {
			t.Errorf("platformsLooselyMatch(%q, %q) = %v, want %v", tt.recOS, tt.nodePlatform, got, tt.want)
		}
	}
}

func TestHasCustomDisplayName(t *testing.T) {
	tests := []struct {
		name string
		rec  types.MachineRecord
		want bool
	}{
		{"operator name", types.MachineRecord{Hostname: "node-7", DisplayName: "Alice's Laptop"}, true},
		{"defaulted to hostname", types.MachineRecord{Hostname: "node-7", DisplayName: "node-7"}, false},
		{"case only difference", types.MachineRecord{Hostname: "NODE-7", DisplayName: "node-7"}, false},
		{"defaulted to name", types.MachineRecord{Name: "node-7", DisplayName: "node-7"}, false},
		{"empty", types.MachineRecord{Hostname: "node-7"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hasCustomDisplayName(tt.rec); got != tt.want {
				t.Errorf("hasCustomDisplayName = %v, want %v", got, tt.want)
			}
		})
	}
}
