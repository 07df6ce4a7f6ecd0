package remote

import (
	"fmt"
	"strings"
)

// Command names accepted by Executor.RunNamed. This table is the security
// boundary of the command surface: only these names may be triggered by
// externally-reachable control paths.
const (
	CmdStatus        = "status"
	CmdNodeList      = "node-list"
	CmdDeviceList    = "device-list"
	CmdPendingList   = "pending-list"
	CmdApproveDevice = "approve-device"
	CmdRejectDevice  = "reject-device"
	CmdRemoveDevice  = "remove-device"
	CmdVersion       = "version"
	CmdUptime        = "uptime"
	CmdDiskFree      = "disk-free"
	CmdGatewayLog    = "gateway-log"
	CmdProcessCheck  = "process-check"
	CmdPortCheck     = "port-check"
)

// CommandSpec binds an allow-listed name to a fixed shell invocation.
// Placeholders in Template are filled from sanitized arguments only.
type CommandSpec struct {
	Name     string
	Template string
	ArgCount int
	ReadOnly bool
}

// commandTable is the fixed allow-list. Raw-string execution bypasses this
// table and is reserved for internal call sites.
var commandTable = map[string]CommandSpec{
	CmdStatus:        {Name: CmdStatus, Template: "gateway status --json", ReadOnly: true},
	CmdNodeList:      {Name: CmdNodeList, Template: "gateway nodes list --json", ReadOnly: true},
	CmdDeviceList:    {Name: CmdDeviceList, Template: "gateway devices list --json", ReadOnly: true},
	CmdPendingList:   {Name: CmdPendingList, Template: "gateway devices pending --json", ReadOnly: true},
	CmdApproveDevice: {Name: CmdApproveDevice, Template: "gateway devices approve %s --json", ArgCount: 1},
	CmdRejectDevice:  {Name: CmdRejectDevice, Template: "gateway devices reject %s --json", ArgCount: 1},
	CmdRemoveDevice:  {Name: CmdRemoveDevice, Template: "gateway devices remove %s --json", ArgCount: 1},
	CmdVersion:       {Name: CmdVersion, Template: "gateway --version", ReadOnly: true},
	CmdUptime:        {Name: CmdUptime, Template: "uptime", ReadOnly: true},
	CmdDiskFree:      {Name: CmdDiskFree, Template: "df -h /", ReadOnly: true},
	CmdGatewayLog:    {Name: CmdGatewayLog, Template: "tail -n 50 ~/.gateway/gateway.log", ReadOnly: true},
	CmdProcessCheck:  {Name: CmdProcessCheck, Template: "pgrep -fl 'gateway (daemon|serve)'", ReadOnly: true},
	CmdPortCheck:     {Name: CmdPortCheck, Template: "ss -ltn || netstat -ltn", ReadOnly: true},
}

// LookupCommand returns the spec for an allow-listed name.
func LookupCommand(name string) (CommandSpec, bool) {
	spec, ok := commandTable[name]
	return spec, ok
}

// CommandNames returns the allow-listed names, for diagnostics.
func CommandNames() []string {
	names := make([]string, 0, len(commandTable))
	for name := range commandTable {
		names = append(names, name)
	}
	return names
}

// render builds the concrete shell invocation, sanitizing every argument.
func (s CommandSpec) render(args ...string) (string, error) {
	if len(args) != s.ArgCount {
		return "", fmt.Errorf("command %q takes %d argument(s), got %d", s.Name, s.ArgCount, len(args))
	}
	if s.ArgCount == 0 {
		return s.Template, nil
	}
	clean := make([]any, len(args))
	for i, a := range args {
		c := SanitizeArg(a)
		if c == "" {
			return "", fmt.Errorf("command %q: argument %d empty after sanitizing", s.Name, i)
		}
		clean[i] = c
	}
	return fmt.Sprintf(s.Template, clean...), nil
}

// SanitizeArg strips everything except alphanumerics and [._:-] from an
// argument interpolated into a shell command. Device and request identifiers
// are expected to survive this untouched.
func SanitizeArg(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.' || r == ':':
			b.WriteRune(r)
		}
	}
	return b.String()
}
