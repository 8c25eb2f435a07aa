package harness

import (
	"fmt"
	"time"
)

// ServerID identifies one cluster node.  Ids are assigned by the control
// plane and are never reused while the orchestrator holds a reference.
type ServerID int64

// HostID is a node's internal cluster identity, resolved lazily through the
// control plane and immutable once observed.
type HostID string

// IPAddress is a node address as reported by the control plane.
type IPAddress string

// ServerInfo is one cluster node known to the orchestrator.
type ServerInfo struct {
	ServerID ServerID
	IP       IPAddress
}

func (s ServerInfo) String() string {
	return fmt.Sprintf("server %d (%s)", s.ServerID, s.IP)
}

// ReplaceConfig carries the parameters for replacing a dead node.  It is
// passed through to the control plane verbatim.
type ReplaceConfig struct {
	ReplacedID  ServerID `json:"replaced_id"`
	ReuseIPAddr bool     `json:"reuse_ip_addr"`
	UseHostID   bool     `json:"use_host_id"`
}

// AddOptions configures ServerAdd.  The zero value adds a fresh node and
// starts it.
type AddOptions struct {
	ReplaceCfg *ReplaceConfig
	Cmdline    []string
	Config     map[string]any

	// NoStart registers the node without launching its process.
	NoStart bool
}

// StartOptions configures ServerStart and ServerRestart.
type StartOptions struct {
	// ExpectedError is forwarded to the control plane when the start is
	// expected to fail in a particular way; the harness does not interpret it.
	ExpectedError string

	// WaitOthers makes the call block until the started server sees at least
	// this many other live peers.
	WaitOthers int

	// WaitInterval bounds the WaitOthers wait.  Defaults to DefaultWaitInterval.
	WaitInterval time.Duration
}
