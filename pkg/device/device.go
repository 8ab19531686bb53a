// Package device implements the per-vendor handlers. A handler owns
// vendor parsing and vendor command emission; it speaks only the
// normalized model to callers. Dispatch by inventory type goes through
// the Registry.
package device

import (
	"context"
	"fmt"

	"github.com/switchcraft/switchcraft/pkg/inventory"
	"github.com/switchcraft/switchcraft/pkg/model"
)

// Handler is the capability set the engine depends on. Every vendor
// handler implements it; batch execution is optional (see BatchExecutor
// and ConfigBatchExecutor).
type Handler interface {
	DeviceID() string
	Info() *inventory.Device

	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool
	CheckHealth(ctx context.Context) (*Status, error)

	// Execute runs one raw command and classifies the output.
	Execute(ctx context.Context, command string) (string, error)

	GetVLANs(ctx context.Context) ([]*model.VLAN, error)
	GetPorts(ctx context.Context) ([]*model.Port, error)
	GetConfig(ctx context.Context) (*model.DeviceConfig, error)

	SaveConfig(ctx context.Context) error

	// ValidPortName reports whether a port identifier is well-formed for
	// this vendor. Checked before any wire operation.
	ValidPortName(name string) bool

	// RecoveryPatterns returns the vendor's recognized failure patterns,
	// in matching priority order.
	RecoveryPatterns() []RecoveryPattern
}

// ConfigWriter is implemented by handlers whose write surface is not a
// CLI (the Zyxel web forms). For these devices the engine applies diffs
// through the primitives below instead of executing a command plan;
// CLI vendors have exactly one write path, the planner.
type ConfigWriter interface {
	CreateVLAN(ctx context.Context, vlan *model.VLAN) error
	DeleteVLAN(ctx context.Context, vlanID int) error
	ConfigurePort(ctx context.Context, port *model.Port) error
}

// ConfigBatchExecutor is implemented by handlers whose CLI supports
// batched configuration-mode command execution.
type ConfigBatchExecutor interface {
	ExecuteConfigBatch(ctx context.Context, commands []string, stopOnError bool) (string, error)
}

// BatchExecutor is implemented by handlers that can run a command list
// outside config mode, returning one result per command.
type BatchExecutor interface {
	ExecuteBatch(ctx context.Context, commands []string, stopOnError bool) ([]Result, error)
}

// Result is the outcome of one command in a batch.
type Result struct {
	Command string `json:"command"`
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

// Status is device health information.
type Status struct {
	Reachable       bool   `json:"reachable"`
	Uptime          string `json:"uptime,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	PortCount       int    `json:"port_count,omitempty"`
	ActivePorts     int    `json:"active_ports,omitempty"`
	Error           string `json:"error,omitempty"`
}

// RecoveryAction tells the executor what to do when a pattern matches.
type RecoveryAction int

const (
	// ActionFatal surfaces immediately without retry.
	ActionFatal RecoveryAction = iota
	// ActionDisableDualMode disables dual-mode on the offending port and
	// retries the failed command.
	ActionDisableDualMode
	// ActionTreatAsSuccess continues as if the command succeeded.
	ActionTreatAsSuccess
	// ActionDisableSTP disables spanning-tree on the port, retries, and
	// re-enables in post-commands.
	ActionDisableSTP
	// ActionReconnect reconnects once and retries the remaining plan from
	// the failed point.
	ActionReconnect
)

// RecoveryPattern maps an output substring (matched case-insensitively)
// to a recovery action.
type RecoveryPattern struct {
	Match  string
	Action RecoveryAction
}

// Constructor builds a handler for an inventory record.
type Constructor func(dev *inventory.Device) (Handler, error)

// Registry maps inventory type strings to handler constructors.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry returns a registry with all built-in vendors registered.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.Register(inventory.TypeBrocadeTelnet, func(dev *inventory.Device) (Handler, error) {
		return NewBrocadeHandler(dev), nil
	})
	r.Register(inventory.TypeZyxelCLI, func(dev *inventory.Device) (Handler, error) {
		return NewZyxelCLIHandler(dev), nil
	})
	r.Register(inventory.TypeZyxelHTTPS, func(dev *inventory.Device) (Handler, error) {
		return NewZyxelWebHandler(dev), nil
	})
	r.Register(inventory.TypeOpenWrtSSH, func(dev *inventory.Device) (Handler, error) {
		return NewOpenWrtHandler(dev), nil
	})
	return r
}

// Register adds a constructor for a device type.
func (r *Registry) Register(deviceType string, ctor Constructor) {
	r.constructors[deviceType] = ctor
}

// Build creates a handler for the inventory record.
func (r *Registry) Build(dev *inventory.Device) (Handler, error) {
	ctor, ok := r.constructors[dev.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported device type: %s", dev.Type)
	}
	return ctor(dev)
}
