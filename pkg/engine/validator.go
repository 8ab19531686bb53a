package engine

import (
	"regexp"

	"github.com/switchcraft/switchcraft/pkg/inventory"
	"github.com/switchcraft/switchcraft/pkg/model"
	"github.com/switchcraft/switchcraft/pkg/util"
)

// Port name patterns by device type. Validation is strict: an unknown
// format returns invalid-port before any wire operation.
var portPatterns = map[string]*regexp.Regexp{
	inventory.TypeBrocadeTelnet: regexp.MustCompile(`^\d+/\d+/\d+$`),
	inventory.TypeOpenWrtSSH:    regexp.MustCompile(`^lan\d+$`),
	inventory.TypeZyxelCLI:      regexp.MustCompile(`^\d+$`),
	inventory.TypeZyxelHTTPS:    regexp.MustCompile(`^\d+$`),
}

// Reserved VLAN ids on Brocade hardware; creation is rejected.
var brocadeReservedVLANs = map[int]bool{4087: true, 4090: true, 4093: true, 4094: true}

// Protected VLANs can never be deleted.
var protectedVLANs = map[int]string{1: "Default VLAN"}

// Validator performs pre-flight checks on a desired state. It never
// touches the wire.
type Validator struct {
	deviceType string
}

// NewValidator builds a validator for a device type; an empty type
// accepts any known port format.
func NewValidator(deviceType string) *Validator {
	return &Validator{deviceType: deviceType}
}

// Validate runs all pre-flight checks: VLAN id ranges, reserved and
// protected ids, port name formats, untagged uniqueness, tagged/untagged
// overlap, speed values, and change-size warnings.
func (v *Validator) Validate(desired *DesiredState) ValidationResult {
	b := &util.ValidationBuilder{}

	v.validateVLANs(desired, b)
	v.validatePorts(desired, b)
	v.checkPortConflicts(desired, b)
	v.checkChangeSize(desired, b)

	result := ValidationResult{Valid: !b.HasErrors(), Warnings: b.Warnings()}
	if err := b.Build(); err != nil {
		result.Errors = err.(*util.ValidationError).Errors
	}
	return result
}

func (v *Validator) validateVLANs(desired *DesiredState, b *util.ValidationBuilder) {
	for id, vlan := range desired.VLANs {
		if id < 1 || id > 4094 {
			b.AddErrorf("Invalid VLAN ID %d: must be between 1 and 4094", id)
			continue
		}
		if v.deviceType == inventory.TypeBrocadeTelnet && brocadeReservedVLANs[id] && vlan.Action == ActionEnsure {
			b.AddErrorf("VLAN %d is reserved on Brocade hardware", id)
			continue
		}
		if reason, ok := protectedVLANs[id]; ok && vlan.Action == ActionAbsent {
			b.AddErrorf("Cannot delete VLAN %d: %s", id, reason)
		}
		if vlan.Action == ActionEnsure && len(vlan.UntaggedPorts) == 0 && len(vlan.TaggedPorts) == 0 {
			b.AddWarningf("VLAN %d has no ports assigned", id)
		}
		for _, port := range append(append([]string(nil), vlan.UntaggedPorts...), vlan.TaggedPorts...) {
			if !v.validPortName(port) {
				b.AddErrorf("Invalid port name %q in VLAN %d", port, id)
			}
		}
	}
}

func (v *Validator) validatePorts(desired *DesiredState, b *util.ValidationBuilder) {
	for name, port := range desired.Ports {
		if !v.validPortName(name) {
			b.AddErrorf("Invalid port name: %s", name)
		}
		if port.Speed != nil && !model.ValidSpeed(*port.Speed) {
			b.AddErrorf("Invalid speed %q for port %s", *port.Speed, name)
		}
	}
}

func (v *Validator) checkPortConflicts(desired *DesiredState, b *util.ValidationBuilder) {
	// A port may be untagged in at most one VLAN across the device.
	untaggedIn := make(map[string]int)
	for id, vlan := range desired.VLANs {
		if vlan.Action == ActionAbsent {
			continue
		}
		for _, port := range vlan.UntaggedPorts {
			if prev, ok := untaggedIn[port]; ok {
				b.AddErrorf("Port %s assigned untagged to both VLAN %d and VLAN %d", port, prev, id)
			} else {
				untaggedIn[port] = id
			}
		}
	}

	// Tagged and untagged sets of one VLAN must be disjoint.
	for id, vlan := range desired.VLANs {
		if vlan.Action == ActionAbsent {
			continue
		}
		tagged := make(map[string]bool, len(vlan.TaggedPorts))
		for _, port := range vlan.TaggedPorts {
			tagged[port] = true
		}
		for _, port := range vlan.UntaggedPorts {
			if tagged[port] {
				b.AddErrorf("Port %s in VLAN %d cannot be both tagged and untagged", port, id)
			}
		}
	}
}

func (v *Validator) checkChangeSize(desired *DesiredState, b *util.ValidationBuilder) {
	if total := len(desired.VLANs) + len(desired.Ports); total > 20 {
		b.AddWarningf("Large change set (%d items) - consider staging", total)
	}
	totalPorts := 0
	for _, vlan := range desired.VLANs {
		totalPorts += len(vlan.UntaggedPorts) + len(vlan.TaggedPorts)
	}
	if totalPorts > 50 {
		b.AddWarningf("Many port changes (%d ports) - verify before applying", totalPorts)
	}
}

func (v *Validator) validPortName(port string) bool {
	if port == "" {
		return false
	}
	if pattern, ok := portPatterns[v.deviceType]; ok {
		return pattern.MatchString(port)
	}
	for _, pattern := range portPatterns {
		if pattern.MatchString(port) {
			return true
		}
	}
	return false
}
