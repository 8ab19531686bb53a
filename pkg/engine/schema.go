// Package engine is the device-agnostic configuration engine: it parses
// and validates desired state, diffs it against observed device state,
// plans vendor command sequences with rollback, and executes plans with
// recovery, at-most-one-writer safety, and audit logging.
package engine

import (
	"fmt"
	"strings"

	"github.com/switchcraft/switchcraft/pkg/model"
)

// VLANAction selects the desired disposition of a VLAN.
type VLANAction string

const (
	ActionEnsure VLANAction = "ensure" // create if missing, update if different
	ActionAbsent VLANAction = "absent" // delete if present
)

// Mode controls how entities missing from the desired state are treated.
type Mode string

const (
	ModeFull  Mode = "full"  // unlisted entities are deleted
	ModePatch Mode = "patch" // unlisted entities are untouched
)

// VLANDesired is the desired state of one VLAN.
type VLANDesired struct {
	ID            int
	Action        VLANAction
	Name          string
	UntaggedPorts []string
	TaggedPorts   []string
	IPInterface   *model.IPInterface
}

// Model converts the desired VLAN to a canonicalized model VLAN.
func (v *VLANDesired) Model() *model.VLAN {
	m := &model.VLAN{
		ID:            v.ID,
		Name:          v.Name,
		UntaggedPorts: append([]string(nil), v.UntaggedPorts...),
		TaggedPorts:   append([]string(nil), v.TaggedPorts...),
		IPInterface:   v.IPInterface,
	}
	if m.Name == "" {
		m.Name = fmt.Sprintf("VLAN%d", v.ID)
	}
	m.Canonicalize()
	return m
}

// PortDesired is the desired state of one port; nil fields are left
// untouched on the device.
type PortDesired struct {
	Name        string
	Enabled     *bool
	Description *string
	Speed       *string
}

// DesiredState is a parsed desired-state document.
type DesiredState struct {
	DeviceID string
	Version  int
	Checksum string
	Mode     Mode
	VLANs    map[int]*VLANDesired
	Ports    map[string]*PortDesired
	Settings map[string]string
}

// ValidationResult is the outcome of pre-flight validation.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// VLANModify pairs the observed and desired state of a changed VLAN with
// the computed membership deltas.
type VLANModify struct {
	Before         *model.VLAN
	After          *model.VLAN
	AddUntagged    []string
	RemoveUntagged []string
	AddTagged      []string
	RemoveTagged   []string
	RenameTo       string // empty when the name is unchanged
}

// PortChange is one port attribute change; Before captures the observed
// state for rollback.
type PortChange struct {
	Name        string
	Before      *model.Port
	Enabled     *bool
	Description *string
	Speed       *string
}

// SettingChange is one settings key change.
type SettingChange struct {
	Key    string
	Before string
	After  string
}

// Diff is the full delta between desired and observed state. The zero
// value is the no-change diff.
type Diff struct {
	VLANsToCreate    []*model.VLAN
	VLANsToModify    []*VLANModify
	VLANsToDelete    []*model.VLAN
	PortsToConfigure []*PortChange
	SettingsToChange []*SettingChange
}

// Empty reports whether the diff carries no changes.
func (d *Diff) Empty() bool {
	return len(d.VLANsToCreate) == 0 &&
		len(d.VLANsToModify) == 0 &&
		len(d.VLANsToDelete) == 0 &&
		len(d.PortsToConfigure) == 0 &&
		len(d.SettingsToChange) == 0
}

// Total counts changed entities.
func (d *Diff) Total() int {
	return len(d.VLANsToCreate) + len(d.VLANsToModify) + len(d.VLANsToDelete) +
		len(d.PortsToConfigure) + len(d.SettingsToChange)
}

// Summary renders a human-readable change list for previews and logs.
func (d *Diff) Summary() string {
	if d.Empty() {
		return "No changes needed - current state matches desired state"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Changes to apply (%d total):\n\n", d.Total())
	for _, v := range d.VLANsToCreate {
		fmt.Fprintf(&sb, "  [+] Create VLAN %d\n", v.ID)
		if v.Name != "" {
			fmt.Fprintf(&sb, "      Name: %s\n", v.Name)
		}
		if len(v.UntaggedPorts) > 0 {
			fmt.Fprintf(&sb, "      Untagged: %s\n", strings.Join(v.UntaggedPorts, ", "))
		}
		if len(v.TaggedPorts) > 0 {
			fmt.Fprintf(&sb, "      Tagged: %s\n", strings.Join(v.TaggedPorts, ", "))
		}
	}
	for _, m := range d.VLANsToModify {
		fmt.Fprintf(&sb, "  [~] Modify VLAN %d\n", m.Before.ID)
		if m.RenameTo != "" {
			fmt.Fprintf(&sb, "      Rename: %s -> %s\n", m.Before.Name, m.RenameTo)
		}
		if len(m.AddUntagged) > 0 {
			fmt.Fprintf(&sb, "      Add untagged: %s\n", strings.Join(m.AddUntagged, ", "))
		}
		if len(m.RemoveUntagged) > 0 {
			fmt.Fprintf(&sb, "      Remove untagged: %s\n", strings.Join(m.RemoveUntagged, ", "))
		}
		if len(m.AddTagged) > 0 {
			fmt.Fprintf(&sb, "      Add tagged: %s\n", strings.Join(m.AddTagged, ", "))
		}
		if len(m.RemoveTagged) > 0 {
			fmt.Fprintf(&sb, "      Remove tagged: %s\n", strings.Join(m.RemoveTagged, ", "))
		}
	}
	for _, v := range d.VLANsToDelete {
		fmt.Fprintf(&sb, "  [-] Delete VLAN %d", v.ID)
		if v.Name != "" {
			fmt.Fprintf(&sb, " (was: %s)", v.Name)
		}
		sb.WriteString("\n")
	}
	for _, p := range d.PortsToConfigure {
		fmt.Fprintf(&sb, "  [~] Configure port %s\n", p.Name)
		if p.Enabled != nil {
			fmt.Fprintf(&sb, "      Enabled: %v\n", *p.Enabled)
		}
		if p.Description != nil {
			fmt.Fprintf(&sb, "      Description: %s\n", *p.Description)
		}
		if p.Speed != nil {
			fmt.Fprintf(&sb, "      Speed: %s\n", *p.Speed)
		}
	}
	for _, s := range d.SettingsToChange {
		fmt.Fprintf(&sb, "  [~] Setting %s: %q -> %q\n", s.Key, s.Before, s.After)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Describe renders the diff as short change descriptions for the audit
// trail.
func (d *Diff) Describe() []string {
	var changes []string
	for _, v := range d.VLANsToCreate {
		changes = append(changes, fmt.Sprintf("Created VLAN %d", v.ID))
	}
	for _, m := range d.VLANsToModify {
		var parts []string
		if len(m.AddUntagged) > 0 {
			parts = append(parts, "added untagged: "+strings.Join(m.AddUntagged, ", "))
		}
		if len(m.RemoveUntagged) > 0 {
			parts = append(parts, "removed untagged: "+strings.Join(m.RemoveUntagged, ", "))
		}
		if len(m.AddTagged) > 0 {
			parts = append(parts, "added tagged: "+strings.Join(m.AddTagged, ", "))
		}
		if len(m.RemoveTagged) > 0 {
			parts = append(parts, "removed tagged: "+strings.Join(m.RemoveTagged, ", "))
		}
		if m.RenameTo != "" {
			parts = append(parts, "renamed to "+m.RenameTo)
		}
		changes = append(changes, fmt.Sprintf("Modified VLAN %d: %s", m.Before.ID, strings.Join(parts, "; ")))
	}
	for _, v := range d.VLANsToDelete {
		changes = append(changes, fmt.Sprintf("Deleted VLAN %d", v.ID))
	}
	for _, p := range d.PortsToConfigure {
		changes = append(changes, "Configured port "+p.Name)
	}
	for _, s := range d.SettingsToChange {
		changes = append(changes, fmt.Sprintf("Changed setting %s", s.Key))
	}
	return changes
}

// Command is one plan step, tagged with the diff element that produced
// it so partial failures can be attributed.
type Command struct {
	Text string `json:"text"`
	Tag  string `json:"tag"`
}

// CommandPlan is an ordered, vendor-specific command sequence with its
// inverse.
type CommandPlan struct {
	PreCommands      []Command `json:"pre_commands"`
	MainCommands     []Command `json:"main_commands"`
	PostCommands     []Command `json:"post_commands"`
	RollbackCommands []Command `json:"rollback_commands"`
}

// Total counts forward commands.
func (p *CommandPlan) Total() int {
	return len(p.PreCommands) + len(p.MainCommands) + len(p.PostCommands)
}

func commandTexts(cmds []Command) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Text
	}
	return out
}

// ExecuteOptions controls execution behavior.
type ExecuteOptions struct {
	DryRun              bool
	StopOnError         bool
	RollbackOnError     bool
	SaveOnSuccess       bool
	SkipVerify          bool
	MaxRecoveryAttempts int
	Actor               string
	Context             string
}

// DefaultExecuteOptions are the apply_config defaults.
func DefaultExecuteOptions() ExecuteOptions {
	return ExecuteOptions{
		StopOnError:         true,
		RollbackOnError:     true,
		SaveOnSuccess:       true,
		MaxRecoveryAttempts: 3,
	}
}

// ExecuteResult is the outcome of a plan execution.
type ExecuteResult struct {
	Success           bool     `json:"success"`
	DryRun            bool     `json:"dry_run"`
	ChangesMade       []string `json:"changes_made,omitempty"`
	CommandsExecuted  []string `json:"commands_executed,omitempty"`
	Error             string   `json:"error,omitempty"`
	ErrorKind         string   `json:"error_kind,omitempty"`
	ErrorContext      string   `json:"error_context,omitempty"`
	RecoveryTrail     []string `json:"recovery_trail,omitempty"`
	RollbackPerformed bool     `json:"rollback_performed"`

	// Plan is attached on dry-run so callers can show what would run.
	Plan *CommandPlan `json:"plan,omitempty"`
}
