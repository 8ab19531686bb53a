package engine

import (
	"sort"

	"github.com/samber/lo"

	"github.com/switchcraft/switchcraft/pkg/model"
)

// ComputeDiff is the pure differ: given observed device state and a
// desired state it produces the Diff, with no I/O. Port ordering is
// normalized before comparison; results are ordered by VLAN id and port
// name so plans are deterministic.
func ComputeDiff(current *model.DeviceConfig, desired *DesiredState) *Diff {
	diff := &Diff{}
	current.Canonicalize()

	vlanIDs := lo.Keys(desired.VLANs)
	sort.Ints(vlanIDs)

	modifies := make(map[int]*VLANModify)

	for _, id := range vlanIDs {
		want := desired.VLANs[id]
		have := current.VLANs[id]

		if want.Action == ActionAbsent {
			if have != nil {
				diff.VLANsToDelete = append(diff.VLANsToDelete, have)
			}
			continue
		}

		target := want.Model()
		if have == nil {
			diff.VLANsToCreate = append(diff.VLANsToCreate, target)
			continue
		}
		if m := diffVLAN(have, target, want.Name); m != nil {
			modifies[id] = m
		}
	}

	// Moving a port to untagged membership in one VLAN implies removing
	// its untagged membership elsewhere; a port is untagged in at most
	// one VLAN. Schedule the implied removals as modifies of the old
	// VLANs so the planner can order them first.
	for _, created := range diff.VLANsToCreate {
		scheduleUntaggedRemovals(current, desired, created.ID, created.UntaggedPorts, modifies, diff)
	}
	for id, m := range lo.Assign(map[int]*VLANModify{}, modifies) {
		scheduleUntaggedRemovals(current, desired, id, m.AddUntagged, modifies, diff)
	}

	modifyIDs := lo.Keys(modifies)
	sort.Ints(modifyIDs)
	for _, id := range modifyIDs {
		diff.VLANsToModify = append(diff.VLANsToModify, modifies[id])
	}

	// Full mode: device VLANs absent from the desired state are deleted.
	// VLAN 1 is never scheduled for deletion regardless of mode.
	if desired.Mode == ModeFull {
		deviceIDs := lo.Keys(current.VLANs)
		sort.Ints(deviceIDs)
		for _, id := range deviceIDs {
			if id == 1 {
				continue
			}
			if _, listed := desired.VLANs[id]; !listed {
				diff.VLANsToDelete = append(diff.VLANsToDelete, current.VLANs[id])
			}
		}
		sort.Slice(diff.VLANsToDelete, func(i, j int) bool {
			return diff.VLANsToDelete[i].ID < diff.VLANsToDelete[j].ID
		})
	}

	diffPorts(current, desired, diff)
	diffSettings(current, desired, diff)

	return diff
}

func diffVLAN(have, want *model.VLAN, desiredName string) *VLANModify {
	m := &VLANModify{
		Before:         have,
		After:          want,
		AddUntagged:    lo.Without(want.UntaggedPorts, have.UntaggedPorts...),
		RemoveUntagged: lo.Without(have.UntaggedPorts, want.UntaggedPorts...),
		AddTagged:      lo.Without(want.TaggedPorts, have.TaggedPorts...),
		RemoveTagged:   lo.Without(have.TaggedPorts, want.TaggedPorts...),
	}
	if desiredName != "" && desiredName != have.Name {
		m.RenameTo = desiredName
	}
	if len(m.AddUntagged) == 0 && len(m.RemoveUntagged) == 0 &&
		len(m.AddTagged) == 0 && len(m.RemoveTagged) == 0 && m.RenameTo == "" {
		return nil
	}
	return m
}

func scheduleUntaggedRemovals(current *model.DeviceConfig, desired *DesiredState,
	targetVLAN int, ports []string, modifies map[int]*VLANModify, diff *Diff) {

	deleted := make(map[int]bool, len(diff.VLANsToDelete))
	for _, v := range diff.VLANsToDelete {
		deleted[v.ID] = true
	}

	for _, port := range ports {
		for id, have := range current.VLANs {
			if id == targetVLAN || deleted[id] {
				continue
			}
			if !lo.Contains(have.UntaggedPorts, port) {
				continue
			}
			// The desired state may already relist this VLAN; in that
			// case its own diff covers the removal.
			if want, listed := desired.VLANs[id]; listed && want.Action == ActionEnsure {
				continue
			}
			m, ok := modifies[id]
			if !ok {
				after := &model.VLAN{
					ID:          have.ID,
					Name:        have.Name,
					TaggedPorts: append([]string(nil), have.TaggedPorts...),
					IPInterface: have.IPInterface,
				}
				m = &VLANModify{Before: have, After: after}
				modifies[id] = m
			}
			if !lo.Contains(m.RemoveUntagged, port) {
				m.RemoveUntagged = append(m.RemoveUntagged, port)
				m.After.UntaggedPorts = lo.Without(have.UntaggedPorts, m.RemoveUntagged...)
			}
		}
	}
}

func diffPorts(current *model.DeviceConfig, desired *DesiredState, diff *Diff) {
	names := lo.Keys(desired.Ports)
	model.SortPorts(names)

	for _, name := range names {
		want := desired.Ports[name]
		have := current.Ports[name]

		change := &PortChange{Name: name, Before: have}
		changed := false

		if want.Enabled != nil {
			haveEnabled := true
			if have != nil {
				haveEnabled = have.Enabled
			}
			if *want.Enabled != haveEnabled {
				change.Enabled = want.Enabled
				changed = true
			}
		}
		if want.Description != nil {
			haveDesc := ""
			if have != nil {
				haveDesc = have.Description
			}
			if *want.Description != haveDesc {
				change.Description = want.Description
				changed = true
			}
		}
		if want.Speed != nil {
			haveSpeed := "auto"
			if have != nil && have.Speed != "" {
				haveSpeed = have.Speed
			}
			if *want.Speed != haveSpeed {
				change.Speed = want.Speed
				changed = true
			}
		}
		if changed {
			diff.PortsToConfigure = append(diff.PortsToConfigure, change)
		}
	}
}

func diffSettings(current *model.DeviceConfig, desired *DesiredState, diff *Diff) {
	keys := lo.Keys(desired.Settings)
	sort.Strings(keys)
	for _, key := range keys {
		want := desired.Settings[key]
		have := current.Settings[key]
		if want != have {
			diff.SettingsToChange = append(diff.SettingsToChange, &SettingChange{Key: key, Before: have, After: want})
		}
	}
}
