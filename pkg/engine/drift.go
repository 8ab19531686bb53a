package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/switchcraft/switchcraft/pkg/model"
)

// Verdict classifies one entity in a drift report.
type Verdict string

const (
	VerdictInSync  Verdict = "in-sync"
	VerdictMissing Verdict = "missing" // desired but not on device
	VerdictExtra   Verdict = "extra"   // on device but not desired
	VerdictDiffers Verdict = "differs" // present on both, attributes disagree
)

// EntityDrift is the verdict for one VLAN, port, or setting.
type EntityDrift struct {
	Kind    string  `json:"kind"` // vlan | port | setting
	Entity  string  `json:"entity"`
	Verdict Verdict `json:"verdict"`
	Detail  string  `json:"detail,omitempty"`
}

// DriftReport is the full comparison of a stored desired state against
// freshly observed device state. Producing one is side-effect-free.
type DriftReport struct {
	DeviceID  string        `json:"device_id"`
	Timestamp time.Time     `json:"timestamp"`
	InSync    bool          `json:"in_sync"`
	Entities  []EntityDrift `json:"entities"`
}

// ComputeDrift compares desired against observed state per entity. In
// patch mode device-only entities are ignored; in full mode they are
// reported as extra.
func ComputeDrift(current *model.DeviceConfig, desired *DesiredState) *DriftReport {
	report := &DriftReport{DeviceID: desired.DeviceID, Timestamp: time.Now().UTC()}
	current.Canonicalize()

	vlanIDs := lo.Keys(desired.VLANs)
	sort.Ints(vlanIDs)
	for _, id := range vlanIDs {
		want := desired.VLANs[id]
		have := current.VLANs[id]
		entity := fmt.Sprintf("vlan %d", id)

		if want.Action == ActionAbsent {
			if have != nil {
				report.add("vlan", entity, VerdictExtra, "present on device but marked absent")
			} else {
				report.add("vlan", entity, VerdictInSync, "")
			}
			continue
		}
		if have == nil {
			report.add("vlan", entity, VerdictMissing, "")
			continue
		}
		if m := diffVLAN(have, want.Model(), want.Name); m != nil {
			report.add("vlan", entity, VerdictDiffers, vlanDriftDetail(m))
		} else {
			report.add("vlan", entity, VerdictInSync, "")
		}
	}

	if desired.Mode == ModeFull {
		deviceIDs := lo.Keys(current.VLANs)
		sort.Ints(deviceIDs)
		for _, id := range deviceIDs {
			if id == 1 {
				continue
			}
			if _, listed := desired.VLANs[id]; !listed {
				report.add("vlan", fmt.Sprintf("vlan %d", id), VerdictExtra, "not in desired state")
			}
		}
	}

	portNames := lo.Keys(desired.Ports)
	model.SortPorts(portNames)
	for _, name := range portNames {
		want := desired.Ports[name]
		have := current.Ports[name]
		entity := "port " + name

		if have == nil {
			report.add("port", entity, VerdictMissing, "")
			continue
		}
		var details []string
		if want.Enabled != nil && *want.Enabled != have.Enabled {
			details = append(details, fmt.Sprintf("enabled: want %v, have %v", *want.Enabled, have.Enabled))
		}
		if want.Description != nil && *want.Description != have.Description {
			details = append(details, fmt.Sprintf("description: want %q, have %q", *want.Description, have.Description))
		}
		if want.Speed != nil && *want.Speed != have.Speed {
			details = append(details, fmt.Sprintf("speed: want %s, have %s", *want.Speed, have.Speed))
		}
		if len(details) > 0 {
			report.add("port", entity, VerdictDiffers, joinDetails(details))
		} else {
			report.add("port", entity, VerdictInSync, "")
		}
	}

	settingKeys := lo.Keys(desired.Settings)
	sort.Strings(settingKeys)
	for _, key := range settingKeys {
		want := desired.Settings[key]
		have, ok := current.Settings[key]
		switch {
		case !ok:
			report.add("setting", key, VerdictMissing, "")
		case have != want:
			report.add("setting", key, VerdictDiffers, fmt.Sprintf("want %q, have %q", want, have))
		default:
			report.add("setting", key, VerdictInSync, "")
		}
	}

	report.InSync = true
	for _, e := range report.Entities {
		if e.Verdict != VerdictInSync {
			report.InSync = false
			break
		}
	}
	return report
}

func (r *DriftReport) add(kind, entity string, verdict Verdict, detail string) {
	r.Entities = append(r.Entities, EntityDrift{Kind: kind, Entity: entity, Verdict: verdict, Detail: detail})
}

func vlanDriftDetail(m *VLANModify) string {
	var details []string
	if m.RenameTo != "" {
		details = append(details, fmt.Sprintf("name: want %q, have %q", m.RenameTo, m.Before.Name))
	}
	if len(m.AddUntagged) > 0 {
		details = append(details, "untagged missing: "+joinPorts(m.AddUntagged))
	}
	if len(m.RemoveUntagged) > 0 {
		details = append(details, "untagged extra: "+joinPorts(m.RemoveUntagged))
	}
	if len(m.AddTagged) > 0 {
		details = append(details, "tagged missing: "+joinPorts(m.AddTagged))
	}
	if len(m.RemoveTagged) > 0 {
		details = append(details, "tagged extra: "+joinPorts(m.RemoveTagged))
	}
	return joinDetails(details)
}

func joinPorts(ports []string) string {
	out := ""
	for i, p := range ports {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

func joinDetails(details []string) string {
	out := ""
	for i, d := range details {
		if i > 0 {
			out += "; "
		}
		out += d
	}
	return out
}
