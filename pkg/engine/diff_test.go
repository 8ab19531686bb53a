package engine

import (
	"reflect"
	"testing"

	"github.com/switchcraft/switchcraft/pkg/model"
)

// brocadeBaseline mirrors a device with VLAN 1 (1/1/1-24 untagged) and
// VLAN 254.
func brocadeBaseline() *model.DeviceConfig {
	cfg := model.NewDeviceConfig("lab-brocade")
	v1 := &model.VLAN{ID: 1, Name: "DEFAULT-VLAN"}
	for i := 1; i <= 24; i++ {
		v1.UntaggedPorts = append(v1.UntaggedPorts, portName(i))
	}
	cfg.VLANs[1] = v1
	cfg.VLANs[254] = &model.VLAN{ID: 254, Name: "Management",
		UntaggedPorts: []string{"1/2/4"}, TaggedPorts: []string{"1/2/1"}}
	return cfg
}

func portName(i int) string {
	return "1/1/" + itoa(i)
}

func itoa(i int) string {
	if i < 10 {
		return string(rune('0' + i))
	}
	return string(rune('0'+i/10)) + string(rune('0'+i%10))
}

func TestDiffNoChange(t *testing.T) {
	current := brocadeBaseline()
	desired := &DesiredState{
		DeviceID: "lab-brocade",
		Mode:     ModePatch,
		VLANs: map[int]*VLANDesired{254: {
			ID: 254, Action: ActionEnsure, Name: "Management",
			UntaggedPorts: []string{"1/2/4"}, TaggedPorts: []string{"1/2/1"},
		}},
		Ports:    map[string]*PortDesired{},
		Settings: map[string]string{},
	}
	diff := ComputeDiff(current, desired)
	if !diff.Empty() {
		t.Errorf("diff(x, x) should be empty, got: %s", diff.Summary())
	}
}

func TestDiffCreateWithImpliedUntaggedRemoval(t *testing.T) {
	current := brocadeBaseline()
	desired := &DesiredState{
		DeviceID: "lab-brocade",
		Mode:     ModePatch,
		VLANs: map[int]*VLANDesired{100: {
			ID: 100, Action: ActionEnsure, Name: "Servers",
			UntaggedPorts: []string{"1/1/5", "1/1/6", "1/1/7", "1/1/8"},
			TaggedPorts:   []string{"1/2/1"},
		}},
		Ports:    map[string]*PortDesired{},
		Settings: map[string]string{},
	}
	diff := ComputeDiff(current, desired)

	if len(diff.VLANsToCreate) != 1 || diff.VLANsToCreate[0].ID != 100 {
		t.Fatalf("creates = %+v", diff.VLANsToCreate)
	}
	// The ports being untagged into VLAN 100 must leave VLAN 1 first.
	if len(diff.VLANsToModify) != 1 {
		t.Fatalf("expected implied modify of VLAN 1, got %d modifies", len(diff.VLANsToModify))
	}
	m := diff.VLANsToModify[0]
	if m.Before.ID != 1 {
		t.Errorf("implied modify targets VLAN %d, want 1", m.Before.ID)
	}
	if !reflect.DeepEqual(m.RemoveUntagged, []string{"1/1/5", "1/1/6", "1/1/7", "1/1/8"}) {
		t.Errorf("implied removals = %v", m.RemoveUntagged)
	}
}

func TestDiffModify(t *testing.T) {
	current := brocadeBaseline()
	desired := &DesiredState{
		DeviceID: "lab-brocade",
		Mode:     ModePatch,
		VLANs: map[int]*VLANDesired{254: {
			ID: 254, Action: ActionEnsure, Name: "Management",
			UntaggedPorts: []string{"1/2/4"},
			TaggedPorts:   []string{"1/2/1", "1/2/2"},
		}},
		Ports:    map[string]*PortDesired{},
		Settings: map[string]string{},
	}
	diff := ComputeDiff(current, desired)
	if len(diff.VLANsToModify) != 1 {
		t.Fatalf("modifies = %d", len(diff.VLANsToModify))
	}
	m := diff.VLANsToModify[0]
	if !reflect.DeepEqual(m.AddTagged, []string{"1/2/2"}) {
		t.Errorf("AddTagged = %v", m.AddTagged)
	}
	if len(m.RemoveTagged) != 0 || len(m.AddUntagged) != 0 || len(m.RemoveUntagged) != 0 {
		t.Errorf("unexpected deltas: %+v", m)
	}
}

func TestDiffDeleteAbsent(t *testing.T) {
	current := brocadeBaseline()
	desired := &DesiredState{
		DeviceID: "lab-brocade",
		Mode:     ModePatch,
		VLANs:    map[int]*VLANDesired{254: {ID: 254, Action: ActionAbsent}},
		Ports:    map[string]*PortDesired{},
		Settings: map[string]string{},
	}
	diff := ComputeDiff(current, desired)
	if len(diff.VLANsToDelete) != 1 || diff.VLANsToDelete[0].ID != 254 {
		t.Fatalf("deletes = %+v", diff.VLANsToDelete)
	}

	// Deleting a VLAN that does not exist is a no-op.
	desired.VLANs = map[int]*VLANDesired{999: {ID: 999, Action: ActionAbsent}}
	if diff := ComputeDiff(current, desired); !diff.Empty() {
		t.Error("absent on a missing VLAN should be no-change")
	}
}

func TestDiffFullModeDeletesUnlisted(t *testing.T) {
	current := brocadeBaseline()
	desired := &DesiredState{
		DeviceID: "lab-brocade",
		Mode:     ModeFull,
		VLANs:    map[int]*VLANDesired{},
		Ports:    map[string]*PortDesired{},
		Settings: map[string]string{},
	}
	diff := ComputeDiff(current, desired)

	// VLAN 254 goes; VLAN 1 is never scheduled for deletion.
	if len(diff.VLANsToDelete) != 1 || diff.VLANsToDelete[0].ID != 254 {
		t.Fatalf("full mode deletes = %+v", diff.VLANsToDelete)
	}
}

func TestDiffPatchModeIgnoresUnlisted(t *testing.T) {
	current := brocadeBaseline()
	desired := &DesiredState{
		DeviceID: "lab-brocade",
		Mode:     ModePatch,
		VLANs:    map[int]*VLANDesired{},
		Ports:    map[string]*PortDesired{},
		Settings: map[string]string{},
	}
	if diff := ComputeDiff(current, desired); !diff.Empty() {
		t.Errorf("patch mode with empty desired should be no-change: %s", diff.Summary())
	}
}

func TestDiffPorts(t *testing.T) {
	current := brocadeBaseline()
	current.Ports["1/1/10"] = &model.Port{Name: "1/1/10", Enabled: true, Speed: "auto"}

	disabled := false
	speed := "100-full"
	desired := &DesiredState{
		DeviceID: "lab-brocade",
		Mode:     ModePatch,
		VLANs:    map[int]*VLANDesired{},
		Ports: map[string]*PortDesired{
			"1/1/10": {Name: "1/1/10", Enabled: &disabled, Speed: &speed},
		},
		Settings: map[string]string{},
	}
	diff := ComputeDiff(current, desired)
	if len(diff.PortsToConfigure) != 1 {
		t.Fatalf("port changes = %d", len(diff.PortsToConfigure))
	}
	pc := diff.PortsToConfigure[0]
	if pc.Enabled == nil || *pc.Enabled || pc.Speed == nil || *pc.Speed != "100-full" {
		t.Errorf("port change = %+v", pc)
	}
	if pc.Before == nil || !pc.Before.Enabled {
		t.Error("before state not captured")
	}

	// Matching attributes produce no change.
	enabled := true
	auto := "auto"
	desired.Ports["1/1/10"] = &PortDesired{Name: "1/1/10", Enabled: &enabled, Speed: &auto}
	if diff := ComputeDiff(current, desired); !diff.Empty() {
		t.Error("matching port attributes should be no-change")
	}
}

func TestDiffSettings(t *testing.T) {
	current := brocadeBaseline()
	current.Settings["hostname"] = "old"
	desired := &DesiredState{
		DeviceID: "lab-brocade",
		Mode:     ModePatch,
		VLANs:    map[int]*VLANDesired{},
		Ports:    map[string]*PortDesired{},
		Settings: map[string]string{"hostname": "new"},
	}
	diff := ComputeDiff(current, desired)
	if len(diff.SettingsToChange) != 1 {
		t.Fatalf("setting changes = %d", len(diff.SettingsToChange))
	}
	s := diff.SettingsToChange[0]
	if s.Key != "hostname" || s.Before != "old" || s.After != "new" {
		t.Errorf("setting change = %+v", s)
	}
}
