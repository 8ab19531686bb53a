package model

import (
	"reflect"
	"testing"
)

func TestPortKey(t *testing.T) {
	tests := []struct {
		name string
		want []int
	}{
		{"1/2/3", []int{1, 2, 3}},
		{"lan4", []int{4}},
		{"7", []int{7}},
		{"weird", nil},
	}
	for _, tt := range tests {
		if got := PortKey(tt.name); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("PortKey(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSortPorts(t *testing.T) {
	ports := []string{"1/2/1", "1/1/10", "1/1/2", "1/1/1"}
	SortPorts(ports)
	want := []string{"1/1/1", "1/1/2", "1/1/10", "1/2/1"}
	if !reflect.DeepEqual(ports, want) {
		t.Errorf("SortPorts = %v, want %v", ports, want)
	}

	lans := []string{"lan10", "lan2", "lan1"}
	SortPorts(lans)
	if !reflect.DeepEqual(lans, []string{"lan1", "lan2", "lan10"}) {
		t.Errorf("SortPorts lan = %v", lans)
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	v := &VLAN{
		ID:            100,
		UntaggedPorts: []string{"1/1/8", "1/1/5", "1/1/5", "1/1/6"},
		TaggedPorts:   []string{"1/2/1"},
	}
	v.Canonicalize()
	first := append([]string(nil), v.UntaggedPorts...)

	v.Canonicalize()
	if !reflect.DeepEqual(v.UntaggedPorts, first) {
		t.Errorf("canonicalize not idempotent: %v vs %v", v.UntaggedPorts, first)
	}
	if !reflect.DeepEqual(v.UntaggedPorts, []string{"1/1/5", "1/1/6", "1/1/8"}) {
		t.Errorf("canonicalize = %v", v.UntaggedPorts)
	}
}

func TestVLANEqual(t *testing.T) {
	a := &VLAN{ID: 100, Name: "Servers", UntaggedPorts: []string{"1/1/5", "1/1/6"}, TaggedPorts: []string{"1/2/1"}}
	b := &VLAN{ID: 100, Name: "Servers", UntaggedPorts: []string{"1/1/6", "1/1/5"}, TaggedPorts: []string{"1/2/1"}}
	if !a.Equal(b) {
		t.Error("VLANs with same port sets in different order should be equal")
	}

	c := &VLAN{ID: 100, Name: "Servers", UntaggedPorts: []string{"1/1/5"}, TaggedPorts: []string{"1/2/1"}}
	if a.Equal(c) {
		t.Error("VLANs with different untagged sets should not be equal")
	}

	d := &VLAN{ID: 100, Name: "Other", UntaggedPorts: a.UntaggedPorts, TaggedPorts: a.TaggedPorts}
	if a.Equal(d) {
		t.Error("VLANs with different names should not be equal")
	}

	e := &VLAN{ID: 100, Name: "Servers", UntaggedPorts: a.UntaggedPorts, TaggedPorts: a.TaggedPorts,
		IPInterface: &IPInterface{Address: "10.0.0.1", Mask: "255.255.255.0"}}
	if a.Equal(e) {
		t.Error("VLAN with L3 interface should not equal one without")
	}
}

func TestDeviceConfigEqual(t *testing.T) {
	mk := func() *DeviceConfig {
		cfg := NewDeviceConfig("dev")
		cfg.VLANs[1] = &VLAN{ID: 1, Name: "default", UntaggedPorts: []string{"1/1/1", "1/1/2"}}
		cfg.Ports["1/1/1"] = &Port{Name: "1/1/1", Enabled: true}
		cfg.Settings["hostname"] = "sw1"
		return cfg
	}

	a, b := mk(), mk()
	if !a.Equal(b) {
		t.Error("identical configs should be equal")
	}

	b.VLANs[1].UntaggedPorts = []string{"1/1/1"}
	if a.Equal(b) {
		t.Error("configs with different VLAN membership should not be equal")
	}

	c := mk()
	c.Settings["hostname"] = "sw2"
	if a.Equal(c) {
		t.Error("configs with different settings should not be equal")
	}
}

func TestValidSpeed(t *testing.T) {
	for _, s := range ValidSpeeds {
		if !ValidSpeed(s) {
			t.Errorf("ValidSpeed(%q) = false", s)
		}
	}
	for _, s := range []string{"", "1G", "fast", "10g"} {
		if ValidSpeed(s) {
			t.Errorf("ValidSpeed(%q) = true", s)
		}
	}
}
