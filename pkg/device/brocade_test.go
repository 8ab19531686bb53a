package device

import (
	"reflect"
	"testing"
)

const brocadeShowVLAN = `Total PORT-VLAN entries: 3
Maximum PORT-VLAN entries: 64

Legend: [Stk=Stack-Id, S=Slot]

PORT-VLAN 1, Name DEFAULT-VLAN, Priority level0, Spanning tree Off
 Untagged Ports: (U1/M1)   1   2   3   4   5   6   7   8
 Untagged Ports: (U1/M1)   9  10  11  12
   Tagged Ports: None
   Uplink Ports: None
 DualMode Ports: None

PORT-VLAN 254, Name Management, Priority level0, Spanning tree Off
 Untagged Ports: (U1/M1)  13  14
   Tagged Ports: (U1/M2)   1 to 2
   Uplink Ports: None

PORT-VLAN 100, Name Servers, Priority level0, Spanning tree Off
 Untagged Ports: None
   Tagged Ports: (U1/M2)   3
`

func TestParseBrocadeVLANs(t *testing.T) {
	vlans := parseBrocadeVLANs(brocadeShowVLAN)
	if len(vlans) != 3 {
		t.Fatalf("vlans = %d, want 3", len(vlans))
	}

	v1 := vlans[0]
	if v1.ID != 1 || v1.Name != "DEFAULT-VLAN" {
		t.Errorf("vlan 1 = %d %q", v1.ID, v1.Name)
	}
	if len(v1.UntaggedPorts) != 12 {
		t.Errorf("vlan 1 untagged = %d, want 12 (continuation lines)", len(v1.UntaggedPorts))
	}
	if v1.UntaggedPorts[0] != "1/1/1" {
		t.Errorf("port rebuild = %q, want 1/1/1", v1.UntaggedPorts[0])
	}

	v254 := vlans[1]
	if !reflect.DeepEqual(v254.UntaggedPorts, []string{"1/1/13", "1/1/14"}) {
		t.Errorf("vlan 254 untagged = %v", v254.UntaggedPorts)
	}
	// "1 to 2" range on module 2 expands.
	if !reflect.DeepEqual(v254.TaggedPorts, []string{"1/2/1", "1/2/2"}) {
		t.Errorf("vlan 254 tagged = %v", v254.TaggedPorts)
	}

	v100 := vlans[2]
	if len(v100.UntaggedPorts) != 0 {
		t.Errorf("None should parse as empty, got %v", v100.UntaggedPorts)
	}
	if !reflect.DeepEqual(v100.TaggedPorts, []string{"1/2/3"}) {
		t.Errorf("vlan 100 tagged = %v", v100.TaggedPorts)
	}
}

const brocadeIntBrief = `Port       Link    State   Dupl Speed Trunk Tag Pvid Pri MAC             Name
1/1/1      Down    None    None None  None  No  254  0   748e.f87d.cf80
1/1/2      Up      Forward Full 1G    None  No  1    0   748e.f87d.cf81  uplink
1/2/2      Up      Forward Full 10G   None  Yes N/A  0   748e.f87d.cf90
1/1/3      Disabled None   None None  None  No  1    0   748e.f87d.cf82
`

func TestParseBrocadePorts(t *testing.T) {
	ports := parseBrocadePorts(brocadeIntBrief)
	if len(ports) != 4 {
		t.Fatalf("ports = %d, want 4", len(ports))
	}

	p1 := ports[0]
	if p1.Name != "1/1/1" || !p1.Enabled || p1.LinkState != "down" || p1.PVID != 254 {
		t.Errorf("port 1/1/1 = %+v", p1)
	}

	p2 := ports[1]
	if p2.Speed != "1000-full" {
		t.Errorf("port 1/1/2 speed = %q, want 1000-full", p2.Speed)
	}
	if p2.Description != "uplink" {
		t.Errorf("port 1/1/2 description = %q", p2.Description)
	}

	p3 := ports[2]
	if p3.Speed != "10G" || p3.PVID != 0 {
		t.Errorf("port 1/2/2 = %+v", p3)
	}

	if ports[3].Enabled {
		t.Error("disabled port should not be enabled")
	}
}

func TestGroupBrocadePorts(t *testing.T) {
	tests := []struct {
		ports []string
		want  []string
	}{
		{
			[]string{"1/1/5", "1/1/6", "1/1/7", "1/1/8"},
			[]string{"1/1/5 to 1/1/8"},
		},
		{
			[]string{"1/1/1", "1/1/3", "1/1/5"},
			[]string{"1/1/1 to 1/1/1 1/1/3 to 1/1/3 1/1/5 to 1/1/5"},
		},
		{
			// Ranges never span modules.
			[]string{"1/1/23", "1/1/24", "1/2/1", "1/2/2"},
			[]string{"1/1/23 to 1/1/24", "1/2/1 to 1/2/2"},
		},
		{
			// Input order does not matter.
			[]string{"1/1/8", "1/1/5", "1/1/7", "1/1/6"},
			[]string{"1/1/5 to 1/1/8"},
		},
		{nil, nil},
	}

	for _, tt := range tests {
		if got := GroupBrocadePorts(tt.ports); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("GroupBrocadePorts(%v) = %v, want %v", tt.ports, got, tt.want)
		}
	}
}

func TestBrocadeValidPortName(t *testing.T) {
	h := NewBrocadeHandler(nil)
	for _, ok := range []string{"1/1/1", "1/2/24", "2/1/48"} {
		if !h.ValidPortName(ok) {
			t.Errorf("ValidPortName(%q) = false", ok)
		}
	}
	for _, bad := range []string{"", "lan1", "1/1", "1/1/1/1", "eth0", "1-1-1"} {
		if h.ValidPortName(bad) {
			t.Errorf("ValidPortName(%q) = true", bad)
		}
	}
}
