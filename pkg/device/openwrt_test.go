package device

import (
	"context"
	"reflect"
	"testing"

	"github.com/switchcraft/switchcraft/pkg/inventory"
)

const uciShowNetwork = `network.loopback=interface
network.loopback.device='lo'
network.lan=interface
network.lan.device='br-lan'
network.vlan100=bridge-vlan
network.vlan100.device='br-lan'
network.vlan100.vlan='100'
network.vlan100.ports='lan1:t lan2:u* lan3'
network.vlan200=bridge-vlan
network.vlan200.device='br-lan'
network.vlan200.vlan='200'
network.vlan200.ports=''
`

func TestParseUCIVLANsBridge(t *testing.T) {
	vlans := ParseUCIVLANs(uciShowNetwork)
	if len(vlans) != 2 {
		t.Fatalf("vlans = %d, want 2", len(vlans))
	}

	v100 := vlans[0]
	if v100.ID != 100 {
		t.Errorf("vlan id = %d", v100.ID)
	}
	if !reflect.DeepEqual(v100.TaggedPorts, []string{"lan1"}) {
		t.Errorf("tagged = %v", v100.TaggedPorts)
	}
	if !reflect.DeepEqual(v100.UntaggedPorts, []string{"lan2", "lan3"}) {
		t.Errorf("untagged = %v", v100.UntaggedPorts)
	}

	if len(vlans[1].TaggedPorts) != 0 || len(vlans[1].UntaggedPorts) != 0 {
		t.Error("empty ports spec should produce empty membership")
	}
}

const uciShowSwconfig = `network.@switch[0]=switch
network.@switch[0].name='switch0'
network.@switch_vlan[0]=switch_vlan
network.@switch_vlan[0].device='switch0'
network.@switch_vlan[0].vlan='1'
network.@switch_vlan[0].ports='0 1 2 3'
network.@switch_vlan[1]=switch_vlan
network.@switch_vlan[1].device='switch0'
network.@switch_vlan[1].vlan='254'
network.@switch_vlan[1].ports='0t 4 5t'
`

func TestParseUCIVLANsSwconfig(t *testing.T) {
	vlans := ParseUCIVLANs(uciShowSwconfig)
	if len(vlans) != 2 {
		t.Fatalf("vlans = %d, want 2", len(vlans))
	}

	v254 := vlans[1]
	if v254.ID != 254 {
		t.Errorf("vlan id = %d", v254.ID)
	}
	// The t suffix marks tagged; the CPU port (0) stays tagged.
	if !reflect.DeepEqual(v254.TaggedPorts, []string{"0", "5"}) {
		t.Errorf("tagged = %v", v254.TaggedPorts)
	}
	if !reflect.DeepEqual(v254.UntaggedPorts, []string{"4"}) {
		t.Errorf("untagged = %v", v254.UntaggedPorts)
	}
}

func TestNormalizeSysfsSpeed(t *testing.T) {
	tests := []struct {
		fields []string
		want   string
	}{
		{[]string{"1000", "full"}, "1000-full"},
		{[]string{"100", "half"}, "100-half"},
		{[]string{"10000", "full"}, "10G"},
		{[]string{"10", "full"}, "10-full"},
		{[]string{"-1"}, ""},
		{[]string{"garbage"}, ""},
	}
	for _, tt := range tests {
		if got := normalizeSysfsSpeed(tt.fields); got != tt.want {
			t.Errorf("normalizeSysfsSpeed(%v) = %q, want %q", tt.fields, got, tt.want)
		}
	}
}

func TestOpenWrtValidPortName(t *testing.T) {
	h := NewOpenWrtHandler(nil)
	if !h.ValidPortName("lan1") || !h.ValidPortName("lan24") {
		t.Error("lanN should be valid")
	}
	for _, bad := range []string{"", "eth0", "1/1/1", "lan", "wan1"} {
		if h.ValidPortName(bad) {
			t.Errorf("ValidPortName(%q) = true", bad)
		}
	}
}

func TestPutConfigFileRejectsEmpty(t *testing.T) {
	h := NewOpenWrtHandler(&inventory.Device{ID: "lab-openwrt"})
	for _, content := range []string{"", "  \n\t"} {
		if err := h.PutConfigFile(context.Background(), "network", content); err == nil {
			t.Fatalf("empty config upload %q must be rejected before any transfer", content)
		}
	}
}

