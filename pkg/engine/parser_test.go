package engine

import (
	"reflect"
	"strings"
	"testing"
)

const sampleDoc = `
device_id: lab-brocade
version: 2
mode: full
vlans:
  "100":
    name: Servers
    untagged_ports: ["1/1/5-8"]
    tagged_ports: ["1/2/1"]
  "200":
    action: absent
ports:
  "1/1/10":
    enabled: false
    description: camera
    speed: 100-full
settings:
  hostname: lab-sw1
`

func TestParseDocument(t *testing.T) {
	ds, err := ParseDocument([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("ParseDocument failed: %v", err)
	}
	if ds.DeviceID != "lab-brocade" || ds.Version != 2 || ds.Mode != ModeFull {
		t.Errorf("header = %+v", ds)
	}

	v100 := ds.VLANs[100]
	if v100 == nil {
		t.Fatal("vlan 100 missing")
	}
	if v100.Action != ActionEnsure || v100.Name != "Servers" {
		t.Errorf("vlan 100 = %+v", v100)
	}
	if !reflect.DeepEqual(v100.UntaggedPorts, []string{"1/1/5", "1/1/6", "1/1/7", "1/1/8"}) {
		t.Errorf("range expansion = %v", v100.UntaggedPorts)
	}

	if ds.VLANs[200].Action != ActionAbsent {
		t.Error("absent action not parsed")
	}

	p := ds.Ports["1/1/10"]
	if p == nil || p.Enabled == nil || *p.Enabled || *p.Description != "camera" || *p.Speed != "100-full" {
		t.Errorf("port = %+v", p)
	}

	if ds.Settings["hostname"] != "lab-sw1" {
		t.Errorf("settings = %v", ds.Settings)
	}
}

func TestParseDocumentRejectsUnknownKeys(t *testing.T) {
	doc := "device_id: x\nwibble: 1\n"
	_, err := ParseDocument([]byte(doc))
	if err == nil || !strings.Contains(err.Error(), "wibble") {
		t.Fatalf("unknown key should reject the document, got %v", err)
	}
}

func TestParseDocumentRequiresDeviceID(t *testing.T) {
	if _, err := ParseDocument([]byte("mode: patch\n")); err == nil {
		t.Fatal("missing device_id should fail")
	}
}

func TestParseDocumentInvalidMode(t *testing.T) {
	if _, err := ParseDocument([]byte("device_id: x\nmode: merge\n")); err == nil {
		t.Fatal("invalid mode should fail")
	}
}

func TestParseDocumentInvalidAction(t *testing.T) {
	doc := "device_id: x\nvlans:\n  \"100\":\n    action: destroy\n"
	if _, err := ParseDocument([]byte(doc)); err == nil {
		t.Fatal("invalid action should fail")
	}
}

func TestParseDocumentDefaultsToPatch(t *testing.T) {
	ds, err := ParseDocument([]byte("device_id: x\n"))
	if err != nil {
		t.Fatal(err)
	}
	if ds.Mode != ModePatch {
		t.Errorf("default mode = %s, want patch", ds.Mode)
	}
}

func TestExpandPortList(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{[]string{"1/1/1-4"}, []string{"1/1/1", "1/1/2", "1/1/3", "1/1/4"}},
		{[]string{"1/1/1-1/1/3"}, []string{"1/1/1", "1/1/2", "1/1/3"}},
		{[]string{"1/1/1", "1/2/1"}, []string{"1/1/1", "1/2/1"}},
		{[]string{"1-3"}, []string{"1", "2", "3"}},
		{[]string{"lan1"}, []string{"lan1"}},
	}
	for _, tt := range tests {
		if got := ExpandPortList(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ExpandPortList(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestChecksumIdempotent(t *testing.T) {
	doc := map[string]interface{}{
		"device_id": "lab-brocade",
		"vlans":     map[string]interface{}{"100": map[string]interface{}{"name": "Servers"}},
	}
	first := ComputeChecksum(doc)
	second := ComputeChecksum(doc)
	if first != second {
		t.Errorf("checksum not deterministic: %s vs %s", first, second)
	}
	if !strings.HasPrefix(first, "sha256:") {
		t.Errorf("checksum format = %s", first)
	}

	// Embedding the checksum must not change the computation.
	doc["checksum"] = first
	if got := ComputeChecksum(doc); got != first {
		t.Errorf("checksum with embedded value = %s, want %s", got, first)
	}
}

func TestVerifyChecksum(t *testing.T) {
	if err := VerifyChecksum([]byte("device_id: x\n")); err != nil {
		t.Errorf("missing checksum should pass: %v", err)
	}
	if err := VerifyChecksum([]byte("device_id: x\nchecksum: sha256:deadbeefdeadbeef\n")); err == nil {
		t.Error("wrong checksum should fail")
	}
}
