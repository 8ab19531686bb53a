package hil

import (
	"errors"
	"testing"

	"github.com/switchcraft/switchcraft/pkg/util"
)

func testConfig() *Config {
	return &Config{
		Enabled:           true,
		VLANID:            999,
		VLANName:          "HIL-TEST-999",
		AllowedDevices:    []string{"192.168.254.2", "192.168.254.3"},
		DeviceSpecs:       map[string]DeviceSpec{"lab-brocade": {Host: "192.168.254.2", AccessPort: "1/1/10", TrunkPort: "1/2/1"}},
		ProtectedVLANs:    []int{1, 254},
		MaxPortsPerDevice: 2,
	}
}

func TestGateDisabledPassesEverything(t *testing.T) {
	gate := NewGate(&Config{Enabled: false})
	if err := gate.Check("create_vlan", "x", "10.9.9.9", 100, []string{"1/1/1", "1/1/2", "1/1/3"}); err != nil {
		t.Errorf("disabled gate should pass: %v", err)
	}
}

func TestGateDeviceNotAllowed(t *testing.T) {
	gate := NewGate(testConfig())
	err := gate.Check("create_vlan", "other", "10.0.0.50", 999, nil)
	if err == nil {
		t.Fatal("device outside the allowlist must be rejected")
	}
	if !errors.Is(err, util.ErrSafetyViolation) {
		t.Errorf("error should be a safety violation: %v", err)
	}
}

func TestGateWrongVLAN(t *testing.T) {
	gate := NewGate(testConfig())
	if err := gate.Check("create_vlan", "lab-brocade", "192.168.254.2", 100, nil); err == nil {
		t.Fatal("non-HIL VLAN must be rejected")
	}
	if err := gate.Check("create_vlan", "lab-brocade", "192.168.254.2", 999, nil); err != nil {
		t.Errorf("the HIL VLAN should pass: %v", err)
	}
}

func TestGateProtectedVLAN(t *testing.T) {
	gate := NewGate(testConfig())
	for _, id := range []int{1, 254} {
		if err := gate.Check("delete_vlan", "lab-brocade", "192.168.254.2", id, nil); err == nil {
			t.Errorf("protected VLAN %d must be rejected", id)
		}
	}
}

func TestGateAllowedPorts(t *testing.T) {
	gate := NewGate(testConfig())
	if err := gate.Check("create_vlan", "lab-brocade", "192.168.254.2", 999, []string{"1/1/10"}); err != nil {
		t.Errorf("allowed port rejected: %v", err)
	}
	if err := gate.Check("create_vlan", "lab-brocade", "192.168.254.2", 999, []string{"1/1/24"}); err == nil {
		t.Error("port outside the device spec must be rejected")
	}
}

func TestGateMaxPorts(t *testing.T) {
	gate := NewGate(testConfig())
	err := gate.Check("create_vlan", "lab-brocade", "192.168.254.2", 999,
		[]string{"1/1/10", "1/2/1", "1/1/11"})
	if err == nil {
		t.Fatal("more than max_ports_per_device must be rejected")
	}
}

func TestGateNoVLANInvolved(t *testing.T) {
	gate := NewGate(testConfig())
	// vlanID < 0 means the operation touches no VLAN.
	if err := gate.Check("save_config", "lab-brocade", "192.168.254.2", -1, nil); err != nil {
		t.Errorf("non-VLAN op on an allowed device should pass: %v", err)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("SWITCHCRAFT_HIL_MODE", "1")
	t.Setenv("SWITCHCRAFT_HIL_VLAN", "500")
	t.Setenv("SWITCHCRAFT_HIL_ALLOWED_DEVICES", "10.1.1.1, 10.1.1.2")

	cfg := FromEnv()
	if !cfg.Enabled {
		t.Error("HIL mode should be enabled")
	}
	if cfg.VLANID != 500 {
		t.Errorf("vlan = %d, want 500", cfg.VLANID)
	}
	if len(cfg.AllowedDevices) != 2 || cfg.AllowedDevices[0] != "10.1.1.1" {
		t.Errorf("allowed devices = %v", cfg.AllowedDevices)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("SWITCHCRAFT_HIL_MODE", "")
	t.Setenv("SWITCHCRAFT_HIL_VLAN", "")
	t.Setenv("SWITCHCRAFT_HIL_ALLOWED_DEVICES", "")

	cfg := FromEnv()
	if cfg.Enabled {
		t.Error("HIL mode should default to off")
	}
	if cfg.VLANID != DefaultVLAN {
		t.Errorf("vlan = %d, want %d", cfg.VLANID, DefaultVLAN)
	}
	if len(cfg.AllowedDevices) == 0 {
		t.Error("default allowlist should not be empty")
	}
}

func TestGateMaxPortsBeforePortSpec(t *testing.T) {
	// Port-count cap applies even without a per-device spec.
	cfg := testConfig()
	cfg.DeviceSpecs = nil
	gate := NewGate(cfg)
	err := gate.Check("configure_port", "unknown-dev", "192.168.254.3", -1,
		[]string{"1", "2", "3"})
	if err == nil {
		t.Fatal("port cap must apply without a device spec")
	}
}
