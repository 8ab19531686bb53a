// Package hil implements the hardware-in-the-loop safety gate. When HIL
// mode is enabled, every write operation is checked against a constraint
// profile before any planner work: a single allowed test VLAN, an
// allowlist of devices and ports, protected VLANs, and a cap on ports
// changed per call.
package hil

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/switchcraft/switchcraft/pkg/util"
)

// DefaultVLAN is the HIL test VLAN.
const DefaultVLAN = 999

var defaultAllowedDevices = []string{
	"192.168.254.2",
	"192.168.254.3",
	"192.168.254.4",
}

// DeviceSpec names the two ports a HIL run may touch on one device.
type DeviceSpec struct {
	Host       string `yaml:"host"`
	AccessPort string `yaml:"access_port"`
	TrunkPort  string `yaml:"trunk_port"`
}

// Config is the HIL constraint profile.
type Config struct {
	Enabled           bool
	VLANID            int
	VLANName          string
	AllowedDevices    []string
	DeviceSpecs       map[string]DeviceSpec
	ProtectedVLANs    []int
	MaxPortsPerDevice int
}

// FromEnv loads the profile from SWITCHCRAFT_* environment variables via
// viper.
func FromEnv() *Config {
	v := viper.New()
	v.SetEnvPrefix("SWITCHCRAFT")
	v.AutomaticEnv()
	v.SetDefault("HIL_MODE", "0")
	v.SetDefault("HIL_VLAN", DefaultVLAN)

	cfg := &Config{
		Enabled:           v.GetString("HIL_MODE") == "1",
		VLANID:            v.GetInt("HIL_VLAN"),
		VLANName:          fmt.Sprintf("HIL-TEST-%d", v.GetInt("HIL_VLAN")),
		ProtectedVLANs:    []int{1, 254},
		MaxPortsPerDevice: 2,
	}
	if devices := util.SplitCommaSeparated(v.GetString("HIL_ALLOWED_DEVICES")); len(devices) > 0 {
		cfg.AllowedDevices = devices
	} else {
		cfg.AllowedDevices = append([]string(nil), defaultAllowedDevices...)
	}
	return cfg
}

type specFile struct {
	VLANID      int                   `yaml:"vlan_id"`
	VLANName    string                `yaml:"vlan_name"`
	Devices     map[string]DeviceSpec `yaml:"devices"`
	Constraints struct {
		ProtectedVLANs    []int `yaml:"protected_vlans"`
		MaxPortsPerDevice int   `yaml:"max_ports_per_device"`
	} `yaml:"constraints"`
}

// FromSpecFile loads the profile from a hil_spec.yaml. Loading a spec
// file implies HIL mode is on.
func FromSpecFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading HIL spec: %w", err)
	}
	var spec specFile
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing HIL spec: %w", err)
	}

	cfg := &Config{
		Enabled:           true,
		VLANID:            spec.VLANID,
		VLANName:          spec.VLANName,
		DeviceSpecs:       spec.Devices,
		ProtectedVLANs:    spec.Constraints.ProtectedVLANs,
		MaxPortsPerDevice: spec.Constraints.MaxPortsPerDevice,
	}
	if cfg.VLANID == 0 {
		cfg.VLANID = DefaultVLAN
	}
	if cfg.VLANName == "" {
		cfg.VLANName = fmt.Sprintf("HIL-TEST-%d", cfg.VLANID)
	}
	if len(cfg.ProtectedVLANs) == 0 {
		cfg.ProtectedVLANs = []int{1, 254}
	}
	if cfg.MaxPortsPerDevice == 0 {
		cfg.MaxPortsPerDevice = 2
	}
	for _, d := range spec.Devices {
		cfg.AllowedDevices = append(cfg.AllowedDevices, d.Host)
	}
	return cfg, nil
}

// Gate enforces the profile.
type Gate struct {
	cfg *Config
}

// NewGate wraps a config; a nil config loads from the environment.
func NewGate(cfg *Config) *Gate {
	if cfg == nil {
		cfg = FromEnv()
	}
	if cfg.Enabled {
		util.Warnf("HIL MODE ENABLED - only VLAN %d operations permitted", cfg.VLANID)
		util.Warnf("Allowed devices: %s", strings.Join(cfg.AllowedDevices, ", "))
	}
	return &Gate{cfg: cfg}
}

// Enabled reports whether the gate is active.
func (g *Gate) Enabled() bool { return g.cfg.Enabled }

func (g *Gate) violation(constraint, message string) error {
	return &util.CommandError{
		Kind:    util.KindSafetyViolation,
		Message: fmt.Sprintf("HIL constraint %s: %s", constraint, message),
	}
}

// Check validates a write operation against the profile. vlanID < 0
// means no VLAN is involved. Returns a safety-violation error on the
// first failed constraint, nil when HIL mode is off or all pass.
func (g *Gate) Check(operation, deviceID, deviceHost string, vlanID int, ports []string) error {
	if !g.cfg.Enabled {
		return nil
	}

	allowed := false
	for _, host := range g.cfg.AllowedDevices {
		if host == deviceHost {
			allowed = true
			break
		}
	}
	if !allowed {
		return g.violation("ALLOWED_DEVICES",
			fmt.Sprintf("device %s is not in the HIL allowed list %v", deviceHost, g.cfg.AllowedDevices))
	}

	if vlanID >= 0 {
		for _, p := range g.cfg.ProtectedVLANs {
			if vlanID == p {
				return g.violation("PROTECTED_VLAN",
					fmt.Sprintf("VLAN %d is protected and cannot be modified", vlanID))
			}
		}
		if vlanID != g.cfg.VLANID {
			return g.violation("HIL_VLAN_ONLY",
				fmt.Sprintf("only VLAN %d operations permitted in HIL mode, attempted VLAN %d", g.cfg.VLANID, vlanID))
		}
	}

	if len(ports) > 0 {
		if len(ports) > g.cfg.MaxPortsPerDevice {
			return g.violation("MAX_PORTS",
				fmt.Sprintf("too many ports (%d), max %d per device", len(ports), g.cfg.MaxPortsPerDevice))
		}
		if spec, ok := g.cfg.DeviceSpecs[deviceID]; ok {
			for _, port := range ports {
				if port != spec.AccessPort && port != spec.TrunkPort {
					return g.violation("ALLOWED_PORTS",
						fmt.Sprintf("port %s is not in the HIL allowed ports for %s", port, deviceID))
				}
			}
		}
	}

	util.Debugf("HIL validation passed: %s on %s (vlan=%d, ports=%v)", operation, deviceHost, vlanID, ports)
	return nil
}
