// Package inventory loads the device inventory from YAML. The inventory
// is read once at startup and never mutated by the engine.
package inventory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/switchcraft/switchcraft/pkg/util"
)

// Transport kinds recognized by the device registry.
const (
	TypeBrocadeTelnet = "brocade-telnet"
	TypeZyxelCLI      = "zyxel-cli"
	TypeZyxelHTTPS    = "zyxel-https"
	TypeOpenWrtSSH    = "openwrt-ssh"
)

var knownTypes = map[string]bool{
	TypeBrocadeTelnet: true,
	TypeZyxelCLI:      true,
	TypeZyxelHTTPS:    true,
	TypeOpenWrtSSH:    true,
}

// Capabilities describes what a device's management plane supports.
type Capabilities struct {
	SupportsBatch       bool `yaml:"supports_batch"`
	SupportsSCPConfig   bool `yaml:"supports_scp_config"`
	SupportsRollback    bool `yaml:"supports_rollback"`
	WriteMemoryRequired bool `yaml:"write_memory_required"`
}

// Device is one inventory record. Credentials arrive via the environment
// variable named by PasswordEnv; the inventory never stores secrets.
type Device struct {
	ID                     string       `yaml:"-"`
	Type                   string       `yaml:"type" validate:"required"`
	Host                   string       `yaml:"host" validate:"required,hostname|ip"`
	Port                   int          `yaml:"port" validate:"omitempty,min=1,max=65535"`
	Protocol               string       `yaml:"protocol"`
	Username               string       `yaml:"username"`
	PasswordEnv            string       `yaml:"password_env"`
	EnablePasswordRequired bool         `yaml:"enable_password_required"`
	TimeoutSeconds         int          `yaml:"timeout"`
	Capabilities           Capabilities `yaml:"capabilities"`
}

// Password resolves the device password from the environment.
func (d *Device) Password() string {
	env := d.PasswordEnv
	if env == "" {
		env = "NETWORK_PASSWORD"
	}
	return os.Getenv(env)
}

var recognizedKeys = map[string]bool{
	"type": true, "host": true, "port": true, "protocol": true,
	"username": true, "password_env": true, "enable_password_required": true,
	"timeout": true, "capabilities": true,
}

// Inventory holds all device records keyed by device id.
type Inventory struct {
	Devices map[string]*Device
}

type rawInventory struct {
	Defaults map[string]yaml.Node            `yaml:"defaults"`
	Devices  map[string]map[string]yaml.Node `yaml:"devices"`
}

// SearchPaths returns the default inventory file locations, most
// specific first.
func SearchPaths() []string {
	home, _ := os.UserHomeDir()
	return []string{
		filepath.Join("configs", "devices.yaml"),
		"devices.yaml",
		filepath.Join(home, ".config", "switchcraft", "devices.yaml"),
		"/etc/switchcraft/devices.yaml",
	}
}

// Find locates the inventory file on the default search path.
func Find() (string, error) {
	for _, path := range SearchPaths() {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("could not find devices.yaml; create one in ./configs/devices.yaml")
}

// Load reads and validates an inventory file. Unknown device types are
// fatal; unrecognized keys produce warnings and are ignored.
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}
	return Parse(data)
}

// Parse parses inventory YAML.
func Parse(data []byte) (*Inventory, error) {
	var raw rawInventory
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing inventory: %w", err)
	}

	validate := validator.New()
	inv := &Inventory{Devices: make(map[string]*Device, len(raw.Devices))}

	for id, fields := range raw.Devices {
		// Merge defaults under device-specific keys.
		merged := make(map[string]yaml.Node, len(fields)+len(raw.Defaults))
		for k, v := range raw.Defaults {
			merged[k] = v
		}
		for k, v := range fields {
			merged[k] = v
		}

		dev := &Device{ID: id, TimeoutSeconds: 30}
		for key, node := range merged {
			if !recognizedKeys[key] {
				util.Warnf("inventory: device %s: ignoring unknown key %q", id, key)
				continue
			}
			if err := decodeField(dev, key, node); err != nil {
				return nil, fmt.Errorf("device %s: field %s: %w", id, key, err)
			}
		}

		if !knownTypes[dev.Type] {
			return nil, fmt.Errorf("device %s: unknown type %q", id, dev.Type)
		}
		if dev.Port == 0 {
			dev.Port = defaultPort(dev.Type)
		}
		if err := validate.Struct(dev); err != nil {
			return nil, fmt.Errorf("device %s: %w", id, err)
		}
		inv.Devices[id] = dev
	}

	return inv, nil
}

func decodeField(dev *Device, key string, node yaml.Node) error {
	switch key {
	case "type":
		return node.Decode(&dev.Type)
	case "host":
		return node.Decode(&dev.Host)
	case "port":
		return node.Decode(&dev.Port)
	case "protocol":
		return node.Decode(&dev.Protocol)
	case "username":
		return node.Decode(&dev.Username)
	case "password_env":
		return node.Decode(&dev.PasswordEnv)
	case "enable_password_required":
		return node.Decode(&dev.EnablePasswordRequired)
	case "timeout":
		return node.Decode(&dev.TimeoutSeconds)
	case "capabilities":
		return node.Decode(&dev.Capabilities)
	}
	return nil
}

func defaultPort(deviceType string) int {
	switch deviceType {
	case TypeBrocadeTelnet:
		return 23
	case TypeZyxelHTTPS:
		return 443
	default:
		return 22
	}
}

// Get returns the record for a device id.
func (inv *Inventory) Get(deviceID string) (*Device, error) {
	dev, ok := inv.Devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("unknown device: %s", deviceID)
	}
	return dev, nil
}

// IDs returns all device ids.
func (inv *Inventory) IDs() []string {
	ids := make([]string, 0, len(inv.Devices))
	for id := range inv.Devices {
		ids = append(ids, id)
	}
	return ids
}
