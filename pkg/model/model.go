// Package model defines the vendor-neutral configuration model: VLANs,
// ports, and whole-device configurations. Handlers translate vendor
// output into these types and vendor commands out of them; everything
// above the handler layer speaks only this vocabulary.
package model

import (
	"sort"
	"strconv"
	"strings"
)

// Valid port speeds for managed configuration.
var ValidSpeeds = []string{"auto", "10-half", "10-full", "100-half", "100-full", "1000-full", "10G"}

// IPInterface is an optional L3 interface bound to a VLAN.
type IPInterface struct {
	Address string `json:"address" yaml:"address"`
	Mask    string `json:"mask" yaml:"mask"`
}

// VLAN is a normalized VLAN: id, optional name, disjoint untagged and
// tagged port sets, optional L3 interface.
type VLAN struct {
	ID            int          `json:"id" yaml:"id"`
	Name          string       `json:"name,omitempty" yaml:"name,omitempty"`
	UntaggedPorts []string     `json:"untagged_ports,omitempty" yaml:"untagged_ports,omitempty"`
	TaggedPorts   []string     `json:"tagged_ports,omitempty" yaml:"tagged_ports,omitempty"`
	IPInterface   *IPInterface `json:"ip_interface,omitempty" yaml:"ip_interface,omitempty"`
}

// Port is a normalized port. Enabled, Description, and Speed are managed;
// LinkState and PVID are observed read-only attributes.
type Port struct {
	Name        string `json:"name" yaml:"name"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Speed       string `json:"speed,omitempty" yaml:"speed,omitempty"`
	LinkState   string `json:"link_state,omitempty" yaml:"link_state,omitempty"`
	PVID        int    `json:"pvid,omitempty" yaml:"pvid,omitempty"`
}

// DeviceConfig is the full normalized configuration of one device.
type DeviceConfig struct {
	DeviceID string            `json:"device_id" yaml:"device_id"`
	VLANs    map[int]*VLAN     `json:"vlans" yaml:"vlans"`
	Ports    map[string]*Port  `json:"ports" yaml:"ports"`
	Settings map[string]string `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// NewDeviceConfig creates an empty DeviceConfig for a device.
func NewDeviceConfig(deviceID string) *DeviceConfig {
	return &DeviceConfig{
		DeviceID: deviceID,
		VLANs:    make(map[int]*VLAN),
		Ports:    make(map[string]*Port),
		Settings: make(map[string]string),
	}
}

// PortKey converts a vendor port name into a numeric tuple for ordering:
// Brocade "1/2/3" -> [1,2,3], OpenWrt "lan4" -> [4], Zyxel "7" -> [7].
// Unparseable names sort last, alphabetically via a sentinel.
func PortKey(name string) []int {
	if strings.Contains(name, "/") {
		parts := strings.Split(name, "/")
		key := make([]int, 0, len(parts))
		for _, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil
			}
			key = append(key, n)
		}
		return key
	}
	trimmed := strings.TrimLeft(name, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	if n, err := strconv.Atoi(trimmed); err == nil {
		return []int{n}
	}
	return nil
}

func lessPorts(a, b string) bool {
	ka, kb := PortKey(a), PortKey(b)
	if ka == nil || kb == nil {
		if (ka == nil) != (kb == nil) {
			return kb == nil
		}
		return a < b
	}
	for i := 0; i < len(ka) && i < len(kb); i++ {
		if ka[i] != kb[i] {
			return ka[i] < kb[i]
		}
	}
	return len(ka) < len(kb)
}

// SortPorts sorts a port list in place by numeric tuple order.
func SortPorts(ports []string) {
	sort.Slice(ports, func(i, j int) bool { return lessPorts(ports[i], ports[j]) })
}

func canonPortList(ports []string) []string {
	if len(ports) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ports))
	out := make([]string, 0, len(ports))
	for _, p := range ports {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	SortPorts(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// Canonicalize normalizes port ordering and drops duplicates. Idempotent:
// Canonicalize(Canonicalize(v)) leaves v unchanged.
func (v *VLAN) Canonicalize() {
	v.UntaggedPorts = canonPortList(v.UntaggedPorts)
	v.TaggedPorts = canonPortList(v.TaggedPorts)
}

// Canonicalize normalizes every VLAN in the config.
func (c *DeviceConfig) Canonicalize() {
	for _, v := range c.VLANs {
		v.Canonicalize()
	}
}

func portSetsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, p := range a {
		set[p] = true
	}
	for _, p := range b {
		if !set[p] {
			return false
		}
	}
	return true
}

// Equal reports structural equality: name, untagged and tagged port sets,
// and L3 interface all match. Port order is irrelevant.
func (v *VLAN) Equal(other *VLAN) bool {
	if other == nil {
		return false
	}
	if v.ID != other.ID || v.Name != other.Name {
		return false
	}
	if !portSetsEqual(v.UntaggedPorts, other.UntaggedPorts) {
		return false
	}
	if !portSetsEqual(v.TaggedPorts, other.TaggedPorts) {
		return false
	}
	if (v.IPInterface == nil) != (other.IPInterface == nil) {
		return false
	}
	if v.IPInterface != nil && *v.IPInterface != *other.IPInterface {
		return false
	}
	return true
}

// Equal reports structural equality of two device configurations after
// canonicalization.
func (c *DeviceConfig) Equal(other *DeviceConfig) bool {
	if other == nil {
		return false
	}
	if len(c.VLANs) != len(other.VLANs) {
		return false
	}
	for id, v := range c.VLANs {
		ov, ok := other.VLANs[id]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	if len(c.Ports) != len(other.Ports) {
		return false
	}
	for name, p := range c.Ports {
		op, ok := other.Ports[name]
		if !ok || *p != *op {
			return false
		}
	}
	if len(c.Settings) != len(other.Settings) {
		return false
	}
	for k, val := range c.Settings {
		if other.Settings[k] != val {
			return false
		}
	}
	return true
}

// ValidSpeed reports whether s is a recognized managed speed.
func ValidSpeed(s string) bool {
	for _, v := range ValidSpeeds {
		if s == v {
			return true
		}
	}
	return false
}
