package engine

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/switchcraft/switchcraft/pkg/model"
	"github.com/switchcraft/switchcraft/pkg/util"
)

// Recognized desired-state document keys. Anything else rejects the
// document: the schema is enumerated, not reflective.
var documentKeys = map[string]bool{
	"device_id": true, "version": true, "checksum": true,
	"mode": true, "vlans": true, "ports": true, "settings": true,
}

type rawVLAN struct {
	Action        string             `yaml:"action"`
	Name          string             `yaml:"name"`
	UntaggedPorts []string           `yaml:"untagged_ports"`
	TaggedPorts   []string           `yaml:"tagged_ports"`
	IPInterface   *model.IPInterface `yaml:"ip_interface"`
}

type rawPort struct {
	Enabled     *bool   `yaml:"enabled"`
	Description *string `yaml:"description"`
	Speed       *string `yaml:"speed"`
}

// ParseDocument parses a YAML desired-state document.
func ParseDocument(data []byte) (*DesiredState, error) {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, util.NewValidationError("parse error: " + err.Error())
	}
	return parseDoc(doc)
}

func parseDoc(doc map[string]yaml.Node) (*DesiredState, error) {
	b := &util.ValidationBuilder{}
	for key := range doc {
		if !documentKeys[key] {
			b.AddErrorf("unknown top-level key: %q", key)
		}
	}
	if b.HasErrors() {
		return nil, b.Build()
	}

	ds := &DesiredState{
		Version:  1,
		Mode:     ModePatch,
		VLANs:    make(map[int]*VLANDesired),
		Ports:    make(map[string]*PortDesired),
		Settings: make(map[string]string),
	}

	if node, ok := doc["device_id"]; ok {
		if err := node.Decode(&ds.DeviceID); err != nil {
			return nil, util.NewValidationError("device_id: " + err.Error())
		}
	}
	if ds.DeviceID == "" {
		return nil, util.NewValidationError("missing required field: device_id")
	}
	if node, ok := doc["version"]; ok {
		if err := node.Decode(&ds.Version); err != nil {
			return nil, util.NewValidationError("version: " + err.Error())
		}
	}
	if node, ok := doc["checksum"]; ok {
		if err := node.Decode(&ds.Checksum); err != nil {
			return nil, util.NewValidationError("checksum: " + err.Error())
		}
	}
	if node, ok := doc["mode"]; ok {
		var mode string
		if err := node.Decode(&mode); err != nil {
			return nil, util.NewValidationError("mode: " + err.Error())
		}
		if mode != string(ModeFull) && mode != string(ModePatch) {
			return nil, util.NewValidationError(fmt.Sprintf("invalid mode: %q (must be 'full' or 'patch')", mode))
		}
		ds.Mode = Mode(mode)
	}

	if node, ok := doc["vlans"]; ok {
		var vlans map[string]rawVLAN
		if err := node.Decode(&vlans); err != nil {
			return nil, util.NewValidationError("vlans: " + err.Error())
		}
		for key, raw := range vlans {
			id, err := strconv.Atoi(key)
			if err != nil {
				return nil, util.NewValidationError("invalid VLAN ID: " + key)
			}
			vd, err := parseVLAN(id, raw)
			if err != nil {
				return nil, err
			}
			ds.VLANs[id] = vd
		}
	}

	if node, ok := doc["ports"]; ok {
		var ports map[string]rawPort
		if err := node.Decode(&ports); err != nil {
			return nil, util.NewValidationError("ports: " + err.Error())
		}
		for name, raw := range ports {
			ds.Ports[name] = &PortDesired{
				Name:        name,
				Enabled:     raw.Enabled,
				Description: raw.Description,
				Speed:       raw.Speed,
			}
		}
	}

	if node, ok := doc["settings"]; ok {
		if err := node.Decode(&ds.Settings); err != nil {
			return nil, util.NewValidationError("settings: " + err.Error())
		}
	}

	return ds, nil
}

func parseVLAN(id int, raw rawVLAN) (*VLANDesired, error) {
	action := ActionEnsure
	switch raw.Action {
	case "", string(ActionEnsure):
	case string(ActionAbsent):
		action = ActionAbsent
	default:
		return nil, util.NewValidationError(fmt.Sprintf(
			"invalid action for VLAN %d: %q (must be 'ensure' or 'absent')", id, raw.Action))
	}

	return &VLANDesired{
		ID:            id,
		Action:        action,
		Name:          raw.Name,
		UntaggedPorts: ExpandPortList(raw.UntaggedPorts),
		TaggedPorts:   ExpandPortList(raw.TaggedPorts),
		IPInterface:   raw.IPInterface,
	}, nil
}

// ExpandPortList expands port range shorthand in a desired-state port
// list: "1/1/1-4" and "1/1/1-1/1/4" expand within one unit/module, plain
// "1-4" expands for numeric (Zyxel) ports.
func ExpandPortList(ports []string) []string {
	var out []string
	for _, p := range ports {
		out = append(out, expandPortSpec(p)...)
	}
	return out
}

func expandPortSpec(spec string) []string {
	if !strings.Contains(spec, "-") {
		return []string{spec}
	}

	if strings.Contains(spec, "/") {
		parts := strings.SplitN(spec, "-", 2)
		start, end := parts[0], parts[1]
		if strings.Contains(end, "/") {
			// Full range: "1/1/1-1/1/4".
			return expandFullPortRange(start, end)
		}
		// Short range: "1/1/1-4".
		base := strings.Split(start, "/")
		if len(base) != 3 {
			return []string{spec}
		}
		from, err1 := strconv.Atoi(base[2])
		to, err2 := strconv.Atoi(end)
		if err1 != nil || err2 != nil || from > to {
			return []string{spec}
		}
		out := make([]string, 0, to-from+1)
		for i := from; i <= to; i++ {
			out = append(out, fmt.Sprintf("%s/%s/%d", base[0], base[1], i))
		}
		return out
	}

	if nums, err := util.ExpandRange(spec); err == nil {
		out := make([]string, len(nums))
		for i, n := range nums {
			out[i] = strconv.Itoa(n)
		}
		return out
	}
	return []string{spec}
}

func expandFullPortRange(start, end string) []string {
	sp := strings.Split(start, "/")
	ep := strings.Split(end, "/")
	if len(sp) != 3 || len(ep) != 3 || sp[0] != ep[0] || sp[1] != ep[1] {
		return []string{start, end}
	}
	from, err1 := strconv.Atoi(sp[2])
	to, err2 := strconv.Atoi(ep[2])
	if err1 != nil || err2 != nil || from > to {
		return []string{start, end}
	}
	out := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, fmt.Sprintf("%s/%s/%d", sp[0], sp[1], i))
	}
	return out
}

// ComputeChecksum computes the canonical sha256 checksum of a document.
// The checksum field itself is excluded; serialization is deterministic
// (sorted keys, no whitespace). Idempotent by construction.
func ComputeChecksum(doc map[string]interface{}) string {
	clean := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if k != "checksum" {
			clean[k] = v
		}
	}
	data, _ := json.Marshal(clean)
	sum := sha256.Sum256(data)
	return fmt.Sprintf("sha256:%x", sum)[:len("sha256:")+16]
}

// VerifyChecksum recomputes the checksum over the raw document and
// compares it to the embedded value. A missing checksum passes.
func VerifyChecksum(data []byte) error {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return util.NewValidationError("parse error: " + err.Error())
	}
	embedded, _ := doc["checksum"].(string)
	if embedded == "" {
		return nil
	}
	if computed := ComputeChecksum(doc); computed != embedded {
		return util.NewValidationError(fmt.Sprintf(
			"checksum mismatch: document says %s, computed %s", embedded, computed))
	}
	return nil
}
