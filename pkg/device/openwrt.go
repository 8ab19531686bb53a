package device

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/switchcraft/switchcraft/pkg/inventory"
	"github.com/switchcraft/switchcraft/pkg/model"
	"github.com/switchcraft/switchcraft/pkg/session"
	"github.com/switchcraft/switchcraft/pkg/util"
)

// OpenWrt DSA handler over SSH. Each switch port is its own netdev
// (lan1, lan2, ...) bridged together; VLANs are bridge-vlan UCI sections
// activated by a network reload. Port status comes from sysfs, not CLI
// parsing. Whole-file edits of /etc/config/network go over SCP with an
// empty-upload guard.

var (
	openwrtPortRE    = regexp.MustCompile(`^lan\d+$`)
	uciLineRE        = regexp.MustCompile(`^network\.([\w@\[\]-]+)\.(\w+)='?([^']*)'?$`)
	uciSectionTypeRE = regexp.MustCompile(`^network\.([\w@\[\]-]+)=(\S+)$`)
)

// OpenWrtHandler drives an OpenWrt switch via SSH exec and SCP.
type OpenWrtHandler struct {
	dev     *inventory.Device
	retry   session.RetryPolicy
	session *session.ExecSession

	// Cached on connect.
	bridge        string
	portNames     []string
	vlanFiltering int // -1 unknown, 0 off, 1 on
}

// NewOpenWrtHandler builds a disconnected handler.
func NewOpenWrtHandler(dev *inventory.Device) *OpenWrtHandler {
	return &OpenWrtHandler{dev: dev, retry: session.DefaultRetryPolicy(), vlanFiltering: -1}
}

func (h *OpenWrtHandler) DeviceID() string        { return h.dev.ID }
func (h *OpenWrtHandler) Info() *inventory.Device { return h.dev }
func (h *OpenWrtHandler) IsConnected() bool       { return h.session != nil }

// Connect dials SSH and caches system facts (ports, bridge, filtering).
func (h *OpenWrtHandler) Connect(ctx context.Context) error {
	if h.session != nil {
		return nil
	}
	err := h.retry.Do(ctx, "connect "+h.dev.ID, func() error {
		util.WithDevice(h.dev.ID).Infof("Connecting to OpenWrt at %s", h.dev.Host)
		sess, err := session.DialExec(ctx, h.dev.Host, h.dev.Port, h.dev.Username, h.dev.Password(),
			time.Duration(h.dev.TimeoutSeconds)*time.Second)
		if err != nil {
			return err
		}
		h.session = sess
		return nil
	})
	if err != nil {
		return err
	}
	h.cacheSystemInfo(ctx)
	util.WithDevice(h.dev.ID).Info("Connected")
	return nil
}

func (h *OpenWrtHandler) cacheSystemInfo(ctx context.Context) {
	if out, err := h.Execute(ctx, "ls -1 /sys/class/net/ | grep -E '^lan[0-9]+$'"); err == nil {
		h.portNames = nil
		for _, p := range strings.Split(strings.TrimSpace(out), "\n") {
			if p != "" {
				h.portNames = append(h.portNames, p)
			}
		}
	}

	h.bridge = "br-lan"
	if _, err := h.Execute(ctx, "ls /sys/class/net/br-lan/bridge"); err != nil {
		h.bridge = "switch"
	}

	h.vlanFiltering = -1
	if out, err := h.Execute(ctx, fmt.Sprintf("cat /sys/class/net/%s/bridge/vlan_filtering", h.bridge)); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(out)); err == nil {
			h.vlanFiltering = v
		}
	}
}

// Close drops the SSH connection.
func (h *OpenWrtHandler) Close() error {
	if h.session == nil {
		return nil
	}
	err := h.session.Close()
	h.session = nil
	util.WithDevice(h.dev.ID).Info("Disconnected")
	return err
}

// Execute runs one command in a fresh exec session.
func (h *OpenWrtHandler) Execute(ctx context.Context, command string) (string, error) {
	if h.session == nil {
		return "", util.ErrNotConnected
	}
	if strings.TrimSpace(command) == "" {
		return "", util.NewCommandError(util.KindValidation, h.dev.ID, command, "empty command")
	}
	return h.session.Execute(ctx, command)
}

// ExecuteBatch runs commands sequentially, one exec session each.
func (h *OpenWrtHandler) ExecuteBatch(ctx context.Context, commands []string, stopOnError bool) ([]Result, error) {
	results := make([]Result, 0, len(commands))
	for _, cmd := range commands {
		output, err := h.Execute(ctx, cmd)
		results = append(results, Result{Command: cmd, Success: err == nil, Output: output})
		if err != nil && stopOnError {
			return results, err
		}
	}
	return results, nil
}

// ExecuteConfigBatch is the same as ExecuteBatch on OpenWrt: there is no
// config mode, every uci call is standalone.
func (h *OpenWrtHandler) ExecuteConfigBatch(ctx context.Context, commands []string, stopOnError bool) (string, error) {
	results, err := h.ExecuteBatch(ctx, commands, stopOnError)
	var sb strings.Builder
	for _, r := range results {
		fmt.Fprintf(&sb, "$ %s\n%s\n", r.Command, r.Output)
	}
	return sb.String(), err
}

// CheckHealth reads uptime and release info.
func (h *OpenWrtHandler) CheckHealth(ctx context.Context) (*Status, error) {
	if err := h.Connect(ctx); err != nil {
		return &Status{Reachable: false, Error: err.Error()}, nil
	}
	status := &Status{Reachable: true, PortCount: len(h.portNames)}
	if out, err := h.Execute(ctx, "uptime"); err == nil {
		if m := regexp.MustCompile(`up\s+(.+?),\s+load`).FindStringSubmatch(out); m != nil {
			status.Uptime = strings.TrimSpace(m[1])
		}
	}
	if out, err := h.Execute(ctx, "cat /etc/openwrt_release"); err == nil {
		for _, line := range strings.Split(out, "\n") {
			if strings.HasPrefix(line, "DISTRIB_DESCRIPTION=") {
				status.FirmwareVersion = strings.Trim(strings.SplitN(line, "=", 2)[1], `'"`)
			}
		}
	}
	for _, p := range h.portNames {
		if out, err := h.Execute(ctx, "cat /sys/class/net/"+p+"/operstate"); err == nil &&
			strings.Contains(strings.ToLower(out), "up") {
			status.ActivePorts++
		}
	}
	return status, nil
}

// GetVLANs parses `uci show network` for bridge-vlan (DSA) and
// switch_vlan (swconfig) sections.
func (h *OpenWrtHandler) GetVLANs(ctx context.Context) ([]*model.VLAN, error) {
	output, err := h.Execute(ctx, "uci show network")
	if err != nil {
		return nil, err
	}
	vlans := ParseUCIVLANs(output)
	if len(vlans) == 0 {
		// No VLAN sections: report the default untagged bridge.
		v := &model.VLAN{ID: 1, Name: "default", UntaggedPorts: append([]string(nil), h.portNames...)}
		v.Canonicalize()
		vlans = append(vlans, v)
	}
	return vlans, nil
}

type uciSection struct {
	name  string
	typ   string
	vlan  int
	ports string
}

// ParseUCIVLANs extracts VLANs from `uci show network` output.
// bridge-vlan ports use "lan1:t lan2:u*"; switch_vlan ports use
// "0 1t 2t 3" where the t suffix marks tagged and the CPU port (0 or 8)
// stays tagged for management VLANs.
func ParseUCIVLANs(output string) []*model.VLAN {
	sections := make(map[string]*uciSection)
	var order []string

	get := func(name string) *uciSection {
		s, ok := sections[name]
		if !ok {
			s = &uciSection{name: name, vlan: -1}
			sections[name] = s
			order = append(order, name)
		}
		return s
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if m := uciSectionTypeRE.FindStringSubmatch(line); m != nil {
			get(m[1]).typ = m[2]
			continue
		}
		if m := uciLineRE.FindStringSubmatch(line); m != nil {
			s := get(m[1])
			switch m[2] {
			case "vlan":
				if v, err := strconv.Atoi(m[3]); err == nil {
					s.vlan = v
				}
			case "ports":
				s.ports = m[3]
			}
		}
	}

	var vlans []*model.VLAN
	for _, name := range order {
		s := sections[name]
		if (s.typ != "bridge-vlan" && s.typ != "switch_vlan") || s.vlan < 0 {
			continue
		}
		v := &model.VLAN{ID: s.vlan, Name: name}
		for _, spec := range strings.Fields(s.ports) {
			switch {
			case strings.HasSuffix(spec, ":t"):
				v.TaggedPorts = append(v.TaggedPorts, strings.TrimSuffix(spec, ":t"))
			case strings.Contains(spec, ":"):
				v.UntaggedPorts = append(v.UntaggedPorts, spec[:strings.Index(spec, ":")])
			case strings.HasSuffix(spec, "t"):
				v.TaggedPorts = append(v.TaggedPorts, strings.TrimSuffix(spec, "t"))
			default:
				v.UntaggedPorts = append(v.UntaggedPorts, spec)
			}
		}
		v.Canonicalize()
		vlans = append(vlans, v)
	}
	return vlans
}

// GetPorts reads port state from sysfs.
func (h *OpenWrtHandler) GetPorts(ctx context.Context) ([]*model.Port, error) {
	names := h.portNames
	if len(names) == 0 {
		h.cacheSystemInfo(ctx)
		names = h.portNames
	}

	var ports []*model.Port
	for _, name := range names {
		port := &model.Port{Name: name}
		if out, err := h.Execute(ctx, "cat /sys/class/net/"+name+"/operstate"); err == nil {
			port.LinkState = strings.TrimSpace(out)
			port.Enabled = port.LinkState == "up"
		}
		out, err := h.Execute(ctx, "cat /sys/class/net/"+name+"/speed 2>/dev/null; cat /sys/class/net/"+name+"/duplex 2>/dev/null")
		if err == nil {
			fields := strings.Fields(strings.TrimSpace(out))
			if len(fields) >= 1 {
				port.Speed = normalizeSysfsSpeed(fields)
			}
		}
		if out, err := h.Execute(ctx, "uci -q get network."+name+".description"); err == nil {
			port.Description = strings.TrimSpace(out)
		}
		ports = append(ports, port)
	}
	return ports, nil
}

func normalizeSysfsSpeed(fields []string) string {
	mbps, err := strconv.Atoi(fields[0])
	if err != nil || mbps <= 0 {
		return ""
	}
	duplex := "full"
	if len(fields) > 1 {
		duplex = strings.ToLower(fields[1])
	}
	switch {
	case mbps >= 10000:
		return "10G"
	case mbps >= 1000:
		return "1000-full"
	case mbps >= 100:
		return "100-" + duplex
	default:
		return "10-" + duplex
	}
}

// GetConfig fetches the full normalized configuration. The cached
// bridge facts ride along as settings so the planner can see whether
// VLAN filtering is active before emitting bridge-vlan sections.
func (h *OpenWrtHandler) GetConfig(ctx context.Context) (*model.DeviceConfig, error) {
	cfg := model.NewDeviceConfig(h.dev.ID)
	vlans, err := h.GetVLANs(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range vlans {
		cfg.VLANs[v.ID] = v
	}
	ports, err := h.GetPorts(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range ports {
		cfg.Ports[p.Name] = p
	}
	if h.bridge != "" {
		cfg.Settings["bridge"] = h.bridge
	}
	if h.vlanFiltering >= 0 {
		cfg.Settings["vlan_filtering"] = strconv.Itoa(h.vlanFiltering)
	}
	return cfg, nil
}

// SaveConfig commits pending UCI changes to flash.
func (h *OpenWrtHandler) SaveConfig(ctx context.Context) error {
	_, err := h.Execute(ctx, "uci commit")
	return err
}

// GetConfigFile downloads /etc/config/<name> over SCP.
func (h *OpenWrtHandler) GetConfigFile(ctx context.Context, name string) (string, error) {
	if h.session == nil {
		return "", util.ErrNotConnected
	}
	return h.session.Download(ctx, "/etc/config/"+name)
}

// PutConfigFile uploads /etc/config/<name> over SCP and reloads the
// network. Empty or whitespace-only content is rejected before any
// transfer; a blank network config bricks the device.
func (h *OpenWrtHandler) PutConfigFile(ctx context.Context, name, content string) error {
	if strings.TrimSpace(content) == "" {
		return util.NewCommandError(util.KindValidation, h.dev.ID, "",
			fmt.Sprintf("refusing to upload empty config file %q", name))
	}
	if h.session == nil {
		return util.ErrNotConnected
	}
	if err := h.session.Upload(ctx, "/etc/config/"+name, content); err != nil {
		return err
	}
	if name == "network" {
		if _, err := h.Execute(ctx, "/etc/init.d/network reload 2>&1"); err != nil {
			util.WithDevice(h.dev.ID).Warnf("Network reload pending: %v", err)
		}
	}
	return nil
}

// ValidPortName accepts DSA lanN names.
func (h *OpenWrtHandler) ValidPortName(name string) bool {
	return openwrtPortRE.MatchString(name)
}

// RecoveryPatterns returns the OpenWrt failure patterns. uci errors are
// structural and final; connection loss reconnects.
func (h *OpenWrtHandler) RecoveryPatterns() []RecoveryPattern {
	return []RecoveryPattern{
		{Match: "entry not found", Action: ActionTreatAsSuccess},
		{Match: "invalid argument", Action: ActionFatal},
		{Match: "connection closed", Action: ActionReconnect},
	}
}
