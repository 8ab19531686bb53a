package device

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/switchcraft/switchcraft/pkg/inventory"
	"github.com/switchcraft/switchcraft/pkg/model"
	"github.com/switchcraft/switchcraft/pkg/session"
	"github.com/switchcraft/switchcraft/pkg/util"
)

// Brocade FastIron handler over telnet. The FCX-series CLI is fast but
// fragile: pagination must be disabled immediately after enable, config
// batches must be read until the privileged prompt returns, and a stale
// console can hold config mode hostage until killed.
//
// Command reference (FCX624, firmware 08.0.30):
//
//	show vlan                  - VLAN blocks with port membership
//	show interfaces brief      - port status table
//	skip-page-display          - disable --More-- pagination
//	configure terminal / end   - config mode
//	write memory               - persist running config
//
// Port naming: unit/module/port (1/1/1 - 1/2/4).

var (
	brocadePortRE     = regexp.MustCompile(`^\d+/\d+/\d+$`)
	brocadeVLANHdrRE  = regexp.MustCompile(`^PORT-VLAN\s+(\d+)(?:,\s*Name\s+(\S+))?`)
	brocadeModuleRE   = regexp.MustCompile(`\(U(\d+)/M(\d+)\)`)
	brocadeRangeRE    = regexp.MustCompile(`^(\d+)\s+to\s+(\d+)$`)
	brocadeConsoleRE  = regexp.MustCompile(`(?i)session\s+(\d+)`)
	brocadeIntBriefRE = regexp.MustCompile(`^(\d+/\d+/\d+)\s`)
)

// BrocadeHandler drives a Brocade FastIron switch via telnet.
type BrocadeHandler struct {
	dev     *inventory.Device
	retry   session.RetryPolicy
	session *session.TelnetSession
}

// NewBrocadeHandler builds a disconnected handler for the device.
func NewBrocadeHandler(dev *inventory.Device) *BrocadeHandler {
	return &BrocadeHandler{dev: dev, retry: session.DefaultRetryPolicy()}
}

func (h *BrocadeHandler) DeviceID() string        { return h.dev.ID }
func (h *BrocadeHandler) Info() *inventory.Device { return h.dev }
func (h *BrocadeHandler) IsConnected() bool       { return h.session != nil }

func (h *BrocadeHandler) timeout() time.Duration {
	return time.Duration(h.dev.TimeoutSeconds) * time.Second
}

// Connect dials the switch, enters enable mode, and disables pagination.
// Without skip-page-display the --More-- pager deadlocks batch readers.
func (h *BrocadeHandler) Connect(ctx context.Context) error {
	if h.session != nil {
		return nil
	}
	return h.retry.Do(ctx, "connect "+h.dev.ID, func() error {
		util.WithDevice(h.dev.ID).Infof("Connecting to Brocade at %s", h.dev.Host)
		sess, err := session.DialTelnet(ctx, h.dev.Host, h.dev.Port, h.timeout())
		if err != nil {
			return err
		}
		if h.dev.EnablePasswordRequired {
			if err := sess.Enable(ctx, h.dev.Password()); err != nil {
				sess.Close()
				return err
			}
		}
		if _, err := sess.Execute(ctx, "skip-page-display"); err != nil {
			sess.Close()
			return err
		}
		h.session = sess
		util.WithDevice(h.dev.ID).Info("Connected")
		return nil
	})
}

// Close drops the telnet session.
func (h *BrocadeHandler) Close() error {
	if h.session == nil {
		return nil
	}
	err := h.session.Close()
	h.session = nil
	util.WithDevice(h.dev.ID).Info("Disconnected")
	return err
}

// Reconnect tears down and re-establishes the session. Used by the
// executor's connection-loss recovery.
func (h *BrocadeHandler) Reconnect(ctx context.Context) error {
	h.Close()
	return h.Connect(ctx)
}

func (h *BrocadeHandler) hasError(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "invalid input") ||
		strings.Contains(lower, "unrecognized command") ||
		strings.Contains(lower, "error")
}

// Execute runs one command and classifies recognized error output as a
// vendor rejection.
func (h *BrocadeHandler) Execute(ctx context.Context, command string) (string, error) {
	if h.session == nil {
		return "", util.ErrNotConnected
	}
	if strings.TrimSpace(command) == "" {
		return "", util.NewCommandError(util.KindValidation, h.dev.ID, command, "empty command")
	}
	output, err := h.session.Execute(ctx, command)
	if err != nil {
		return output, err
	}
	if h.hasError(output) {
		return output, &util.CommandError{
			Kind: util.KindVendorReject, Device: h.dev.ID, Command: command,
			Message: "device rejected command", Output: output,
		}
	}
	return output, nil
}

// ExecuteConfigBatch enters config mode, writes the batch in one shot,
// reads until the privileged prompt returns to column 0, then leaves
// config mode. If a stale console holds config mode, it is killed and
// entry retried once.
func (h *BrocadeHandler) ExecuteConfigBatch(ctx context.Context, commands []string, stopOnError bool) (string, error) {
	if h.session == nil {
		return "", util.ErrNotConnected
	}
	if err := h.enterConfigMode(ctx); err != nil {
		return "", err
	}

	output, err := h.session.ExecuteBatch(ctx, append(commands, "end"), 300*time.Second)
	if err != nil {
		return output, err
	}
	if stopOnError && h.hasError(output) {
		return output, &util.CommandError{
			Kind: util.KindVendorReject, Device: h.dev.ID,
			Message: "config batch rejected", Output: output,
		}
	}
	return output, nil
}

func (h *BrocadeHandler) enterConfigMode(ctx context.Context) error {
	output, err := h.Execute(ctx, "configure terminal")
	if err == nil {
		return nil
	}
	// A dead console session can hold config mode; kill it and retry.
	if m := brocadeConsoleRE.FindStringSubmatch(output); m != nil {
		util.WithDevice(h.dev.ID).Warnf("Config mode blocked by session %s, killing console", m[1])
		if _, killErr := h.Execute(ctx, "kill console "+m[1]); killErr == nil {
			_, err = h.Execute(ctx, "configure terminal")
		}
	}
	return err
}

// CheckHealth probes the device with show version.
func (h *BrocadeHandler) CheckHealth(ctx context.Context) (*Status, error) {
	if err := h.Connect(ctx); err != nil {
		return &Status{Reachable: false, Error: err.Error()}, nil
	}
	output, err := h.Execute(ctx, "show version")
	if err != nil {
		return &Status{Reachable: false, Error: err.Error()}, nil
	}
	status := &Status{Reachable: true}
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "uptime") {
			status.Uptime = strings.TrimSpace(line)
		}
		if strings.Contains(line, "SW:") || strings.Contains(lower, "software") {
			status.FirmwareVersion = strings.TrimSpace(line)
		}
	}
	return status, nil
}

// GetVLANs parses `show vlan`:
//
//	PORT-VLAN 254, Name Management, Priority level0, Spanning tree Off
//	 Untagged Ports: (U1/M1)   1   2   3   4
//	   Tagged Ports: (U1/M2)   1 to 2
func (h *BrocadeHandler) GetVLANs(ctx context.Context) ([]*model.VLAN, error) {
	output, err := h.Execute(ctx, "show vlan")
	if err != nil {
		return nil, err
	}
	return parseBrocadeVLANs(output), nil
}

func parseBrocadeVLANs(output string) []*model.VLAN {
	var vlans []*model.VLAN
	var current *model.VLAN

	for _, line := range strings.Split(output, "\n") {
		if m := brocadeVLANHdrRE.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			if current != nil {
				current.Canonicalize()
				vlans = append(vlans, current)
			}
			id, _ := strconv.Atoi(m[1])
			name := m[2]
			if name == "" {
				name = fmt.Sprintf("VLAN%d", id)
			}
			current = &model.VLAN{ID: id, Name: name}
			continue
		}
		if current == nil {
			continue
		}
		if strings.Contains(line, "Tagged Ports:") && !strings.Contains(line, "Untagged") {
			current.TaggedPorts = append(current.TaggedPorts, parseBrocadePortLine(line, "Tagged Ports:")...)
		} else if strings.Contains(line, "Untagged Ports:") {
			current.UntaggedPorts = append(current.UntaggedPorts, parseBrocadePortLine(line, "Untagged Ports:")...)
		}
	}
	if current != nil {
		current.Canonicalize()
		vlans = append(vlans, current)
	}
	return vlans
}

// parseBrocadePortLine rebuilds U/M/P identifiers from a port line.
// "(U1/M2)   1   2" encodes unit 1 module 2; "5 to 8" ranges expand.
func parseBrocadePortLine(line, prefix string) []string {
	idx := strings.Index(line, prefix)
	if idx < 0 {
		return nil
	}
	text := strings.TrimSpace(line[idx+len(prefix):])
	if text == "" || strings.EqualFold(text, "none") {
		return nil
	}

	unit, module := 1, 1
	if m := brocadeModuleRE.FindStringSubmatch(text); m != nil {
		unit, _ = strconv.Atoi(m[1])
		module, _ = strconv.Atoi(m[2])
		text = strings.TrimSpace(brocadeModuleRE.ReplaceAllString(text, ""))
	}

	// Collapse "5 to 8" into an expandable token before splitting.
	var ports []string
	if m := brocadeRangeRE.FindStringSubmatch(text); m != nil {
		start, _ := strconv.Atoi(m[1])
		end, _ := strconv.Atoi(m[2])
		for p := start; p <= end; p++ {
			ports = append(ports, fmt.Sprintf("%d/%d/%d", unit, module, p))
		}
		return ports
	}

	fields := strings.Fields(text)
	for i := 0; i < len(fields); i++ {
		if i+2 < len(fields) && fields[i+1] == "to" {
			start, err1 := strconv.Atoi(fields[i])
			end, err2 := strconv.Atoi(fields[i+2])
			if err1 == nil && err2 == nil {
				for p := start; p <= end; p++ {
					ports = append(ports, fmt.Sprintf("%d/%d/%d", unit, module, p))
				}
				i += 2
				continue
			}
		}
		if n, err := strconv.Atoi(fields[i]); err == nil {
			ports = append(ports, fmt.Sprintf("%d/%d/%d", unit, module, n))
		}
	}
	return ports
}

// GetPorts parses `show interfaces brief`:
//
//	Port       Link    State   Dupl Speed Trunk Tag Pvid Pri MAC             Name
//	1/1/1      Down    None    None None  None  No  254  0   748e.f87d.cf80
func (h *BrocadeHandler) GetPorts(ctx context.Context) ([]*model.Port, error) {
	output, err := h.Execute(ctx, "show interfaces brief")
	if err != nil {
		return nil, err
	}
	return parseBrocadePorts(output), nil
}

func parseBrocadePorts(output string) []*model.Port {
	var ports []*model.Port
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Port") || strings.HasPrefix(line, "=") {
			continue
		}
		if !brocadeIntBriefRE.MatchString(line) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 8 {
			continue
		}
		port := &model.Port{
			Name:      fields[0],
			Enabled:   !strings.EqualFold(fields[1], "disabled"),
			LinkState: strings.ToLower(fields[1]),
		}
		if fields[4] != "None" {
			port.Speed = normalizeBrocadeSpeed(fields[3], fields[4])
		}
		if fields[7] != "N/A" {
			if pvid, err := strconv.Atoi(fields[7]); err == nil {
				port.PVID = pvid
			}
		}
		if len(fields) >= 11 {
			port.Description = fields[10]
		}
		ports = append(ports, port)
	}
	return ports
}

func normalizeBrocadeSpeed(duplex, speed string) string {
	d := strings.ToLower(duplex)
	switch strings.ToLower(speed) {
	case "10g":
		return "10G"
	case "1g", "1000":
		return "1000-full"
	case "100":
		if d == "half" {
			return "100-half"
		}
		return "100-full"
	case "10":
		if d == "half" {
			return "10-half"
		}
		return "10-full"
	case "auto":
		return "auto"
	}
	return ""
}

// GetConfig fetches the full normalized configuration.
func (h *BrocadeHandler) GetConfig(ctx context.Context) (*model.DeviceConfig, error) {
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
	return cfg, nil
}

// SaveConfig persists the running config to startup.
func (h *BrocadeHandler) SaveConfig(ctx context.Context) error {
	_, err := h.Execute(ctx, "write memory")
	return err
}

// ValidPortName accepts unit/module/port notation.
func (h *BrocadeHandler) ValidPortName(name string) bool {
	return brocadePortRE.MatchString(name)
}

// RecoveryPatterns returns the FastIron failure patterns the executor
// can act on.
func (h *BrocadeHandler) RecoveryPatterns() []RecoveryPattern {
	return []RecoveryPattern{
		{Match: "please disable dual mode", Action: ActionDisableDualMode},
		{Match: "already a member", Action: ActionTreatAsSuccess},
		{Match: "port is in spanning-tree", Action: ActionDisableSTP},
		{Match: "invalid input", Action: ActionFatal},
		{Match: "unrecognized command", Action: ActionFatal},
		{Match: "connection closed", Action: ActionReconnect},
	}
}

// GroupBrocadePorts collapses a port list into `A to B` range specs,
// one spec per unit/module. The FastIron CLI rejects ranges spanning
// modules, and 24 individual untagged commands are an order of
// magnitude slower than one range.
func GroupBrocadePorts(ports []string) []string {
	if len(ports) == 0 {
		return nil
	}

	type parsed struct {
		unit, module, port int
		str                string
	}
	byModule := make(map[[2]int][]parsed)
	var moduleKeys [][2]int

	items := make([]parsed, 0, len(ports))
	for _, p := range ports {
		parts := strings.Split(p, "/")
		if len(parts) != 3 {
			continue
		}
		u, err1 := strconv.Atoi(parts[0])
		m, err2 := strconv.Atoi(parts[1])
		n, err3 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		items = append(items, parsed{u, m, n, p})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].unit != items[j].unit {
			return items[i].unit < items[j].unit
		}
		if items[i].module != items[j].module {
			return items[i].module < items[j].module
		}
		return items[i].port < items[j].port
	})

	for _, it := range items {
		key := [2]int{it.unit, it.module}
		if _, ok := byModule[key]; !ok {
			moduleKeys = append(moduleKeys, key)
		}
		byModule[key] = append(byModule[key], it)
	}

	var specs []string
	for _, key := range moduleKeys {
		group := byModule[key]
		var ranges []string
		for i := 0; i < len(group); {
			start := group[i]
			end := start
			j := i + 1
			for j < len(group) && group[j].port == group[j-1].port+1 {
				end = group[j]
				j++
			}
			ranges = append(ranges, fmt.Sprintf("%s to %s", start.str, end.str))
			i = j
		}
		specs = append(specs, strings.Join(ranges, " "))
	}
	return specs
}
