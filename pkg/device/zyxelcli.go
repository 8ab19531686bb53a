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

// Zyxel GS1900 handler over the SSH CLI. The CLI is read-only: show
// commands are reliable, but configuration writes only exist on the web
// interface, so write attempts are rejected with
// unsupported-on-transport before touching the wire. The zyxel-https
// handler routes writes to the web surface.
//
// Command reference (GS1900-24HP):
//
//	show vlan                       - VLAN table with port lists
//	show interfaces 1-26            - interface status
//	show version                    - firmware info
//	copy running-config startup-config

var (
	zyxelPortNameRE = regexp.MustCompile(`^\d+$`)
	zyxelIfaceRE    = regexp.MustCompile(`GigabitEthernet(\d+)\s+is\s+(\w+)`)
	zyxelSpeedRE    = regexp.MustCompile(`(\w+)-duplex,\s*(\w+)-speed`)
	zyxelLagRE      = regexp.MustCompile(`(?i),?lag\d+(-\d+)?`)
	zyxelRangeRE    = regexp.MustCompile(`^(\d+)-(\d+)$`)
)

// Line-start error markers. Statistics lines containing the words
// "error" or "fail" (interface counters) must not be classified as
// failures; only these structural markers count.
var zyxelErrorPrefixes = []string{"invalid", "unknown command", "error:", "error ", "incomplete command"}

// Commands that would modify configuration over the read-only CLI.
// copy running-config startup-config is deliberately absent: saving is
// the one write the CLI accepts.
var zyxelWriteCmdRE = regexp.MustCompile(`(?i)^(configure\b|vlan\s|no\s|interface\s)`)

// ZyxelCLIHandler drives a GS1900 over its legacy SSH shell.
type ZyxelCLIHandler struct {
	dev     *inventory.Device
	retry   session.RetryPolicy
	session *session.ShellSession
}

// NewZyxelCLIHandler builds a disconnected handler.
func NewZyxelCLIHandler(dev *inventory.Device) *ZyxelCLIHandler {
	return &ZyxelCLIHandler{dev: dev, retry: session.DefaultRetryPolicy()}
}

func (h *ZyxelCLIHandler) DeviceID() string        { return h.dev.ID }
func (h *ZyxelCLIHandler) Info() *inventory.Device { return h.dev }
func (h *ZyxelCLIHandler) IsConnected() bool       { return h.session != nil }

// Connect opens the interactive shell with legacy SSH algorithms.
func (h *ZyxelCLIHandler) Connect(ctx context.Context) error {
	if h.session != nil {
		return nil
	}
	return h.retry.Do(ctx, "connect "+h.dev.ID, func() error {
		util.WithDevice(h.dev.ID).Infof("Connecting to Zyxel CLI at %s", h.dev.Host)
		sess, err := session.DialShell(ctx, h.dev.Host, h.dev.Port, h.dev.Username, h.dev.Password(),
			time.Duration(h.dev.TimeoutSeconds)*time.Second)
		if err != nil {
			return err
		}
		h.session = sess
		util.WithDevice(h.dev.ID).Info("Connected via CLI")
		return nil
	})
}

// Close drops the shell.
func (h *ZyxelCLIHandler) Close() error {
	if h.session == nil {
		return nil
	}
	err := h.session.Close()
	h.session = nil
	util.WithDevice(h.dev.ID).Info("Disconnected")
	return err
}

// hasZyxelError scans line starts for structural error markers,
// skipping statistics lines like "0 input errors".
func hasZyxelError(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "errors") || strings.Contains(lower, "errors,") {
			continue // counter line
		}
		for _, prefix := range zyxelErrorPrefixes {
			if strings.HasPrefix(lower, prefix) {
				return line
			}
		}
		if strings.HasSuffix(lower, "not found") {
			return line
		}
	}
	return ""
}

// Execute runs one show command on the shell. Commands recognized as
// write attempts are rejected before any wire I/O.
func (h *ZyxelCLIHandler) Execute(ctx context.Context, command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", util.NewCommandError(util.KindValidation, h.dev.ID, command, "empty command")
	}
	if zyxelWriteCmdRE.MatchString(strings.TrimSpace(command)) {
		return "", util.NewCommandError(util.KindValidation, h.dev.ID, command,
			util.ErrUnsupportedOnTransport.Error()+": CLI is read-only, use zyxel-https for writes")
	}
	if h.session == nil {
		return "", util.ErrNotConnected
	}
	output, err := h.session.Execute(ctx, command)
	if err != nil {
		return output, err
	}
	if errLine := hasZyxelError(output); errLine != "" {
		return output, &util.CommandError{
			Kind: util.KindVendorReject, Device: h.dev.ID, Command: command,
			Message: errLine, Output: output,
		}
	}
	return output, nil
}

// CheckHealth reads version info over the shell.
func (h *ZyxelCLIHandler) CheckHealth(ctx context.Context) (*Status, error) {
	if err := h.Connect(ctx); err != nil {
		return &Status{Reachable: false, Error: err.Error()}, nil
	}
	output, err := h.Execute(ctx, "show version")
	if err != nil {
		return &Status{Reachable: false, Error: err.Error()}, nil
	}
	status := &Status{Reachable: true}
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "Firmware Version") {
			status.FirmwareVersion = afterColon(line)
		}
		if strings.Contains(line, "System Up Time") {
			status.Uptime = afterColon(line)
		}
	}
	return status, nil
}

func afterColon(line string) string {
	if idx := strings.Index(line, ":"); idx >= 0 {
		return strings.TrimSpace(line[idx+1:])
	}
	return strings.TrimSpace(line)
}

// GetVLANs parses the `show vlan` table:
//
//	VID  |     VLAN Name    |    Untagged Ports   |   Tagged Ports  |  Type
//	-----+------------------+---------------------+-----------------+-------
//	   1 |          default |         1-26,lag1-8 |             --- | Default
func (h *ZyxelCLIHandler) GetVLANs(ctx context.Context) ([]*model.VLAN, error) {
	output, err := h.Execute(ctx, "show vlan")
	if err != nil {
		return nil, err
	}
	return parseZyxelVLANs(output), nil
}

func parseZyxelVLANs(output string) []*model.VLAN {
	var vlans []*model.VLAN
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "|") || strings.Contains(line, "VID") || strings.HasPrefix(strings.TrimSpace(line), "---") {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 5 {
			continue
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		id, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		name := parts[1]
		if name == "" {
			name = fmt.Sprintf("VLAN%d", id)
		}
		v := &model.VLAN{
			ID:            id,
			Name:          name,
			UntaggedPorts: ParseZyxelPortList(parts[2]),
			TaggedPorts:   ParseZyxelPortList(parts[3]),
		}
		v.Canonicalize()
		vlans = append(vlans, v)
	}
	return vlans
}

// ParseZyxelPortList expands "1-4,7,10-12,lag1-2" into individual port
// names. "---" means empty; LAG members are not physical ports and are
// dropped from the normalized model.
func ParseZyxelPortList(s string) []string {
	if s == "" || s == "---" {
		return nil
	}
	s = zyxelLagRE.ReplaceAllString(s, "")

	var ports []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if m := zyxelRangeRE.FindStringSubmatch(part); m != nil {
			start, _ := strconv.Atoi(m[1])
			end, _ := strconv.Atoi(m[2])
			for i := start; i <= end; i++ {
				ports = append(ports, strconv.Itoa(i))
			}
		} else if _, err := strconv.Atoi(part); err == nil {
			ports = append(ports, part)
		}
	}
	return ports
}

// GetPorts parses `show interfaces 1-26` blocks.
func (h *ZyxelCLIHandler) GetPorts(ctx context.Context) ([]*model.Port, error) {
	output, err := h.Execute(ctx, "show interfaces 1-26")
	if err != nil {
		return nil, err
	}
	return parseZyxelPorts(output), nil
}

func parseZyxelPorts(output string) []*model.Port {
	var ports []*model.Port
	var current *model.Port

	for _, line := range strings.Split(output, "\n") {
		if m := zyxelIfaceRE.FindStringSubmatch(line); m != nil {
			if current != nil {
				ports = append(ports, current)
			}
			state := strings.ToLower(m[2])
			current = &model.Port{
				Name:      m[1],
				Enabled:   state != "disabled",
				LinkState: state,
			}
			continue
		}
		if current == nil {
			continue
		}
		if m := zyxelSpeedRE.FindStringSubmatch(line); m != nil {
			current.Speed = normalizeZyxelSpeed(m[1], m[2])
		}
	}
	if current != nil {
		ports = append(ports, current)
	}
	return ports
}

func normalizeZyxelSpeed(duplex, speed string) string {
	d := strings.ToLower(duplex)
	switch strings.ToLower(speed) {
	case "auto":
		return "auto"
	case "10000m", "10g":
		return "10G"
	case "1000m", "1g":
		return "1000-full"
	case "100m":
		if d == "half" {
			return "100-half"
		}
		return "100-full"
	case "10m":
		if d == "half" {
			return "10-half"
		}
		return "10-full"
	}
	return ""
}

// GetConfig fetches the full normalized configuration.
func (h *ZyxelCLIHandler) GetConfig(ctx context.Context) (*model.DeviceConfig, error) {
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

// SaveConfig persists the running config; this one write is exposed on
// the CLI.
func (h *ZyxelCLIHandler) SaveConfig(ctx context.Context) error {
	_, err := h.Execute(ctx, "copy running-config startup-config")
	return err
}

// ValidPortName accepts bare port numbers.
func (h *ZyxelCLIHandler) ValidPortName(name string) bool {
	return zyxelPortNameRE.MatchString(name)
}

// RecoveryPatterns returns the GS1900 CLI failure patterns.
func (h *ZyxelCLIHandler) RecoveryPatterns() []RecoveryPattern {
	return []RecoveryPattern{
		{Match: "already a member", Action: ActionTreatAsSuccess},
		{Match: "invalid", Action: ActionFatal},
		{Match: "unknown command", Action: ActionFatal},
		{Match: "connection closed", Action: ActionReconnect},
	}
}
