package engine

import (
	"fmt"
	"strconv"

	"github.com/samber/lo"

	"github.com/switchcraft/switchcraft/pkg/device"
	"github.com/switchcraft/switchcraft/pkg/inventory"
	"github.com/switchcraft/switchcraft/pkg/model"
	"github.com/switchcraft/switchcraft/pkg/util"
)

// Planner turns a Diff into a vendor-specific CommandPlan. Every forward
// command gets an inverse in rollback_commands, emitted in reverse
// order. Main-command ordering is: deletions (unbind ports, then drop
// the VLAN), modifications (removals before additions), creations, port
// changes, settings.
type Planner struct {
	deviceType string
}

// NewPlanner builds a planner for an inventory device type.
func NewPlanner(deviceType string) *Planner {
	return &Planner{deviceType: deviceType}
}

// Plan generates the command plan for a diff. current is the observed
// device state the diff was computed against; OpenWrt planning reads
// the bridge facts from its settings. Devices whose writes are not CLI
// commands (zyxel-https) never reach the planner — the engine applies
// their diffs through ConfigWriter primitives.
func (p *Planner) Plan(diff *Diff, current *model.DeviceConfig, opts ExecuteOptions) (*CommandPlan, error) {
	switch p.deviceType {
	case inventory.TypeBrocadeTelnet:
		return p.planBrocade(diff, opts), nil
	case inventory.TypeZyxelCLI:
		return nil, &util.CommandError{Kind: util.KindValidation,
			Message: util.ErrUnsupportedOnTransport.Error() + ": the zyxel-cli transport is read-only, use zyxel-https for writes"}
	case inventory.TypeZyxelHTTPS:
		return nil, &util.CommandError{Kind: util.KindValidation,
			Message: "zyxel-https devices apply through web write primitives, not a command plan"}
	case inventory.TypeOpenWrtSSH:
		return p.planOpenWrt(diff, current, opts), nil
	}
	return nil, &util.CommandError{Kind: util.KindValidation,
		Message: "unsupported device type for planning: " + p.deviceType}
}

func vlanTag(id int) string     { return "vlan:" + strconv.Itoa(id) }
func portTag(name string) string { return "port:" + name }

func tagged(tag string, texts ...string) []Command {
	cmds := make([]Command, len(texts))
	for i, t := range texts {
		cmds[i] = Command{Text: t, Tag: tag}
	}
	return cmds
}

// ---------------------------------------------------------------------------
// Brocade

func (p *Planner) planBrocade(diff *Diff, opts ExecuteOptions) *CommandPlan {
	plan := &CommandPlan{}

	// Ports moving from tagged membership to a new untagged membership
	// trip the FastIron dual-mode check; disable it up front.
	newlyUntagged := map[string]bool{}
	for _, v := range diff.VLANsToCreate {
		for _, port := range v.UntaggedPorts {
			newlyUntagged[port] = true
		}
	}
	for _, m := range diff.VLANsToModify {
		for _, port := range m.AddUntagged {
			newlyUntagged[port] = true
		}
	}
	for _, m := range diff.VLANsToModify {
		for _, port := range m.RemoveTagged {
			if newlyUntagged[port] {
				plan.PreCommands = append(plan.PreCommands, tagged(portTag(port),
					"interface ethe "+port, "no dual-mode", "exit")...)
			}
		}
	}

	for _, v := range diff.VLANsToDelete {
		tag := vlanTag(v.ID)
		if len(v.UntaggedPorts) > 0 || len(v.TaggedPorts) > 0 {
			cmds := []string{fmt.Sprintf("vlan %d", v.ID)}
			for _, spec := range device.GroupBrocadePorts(v.UntaggedPorts) {
				cmds = append(cmds, "no untagged ethe "+spec)
			}
			for _, spec := range device.GroupBrocadePorts(v.TaggedPorts) {
				cmds = append(cmds, "no tagged ethe "+spec)
			}
			cmds = append(cmds, "exit")
			plan.MainCommands = append(plan.MainCommands, tagged(tag, cmds...)...)
		}
		plan.MainCommands = append(plan.MainCommands, tagged(tag, fmt.Sprintf("no vlan %d", v.ID))...)
	}

	for _, m := range diff.VLANsToModify {
		tag := vlanTag(m.Before.ID)
		cmds := []string{fmt.Sprintf("vlan %d", m.Before.ID)}
		// Removals precede additions: a port is untagged in one VLAN at
		// a time, so the old membership must go first.
		for _, spec := range device.GroupBrocadePorts(m.RemoveUntagged) {
			cmds = append(cmds, "no untagged ethe "+spec)
		}
		for _, spec := range device.GroupBrocadePorts(m.RemoveTagged) {
			cmds = append(cmds, "no tagged ethe "+spec)
		}
		for _, spec := range device.GroupBrocadePorts(m.AddUntagged) {
			cmds = append(cmds, "untagged ethe "+spec)
		}
		for _, spec := range device.GroupBrocadePorts(m.AddTagged) {
			cmds = append(cmds, "tagged ethe "+spec)
		}
		cmds = append(cmds, "exit")
		plan.MainCommands = append(plan.MainCommands, tagged(tag, cmds...)...)
	}

	for _, v := range diff.VLANsToCreate {
		plan.MainCommands = append(plan.MainCommands, brocadeCreateVLAN(v)...)
	}

	for _, pc := range diff.PortsToConfigure {
		cmds := []string{"interface ethe " + pc.Name}
		if pc.Enabled != nil {
			if *pc.Enabled {
				cmds = append(cmds, "enable")
			} else {
				cmds = append(cmds, "disable")
			}
		}
		if pc.Description != nil {
			cmds = append(cmds, "port-name "+*pc.Description)
		}
		if pc.Speed != nil {
			cmds = append(cmds, "speed-duplex "+brocadeSpeed(*pc.Speed))
		}
		cmds = append(cmds, "exit")
		plan.MainCommands = append(plan.MainCommands, tagged(portTag(pc.Name), cmds...)...)
	}

	if opts.SaveOnSuccess && len(plan.MainCommands) > 0 {
		plan.PostCommands = append(plan.PostCommands, Command{Text: "write memory", Tag: "save"})
	}

	plan.RollbackCommands = p.brocadeRollback(diff)
	return plan
}

func brocadeCreateVLAN(v *model.VLAN) []Command {
	tag := vlanTag(v.ID)
	name := v.Name
	if name == "" {
		name = fmt.Sprintf("VLAN%d", v.ID)
	}
	cmds := []string{fmt.Sprintf("vlan %d name %s by port", v.ID, name)}
	for _, spec := range device.GroupBrocadePorts(v.UntaggedPorts) {
		cmds = append(cmds, "untagged ethe "+spec)
	}
	for _, spec := range device.GroupBrocadePorts(v.TaggedPorts) {
		cmds = append(cmds, "tagged ethe "+spec)
	}
	if v.IPInterface != nil {
		cmds = append(cmds, fmt.Sprintf("router-interface ve %d", v.ID))
	}
	cmds = append(cmds, "exit")
	return tagged(tag, cmds...)
}

func brocadeSpeed(speed string) string {
	switch speed {
	case "10G":
		return "10g-full"
	default:
		return speed
	}
}

// brocadeRollback emits the inverse of every forward command group, in
// reverse order: creates invert to deletion, deletions invert to
// recreation from the captured before-state, modifications re-apply the
// pre-change membership.
func (p *Planner) brocadeRollback(diff *Diff) []Command {
	var cmds []Command

	for _, pc := range lo.Reverse(append([]*PortChange(nil), diff.PortsToConfigure...)) {
		if pc.Before == nil {
			continue
		}
		restore := []string{"interface ethe " + pc.Name}
		if pc.Enabled != nil {
			if pc.Before.Enabled {
				restore = append(restore, "enable")
			} else {
				restore = append(restore, "disable")
			}
		}
		if pc.Description != nil {
			restore = append(restore, "port-name "+pc.Before.Description)
		}
		if pc.Speed != nil && pc.Before.Speed != "" {
			restore = append(restore, "speed-duplex "+brocadeSpeed(pc.Before.Speed))
		}
		restore = append(restore, "exit")
		cmds = append(cmds, tagged(portTag(pc.Name), restore...)...)
	}

	for _, v := range lo.Reverse(append([]*model.VLAN(nil), diff.VLANsToCreate...)) {
		cmds = append(cmds, tagged(vlanTag(v.ID), fmt.Sprintf("no vlan %d", v.ID))...)
	}

	for _, m := range lo.Reverse(append([]*VLANModify(nil), diff.VLANsToModify...)) {
		tag := vlanTag(m.Before.ID)
		inverse := []string{fmt.Sprintf("vlan %d", m.Before.ID)}
		for _, spec := range device.GroupBrocadePorts(m.AddUntagged) {
			inverse = append(inverse, "no untagged ethe "+spec)
		}
		for _, spec := range device.GroupBrocadePorts(m.AddTagged) {
			inverse = append(inverse, "no tagged ethe "+spec)
		}
		for _, spec := range device.GroupBrocadePorts(m.RemoveUntagged) {
			inverse = append(inverse, "untagged ethe "+spec)
		}
		for _, spec := range device.GroupBrocadePorts(m.RemoveTagged) {
			inverse = append(inverse, "tagged ethe "+spec)
		}
		inverse = append(inverse, "exit")
		cmds = append(cmds, tagged(tag, inverse...)...)
	}

	for _, v := range lo.Reverse(append([]*model.VLAN(nil), diff.VLANsToDelete...)) {
		cmds = append(cmds, brocadeCreateVLAN(v)...)
	}

	return cmds
}

// ---------------------------------------------------------------------------
// OpenWrt

func (p *Planner) planOpenWrt(diff *Diff, current *model.DeviceConfig, opts ExecuteOptions) *CommandPlan {
	plan := &CommandPlan{}

	bridge := "br-lan"
	filtering := ""
	if current != nil {
		if b := current.Settings["bridge"]; b != "" {
			bridge = b
		}
		filtering = current.Settings["vlan_filtering"]
	}

	// bridge-vlan sections have no effect until VLAN filtering is on;
	// enable it with the first VLAN-creating plan. Rollback does not
	// revert it: rewriting the bridge option flaps every port.
	if filtering == "0" && len(diff.VLANsToCreate) > 0 {
		plan.PreCommands = append(plan.PreCommands, Command{
			Text: fmt.Sprintf("uci set network.%s.vlan_filtering='1'", bridge),
			Tag:  "bridge:" + bridge,
		})
	}

	for _, v := range diff.VLANsToDelete {
		plan.MainCommands = append(plan.MainCommands, tagged(vlanTag(v.ID),
			fmt.Sprintf("uci delete network.vlan%d", v.ID))...)
	}

	for _, m := range diff.VLANsToModify {
		plan.MainCommands = append(plan.MainCommands, tagged(vlanTag(m.Before.ID),
			fmt.Sprintf("uci set network.vlan%d.ports='%s'", m.Before.ID, uciPortsSpec(m.After)))...)
	}

	for _, v := range diff.VLANsToCreate {
		plan.MainCommands = append(plan.MainCommands, openwrtCreateVLAN(bridge, v)...)
	}

	for _, pc := range diff.PortsToConfigure {
		var cmds []string
		if pc.Enabled != nil {
			if *pc.Enabled {
				cmds = append(cmds, "ip link set "+pc.Name+" up")
			} else {
				cmds = append(cmds, "ip link set "+pc.Name+" down")
			}
		}
		if pc.Description != nil {
			cmds = append(cmds, fmt.Sprintf("uci set network.%s.description='%s'", pc.Name, *pc.Description))
		}
		if pc.Speed != nil {
			if cmd := ethtoolCmd(pc.Name, *pc.Speed); cmd != "" {
				cmds = append(cmds, cmd)
			}
		}
		plan.MainCommands = append(plan.MainCommands, tagged(portTag(pc.Name), cmds...)...)
	}

	if len(plan.MainCommands) > 0 {
		plan.PostCommands = append(plan.PostCommands,
			Command{Text: "uci commit network", Tag: "save"},
			Command{Text: "/etc/init.d/network reload", Tag: "save"},
		)
	}

	var rollback []Command
	for _, v := range lo.Reverse(append([]*model.VLAN(nil), diff.VLANsToCreate...)) {
		rollback = append(rollback, tagged(vlanTag(v.ID),
			fmt.Sprintf("uci delete network.vlan%d", v.ID))...)
	}
	for _, m := range lo.Reverse(append([]*VLANModify(nil), diff.VLANsToModify...)) {
		rollback = append(rollback, tagged(vlanTag(m.Before.ID),
			fmt.Sprintf("uci set network.vlan%d.ports='%s'", m.Before.ID, uciPortsSpec(m.Before)))...)
	}
	for _, v := range lo.Reverse(append([]*model.VLAN(nil), diff.VLANsToDelete...)) {
		rollback = append(rollback, openwrtCreateVLAN(bridge, v)...)
	}
	if len(rollback) > 0 {
		rollback = append(rollback,
			Command{Text: "uci commit network", Tag: "save"},
			Command{Text: "/etc/init.d/network reload", Tag: "save"},
		)
	}
	plan.RollbackCommands = rollback

	return plan
}

func openwrtCreateVLAN(bridge string, v *model.VLAN) []Command {
	tag := vlanTag(v.ID)
	section := fmt.Sprintf("vlan%d", v.ID)
	return tagged(tag,
		fmt.Sprintf("uci set network.%s=bridge-vlan", section),
		fmt.Sprintf("uci set network.%s.device='%s'", section, bridge),
		fmt.Sprintf("uci set network.%s.vlan='%d'", section, v.ID),
		fmt.Sprintf("uci set network.%s.ports='%s'", section, uciPortsSpec(v)),
	)
}

func uciPortsSpec(v *model.VLAN) string {
	var specs []string
	for _, p := range v.TaggedPorts {
		specs = append(specs, p+":t")
	}
	for _, p := range v.UntaggedPorts {
		specs = append(specs, p+":u*")
	}
	out := ""
	for i, s := range specs {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}

func ethtoolCmd(port, speed string) string {
	switch speed {
	case "auto":
		return "ethtool -s " + port + " autoneg on"
	case "10G":
		return "ethtool -s " + port + " speed 10000 duplex full"
	case "1000-full":
		return "ethtool -s " + port + " speed 1000 duplex full"
	case "100-full":
		return "ethtool -s " + port + " speed 100 duplex full"
	case "100-half":
		return "ethtool -s " + port + " speed 100 duplex half"
	case "10-full":
		return "ethtool -s " + port + " speed 10 duplex full"
	case "10-half":
		return "ethtool -s " + port + " speed 10 duplex half"
	}
	return ""
}
