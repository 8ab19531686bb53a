package device

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/switchcraft/switchcraft/pkg/inventory"
	"github.com/switchcraft/switchcraft/pkg/model"
	"github.com/switchcraft/switchcraft/pkg/session"
	"github.com/switchcraft/switchcraft/pkg/util"
)

// Zyxel GS1900 hybrid handler: reads go over the SSH CLI (fast and
// reliable), writes go over the web CGI interface, which is the only
// management surface that accepts configuration changes. The handler
// implements ConfigWriter, so the engine applies diffs through these
// primitives instead of a CLI command plan.

// Dispatcher page cmd ids.
const (
	zyxelCmdVLANList         = 1282
	zyxelCmdVLANAdd          = 1284
	zyxelCmdVLANAddSubmit    = 1285
	zyxelCmdVLANEdit         = 1286
	zyxelCmdVLANEditSubmit   = 1287
	zyxelCmdPortVLAN         = 1290
	zyxelCmdPortVLANSubmit   = 1291
	zyxelCmdMembership       = 1293
	zyxelCmdMembershipSubmit = 1294
)

// Per-port membership values on the membership form.
const (
	zyxelMemberExcluded  = 0
	zyxelMemberForbidden = 1
	zyxelMemberTagged    = 2
	zyxelMemberUntagged  = 3
)

// ZyxelWebHandler extends the CLI handler with web-based writes.
type ZyxelWebHandler struct {
	ZyxelCLIHandler
	web *session.WebSession
}

// NewZyxelWebHandler builds a disconnected hybrid handler.
func NewZyxelWebHandler(dev *inventory.Device) *ZyxelWebHandler {
	return &ZyxelWebHandler{ZyxelCLIHandler: *NewZyxelCLIHandler(dev)}
}

func (h *ZyxelWebHandler) ensureWeb(ctx context.Context) error {
	if h.web != nil {
		return nil
	}
	return h.retry.Do(ctx, "web login "+h.dev.ID, func() error {
		web, err := session.DialWeb(ctx, h.dev.Host, h.dev.Port, h.dev.Username, h.dev.Password(),
			false, time.Duration(h.dev.TimeoutSeconds)*time.Second)
		if err != nil {
			return err
		}
		h.web = web
		return nil
	})
}

// Close drops both the shell and the web session.
func (h *ZyxelWebHandler) Close() error {
	if h.web != nil {
		h.web.Close()
		h.web = nil
	}
	return h.ZyxelCLIHandler.Close()
}

// CreateVLAN creates the VLAN then posts its port membership.
func (h *ZyxelWebHandler) CreateVLAN(ctx context.Context, vlan *model.VLAN) error {
	if err := h.ensureWeb(ctx); err != nil {
		return err
	}

	if _, err := h.web.PostForm(ctx, zyxelCmdVLANAdd, map[string]string{
		"cmd":      strconv.Itoa(zyxelCmdVLANAddSubmit),
		"sysSubmit": "Apply",
		"vid":      strconv.Itoa(vlan.ID),
		"vname":    vlan.Name,
	}); err != nil {
		return fmt.Errorf("create VLAN %d: %w", vlan.ID, err)
	}

	if len(vlan.UntaggedPorts) > 0 || len(vlan.TaggedPorts) > 0 {
		if err := h.postMembership(ctx, vlan); err != nil {
			return err
		}
	}
	util.WithDevice(h.dev.ID).Infof("Created VLAN %d via web", vlan.ID)
	return nil
}

// postMembership submits the per-port membership form for one VLAN.
func (h *ZyxelWebHandler) postMembership(ctx context.Context, vlan *model.VLAN) error {
	form := map[string]string{
		"cmd": strconv.Itoa(zyxelCmdMembershipSubmit),
		"vid": strconv.Itoa(vlan.ID),
	}
	membership := make(map[string]int)
	for _, p := range vlan.TaggedPorts {
		membership[p] = zyxelMemberTagged
	}
	for _, p := range vlan.UntaggedPorts {
		membership[p] = zyxelMemberUntagged
	}
	for port, value := range membership {
		form["port"+port] = strconv.Itoa(value)
	}
	if _, err := h.web.PostForm(ctx, zyxelCmdMembership, form); err != nil {
		return fmt.Errorf("VLAN %d membership: %w", vlan.ID, err)
	}
	return nil
}

// DeleteVLAN removes a VLAN through the list page.
func (h *ZyxelWebHandler) DeleteVLAN(ctx context.Context, vlanID int) error {
	if err := h.ensureWeb(ctx); err != nil {
		return err
	}
	if _, err := h.web.PostForm(ctx, zyxelCmdVLANList, map[string]string{
		"cmd":       strconv.Itoa(zyxelCmdVLANList),
		"sysSubmit": "Delete",
		"vid":       strconv.Itoa(vlanID),
	}); err != nil {
		return fmt.Errorf("delete VLAN %d: %w", vlanID, err)
	}
	util.WithDevice(h.dev.ID).Infof("Deleted VLAN %d via web", vlanID)
	return nil
}

// ConfigurePort posts the port VLAN settings form for PVID changes and
// falls back to the CLI error for unsupported attributes.
func (h *ZyxelWebHandler) ConfigurePort(ctx context.Context, port *model.Port) error {
	if err := h.ensureWeb(ctx); err != nil {
		return err
	}
	form := map[string]string{
		"cmd":   strconv.Itoa(zyxelCmdPortVLANSubmit),
		"ports": port.Name,
	}
	if port.PVID > 0 {
		form["pvid"] = strconv.Itoa(port.PVID)
	}
	if port.Description != "" {
		form["name"] = port.Description
	}
	if _, err := h.web.PostForm(ctx, zyxelCmdPortVLAN, form); err != nil {
		return fmt.Errorf("configure port %s: %w", port.Name, err)
	}
	return nil
}
