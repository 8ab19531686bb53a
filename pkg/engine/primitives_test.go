package engine

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/switchcraft/switchcraft/pkg/audit"
	"github.com/switchcraft/switchcraft/pkg/device"
	"github.com/switchcraft/switchcraft/pkg/hil"
	"github.com/switchcraft/switchcraft/pkg/inventory"
	"github.com/switchcraft/switchcraft/pkg/model"
	"github.com/switchcraft/switchcraft/pkg/util"
)

// webSpy is a Handler + ConfigWriter double standing in for the Zyxel
// web handler: it tracks device state so the engine's post-apply
// verification sees the writes, and records every CLI Execute call so
// tests can assert that no plan text reaches the read-only CLI.
type webSpy struct {
	id         string
	state      *model.DeviceConfig
	executed   []string
	created    []*model.VLAN
	deleted    []int
	configured []*model.Port
	saved      bool
	failCreate map[int]error
}

func newWebSpy(id string) *webSpy {
	return &webSpy{id: id, state: model.NewDeviceConfig(id), failCreate: map[int]error{}}
}

func (s *webSpy) DeviceID() string                      { return s.id }
func (s *webSpy) Info() *inventory.Device               { return &inventory.Device{ID: s.id} }
func (s *webSpy) Connect(ctx context.Context) error     { return nil }
func (s *webSpy) Close() error                          { return nil }
func (s *webSpy) IsConnected() bool                     { return true }
func (s *webSpy) ValidPortName(name string) bool        { return true }
func (s *webSpy) SaveConfig(ctx context.Context) error  { s.saved = true; return nil }
func (s *webSpy) RecoveryPatterns() []device.RecoveryPattern { return nil }

func (s *webSpy) CheckHealth(ctx context.Context) (*device.Status, error) {
	return &device.Status{Reachable: true}, nil
}

func (s *webSpy) Execute(ctx context.Context, command string) (string, error) {
	s.executed = append(s.executed, command)
	return "", nil
}

func (s *webSpy) GetVLANs(ctx context.Context) ([]*model.VLAN, error) { return nil, nil }
func (s *webSpy) GetPorts(ctx context.Context) ([]*model.Port, error) { return nil, nil }

func (s *webSpy) GetConfig(ctx context.Context) (*model.DeviceConfig, error) {
	cfg := model.NewDeviceConfig(s.id)
	for id, v := range s.state.VLANs {
		copied := *v
		cfg.VLANs[id] = &copied
	}
	for name, p := range s.state.Ports {
		copied := *p
		cfg.Ports[name] = &copied
	}
	return cfg, nil
}

func (s *webSpy) CreateVLAN(ctx context.Context, vlan *model.VLAN) error {
	if err := s.failCreate[vlan.ID]; err != nil {
		return err
	}
	copied := *vlan
	copied.Canonicalize()
	s.created = append(s.created, &copied)
	s.state.VLANs[vlan.ID] = &copied
	return nil
}

func (s *webSpy) DeleteVLAN(ctx context.Context, vlanID int) error {
	s.deleted = append(s.deleted, vlanID)
	delete(s.state.VLANs, vlanID)
	return nil
}

func (s *webSpy) ConfigurePort(ctx context.Context, port *model.Port) error {
	copied := *port
	s.configured = append(s.configured, &copied)
	s.state.Ports[port.Name] = &copied
	return nil
}

func webEngine(t *testing.T) (*Engine, *audit.Logger, *webSpy) {
	t.Helper()
	inv, err := inventory.Parse([]byte(`
devices:
  lab-zyxel-web:
    type: zyxel-https
    host: 192.168.254.3
    username: admin
`))
	if err != nil {
		t.Fatal(err)
	}
	logger := audit.NewDefaultLogger(filepath.Join(t.TempDir(), "audit.log"))
	eng := New(inv, logger, hil.NewGate(&hil.Config{Enabled: false}))
	t.Cleanup(func() { eng.Close(); logger.Close() })

	spy := newWebSpy("lab-zyxel-web")
	eng.Registry().Register(inventory.TypeZyxelHTTPS, func(dev *inventory.Device) (device.Handler, error) {
		return spy, nil
	})
	return eng, logger, spy
}

func TestApplyConfigZyxelWebUsesPrimitives(t *testing.T) {
	eng, logger, spy := webEngine(t)

	doc := []byte(`
device_id: lab-zyxel-web
vlans:
  "100":
    name: Servers
    untagged_ports: ["5"]
    tagged_ports: ["25"]
ports:
  "7":
    description: camera
`)
	opts := DefaultExecuteOptions()
	result, err := eng.ApplyConfig(context.Background(), doc, opts)
	if err != nil {
		t.Fatalf("ApplyConfig failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}

	// Writes landed on the web primitives, with verification passing
	// against the post-apply state.
	if len(spy.created) != 1 || spy.created[0].ID != 100 || spy.created[0].Name != "Servers" {
		t.Fatalf("created = %+v", spy.created)
	}
	if len(spy.configured) != 1 || spy.configured[0].Name != "7" || spy.configured[0].Description != "camera" {
		t.Fatalf("configured = %+v", spy.configured)
	}
	if !spy.saved {
		t.Error("SaveOnSuccess should persist the config")
	}

	// Nothing was pushed through the read-only CLI as plan text.
	for _, cmd := range spy.executed {
		t.Errorf("CLI received write-path command %q", cmd)
	}

	if n := auditCount(t, logger); n != 1 {
		t.Errorf("audit records = %d, want 1", n)
	}
}

func TestApplyConfigZyxelWebDryRun(t *testing.T) {
	eng, _, spy := webEngine(t)

	doc := []byte("device_id: lab-zyxel-web\nvlans:\n  \"100\":\n    untagged_ports: [\"5\"]\n")
	opts := DefaultExecuteOptions()
	opts.DryRun = true
	result, err := eng.ApplyConfig(context.Background(), doc, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || !result.DryRun {
		t.Fatalf("result = %+v", result)
	}
	if len(spy.created)+len(spy.deleted)+len(spy.configured) != 0 {
		t.Error("dry-run must not call write primitives")
	}
	if spy.saved {
		t.Error("dry-run must not save")
	}
	if len(result.CommandsExecuted) == 0 || !strings.HasPrefix(result.CommandsExecuted[0], "[DRY-RUN] ") {
		t.Errorf("dry-run preview = %v", result.CommandsExecuted)
	}
}

func TestApplyConfigZyxelWebDeleteVLAN(t *testing.T) {
	eng, _, spy := webEngine(t)
	spy.state.VLANs[200] = &model.VLAN{ID: 200, Name: "Old"}

	result, err := eng.DeleteVLAN(context.Background(), "lab-zyxel-web", 200, DefaultExecuteOptions())
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if len(spy.deleted) != 1 || spy.deleted[0] != 200 {
		t.Errorf("deleted = %v", spy.deleted)
	}
}

func TestExecutePrimitivesRollback(t *testing.T) {
	spy := newWebSpy("lab-zyxel-web")
	spy.failCreate[200] = &util.CommandError{Kind: util.KindTransport, Message: "form post failed"}

	diff := &Diff{
		VLANsToCreate: []*model.VLAN{
			{ID: 100, Name: "Servers", UntaggedPorts: []string{"5"}},
			{ID: 200, Name: "Cameras"},
		},
	}

	var e Executor
	result := e.ExecutePrimitives(context.Background(), spy, spy, diff, DefaultExecuteOptions(), nil)
	if result.Success {
		t.Fatal("second create fails, execution must fail")
	}
	if !result.RollbackPerformed {
		t.Fatalf("rollback should unwind the first create: %+v", result)
	}
	// VLAN 100 was created, then deleted again by rollback.
	if len(spy.created) != 1 || spy.created[0].ID != 100 {
		t.Errorf("created = %+v", spy.created)
	}
	if len(spy.deleted) != 1 || spy.deleted[0] != 100 {
		t.Errorf("rollback deletions = %v", spy.deleted)
	}
	if _, exists := spy.state.VLANs[100]; exists {
		t.Error("post-rollback state should equal pre-state")
	}
}

func TestExecutePrimitivesCancellation(t *testing.T) {
	spy := newWebSpy("lab-zyxel-web")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	diff := &Diff{VLANsToCreate: []*model.VLAN{{ID: 100}}}
	var e Executor
	result := e.ExecutePrimitives(ctx, spy, spy, diff, DefaultExecuteOptions(), nil)
	if result.Success {
		t.Fatal("cancelled execution must not succeed")
	}
	if result.ErrorKind != string(util.KindCancelled) {
		t.Errorf("error kind = %s, want cancelled", result.ErrorKind)
	}
	if len(spy.created) != 0 {
		t.Error("no primitive should run after cancellation")
	}
}

func TestPortFromChange(t *testing.T) {
	enabled := false
	desc := "uplink"
	pc := &PortChange{
		Name:    "7",
		Before:  &model.Port{Name: "7", Enabled: true, Speed: "1000-full", PVID: 1},
		Enabled: &enabled,
		Description: &desc,
	}
	p := portFromChange(pc)
	if p.Enabled || p.Description != "uplink" {
		t.Errorf("port = %+v", p)
	}
	// Unmanaged fields carry over from the observed state.
	if p.Speed != "1000-full" || p.PVID != 1 {
		t.Errorf("before-state fields lost: %+v", p)
	}
	if p.Name != "7" {
		t.Errorf("name = %s", p.Name)
	}
}
