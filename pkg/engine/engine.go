package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/switchcraft/switchcraft/pkg/audit"
	"github.com/switchcraft/switchcraft/pkg/device"
	"github.com/switchcraft/switchcraft/pkg/hil"
	"github.com/switchcraft/switchcraft/pkg/inventory"
	"github.com/switchcraft/switchcraft/pkg/model"
	"github.com/switchcraft/switchcraft/pkg/util"
)

const (
	commandTimeout = 60 * time.Second
	batchTimeout   = 300 * time.Second
	idleTimeout    = 5 * time.Minute
)

// Engine orchestrates the apply workflow: parse, validate, safety-gate,
// lock, fetch, diff, plan, execute, audit. Validation and the HIL gate
// run before any wire I/O; the wire is touched only after both pass.
type Engine struct {
	inv      *inventory.Inventory
	registry *device.Registry
	auditLog *audit.Logger
	gate     *hil.Gate
	locks    *LockManager
	executor Executor

	mu       sync.Mutex
	handlers map[string]device.Handler
	lastUsed map[string]time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// New builds an engine over an inventory. auditLog and gate may not be
// nil wholesale: pass audit.NewDefaultLogger and hil.NewGate(nil) for
// defaults.
func New(inv *inventory.Inventory, auditLog *audit.Logger, gate *hil.Gate) *Engine {
	e := &Engine{
		inv:      inv,
		registry: device.NewRegistry(),
		auditLog: auditLog,
		gate:     gate,
		locks:    NewLockManager(),
		handlers: make(map[string]device.Handler),
		lastUsed: make(map[string]time.Time),
		stop:     make(chan struct{}),
	}
	for id, dev := range inv.Devices {
		if dev.Type == inventory.TypeBrocadeTelnet {
			e.locks.SetReadSlots(id, 1)
		} else {
			e.locks.SetReadSlots(id, 4)
		}
	}
	go e.janitor()
	return e
}

// Registry returns the device registry so callers can register custom
// handler constructors (additional vendors, test doubles). Overrides
// only affect devices whose handler has not been built yet.
func (e *Engine) Registry() *device.Registry { return e.registry }

// Close shuts the idle janitor and all open sessions.
func (e *Engine) Close() error {
	e.stopOnce.Do(func() { close(e.stop) })
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, h := range e.handlers {
		h.Close()
		delete(e.handlers, id)
	}
	return nil
}

// janitor closes sessions idle past the timeout. The next command on a
// closed session reconnects transparently.
func (e *Engine) janitor() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.closeIdle()
		}
	}
}

func (e *Engine) closeIdle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, h := range e.handlers {
		if time.Since(e.lastUsed[id]) > idleTimeout && h.IsConnected() {
			util.WithDevice(id).Debug("Closing idle session")
			h.Close()
		}
	}
}

// handler returns the cached handler for a device, building it on first
// use. At most one session exists per device.
func (e *Engine) handler(deviceID string) (device.Handler, *inventory.Device, error) {
	dev, err := e.inv.Get(deviceID)
	if err != nil {
		return nil, nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handlers[deviceID]
	if !ok {
		h, err = e.registry.Build(dev)
		if err != nil {
			return nil, nil, err
		}
		e.handlers[deviceID] = h
	}
	e.lastUsed[deviceID] = time.Now()
	return h, dev, nil
}

func deadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// ---------------------------------------------------------------------------
// apply_config

// ApplyConfig applies a desired-state document. This is the main entry
// point: checksum, parse, validate, HIL gate, lock, fetch, diff, plan,
// execute, verify, audit.
func (e *Engine) ApplyConfig(ctx context.Context, doc []byte, opts ExecuteOptions) (*ExecuteResult, error) {
	if err := VerifyChecksum(doc); err != nil {
		return e.rejectedResult(ctx, "", "apply_config", opts, err)
	}
	desired, err := ParseDocument(doc)
	if err != nil {
		return e.rejectedResult(ctx, "", "apply_config", opts, err)
	}
	return e.applyDesired(ctx, "apply_config", desired, opts)
}

// applyDesired is the shared write path for ApplyConfig and the single
// entity primitives.
func (e *Engine) applyDesired(ctx context.Context, operation string, desired *DesiredState, opts ExecuteOptions) (*ExecuteResult, error) {
	start := time.Now()
	dev, err := e.inv.Get(desired.DeviceID)
	if err != nil {
		return e.rejectedResult(ctx, desired.DeviceID, operation, opts, util.NewValidationError(err.Error()))
	}

	// Leaf-first: validation and the safety gate never touch the wire.
	validation := NewValidator(dev.Type).Validate(desired)
	if !validation.Valid {
		return e.rejectedResult(ctx, desired.DeviceID, operation, opts,
			util.NewValidationError(validation.Errors...))
	}
	if err := e.checkHIL(operation, dev, desired); err != nil {
		return e.rejectedResult(ctx, desired.DeviceID, operation, opts, err)
	}

	// Cancellation before any wire write aborts cleanly, no audit record.
	if err := ctx.Err(); err != nil {
		return nil, util.NewCommandError(util.KindCancelled, desired.DeviceID, "", err.Error())
	}

	ctx, cancel := deadline(ctx, batchTimeout)
	defer cancel()

	release, err := e.locks.AcquireWriter(ctx, desired.DeviceID)
	if err != nil {
		return nil, err
	}
	defer release()

	h, _, err := e.handler(desired.DeviceID)
	if err != nil {
		return nil, err
	}
	if err := h.Connect(ctx); err != nil {
		return e.finishResult(desired.DeviceID, operation, opts, start, nil, nil, &ExecuteResult{
			Success: false, Error: err.Error(), ErrorKind: string(util.KindOf(err)),
		}, desired), nil
	}

	before, err := h.GetConfig(ctx)
	if err != nil {
		return e.finishResult(desired.DeviceID, operation, opts, start, nil, nil, &ExecuteResult{
			Success: false, Error: "failed to get current state: " + err.Error(),
			ErrorKind: string(util.KindOf(err)),
		}, desired), nil
	}

	diff := ComputeDiff(before, desired)
	if diff.Empty() {
		result := &ExecuteResult{Success: true, DryRun: opts.DryRun,
			ChangesMade: []string{"No changes needed - state already matches"}}
		return e.finishResult(desired.DeviceID, operation, opts, start, before, before, result, desired), nil
	}

	verify := func(vctx context.Context) error {
		refreshed, err := h.GetConfig(vctx)
		if err != nil {
			return fmt.Errorf("verification fetch failed: %w", err)
		}
		if residual := ComputeDiff(refreshed, desired); !residual.Empty() {
			return &util.CommandError{Kind: util.KindVendorReject, Device: desired.DeviceID,
				Message: fmt.Sprintf("verification failed: %d entities still differ", residual.Total())}
		}
		return nil
	}

	// Writes dispatch on the handler's capability: non-CLI surfaces
	// (zyxel-https) apply through their write primitives, CLI vendors
	// through a planned command sequence.
	var result *ExecuteResult
	if w, ok := h.(device.ConfigWriter); ok {
		util.WithDevice(desired.DeviceID).Infof("Applying %d changes via write primitives", diff.Total())
		result = e.executor.ExecutePrimitives(ctx, h, w, diff, opts, verify)
	} else {
		plan, err := NewPlanner(dev.Type).Plan(diff, before, opts)
		if err != nil {
			return e.finishResult(desired.DeviceID, operation, opts, start, before, nil, &ExecuteResult{
				Success: false, Error: err.Error(), ErrorKind: string(util.KindOf(err)),
			}, desired), nil
		}
		util.WithDevice(desired.DeviceID).Infof("Executing plan: %d commands (%d pre, %d main, %d post)",
			plan.Total(), len(plan.PreCommands), len(plan.MainCommands), len(plan.PostCommands))
		result = e.executor.Execute(ctx, h, plan, diff, opts, verify)
	}

	var after *model.DeviceConfig
	if !opts.DryRun && result.Success {
		after, _ = h.GetConfig(ctx)
	}
	return e.finishResult(desired.DeviceID, operation, opts, start, before, after, result, desired), nil
}

func (e *Engine) checkHIL(operation string, dev *inventory.Device, desired *DesiredState) error {
	if !e.gate.Enabled() {
		return nil
	}
	for id, vlan := range desired.VLANs {
		ports := append(append([]string(nil), vlan.UntaggedPorts...), vlan.TaggedPorts...)
		if err := e.gate.Check(operation, dev.ID, dev.Host, id, ports); err != nil {
			return err
		}
	}
	if len(desired.VLANs) == 0 {
		var ports []string
		for name := range desired.Ports {
			ports = append(ports, name)
		}
		if err := e.gate.Check(operation, dev.ID, dev.Host, -1, ports); err != nil {
			return err
		}
	}
	return nil
}

// rejectedResult audits a pre-wire rejection (validation, safety,
// parse) and returns it as a failed result.
func (e *Engine) rejectedResult(ctx context.Context, deviceID, operation string, opts ExecuteOptions, err error) (*ExecuteResult, error) {
	result := &ExecuteResult{
		Success:   false,
		DryRun:    opts.DryRun,
		Error:     err.Error(),
		ErrorKind: string(util.KindOf(err)),
	}
	record := audit.NewRecord(deviceID, operation, opts.Actor)
	record.DryRun = opts.DryRun
	record.Success = false
	record.Error = result.Error
	record.ErrorKind = result.ErrorKind
	if logErr := e.auditLog.Log(record); logErr != nil {
		util.Errorf("audit write failed: %v", logErr)
	}
	return result, err
}

// finishResult writes the single audit record for a completed (or
// failed) wire operation and returns the result.
func (e *Engine) finishResult(deviceID, operation string, opts ExecuteOptions, start time.Time,
	before, after *model.DeviceConfig, result *ExecuteResult, desired *DesiredState) *ExecuteResult {

	record := audit.NewRecord(deviceID, operation, opts.Actor)
	record.DryRun = opts.DryRun
	record.Success = result.Success
	record.Error = result.Error
	record.ErrorKind = result.ErrorKind
	record.RecoveryAttempts = result.RecoveryTrail
	record.DurationMS = time.Since(start).Milliseconds()
	record.BeforeState = before
	if !opts.DryRun {
		record.AfterState = after
	}
	if desired != nil {
		record.Parameters = map[string]interface{}{
			"mode":  string(desired.Mode),
			"vlans": len(desired.VLANs),
			"ports": len(desired.Ports),
		}
		if opts.Context != "" {
			record.Parameters["context"] = opts.Context
		}
	}
	if err := e.auditLog.Log(record); err != nil {
		util.Errorf("audit write failed: %v", err)
	}
	return result
}

// ---------------------------------------------------------------------------
// Single-entity primitives

// CreateVLAN ensures one VLAN through the full diff/plan/execute path.
func (e *Engine) CreateVLAN(ctx context.Context, deviceID string, vlan *model.VLAN, opts ExecuteOptions) (*ExecuteResult, error) {
	desired := &DesiredState{
		DeviceID: deviceID,
		Mode:     ModePatch,
		VLANs: map[int]*VLANDesired{vlan.ID: {
			ID:            vlan.ID,
			Action:        ActionEnsure,
			Name:          vlan.Name,
			UntaggedPorts: vlan.UntaggedPorts,
			TaggedPorts:   vlan.TaggedPorts,
			IPInterface:   vlan.IPInterface,
		}},
		Ports:    map[string]*PortDesired{},
		Settings: map[string]string{},
	}
	return e.applyDesired(ctx, "create_vlan", desired, opts)
}

// DeleteVLAN removes one VLAN through the full path.
func (e *Engine) DeleteVLAN(ctx context.Context, deviceID string, vlanID int, opts ExecuteOptions) (*ExecuteResult, error) {
	desired := &DesiredState{
		DeviceID: deviceID,
		Mode:     ModePatch,
		VLANs:    map[int]*VLANDesired{vlanID: {ID: vlanID, Action: ActionAbsent}},
		Ports:    map[string]*PortDesired{},
		Settings: map[string]string{},
	}
	return e.applyDesired(ctx, "delete_vlan", desired, opts)
}

// ConfigurePort applies managed attributes to one port.
func (e *Engine) ConfigurePort(ctx context.Context, deviceID string, port *PortDesired, opts ExecuteOptions) (*ExecuteResult, error) {
	desired := &DesiredState{
		DeviceID: deviceID,
		Mode:     ModePatch,
		VLANs:    map[int]*VLANDesired{},
		Ports:    map[string]*PortDesired{port.Name: port},
		Settings: map[string]string{},
	}
	return e.applyDesired(ctx, "configure_port", desired, opts)
}

// SaveConfig persists the running configuration.
func (e *Engine) SaveConfig(ctx context.Context, deviceID string, opts ExecuteOptions) (*ExecuteResult, error) {
	start := time.Now()
	ctx, cancel := deadline(ctx, commandTimeout)
	defer cancel()

	release, err := e.locks.AcquireWriter(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	defer release()

	h, _, err := e.handler(deviceID)
	if err != nil {
		return nil, err
	}
	result := &ExecuteResult{DryRun: opts.DryRun}
	if opts.DryRun {
		result.Success = true
		result.CommandsExecuted = []string{"[DRY-RUN] save config"}
	} else if err := h.Connect(ctx); err != nil {
		result.Error = err.Error()
		result.ErrorKind = string(util.KindOf(err))
	} else if err := h.SaveConfig(ctx); err != nil {
		result.Error = err.Error()
		result.ErrorKind = string(util.KindOf(err))
	} else {
		result.Success = true
		result.ChangesMade = []string{"Saved running config to startup config"}
	}
	return e.finishResult(deviceID, "save_config", opts, start, nil, nil, result, nil), nil
}

// ---------------------------------------------------------------------------
// Reads

// Preview returns the human-readable diff summary without executing.
// Current-state reads still happen so the preview is real.
func (e *Engine) Preview(ctx context.Context, doc []byte) (string, error) {
	desired, err := ParseDocument(doc)
	if err != nil {
		return "", err
	}
	dev, err := e.inv.Get(desired.DeviceID)
	if err != nil {
		return "", err
	}
	validation := NewValidator(dev.Type).Validate(desired)
	if !validation.Valid {
		return "", util.NewValidationError(validation.Errors...)
	}

	current, err := e.fetchConfig(ctx, desired.DeviceID)
	if err != nil {
		return "", err
	}
	summary := ComputeDiff(current, desired).Summary()
	if len(validation.Warnings) > 0 {
		summary += "\n\nWarnings:"
		for _, w := range validation.Warnings {
			summary += "\n  - " + w
		}
	}
	return summary, nil
}

// GetConfig fetches the normalized device configuration under a read
// slot.
func (e *Engine) GetConfig(ctx context.Context, deviceID string) (*model.DeviceConfig, error) {
	return e.fetchConfig(ctx, deviceID)
}

func (e *Engine) fetchConfig(ctx context.Context, deviceID string) (*model.DeviceConfig, error) {
	ctx, cancel := deadline(ctx, commandTimeout)
	defer cancel()

	release, err := e.locks.AcquireReader(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	defer release()

	h, _, err := e.handler(deviceID)
	if err != nil {
		return nil, err
	}
	if err := h.Connect(ctx); err != nil {
		return nil, err
	}
	return h.GetConfig(ctx)
}

// CheckHealth probes one device.
func (e *Engine) CheckHealth(ctx context.Context, deviceID string) (*device.Status, error) {
	ctx, cancel := deadline(ctx, commandTimeout)
	defer cancel()

	release, err := e.locks.AcquireReader(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	defer release()

	h, _, err := e.handler(deviceID)
	if err != nil {
		return nil, err
	}
	return h.CheckHealth(ctx)
}

// DetectDrift compares a stored desired state against freshly fetched
// device state. Side-effect-free: no writes, no audit record.
func (e *Engine) DetectDrift(ctx context.Context, doc []byte) (*DriftReport, error) {
	desired, err := ParseDocument(doc)
	if err != nil {
		return nil, err
	}
	current, err := e.fetchConfig(ctx, desired.DeviceID)
	if err != nil {
		return nil, err
	}
	return ComputeDrift(current, desired), nil
}

// DetectDriftAll sweeps many desired-state documents in parallel across
// devices, cooperative per device via the read slots.
func (e *Engine) DetectDriftAll(ctx context.Context, docs map[string][]byte) (map[string]*DriftReport, error) {
	var mu sync.Mutex
	reports := make(map[string]*DriftReport, len(docs))

	p := pool.New().WithErrors().WithContext(ctx)
	for deviceID, doc := range docs {
		deviceID, doc := deviceID, doc
		p.Go(func(ctx context.Context) error {
			report, err := e.DetectDrift(ctx, doc)
			if err != nil {
				return fmt.Errorf("%s: %w", deviceID, err)
			}
			mu.Lock()
			reports[deviceID] = report
			mu.Unlock()
			return nil
		})
	}
	err := p.Wait()
	return reports, err
}

// ---------------------------------------------------------------------------
// Raw execution

// Execute runs one raw read command on a device under a read slot.
func (e *Engine) Execute(ctx context.Context, deviceID, command string) (string, error) {
	ctx, cancel := deadline(ctx, commandTimeout)
	defer cancel()

	release, err := e.locks.AcquireReader(ctx, deviceID)
	if err != nil {
		return "", err
	}
	defer release()

	h, _, err := e.handler(deviceID)
	if err != nil {
		return "", err
	}
	if err := h.Connect(ctx); err != nil {
		return "", err
	}
	return h.Execute(ctx, command)
}

// ExecuteConfigBatch runs raw config-mode commands under the writer
// lock, with one audit record.
func (e *Engine) ExecuteConfigBatch(ctx context.Context, deviceID string, commands []string, opts ExecuteOptions) (*ExecuteResult, error) {
	start := time.Now()
	for _, c := range commands {
		if len(c) == 0 {
			return e.rejectedResult(ctx, deviceID, "execute_config_batch", opts,
				util.NewValidationError("empty command in batch"))
		}
	}
	if e.gate.Enabled() {
		dev, err := e.inv.Get(deviceID)
		if err != nil {
			return nil, err
		}
		if err := e.gate.Check("execute_config_batch", dev.ID, dev.Host, -1, nil); err != nil {
			return e.rejectedResult(ctx, deviceID, "execute_config_batch", opts, err)
		}
	}

	ctx, cancel := deadline(ctx, batchTimeout)
	defer cancel()

	release, err := e.locks.AcquireWriter(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	defer release()

	h, _, err := e.handler(deviceID)
	if err != nil {
		return nil, err
	}

	result := &ExecuteResult{DryRun: opts.DryRun}
	if opts.DryRun {
		result.Success = true
		for _, c := range commands {
			result.CommandsExecuted = append(result.CommandsExecuted, "[DRY-RUN] "+c)
		}
		return e.finishResult(deviceID, "execute_config_batch", opts, start, nil, nil, result, nil), nil
	}

	if err := h.Connect(ctx); err != nil {
		result.Error = err.Error()
		result.ErrorKind = string(util.KindOf(err))
		return e.finishResult(deviceID, "execute_config_batch", opts, start, nil, nil, result, nil), nil
	}

	batcher, ok := h.(device.ConfigBatchExecutor)
	if !ok {
		result.Error = "device does not support config batches"
		result.ErrorKind = string(util.KindValidation)
		return e.finishResult(deviceID, "execute_config_batch", opts, start, nil, nil, result, nil), nil
	}

	output, err := batcher.ExecuteConfigBatch(ctx, commands, opts.StopOnError)
	result.CommandsExecuted = commands
	if err != nil {
		result.Error = err.Error()
		result.ErrorKind = string(util.KindOf(err))
		result.ErrorContext = output
	} else {
		result.Success = true
	}
	return e.finishResult(deviceID, "execute_config_batch", opts, start, nil, nil, result, nil), nil
}
