package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/switchcraft/switchcraft/pkg/device"
	"github.com/switchcraft/switchcraft/pkg/model"
	"github.com/switchcraft/switchcraft/pkg/util"
)

// Reconnector is implemented by handlers that can re-establish a lost
// session in place.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

var portInCommandRE = regexp.MustCompile(`(\d+/\d+/\d+|lan\d+|\b\d{1,2}\b)`)

// Executor runs a CommandPlan against a handler. The caller must hold
// the device writer lock for the full call. Recovery is pattern-driven:
// known vendor failures are fixed in-line up to MaxRecoveryAttempts
// times; everything else surfaces, optionally triggering rollback.
type Executor struct{}

// Execute runs the plan. verify, when non-nil, re-fetches affected state
// after the main batch and returns an error if the residual diff is not
// empty. Dry-run bypasses all wire writes and attaches the plan to the
// result.
func (e *Executor) Execute(ctx context.Context, h device.Handler, plan *CommandPlan,
	diff *Diff, opts ExecuteOptions, verify func(context.Context) error) *ExecuteResult {

	result := &ExecuteResult{DryRun: opts.DryRun}
	if opts.MaxRecoveryAttempts == 0 {
		opts.MaxRecoveryAttempts = 3
	}

	if opts.DryRun {
		result.Success = true
		result.Plan = plan
		for _, cmd := range append(append(append([]Command{}, plan.PreCommands...),
			plan.MainCommands...), plan.PostCommands...) {
			result.CommandsExecuted = append(result.CommandsExecuted, "[DRY-RUN] "+cmd.Text)
		}
		for _, change := range diff.Describe() {
			result.ChangesMade = append(result.ChangesMade, "[PREVIEW] "+change)
		}
		return result
	}

	run := &planRun{handler: h, opts: opts, result: result}

	if err := run.executeIndividually(ctx, plan.PreCommands); err != nil {
		return e.fail(ctx, h, plan, result, opts, err)
	}

	if err := run.executeMain(ctx, plan.MainCommands); err != nil {
		return e.fail(ctx, h, plan, result, opts, err)
	}

	if verify != nil && !opts.SkipVerify {
		if err := verify(ctx); err != nil {
			return e.fail(ctx, h, plan, result, opts, err)
		}
	}

	// Post-command failures (write memory, STP re-enable) are logged but
	// do not undo an otherwise applied change.
	for _, cmd := range append(append([]Command{}, run.deferred...), plan.PostCommands...) {
		if _, err := h.Execute(ctx, cmd.Text); err != nil {
			util.WithDevice(h.DeviceID()).Warnf("Post-command %q failed: %v", cmd.Text, err)
		}
		result.CommandsExecuted = append(result.CommandsExecuted, cmd.Text)
	}

	result.Success = true
	result.ChangesMade = diff.Describe()
	return result
}

func (e *Executor) fail(ctx context.Context, h device.Handler, plan *CommandPlan,
	result *ExecuteResult, opts ExecuteOptions, err error) *ExecuteResult {

	result.Success = false
	result.Error = err.Error()
	result.ErrorKind = string(util.KindOf(err))
	var ce *util.CommandError
	if errors.As(err, &ce) {
		result.ErrorContext = ce.Output
	}

	if opts.RollbackOnError && len(plan.RollbackCommands) > 0 {
		e.rollback(ctx, h, plan, result)
	}
	return result
}

// primitiveOp is one diff element expressed as a handler write
// primitive with its inverse.
type primitiveOp struct {
	desc   string
	apply  func(context.Context) error
	invert func(context.Context) error
}

func primitiveOps(w device.ConfigWriter, diff *Diff) []primitiveOp {
	var ops []primitiveOp
	for _, v := range diff.VLANsToDelete {
		v := v
		ops = append(ops, primitiveOp{
			desc:   fmt.Sprintf("delete vlan %d", v.ID),
			apply:  func(ctx context.Context) error { return w.DeleteVLAN(ctx, v.ID) },
			invert: func(ctx context.Context) error { return w.CreateVLAN(ctx, v) },
		})
	}
	for _, m := range diff.VLANsToModify {
		m := m
		ops = append(ops, primitiveOp{
			desc:   fmt.Sprintf("update vlan %d", m.Before.ID),
			apply:  func(ctx context.Context) error { return w.CreateVLAN(ctx, m.After) },
			invert: func(ctx context.Context) error { return w.CreateVLAN(ctx, m.Before) },
		})
	}
	for _, v := range diff.VLANsToCreate {
		v := v
		ops = append(ops, primitiveOp{
			desc:   fmt.Sprintf("create vlan %d", v.ID),
			apply:  func(ctx context.Context) error { return w.CreateVLAN(ctx, v) },
			invert: func(ctx context.Context) error { return w.DeleteVLAN(ctx, v.ID) },
		})
	}
	for _, pc := range diff.PortsToConfigure {
		pc := pc
		after := portFromChange(pc)
		ops = append(ops, primitiveOp{
			desc:  "configure port " + pc.Name,
			apply: func(ctx context.Context) error { return w.ConfigurePort(ctx, after) },
			invert: func(ctx context.Context) error {
				if pc.Before == nil {
					return nil
				}
				return w.ConfigurePort(ctx, pc.Before)
			},
		})
	}
	return ops
}

func portFromChange(pc *PortChange) *model.Port {
	p := &model.Port{Name: pc.Name, Enabled: true}
	if pc.Before != nil {
		*p = *pc.Before
	}
	if pc.Enabled != nil {
		p.Enabled = *pc.Enabled
	}
	if pc.Description != nil {
		p.Description = *pc.Description
	}
	if pc.Speed != nil {
		p.Speed = *pc.Speed
	}
	return p
}

// ExecutePrimitives applies a diff through a handler's write primitives
// instead of a command plan. Used for devices whose write surface is
// not a CLI (the Zyxel web forms). Rollback re-applies the captured
// before-states through the same primitives, in reverse order.
func (e *Executor) ExecutePrimitives(ctx context.Context, h device.Handler, w device.ConfigWriter,
	diff *Diff, opts ExecuteOptions, verify func(context.Context) error) *ExecuteResult {

	result := &ExecuteResult{DryRun: opts.DryRun}
	ops := primitiveOps(w, diff)
	if len(diff.SettingsToChange) > 0 {
		util.WithDevice(h.DeviceID()).Warnf(
			"%d settings changes have no write primitive on this transport, skipped", len(diff.SettingsToChange))
	}

	if opts.DryRun {
		result.Success = true
		for _, op := range ops {
			result.CommandsExecuted = append(result.CommandsExecuted, "[DRY-RUN] "+op.desc)
		}
		for _, change := range diff.Describe() {
			result.ChangesMade = append(result.ChangesMade, "[PREVIEW] "+change)
		}
		return result
	}

	applied := 0
	var failure error
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			failure = util.NewCommandError(util.KindCancelled, h.DeviceID(), op.desc, err.Error())
			break
		}
		result.CommandsExecuted = append(result.CommandsExecuted, op.desc)
		if err := op.apply(ctx); err != nil {
			failure = err
			break
		}
		applied++
	}

	if failure == nil && verify != nil && !opts.SkipVerify {
		failure = verify(ctx)
	}

	if failure != nil {
		result.Success = false
		result.Error = failure.Error()
		result.ErrorKind = string(util.KindOf(failure))
		if opts.RollbackOnError && applied > 0 {
			e.rollbackPrimitives(ctx, h, ops[:applied], result)
		}
		return result
	}

	if opts.SaveOnSuccess {
		if err := h.SaveConfig(ctx); err != nil {
			util.WithDevice(h.DeviceID()).Warnf("Save after apply failed: %v", err)
		}
	}
	result.Success = true
	result.ChangesMade = diff.Describe()
	return result
}

// rollbackPrimitives unwinds applied primitives in reverse order with
// recovery disabled, mirroring rollback for command plans.
func (e *Executor) rollbackPrimitives(ctx context.Context, h device.Handler, applied []primitiveOp, result *ExecuteResult) {
	util.WithDevice(h.DeviceID()).Warn("Attempting rollback after failure")

	rbCtx := ctx
	if ctx.Err() != nil {
		rbCtx = context.Background()
	}

	failed := false
	for i := len(applied) - 1; i >= 0; i-- {
		op := applied[i]
		result.CommandsExecuted = append(result.CommandsExecuted, "rollback "+op.desc)
		if err := op.invert(rbCtx); err != nil {
			result.RecoveryTrail = append(result.RecoveryTrail,
				fmt.Sprintf("rollback %s failed: %v", op.desc, err))
			failed = true
		}
	}
	if failed {
		result.ErrorKind = string(util.KindRollbackFailed)
		result.Error = result.Error + "; rollback failed"
		util.WithDevice(h.DeviceID()).Error("Rollback failed")
		return
	}
	result.RollbackPerformed = true
	result.RecoveryTrail = append(result.RecoveryTrail, "rollback completed")
	util.WithDevice(h.DeviceID()).Info("Rollback completed")
}

// rollback runs the inverse commands with the recovery loop disabled.
// A rollback failure is its own error kind, recorded alongside the
// original failure.
func (e *Executor) rollback(ctx context.Context, h device.Handler, plan *CommandPlan, result *ExecuteResult) {
	util.WithDevice(h.DeviceID()).Warn("Attempting rollback after failure")

	// Rollback proceeds on a fresh context when the original was
	// cancelled; partial writes are never silently abandoned.
	rbCtx := ctx
	if ctx.Err() != nil {
		rbCtx = context.Background()
	}

	failed := false
	for _, cmd := range plan.RollbackCommands {
		if _, err := h.Execute(rbCtx, cmd.Text); err != nil {
			// Best effort: keep unwinding, but record the failure.
			result.RecoveryTrail = append(result.RecoveryTrail,
				fmt.Sprintf("rollback %q failed: %v", cmd.Text, err))
			failed = true
		}
		result.CommandsExecuted = append(result.CommandsExecuted, cmd.Text)
	}
	if failed {
		result.ErrorKind = string(util.KindRollbackFailed)
		result.Error = result.Error + "; rollback failed"
		util.WithDevice(h.DeviceID()).Error("Rollback failed")
		return
	}
	result.RollbackPerformed = true
	result.RecoveryTrail = append(result.RecoveryTrail, "rollback completed")
	util.WithDevice(h.DeviceID()).Info("Rollback completed")
}

// planRun carries per-execution recovery state.
type planRun struct {
	handler     device.Handler
	opts        ExecuteOptions
	result      *ExecuteResult
	deferred    []Command // re-enables queued by recovery, run post
	reconnected bool
}

func (r *planRun) executeIndividually(ctx context.Context, commands []Command) error {
	for i := 0; i < len(commands); i++ {
		if err := ctx.Err(); err != nil {
			return util.NewCommandError(util.KindCancelled, r.handler.DeviceID(), commands[i].Text, err.Error())
		}
		if err := r.executeWithRecovery(ctx, commands[i]); err != nil {
			// Connection loss recovery restarts from the failed point.
			if r.shouldReconnect(err) {
				if recErr := r.reconnect(ctx); recErr == nil {
					i--
					continue
				}
			}
			return err
		}
	}
	return nil
}

// executeMain prefers the vendor's batch path and falls back to
// per-command execution with recovery when the batch trips a
// recoverable pattern.
func (r *planRun) executeMain(ctx context.Context, commands []Command) error {
	if len(commands) == 0 {
		return nil
	}

	if batcher, ok := r.handler.(device.ConfigBatchExecutor); ok {
		output, err := batcher.ExecuteConfigBatch(ctx, commandTexts(commands), r.opts.StopOnError)
		r.result.CommandsExecuted = append(r.result.CommandsExecuted, commandTexts(commands)...)
		if err == nil {
			return nil
		}
		action, pattern := r.matchRecovery(err, output)
		if action == device.ActionFatal {
			return err
		}
		r.result.RecoveryTrail = append(r.result.RecoveryTrail,
			fmt.Sprintf("batch failed on %q, replaying individually", pattern))
		util.WithDevice(r.handler.DeviceID()).Warnf("Batch hit %q, replaying command by command", pattern)
		return r.executeIndividually(ctx, commands)
	}

	err := r.executeIndividually(ctx, commands)
	return err
}

func (r *planRun) executeWithRecovery(ctx context.Context, cmd Command) error {
	attempts := 0
	for {
		output, err := r.handler.Execute(ctx, cmd.Text)
		r.result.CommandsExecuted = append(r.result.CommandsExecuted, cmd.Text)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return util.NewCommandError(util.KindCancelled, r.handler.DeviceID(), cmd.Text, ctx.Err().Error())
		}
		if attempts >= r.opts.MaxRecoveryAttempts {
			return err
		}

		action, pattern := r.matchRecovery(err, output)
		switch action {
		case device.ActionTreatAsSuccess:
			r.trail(cmd, pattern, "treated as success")
			return nil

		case device.ActionDisableDualMode:
			port := extractPort(cmd.Text)
			if port == "" {
				return err
			}
			r.trail(cmd, pattern, "disabling dual-mode on "+port)
			for _, fix := range []string{"interface ethe " + port, "no dual-mode", "exit"} {
				if _, fixErr := r.handler.Execute(ctx, fix); fixErr != nil {
					return err
				}
			}

		case device.ActionDisableSTP:
			port := extractPort(cmd.Text)
			if port == "" {
				return err
			}
			r.trail(cmd, pattern, "disabling spanning-tree on "+port)
			for _, fix := range []string{"interface ethe " + port, "no spanning-tree", "exit"} {
				if _, fixErr := r.handler.Execute(ctx, fix); fixErr != nil {
					return err
				}
			}
			r.deferred = append(r.deferred, tagged(cmd.Tag,
				"interface ethe "+port, "spanning-tree", "exit")...)

		case device.ActionReconnect:
			if recErr := r.reconnect(ctx); recErr != nil {
				return err
			}
			r.trail(cmd, pattern, "reconnected")

		default:
			return err
		}
		attempts++
	}
}

func (r *planRun) matchRecovery(err error, output string) (device.RecoveryAction, string) {
	var ce *util.CommandError
	if errors.As(err, &ce) {
		if ce.Kind == util.KindTransport {
			return device.ActionReconnect, "connection lost"
		}
		if ce.Output != "" {
			output = ce.Output
		}
	}
	haystack := strings.ToLower(output + " " + err.Error())
	for _, p := range r.handler.RecoveryPatterns() {
		if strings.Contains(haystack, strings.ToLower(p.Match)) {
			return p.Action, p.Match
		}
	}
	return device.ActionFatal, ""
}

// shouldReconnect reports whether an unrecovered per-command error was a
// transport loss eligible for the single reconnect-and-resume pass.
func (r *planRun) shouldReconnect(err error) bool {
	return !r.reconnected && errors.Is(err, util.ErrTransport)
}

// reconnect re-establishes the session at most once per run.
func (r *planRun) reconnect(ctx context.Context) error {
	if r.reconnected {
		return fmt.Errorf("already reconnected once")
	}
	rec, ok := r.handler.(Reconnector)
	if !ok {
		return fmt.Errorf("handler cannot reconnect")
	}
	r.reconnected = true
	if err := rec.Reconnect(ctx); err != nil {
		return err
	}
	r.result.RecoveryTrail = append(r.result.RecoveryTrail, "session reconnected")
	return nil
}

func (r *planRun) trail(cmd Command, pattern, action string) {
	entry := fmt.Sprintf("%s: matched %q, %s", cmd.Text, pattern, action)
	r.result.RecoveryTrail = append(r.result.RecoveryTrail, entry)
	util.WithDevice(r.handler.DeviceID()).Warnf("Recovery: %s", entry)
}

// extractPort pulls the port identifier out of a command for targeted
// recovery commands.
func extractPort(command string) string {
	m := portInCommandRE.FindString(command)
	return m
}
