package chat

import (
	"context"
	"log/slog"

	"github.com/qmuntal/stateless"
)

// RunState is the lifecycle state of one generation run.
type RunState string

const (
	StateIdle      RunState = "idle"
	StateStreaming RunState = "streaming"
	StateCompleted RunState = "completed"
	StateAborted   RunState = "aborted"
	StateFailed    RunState = "failed"
)

type runTrigger string

const (
	triggerOpen   runTrigger = "open"
	triggerDelta  runTrigger = "delta"
	triggerFinish runTrigger = "finish"
	triggerAbort  runTrigger = "abort"
	triggerFail   runTrigger = "fail"
)

// run tracks a generation run. Completed, aborted and failed are terminal;
// an aborted run leaves its partial generated entry in place.
type run struct {
	fsm    *stateless.StateMachine
	logger *slog.Logger
}

func newRun(logger *slog.Logger) *run {
	fsm := stateless.NewStateMachine(StateIdle)

	fsm.Configure(StateIdle).
		Permit(triggerOpen, StateStreaming).
		Permit(triggerFail, StateFailed)

	fsm.Configure(StateStreaming).
		PermitReentry(triggerDelta).
		Permit(triggerFinish, StateCompleted).
		Permit(triggerAbort, StateAborted).
		Permit(triggerFail, StateFailed)

	r := &run{fsm: fsm, logger: logger}
	fsm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		if t.Trigger == triggerDelta {
			return
		}
		logger.Debug("generation run transition", "from", t.Source, "to", t.Destination, "trigger", t.Trigger)
	})
	return r
}

func (r *run) fire(t runTrigger) {
	if err := r.fsm.Fire(t); err != nil {
		r.logger.Warn("invalid generation run transition", "state", r.state(), "trigger", string(t), "error", err)
	}
}

func (r *run) state() RunState {
	return r.fsm.MustState().(RunState)
}
