// Package supervisor implements the Lifecycle Supervisor (spec §4.7,
// C7): the sole owner of EngineState, the command dispatcher, and the
// coordinator of shutdown drain. Grounded on the teacher's
// internal/bootstrap App.Run errgroup pattern, generalized from a fixed
// runner list to the engine state machine spec §4.7 requires.
package supervisor

import (
	"context"
	"sync"
	"time"

	"market_maker/internal/bus"
	"market_maker/internal/logging"
	"market_maker/internal/model"
)

const stopDrainTimeout = 30 * time.Second

// DrawdownResetter is implemented by the risk manager.
type DrawdownResetter interface {
	ResetDrawdown()
	Halted() bool
}

// ClosingOrderEmitter instructs the risk manager to emit unconditional
// closing orders for every open position at market, used during the
// Stopping phase (spec §4.7). It returns the positions still open once
// the bounded drain window has elapsed.
type ClosingOrderEmitter interface {
	EmitClosingOrders(ctx context.Context) []model.Position
}

// Supervisor owns the EngineState machine (spec §4.7 transition table)
// and is the only component that ever mutates it.
type Supervisor struct {
	logger   logging.Logger
	events   *bus.EventBus
	risk     DrawdownResetter
	closer   ClosingOrderEmitter

	mu    sync.Mutex
	state model.EngineState

	commands chan commandRequest
}

type commandRequest struct {
	cmd    model.Command
	result chan model.CommandResult
}

// New creates a Supervisor in the initial Stopped state.
func New(events *bus.EventBus, risk DrawdownResetter, closer ClosingOrderEmitter, logger logging.Logger) *Supervisor {
	return &Supervisor{
		logger: logger, events: events, risk: risk, closer: closer,
		state: model.Stopped, commands: make(chan commandRequest),
	}
}

// SetRiskCollaborators wires the risk manager in after construction,
// breaking the natural construction cycle: the risk manager's own
// constructor needs the supervisor as its StateSource.
func (s *Supervisor) SetRiskCollaborators(risk DrawdownResetter, closer ClosingOrderEmitter) {
	s.risk = risk
	s.closer = closer
}

// Current returns the current EngineState. Satisfies risk.StateSource.
func (s *Supervisor) Current() model.EngineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch sends a command and blocks for its result — the command
// channel is single-consumer, bounded, and back-pressured per spec §5.
func (s *Supervisor) Dispatch(ctx context.Context, cmd model.Command) model.CommandResult {
	result := make(chan model.CommandResult, 1)
	select {
	case s.commands <- commandRequest{cmd: cmd, result: result}:
	case <-ctx.Done():
		return model.CommandResult{Accepted: false, Denial: ctx.Err().Error()}
	}
	select {
	case r := <-result:
		return r
	case <-ctx.Done():
		return model.CommandResult{Accepted: false, Denial: ctx.Err().Error()}
	}
}

// Run processes commands until ctx is cancelled, honoring the spec
// §4.7 transition table. Every externally initiated command is honored
// at the next cooperative yield point (spec §5).
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-s.commands:
			req.result <- s.handle(ctx, req.cmd)
		}
	}
}

func (s *Supervisor) handle(ctx context.Context, cmd model.Command) model.CommandResult {
	s.mu.Lock()
	from := s.state
	s.mu.Unlock()

	switch cmd {
	case model.CmdStart:
		if from != model.Stopped {
			return model.CommandResult{Accepted: false, Denial: "already " + from.String()}
		}
		s.transition(from, model.Running)
		return model.CommandResult{Accepted: true}

	case model.CmdStop:
		if from == model.Stopped {
			return model.CommandResult{Accepted: false, Denial: "already Stopped"}
		}
		s.stopWithDrain(ctx, from)
		return model.CommandResult{Accepted: true}

	case model.CmdPause:
		if from != model.Running {
			return model.CommandResult{Accepted: false, Denial: "can only pause while Running"}
		}
		s.transition(from, model.Paused)
		return model.CommandResult{Accepted: true}

	case model.CmdResume:
		if from != model.Paused {
			return model.CommandResult{Accepted: false, Denial: "can only resume while Paused"}
		}
		s.transition(from, model.Running)
		return model.CommandResult{Accepted: true}

	case model.CmdResetDrawdown:
		if from != model.Halted && !s.risk.Halted() {
			return model.CommandResult{Accepted: false, Denial: "not halted"}
		}
		s.risk.ResetDrawdown()
		if from == model.Halted {
			s.transition(from, model.Running)
		}
		return model.CommandResult{Accepted: true}

	default:
		return model.CommandResult{Accepted: false, Denial: "unknown command"}
	}
}

// stopWithDrain instructs the risk manager to emit closing orders for
// every open position, waits up to the bounded drain window for the
// executor to settle them, then transitions to Stopped regardless
// (spec §4.7).
func (s *Supervisor) stopWithDrain(ctx context.Context, from model.EngineState) {
	s.setState(model.Stopping())

	drainCtx, cancel := context.WithTimeout(ctx, stopDrainTimeout)
	defer cancel()

	var orphans []model.Position
	if s.closer != nil {
		orphans = s.closer.EmitClosingOrders(drainCtx)
	}
	if len(orphans) > 0 {
		s.logger.Warn("StopTimeoutOrphans: positions remain open past the drain window", "count", len(orphans))
		if s.events != nil {
			s.events.Publish(model.Event{Time: time.Now(), StopTimeoutOrphans: &model.StopTimeoutOrphansEvent{Positions: orphans}})
		}
	}

	s.setState(model.Stopped)
	s.logger.Info("supervisor: stopped", "from", from.String())
}

func (s *Supervisor) transition(from, to model.EngineState) {
	s.setState(to)
	s.logger.Info("supervisor: state transition", "from", from.String(), "to", to.String())
}

func (s *Supervisor) setState(to model.EngineState) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	if s.events != nil {
		s.events.Publish(model.Event{Time: time.Now(), StateChanged: &model.StateChangedEvent{From: from, To: to}})
	}
}

// Halt forces the supervisor into Halted, used by the ledger's
// PersistenceDivergence path (spec §4.3, §7: consistency errors are
// fatal and halt new orders until operator intervention).
func (s *Supervisor) Halt(reason string) {
	s.mu.Lock()
	from := s.state
	s.mu.Unlock()
	if from == model.Halted {
		return
	}
	s.setState(model.Halted)
	s.logger.Error("supervisor: halted", "reason", reason)
}
