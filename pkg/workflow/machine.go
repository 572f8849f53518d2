package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"echoflow/pkg/eventlog"
	"echoflow/pkg/logx"
	"echoflow/pkg/metrics"
)

// StageTransition records one transition between stages.
type StageTransition struct {
	From      Stage
	To        Stage
	Timestamp time.Time
}

// Machine is the authoritative model of where a run is in the flow. It owns
// the current stage and validates every transition against the table.
type Machine struct {
	sessionID   string
	current     Stage
	transitions []StageTransition
	mu          sync.Mutex
	logger      *logx.Logger
	rec         metrics.Recorder
	events      *eventlog.Writer // optional audit sink
}

// NewMachine creates a stage machine starting at the Chat stage.
func NewMachine(sessionID string, rec metrics.Recorder, events *eventlog.Writer) *Machine {
	if rec == nil {
		rec = metrics.NopRecorder{}
	}
	return &Machine{
		sessionID: sessionID,
		current:   StageChat,
		logger:    logx.NewLogger("workflow"),
		rec:       rec,
		events:    events,
	}
}

// Current returns the current stage.
func (m *Machine) Current() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// TransitionTo moves to a new stage after validating against the table.
// An invalid transition leaves the stage unchanged.
func (m *Machine) TransitionTo(ctx context.Context, newStage Stage) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("stage transition cancelled: %w", ctx.Err())
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	oldStage := m.current
	if !IsValidTransition(oldStage, newStage) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, oldStage, newStage)
	}

	m.transitions = append(m.transitions, StageTransition{
		From:      oldStage,
		To:        newStage,
		Timestamp: time.Now().UTC(),
	})
	m.current = newStage

	m.logger.Info("Stage transition: %s -> %s", oldStage, newStage)
	m.rec.IncStageTransition(m.sessionID, oldStage.String(), newStage.String())
	m.audit(oldStage, newStage)

	return nil
}

// Transitions returns the transition history.
func (m *Machine) Transitions() []StageTransition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StageTransition{}, m.transitions...)
}

func (m *Machine) audit(from, to Stage) {
	if m.events == nil {
		return
	}
	detail := fmt.Sprintf("%s -> %s", from, to)
	if err := m.events.Append(m.sessionID, eventlog.KindStageTransition, to.String(), detail); err != nil {
		m.logger.Warn("Failed to record stage transition: %v", err)
	}
}
