// Package trading implements the day-cycle execution engine: the scheduler
// that walks one cycle through its states, and the monitor that manages the
// open position until exit.
package trading

import (
	"fmt"
	"time"

	"nine15-trader/internal/models"
)

// CycleState is the state of a day cycle. One cycle runs per trading day and
// moves strictly forward; there are no backward transitions.
type CycleState string

const (
	StateIdle       CycleState = "IDLE"
	StateScanning   CycleState = "SCANNING"
	StatePreparing  CycleState = "PREPARING"
	StateReady      CycleState = "READY"
	StateExecuting  CycleState = "EXECUTING"
	StateMonitoring CycleState = "MONITORING"
	StateClosed     CycleState = "CLOSED"
	StateError      CycleState = "ERROR"
)

// validTransitions enumerates the forward edges of the cycle state machine.
// Every non-terminal state may also move to CLOSED (skip) or ERROR.
var validTransitions = map[CycleState][]CycleState{
	StateIdle:       {StateScanning},
	StateScanning:   {StatePreparing},
	StatePreparing:  {StateReady},
	StateReady:      {StateExecuting},
	StateExecuting:  {StateMonitoring},
	StateMonitoring: {StateClosed},
	StateClosed:     {},
	StateError:      {},
}

// Terminal reports whether the state ends the cycle.
func (s CycleState) Terminal() bool {
	return s == StateClosed || s == StateError
}

// canTransition reports whether from -> to is a legal move.
func canTransition(from, to CycleState) bool {
	if from.Terminal() {
		return false
	}
	if to == StateClosed || to == StateError {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Cycle tracks the progress and collected artifacts of one trading day.
type Cycle struct {
	ID    string
	Date  string // YYYY-MM-DD in exchange time
	State CycleState

	Signal   *models.TradeSignal
	Intent   *models.OrderIntent
	Order    *models.Order
	Position *models.Position
	Trade    *models.Trade

	Skipped     bool
	SkipReasons []string
	Err         error

	EntryJitter time.Duration
	StartedAt   time.Time
	FinishedAt  time.Time
}

// NewCycle starts a cycle in the idle state for the given exchange-time day.
func NewCycle(day time.Time) *Cycle {
	date := day.Format("2006-01-02")
	return &Cycle{
		ID:        "cycle-" + date,
		Date:      date,
		State:     StateIdle,
		StartedAt: day,
	}
}

// Transition moves the cycle to the next state, rejecting illegal moves.
func (c *Cycle) Transition(to CycleState) error {
	if !canTransition(c.State, to) {
		return fmt.Errorf("invalid cycle transition %s -> %s", c.State, to)
	}
	c.State = to
	return nil
}

// Skip closes the cycle without trading, recording why.
func (c *Cycle) Skip(at time.Time, reasons ...string) {
	c.Skipped = true
	c.SkipReasons = append(c.SkipReasons, reasons...)
	c.State = StateClosed
	c.FinishedAt = at
}

// Fail closes the cycle in the error state.
func (c *Cycle) Fail(at time.Time, err error) {
	c.Err = err
	c.State = StateError
	c.FinishedAt = at
}
