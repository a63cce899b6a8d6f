package manager

import (
	"github.com/YuminosukeSato/valuation/pkg/errors"
	"github.com/YuminosukeSato/valuation/pkg/log"
)

// State is the lifecycle position of a candidate.
type State int

const (
	Pending State = iota
	Training
	Evaluated
	Ranked
	Failed
)

var stateNames = [...]string{"pending", "training", "evaluated", "ranked", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == Ranked || s == Failed
}

// transitions lists the legal targets of each state. Evaluated may still
// fail when its cross-validation does.
var transitions = map[State][]State{
	Pending:   {Training},
	Training:  {Evaluated, Failed},
	Evaluated: {Ranked, Failed},
}

// CanTransition reports whether from → to is legal.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (c *Candidate) transition(to State) error {
	if !CanTransition(c.State, to) {
		return errors.NewValidationError("state",
			"illegal transition "+c.State.String()+" -> "+to.String(), c.Name)
	}
	c.State = to
	return nil
}

// advance moves cand to the next state and logs a refused transition. The
// candidate keeps its state in that case.
func (m *Manager) advance(cand *Candidate, to State) bool {
	if err := cand.transition(to); err != nil {
		m.logger.Error("candidate state not advanced", err,
			log.ModelNameKey, cand.Name,
			log.ErrorCodeKey, log.ErrorIllegalTransition,
		)
		return false
	}
	return true
}
