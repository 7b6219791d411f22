package models

import dErrors "custodia/pkg/domain-errors"

// Status is the batch lifecycle state.
//
// Transitions:
//
//	Active    -> Flagged               (out-of-range reading)
//	Flagged   -> Overridden            (regulator override)
//	Overridden-> Flagged               (new out-of-range reading)
//	Active | Flagged | Overridden -> CounterfeitConfirmed (regulator, terminal)
//
// CounterfeitConfirmed is absorbing: nothing transitions out of it.
type Status string

const (
	StatusActive               Status = "active"
	StatusFlagged              Status = "flagged"
	StatusOverridden           Status = "overridden"
	StatusCounterfeitConfirmed Status = "counterfeit_confirmed"
)

var validStatuses = map[Status]bool{
	StatusActive:               true,
	StatusFlagged:              true,
	StatusOverridden:           true,
	StatusCounterfeitConfirmed: true,
}

// ParseStatus constructs a Status from stored or external input.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !validStatuses[st] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid batch status")
	}
	return st, nil
}

func (s Status) String() string { return string(s) }

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool { return s == StatusCounterfeitConfirmed }

// Transferable reports whether custody may change in this status.
// Flagged batches are transfer-blocked until a regulator overrides.
func (s Status) Transferable() bool {
	return s == StatusActive || s == StatusOverridden
}

// CanTransitionTo reports whether the state machine permits the move.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case StatusFlagged:
		return s == StatusActive || s == StatusOverridden || s == StatusFlagged
	case StatusOverridden:
		return s == StatusFlagged
	case StatusCounterfeitConfirmed:
		return true // any non-terminal state
	default:
		return false
	}
}
