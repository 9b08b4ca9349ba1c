package trainer

import (
	"fmt"

	"github.com/google/uuid"

	"imgtrain/domain"
	"imgtrain/session"
)

// State of a training run.
type State int

const (
	Idle State = iota
	Running
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TrainingContext carries everything one training invocation mutates. The
// caller owns it; Run advances it and leaves it in Completed or Failed.
type TrainingContext struct {
	RunID   string
	Session session.Session
	State   State

	// Epoch and Step locate the last sample that was fully stepped (1-based
	// epoch, 0-based step). Both stay zero until the first sample completes.
	Epoch int
	Step  int

	Results []domain.EpochResult
	Err     error
}

// NewContext wraps s in an Idle context with a fresh run id.
func NewContext(s session.Session) *TrainingContext {
	return &TrainingContext{RunID: uuid.NewString(), Session: s, State: Idle}
}
