package flow

import (
	"slices"

	"github.com/BTreeMap/AlienChat/internal/models"
)

// State is the engine's flow state: either Idle or InFlow.
type State interface {
	isState()
}

// Idle means free text is sent to the completion endpoint as-is.
type Idle struct{}

// InFlow means free text answers the pending question of a guided flow.
// Step counts questions asked so far; Answers holds one entry per answered question,
// so len(Answers) == Step-1 while waiting for input.
type InFlow struct {
	Type    models.FlowType `json:"type"`
	Step    int             `json:"step"`
	Answers []string        `json:"answers"`
}

func (Idle) isState()   {}
func (InFlow) isState() {}

// Snapshot is a serializable view of the engine state.
type Snapshot struct {
	Mode    string          `json:"mode"`
	Type    models.FlowType `json:"type,omitempty"`
	Step    int             `json:"step,omitempty"`
	Total   int             `json:"total,omitempty"`
	Answers []string        `json:"answers,omitempty"`
	Loading bool            `json:"loading"`
}

func cloneState(s State) State {
	if f, ok := s.(InFlow); ok {
		f.Answers = slices.Clone(f.Answers)
		return f
	}
	return Idle{}
}
