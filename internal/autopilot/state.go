// Package autopilot drives the automated lead conversation: a small node
// state machine with a rules strategy and an AI planning strategy that
// degrades deterministically to the rules behavior.
package autopilot

import "encoding/json"

// Conversation nodes. NodeHandover is absorbing.
const (
	NodeStart    = "q1"
	NodePricing  = "q_pricing"
	NodeBooking  = "q_booking"
	NodeOther    = "q_other"
	NodeHandover = "handover"
)

// State is the per-run conversation state persisted as a JSON blob.
type State struct {
	Node          string            `json:"node"`
	Answers       map[string]string `json:"answers"`
	QuestionIndex int               `json:"questionIndex"`
}

// InitialState is the state every run starts in.
func InitialState() State {
	return State{Node: NodeStart, Answers: map[string]string{}, QuestionIndex: 0}
}

// ParseState decodes a stored state blob, defaulting every malformed or
// missing field instead of trusting the stored shape.
func ParseState(raw []byte) State {
	state := InitialState()
	if len(raw) == 0 {
		return state
	}

	var decoded struct {
		Node          *string           `json:"node"`
		Answers       map[string]string `json:"answers"`
		QuestionIndex *int              `json:"questionIndex"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return state
	}
	if decoded.Node != nil && *decoded.Node != "" {
		state.Node = *decoded.Node
	}
	if decoded.Answers != nil {
		state.Answers = decoded.Answers
	}
	if decoded.QuestionIndex != nil && *decoded.QuestionIndex >= 0 {
		state.QuestionIndex = *decoded.QuestionIndex
	}
	return state
}

// Marshal encodes the state for storage. Answers is never nil in a state
// built through InitialState/ParseState, so marshaling cannot fail.
func (s State) Marshal() []byte {
	if s.Answers == nil {
		s.Answers = map[string]string{}
	}
	raw, _ := json.Marshal(s)
	return raw
}

// MergeAnswers folds an update into the state's answers, new keys override.
func (s *State) MergeAnswers(update map[string]string) {
	if s.Answers == nil {
		s.Answers = map[string]string{}
	}
	for k, v := range update {
		s.Answers[k] = v
	}
}
