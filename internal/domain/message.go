package domain

import (
	"encoding/json"
	"fmt"
)

// Action is the dispatch-channel message kind.
type Action int

const (
	// ActionAudit asks the audit pipeline to screen a candidate.
	ActionAudit Action = iota
	// ActionTrade asks the trading layer to buy a candidate that passed screening.
	ActionTrade
)

const (
	actionStringAudit = "audit"
	actionStringTrade = "trade"
)

// String returns the wire name of the action.
func (a Action) String() string {
	switch a {
	case ActionAudit:
		return actionStringAudit
	case ActionTrade:
		return actionStringTrade
	default:
		return "unknown"
	}
}

// ParseAction converts a wire name back into an Action.
func ParseAction(s string) (Action, error) {
	switch s {
	case actionStringAudit:
		return ActionAudit, nil
	case actionStringTrade:
		return ActionTrade, nil
	}
	return 0, fmt.Errorf("unknown action: %q", s)
}

// Message is the sole contract between listeners, the audit pipeline and the
// trading engines. The JSON form is the {action, data} envelope.
type Message struct {
	Action    Action
	Candidate CandidatePair
}

type messageEnvelope struct {
	Action string        `json:"action"`
	Data   CandidatePair `json:"data"`
}

// MarshalJSON encodes the message as the {action, data} envelope.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageEnvelope{Action: m.Action.String(), Data: m.Candidate})
}

// UnmarshalJSON decodes the {action, data} envelope.
func (m *Message) UnmarshalJSON(b []byte) error {
	var env messageEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	action, err := ParseAction(env.Action)
	if err != nil {
		return err
	}
	m.Action = action
	m.Candidate = env.Data
	return nil
}
