package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeCandidateTurn      MessageType = "candidate_turn"
	TypeClientControl      MessageType = "client_control"
	TypeInterviewerDelta   MessageType = "interviewer_delta"
	TypeInterviewerTurnEnd MessageType = "interviewer_turn_end"
	TypeSessionEnded       MessageType = "session_ended"
	TypeErrorEvent         MessageType = "error_event"
)

// Control actions accepted from the client.
const (
	ActionEnd  = "end"
	ActionPing = "ping"
)

var ErrUnsupportedType = errors.New("unsupported message type")

// MaxCandidateTurnRunes bounds a single candidate message.
const MaxCandidateTurnRunes = 8000

type Envelope struct {
	Type MessageType `json:"type"`
}

type CandidateTurn struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

type InterviewerDelta struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Seq       int         `json:"seq"`
	TextDelta string      `json:"text_delta"`
}

type InterviewerTurnEnd struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	TurnCount int         `json:"turn_count"`
	// Reason is completed, degraded or disconnected.
	Reason string `json:"reason"`
}

type SessionEnded struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Report    any         `json:"report"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeCandidateTurn:
		var msg CandidateTurn
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if len([]rune(msg.Text)) > MaxCandidateTurnRunes {
			return nil, errors.New("candidate_turn text too long")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.ToLower(strings.TrimSpace(msg.Action))
		if msg.Action != ActionEnd && msg.Action != ActionPing {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
