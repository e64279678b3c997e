// ABOUTME: Tagged-variant message types for the session WebSocket protocol
// ABOUTME: Decodes and validates inbound frames, encodes outbound frames

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/intake-gateway/internal/session"
)

// Message type discriminators carried in the "type" field.
const (
	TypeRegisterUser  = "register-user"
	TypeRegisterAdmin = "register-admin"
	TypeSendScore     = "send-score"
	TypeAllSessions   = "all-sessions"
	TypeScore         = "score"
)

var (
	// ErrMalformed is returned for payloads that are not a JSON object or
	// lack a required field.
	ErrMalformed = errors.New("malformed message")

	// ErrUnknownType is returned for a well-formed frame with an unrecognized type.
	ErrUnknownType = errors.New("unknown message type")
)

// Inbound is a message sent by a client or observer connection.
type Inbound interface {
	inbound()
}

// RegisterUser binds the sending connection to a session.
type RegisterUser struct {
	SessionID string
}

// RegisterAdmin marks the sending connection as an observer.
type RegisterAdmin struct{}

// SendScore carries an operator's score for a session. Score holds the raw
// JSON scalar (number or string) exactly as submitted.
type SendScore struct {
	SessionID string
	Score     json.RawMessage
}

func (RegisterUser) inbound()  {}
func (RegisterAdmin) inbound() {}
func (SendScore) inbound()     {}

// Outbound is a message sent by the server.
type Outbound interface {
	outbound()
}

// AllSessions is the full snapshot pushed to observers.
type AllSessions struct {
	Sessions []session.Session
}

// ScoreNotice tells a client the score its session received.
type ScoreNotice struct {
	Score json.RawMessage
}

func (AllSessions) outbound() {}
func (ScoreNotice) outbound() {}

// frame is the union of every field used on the wire.
type frame struct {
	Type      string            `json:"type"`
	SessionID *string           `json:"sessionId,omitempty"`
	Score     json.RawMessage   `json:"score,omitempty"`
	Sessions  []session.Session `json:"sessions,omitempty"`
}

// Decode parses an inbound frame. Errors wrap ErrMalformed or ErrUnknownType.
func Decode(data []byte) (Inbound, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch f.Type {
	case TypeRegisterAdmin:
		return RegisterAdmin{}, nil

	case TypeRegisterUser:
		id, err := requireSessionID(f.SessionID)
		if err != nil {
			return nil, err
		}
		return RegisterUser{SessionID: id}, nil

	case TypeSendScore:
		id, err := requireSessionID(f.SessionID)
		if err != nil {
			return nil, err
		}
		score, err := ValidateScore(f.Score)
		if err != nil {
			return nil, err
		}
		return SendScore{SessionID: id, Score: score}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
}

// ValidateScore accepts a JSON number or a non-blank JSON string.
func ValidateScore(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: score is required", ErrMalformed)
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: score: %v", ErrMalformed, err)
	}

	switch s := v.(type) {
	case float64:
	case string:
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("%w: score is blank", ErrMalformed)
		}
	default:
		return nil, fmt.Errorf("%w: score must be a number or string", ErrMalformed)
	}

	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out, nil
}

func requireSessionID(p *string) (string, error) {
	if p == nil || *p == "" {
		return "", fmt.Errorf("%w: sessionId is required", ErrMalformed)
	}
	return *p, nil
}

// EncodeAllSessions serializes an observer snapshot. A nil slice is sent as [].
func EncodeAllSessions(sessions []session.Session) ([]byte, error) {
	if sessions == nil {
		sessions = []session.Session{}
	}
	return json.Marshal(struct {
		Type     string            `json:"type"`
		Sessions []session.Session `json:"sessions"`
	}{TypeAllSessions, sessions})
}

// EncodeScore serializes the score notification sent to a client.
func EncodeScore(score json.RawMessage) ([]byte, error) {
	return json.Marshal(struct {
		Type  string          `json:"type"`
		Score json.RawMessage `json:"score"`
	}{TypeScore, score})
}

// EncodeRegisterAdmin builds the observer registration frame.
func EncodeRegisterAdmin() []byte {
	return []byte(`{"type":"register-admin"}`)
}

// EncodeRegisterUser builds the client registration frame.
func EncodeRegisterUser(sessionID string) ([]byte, error) {
	return json.Marshal(frame{Type: TypeRegisterUser, SessionID: &sessionID})
}

// EncodeSendScore builds a score submission frame.
func EncodeSendScore(sessionID string, score json.RawMessage) ([]byte, error) {
	score, err := ValidateScore(score)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{Type: TypeSendScore, SessionID: &sessionID, Score: score})
}

// DecodeOutbound parses a server frame on the client side.
func DecodeOutbound(data []byte) (Outbound, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch f.Type {
	case TypeAllSessions:
		if f.Sessions == nil {
			f.Sessions = []session.Session{}
		}
		return AllSessions{Sessions: f.Sessions}, nil
	case TypeScore:
		return ScoreNotice{Score: f.Score}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
}
