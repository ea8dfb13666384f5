package realtime

import (
	"encoding/json"
	"time"
)

// Message is one outbound payload: either plain text or a value sent as JSON.
type Message struct {
	text   string
	value  any
	isJSON bool

	// encoded caches the frame body once the registry has encoded it for a fan-out.
	encoded []byte
}

func Text(s string) Message { return Message{text: s} }

func JSON(v any) Message { return Message{value: v, isJSON: true} }

func (m Message) IsJSON() bool { return m.isJSON }

// Encode returns the frame body.
func (m Message) Encode() ([]byte, error) {
	if m.encoded != nil {
		return m.encoded, nil
	}
	if !m.isJSON {
		return []byte(m.text), nil
	}
	return json.Marshal(m.value)
}

// prepared returns m with its body encoded, so every target of a fan-out shares one
// encoding and an unencodable value fails before any socket is touched.
func (m Message) prepared() (Message, error) {
	b, err := m.Encode()
	if err != nil {
		return Message{}, err
	}
	m.encoded = b
	return m, nil
}

const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// PresenceEvent is broadcast when a user's first socket is admitted or last socket closes.
type PresenceEvent struct {
	Type   string    `json:"type"`
	UserID string    `json:"user_id"`
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

func presence(userID, status string, at time.Time) Message {
	return JSON(PresenceEvent{Type: "presence", UserID: userID, Status: status, At: at.UTC()})
}
