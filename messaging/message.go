// Package messaging carries typed messages between the host and the windows it
// opens (login popups, silent logout frames, confirmation screens).
package messaging

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// MessageType is the closed set of message kinds exchanged with passport windows.
type MessageType string

const (
	ConfirmationWindowReady MessageType = "confirmation_window_ready"
	ConfirmationStart       MessageType = "confirmation_start"
	TransactionStart        MessageType = "transaction_start"
	TransactionConfirmed    MessageType = "transaction_confirmed"
	TransactionRejected     MessageType = "transaction_rejected"
	TransactionError        MessageType = "transaction_error"
	MessageConfirmed        MessageType = "message_confirmed"
	MessageRejected         MessageType = "message_rejected"
	LoginComplete           MessageType = "login_complete"
	LogoutSilentComplete    MessageType = "logout_silent_complete"
)

var knownTypes = map[MessageType]struct{}{
	ConfirmationWindowReady: {},
	ConfirmationStart:       {},
	TransactionStart:        {},
	TransactionConfirmed:    {},
	TransactionRejected:     {},
	TransactionError:        {},
	MessageConfirmed:        {},
	MessageRejected:         {},
	LoginComplete:           {},
	LogoutSilentComplete:    {},
}

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// Message is the wire format: {"type": ..., "data": ...}.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage encodes data as the payload of a message of type t.
func NewMessage(t MessageType, data any) (Message, error) {
	msg := Message{Type: t}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	msg.Data = raw
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Event is a message as received, before it is trusted.
type Event struct {
	Origin string
	Data   []byte
}

// Origin returns the scheme://host[:port] of rawURL in lower case.
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%q has no origin", rawURL)
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), nil
}
