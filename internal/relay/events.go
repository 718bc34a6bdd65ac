// Package relay is the real-time channel between the single card-reader
// bridge process and any number of web clients. Delivery is fan-out,
// at-most-once, with no replay: only the latest reader status is cached for
// late joiners, never historical card events.
package relay

import (
	"encoding/json"
	"time"

	"campuscard/internal/card"
)

// EventType tags one envelope on the wire.
type EventType string

const (
	// Bridge -> clients.
	EventReaderStatus EventType = "reader-status"
	EventCardPresent  EventType = "card-present"
	EventCardRemoved  EventType = "card-removed"
	EventWriteResult  EventType = "write-result"

	// Clients -> bridge.
	EventRequestWrite EventType = "request-write"
	EventGetStatus    EventType = "get-status"

	// Server -> clients, emitted by the attendance and payment consumers.
	EventAttendanceUpdate EventType = "attendance-update"
	EventPaymentUpdate    EventType = "payment-update"
)

// Envelope is the JSON frame exchanged over the websocket.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(t EventType, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Payload: raw}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// ReaderState is the connection state of the physical reader.
type ReaderState string

const (
	ReaderConnected    ReaderState = "connected"
	ReaderDisconnected ReaderState = "disconnected"
	ReaderError        ReaderState = "error"
)

// ReaderStatus is transient per-reader state, overwritten on every change.
type ReaderStatus struct {
	State     ReaderState `json:"state"`
	Reader    string      `json:"reader,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Error     string      `json:"error,omitempty"`
}

// CardEvent reports a card entering or leaving the reader field. Payload is
// the decoded badge identifier, nil when the sector could not be read.
type CardEvent struct {
	UID       string    `json:"uid"`
	Reader    string    `json:"reader"`
	Timestamp time.Time `json:"timestamp"`
	Payload   *string   `json:"payload,omitempty"`
}

// WriteResult carries a provisioning outcome back to the requesting UI.
type WriteResult struct {
	UID    string               `json:"uid"`
	Result card.ProvisionResult `json:"result"`
}
