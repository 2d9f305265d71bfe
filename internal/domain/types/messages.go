package types

import (
	"encoding/json"
	"fmt"
)

// Envelope is the unit of wire communication. Header fields stay in
// plaintext so the relay can route without knowing the body.
//
// An empty Sender or To is encoded as JSON null.
type Envelope struct {
	Type    MessageType
	Sender  Username
	To      Username
	TS      string
	Payload json.RawMessage
}

type wireEnvelope struct {
	Type    MessageType     `json:"type"`
	Sender  *Username       `json:"sender"`
	To      *Username       `json:"to"`
	TS      string          `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

func optional(u Username) *Username {
	if u == "" {
		return nil
	}
	return &u
}

// MarshalJSON encodes empty header names as null.
func (e Envelope) MarshalJSON() ([]byte, error) {
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return json.Marshal(wireEnvelope{
		Type:    e.Type,
		Sender:  optional(e.Sender),
		To:      optional(e.To),
		TS:      e.TS,
		Payload: payload,
	})
}

// UnmarshalJSON mirrors MarshalJSON.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Envelope{Type: w.Type, TS: w.TS, Payload: w.Payload}
	if w.Sender != nil {
		e.Sender = *w.Sender
	}
	if w.To != nil {
		e.To = *w.To
	}
	return nil
}

// NewEnvelope builds an envelope stamped with the current time.
func NewEnvelope(t MessageType, sender, to Username, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Envelope{Type: t, Sender: sender, To: to, TS: Now(), Payload: raw}, nil
}

// DecodePayload unmarshals the plaintext payload into v.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s envelope: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s envelope: %w", e.Type, err)
	}
	return nil
}

// Message is an envelope as handed to a client consumer. For encrypted
// types Body holds the decrypted body; for the rest it is empty and the
// plaintext is read with DecodePayload.
type Message struct {
	Envelope
	Body json.RawMessage
}

// Decode unmarshals Body into v.
func (m Message) Decode(v any) error {
	if len(m.Body) == 0 {
		return fmt.Errorf("%s message: empty body", m.Type)
	}
	return json.Unmarshal(m.Body, v)
}
