package model

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// Payload is the decrypted content of an envelope. Its concrete type is
// chosen from the envelope's Kind, never by inspecting the bytes.
type Payload interface {
	Kind() Kind
	Bytes() []byte
	Preview() string
}

type (
	TextPayload  string
	ImagePayload []byte
)

func (p TextPayload) Kind() Kind      { return KindText }
func (p TextPayload) Bytes() []byte   { return []byte(p) }
func (p TextPayload) Preview() string { return string(p) }

func (p ImagePayload) Kind() Kind      { return KindImage }
func (p ImagePayload) Bytes() []byte   { return []byte(p) }
func (p ImagePayload) Preview() string { return "New photo received" }

func DecodePayload(kind Kind, b []byte) (Payload, error) {
	switch kind {
	case KindText:
		if !utf8.Valid(b) {
			return nil, fmt.Errorf("text payload is not valid UTF-8")
		}
		return TextPayload(b), nil
	case KindImage:
		return ImagePayload(b), nil
	default:
		return nil, fmt.Errorf("unknown message type %q", kind)
	}
}

type (
	DecryptedMessage struct {
		// ID is unique per envelope: the sender plus the envelope's nonce.
		ID        string
		PeerID    string
		Payload   Payload
		CreatedAt time.Time
		// Seq is the local arrival order, used to break CreatedAt ties.
		Seq      uint64
		Unread   bool
		Outgoing bool
	}

	decryptedMessageJSON struct {
		ID        string    `json:"id"`
		PeerID    string    `json:"peerId"`
		Kind      Kind      `json:"type"`
		Body      []byte    `json:"body"`
		CreatedAt time.Time `json:"createdAt"`
		Seq       uint64    `json:"seq"`
		Unread    bool      `json:"unread"`
		Outgoing  bool      `json:"outgoing"`
	}
)

func (m *DecryptedMessage) MarshalJSON() ([]byte, error) {
	if m.Payload == nil {
		return nil, fmt.Errorf("message %s has no payload", m.ID)
	}
	return json.Marshal(&decryptedMessageJSON{
		ID:        m.ID,
		PeerID:    m.PeerID,
		Kind:      m.Payload.Kind(),
		Body:      m.Payload.Bytes(),
		CreatedAt: m.CreatedAt,
		Seq:       m.Seq,
		Unread:    m.Unread,
		Outgoing:  m.Outgoing,
	})
}

func (m *DecryptedMessage) UnmarshalJSON(data []byte) error {
	var raw decryptedMessageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p, err := DecodePayload(raw.Kind, raw.Body)
	if err != nil {
		return err
	}

	*m = DecryptedMessage{
		ID:        raw.ID,
		PeerID:    raw.PeerID,
		Payload:   p,
		CreatedAt: raw.CreatedAt,
		Seq:       raw.Seq,
		Unread:    raw.Unread,
		Outgoing:  raw.Outgoing,
	}
	return nil
}
