package model

import (
	"fmt"
	"time"
)

// Kind tells the receiver how to reinterpret the decrypted bytes. It never
// changes how the payload is encrypted.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

func (k Kind) Valid() bool {
	return k == KindText || k == KindImage
}

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown message type %q", s)
	}
	return k, nil
}

type (
	// Sealed is the wire form of an encrypted payload. All fields are
	// standard base64.
	Sealed struct {
		IV         string `json:"iv"`
		WrappedKey string `json:"encryptedKey"`
		Ciphertext string `json:"content"`
	}

	// Envelope is the unit of transit and storage.
	Envelope struct {
		SenderID    string `json:"senderId"`
		RecipientID string `json:"recipientId"`
		Sealed
		Kind      Kind      `json:"type"`
		CreatedAt time.Time `json:"-"`
	}

	// MailboxRow is an Envelope as stored by a Mailbox backend.
	MailboxRow struct {
		Seq         int64  `json:"seq"`
		SenderID    string `json:"senderId"`
		RecipientID string `json:"recipientId"`
		Sealed
		Kind      Kind  `json:"type"`
		Timestamp int64 `json:"timestamp"`
		StoredAt  int64 `json:"storedAt"`
	}

	// SendMessageRequest is the body of POST /messages.
	SendMessageRequest struct {
		SenderID     string `json:"senderId"`
		RecipientID  string `json:"recipientId"`
		IV           string `json:"iv"`
		EncryptedKey string `json:"encryptedKey"`
		Content      string `json:"content"`
		Type         string `json:"type"`
		Timestamp    int64  `json:"timestamp"`
	}

	// InboundMessage is one element of the GET /messages/{recipientId} body.
	InboundMessage struct {
		From         string `json:"from"`
		IV           string `json:"iv"`
		EncryptedKey string `json:"encryptedKey"`
		Content      string `json:"content"`
		Type         string `json:"type"`
		Timestamp    int64  `json:"timestamp"`
	}
)

// UnixMillis converts t to the wire timestamp.
func UnixMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func (r *SendMessageRequest) Validate() error {
	switch {
	case r.SenderID == "":
		return fmt.Errorf("missing senderId")
	case r.RecipientID == "":
		return fmt.Errorf("missing recipientId")
	case r.IV == "":
		return fmt.Errorf("missing iv")
	case r.EncryptedKey == "":
		return fmt.Errorf("missing encryptedKey")
	case r.Content == "":
		return fmt.Errorf("missing content")
	case r.Type == "":
		return fmt.Errorf("missing type")
	case r.Timestamp == 0:
		return fmt.Errorf("missing timestamp")
	}

	if _, err := ParseKind(r.Type); err != nil {
		return err
	}
	return nil
}

func (r *SendMessageRequest) Envelope() *Envelope {
	return &Envelope{
		SenderID:    r.SenderID,
		RecipientID: r.RecipientID,
		Sealed: Sealed{
			IV:         r.IV,
			WrappedKey: r.EncryptedKey,
			Ciphertext: r.Content,
		},
		Kind:      Kind(r.Type),
		CreatedAt: FromUnixMillis(r.Timestamp),
	}
}

func NewSendMessageRequest(e *Envelope) *SendMessageRequest {
	return &SendMessageRequest{
		SenderID:     e.SenderID,
		RecipientID:  e.RecipientID,
		IV:           e.IV,
		EncryptedKey: e.WrappedKey,
		Content:      e.Ciphertext,
		Type:         string(e.Kind),
		Timestamp:    UnixMillis(e.CreatedAt),
	}
}

func NewInboundMessage(e *Envelope) *InboundMessage {
	return &InboundMessage{
		From:         e.SenderID,
		IV:           e.IV,
		EncryptedKey: e.WrappedKey,
		Content:      e.Ciphertext,
		Type:         string(e.Kind),
		Timestamp:    UnixMillis(e.CreatedAt),
	}
}

// Envelope rebuilds the envelope addressed to recipientID. Unknown types are
// kept as-is so that the caller can decide to drop the message.
func (m *InboundMessage) Envelope(recipientID string) *Envelope {
	return &Envelope{
		SenderID:    m.From,
		RecipientID: recipientID,
		Sealed: Sealed{
			IV:         m.IV,
			WrappedKey: m.EncryptedKey,
			Ciphertext: m.Content,
		},
		Kind:      Kind(m.Type),
		CreatedAt: FromUnixMillis(m.Timestamp),
	}
}

func NewMailboxRow(e *Envelope, seq int64, storedAt time.Time) *MailboxRow {
	return &MailboxRow{
		Seq:         seq,
		SenderID:    e.SenderID,
		RecipientID: e.RecipientID,
		Sealed:      e.Sealed,
		Kind:        e.Kind,
		Timestamp:   UnixMillis(e.CreatedAt),
		StoredAt:    UnixMillis(storedAt),
	}
}

func (r *MailboxRow) Envelope() *Envelope {
	return &Envelope{
		SenderID:    r.SenderID,
		RecipientID: r.RecipientID,
		Sealed:      r.Sealed,
		Kind:        r.Kind,
		CreatedAt:   FromUnixMillis(r.Timestamp),
	}
}
