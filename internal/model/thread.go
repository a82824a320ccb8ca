package model

import "sort"

// Thread is the client-side conversation with one peer.
type Thread struct {
	PeerID      string              `json:"peerId"`
	Messages    []*DecryptedMessage `json:"messages"`
	UnreadCount int                 `json:"unreadCount"`
}

func NewThread(peerID string) *Thread {
	return &Thread{PeerID: peerID}
}

// Insert places m by CreatedAt, ties broken by Seq. It reports false when a
// message with the same ID is already present.
func (t *Thread) Insert(m *DecryptedMessage) bool {
	for _, existing := range t.Messages {
		if existing.ID == m.ID {
			return false
		}
	}

	i := sort.Search(len(t.Messages), func(i int) bool {
		return before(m, t.Messages[i])
	})
	t.Messages = append(t.Messages, nil)
	copy(t.Messages[i+1:], t.Messages[i:])
	t.Messages[i] = m

	if m.Unread {
		t.UnreadCount++
	}
	return true
}

func (t *Thread) MarkRead() {
	for _, m := range t.Messages {
		m.Unread = false
	}
	t.UnreadCount = 0
}

func (t *Thread) Last() *DecryptedMessage {
	if len(t.Messages) == 0 {
		return nil
	}
	return t.Messages[len(t.Messages)-1]
}

func (t *Thread) LastMessage() string {
	if m := t.Last(); m != nil && m.Payload != nil {
		return m.Payload.Preview()
	}
	return ""
}

// Clone returns a deep copy safe to hand to readers outside the owner's lock.
func (t *Thread) Clone() *Thread {
	c := &Thread{
		PeerID:      t.PeerID,
		UnreadCount: t.UnreadCount,
		Messages:    make([]*DecryptedMessage, len(t.Messages)),
	}
	for i, m := range t.Messages {
		cp := *m
		c.Messages[i] = &cp
	}
	return c
}

func before(a, b *DecryptedMessage) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}
