package app

import (
	"snapsafe/internal/model"
	"sort"
	"sync"
	"time"
)

// Threads is the set of conversations, keyed by peer identity. The sync
// loop merges into it while senders append outgoing messages and the UI
// reads snapshots, so every access goes through mu.
type Threads struct {
	mu      sync.Mutex
	threads map[string]*model.Thread
	seq     uint64
}

func NewThreads() *Threads {
	return &Threads{
		threads: make(map[string]*model.Thread),
	}
}

func (t *Threads) nextSeq() uint64 {
	t.seq++
	return t.seq
}

func (t *Threads) thread(peerID string) *model.Thread {
	th, ok := t.threads[peerID]
	if !ok {
		th = model.NewThread(peerID)
		t.threads[peerID] = th
	}
	return th
}

// Merge inserts inbound messages in arrival order, creating threads for
// unknown senders. Duplicates are ignored. It returns the number of
// messages actually added.
func (t *Threads) Merge(msgs []*model.DecryptedMessage) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	merged := 0
	for _, m := range msgs {
		m.Seq = t.nextSeq()
		if t.thread(m.PeerID).Insert(m) {
			merged++
		}
	}
	return merged
}

func (t *Threads) AppendOutgoing(peerID string, p model.Payload, id string, at time.Time) *model.DecryptedMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := &model.DecryptedMessage{
		ID:        id,
		PeerID:    peerID,
		Payload:   p,
		CreatedAt: at,
		Seq:       t.nextSeq(),
		Outgoing:  true,
	}
	t.thread(peerID).Insert(m)
	return m
}

// Open makes sure a thread with peerID exists, so that a conversation can
// be started before any message is exchanged.
func (t *Threads) Open(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.thread(peerID)
}

func (t *Threads) MarkRead(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if th, ok := t.threads[peerID]; ok {
		th.MarkRead()
	}
}

// Thread returns a copy of the conversation with peerID, or nil.
func (t *Threads) Thread(peerID string) *model.Thread {
	t.mu.Lock()
	defer t.mu.Unlock()

	th, ok := t.threads[peerID]
	if !ok {
		return nil
	}
	return th.Clone()
}

// Snapshot returns copies of all threads, most recently active first.
func (t *Threads) Snapshot() []*model.Thread {
	t.mu.Lock()
	res := make([]*model.Thread, 0, len(t.threads))
	for _, th := range t.threads {
		res = append(res, th.Clone())
	}
	t.mu.Unlock()

	sort.Slice(res, func(i, j int) bool {
		a, b := res[i].Last(), res[j].Last()
		switch {
		case a == nil && b == nil:
			return res[i].PeerID < res[j].PeerID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.CreatedAt.Equal(b.CreatedAt):
			return a.CreatedAt.After(b.CreatedAt)
		default:
			return a.Seq > b.Seq
		}
	})
	return res
}

// Restore loads previously saved threads. Messages already present are
// kept once.
func (t *Threads) Restore(saved []*model.Thread) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range saved {
		th := t.thread(s.PeerID)
		for _, m := range s.Messages {
			if m.Seq > t.seq {
				t.seq = m.Seq
			}
			th.Insert(m)
		}
	}
}

func (t *Threads) UnreadTotal() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0
	for _, th := range t.threads {
		total += th.UnreadCount
	}
	return total
}
