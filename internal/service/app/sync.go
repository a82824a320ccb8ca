package app

import (
	"context"
	"crypto/rsa"
	"errors"
	"snapsafe/internal/model"
	"snapsafe/internal/protocol/envelope"
	"snapsafe/internal/utils/log"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const DefaultPollInterval = 15 * time.Second

var ErrAlreadyRunning = errors.New("sync loop already running")

type SyncState int32

const (
	StateIdle SyncState = iota
	StateFetching
	StateDecrypting
	StateMerging
)

func (s SyncState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateDecrypting:
		return "decrypting"
	case StateMerging:
		return "merging"
	default:
		return "unknown"
	}
}

type (
	// Fetcher drains the relay mailbox of an identity.
	Fetcher interface {
		FetchMessages(ctx context.Context, recipientID string) ([]*model.Envelope, error)
	}

	SyncResult struct {
		Fetched int
		Merged  int
		Dropped int
	}

	SyncOptions struct {
		Interval time.Duration
		// BeforeCycle runs at the start of every scheduled cycle.
		BeforeCycle func(ctx context.Context)
		// AfterMerge runs after a cycle that added at least one message.
		AfterMerge func(ctx context.Context, res SyncResult)
	}

	// SyncLoop periodically drains the mailbox, decrypts what it can and
	// merges the result into Threads. Cycles never overlap.
	SyncLoop struct {
		identity string
		fetcher  Fetcher
		priv     *rsa.PrivateKey
		threads  *Threads
		opts     SyncOptions

		cycleMu  sync.Mutex
		state    atomic.Int32
		lastSync atomic.Int64
		running  atomic.Bool
		trigger  chan struct{}
		done     chan struct{}
	}
)

func NewSyncLoop(identity string, fetcher Fetcher, priv *rsa.PrivateKey, threads *Threads, opts SyncOptions) *SyncLoop {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	return &SyncLoop{
		identity: identity,
		fetcher:  fetcher,
		priv:     priv,
		threads:  threads,
		opts:     opts,
		trigger:  make(chan struct{}, 1),
	}
}

func (l *SyncLoop) State() SyncState {
	return SyncState(l.state.Load())
}

// LastSync is the completion time of the last successful cycle, zero before
// the first one.
func (l *SyncLoop) LastSync() time.Time {
	ns := l.lastSync.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Start runs the loop in its own goroutine until ctx is cancelled. The
// first cycle starts immediately.
func (l *SyncLoop) Start(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	l.done = make(chan struct{})
	go l.run(ctx, l.done)
	return nil
}

// Done is closed once the loop started by the last Start has exited.
func (l *SyncLoop) Done() <-chan struct{} {
	return l.done
}

// Trigger asks for a cycle as soon as possible. Requests made while one is
// already pending are coalesced.
func (l *SyncLoop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

func (l *SyncLoop) run(ctx context.Context, done chan struct{}) {
	defer func() {
		l.running.Store(false)
		close(done)
	}()

	ticker := time.NewTicker(l.opts.Interval)
	defer ticker.Stop()

	for {
		l.cycle(ctx)

		select {
		case <-ctx.Done():
			log.Debug("sync loop stopped", zap.String("identity", l.identity))
			return
		case <-ticker.C:
		case <-l.trigger:
		}
	}
}

func (l *SyncLoop) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if l.opts.BeforeCycle != nil {
		l.opts.BeforeCycle(ctx)
	}

	res, err := l.SyncOnce(ctx)
	if err != nil {
		// Transport problems are retried on the next tick.
		log.Warn("sync failed", zap.String("identity", l.identity), zap.Error(err))
		return
	}

	if res.Merged > 0 && l.opts.AfterMerge != nil {
		l.opts.AfterMerge(ctx, res)
	}
}

// SyncOnce runs a single drain, decrypt and merge cycle. Envelopes that
// cannot be opened are dropped and counted, they never fail the cycle.
func (l *SyncLoop) SyncOnce(ctx context.Context) (SyncResult, error) {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()
	defer l.setState(StateIdle)

	var res SyncResult

	l.setState(StateFetching)
	envelopes, err := l.fetcher.FetchMessages(ctx, l.identity)
	if err != nil {
		return res, err
	}
	defer l.lastSync.Store(time.Now().UnixNano())

	res.Fetched = len(envelopes)
	if res.Fetched == 0 {
		return res, nil
	}

	l.setState(StateDecrypting)
	msgs := make([]*model.DecryptedMessage, 0, len(envelopes))
	for _, e := range envelopes {
		m, err := l.open(e)
		if err != nil {
			res.Dropped++
			log.Warn("dropping envelope",
				zap.String("from", e.SenderID),
				zap.String("type", string(e.Kind)),
				zap.Error(err))
			continue
		}
		msgs = append(msgs, m)
	}

	l.setState(StateMerging)
	res.Merged = l.threads.Merge(msgs)

	log.Debug("sync cycle done",
		zap.String("identity", l.identity),
		zap.Int("fetched", res.Fetched),
		zap.Int("merged", res.Merged),
		zap.Int("dropped", res.Dropped))
	return res, nil
}

func (l *SyncLoop) open(e *model.Envelope) (*model.DecryptedMessage, error) {
	if !e.Kind.Valid() {
		return nil, errors.New("unknown message type")
	}

	plaintext, err := envelope.Open(&e.Sealed, l.priv)
	if err != nil {
		return nil, err
	}

	p, err := model.DecodePayload(e.Kind, plaintext)
	if err != nil {
		return nil, err
	}

	return &model.DecryptedMessage{
		ID:        messageID(e.SenderID, e.IV),
		PeerID:    e.SenderID,
		Payload:   p,
		CreatedAt: e.CreatedAt,
		Unread:    true,
	}, nil
}

func (l *SyncLoop) setState(s SyncState) {
	l.state.Store(int32(s))
}

// messageID identifies an envelope. The nonce is fresh per envelope, so
// sender plus nonce only repeats for a redelivered envelope.
func messageID(senderID, iv string) string {
	return senderID + ":" + iv
}
