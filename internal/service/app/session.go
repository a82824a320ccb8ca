package app

import (
	"context"
	"errors"
	"fmt"
	"snapsafe/internal/cryptographic/jwk"
	"snapsafe/internal/keystore"
	"snapsafe/internal/model"
	"snapsafe/internal/protocol/envelope"
	"snapsafe/internal/utils/log"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type (
	// ThreadStore persists conversations between runs.
	ThreadStore interface {
		SaveThreads(ctx context.Context, identity string, threads []*model.Thread) error
		LoadThreads(ctx context.Context, identity string) ([]*model.Thread, error)
	}

	SessionOptions struct {
		PollInterval time.Duration
		// Push opens the relay's notification socket so that new envelopes
		// are fetched without waiting for the next poll.
		Push bool
		// Cache is optional.
		Cache ThreadStore
		// OnChange is called after threads changed, from any goroutine.
		OnChange func()
	}

	// Session is one signed-in client: its identity, keypair, conversations
	// and the loop keeping them in sync with the relay.
	Session struct {
		identity string
		api      *API
		keys     *keystore.KeyStore
		threads  *Threads
		opts     SessionOptions
		now      func() time.Time

		started  atomic.Bool
		pair     *keystore.KeyPair
		loop     *SyncLoop
		uploaded atomic.Bool
		saveMu   sync.Mutex
	}
)

func NewSession(identity string, api *API, keys *keystore.KeyStore, opts SessionOptions) *Session {
	return &Session{
		identity: identity,
		api:      api,
		keys:     keys,
		threads:  NewThreads(),
		opts:     opts,
		now:      time.Now,
	}
}

// OnChange replaces the change callback. Call it before Start.
func (s *Session) OnChange(f func()) {
	s.opts.OnChange = f
}

func (s *Session) Identity() string {
	return s.identity
}

func (s *Session) Threads() *Threads {
	return s.threads
}

// Start loads or creates the keypair, publishes the public half and starts
// syncing. Only a key store failure is fatal: a failed upload is retried on
// every sync cycle. A session runs at most one sync loop, so a second Start
// returns ErrAlreadyRunning.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	pair, err := s.keys.LoadOrCreate(ctx)
	if err != nil {
		s.started.Store(false)
		return err
	}
	s.pair = pair

	if s.opts.Cache != nil {
		saved, err := s.opts.Cache.LoadThreads(ctx, s.identity)
		if err != nil {
			log.Warn("load cached threads failed", zap.Error(err))
		}
		s.threads.Restore(saved)
	}

	if err := s.ensureUploaded(ctx); err != nil {
		log.Warn("public key upload failed, will retry", zap.Error(err))
	}

	s.loop = NewSyncLoop(s.identity, s.api, pair.Private, s.threads, SyncOptions{
		Interval: s.opts.PollInterval,
		BeforeCycle: func(ctx context.Context) {
			if err := s.ensureUploaded(ctx); err != nil {
				log.Warn("public key upload failed, will retry", zap.Error(err))
			}
		},
		AfterMerge: func(ctx context.Context, _ SyncResult) {
			s.changed(ctx)
		},
	})
	if err := s.loop.Start(ctx); err != nil {
		s.started.Store(false)
		return err
	}

	if s.opts.Push {
		go s.listenNotifications(ctx)
	}

	log.Info("session started", zap.String("identity", s.identity))
	return nil
}

func (s *Session) LastSync() time.Time {
	if s.loop == nil {
		return time.Time{}
	}
	return s.loop.LastSync()
}

// Uploaded reports whether the relay has confirmed our public key.
func (s *Session) Uploaded() bool {
	return s.uploaded.Load()
}

func (s *Session) ensureUploaded(ctx context.Context) error {
	if s.uploaded.Load() {
		return nil
	}
	if err := s.api.UploadKey(ctx, s.identity, s.pair.PublicJWK); err != nil {
		return err
	}
	s.uploaded.Store(true)
	log.Info("public key published", zap.String("identity", s.identity))
	return nil
}

// Send encrypts p for peerID and hands it to the relay. Every attempt seals
// afresh with the recipient's current key, so a failed Send can simply be
// called again.
func (s *Session) Send(ctx context.Context, peerID string, p model.Payload) (*model.DecryptedMessage, error) {
	if s.pair == nil {
		return nil, errors.New("session not started")
	}

	raw, err := s.api.LookupKey(ctx, peerID)
	if err != nil {
		return nil, err
	}

	pub, err := jwk.ParsePublic(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRecipientKeyNotFound, peerID, err)
	}

	sealed, err := envelope.Seal(p.Bytes(), pub)
	if err != nil {
		return nil, err
	}

	createdAt := s.now()
	e := &model.Envelope{
		SenderID:    s.identity,
		RecipientID: peerID,
		Sealed:      *sealed,
		Kind:        p.Kind(),
		CreatedAt:   createdAt,
	}
	if err := s.api.PostMessage(ctx, e); err != nil {
		return nil, err
	}

	m := s.threads.AppendOutgoing(peerID, p, messageID(s.identity, sealed.IV), createdAt)
	s.changed(ctx)
	return m, nil
}

func (s *Session) MarkRead(ctx context.Context, peerID string) {
	s.threads.MarkRead(peerID)
	s.changed(ctx)
}

// Refresh requests an immediate sync cycle.
func (s *Session) Refresh() {
	if s.loop != nil {
		s.loop.Trigger()
	}
}

// SyncNow runs one cycle synchronously.
func (s *Session) SyncNow(ctx context.Context) (SyncResult, error) {
	if s.loop == nil {
		return SyncResult{}, errors.New("session not started")
	}
	res, err := s.loop.SyncOnce(ctx)
	if err == nil && res.Merged > 0 {
		s.changed(ctx)
	}
	return res, err
}

// Close persists the conversations. The sync loop stops with the context
// given to Start.
func (s *Session) Close(ctx context.Context) error {
	return s.save(ctx)
}

func (s *Session) changed(ctx context.Context) {
	if err := s.save(ctx); err != nil {
		log.Warn("save threads failed", zap.Error(err))
	}
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}

func (s *Session) save(ctx context.Context) error {
	if s.opts.Cache == nil {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.opts.Cache.SaveThreads(ctx, s.identity, s.threads.Snapshot())
}

// listenNotifications keeps the notification socket open and triggers a
// sync for every announcement. Polling continues regardless.
func (s *Session) listenNotifications(ctx context.Context) {
	backoff := time.Second
	for ctx.Err() == nil {
		conn, err := s.api.DialNotifications(ctx, s.identity)
		if err != nil {
			log.Debug("notification socket unavailable", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < time.Minute {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		stop := context.AfterFunc(ctx, func() { conn.Close() })
		for {
			var n model.Notification
			if err := conn.ReadJSON(&n); err != nil {
				log.Debug("notification socket closed", zap.Error(err))
				break
			}
			if n.Type == model.NotificationMailbox {
				s.Refresh()
			}
		}
		stop()
		conn.Close()
	}
}
