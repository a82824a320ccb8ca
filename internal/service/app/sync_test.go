package app

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"snapsafe/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu      sync.Mutex
	batches [][]*model.Envelope
	err     error
	calls   int
}

func (f *fakeFetcher) push(batch ...*model.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batch)
}

func (f *fakeFetcher) FetchMessages(_ context.Context, _ string) ([]*model.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return []*model.Envelope{}, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSyncOnce_DecryptsAndMerges(t *testing.T) {
	bob, _ := testKeys(t)
	f := &fakeFetcher{}
	threads := NewThreads()
	loop := NewSyncLoop("bob", f, bob, threads, SyncOptions{})

	f.push(
		seal(t, "alice", "bob", &bob.PublicKey, model.TextPayload("hi bob"), 1000),
		seal(t, "alice", "bob", &bob.PublicKey, model.ImagePayload{1, 2, 3}, 2000),
	)

	res, err := loop.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Fetched: 2, Merged: 2}, res)
	assert.Equal(t, StateIdle, loop.State())

	alice := threads.Thread("alice")
	require.NotNil(t, alice)
	require.Len(t, alice.Messages, 2)
	assert.Equal(t, model.TextPayload("hi bob"), alice.Messages[0].Payload)
	assert.Equal(t, model.ImagePayload{1, 2, 3}, alice.Messages[1].Payload)
	assert.Equal(t, 2, alice.UnreadCount)
	assert.Equal(t, "New photo received", alice.LastMessage())
}

func TestSyncOnce_EmptyMailbox(t *testing.T) {
	bob, _ := testKeys(t)
	loop := NewSyncLoop("bob", &fakeFetcher{}, bob, NewThreads(), SyncOptions{})

	res, err := loop.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SyncResult{}, res)
}

func TestSyncOnce_OutOfOrderArrival(t *testing.T) {
	bob, _ := testKeys(t)
	f := &fakeFetcher{}
	threads := NewThreads()
	loop := NewSyncLoop("bob", f, bob, threads, SyncOptions{})

	f.push(seal(t, "alice", "bob", &bob.PublicKey, model.TextPayload("later"), 5000))
	f.push(seal(t, "alice", "bob", &bob.PublicKey, model.TextPayload("earlier"), 1000))

	_, err := loop.SyncOnce(context.Background())
	require.NoError(t, err)
	_, err = loop.SyncOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"earlier", "later"}, texts(threads.Thread("alice")))
}

func TestSyncOnce_UnknownSenderCreatesThread(t *testing.T) {
	bob, _ := testKeys(t)
	f := &fakeFetcher{}
	threads := NewThreads()
	threads.Open("alice")
	loop := NewSyncLoop("bob", f, bob, threads, SyncOptions{})

	f.push(seal(t, "mallory", "bob", &bob.PublicKey, model.TextPayload("hello stranger"), 1000))

	_, err := loop.SyncOnce(context.Background())
	require.NoError(t, err)

	th := threads.Thread("mallory")
	require.NotNil(t, th)
	assert.Equal(t, 1, th.UnreadCount)
	assert.Len(t, threads.Snapshot(), 2)
}

func TestSyncOnce_SkipsUndecryptable(t *testing.T) {
	bob, eve := testKeys(t)
	f := &fakeFetcher{}
	threads := NewThreads()
	loop := NewSyncLoop("bob", f, bob, threads, SyncOptions{})

	tampered := seal(t, "alice", "bob", &bob.PublicKey, model.TextPayload("tampered"), 2000)
	ct, err := base64.StdEncoding.DecodeString(tampered.Ciphertext)
	require.NoError(t, err)
	ct[0] ^= 0x01
	tampered.Ciphertext = base64.StdEncoding.EncodeToString(ct)

	unknownKind := seal(t, "alice", "bob", &bob.PublicKey, model.TextPayload("video?"), 3000)
	unknownKind.Kind = "video"

	f.push(
		seal(t, "alice", "bob", &bob.PublicKey, model.TextPayload("ok"), 1000),
		seal(t, "alice", "bob", &eve.PublicKey, model.TextPayload("for eve"), 1500),
		tampered,
		unknownKind,
		seal(t, "alice", "bob", &bob.PublicKey, model.TextPayload("also ok"), 4000),
	)

	res, err := loop.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Fetched: 5, Merged: 2, Dropped: 3}, res)
	assert.Equal(t, []string{"ok", "also ok"}, texts(threads.Thread("alice")))
}

func TestSyncOnce_DuplicateEnvelopeMergedOnce(t *testing.T) {
	bob, _ := testKeys(t)
	f := &fakeFetcher{}
	threads := NewThreads()
	loop := NewSyncLoop("bob", f, bob, threads, SyncOptions{})

	e := seal(t, "alice", "bob", &bob.PublicKey, model.TextPayload("once"), 1000)
	f.push(e, e)
	f.push(e)

	res, err := loop.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Merged)

	res, err = loop.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Merged)

	assert.Len(t, threads.Thread("alice").Messages, 1)
}

func TestSyncOnce_TransportFailure(t *testing.T) {
	bob, _ := testKeys(t)
	threads := NewThreads()
	f := &fakeFetcher{err: ErrTransport}
	loop := NewSyncLoop("bob", f, bob, threads, SyncOptions{})

	_, err := loop.SyncOnce(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, StateIdle, loop.State())
	assert.Empty(t, threads.Snapshot())
}

func TestSyncLoop_StartTwice(t *testing.T) {
	bob, _ := testKeys(t)
	loop := NewSyncLoop("bob", &fakeFetcher{}, bob, NewThreads(), SyncOptions{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, loop.Start(ctx))
	assert.ErrorIs(t, loop.Start(ctx), ErrAlreadyRunning)

	cancel()
	select {
	case <-loop.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}

	// a stopped loop can be started again
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	assert.NoError(t, loop.Start(ctx2))
}

func TestSyncLoop_PollsAndTriggers(t *testing.T) {
	bob, _ := testKeys(t)
	f := &fakeFetcher{}
	threads := NewThreads()

	var (
		mu     sync.Mutex
		merged []SyncResult
		before int
	)
	loop := NewSyncLoop("bob", f, bob, threads, SyncOptions{
		Interval: time.Hour,
		BeforeCycle: func(context.Context) {
			mu.Lock()
			before++
			mu.Unlock()
		},
		AfterMerge: func(_ context.Context, res SyncResult) {
			mu.Lock()
			merged = append(merged, res)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, loop.Start(ctx))

	// the first cycle runs right away
	require.Eventually(t, func() bool { return f.Calls() >= 1 }, 2*time.Second, 10*time.Millisecond)

	f.push(seal(t, "alice", "bob", &bob.PublicKey, model.TextPayload("pushed"), 1000))
	loop.Trigger()

	require.Eventually(t, func() bool { return threads.Thread("alice") != nil }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(merged) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, merged[0].Merged)
	assert.GreaterOrEqual(t, before, 2)
	mu.Unlock()
}

func TestSyncLoop_SurvivesTransportFailure(t *testing.T) {
	bob, _ := testKeys(t)
	f := &fakeFetcher{err: errors.New("connection refused")}
	loop := NewSyncLoop("bob", f, bob, NewThreads(), SyncOptions{Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, loop.Start(ctx))

	require.Eventually(t, func() bool { return f.Calls() >= 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestSyncState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "fetching", StateFetching.String())
	assert.Equal(t, "decrypting", StateDecrypting.String())
	assert.Equal(t, "merging", StateMerging.String())
}
