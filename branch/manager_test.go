package branch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/texmesh/go-texmesh/codec"
	"github.com/texmesh/go-texmesh/common/types"
	"github.com/texmesh/go-texmesh/crdt"
	"github.com/texmesh/go-texmesh/log/logtest"
	"github.com/texmesh/go-texmesh/p2p"
)

type testManager struct {
	*Manager
	engine *crdt.Engine
	syncer *Mocksyncer
	clock  clockwork.FakeClock
}

func newTestManager(t *testing.T) *testManager {
	t.Helper()
	clock := clockwork.NewFakeClock()
	engine := crdt.New("local", crdt.WithLogger(logtest.New(t)), crdt.WithClock(clock))
	syncer := NewMocksyncer(gomock.NewController(t))
	return &testManager{
		Manager: New(engine, syncer,
			WithLogger(logtest.New(t)),
			WithClock(clock),
			WithConfig(Config{RecoveryTimeout: 10 * time.Second}),
		),
		engine: engine,
		syncer: syncer,
		clock:  clock,
	}
}

func (tm *testManager) applier(id types.DocumentID, op types.Operation) func(context.Context) error {
	return func(context.Context) error {
		_, _, err := tm.engine.Apply(id, "alice", op)
		return err
	}
}

func remoteSnapshot(t *testing.T, id types.DocumentID, content string) []byte {
	t.Helper()
	remote := crdt.New("remote", crdt.WithClock(clockwork.NewFakeClock()))
	_, err := remote.Create(id, crdt.Meta{Title: "paper.tex", Owner: "bob"}, content)
	require.NoError(t, err)
	snapshot, err := remote.Export(id)
	require.NoError(t, err)
	return codec.MustEncode(snapshot)
}

func TestDoExistingReplica(t *testing.T) {
	tm := newTestManager(t)
	id := types.RandomDocumentID()
	_, err := tm.engine.Create(id, crdt.Meta{Owner: "alice"}, "Hello")
	require.NoError(t, err)

	op := types.Insert(5, " world")
	require.NoError(t, tm.Do(context.Background(), &PendingRequest{Document: id}, tm.applier(id, op)))
	text, _, err := tm.engine.Content(id)
	require.NoError(t, err)
	require.Equal(t, "Hello world", text)
}

func TestDoLocalPlaceholder(t *testing.T) {
	tm := newTestManager(t)
	id := types.RandomDocumentID()
	op := types.Replace(types.Range{}, `\documentclass{article}`)
	req := &PendingRequest{Document: id, User: "alice", Session: "s1", Operation: &op}
	tm.syncer.EXPECT().RequestSync(gomock.Any(), id).Return(nil, fmt.Errorf("%w: no peers", p2p.ErrSyncUnavailable))
	require.NoError(t, tm.Do(context.Background(), req, tm.applier(id, op)))

	summary, err := tm.engine.Summary(id)
	require.NoError(t, err)
	require.Equal(t, types.UserID("alice"), summary.Owner)
	text, _, err := tm.engine.Content(id)
	require.NoError(t, err)
	require.Equal(t, `\documentclass{article}`, text)
	require.Empty(t, tm.Pending())
}

func TestDoLocalSynced(t *testing.T) {
	tm := newTestManager(t)
	id := types.RandomDocumentID()
	tm.syncer.EXPECT().RequestSync(gomock.Any(), id).Return(remoteSnapshot(t, id, "Hello"), nil)

	op := types.Insert(5, " world")
	req := &PendingRequest{Document: id, User: "alice", Session: "s1", Operation: &op}
	require.NoError(t, tm.Do(context.Background(), req, tm.applier(id, op)))
	text, _, err := tm.engine.Content(id)
	require.NoError(t, err)
	require.Equal(t, "Hello world", text)
	summary, err := tm.engine.Summary(id)
	require.NoError(t, err)
	require.Equal(t, types.UserID("bob"), summary.Owner)
	require.Equal(t, []types.UserID{"alice", "bob"}, summary.Collaborators)
}

func TestDoLocalSyncFailed(t *testing.T) {
	tm := newTestManager(t)
	id := types.RandomDocumentID()
	tm.syncer.EXPECT().RequestSync(gomock.Any(), id).Return([]byte{1}, nil)

	op := types.Insert(0, "x")
	err := tm.Do(context.Background(), &PendingRequest{Document: id, User: "alice"}, tm.applier(id, op))
	require.ErrorIs(t, err, ErrRecoveryFailed)
	require.False(t, tm.engine.Exists(id), "placeholder is created only when no peer serves the document")
}

func TestDoApplyError(t *testing.T) {
	tm := newTestManager(t)
	id := types.RandomDocumentID()
	_, err := tm.engine.Create(id, crdt.Meta{Owner: "alice"}, "abc")
	require.NoError(t, err)

	err = tm.Do(context.Background(), &PendingRequest{Document: id}, tm.applier(id, types.Delete(types.Range{Start: 1, End: 9})))
	require.ErrorIs(t, err, crdt.ErrRangeOutOfBounds)
	require.NotErrorIs(t, err, ErrRecoveryFailed)
}

func TestDoRemoteSynced(t *testing.T) {
	tm := newTestManager(t)
	id := types.RandomDocumentID()
	source := peer.ID("source")
	tm.syncer.EXPECT().RequestSync(gomock.Any(), id, source).Return(remoteSnapshot(t, id, "Hello"), nil)

	req := &PendingRequest{Document: id, Source: source}
	require.NoError(t, tm.Do(context.Background(), req, tm.applier(id, types.Insert(5, "!"))))
	text, _, err := tm.engine.Content(id)
	require.NoError(t, err)
	require.Equal(t, "Hello!", text)
	summary, err := tm.engine.Summary(id)
	require.NoError(t, err)
	require.Equal(t, types.UserID("bob"), summary.Owner)
}

func TestDoRemoteSyncUnavailable(t *testing.T) {
	tm := newTestManager(t)
	id := types.RandomDocumentID()
	source := peer.ID("source")
	tm.syncer.EXPECT().RequestSync(gomock.Any(), id, source).Return(nil, p2p.ErrSyncUnavailable)

	require.NoError(t, tm.Do(context.Background(), &PendingRequest{Document: id, Source: source}, tm.applier(id, types.Insert(0, "x"))))
	summary, err := tm.engine.Summary(id)
	require.NoError(t, err)
	require.Empty(t, summary.Owner, "placeholder for a remote document has no owner")
}

func TestDoRemoteMalformedSnapshot(t *testing.T) {
	tm := newTestManager(t)
	id := types.RandomDocumentID()
	source := peer.ID("source")
	tm.syncer.EXPECT().RequestSync(gomock.Any(), id, source).Return(remoteSnapshot(t, types.RandomDocumentID(), "x"), nil)

	err := tm.Do(context.Background(), &PendingRequest{Document: id, Source: source}, tm.applier(id, types.Insert(0, "x")))
	require.ErrorIs(t, err, ErrRecoveryFailed)
	require.ErrorIs(t, err, crdt.ErrMalformedSnapshot)
	require.False(t, tm.engine.Exists(id))
}

func TestDoConcurrentCollapse(t *testing.T) {
	const n = 16
	tm := newTestManager(t)
	id := types.RandomDocumentID()
	source := peer.ID("source")
	started := make(chan struct{})
	release := make(chan struct{})
	tm.syncer.EXPECT().RequestSync(gomock.Any(), id, source).DoAndReturn(
		func(context.Context, types.DocumentID, ...peer.ID) ([]byte, error) {
			close(started)
			<-release
			return nil, p2p.ErrSyncUnavailable
		}).Times(1)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := &PendingRequest{Document: id, Source: source}
			errs <- tm.Do(context.Background(), req, tm.applier(id, types.Insert(0, "x")))
		}()
	}
	<-started
	require.Eventually(t, func() bool {
		return len(tm.Pending()) == n
	}, time.Second, time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	text, _, err := tm.engine.Content(id)
	require.NoError(t, err)
	require.Len(t, text, n)
	require.Len(t, tm.engine.List(), 1)
	require.Empty(t, tm.Pending())
}

func TestDoRecoveryTimeout(t *testing.T) {
	tm := newTestManager(t)
	id := types.RandomDocumentID()
	source := peer.ID("source")
	tm.syncer.EXPECT().RequestSync(gomock.Any(), id, source).DoAndReturn(
		func(ctx context.Context, _ types.DocumentID, _ ...peer.ID) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	errc := make(chan error, 1)
	go func() {
		errc <- tm.Do(context.Background(), &PendingRequest{Document: id, Source: source}, tm.applier(id, types.Insert(0, "x")))
	}()
	tm.clock.BlockUntil(1)
	require.Len(t, tm.Pending(), 1)
	tm.clock.Advance(10 * time.Second)
	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrRecoveryFailed)
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for recovery failure")
	}
	require.False(t, tm.engine.Exists(id))
	require.Empty(t, tm.Pending())
}

func TestDoCallerCancelled(t *testing.T) {
	tm := newTestManager(t)
	id := types.RandomDocumentID()
	source := peer.ID("source")
	unblock := make(chan struct{})
	tm.syncer.EXPECT().RequestSync(gomock.Any(), id, source).DoAndReturn(
		func(context.Context, types.DocumentID, ...peer.ID) ([]byte, error) {
			<-unblock
			return nil, errors.New("stream reset")
		})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := tm.Do(ctx, &PendingRequest{Document: id, Source: source}, tm.applier(id, types.Insert(0, "x")))
	require.ErrorIs(t, err, ErrRecoveryFailed)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, tm.Pending())

	// the attempt outlives the caller
	close(unblock)
	require.Eventually(t, func() bool {
		tm.mu.Lock()
		defer tm.mu.Unlock()
		return len(tm.inflight) == 0
	}, time.Second, time.Millisecond)
	require.False(t, tm.engine.Exists(id))
}

func TestStateString(t *testing.T) {
	for state, name := range map[State]string{
		Applying:   "applying",
		Recovering: "recovering",
		Retrying:   "retrying",
		Done:       "done",
		Failed:     "failed",
	} {
		require.Equal(t, name, state.String())
	}
}
