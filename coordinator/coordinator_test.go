package coordinator

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

	"github.com/texmesh/go-texmesh/branch"
	"github.com/texmesh/go-texmesh/codec"
	"github.com/texmesh/go-texmesh/common/types"
	"github.com/texmesh/go-texmesh/crdt"
	"github.com/texmesh/go-texmesh/log/logtest"
	"github.com/texmesh/go-texmesh/p2p"
	"github.com/texmesh/go-texmesh/session"
)

type update struct {
	content string
	version uint64
}

// recorder is a Notifier that keeps the last update of every document.
type recorder struct {
	mu       sync.Mutex
	updates  map[types.DocumentID]update
	presence []types.Presence
}

func newRecorder() *recorder {
	return &recorder{updates: map[types.DocumentID]update{}}
}

func (r *recorder) DocumentUpdated(_ context.Context, id types.DocumentID, content string, version uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates[id] = update{content: content, version: version}
}

func (r *recorder) PresenceUpdated(_ context.Context, presence types.Presence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presence = append(r.presence, presence)
}

func (r *recorder) OperationError(context.Context, types.DocumentID, types.ErrorCode, string) {}

func (r *recorder) last(id types.DocumentID) (update, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, exist := r.updates[id]
	return u, exist
}

type testCoordinator struct {
	*Coordinator
	engine   *crdt.Engine
	network  *Mocknetwork
	notifier *recorder
}

func newTestCoordinator(t *testing.T, opts ...Opt) *testCoordinator {
	t.Helper()
	engine := crdt.New("local", crdt.WithLogger(logtest.New(t)), crdt.WithClock(clockwork.NewFakeClock()))
	network := NewMocknetwork(gomock.NewController(t))
	branches := branch.New(engine, network,
		branch.WithLogger(logtest.New(t)),
		branch.WithConfig(branch.Config{RecoveryTimeout: 5 * time.Second}),
	)
	notifier := newRecorder()
	c, err := New(engine, network, branches, session.New(),
		append([]Opt{WithLogger(logtest.New(t)), WithNotifier(notifier)}, opts...)...)
	require.NoError(t, err)
	return &testCoordinator{Coordinator: c, engine: engine, network: network, notifier: notifier}
}

// quiet accepts subscriptions and broadcasts to a network without peers.
func (tc *testCoordinator) quiet() {
	tc.network.EXPECT().Subscribe(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	tc.network.EXPECT().Broadcast(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	tc.network.EXPECT().TopicPeers(gomock.Any()).Return(nil).AnyTimes()
	tc.network.EXPECT().Peers().Return(nil).AnyTimes()
}

func (tc *testCoordinator) login(t *testing.T, sid types.SessionID, user types.UserID) {
	t.Helper()
	_, err := tc.Authenticate(sid, user)
	require.NoError(t, err)
}

func (tc *testCoordinator) content(t *testing.T, id types.DocumentID) string {
	t.Helper()
	text, _, err := tc.engine.Content(id)
	require.NoError(t, err)
	return text
}

// seed imports the replica of other.
func (tc *testCoordinator) seed(t *testing.T, other *crdt.Engine, id types.DocumentID) {
	t.Helper()
	changed, err := tc.merge(id, snapshotBytes(t, other, id))
	require.NoError(t, err)
	require.True(t, changed)
}

func requireCode(t *testing.T, err error, code types.ErrorCode) {
	t.Helper()
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, code, cerr.Code, cerr.Message)
}

// remote is a replica of another node.
func remote(t *testing.T, id types.DocumentID, content string) *crdt.Engine {
	t.Helper()
	engine := crdt.New("remote", crdt.WithClock(clockwork.NewFakeClock()))
	_, err := engine.Create(id, crdt.Meta{Title: "paper.tex", Owner: "bob"}, content)
	require.NoError(t, err)
	return engine
}

func snapshotBytes(t *testing.T, engine *crdt.Engine, id types.DocumentID) []byte {
	t.Helper()
	snapshot, err := engine.Export(id)
	require.NoError(t, err)
	return codec.MustEncode(snapshot)
}

func operationEnvelope(t *testing.T, change *crdt.Change) *p2p.Envelope {
	t.Helper()
	return &p2p.Envelope{Kind: p2p.KindOperations, Document: change.Document, Data: codec.MustEncode(change)}
}

func TestAuthenticate(t *testing.T) {
	tc := newTestCoordinator(t)
	tc.quiet()

	_, err := tc.Authenticate("", "alice")
	requireCode(t, err, types.CodeUnauthenticated)

	tc.login(t, "conn-1", "alice")
	s, err := tc.Authenticate("conn-2", "alice")
	require.NoError(t, err)
	require.Equal(t, 1, s.Rebinds)
	require.Equal(t, 1, tc.sessions.Len())

	_, err = tc.CreateDocument(context.Background(), "conn-1", "paper.tex", "")
	requireCode(t, err, types.CodeUnauthenticated)
	_, err = tc.CreateDocument(context.Background(), "conn-2", "paper.tex", "")
	require.NoError(t, err)

	require.True(t, tc.CloseSession("conn-2"))
	require.False(t, tc.CloseSession("conn-2"))
	_, err = tc.ApplyOperation(context.Background(), "conn-2", types.RandomDocumentID(), types.Insert(0, "x"))
	requireCode(t, err, types.CodeUnauthenticated)
}

func TestCreateDocument(t *testing.T) {
	tc := newTestCoordinator(t)
	tc.login(t, "conn-1", "alice")

	var published *p2p.Envelope
	tc.network.EXPECT().Subscribe(gomock.Any(), gomock.Any()).Return(nil)
	tc.network.EXPECT().Broadcast(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, env *p2p.Envelope) error {
			published = env
			return nil
		})
	tc.network.EXPECT().TopicPeers(gomock.Any()).Return([]peer.ID{"a", "b"})

	summary, err := tc.CreateDocument(context.Background(), "conn-1", "paper.tex", "git@example.com:paper.git")
	require.NoError(t, err)
	require.Equal(t, "paper.tex", summary.Title)
	require.Equal(t, types.UserID("alice"), summary.Owner)
	require.Equal(t, []types.UserID{"alice"}, summary.Collaborators)
	require.Equal(t, "git@example.com:paper.git", summary.Repository)
	require.Equal(t, []types.DocumentSummary{summary}, tc.ListDocuments())

	require.NotNil(t, published)
	require.Equal(t, p2p.KindMetadata, published.Kind)
	require.Equal(t, summary.ID, published.Document)
	var meta DocumentMeta
	require.NoError(t, codec.Decode(published.Data, &meta))
	require.Equal(t, "paper.tex", meta.Meta.Title)
	require.Empty(t, meta.Versions)
}

func TestApplyOperation(t *testing.T) {
	tc := newTestCoordinator(t)
	tc.quiet()
	tc.login(t, "conn-1", "alice")
	ctx := context.Background()
	summary, err := tc.CreateDocument(ctx, "conn-1", "paper.tex", "")
	require.NoError(t, err)
	id := summary.ID

	version, err := tc.ApplyOperation(ctx, "conn-1", id, types.Insert(0, "Hello"))
	require.NoError(t, err)
	next, err := tc.ApplyOperation(ctx, "conn-1", id, types.Insert(5, " world"))
	require.NoError(t, err)
	require.Equal(t, version+1, next)
	require.Equal(t, "Hello world", tc.content(t, id))
	u, exist := tc.notifier.last(id)
	require.True(t, exist)
	require.Equal(t, update{content: "Hello world", version: next}, u)

	_, err = tc.ApplyOperation(ctx, "conn-1", id, types.Delete(types.Range{Start: 6, End: 42}))
	requireCode(t, err, types.CodeRangeOutOfBounds)
	_, err = tc.ApplyOperation(ctx, "conn-1", id, types.Replace(types.Range{Start: 0, End: 12}, "Bye"))
	requireCode(t, err, types.CodeRangeOutOfBounds)
	require.Equal(t, "Hello world", tc.content(t, id))

	_, err = tc.ApplyOperation(ctx, "conn-1", id, types.Insert(0, ""))
	requireCode(t, err, types.CodeInvalidOperation)
	_, err = tc.ApplyOperation(ctx, "conn-1", id, types.Operation{Kind: 42})
	requireCode(t, err, types.CodeInvalidOperation)
}

func TestApplyOperationPublishes(t *testing.T) {
	tc := newTestCoordinator(t)
	tc.login(t, "conn-1", "alice")
	id := types.RandomDocumentID()
	_, err := tc.engine.Create(id, crdt.Meta{Owner: "alice"}, "Hello")
	require.NoError(t, err)

	var changes []*crdt.Change
	tc.network.EXPECT().Subscribe(gomock.Any(), id).Return(nil)
	tc.network.EXPECT().Broadcast(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, env *p2p.Envelope) error {
			require.Equal(t, p2p.KindOperations, env.Kind)
			var change crdt.Change
			require.NoError(t, codec.Decode(env.Data, &change))
			changes = append(changes, &change)
			return nil
		})
	tc.network.EXPECT().TopicPeers(p2p.Topic(p2p.KindOperations, id)).Return([]peer.ID{"a", "b"})

	_, err = tc.ApplyOperation(context.Background(), "conn-1", id, types.Insert(5, " world"))
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, " world", changes[0].Content)
	require.Equal(t, types.UserID("alice"), changes[0].User)
	require.Equal(t, "local", changes[0].Author)
}

func TestDirectFanout(t *testing.T) {
	tc := newTestCoordinator(t, WithConfig(Config{DirectFanout: 3, SnapshotCacheSize: 1}))
	tc.login(t, "conn-1", "alice")
	id := types.RandomDocumentID()
	_, err := tc.engine.Create(id, crdt.Meta{Owner: "alice"}, "Hello")
	require.NoError(t, err)
	topic := p2p.Topic(p2p.KindOperations, id)

	tc.network.EXPECT().Subscribe(gomock.Any(), id).Return(nil)
	tc.network.EXPECT().Broadcast(gomock.Any(), gomock.Any()).Return(errors.New("no peers"))
	tc.network.EXPECT().TopicPeers(topic).Return([]peer.ID{"a"})
	tc.network.EXPECT().Peers().Return([]peer.ID{"a", "b", "c", "d"})
	var (
		mu   sync.Mutex
		sent []peer.ID
	)
	tc.network.EXPECT().SendDirect(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, pid peer.ID, env *p2p.Envelope) error {
			assert.Equal(t, topic, env.Topic())
			mu.Lock()
			defer mu.Unlock()
			sent = append(sent, pid)
			if pid == "c" {
				return errors.New("unreachable")
			}
			return nil
		}).Times(2)

	_, err = tc.ApplyOperation(context.Background(), "conn-1", id, types.Insert(5, "!"))
	require.NoError(t, err, "delivery failures are not reported to the caller")
	require.ElementsMatch(t, []peer.ID{"b", "c"}, sent)
}

func TestApplyOperationMissingDocument(t *testing.T) {
	tc := newTestCoordinator(t)
	tc.quiet()
	tc.login(t, "conn-1", "alice")
	id := types.RandomDocumentID()
	tc.network.EXPECT().RequestSync(gomock.Any(), id).Return(nil, p2p.ErrSyncUnavailable)

	_, err := tc.ApplyOperation(context.Background(), "conn-1", id,
		types.Replace(types.Range{}, `\documentclass{article}`))
	require.NoError(t, err)
	require.Equal(t, `\documentclass{article}`, tc.content(t, id))
	documents := tc.ListDocuments()
	require.Len(t, documents, 1)
	require.Equal(t, id, documents[0].ID)
	require.Equal(t, types.UserID("alice"), documents[0].Owner)
}

func TestApplyOperationMissingDocumentConcurrent(t *testing.T) {
	const n = 20
	tc := newTestCoordinator(t)
	tc.quiet()
	id := types.RandomDocumentID()
	tc.network.EXPECT().RequestSync(gomock.Any(), id).Return(nil, p2p.ErrSyncUnavailable).Times(1)
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		sid := types.SessionID(fmt.Sprintf("conn-%d", i))
		tc.login(t, sid, types.UserID(fmt.Sprintf("user-%d", i)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = tc.ApplyOperation(context.Background(), sid, id, types.Insert(0, "x"))
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, tc.ListDocuments(), 1)
	require.Len(t, tc.content(t, id), n)
	summary, err := tc.engine.Summary(id)
	require.NoError(t, err)
	require.Len(t, summary.Collaborators, n)
}

func TestApplyOperationMissingDocumentSynced(t *testing.T) {
	tc := newTestCoordinator(t)
	tc.quiet()
	tc.login(t, "conn-1", "alice")
	id := types.RandomDocumentID()
	tc.network.EXPECT().RequestSync(gomock.Any(), id).Return(snapshotBytes(t, remote(t, id, "Hello"), id), nil)

	_, err := tc.ApplyOperation(context.Background(), "conn-1", id, types.Insert(5, " world"))
	require.NoError(t, err)
	require.Equal(t, "Hello world", tc.content(t, id))
	documents := tc.ListDocuments()
	require.Len(t, documents, 1)
	require.Equal(t, types.UserID("bob"), documents[0].Owner)
}

func TestRemoteOperation(t *testing.T) {
	tc := newTestCoordinator(t)
	tc.quiet()
	id := types.RandomDocumentID()
	other := remote(t, id, "Hello")
	tc.seed(t, other, id)

	change, _, err := other.Apply(id, "bob", types.Insert(5, " world"))
	require.NoError(t, err)
	env := operationEnvelope(t, change)
	from := peer.ID("remote")
	require.NoError(t, tc.HandleEnvelope(context.Background(), from, env))
	require.NoError(t, tc.HandleEnvelope(context.Background(), from, env), "redelivery")
	require.Equal(t, "Hello world", tc.content(t, id))
	u, exist := tc.notifier.last(id)
	require.True(t, exist)
	require.Equal(t, "Hello world", u.content)
}

func TestRemoteOperationRecovery(t *testing.T) {
	tc := newTestCoordinator(t)
	tc.quiet()
	id := types.RandomDocumentID()
	other := remote(t, id, "Hello")
	change, _, err := other.Apply(id, "bob", types.Insert(5, "!"))
	require.NoError(t, err)
	from := peer.ID("remote")
	tc.network.EXPECT().RequestSync(gomock.Any(), id, from).Return(snapshotBytes(t, other, id), nil)

	require.NoError(t, tc.HandleEnvelope(context.Background(), from, operationEnvelope(t, change)))
	require.Equal(t, "Hello!", tc.content(t, id))
	summary, err := tc.engine.Summary(id)
	require.NoError(t, err)
	require.Equal(t, types.UserID("bob"), summary.Owner)
}

func TestRemoteOperationRecoveryFailed(t *testing.T) {
	engine := crdt.New("local")
	network := NewMocknetwork(gomock.NewController(t))
	notifier := NewMockNotifier(gomock.NewController(t))
	c, err := New(engine, network, branch.New(engine, network), session.New(), WithNotifier(notifier))
	require.NoError(t, err)

	id, otherID := types.RandomDocumentID(), types.RandomDocumentID()
	wrong := snapshotBytes(t, remote(t, otherID, "Hello"), otherID)
	change := &crdt.Change{Document: id, Author: "remote", Seq: 1, Clock: 1, User: "bob", Content: "x"}
	network.EXPECT().RequestSync(gomock.Any(), id, peer.ID("remote")).Return(wrong, nil)
	notifier.EXPECT().OperationError(gomock.Any(), id, types.CodeRecoveryFailed, gomock.Any())

	err = c.HandleEnvelope(context.Background(), "remote", operationEnvelope(t, change))
	require.ErrorIs(t, err, branch.ErrRecoveryFailed)
	require.False(t, engine.Exists(id))
}

func TestRemoteOperationMalformed(t *testing.T) {
	tc := newTestCoordinator(t)
	id := types.RandomDocumentID()
	for _, env := range []*p2p.Envelope{
		{Kind: p2p.KindOperations, Document: id, Data: []byte{1, 2, 3}},
		operationEnvelope(t, &crdt.Change{Document: types.RandomDocumentID(), Author: "a", Seq: 1, Clock: 1, Content: "x"}),
		{Kind: p2p.KindOperations, Document: id, Data: codec.MustEncode(&crdt.Change{Document: id, Seq: 1, Content: "x"})},
		{Kind: p2p.KindPresence, Document: id, Data: []byte{0xff}},
		{Kind: p2p.KindMetadata, Document: id, Data: []byte{0xff}},
		{Kind: 42, Document: id},
	} {
		err := tc.HandleEnvelope(context.Background(), "remote", env)
		require.ErrorIs(t, err, p2p.ErrMalformedMessage, "envelope %v", env.Kind)
	}
	require.Empty(t, tc.ListDocuments())
}

func TestOpenDocument(t *testing.T) {
	ctx := context.Background()
	t.Run("synced", func(t *testing.T) {
		tc := newTestCoordinator(t)
		tc.login(t, "conn-1", "alice")
		id := types.RandomDocumentID()
		other := remote(t, id, "Hello")
		tc.network.EXPECT().Subscribe(gomock.Any(), id).Return(nil)
		tc.network.EXPECT().RequestSync(gomock.Any(), id).Return(snapshotBytes(t, other, id), nil)
		var meta DocumentMeta
		tc.network.EXPECT().Broadcast(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, env *p2p.Envelope) error {
				require.Equal(t, p2p.KindMetadata, env.Kind)
				return codec.Decode(env.Data, &meta)
			})
		tc.network.EXPECT().TopicPeers(gomock.Any()).Return([]peer.ID{"a", "b"})

		doc, err := tc.OpenDocument(ctx, "conn-1", id)
		require.NoError(t, err)
		require.Equal(t, "Hello", doc.Content)
		require.Equal(t, types.UserID("bob"), doc.Owner)
		require.Equal(t, []types.UserID{"alice", "bob"}, doc.Collaborators)
		require.Equal(t, []types.UserID{"alice", "bob"}, meta.Meta.Collaborators)
	})
	t.Run("local replica", func(t *testing.T) {
		tc := newTestCoordinator(t)
		tc.login(t, "conn-1", "alice")
		id := types.RandomDocumentID()
		_, err := tc.engine.Create(id, crdt.Meta{Owner: "alice", Title: "paper.tex"}, "local")
		require.NoError(t, err)
		tc.network.EXPECT().Subscribe(gomock.Any(), id).Return(nil)
		tc.network.EXPECT().RequestSync(gomock.Any(), id).Return(nil, p2p.ErrSyncUnavailable)

		doc, err := tc.OpenDocument(ctx, "conn-1", id)
		require.NoError(t, err)
		require.Equal(t, "local", doc.Content)
	})
	t.Run("unavailable", func(t *testing.T) {
		tc := newTestCoordinator(t)
		tc.login(t, "conn-1", "alice")
		id := types.RandomDocumentID()
		tc.network.EXPECT().Subscribe(gomock.Any(), id).Return(nil)
		tc.network.EXPECT().RequestSync(gomock.Any(), id).Return(nil, fmt.Errorf("%w: no peers", p2p.ErrSyncUnavailable))
		tc.network.EXPECT().Unsubscribe(id).Return(nil)

		_, err := tc.OpenDocument(ctx, "conn-1", id)
		requireCode(t, err, types.CodeSyncUnavailable)
		require.False(t, tc.engine.Exists(id))
	})
	t.Run("malformed snapshot", func(t *testing.T) {
		tc := newTestCoordinator(t)
		tc.login(t, "conn-1", "alice")
		id := types.RandomDocumentID()
		tc.network.EXPECT().Subscribe(gomock.Any(), id).Return(nil)
		tc.network.EXPECT().RequestSync(gomock.Any(), id).Return([]byte{1}, nil)

		_, err := tc.OpenDocument(ctx, "conn-1", id)
		requireCode(t, err, types.CodeProtocol)
	})
}

func TestPresence(t *testing.T) {
	tc := newTestCoordinator(t)
	tc.login(t, "conn-1", "alice")
	ctx := context.Background()
	id := types.RandomDocumentID()
	_, err := tc.engine.Create(id, crdt.Meta{Owner: "alice"}, "Hello")
	require.NoError(t, err)

	presence := types.Presence{Document: id, User: "mallory", Cursor: 3, Selection: types.Range{Start: 1, End: 3}}
	var sent PresenceUpdate
	tc.network.EXPECT().Broadcast(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, env *p2p.Envelope) error {
			require.Equal(t, p2p.KindPresence, env.Kind)
			return codec.Decode(env.Data, &sent)
		})
	require.NoError(t, tc.UpdatePresence(ctx, "conn-1", presence))
	require.Equal(t, PresenceUpdate{User: "alice", Cursor: 3, Selection: types.Range{Start: 1, End: 3}}, sent)

	err = tc.UpdatePresence(ctx, "conn-1", types.Presence{Document: types.RandomDocumentID()})
	requireCode(t, err, types.CodeDocumentNotFound)
	err = tc.UpdatePresence(ctx, "conn-1", types.Presence{Document: id, Selection: types.Range{Start: 2, End: 1}})
	requireCode(t, err, types.CodeInvalidOperation)

	env := &p2p.Envelope{Kind: p2p.KindPresence, Document: id, Data: codec.MustEncode(&PresenceUpdate{
		User:   "bob",
		Cursor: 5,
	})}
	require.NoError(t, tc.HandleEnvelope(ctx, "remote", env))
	tc.notifier.mu.Lock()
	defer tc.notifier.mu.Unlock()
	require.Equal(t, []types.Presence{
		{Document: id, User: "alice", Cursor: 3, Selection: types.Range{Start: 1, End: 3}},
		{Document: id, User: "bob", Cursor: 5},
	}, tc.notifier.presence)
}

func TestAnnouncement(t *testing.T) {
	tc := newTestCoordinator(t)
	ctx := context.Background()
	id := types.RandomDocumentID()
	_, err := tc.engine.Create(id, crdt.Meta{Owner: "alice", Title: "paper.tex"}, "Hello")
	require.NoError(t, err)

	// replies go to the subscriber, not to the peer that relayed the announcement
	tc.network.EXPECT().SendDirect(gomock.Any(), peer.ID("subscriber"), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ peer.ID, env *p2p.Envelope) error {
			require.Equal(t, p2p.KindMetadata, env.Kind)
			var meta DocumentMeta
			require.NoError(t, codec.Decode(env.Data, &meta))
			require.Equal(t, "paper.tex", meta.Meta.Title)
			require.Equal(t, []crdt.VersionEntry{{Author: "local", Seq: 1}}, meta.Versions)
			return nil
		})
	require.NoError(t, tc.HandleEnvelope(ctx, "remote", &p2p.Envelope{
		Kind: p2p.KindPresence, Document: id, Data: p2p.EncodeAnnouncement("subscriber"),
	}))

	// no replica, nothing to announce
	require.NoError(t, tc.HandleEnvelope(ctx, "remote", &p2p.Envelope{
		Kind: p2p.KindPresence, Document: types.RandomDocumentID(), Data: p2p.EncodeAnnouncement("subscriber"),
	}))

	err = tc.HandleEnvelope(ctx, "remote", &p2p.Envelope{Kind: p2p.KindPresence, Document: id, Data: []byte{0, 0xff}})
	require.ErrorIs(t, err, p2p.ErrMalformedMessage)
	err = tc.HandleEnvelope(ctx, "remote", &p2p.Envelope{Kind: p2p.KindPresence, Document: id})
	require.ErrorIs(t, err, p2p.ErrMalformedMessage)
}

func TestMetadata(t *testing.T) {
	ctx := context.Background()
	id := types.RandomDocumentID()
	other := remote(t, id, "Hello")
	metaOf := func(t *testing.T, engine *crdt.Engine) *p2p.Envelope {
		meta, err := engine.Meta(id)
		require.NoError(t, err)
		vv, err := engine.VersionVector(id)
		require.NoError(t, err)
		msg := DocumentMeta{Meta: meta}
		for author, seq := range vv {
			msg.Versions = append(msg.Versions, crdt.VersionEntry{Author: author, Seq: seq})
		}
		return &p2p.Envelope{Kind: p2p.KindMetadata, Document: id, Data: codec.MustEncode(&msg)}
	}

	t.Run("unknown document", func(t *testing.T) {
		tc := newTestCoordinator(t)
		require.NoError(t, tc.HandleEnvelope(ctx, "remote", metaOf(t, other)))
		require.False(t, tc.engine.Exists(id))
	})
	t.Run("merged", func(t *testing.T) {
		tc := newTestCoordinator(t)
		tc.seed(t, other, id)
		_, _, err := other.MergeMeta(id, crdt.Meta{Collaborators: []types.UserID{"carol"}})
		require.NoError(t, err)

		require.NoError(t, tc.HandleEnvelope(ctx, "remote", metaOf(t, other)))
		summary, err := tc.engine.Summary(id)
		require.NoError(t, err)
		require.Equal(t, []types.UserID{"bob", "carol"}, summary.Collaborators)
	})
	t.Run("catch up", func(t *testing.T) {
		tc := newTestCoordinator(t)
		tc.seed(t, other, id)
		_, _, err := other.Apply(id, "bob", types.Insert(5, "!"))
		require.NoError(t, err)
		tc.network.EXPECT().RequestSync(gomock.Any(), id, peer.ID("remote")).Return(snapshotBytes(t, other, id), nil)

		require.NoError(t, tc.HandleEnvelope(ctx, "remote", metaOf(t, other)))
		require.Equal(t, "Hello!", tc.content(t, id))
		u, exist := tc.notifier.last(id)
		require.True(t, exist)
		require.Equal(t, "Hello!", u.content)
	})
}

func TestHandleSync(t *testing.T) {
	tc := newTestCoordinator(t)
	tc.quiet()
	tc.login(t, "conn-1", "alice")
	ctx := context.Background()

	_, err := tc.HandleSync(ctx, types.RandomDocumentID())
	require.ErrorIs(t, err, crdt.ErrBranchNotFound)

	summary, err := tc.CreateDocument(ctx, "conn-1", "paper.tex", "")
	require.NoError(t, err)
	id := summary.ID
	_, err = tc.ApplyOperation(ctx, "conn-1", id, types.Insert(0, "Hello"))
	require.NoError(t, err)

	first, err := tc.HandleSync(ctx, id)
	require.NoError(t, err)
	second, err := tc.HandleSync(ctx, id)
	require.NoError(t, err)
	require.Equal(t, first, second)
	cached, exist := tc.snapshots.Get(id)
	require.True(t, exist)
	require.Equal(t, first, cached.data)

	_, _, err = tc.engine.MergeMeta(id, crdt.Meta{Collaborators: []types.UserID{"bob"}})
	require.NoError(t, err)
	third, err := tc.HandleSync(ctx, id)
	require.NoError(t, err)
	require.NotEqual(t, first, third, "metadata changes invalidate cached snapshot")

	_, err = tc.ApplyOperation(ctx, "conn-1", id, types.Insert(5, "!"))
	require.NoError(t, err)
	data, err := tc.HandleSync(ctx, id)
	require.NoError(t, err)
	var snapshot crdt.Snapshot
	require.NoError(t, codec.Decode(data, &snapshot))
	require.Equal(t, "Hello!", snapshot.Content())
}

func TestExportImport(t *testing.T) {
	tc := newTestCoordinator(t)
	tc.quiet()
	tc.login(t, "conn-1", "alice")
	ctx := context.Background()

	_, err := tc.ExportDocument(types.RandomDocumentID())
	requireCode(t, err, types.CodeDocumentNotFound)

	id := types.RandomDocumentID()
	other := remote(t, id, "Hello")
	snapshot, err := other.Export(id)
	require.NoError(t, err)
	summary, err := tc.ImportDocument(ctx, "conn-1", "imported.tex", snapshot)
	require.NoError(t, err)
	require.Equal(t, id, summary.ID)
	require.Equal(t, "imported.tex", summary.Title)
	require.Equal(t, types.UserID("bob"), summary.Owner)
	require.Equal(t, []types.UserID{"alice", "bob"}, summary.Collaborators)

	_, err = tc.ImportDocument(ctx, "conn-1", "", snapshot)
	requireCode(t, err, types.CodeAlreadyExists)

	exported, err := tc.ExportDocument(id)
	require.NoError(t, err)
	require.Equal(t, "Hello", exported.Content())
}

func TestToError(t *testing.T) {
	for _, tc := range []struct {
		err  error
		code types.ErrorCode
	}{
		{fmt.Errorf("%w: x", ErrUnauthenticated), types.CodeUnauthenticated},
		{fmt.Errorf("%w: %w", branch.ErrRecoveryFailed, p2p.ErrSyncUnavailable), types.CodeRecoveryFailed},
		{fmt.Errorf("%w: %w", branch.ErrRecoveryFailed, crdt.ErrBranchNotFound), types.CodeRecoveryFailed},
		{types.ErrInvalidOperation, types.CodeInvalidOperation},
		{p2p.ErrMalformedMessage, types.CodeProtocol},
		{crdt.ErrMalformedChange, types.CodeProtocol},
		{crdt.ErrMalformedSnapshot, types.CodeProtocol},
		{crdt.ErrBranchNotFound, types.CodeDocumentNotFound},
		{crdt.ErrRangeOutOfBounds, types.CodeRangeOutOfBounds},
		{crdt.ErrAlreadyExists, types.CodeAlreadyExists},
		{p2p.ErrSyncUnavailable, types.CodeSyncUnavailable},
		{errors.New("disk is on fire"), types.CodeInternal},
	} {
		t.Run(string(tc.code), func(t *testing.T) {
			err := toError(tc.err)
			require.Equal(t, tc.code, err.Code)
			require.ErrorIs(t, err, tc.err)
			require.Same(t, err, toError(err))
		})
	}
	require.Equal(t, "internal error", toError(errors.New("secret")).Message)
	require.Nil(t, toError(nil))
}

func TestResume(t *testing.T) {
	tc := newTestCoordinator(t)
	ids := []types.DocumentID{types.RandomDocumentID(), types.RandomDocumentID()}
	for _, id := range ids {
		tc.seed(t, remote(t, id, "Hello"), id)
	}

	joined := map[types.DocumentID]bool{}
	announced := map[types.DocumentID]bool{}
	tc.network.EXPECT().Subscribe(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, id types.DocumentID) error {
			joined[id] = true
			return nil
		}).Times(2)
	tc.network.EXPECT().Broadcast(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, env *p2p.Envelope) error {
			assert.Equal(t, p2p.KindMetadata, env.Kind)
			announced[env.Document] = true
			return nil
		}).Times(2)
	tc.network.EXPECT().TopicPeers(gomock.Any()).Return(nil).AnyTimes()
	tc.network.EXPECT().Peers().Return(nil).AnyTimes()

	require.Equal(t, 2, tc.Resume(context.Background()))
	for _, id := range ids {
		require.True(t, joined[id])
		require.True(t, announced[id])
	}
}
