package p2p

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/spacemeshos/go-scale/tester"
	"github.com/stretchr/testify/require"

	"github.com/texmesh/go-texmesh/common/types"
	"github.com/texmesh/go-texmesh/log/logtest"
)

var errNoDocument = errors.New("no document")

type testHandler struct {
	mu        sync.Mutex
	envelopes []*Envelope
	senders   []peer.ID
	snapshots map[types.DocumentID][]byte
}

func (h *testHandler) HandleEnvelope(_ context.Context, from peer.ID, env *Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.envelopes = append(h.envelopes, env)
	h.senders = append(h.senders, from)
	return nil
}

func (h *testHandler) HandleSync(_ context.Context, id types.DocumentID) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, exist := h.snapshots[id]
	if !exist {
		return nil, fmt.Errorf("%w: %s", errNoDocument, id)
	}
	return data, nil
}

func (h *testHandler) received(kind Kind) []*Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	var rst []*Envelope
	for _, env := range h.envelopes {
		if env.Kind == kind {
			rst = append(rst, env)
		}
	}
	return rst
}

type testNode struct {
	*Host
	handler *testHandler
}

func newTestNetwork(t *testing.T, n int) (mocknet.Mocknet, []*testNode) {
	t.Helper()
	mesh, err := mocknet.FullMeshConnected(n)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.SyncTimeout = time.Second
	cfg.DirectTimeout = time.Second
	var nodes []*testNode
	for _, h := range mesh.Hosts() {
		fh, err := Upgrade(h, WithConfig(cfg), WithLog(logtest.New(t)))
		require.NoError(t, err)
		handler := &testHandler{snapshots: map[types.DocumentID][]byte{}}
		fh.SetHandler(handler)
		require.NoError(t, fh.Start())
		t.Cleanup(func() { require.NoError(t, fh.Stop()) })
		nodes = append(nodes, &testNode{Host: fh, handler: handler})
	}
	require.Eventually(t, func() bool {
		for _, h := range mesh.Hosts() {
			protocols := h.Mux().Protocols()
			if !slices.Contains(protocols, SyncProtocol) || !slices.Contains(protocols, DirectProtocol) {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)
	return mesh, nodes
}

func waitTopicPeers(t *testing.T, nodes []*testNode, topic string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, node := range nodes {
			if len(node.TopicPeers(topic)) < n {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSubscribeBroadcast(t *testing.T) {
	_, nodes := newTestNetwork(t, 3)
	id := types.RandomDocumentID()
	ctx := context.Background()
	for _, node := range nodes {
		require.NoError(t, node.Subscribe(ctx, id))
		require.NoError(t, node.Subscribe(ctx, id), "subscribe is idempotent")
		require.True(t, node.Subscribed(id))
	}
	waitTopicPeers(t, nodes, Topic(KindOperations, id), 2)

	env := &Envelope{Kind: KindOperations, Document: id, Data: []byte("change")}
	require.NoError(t, nodes[0].Broadcast(ctx, env))
	require.Eventually(t, func() bool {
		return len(nodes[1].handler.received(KindOperations)) == 1 &&
			len(nodes[2].handler.received(KindOperations)) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, env, nodes[1].handler.received(KindOperations)[0])
	require.Empty(t, nodes[0].handler.received(KindOperations))

	_, exist := nodes[0].book.Record(nodes[0].ID())
	require.False(t, exist)
	for _, node := range nodes[1:] {
		require.Eventually(t, func() bool {
			rec, _ := node.book.Record(nodes[0].ID())
			return rec.State == PeerSubscribed && slices.Contains(rec.Topics, Topic(KindOperations, id))
		}, 5*time.Second, 10*time.Millisecond)
	}

	require.NoError(t, nodes[2].Unsubscribe(id))
	require.False(t, nodes[2].Subscribed(id))
	require.Error(t, nodes[2].Broadcast(ctx, env))
	require.Eventually(t, func() bool {
		return len(nodes[0].TopicPeers(Topic(KindOperations, id))) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSendDirect(t *testing.T) {
	_, nodes := newTestNetwork(t, 2)
	id := types.RandomDocumentID()
	env := &Envelope{Kind: KindMetadata, Document: id, Data: []byte("meta")}
	require.NoError(t, nodes[0].SendDirect(context.Background(), nodes[1].ID(), env))
	require.Equal(t, []*Envelope{env}, nodes[1].handler.received(KindMetadata))
	require.Equal(t, []peer.ID{nodes[0].ID()}, nodes[1].handler.senders)

	invalid := &Envelope{Kind: 42, Document: id}
	require.ErrorContains(t, nodes[0].SendDirect(context.Background(), nodes[1].ID(), invalid), ErrMalformedMessage.Error())
}

func TestRequestSync(t *testing.T) {
	_, nodes := newTestNetwork(t, 3)
	id := types.RandomDocumentID()
	nodes[2].handler.snapshots[id] = []byte("snapshot")

	t.Run("explicit candidate", func(t *testing.T) {
		data, err := nodes[0].RequestSync(context.Background(), id, nodes[2].ID())
		require.NoError(t, err)
		require.Equal(t, []byte("snapshot"), data)
	})
	t.Run("falls back to other peers", func(t *testing.T) {
		data, err := nodes[0].RequestSync(context.Background(), id, nodes[1].ID())
		require.NoError(t, err)
		require.Equal(t, []byte("snapshot"), data)
	})
	t.Run("unavailable", func(t *testing.T) {
		_, err := nodes[0].RequestSync(context.Background(), types.RandomDocumentID())
		require.ErrorIs(t, err, ErrSyncUnavailable)
		require.ErrorContains(t, err, errNoDocument.Error())
	})
}

func TestRequestSyncNoPeers(t *testing.T) {
	mesh, err := mocknet.WithNPeers(1)
	require.NoError(t, err)
	fh, err := Upgrade(mesh.Hosts()[0], WithLog(logtest.New(t)))
	require.NoError(t, err)
	t.Cleanup(func() { fh.Stop() })
	_, err = fh.RequestSync(context.Background(), types.RandomDocumentID())
	require.ErrorIs(t, err, ErrSyncUnavailable)
}

func TestDisconnectClearsTopics(t *testing.T) {
	mesh, nodes := newTestNetwork(t, 2)
	id := types.RandomDocumentID()
	for _, node := range nodes {
		require.NoError(t, node.Subscribe(context.Background(), id))
	}
	waitTopicPeers(t, nodes, Topic(KindOperations, id), 1)

	require.NoError(t, mesh.DisconnectPeers(nodes[0].ID(), nodes[1].ID()))
	require.Eventually(t, func() bool {
		rec, _ := nodes[0].book.Record(nodes[1].ID())
		return rec.State == PeerDisconnected && len(rec.Topics) == 0
	}, 5*time.Second, 10*time.Millisecond)
	require.Empty(t, nodes[0].book.TopicPeers(Topic(KindOperations, id)))
}

func TestTopic(t *testing.T) {
	id := types.RandomDocumentID()
	for _, kind := range Kinds {
		name := Topic(kind, id)
		require.Equal(t, kind.String()+"/"+id.String(), name)
		parsed, parsedID, err := ParseTopic(name)
		require.NoError(t, err)
		require.Equal(t, kind, parsed)
		require.Equal(t, id, parsedID)
	}
	for _, name := range []string{"operations", "unknown/" + id.String(), "presence/not-a-uuid"} {
		_, _, err := ParseTopic(name)
		require.ErrorIs(t, err, ErrMalformedMessage, name)
	}
}

func TestAnnouncement(t *testing.T) {
	subscriber := peer.ID("subscriber")
	first := EncodeAnnouncement(subscriber)
	second := EncodeAnnouncement(subscriber)
	require.NotEqual(t, first, second)
	for _, data := range [][]byte{first, second} {
		require.True(t, IsAnnouncement(data))
		got, err := DecodeAnnouncement(data)
		require.NoError(t, err)
		require.Equal(t, subscriber, got)
	}

	require.False(t, IsAnnouncement(nil))
	require.False(t, IsAnnouncement([]byte{20, 'a'}))
	for _, data := range [][]byte{nil, {20, 'a'}, {0, 0xff}, {0, 0, 1}} {
		_, err := DecodeAnnouncement(data)
		require.ErrorIs(t, err, ErrMalformedMessage)
	}
}

func TestRepeatedAnnouncementDelivered(t *testing.T) {
	_, nodes := newTestNetwork(t, 2)
	id := types.RandomDocumentID()
	ctx := context.Background()
	for _, node := range nodes {
		require.NoError(t, node.Subscribe(ctx, id))
	}
	waitTopicPeers(t, nodes, Topic(KindPresence, id), 1)

	for range 2 {
		env := &Envelope{Kind: KindPresence, Document: id, Data: EncodeAnnouncement(nodes[1].ID())}
		require.NoError(t, nodes[1].Broadcast(ctx, env))
	}
	require.Eventually(t, func() bool {
		announced := 0
		for _, env := range nodes[0].handler.received(KindPresence) {
			if subscriber, err := DecodeAnnouncement(env.Data); err == nil && subscriber == nodes[1].ID() {
				announced++
			}
		}
		return announced >= 2
	}, 5*time.Second, 10*time.Millisecond)
}

func FuzzAnnouncementConsistency(f *testing.F) {
	tester.FuzzConsistency[Announcement](f)
}

func FuzzEnvelopeConsistency(f *testing.F) {
	tester.FuzzConsistency[Envelope](f)
}

func FuzzEnvelopeSafety(f *testing.F) {
	tester.FuzzSafety[Envelope](f)
}
