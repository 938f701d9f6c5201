package p2p

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// PeerState of the connection to a peer.
type PeerState uint8

const (
	PeerDisconnected PeerState = iota
	PeerConnecting
	PeerConnected
	// PeerSubscribed is a connected peer that joined at least one document topic.
	PeerSubscribed
)

func (s PeerState) String() string {
	switch s {
	case PeerDisconnected:
		return "disconnected"
	case PeerConnecting:
		return "connecting"
	case PeerConnected:
		return "connected"
	case PeerSubscribed:
		return "subscribed"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// PeerRecord is a copy of what the node knows about a peer.
type PeerRecord struct {
	ID     peer.ID
	Addrs  []ma.Multiaddr
	Topics []string
	State  PeerState
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (r *PeerRecord) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", r.ID.String())
	enc.AddString("state", r.State.String())
	enc.AddInt("topics", len(r.Topics))
	return nil
}

type peerEntry struct {
	addrs     []ma.Multiaddr
	topics    map[string]struct{}
	connected bool
	dialing   bool
	requests  map[uint64]context.CancelFunc
}

func (e *peerEntry) state() PeerState {
	switch {
	case e.connected && len(e.topics) > 0:
		return PeerSubscribed
	case e.connected:
		return PeerConnected
	case e.dialing:
		return PeerConnecting
	}
	return PeerDisconnected
}

// PeerBook tracks connection state and topic membership of peers.
// Subscription changes take the write lock, lookups the read lock.
type PeerBook struct {
	logger *zap.Logger

	mu     sync.RWMutex
	peers  map[peer.ID]*peerEntry
	nextID uint64
}

// NewPeerBook creates an empty PeerBook.
func NewPeerBook(logger *zap.Logger) *PeerBook {
	return &PeerBook{
		logger: logger,
		peers:  map[peer.ID]*peerEntry{},
	}
}

func (b *PeerBook) entry(pid peer.ID) *peerEntry {
	e, exist := b.peers[pid]
	if !exist {
		e = &peerEntry{
			topics:   map[string]struct{}{},
			requests: map[uint64]context.CancelFunc{},
		}
		b.peers[pid] = e
	}
	return e
}

func (b *PeerBook) transition(pid peer.ID, e *peerEntry, from PeerState) {
	if to := e.state(); to != from {
		peersByState.WithLabelValues(from.String()).Dec()
		peersByState.WithLabelValues(to.String()).Inc()
		b.logger.Debug("peer state changed",
			zap.Stringer("peer", pid),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
}

func (b *PeerBook) update(pid peer.ID, fn func(*peerEntry)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, known := b.peers[pid]
	e := b.entry(pid)
	from := e.state()
	if !known {
		peersByState.WithLabelValues(from.String()).Inc()
	}
	fn(e)
	b.transition(pid, e, from)
}

// Dialing records an outbound dial attempt.
func (b *PeerBook) Dialing(pid peer.ID, addrs []ma.Multiaddr) {
	b.update(pid, func(e *peerEntry) {
		e.dialing = true
		e.addrs = mergeAddrs(e.addrs, addrs)
	})
}

// DialFailed records an unsuccessful dial.
func (b *PeerBook) DialFailed(pid peer.ID) {
	b.update(pid, func(e *peerEntry) {
		e.dialing = false
	})
}

// Connected records an established connection.
func (b *PeerBook) Connected(pid peer.ID, addrs ...ma.Multiaddr) {
	b.update(pid, func(e *peerEntry) {
		e.dialing = false
		e.connected = true
		e.addrs = mergeAddrs(e.addrs, addrs)
	})
}

// Disconnected records connection loss. The peer is removed from every topic and
// its outstanding direct requests are cancelled.
func (b *PeerBook) Disconnected(pid peer.ID) {
	b.update(pid, func(e *peerEntry) {
		e.dialing = false
		e.connected = false
		clear(e.topics)
		for _, cancel := range e.requests {
			cancel()
		}
		clear(e.requests)
	})
}

// Joined records that the peer subscribed to the topic. Subscriptions of peers that
// aren't connected are stale and ignored.
func (b *PeerBook) Joined(pid peer.ID, topic string) {
	b.update(pid, func(e *peerEntry) {
		if e.connected {
			e.topics[topic] = struct{}{}
		}
	})
}

// Left records that the peer unsubscribed from the topic.
func (b *PeerBook) Left(pid peer.ID, topic string) {
	b.update(pid, func(e *peerEntry) {
		delete(e.topics, topic)
	})
}

// Track returns a context that is cancelled when the peer disconnects. release
// must be called once the request completes.
func (b *PeerBook) Track(ctx context.Context, pid peer.ID) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	defer b.mu.Unlock()
	e, exist := b.peers[pid]
	if !exist || !e.connected {
		// never connected or already gone, nothing would cancel the request
		return ctx, cancel
	}
	b.nextID++
	id := b.nextID
	e.requests[id] = cancel
	return ctx, func() {
		cancel()
		b.mu.Lock()
		delete(e.requests, id)
		b.mu.Unlock()
	}
}

// Record returns a copy of the peer record.
func (b *PeerBook) Record(pid peer.ID) (PeerRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, exist := b.peers[pid]
	if !exist {
		return PeerRecord{}, false
	}
	return record(pid, e), true
}

// Records returns copies of all records sorted by peer id.
func (b *PeerBook) Records() []PeerRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rst := make([]PeerRecord, 0, len(b.peers))
	for pid, e := range b.peers {
		rst = append(rst, record(pid, e))
	}
	slices.SortFunc(rst, func(a, b PeerRecord) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return rst
}

// TopicPeers returns connected peers subscribed to the topic.
func (b *PeerBook) TopicPeers(topic string) []peer.ID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var rst []peer.ID
	for pid, e := range b.peers {
		if _, exist := e.topics[topic]; exist && e.connected {
			rst = append(rst, pid)
		}
	}
	slices.Sort(rst)
	return rst
}

// ConnectedPeers returns peers with an established connection.
func (b *PeerBook) ConnectedPeers() []peer.ID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var rst []peer.ID
	for pid, e := range b.peers {
		if e.connected {
			rst = append(rst, pid)
		}
	}
	slices.Sort(rst)
	return rst
}

func record(pid peer.ID, e *peerEntry) PeerRecord {
	topics := slices.Sorted(maps.Keys(e.topics))
	return PeerRecord{
		ID:     pid,
		Addrs:  slices.Clone(e.addrs),
		Topics: topics,
		State:  e.state(),
	}
}

func mergeAddrs(known, addrs []ma.Multiaddr) []ma.Multiaddr {
	for _, addr := range addrs {
		if !slices.ContainsFunc(known, addr.Equal) {
			known = append(known, addr)
		}
	}
	return known
}
