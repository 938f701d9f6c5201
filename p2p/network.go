package p2p

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/texmesh/go-texmesh/codec"
	"github.com/texmesh/go-texmesh/common/types"
	"github.com/texmesh/go-texmesh/log"
	discovery "github.com/texmesh/go-texmesh/p2p/dhtdiscovery"
	"github.com/texmesh/go-texmesh/p2p/pubsub"
	"github.com/texmesh/go-texmesh/p2p/server"
)

const (
	// SyncProtocol serves full document snapshots.
	SyncProtocol = "/texmesh/sync/1.0.0"
	// DirectProtocol delivers envelopes to a single peer.
	DirectProtocol = "/texmesh/direct/1.0.0"

	mdnsService = "texmesh"
	dhtDir      = "dht"
)

var (
	// ErrSyncUnavailable is returned when no candidate peer served a snapshot.
	ErrSyncUnavailable = errors.New("sync unavailable")
	// ErrNoHandler is returned by servers before the handler is set.
	ErrNoHandler = errors.New("handler is not set")
)

// Handler consumes envelopes and serves snapshots.
type Handler interface {
	// HandleEnvelope is called for envelopes received from topics and direct
	// streams. Errors wrapping ErrMalformedMessage are not relayed further.
	HandleEnvelope(ctx context.Context, from peer.ID, env *Envelope) error
	// HandleSync returns an encoded snapshot of the document.
	HandleSync(ctx context.Context, id types.DocumentID) ([]byte, error)
}

// Host is a conveniency wrapper for all p2p related functionality required to run
// a texmesh node.
type Host struct {
	ctx    context.Context
	cfg    Config
	logger *zap.Logger

	host.Host
	pubsub *pubsub.GossipPubSub
	book   *PeerBook
	sync   *server.Server
	direct *server.Server

	mu      sync.RWMutex
	handler Handler
	// subscribed documents, values stop the dht announcement
	documents map[types.DocumentID]context.CancelFunc

	eg        errgroup.Group
	cancel    context.CancelFunc
	mdns      mdns.Service
	discovery *discovery.Discovery
}

// Upgrade creates Host instance from host.Host.
func Upgrade(h host.Host, opts ...Opt) (*Host, error) {
	fh := &Host{
		ctx:       context.Background(),
		cfg:       DefaultConfig(),
		logger:    zap.NewNop(),
		Host:      h,
		documents: map[types.DocumentID]context.CancelFunc{},
	}
	for _, opt := range opts {
		opt(fh)
	}
	fh.ctx, fh.cancel = context.WithCancel(fh.ctx)
	cfg := fh.cfg
	fh.book = NewPeerBook(fh.logger.Named("peers"))
	var err error
	fh.pubsub, err = pubsub.New(fh.ctx, fh.logger.Named("pubsub"), h, cfg.PubSub)
	if err != nil {
		fh.cancel()
		return nil, fmt.Errorf("failed to initialize pubsub: %w", err)
	}
	fh.pubsub.OnPeerEvent(func(topic string, pid peer.ID, joined bool) {
		if joined {
			fh.book.Joined(pid, topic)
		} else {
			fh.book.Left(pid, topic)
		}
	})
	h.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, conn network.Conn) {
			fh.book.Connected(conn.RemotePeer(), conn.RemoteMultiaddr())
		},
		DisconnectedF: func(n network.Network, conn network.Conn) {
			if n.Connectedness(conn.RemotePeer()) != network.Connected {
				fh.book.Disconnected(conn.RemotePeer())
			}
		},
	})
	for _, pid := range h.Network().Peers() {
		fh.book.Connected(pid)
	}
	srvOpts := []server.Opt{
		server.WithLog(fh.logger.Named("server")),
		server.WithMetrics(),
		server.WithRequestsPerInterval(cfg.RequestsPerInterval, cfg.RequestInterval),
	}
	fh.sync = server.New(h, SyncProtocol, server.WrapHandler(fh.serveSync),
		append(srvOpts, server.WithTimeout(cfg.SyncTimeout), server.WithRequestSizeLimit(types.DocumentIDSize))...)
	fh.direct = server.New(h, DirectProtocol, server.WrapHandler(fh.serveDirect),
		append(srvOpts, server.WithTimeout(cfg.DirectTimeout), server.WithRequestSizeLimit(cfg.PubSub.MaxMessageSize))...)
	return fh, nil
}

// SetHandler sets the consumer of inbound envelopes. Must be called before Start.
func (fh *Host) SetHandler(handler Handler) {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	fh.handler = handler
}

func (fh *Host) getHandler() (Handler, error) {
	fh.mu.RLock()
	defer fh.mu.RUnlock()
	if fh.handler == nil {
		return nil, ErrNoHandler
	}
	return fh.handler, nil
}

// Start serves protocols and dials bootnodes in background.
func (fh *Host) Start() error {
	bootnodes, err := ParseBootnodes(fh.cfg.Bootnodes)
	if err != nil {
		return err
	}
	fh.eg.Go(func() error {
		return fh.sync.Run(fh.ctx)
	})
	fh.eg.Go(func() error {
		return fh.direct.Run(fh.ctx)
	})
	for _, info := range bootnodes {
		fh.eg.Go(func() error {
			fh.dialBootnode(fh.ctx, info)
			return nil
		})
	}
	if fh.cfg.MDNS {
		fh.mdns = mdns.NewMdnsService(fh.Host, mdnsService, &discoveryNotifee{fh: fh})
		if err := fh.mdns.Start(); err != nil {
			return fmt.Errorf("start mdns: %w", err)
		}
	}
	if fh.cfg.DHT.Enable {
		opts := append(discovery.FromConfig(fh.cfg.DHT),
			discovery.WithLogger(fh.logger.Named("discovery")),
			discovery.WithBootnodes(bootnodes),
		)
		if fh.cfg.DataDir != "" {
			opts = append(opts, discovery.WithDir(filepath.Join(fh.cfg.DataDir, dhtDir)))
		}
		disc, err := discovery.New(fh.Host, opts...)
		if err != nil {
			return fmt.Errorf("start dht discovery: %w", err)
		}
		disc.Start()
		fh.mu.Lock()
		fh.discovery = disc
		for id := range fh.documents {
			fh.documents[id] = fh.advertise(id)
		}
		fh.mu.Unlock()
	}
	return nil
}

// advertise announces the document in the dht until the returned func is called.
// Must be called with mu held.
func (fh *Host) advertise(id types.DocumentID) context.CancelFunc {
	if fh.discovery == nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(fh.ctx)
	disc := fh.discovery
	fh.eg.Go(func() error {
		disc.Advertise(ctx, id)
		return nil
	})
	return cancel
}

// connectProviders dials replicas of the document found in the dht.
func (fh *Host) connectProviders(ctx context.Context, id types.DocumentID) {
	fh.mu.RLock()
	disc := fh.discovery
	fh.mu.RUnlock()
	if disc == nil {
		return
	}
	providers, err := disc.FindProviders(ctx, id, fh.cfg.SyncAttempts)
	if err != nil {
		fh.logger.Debug("provider lookup failed", id.Field(), zap.Error(err))
		return
	}
	for _, info := range providers {
		if fh.Network().Connectedness(info.ID) == network.Connected {
			continue
		}
		dctx, cancel := context.WithTimeout(ctx, fh.cfg.DirectTimeout)
		if err := fh.Connect(dctx, info); err != nil {
			fh.logger.Debug("failed to connect to provider", id.Field(), zap.Stringer("peer", info.ID), zap.Error(err))
		}
		cancel()
	}
}

func (fh *Host) dialBootnode(ctx context.Context, info peer.AddrInfo) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = fh.cfg.BootnodeBackoff
	policy.MaxElapsedTime = 0
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := fh.Connect(ctx, info)
		if err != nil {
			fh.logger.Debug("bootnode dial failed",
				zap.Stringer("peer", info.ID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, fh.cfg.BootnodeRetries), ctx))
	if err != nil && ctx.Err() == nil {
		fh.logger.Warn("bootnode is unreachable", zap.Stringer("peer", info.ID), zap.Error(err))
	}
}

type discoveryNotifee struct {
	fh *Host
}

func (n *discoveryNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.fh.ID() {
		return
	}
	ctx, cancel := context.WithTimeout(n.fh.ctx, n.fh.cfg.DirectTimeout)
	defer cancel()
	if err := n.fh.Connect(ctx, info); err != nil {
		n.fh.logger.Debug("failed to connect to discovered peer", zap.Stringer("peer", info.ID), zap.Error(err))
	}
}

// Stop background workers and release external resources.
func (fh *Host) Stop() error {
	fh.cancel()
	if fh.mdns != nil {
		fh.mdns.Close()
	}
	if err := fh.eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fh.logger.Warn("p2p worker failed", zap.Error(err))
	}
	if fh.discovery != nil {
		fh.discovery.Stop()
	}
	if err := fh.Host.Close(); err != nil {
		return fmt.Errorf("failed to close libp2p host: %w", err)
	}
	return nil
}

// Connect dials the peer and records the outcome in the peer book.
func (fh *Host) Connect(ctx context.Context, info peer.AddrInfo) error {
	fh.book.Dialing(info.ID, info.Addrs)
	if err := fh.Host.Connect(ctx, info); err != nil {
		fh.book.DialFailed(info.ID)
		return fmt.Errorf("connect %s: %w", info.ID, err)
	}
	fh.book.Connected(info.ID)
	return nil
}

// Subscribe joins operations, presence and metadata topics of the document and
// publishes an announcement on the presence topic. Subscribing twice is a no-op.
func (fh *Host) Subscribe(ctx context.Context, id types.DocumentID) error {
	fh.mu.Lock()
	if _, exist := fh.documents[id]; exist {
		fh.mu.Unlock()
		return nil
	}
	for i, kind := range Kinds {
		if err := fh.pubsub.Register(Topic(kind, id), fh.gossipHandler(kind, id)); err != nil {
			for _, joined := range Kinds[:i] {
				_ = fh.pubsub.Unregister(Topic(joined, id))
			}
			fh.mu.Unlock()
			return fmt.Errorf("subscribe %s: %w", id, err)
		}
	}
	fh.documents[id] = fh.advertise(id)
	fh.mu.Unlock()
	fh.logger.Debug("subscribed", id.Field())
	announcement := &Envelope{Kind: KindPresence, Document: id, Data: EncodeAnnouncement(fh.ID())}
	if err := fh.Broadcast(ctx, announcement); err != nil {
		fh.logger.Debug("presence announcement failed", id.Field(), zap.Error(err))
	}
	return nil
}

// Unsubscribe leaves topics of the document.
func (fh *Host) Unsubscribe(id types.DocumentID) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	stop, exist := fh.documents[id]
	if !exist {
		return nil
	}
	stop()
	delete(fh.documents, id)
	var errs []error
	for _, kind := range Kinds {
		errs = append(errs, fh.pubsub.Unregister(Topic(kind, id)))
	}
	return errors.Join(errs...)
}

// Subscribed is true if topics of the document are joined.
func (fh *Host) Subscribed(id types.DocumentID) bool {
	fh.mu.RLock()
	defer fh.mu.RUnlock()
	_, exist := fh.documents[id]
	return exist
}

func (fh *Host) gossipHandler(kind Kind, id types.DocumentID) pubsub.GossipHandler {
	return func(ctx context.Context, pid peer.ID, msg []byte) error {
		var env Envelope
		if err := codec.Decode(msg, &env); err != nil {
			return fmt.Errorf("%w: %w: %w", pubsub.ErrValidationReject, ErrMalformedMessage, err)
		}
		if env.Kind != kind || env.Document != id {
			return fmt.Errorf("%w: %w: %s/%s on topic %s",
				pubsub.ErrValidationReject, ErrMalformedMessage, env.Kind, env.Document, Topic(kind, id))
		}
		return fh.deliver(ctx, pid, &env)
	}
}

func (fh *Host) deliver(ctx context.Context, pid peer.ID, env *Envelope) error {
	handler, err := fh.getHandler()
	if err != nil {
		return err
	}
	receivedEnvelopes.WithLabelValues(env.Kind.String()).Inc()
	err = handler.HandleEnvelope(ctx, pid, env)
	if errors.Is(err, ErrMalformedMessage) {
		return fmt.Errorf("%w: %w", pubsub.ErrValidationReject, err)
	}
	return err
}

// Broadcast publishes the envelope to subscribers of its topic. Delivery is best
// effort and the local node doesn't receive its own envelope.
func (fh *Host) Broadcast(ctx context.Context, env *Envelope) error {
	data, err := codec.Encode(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := fh.pubsub.Publish(ctx, env.Topic(), data); err != nil {
		return err
	}
	sentEnvelopes.WithLabelValues(env.Kind.String(), "gossip").Inc()
	return nil
}

// SendDirect delivers the envelope to a single peer over a stream.
func (fh *Host) SendDirect(ctx context.Context, pid peer.ID, env *Envelope) error {
	data, err := codec.Encode(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	ctx, release := fh.book.Track(ctx, pid)
	defer release()
	ctx, cancel := context.WithTimeout(ctx, fh.cfg.DirectTimeout)
	defer cancel()
	if _, err := fh.direct.Request(ctx, pid, data); err != nil {
		return fmt.Errorf("send %s to %s: %w", env.Kind, pid, err)
	}
	sentEnvelopes.WithLabelValues(env.Kind.String(), "direct").Inc()
	return nil
}

func (fh *Host) serveDirect(ctx context.Context, req []byte) ([]byte, error) {
	pid, _ := server.ContextPeerID(ctx)
	var env Envelope
	if err := codec.Decode(req, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if !env.Kind.Valid() {
		return nil, fmt.Errorf("%w: kind %s", ErrMalformedMessage, env.Kind)
	}
	if err := fh.deliver(ctx, pid, &env); err != nil {
		return nil, err
	}
	return nil, nil
}

// RequestSync fetches an encoded snapshot of the document. Candidates are tried
// first, then peers subscribed to the document and then any connected peer, at
// most SyncAttempts of them, each bounded by SyncTimeout. Without topic peers the
// dht providers of the document are dialed first, if the dht is enabled.
func (fh *Host) RequestSync(ctx context.Context, id types.DocumentID, candidates ...peer.ID) ([]byte, error) {
	if len(fh.TopicPeers(Topic(KindOperations, id))) == 0 {
		fh.connectProviders(ctx, id)
	}
	peers := fh.syncCandidates(id, candidates)
	if len(peers) == 0 {
		syncRequests.WithLabelValues("no_peers").Inc()
		return nil, fmt.Errorf("%w: %s: no peers", ErrSyncUnavailable, id)
	}
	var errs []error
	for _, pid := range peers {
		if ctx.Err() != nil {
			break
		}
		data, err := fh.requestSync(ctx, id, pid)
		if err == nil {
			syncRequests.WithLabelValues("success").Inc()
			return data, nil
		}
		log.Ctx(ctx, fh.logger).Debug("sync request failed", id.Field(), zap.Stringer("peer", pid), zap.Error(err))
		errs = append(errs, err)
	}
	syncRequests.WithLabelValues("failure").Inc()
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrSyncUnavailable, id, errors.Join(errs...))
}

func (fh *Host) requestSync(ctx context.Context, id types.DocumentID, pid peer.ID) ([]byte, error) {
	ctx, release := fh.book.Track(ctx, pid)
	defer release()
	ctx, cancel := context.WithTimeout(ctx, fh.cfg.SyncTimeout)
	defer cancel()
	start := time.Now()
	data, err := fh.sync.Request(ctx, pid, id[:])
	syncLatency.Observe(time.Since(start).Seconds())
	return data, err
}

func (fh *Host) syncCandidates(id types.DocumentID, candidates []peer.ID) []peer.ID {
	var rst []peer.ID
	add := func(pids []peer.ID) {
		for _, pid := range pids {
			if len(rst) == fh.cfg.SyncAttempts {
				return
			}
			if pid == "" || pid == fh.ID() || slices.Contains(rst, pid) {
				continue
			}
			if fh.Network().Connectedness(pid) != network.Connected {
				continue
			}
			rst = append(rst, pid)
		}
	}
	add(candidates)
	add(fh.TopicPeers(Topic(KindOperations, id)))
	add(fh.Peers())
	return rst
}

func (fh *Host) serveSync(ctx context.Context, req []byte) ([]byte, error) {
	if len(req) != types.DocumentIDSize {
		return nil, fmt.Errorf("%w: sync request of %d bytes", ErrMalformedMessage, len(req))
	}
	handler, err := fh.getHandler()
	if err != nil {
		return nil, err
	}
	return handler.HandleSync(ctx, types.DocumentID(req))
}

// Peers returns connected peers.
func (fh *Host) Peers() []peer.ID {
	return fh.book.ConnectedPeers()
}

// PeerRecords returns a copy of the peer book.
func (fh *Host) PeerRecords() []PeerRecord {
	return fh.book.Records()
}

// TopicPeers returns connected peers subscribed to the topic.
func (fh *Host) TopicPeers(topic string) []peer.ID {
	peers := fh.book.TopicPeers(topic)
	for _, pid := range fh.pubsub.TopicPeers(topic) {
		if !slices.Contains(peers, pid) {
			peers = append(peers, pid)
		}
	}
	return peers
}

// FullAddrs returns listen addresses with the peer id component, in the format
// expected by Config.Bootnodes.
func (fh *Host) FullAddrs() []ma.Multiaddr {
	addrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: fh.ID(), Addrs: fh.Addrs()})
	if err != nil {
		return nil
	}
	return addrs
}
