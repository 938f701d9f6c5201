package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/texmesh/go-texmesh/log"
)

var (
	// ErrTopicRegistered is returned when a handler for the topic already exists.
	ErrTopicRegistered = errors.New("topic already registered")
	// ErrTopicNotRegistered is returned when publishing to an unknown topic.
	ErrTopicNotRegistered = errors.New("topic not registered")
)

// PubSub is the gossip overlay used by the node.
type PubSub interface {
	Register(topic string, handler GossipHandler) error
	Unregister(topic string) error
	Publish(ctx context.Context, topic string, msg []byte) error
	TopicPeers(topic string) []peer.ID
}

// PeerEventHandler is notified when a peer joins or leaves a registered topic.
type PeerEventHandler func(topic string, pid peer.ID, joined bool)

type topic struct {
	handle *pubsub.Topic
	relay  pubsub.RelayCancelFunc
	events *pubsub.TopicEventHandler
	cancel context.CancelFunc
	done   chan struct{}
}

// GossipPubSub is a wrapper around gossip protocol.
type GossipPubSub struct {
	logger *zap.Logger
	pubsub *pubsub.PubSub
	host   host.Host
	ctx    context.Context

	mu      sync.RWMutex
	topics  map[string]*topic
	onPeers PeerEventHandler
}

var _ PubSub = &GossipPubSub{}

// OnPeerEvent sets a handler for join/leave events of registered topics.
// Must be called before topics are registered.
func (ps *GossipPubSub) OnPeerEvent(handler PeerEventHandler) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.onPeers = handler
}

func topicKind(name string) string {
	kind, _, _ := strings.Cut(name, "/")
	return kind
}

// Register joins the topic and routes its messages to the handler.
// Messages published by this node are relayed but never passed to the handler.
func (ps *GossipPubSub) Register(name string, handler GossipHandler) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if _, exist := ps.topics[name]; exist {
		return fmt.Errorf("%w: %s", ErrTopicRegistered, name)
	}
	kind := topicKind(name)
	self := ps.host.ID()
	err := ps.pubsub.RegisterTopicValidator(
		name,
		func(ctx context.Context, pid peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
			if pid == self {
				return pubsub.ValidationAccept
			}
			start := time.Now()
			ctx = log.WithNewRequestID(ctx, zap.String("topic", name), zap.Stringer("peer", pid))
			err := handler(ctx, pid, msg.Data)
			processedMessagesDuration.WithLabelValues(kind, castResult(err)).
				Observe(time.Since(start).Seconds())
			if err != nil {
				log.Ctx(ctx, ps.logger).Debug("topic validation failed", zap.Error(err))
			}
			switch {
			case errors.Is(err, ErrValidationReject):
				return pubsub.ValidationReject
			case err != nil:
				return pubsub.ValidationIgnore
			default:
				return pubsub.ValidationAccept
			}
		},
	)
	if err != nil {
		return fmt.Errorf("register validator for %s: %w", name, err)
	}
	t := &topic{done: make(chan struct{})}
	cleanup := func() {
		if t.events != nil {
			t.events.Cancel()
		}
		if t.relay != nil {
			t.relay()
		}
		if t.handle != nil {
			_ = t.handle.Close()
		}
		_ = ps.pubsub.UnregisterTopicValidator(name)
	}
	t.handle, err = ps.pubsub.Join(name)
	if err != nil {
		cleanup()
		return fmt.Errorf("join %s: %w", name, err)
	}
	t.relay, err = t.handle.Relay()
	if err != nil {
		cleanup()
		return fmt.Errorf("relay %s: %w", name, err)
	}
	t.events, err = t.handle.EventHandler()
	if err != nil {
		cleanup()
		return fmt.Errorf("event handler %s: %w", name, err)
	}
	var ctx context.Context
	ctx, t.cancel = context.WithCancel(ps.ctx)
	go ps.watchPeers(ctx, name, t, ps.onPeers)
	ps.topics[name] = t
	return nil
}

func (ps *GossipPubSub) watchPeers(ctx context.Context, name string, t *topic, handler PeerEventHandler) {
	defer close(t.done)
	for {
		ev, err := t.events.NextPeerEvent(ctx)
		if err != nil {
			return
		}
		if handler != nil {
			handler(name, ev.Peer, ev.Type == pubsub.PeerJoin)
		}
	}
}

// Unregister leaves the topic.
func (ps *GossipPubSub) Unregister(name string) error {
	ps.mu.Lock()
	t, exist := ps.topics[name]
	delete(ps.topics, name)
	ps.mu.Unlock()
	if !exist {
		return fmt.Errorf("%w: %s", ErrTopicNotRegistered, name)
	}
	t.cancel()
	<-t.done
	t.events.Cancel()
	t.relay()
	if err := ps.pubsub.UnregisterTopicValidator(name); err != nil {
		return fmt.Errorf("unregister validator %s: %w", name, err)
	}
	if err := t.handle.Close(); err != nil {
		ps.logger.Warn("failed to close topic", zap.String("topic", name), zap.Error(err))
	}
	return nil
}

// Publish message to the topic.
func (ps *GossipPubSub) Publish(ctx context.Context, name string, msg []byte) error {
	ps.mu.RLock()
	t := ps.topics[name]
	ps.mu.RUnlock()
	if t == nil {
		return fmt.Errorf("%w: %s", ErrTopicNotRegistered, name)
	}
	if err := t.handle.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to topic %v: %w", name, err)
	}
	return nil
}

// TopicPeers returns peers subscribed to the topic.
func (ps *GossipPubSub) TopicPeers(name string) []peer.ID {
	return ps.pubsub.ListPeers(name)
}
