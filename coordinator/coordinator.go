// Package coordinator is the entry point of transports into the node. It applies
// local edits to replicas and propagates them to peers, routes envelopes received
// from peers to replicas and recovers replicas that are missing on either path.
package coordinator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/texmesh/go-texmesh/branch"
	"github.com/texmesh/go-texmesh/codec"
	"github.com/texmesh/go-texmesh/common/types"
	"github.com/texmesh/go-texmesh/crdt"
	"github.com/texmesh/go-texmesh/log"
	"github.com/texmesh/go-texmesh/p2p"
	"github.com/texmesh/go-texmesh/session"
)

// Config for the Coordinator.
type Config struct {
	// DirectFanout is the number of topic peers below which operations and metadata
	// are also sent directly to other connected peers.
	DirectFanout int `mapstructure:"direct-fanout"`
	// SnapshotCacheSize is the number of encoded snapshots kept for sync requests.
	SnapshotCacheSize int `mapstructure:"snapshot-cache-size"`
}

// DefaultConfig for the Coordinator.
func DefaultConfig() Config {
	return Config{
		DirectFanout:      2,
		SnapshotCacheSize: 256,
	}
}

// Document is an opened document.
type Document struct {
	types.DocumentSummary
	Content string
}

type encodedSnapshot struct {
	summary types.DocumentSummary
	data    []byte
}

// Opt for configuring Coordinator.
type Opt func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithConfig overwrites the default configuration.
func WithConfig(cfg Config) Opt {
	return func(c *Coordinator) {
		c.cfg = cfg
	}
}

// WithNotifier sets the consumer of document updates.
func WithNotifier(notifier Notifier) Opt {
	return func(c *Coordinator) {
		c.notifier = notifier
	}
}

// Coordinator implements p2p.Handler.
type Coordinator struct {
	logger   *zap.Logger
	cfg      Config
	replicas *crdt.Engine
	network  network
	branches *branch.Manager
	sessions *session.Registry
	notifier Notifier

	snapshots *lru.Cache[types.DocumentID, encodedSnapshot]
	opening   singleflight.Group
}

// New creates a Coordinator.
func New(
	replicas *crdt.Engine,
	network network,
	branches *branch.Manager,
	sessions *session.Registry,
	opts ...Opt,
) (*Coordinator, error) {
	c := &Coordinator{
		logger:   zap.NewNop(),
		cfg:      DefaultConfig(),
		replicas: replicas,
		network:  network,
		branches: branches,
		sessions: sessions,
		notifier: nopNotifier{},
	}
	for _, opt := range opts {
		opt(c)
	}
	snapshots, err := lru.New[types.DocumentID, encodedSnapshot](c.cfg.SnapshotCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create snapshot cache: %w", err)
	}
	c.snapshots = snapshots
	return c, nil
}

// Authenticate binds the session to the user. Re-authenticating the user over a new
// session moves the existing binding.
func (c *Coordinator) Authenticate(id types.SessionID, user types.UserID) (session.Session, error) {
	if id == "" || user == "" {
		return session.Session{}, toError(fmt.Errorf("%w: empty session or user", ErrUnauthenticated))
	}
	s, rebound := c.sessions.Authenticate(id, user)
	if rebound {
		c.logger.Info("session re-bound to a new connection", zap.Object("session", &s))
	}
	return s, nil
}

// CloseSession drops the binding of the session.
func (c *Coordinator) CloseSession(id types.SessionID) bool {
	return c.sessions.Close(id)
}

func (c *Coordinator) user(id types.SessionID) (types.UserID, error) {
	s, exist := c.sessions.Lookup(id)
	if !exist {
		return "", fmt.Errorf("%w: session %q", ErrUnauthenticated, id)
	}
	return s.User, nil
}

// CreateDocument creates an empty document owned by the user of the session.
func (c *Coordinator) CreateDocument(
	ctx context.Context,
	sid types.SessionID,
	title, repository string,
) (types.DocumentSummary, error) {
	user, err := c.user(sid)
	if err != nil {
		return types.DocumentSummary{}, toError(err)
	}
	id := types.RandomDocumentID()
	summary, err := c.replicas.Create(id, crdt.Meta{Title: title, Owner: user, Repository: repository}, "")
	if err != nil {
		return types.DocumentSummary{}, toError(err)
	}
	log.Ctx(ctx, c.logger).Info("document created", zap.Object("document", &summary))
	c.join(ctx, id)
	c.publishMeta(ctx, id)
	return summary, nil
}

// OpenDocument subscribes to the document and merges a snapshot from a peer. A local
// replica is enough to open the document when no peer serves it.
func (c *Coordinator) OpenDocument(ctx context.Context, sid types.SessionID, id types.DocumentID) (Document, error) {
	user, err := c.user(sid)
	if err != nil {
		return Document{}, toError(err)
	}
	_, err, _ = c.opening.Do(id.String(), func() (any, error) {
		return nil, c.subscribe(ctx, id)
	})
	if err != nil {
		return Document{}, toError(err)
	}
	_, changed, err := c.replicas.MergeMeta(id, crdt.Meta{Collaborators: []types.UserID{user}})
	if err != nil {
		return Document{}, toError(err)
	}
	if changed {
		c.publishMeta(ctx, id)
	}
	return c.document(id)
}

func (c *Coordinator) subscribe(ctx context.Context, id types.DocumentID) error {
	if err := c.network.Subscribe(ctx, id); err != nil {
		return err
	}
	data, err := c.network.RequestSync(ctx, id)
	if err != nil {
		if c.replicas.Exists(id) {
			log.Ctx(ctx, c.logger).Debug("opening local replica without sync", id.Field(), zap.Error(err))
			return nil
		}
		if uerr := c.network.Unsubscribe(id); uerr != nil {
			c.logger.Warn("failed to unsubscribe", id.Field(), zap.Error(uerr))
		}
		return err
	}
	changed, err := c.merge(id, data)
	if err != nil {
		return err
	}
	if changed {
		c.notifyContent(ctx, id)
	}
	return nil
}

// merge imports or merges an encoded snapshot and reports whether content changed.
func (c *Coordinator) merge(id types.DocumentID, data []byte) (bool, error) {
	var snapshot crdt.Snapshot
	if err := codec.Decode(data, &snapshot); err != nil {
		return false, fmt.Errorf("%w: decode snapshot: %w", p2p.ErrMalformedMessage, err)
	}
	if snapshot.Document != id {
		return false, fmt.Errorf("%w: requested %s, received %s", crdt.ErrMalformedSnapshot, id, snapshot.Document)
	}
	_, err := c.replicas.Import("", "", &snapshot)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, crdt.ErrAlreadyExists) {
		return false, err
	}
	outcome, err := c.replicas.Merge(id, &snapshot)
	if err != nil {
		return false, err
	}
	return outcome.Changed(), nil
}

func (c *Coordinator) document(id types.DocumentID) (Document, error) {
	summary, err := c.replicas.Summary(id)
	if err != nil {
		return Document{}, toError(err)
	}
	content, version, err := c.replicas.Content(id)
	if err != nil {
		return Document{}, toError(err)
	}
	summary.Version = version
	return Document{DocumentSummary: summary, Content: content}, nil
}

// ApplyOperation applies an edit of the session user. A missing replica is recovered
// and the edit is applied as if the document existed. Returns the new version.
func (c *Coordinator) ApplyOperation(
	ctx context.Context,
	sid types.SessionID,
	id types.DocumentID,
	op types.Operation,
) (uint64, error) {
	version, err := c.applyOperation(ctx, sid, id, op)
	observeOperation("local", err)
	if err != nil {
		return version, toError(err)
	}
	return version, nil
}

func (c *Coordinator) applyOperation(
	ctx context.Context,
	sid types.SessionID,
	id types.DocumentID,
	op types.Operation,
) (uint64, error) {
	user, err := c.user(sid)
	if err != nil {
		return 0, err
	}
	if err := op.Validate(); err != nil {
		return 0, err
	}
	var (
		change  *crdt.Change
		version uint64
	)
	req := &branch.PendingRequest{Document: id, Session: sid, User: user, Operation: &op}
	err = c.branches.Do(ctx, req, func(context.Context) error {
		var err error
		change, version, err = c.replicas.Apply(id, user, op)
		return err
	})
	if err != nil {
		return version, err
	}
	c.join(ctx, id)
	data, err := codec.Encode(change)
	if err != nil {
		return version, fmt.Errorf("encode change: %w", err)
	}
	c.publish(ctx, &p2p.Envelope{Kind: p2p.KindOperations, Document: id, Data: data})
	c.notifyContent(ctx, id)
	return version, nil
}

// UpdatePresence publishes the cursor of the session user.
func (c *Coordinator) UpdatePresence(ctx context.Context, sid types.SessionID, presence types.Presence) error {
	user, err := c.user(sid)
	if err != nil {
		return toError(err)
	}
	if !presence.Selection.Valid() {
		return toError(fmt.Errorf("%w: selection %s", types.ErrInvalidOperation, presence.Selection))
	}
	if !c.replicas.Exists(presence.Document) {
		return toError(fmt.Errorf("%w: %s", crdt.ErrBranchNotFound, presence.Document))
	}
	presence.User = user
	data, err := codec.Encode(&PresenceUpdate{User: user, Cursor: presence.Cursor, Selection: presence.Selection})
	if err != nil {
		return toError(err)
	}
	env := &p2p.Envelope{Kind: p2p.KindPresence, Document: presence.Document, Data: data}
	if err := c.network.Broadcast(ctx, env); err != nil {
		log.Ctx(ctx, c.logger).Debug("presence broadcast failed", presence.Document.Field(), zap.Error(err))
	}
	c.notifier.PresenceUpdated(ctx, presence)
	return nil
}

// ListDocuments returns summaries of local replicas.
func (c *Coordinator) ListDocuments() []types.DocumentSummary {
	return c.replicas.List()
}

// Resume joins topics of every local replica and announces its metadata. Peers that
// are ahead reply with their metadata and the replica catches up from them.
func (c *Coordinator) Resume(ctx context.Context) int {
	docs := c.replicas.List()
	for _, summary := range docs {
		c.join(ctx, summary.ID)
		c.publishMeta(ctx, summary.ID)
	}
	return len(docs)
}

// ExportDocument returns the full state of the document.
func (c *Coordinator) ExportDocument(id types.DocumentID) (*crdt.Snapshot, error) {
	snapshot, err := c.replicas.Export(id)
	if err != nil {
		return nil, toError(err)
	}
	return snapshot, nil
}

// ImportDocument creates a replica from a snapshot. The session user owns the
// document unless the snapshot names an owner.
func (c *Coordinator) ImportDocument(
	ctx context.Context,
	sid types.SessionID,
	title string,
	snapshot *crdt.Snapshot,
) (types.DocumentSummary, error) {
	user, err := c.user(sid)
	if err != nil {
		return types.DocumentSummary{}, toError(err)
	}
	summary, err := c.replicas.Import(title, user, snapshot)
	if err != nil {
		return types.DocumentSummary{}, toError(err)
	}
	log.Ctx(ctx, c.logger).Info("document imported", zap.Object("document", &summary))
	c.join(ctx, summary.ID)
	c.publishMeta(ctx, summary.ID)
	return summary, nil
}

// HandleEnvelope implements p2p.Handler.
func (c *Coordinator) HandleEnvelope(ctx context.Context, from peer.ID, env *p2p.Envelope) error {
	switch env.Kind {
	case p2p.KindOperations:
		err := c.handleOperation(ctx, from, env)
		observeOperation("remote", err)
		return err
	case p2p.KindPresence:
		return c.handlePresence(ctx, from, env)
	case p2p.KindMetadata:
		return c.handleMetadata(ctx, from, env)
	}
	return fmt.Errorf("%w: kind %s", p2p.ErrMalformedMessage, env.Kind)
}

func (c *Coordinator) handleOperation(ctx context.Context, from peer.ID, env *p2p.Envelope) error {
	var change crdt.Change
	if err := codec.Decode(env.Data, &change); err != nil {
		return fmt.Errorf("%w: decode change: %w", p2p.ErrMalformedMessage, err)
	}
	if change.Document != env.Document {
		return fmt.Errorf("%w: change of %s on %s", p2p.ErrMalformedMessage, change.Document, env.Document)
	}
	if err := change.Validate(); err != nil {
		return fmt.Errorf("%w: %w", p2p.ErrMalformedMessage, err)
	}
	var rst crdt.ApplyResult
	req := &branch.PendingRequest{Document: env.Document, User: change.User, Source: from}
	err := c.branches.Do(ctx, req, func(context.Context) error {
		var err error
		rst, err = c.replicas.ApplyRemote(env.Document, &change)
		return err
	})
	if err != nil {
		cerr := toError(err)
		c.notifier.OperationError(ctx, env.Document, cerr.Code, cerr.Message)
		if errors.Is(err, crdt.ErrMalformedChange) {
			return fmt.Errorf("%w: %w", p2p.ErrMalformedMessage, err)
		}
		return err
	}
	c.join(ctx, env.Document)
	if rst.Applied > 0 {
		c.notifyContent(ctx, env.Document)
	}
	return nil
}

func (c *Coordinator) handlePresence(ctx context.Context, from peer.ID, env *p2p.Envelope) error {
	if p2p.IsAnnouncement(env.Data) {
		subscriber, err := p2p.DecodeAnnouncement(env.Data)
		if err != nil {
			return err
		}
		if !c.replicas.Exists(env.Document) {
			return nil
		}
		// a peer subscribed, let it know what we have
		reply, err := c.metaEnvelope(env.Document)
		if err != nil {
			return err
		}
		if err := c.network.SendDirect(ctx, subscriber, reply); err != nil {
			log.Ctx(ctx, c.logger).Debug("failed to send metadata to new subscriber",
				env.Document.Field(),
				zap.Stringer("peer", subscriber),
				zap.Stringer("relayed_by", from),
				zap.Error(err),
			)
		}
		return nil
	}
	var update PresenceUpdate
	if err := codec.Decode(env.Data, &update); err != nil {
		return fmt.Errorf("%w: decode presence: %w", p2p.ErrMalformedMessage, err)
	}
	if !c.replicas.Exists(env.Document) {
		return nil
	}
	c.notifier.PresenceUpdated(ctx, types.Presence{
		Document:  env.Document,
		User:      update.User,
		Cursor:    update.Cursor,
		Selection: update.Selection,
	})
	return nil
}

func (c *Coordinator) handleMetadata(ctx context.Context, from peer.ID, env *p2p.Envelope) error {
	var meta DocumentMeta
	if err := codec.Decode(env.Data, &meta); err != nil {
		return fmt.Errorf("%w: decode metadata: %w", p2p.ErrMalformedMessage, err)
	}
	_, _, err := c.replicas.MergeMeta(env.Document, meta.Meta)
	if errors.Is(err, crdt.ErrBranchNotFound) {
		// replicas are created by local requests and recovery, not by metadata
		return nil
	}
	if err != nil {
		return err
	}
	local, err := c.replicas.VersionVector(env.Document)
	if err != nil {
		return err
	}
	if !meta.Behind(local) {
		return nil
	}
	data, err := c.network.RequestSync(ctx, env.Document, from)
	if err != nil {
		log.Ctx(ctx, c.logger).Debug("failed to catch up", env.Document.Field(), zap.Error(err))
		return nil
	}
	changed, err := c.merge(env.Document, data)
	if err != nil {
		log.Ctx(ctx, c.logger).Warn("failed to merge snapshot", env.Document.Field(), zap.Error(err))
		return nil
	}
	if changed {
		c.notifyContent(ctx, env.Document)
	}
	return nil
}

// HandleSync implements p2p.Handler. Encoded snapshots are cached until the
// replica changes.
func (c *Coordinator) HandleSync(_ context.Context, id types.DocumentID) ([]byte, error) {
	summary, err := c.replicas.Summary(id)
	if err != nil {
		return nil, err
	}
	if cached, exist := c.snapshots.Get(id); exist && cached.summary.Equal(summary) {
		snapshotHit.Inc()
		return cached.data, nil
	}
	snapshotMiss.Inc()
	snapshot, err := c.replicas.Export(id)
	if err != nil {
		return nil, err
	}
	data, err := codec.Encode(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	c.snapshots.Add(id, encodedSnapshot{summary: snapshot.Summary(), data: data})
	return data, nil
}

// join subscribes to topics of a document that exists locally.
func (c *Coordinator) join(ctx context.Context, id types.DocumentID) {
	if err := c.network.Subscribe(ctx, id); err != nil {
		log.Ctx(ctx, c.logger).Warn("failed to subscribe", id.Field(), zap.Error(err))
	}
}

func (c *Coordinator) metaEnvelope(id types.DocumentID) (*p2p.Envelope, error) {
	meta, err := c.replicas.Meta(id)
	if err != nil {
		return nil, err
	}
	vv, err := c.replicas.VersionVector(id)
	if err != nil {
		return nil, err
	}
	msg := DocumentMeta{Meta: meta}
	for author, seq := range vv {
		msg.Versions = append(msg.Versions, crdt.VersionEntry{Author: author, Seq: seq})
	}
	slices.SortFunc(msg.Versions, func(a, b crdt.VersionEntry) int {
		return cmp.Compare(a.Author, b.Author)
	})
	data, err := codec.Encode(&msg)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return &p2p.Envelope{Kind: p2p.KindMetadata, Document: id, Data: data}, nil
}

func (c *Coordinator) publishMeta(ctx context.Context, id types.DocumentID) {
	env, err := c.metaEnvelope(id)
	if err != nil {
		c.logger.Warn("failed to prepare metadata", id.Field(), zap.Error(err))
		return
	}
	c.publish(ctx, env)
}

// publish broadcasts the envelope. If the topic has fewer than DirectFanout peers
// the envelope is also sent to connected peers outside of the topic, they recover
// the replica from this node.
func (c *Coordinator) publish(ctx context.Context, env *p2p.Envelope) {
	logger := log.Ctx(ctx, c.logger)
	if err := c.network.Broadcast(ctx, env); err != nil {
		logger.Debug("broadcast failed", zap.Object("envelope", env), zap.Error(err))
	}
	subscribers := c.network.TopicPeers(env.Topic())
	if len(subscribers) >= c.cfg.DirectFanout {
		return
	}
	var targets []peer.ID
	for _, pid := range c.network.Peers() {
		if len(subscribers)+len(targets) >= c.cfg.DirectFanout {
			break
		}
		if !slices.Contains(subscribers, pid) {
			targets = append(targets, pid)
		}
	}
	var eg errgroup.Group
	for _, pid := range targets {
		eg.Go(func() error {
			if err := c.network.SendDirect(ctx, pid, env); err != nil {
				logger.Debug("direct send failed",
					zap.Object("envelope", env),
					zap.Stringer("peer", pid),
					zap.Error(err),
				)
				return nil
			}
			directFanouts.WithLabelValues(env.Kind.String()).Inc()
			return nil
		})
	}
	_ = eg.Wait()
}

func (c *Coordinator) notifyContent(ctx context.Context, id types.DocumentID) {
	content, version, err := c.replicas.Content(id)
	if err != nil {
		return
	}
	c.notifier.DocumentUpdated(ctx, id, content, version)
}

type nopNotifier struct{}

func (nopNotifier) DocumentUpdated(context.Context, types.DocumentID, string, uint64) {}

func (nopNotifier) PresenceUpdated(context.Context, types.Presence) {}

func (nopNotifier) OperationError(context.Context, types.DocumentID, types.ErrorCode, string) {}
