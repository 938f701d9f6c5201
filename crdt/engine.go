// Package crdt implements replicas of collaborative documents. Every document is a
// replicated growable array of runes: local operations are converted to changes that
// can be applied on other replicas in any causally consistent order, and whole
// replica states can be merged. Replicas that observed the same set of changes hold
// identical content.
package crdt

import (
	"encoding/binary"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/texmesh/go-texmesh/common/types"
)

// Config for the replica engine.
type Config struct {
	// Shards is the number of independently locked partitions of the registry.
	Shards int `mapstructure:"shards"`
	// MaxPending limits the number of changes buffered per replica while waiting
	// for their dependencies.
	MaxPending int `mapstructure:"max-pending"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Shards:     32,
		MaxPending: 10_000,
	}
}

// Opt for configuring Engine.
type Opt func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock sets the clock used for metadata timestamps.
func WithClock(clock clockwork.Clock) Opt {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithConfig overwrites the default configuration.
func WithConfig(cfg Config) Opt {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

type shard struct {
	mu       sync.RWMutex
	replicas map[types.DocumentID]*replica
}

// Engine holds replicas of all documents known to the node.
type Engine struct {
	logger *zap.Logger
	clock  clockwork.Clock
	cfg    Config
	self   string

	shards []shard
}

// New creates an engine. self identifies changes authored on this node and must be
// unique among peers, the libp2p peer id is a natural choice.
func New(self string, opts ...Opt) *Engine {
	e := &Engine{
		logger: zap.NewNop(),
		clock:  clockwork.NewRealClock(),
		cfg:    DefaultConfig(),
		self:   self,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.Shards <= 0 {
		e.cfg.Shards = 1
	}
	e.shards = make([]shard, e.cfg.Shards)
	for i := range e.shards {
		e.shards[i].replicas = map[types.DocumentID]*replica{}
	}
	return e
}

// Self returns the author id of changes produced by this engine.
func (e *Engine) Self() string {
	return e.self
}

// Incarnation returns an author id for one run of the node identified by base.
// Local sequences restart from the last checkpoint, changes of different runs
// never share an (author, seq) pair.
func Incarnation(base string) string {
	run := uuid.New()
	return fmt.Sprintf("%s/%x", base, run[:8])
}

func (e *Engine) shard(id types.DocumentID) *shard {
	return &e.shards[binary.BigEndian.Uint32(id[:4])%uint32(len(e.shards))]
}

func (e *Engine) get(id types.DocumentID) (*replica, error) {
	s := e.shard(id)
	s.mu.RLock()
	r, exist := s.replicas[id]
	s.mu.RUnlock()
	if !exist {
		return nil, fmt.Errorf("%w: %s", ErrBranchNotFound, id)
	}
	return r, nil
}

// insert adds a fully initialized replica unless one with the same id already exists.
func (e *Engine) insert(r *replica) error {
	s := e.shard(r.id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exist := s.replicas[r.id]; exist {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, r.id)
	}
	s.replicas[r.id] = r
	documents.Inc()
	return nil
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

// Create makes a new replica with the given metadata. Non-empty initial content is
// applied as the first change authored by this node on behalf of the owner.
func (e *Engine) Create(id types.DocumentID, meta Meta, content string) (types.DocumentSummary, error) {
	now := e.now()
	meta = meta.Clone()
	if meta.Created.IsZero() {
		meta.Created = now
	}
	if meta.Updated.IsZero() {
		meta.Updated = meta.Created
	}
	meta.Collaborators = types.AddCollaborator(meta.Collaborators, meta.Owner)
	r := newReplica(id, e.self, meta, e.cfg.MaxPending)
	if content != "" {
		if _, err := r.applyLocal(meta.Owner, types.Insert(0, content), now); err != nil {
			return types.DocumentSummary{}, err
		}
	}
	if err := e.insert(r); err != nil {
		return types.DocumentSummary{}, err
	}
	e.logger.Debug("created replica",
		id.Field(),
		zap.String("owner", string(meta.Owner)),
		zap.Int("content_len", r.visible),
	)
	return r.summary(), nil
}

// Apply validates a local operation, applies it to the replica and returns the change
// to be propagated to peers together with the new version. Content is unchanged on error.
func (e *Engine) Apply(id types.DocumentID, user types.UserID, op types.Operation) (*Change, uint64, error) {
	if err := op.Validate(); err != nil {
		return nil, 0, err
	}
	r, err := e.get(id)
	if err != nil {
		return nil, 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	change, err := r.applyLocal(user, op, e.now())
	if err != nil {
		return nil, r.version, err
	}
	localApplied.Inc()
	return change, r.version, nil
}

// ApplyRemote integrates a change received from a peer.
func (e *Engine) ApplyRemote(id types.DocumentID, change *Change) (ApplyResult, error) {
	if change.Document != id {
		remoteRejected.Inc()
		return ApplyResult{}, fmt.Errorf("%w: change for %s applied to %s", ErrMalformedChange, change.Document, id)
	}
	if err := change.Validate(); err != nil {
		remoteRejected.Inc()
		return ApplyResult{}, err
	}
	r, err := e.get(id)
	if err != nil {
		return ApplyResult{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rst, err := r.applyRemote(change, e.now())
	switch {
	case err != nil:
		remoteRejected.Inc()
		return rst, err
	case rst.Duplicate:
		remoteDuplicate.Inc()
	case rst.Buffered:
		remoteBuffered.Inc()
		e.logger.Debug("buffered change with missing dependencies",
			zap.Object("change", change),
			zap.Int("pending", len(r.pending)),
		)
	default:
		remoteApplied.Add(float64(rst.Applied))
	}
	return rst, nil
}

// Merge merges a snapshot of another replica of the same document.
func (e *Engine) Merge(id types.DocumentID, snapshot *Snapshot) (MergeOutcome, error) {
	if snapshot.Document != id {
		return MergeOutcome{}, fmt.Errorf("%w: snapshot of %s merged into %s",
			ErrMalformedSnapshot, snapshot.Document, id)
	}
	r, err := e.get(id)
	if err != nil {
		return MergeOutcome{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	outcome, err := r.merge(snapshot)
	if err != nil {
		return outcome, err
	}
	if outcome.Changed() {
		mergesChanged.Inc()
	} else {
		mergesUnchanged.Inc()
	}
	return outcome, nil
}

// Export returns the full state of the replica.
func (e *Engine) Export(id types.DocumentID) (*Snapshot, error) {
	r, err := e.get(id)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.export(), nil
}

// Import creates a replica from a snapshot. The snapshot document id is kept if set,
// otherwise a new one is generated. title overrides the snapshot title when not empty.
// owner becomes the owner of a snapshot that has none and a collaborator otherwise.
func (e *Engine) Import(title string, owner types.UserID, snapshot *Snapshot) (types.DocumentSummary, error) {
	id := snapshot.Document
	if id.Empty() {
		id = types.RandomDocumentID()
		clone := *snapshot
		clone.Document = id
		snapshot = &clone
	}
	meta := snapshot.Meta.Clone()
	if meta.Owner == "" {
		meta.Owner = owner
	}
	meta.Collaborators = types.AddCollaborator(meta.Collaborators, owner)
	if title != "" && title != meta.Title {
		meta.Title = title
		meta.Updated = e.now()
	}
	if meta.Created.IsZero() && meta.Owner != "" {
		meta.Created = e.now()
	}
	r := newReplica(id, e.self, meta, e.cfg.MaxPending)
	if _, err := r.merge(snapshot); err != nil {
		return types.DocumentSummary{}, err
	}
	// metadata was derived from the snapshot above, overrides must survive the merge
	r.meta = meta
	if err := e.insert(r); err != nil {
		return types.DocumentSummary{}, err
	}
	e.logger.Debug("imported replica",
		id.Field(),
		zap.Int("elements", len(snapshot.Elements)),
		zap.Int("content_len", r.visible),
	)
	return r.summary(), nil
}

// Content returns the visible text and version of the replica.
func (e *Engine) Content(id types.DocumentID) (string, uint64, error) {
	r, err := e.get(id)
	if err != nil {
		return "", 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.content(), r.version, nil
}

// Summary returns the document summary.
func (e *Engine) Summary(id types.DocumentID) (types.DocumentSummary, error) {
	r, err := e.get(id)
	if err != nil {
		return types.DocumentSummary{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.summary(), nil
}

// Meta returns a copy of the replicated metadata.
func (e *Engine) Meta(id types.DocumentID) (Meta, error) {
	r, err := e.get(id)
	if err != nil {
		return Meta{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.meta.Clone(), nil
}

// MergeMeta merges metadata received from a peer. It returns the merged
// metadata and whether the local state changed.
func (e *Engine) MergeMeta(id types.DocumentID, meta Meta) (Meta, bool, error) {
	r, err := e.get(id)
	if err != nil {
		return Meta{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	merged := r.meta.merge(meta)
	changed := !metaEqual(r.meta, merged)
	r.meta = merged
	return merged.Clone(), changed, nil
}

func metaEqual(a, b Meta) bool {
	return a.Title == b.Title &&
		a.Owner == b.Owner &&
		a.Repository == b.Repository &&
		a.Created.Equal(b.Created) &&
		a.Updated.Equal(b.Updated) &&
		slices.Equal(a.Collaborators, b.Collaborators)
}

// Exists is true if the engine holds a replica of the document.
func (e *Engine) Exists(id types.DocumentID) bool {
	_, err := e.get(id)
	return err == nil
}

// List returns summaries of all documents ordered by creation time.
func (e *Engine) List() []types.DocumentSummary {
	var rst []types.DocumentSummary
	for i := range e.shards {
		s := &e.shards[i]
		s.mu.RLock()
		replicas := make([]*replica, 0, len(s.replicas))
		for _, r := range s.replicas {
			replicas = append(replicas, r)
		}
		s.mu.RUnlock()
		for _, r := range replicas {
			r.mu.RLock()
			rst = append(rst, r.summary())
			r.mu.RUnlock()
		}
	}
	slices.SortFunc(rst, func(a, b types.DocumentSummary) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return rst
}

// Versions returns current versions of all replicas.
func (e *Engine) Versions() map[types.DocumentID]uint64 {
	rst := map[types.DocumentID]uint64{}
	for i := range e.shards {
		s := &e.shards[i]
		s.mu.RLock()
		for id, r := range s.replicas {
			r.mu.RLock()
			rst[id] = r.version
			r.mu.RUnlock()
		}
		s.mu.RUnlock()
	}
	return rst
}

// Pending returns the number of changes buffered for the document.
func (e *Engine) Pending(id types.DocumentID) (int, error) {
	r, err := e.get(id)
	if err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending), nil
}

// VersionVector returns a copy of the version vector of the replica.
func (e *Engine) VersionVector(id types.DocumentID) (map[string]uint64, error) {
	r, err := e.get(id)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.vv), nil
}
