// Package branch makes operations on documents without a local replica transparent
// to callers: the replica is recovered from a peer or created as a placeholder and
// the operation is retried once.
package branch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/texmesh/go-texmesh/codec"
	"github.com/texmesh/go-texmesh/common/types"
	"github.com/texmesh/go-texmesh/crdt"
	"github.com/texmesh/go-texmesh/log"
	"github.com/texmesh/go-texmesh/p2p"
)

// ErrRecoveryFailed is returned when the replica could not be recovered in time.
var ErrRecoveryFailed = errors.New("recovery failed")

// State of a request in Do.
type State uint8

const (
	Applying State = iota
	Recovering
	Retrying
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Applying:
		return "applying"
	case Recovering:
		return "recovering"
	case Retrying:
		return "retrying"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// Config for the Manager.
type Config struct {
	// RecoveryTimeout bounds a single recovery attempt, including the snapshot sync.
	RecoveryTimeout time.Duration `mapstructure:"recovery-timeout"`
}

// DefaultConfig for the Manager.
func DefaultConfig() Config {
	return Config{RecoveryTimeout: 30 * time.Second}
}

// PendingRequest is an operation waiting for the replica of its document.
type PendingRequest struct {
	Document types.DocumentID
	Session  types.SessionID
	User     types.UserID
	// Source is the peer that referenced the document, empty for local requests.
	Source peer.ID
	// Operation is set for local edits.
	Operation *types.Operation
	Created   time.Time
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (r *PendingRequest) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("document", r.Document.String())
	if r.Session != "" {
		enc.AddString("session", string(r.Session))
	}
	if r.Source != "" {
		enc.AddString("source", r.Source.String())
	}
	if r.Operation != nil {
		if err := enc.AddObject("operation", r.Operation); err != nil {
			return err
		}
	}
	return nil
}

type attempt struct {
	done chan struct{}
	err  error
}

// Opt for configuring Manager.
type Opt func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock sets the clock used for recovery timeouts.
func WithClock(clock clockwork.Clock) Opt {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithConfig overwrites the default configuration.
func WithConfig(cfg Config) Opt {
	return func(m *Manager) {
		m.cfg = cfg
	}
}

// Manager recovers missing replicas. Concurrent recoveries of one document collapse
// into a single attempt, so a replica is created at most once.
type Manager struct {
	logger   *zap.Logger
	clock    clockwork.Clock
	cfg      Config
	replicas *crdt.Engine
	syncer   syncer

	mu       sync.Mutex
	pending  map[*PendingRequest]struct{}
	inflight map[types.DocumentID]*attempt
}

// New creates a Manager.
func New(replicas *crdt.Engine, syncer syncer, opts ...Opt) *Manager {
	m := &Manager{
		logger:   zap.NewNop(),
		clock:    clockwork.NewRealClock(),
		cfg:      DefaultConfig(),
		replicas: replicas,
		syncer:   syncer,
		pending:  map[*PendingRequest]struct{}{},
		inflight: map[types.DocumentID]*attempt{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Do runs apply. If it fails with crdt.ErrBranchNotFound the replica is recovered
// and apply is retried once. Errors of apply are returned as is, failures to recover
// wrap ErrRecoveryFailed.
func (m *Manager) Do(ctx context.Context, req *PendingRequest, apply func(context.Context) error) error {
	var (
		state = Applying
		err   error
	)
	for {
		switch state {
		case Applying:
			err = apply(ctx)
			switch {
			case errors.Is(err, crdt.ErrBranchNotFound):
				state = Recovering
			case err != nil:
				state = Failed
			default:
				state = Done
			}
		case Recovering:
			if err = m.recover(ctx, req); err != nil {
				state = Failed
			} else {
				state = Retrying
			}
		case Retrying:
			err = apply(ctx)
			if errors.Is(err, crdt.ErrBranchNotFound) {
				err = fmt.Errorf("%w: %w", ErrRecoveryFailed, err)
			}
			if err != nil {
				state = Failed
			} else {
				state = Done
			}
		case Done:
			return nil
		case Failed:
			return err
		}
		log.Ctx(ctx, m.logger).Debug("request state", zap.Object("request", req), zap.Stringer("state", state))
	}
}

// Pending returns requests waiting for recovery, oldest first.
func (m *Manager) Pending() []PendingRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	rst := make([]PendingRequest, 0, len(m.pending))
	for req := range m.pending {
		rst = append(rst, *req)
	}
	slices.SortFunc(rst, func(a, b PendingRequest) int {
		return a.Created.Compare(b.Created)
	})
	return rst
}

func (m *Manager) recover(ctx context.Context, req *PendingRequest) error {
	if req.Created.IsZero() {
		req.Created = m.clock.Now()
	}
	m.mu.Lock()
	m.pending[req] = struct{}{}
	a, exist := m.inflight[req.Document]
	if !exist {
		a = &attempt{done: make(chan struct{})}
		m.inflight[req.Document] = a
		go m.run(context.WithoutCancel(ctx), req, a)
	} else {
		collapsedRecoveries.Inc()
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, req)
		m.mu.Unlock()
	}()
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %w", ErrRecoveryFailed, req.Document, ctx.Err())
	}
}

func (m *Manager) run(ctx context.Context, req *PendingRequest, a *attempt) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		timer := m.clock.NewTimer(m.cfg.RecoveryTimeout)
		defer timer.Stop()
		select {
		case <-timer.Chan():
			cancel()
		case <-ctx.Done():
		}
	}()
	outcome, err := m.attempt(ctx, req)
	if err != nil {
		outcome = "failed"
		err = fmt.Errorf("%w: %s: %w", ErrRecoveryFailed, req.Document, err)
		log.Ctx(ctx, m.logger).Warn("branch recovery failed", zap.Object("request", req), zap.Error(err))
	} else {
		log.Ctx(ctx, m.logger).Info("branch recovered", zap.Object("request", req), zap.String("outcome", outcome))
	}
	recoveries.WithLabelValues(outcome).Inc()
	m.mu.Lock()
	delete(m.inflight, req.Document)
	a.err = err
	close(a.done)
	m.mu.Unlock()
}

// attempt creates the replica. A snapshot is requested from the peer that referenced
// the document, or from any peer that may hold it for local requests. An empty
// placeholder is created only when no peer serves the snapshot.
func (m *Manager) attempt(ctx context.Context, req *PendingRequest) (string, error) {
	if m.replicas.Exists(req.Document) {
		return "exists", nil
	}
	outcome, err := m.sync(ctx, req)
	if !errors.Is(err, p2p.ErrSyncUnavailable) {
		return outcome, err
	}
	log.Ctx(ctx, m.logger).Debug("creating placeholder, snapshot is unavailable",
		req.Document.Field(),
		zap.Error(err),
	)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	meta := crdt.Meta{}
	if req.Source == "" {
		meta.Owner = req.User
	}
	_, err = m.replicas.Create(req.Document, meta, "")
	switch {
	case errors.Is(err, crdt.ErrAlreadyExists):
		return "exists", nil
	case err != nil:
		return "", err
	}
	return "placeholder", nil
}

func (m *Manager) sync(ctx context.Context, req *PendingRequest) (string, error) {
	var candidates []peer.ID
	if req.Source != "" {
		candidates = append(candidates, req.Source)
	}
	data, err := m.syncer.RequestSync(ctx, req.Document, candidates...)
	if err != nil {
		return "", err
	}
	var snapshot crdt.Snapshot
	if err := codec.Decode(data, &snapshot); err != nil {
		return "", fmt.Errorf("decode snapshot: %w", err)
	}
	if snapshot.Document != req.Document {
		return "", fmt.Errorf("%w: received %s", crdt.ErrMalformedSnapshot, snapshot.Document)
	}
	// a local user editing the document becomes its collaborator
	_, err = m.replicas.Import("", req.User, &snapshot)
	if errors.Is(err, crdt.ErrAlreadyExists) {
		_, err = m.replicas.Merge(req.Document, &snapshot)
	}
	if err != nil {
		return "", err
	}
	return "synced", nil
}
