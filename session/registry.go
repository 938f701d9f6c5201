// Package session binds transport connections to authenticated users.
package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/texmesh/go-texmesh/common/types"
)

// Session is the identity binding of a connection.
type Session struct {
	ID   types.SessionID
	User types.UserID
	// Bound is the time of the last authentication.
	Bound time.Time
	// Rebinds counts how many times the record moved to a new connection.
	Rebinds int
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s *Session) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("session", string(s.ID))
	enc.AddString("user", string(s.User))
	enc.AddInt("rebinds", s.Rebinds)
	return nil
}

// Opt for configuring Registry.
type Opt func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithClock sets the clock.
func WithClock(clock clockwork.Clock) Opt {
	return func(r *Registry) {
		r.clock = clock
	}
}

// Registry keeps one record per user. A connection maps to at most one user.
type Registry struct {
	logger *zap.Logger
	clock  clockwork.Clock

	mu        sync.RWMutex
	bySession map[types.SessionID]*Session
	byUser    map[types.UserID]*Session
}

// New creates an empty Registry.
func New(opts ...Opt) *Registry {
	r := &Registry{
		logger:    zap.NewNop(),
		clock:     clockwork.NewRealClock(),
		bySession: map[types.SessionID]*Session{},
		byUser:    map[types.UserID]*Session{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Authenticate binds session to user. If the user already has a record on another
// connection the record is re-bound to session and true is returned. If session was
// bound to a different user, that binding is dropped first.
func (r *Registry) Authenticate(id types.SessionID, user types.UserID) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, exist := r.bySession[id]; exist && current.User != user {
		r.logger.Debug("connection switched user",
			zap.String("session", string(id)),
			zap.String("from", string(current.User)),
			zap.String("to", string(user)),
		)
		delete(r.byUser, current.User)
		delete(r.bySession, id)
		active.Set(float64(len(r.byUser)))
	}
	now := r.clock.Now()
	record, exist := r.byUser[user]
	if !exist {
		record = &Session{ID: id, User: user, Bound: now}
		r.byUser[user] = record
		r.bySession[id] = record
		active.Set(float64(len(r.byUser)))
		return *record, false
	}
	rebound := record.ID != id
	if rebound {
		delete(r.bySession, record.ID)
		record.ID = id
		record.Rebinds++
		r.bySession[id] = record
		rebinds.Inc()
		r.logger.Debug("session re-bound", zap.Object("session", record))
	}
	record.Bound = now
	return *record, rebound
}

// Lookup returns the binding of the connection.
func (r *Registry) Lookup(id types.SessionID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, exist := r.bySession[id]
	if !exist {
		return Session{}, false
	}
	return *record, true
}

// Close removes the binding of the connection. A connection that was replaced by
// re-authentication is not bound anymore, closing it keeps the user's record.
func (r *Registry) Close(id types.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, exist := r.bySession[id]
	if !exist {
		return false
	}
	delete(r.bySession, id)
	delete(r.byUser, record.User)
	active.Set(float64(len(r.byUser)))
	return true
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
