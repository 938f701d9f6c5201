// Package checkpoint persists replicas to the local database and restores them
// at startup.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/texmesh/go-texmesh/codec"
	"github.com/texmesh/go-texmesh/common/types"
	"github.com/texmesh/go-texmesh/crdt"
	"github.com/texmesh/go-texmesh/sql"
	"github.com/texmesh/go-texmesh/sql/documents"
)

// Config for periodic checkpoints.
type Config struct {
	Interval time.Duration `mapstructure:"interval"`
	// ExportDir receives the rendered content of every checkpointed document as
	// <document id>.tex. Disabled when empty.
	ExportDir string `mapstructure:"export-dir"`
}

// DefaultConfig returns the default checkpoint configuration.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
	}
}

type replicas interface {
	List() []types.DocumentSummary
	Export(types.DocumentID) (*crdt.Snapshot, error)
	Import(string, types.UserID, *crdt.Snapshot) (types.DocumentSummary, error)
}

// Opt for configuring Checkpointer.
type Opt func(*Checkpointer)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(c *Checkpointer) {
		c.logger = logger
	}
}

// WithClock sets the clock driving the checkpoint interval.
func WithClock(clock clockwork.Clock) Opt {
	return func(c *Checkpointer) {
		c.clock = clock
	}
}

// WithConfig overwrites the default configuration.
func WithConfig(cfg Config) Opt {
	return func(c *Checkpointer) {
		c.cfg = cfg
	}
}

// WithFilesystem sets the filesystem used for exported documents.
func WithFilesystem(fs afero.Fs) Opt {
	return func(c *Checkpointer) {
		c.fs = fs
	}
}

// Checkpointer writes replicas that changed since the last checkpoint to the database.
// Local changes after the last checkpoint are lost on a crash, the engine of the next
// run authors changes under a new incarnation.
type Checkpointer struct {
	logger   *zap.Logger
	clock    clockwork.Clock
	cfg      Config
	fs       afero.Fs
	db       *sql.Database
	replicas replicas

	mu        sync.Mutex
	persisted map[types.DocumentID]types.DocumentSummary
}

// New creates a Checkpointer.
func New(replicas replicas, db *sql.Database, opts ...Opt) *Checkpointer {
	c := &Checkpointer{
		logger:    zap.NewNop(),
		clock:     clockwork.NewRealClock(),
		cfg:       DefaultConfig(),
		fs:        afero.NewOsFs(),
		db:        db,
		replicas:  replicas,
		persisted: map[types.DocumentID]types.DocumentSummary{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Recover imports every persisted snapshot. Snapshots that fail to decode are
// skipped, replicas that already exist are left untouched.
func (c *Checkpointer) Recover(ctx context.Context) (int, error) {
	type entry struct {
		id   types.DocumentID
		blob []byte
	}
	var entries []entry
	if err := documents.IterateSnapshots(c.db, func(id types.DocumentID, blob []byte) bool {
		entries = append(entries, entry{id: id, blob: blob})
		return ctx.Err() == nil
	}); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, e := range entries {
		var snapshot crdt.Snapshot
		if err := codec.Decode(e.blob, &snapshot); err != nil {
			recoveredCorrupt.Inc()
			c.logger.Warn("skipping corrupted snapshot", e.id.Field(), zap.Error(err))
			continue
		}
		if snapshot.Document != e.id {
			recoveredCorrupt.Inc()
			c.logger.Warn("skipping snapshot of another document",
				e.id.Field(),
				zap.Stringer("snapshot_id", snapshot.Document),
			)
			continue
		}
		summary, err := c.replicas.Import("", "", &snapshot)
		switch {
		case errors.Is(err, crdt.ErrAlreadyExists):
			continue
		case err != nil:
			return count, fmt.Errorf("import %v: %w", e.id, err)
		}
		c.persisted[e.id] = summary
		recoveredOk.Inc()
		count++
	}
	c.logger.Info("recovered documents", zap.Int("count", count), zap.Int("persisted", len(entries)))
	return count, nil
}

// Checkpoint writes every replica whose summary differs from the persisted one and
// returns the number of written replicas.
func (c *Checkpointer) Checkpoint(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { duration.Observe(time.Since(start).Seconds()) }()
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, summary := range c.replicas.List() {
		if last, exist := c.persisted[summary.ID]; exist && last.Equal(summary) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return count, err
		}
		snapshot, err := c.replicas.Export(summary.ID)
		if err != nil {
			return count, fmt.Errorf("export %v: %w", summary.ID, err)
		}
		if err := c.persist(ctx, snapshot); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (c *Checkpointer) persist(ctx context.Context, snapshot *crdt.Snapshot) error {
	blob, err := codec.Encode(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot %v: %w", snapshot.Document, err)
	}
	summary := snapshot.Summary()
	if err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		return documents.Upsert(tx, &summary, blob, c.clock.Now())
	}); err != nil {
		return err
	}
	if c.cfg.ExportDir != "" {
		path := filepath.Join(c.cfg.ExportDir, summary.ID.String()+".tex")
		if err := writeExport(c.fs, path, snapshot.Content()); err != nil {
			return fmt.Errorf("export %v: %w", summary.ID, err)
		}
	}
	c.persisted[summary.ID] = summary
	persisted.Inc()
	c.logger.Debug("persisted document", zap.Object("summary", &summary))
	return nil
}

// Run checkpoints on every interval until ctx is canceled. A final checkpoint is
// made before returning.
func (c *Checkpointer) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			n, err := c.Checkpoint(context.Background())
			if err != nil {
				return fmt.Errorf("final checkpoint: %w", err)
			}
			c.logger.Info("final checkpoint", zap.Int("persisted", n))
			return nil
		case <-ticker.Chan():
			n, err := c.Checkpoint(ctx)
			switch {
			case err != nil && ctx.Err() == nil:
				c.logger.Error("checkpoint failed", zap.Error(err))
			case n > 0:
				c.logger.Debug("checkpoint", zap.Int("persisted", n))
			}
		}
	}
}
