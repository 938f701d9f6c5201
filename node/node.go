// Package node contains the main executable for go-texmesh node
package node

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/texmesh/go-texmesh/branch"
	"github.com/texmesh/go-texmesh/checkpoint"
	"github.com/texmesh/go-texmesh/config"
	"github.com/texmesh/go-texmesh/config/presets"
	"github.com/texmesh/go-texmesh/coordinator"
	"github.com/texmesh/go-texmesh/crdt"
	"github.com/texmesh/go-texmesh/filesystem"
	"github.com/texmesh/go-texmesh/log"
	"github.com/texmesh/go-texmesh/metrics"
	"github.com/texmesh/go-texmesh/p2p"
	"github.com/texmesh/go-texmesh/session"
	"github.com/texmesh/go-texmesh/sql"
)

// Logger names.
const (
	P2PLogger         = "p2p"
	CRDTLogger        = "crdt"
	BranchLogger      = "branch"
	SessionLogger     = "session"
	CoordinatorLogger = "coordinator"
	CheckpointLogger  = "checkpoint"
	DatabaseLogger    = "db"
	MetricsLogger     = "metrics"
)

// Version is set at build time.
var Version = "dev"

const databaseFile = "state.sql"

// GetCommand returns the command that starts a node.
func GetCommand() *cobra.Command {
	conf := config.DefaultConfig()
	var configPath string
	c := &cobra.Command{
		Use:          "node",
		Short:        "start texmesh node",
		SilenceUsage: true,
		RunE: func(c *cobra.Command, args []string) error {
			if err := configure(c, configPath, &conf); err != nil {
				return err
			}
			logger, err := log.New(conf.Logging)
			if err != nil {
				return log.ErrMalformedConfig(err)
			}
			defer logger.Sync()
			if err := log.RedirectLibp2p(logger.Named(P2PLogger), conf.Logging); err != nil {
				return log.ErrMalformedConfig(err)
			}

			app := New(WithConfig(&conf), WithLog(logger))

			// os.Interrupt for all systems, syscall.SIGTERM is mainly for docker.
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := app.Initialize(); err != nil {
				return fmt.Errorf("initializing app: %w", err)
			}
			if err := app.Lock(); err != nil {
				return fmt.Errorf("getting exclusive file lock: %w", err)
			}
			defer app.Unlock()

			defer app.Stop()
			if err := app.Start(ctx); err != nil {
				logger.Error("node failed", zap.Error(err))
				return err
			}
			return nil
		},
	}
	c.PersistentFlags().StringVarP(&configPath, "config", "c", "", "load configuration from file")
	AddFlags(c.PersistentFlags(), &conf)

	c.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(c *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	})
	return c
}

func configure(c *cobra.Command, configPath string, conf *config.Config) error {
	preset := conf.Preset // might be set via CLI flag
	if err := LoadConfig(conf, preset, configPath); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// apply CLI args to config
	if err := c.ParseFlags(os.Args[1:]); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}
	return nil
}

// LoadConfig loads config and preset (if provided) into the provided config.
// It first loads the preset and then overrides it with values from the config file.
func LoadConfig(cfg *config.Config, preset, path string) error {
	v := viper.New()
	if path != "" {
		if err := config.ReadFile(path, v); err != nil {
			return log.ErrMalformedConfig(err)
		}
	}
	if len(preset) == 0 && v.IsSet("preset") {
		preset = v.GetString("preset")
	}
	if len(preset) > 0 {
		p, err := presets.Get(preset)
		if err != nil {
			return err
		}
		*cfg = p
	}
	if err := config.Decode(v, cfg); err != nil {
		return log.ErrMalformedConfig(err)
	}
	// the file may name another preset than the one applied
	cfg.Preset = preset
	return nil
}

// Option to modify an App instance.
type Option func(app *App)

// WithLog enables logger for an App.
func WithLog(logger *zap.Logger) Option {
	return func(app *App) {
		app.log = logger
	}
}

// WithConfig overwrites default App config.
func WithConfig(conf *config.Config) Option {
	return func(app *App) {
		app.Config = conf
	}
}

// WithNotifier sets the consumer of document and presence events.
func WithNotifier(notifier coordinator.Notifier) Option {
	return func(app *App) {
		app.notifier = notifier
	}
}

// New creates an instance of the texmesh app.
func New(opts ...Option) *App {
	defaultConfig := config.DefaultConfig()
	app := &App{
		Config:  &defaultConfig,
		log:     zap.NewNop(),
		started: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// App is the cli app singleton.
type App struct {
	Config   *config.Config
	log      *zap.Logger
	notifier coordinator.Notifier

	fileLock     *flock.Flock
	db           *sql.Database
	host         *p2p.Host
	engine       *crdt.Engine
	branches     *branch.Manager
	sessions     *session.Registry
	coordinator  *coordinator.Coordinator
	checkpointer *checkpoint.Checkpointer
	metrics      *metrics.Server

	eg      errgroup.Group
	started chan struct{}
}

// Lock acquires the exclusive lock on the data directory.
func (app *App) Lock() error {
	lockDir := filepath.Dir(app.Config.FileLock)
	if _, err := os.Stat(lockDir); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(lockDir, filesystem.OwnerReadWriteExec); err != nil {
			return fmt.Errorf("creating dir %s for lock %s: %w", lockDir, app.Config.FileLock, err)
		}
	}
	fl := flock.New(app.Config.FileLock)
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("flock %s: %w", app.Config.FileLock, err)
	} else if !locked {
		return fmt.Errorf("only one texmesh instance should be running (locking file %s)", fl.Path())
	}
	app.fileLock = fl
	return nil
}

// Unlock releases the file lock.
func (app *App) Unlock() {
	if app.fileLock == nil {
		return
	}
	if err := app.fileLock.Unlock(); err != nil {
		app.log.Error("failed to unlock file",
			zap.String("path", app.fileLock.Path()),
			zap.Error(err),
		)
	}
	app.fileLock = nil
}

// Initialize ensures that the data directory exists.
func (app *App) Initialize() error {
	dir, err := filesystem.EnsureDirectory(app.Config.DataDir())
	if err != nil {
		return log.ErrEnsureDataDir(err)
	}
	app.log.Info("using data directory", zap.String("path", dir))
	return nil
}

func (app *App) addLogger(name string) *zap.Logger {
	return log.Named(app.log, app.Config.Logging, name)
}

func (app *App) setupDatabase() error {
	path := filepath.Join(app.Config.DataDir(), databaseFile)
	db, err := sql.Open("file:"+path,
		sql.WithLogger(app.addLogger(DatabaseLogger)),
		sql.WithConnections(app.Config.DatabaseConnections),
		sql.WithLatencyMetering(app.Config.DatabaseLatencyMetering),
	)
	if err != nil {
		return log.ErrOpenDatabase(err)
	}
	if app.Config.DatabaseVacuum {
		if err := sql.Vacuum(db); err != nil {
			return errors.Join(fmt.Errorf("vacuum %s: %w", path, err), db.Close())
		}
	}
	app.db = db
	return nil
}

func (app *App) initServices(ctx context.Context) error {
	p2pCfg := app.Config.P2P
	if p2pCfg.DataDir == "" {
		p2pCfg.DataDir = app.Config.DataDir()
	}
	host, err := p2p.New(ctx, app.addLogger(P2PLogger), p2pCfg)
	if err != nil {
		return err
	}
	app.host = host

	app.engine = crdt.New(crdt.Incarnation(host.ID().String()),
		crdt.WithLogger(app.addLogger(CRDTLogger)),
		crdt.WithConfig(app.Config.CRDT),
	)
	app.branches = branch.New(app.engine, host,
		branch.WithLogger(app.addLogger(BranchLogger)),
		branch.WithConfig(app.Config.Branch),
	)
	app.sessions = session.New(session.WithLogger(app.addLogger(SessionLogger)))
	copts := []coordinator.Opt{
		coordinator.WithLogger(app.addLogger(CoordinatorLogger)),
		coordinator.WithConfig(app.Config.Coordinator),
	}
	if app.notifier != nil {
		copts = append(copts, coordinator.WithNotifier(app.notifier))
	}
	app.coordinator, err = coordinator.New(app.engine, host, app.branches, app.sessions, copts...)
	if err != nil {
		return err
	}
	host.SetHandler(app.coordinator)

	app.checkpointer = checkpoint.New(app.engine, app.db,
		checkpoint.WithLogger(app.addLogger(CheckpointLogger)),
		checkpoint.WithConfig(app.Config.Checkpoint),
	)
	if app.Config.CollectMetrics {
		app.metrics, err = metrics.NewServer(app.addLogger(MetricsLogger), app.Config.MetricsAddress)
		if err != nil {
			return err
		}
	}
	return nil
}

func (app *App) startServices(ctx context.Context) error {
	if _, err := app.checkpointer.Recover(ctx); err != nil {
		return fmt.Errorf("recover documents: %w", err)
	}
	if err := app.host.Start(); err != nil {
		return fmt.Errorf("start p2p host: %w", err)
	}
	resumed := app.coordinator.Resume(ctx)
	app.log.Info("node started",
		zap.Stringer("identity", app.host.ID()),
		zap.Any("addresses", app.host.Addrs()),
		zap.Int("documents", resumed),
	)
	app.eg.Go(func() error {
		return app.checkpointer.Run(ctx)
	})
	if app.metrics != nil {
		app.eg.Go(func() error {
			return app.metrics.Run(ctx)
		})
	}
	return nil
}

// Start the node and block until ctx is canceled.
func (app *App) Start(ctx context.Context) error {
	if err := app.setupDatabase(); err != nil {
		return err
	}
	if err := app.initServices(ctx); err != nil {
		return fmt.Errorf("init services: %w", err)
	}
	if err := app.startServices(ctx); err != nil {
		return err
	}
	close(app.started)
	<-ctx.Done()
	return app.eg.Wait()
}

// Stop releases resources of the started node. Background workers must be stopped
// by canceling the context passed to Start.
func (app *App) Stop() {
	if app.host != nil {
		if err := app.host.Stop(); err != nil {
			app.log.Warn("failed to stop p2p host", zap.Error(err))
		}
		app.host = nil
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.log.Warn("failed to close database", zap.Error(err))
		}
		app.db = nil
	}
}

// Started is closed when all services are running.
func (app *App) Started() <-chan struct{} {
	return app.started
}

// Coordinator returns the document coordinator. Valid after Started is closed.
func (app *App) Coordinator() *coordinator.Coordinator {
	return app.coordinator
}

// Host returns the p2p host. Valid after Started is closed.
func (app *App) Host() *p2p.Host {
	return app.host
}
