// Package discovery finds replicas of a document beyond the peers sharing its
// gossip topic. Every node providing a document announces itself in a kademlia
// dht under the document namespace.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	levelds "github.com/ipfs/go-ds-leveldb"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	record "github.com/libp2p/go-libp2p-record"
	p2pdisc "github.com/libp2p/go-libp2p/core/discovery"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	p2pdiscr "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	ldbopts "github.com/syndtr/goleveldb/leveldb/opt"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/texmesh/go-texmesh/common/types"
)

const (
	protocolPrefix = "/texkad"
	// ProtocolID of the dht.
	ProtocolID = protocolPrefix + "/kad/1.0.0"

	namespacePrefix = "texmesh/doc/"
)

// Namespace under which replicas of the document are announced.
func Namespace(id types.DocumentID) string {
	return namespacePrefix + id.String()
}

// DefaultConfig for the dht discovery. Disabled by default.
func DefaultConfig() Config {
	return Config{
		Public:            true,
		MinPeers:          5,
		Period:            10 * time.Second,
		Timeout:           30 * time.Second,
		BootstrapDuration: 30 * time.Second,
		AdvertiseTTL:      time.Hour,
	}
}

// Config of the dht discovery.
type Config struct {
	Enable bool `mapstructure:"enable"`
	// Server answers dht queries of other nodes, otherwise the mode is picked
	// by reachability.
	Server bool `mapstructure:"server"`
	// Public filters out private addresses from queries and routing table.
	Public            bool          `mapstructure:"public"`
	MinPeers          int           `mapstructure:"min-peers"`
	Period            time.Duration `mapstructure:"period"`
	Timeout           time.Duration `mapstructure:"timeout"`
	BootstrapDuration time.Duration `mapstructure:"bootstrap-duration"`
	AdvertiseTTL      time.Duration `mapstructure:"advertise-ttl"`
}

// Opt modifies Discovery.
type Opt func(*Discovery)

func WithPeriod(period time.Duration) Opt {
	return func(d *Discovery) {
		d.period = period
	}
}

func WithTimeout(timeout time.Duration) Opt {
	return func(d *Discovery) {
		d.timeout = timeout
	}
}

func WithBootstrapDuration(bootstrapDuration time.Duration) Opt {
	return func(d *Discovery) {
		d.bootstrapDuration = bootstrapDuration
	}
}

func WithMinPeers(minPeers int) Opt {
	return func(d *Discovery) {
		d.minPeers = minPeers
	}
}

func WithAdvertiseTTL(ttl time.Duration) Opt {
	return func(d *Discovery) {
		d.ttl = ttl
	}
}

func WithBootnodes(bootnodes []peer.AddrInfo) Opt {
	return func(d *Discovery) {
		d.bootnodes = bootnodes
	}
}

func WithLogger(logger *zap.Logger) Opt {
	return func(d *Discovery) {
		d.logger = logger
	}
}

// Server forces the dht into server mode.
func Server() Opt {
	return func(d *Discovery) {
		d.server = true
	}
}

// Private keeps private addresses in the routing table.
func Private() Opt {
	return func(d *Discovery) {
		d.public = false
	}
}

// WithDir persists dht records in a leveldb at path. Records are kept in memory
// when the directory is not set.
func WithDir(path string) Opt {
	return func(d *Discovery) {
		d.dir = path
	}
}

// FromConfig translates cfg into options.
func FromConfig(cfg Config) []Opt {
	opts := []Opt{
		WithPeriod(cfg.Period),
		WithTimeout(cfg.Timeout),
		WithBootstrapDuration(cfg.BootstrapDuration),
		WithMinPeers(cfg.MinPeers),
		WithAdvertiseTTL(cfg.AdvertiseTTL),
	}
	if cfg.Server {
		opts = append(opts, Server())
	}
	if !cfg.Public {
		opts = append(opts, Private())
	}
	return opts
}

// New creates the dht on top of h. Call Start to keep the routing table populated.
func New(h host.Host, opts ...Opt) (*Discovery, error) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Discovery{
		public:            true,
		logger:            zap.NewNop(),
		ctx:               ctx,
		cancel:            cancel,
		h:                 h,
		period:            10 * time.Second,
		timeout:           30 * time.Second,
		bootstrapDuration: 30 * time.Second,
		minPeers:          5,
		ttl:               time.Hour,
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.newDht(ctx); err != nil {
		cancel()
		return nil, err
	}
	d.routing = p2pdiscr.NewRoutingDiscovery(d.dht)
	return d, nil
}

// Discovery announces and looks up providers of documents.
type Discovery struct {
	public bool
	server bool
	dir    string

	logger *zap.Logger
	eg     errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	h         host.Host
	dht       *dht.IpfsDHT
	datastore datastore.Batching
	routing   *p2pdiscr.RoutingDiscovery

	// how often to check if we have enough peers
	period            time.Duration
	timeout           time.Duration
	bootstrapDuration time.Duration
	minPeers          int
	ttl               time.Duration
	bootnodes         []peer.AddrInfo
}

// DHT returns the underlying kademlia dht.
func (d *Discovery) DHT() *dht.IpfsDHT { return d.dht }

func (d *Discovery) Start() {
	d.eg.Go(d.ensureAtLeastMinPeers)
}

func (d *Discovery) Stop() {
	d.cancel()
	d.eg.Wait()
	if err := d.dht.Close(); err != nil {
		d.logger.Error("error closing dht", zap.Error(err))
	}
	if err := d.datastore.Close(); err != nil {
		d.logger.Error("error closing dht datastore", zap.Error(err))
	}
}

// Advertise announces that this node holds a replica of the document. The
// announcement is refreshed until ctx or the discovery is canceled.
func (d *Discovery) Advertise(ctx context.Context, id types.DocumentID) {
	ns := Namespace(id)
	retry := d.period
	for {
		ttl, err := d.routing.Advertise(ctx, ns, p2pdisc.TTL(d.ttl))
		wait := ttl
		if err != nil {
			d.logger.Debug("failed to advertise document", id.Field(), zap.Error(err))
			wait = retry
		} else {
			d.logger.Debug("advertised document", id.Field(), zap.Duration("ttl", ttl))
		}
		select {
		case <-ctx.Done():
			return
		case <-d.ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// FindProviders returns up to limit nodes announcing a replica of the document.
func (d *Discovery) FindProviders(ctx context.Context, id types.DocumentID, limit int) ([]peer.AddrInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	ch, err := d.routing.FindPeers(ctx, Namespace(id), p2pdisc.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("find providers of %s: %w", id, err)
	}
	var rst []peer.AddrInfo
	for info := range ch {
		if info.ID == d.h.ID() {
			continue
		}
		rst = append(rst, info)
		if limit > 0 && len(rst) == limit {
			break
		}
	}
	return rst, nil
}

func (d *Discovery) bootstrap() {
	ctx, cancel := context.WithTimeout(d.ctx, d.bootstrapDuration)
	defer cancel()
	if err := d.dht.Bootstrap(ctx); err != nil {
		d.logger.Error("unexpected error from discovery dht", zap.Error(err))
	}
	<-ctx.Done()
}

func (d *Discovery) connect(nodes []peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()
	var eg errgroup.Group
	for _, boot := range nodes {
		if boot.ID == d.h.ID() {
			continue
		}
		eg.Go(func() error {
			if err := d.h.Connect(ctx, boot); err != nil {
				d.logger.Warn("failed to connect",
					zap.Stringer("address", boot),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	eg.Wait()
}

func (d *Discovery) newDht(ctx context.Context) error {
	var (
		store datastore.Batching
		err   error
	)
	if d.dir == "" {
		store = dssync.MutexWrap(datastore.NewMapDatastore())
	} else {
		store, err = levelds.NewDatastore(d.dir, &levelds.Options{
			Compression: ldbopts.NoCompression,
			Strict:      ldbopts.StrictAll,
		})
		if err != nil {
			return fmt.Errorf("open leveldb at %s: %w", d.dir, err)
		}
	}
	opts := []dht.Option{
		dht.Validator(record.PublicKeyValidator{}),
		dht.Datastore(store),
		dht.ProtocolPrefix(protocolPrefix),
	}
	if d.public {
		opts = append(opts, dht.QueryFilter(dht.PublicQueryFilter),
			dht.RoutingTableFilter(dht.PublicRoutingTableFilter))
	}
	if d.server {
		opts = append(opts, dht.Mode(dht.ModeServer))
	} else {
		opts = append(opts, dht.Mode(dht.ModeAutoServer))
	}
	kad, err := dht.New(ctx, d.h, opts...)
	if err != nil {
		if err := store.Close(); err != nil {
			d.logger.Error("error closing dht datastore", zap.Error(err))
		}
		return err
	}
	d.dht = kad
	d.datastore = store
	return nil
}

func (d *Discovery) ensureAtLeastMinPeers() error {
	disconnected := make(chan struct{}, 1)
	disconnected <- struct{}{} // bootstrap immediately
	notifiee := &network.NotifyBundle{
		DisconnectedF: func(_ network.Network, c network.Conn) {
			select {
			case disconnected <- struct{}{}:
			default:
			}
		},
	}
	d.h.Network().Notify(notifiee)
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()
	defer d.h.Network().StopNotify(notifiee)
	for {
		select {
		case <-d.ctx.Done():
			return nil
		case <-ticker.C:
		case <-disconnected:
		}
		if connected := len(d.h.Network().Peers()); connected >= d.minPeers {
			d.logger.Debug("node is connected with required number of peers. skipping bootstrap",
				zap.Int("required", d.minPeers),
				zap.Int("connected", connected),
			)
			continue
		}
		d.connect(d.bootnodes)
		d.bootstrap()
	}
}
