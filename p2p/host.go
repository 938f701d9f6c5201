// Package p2p is the peer network layer: a libp2p host with gossip topics per
// document, request/response protocols for snapshot sync and direct delivery, and
// a book of peer connection states.
package p2p

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/transport"
	"github.com/libp2p/go-libp2p/p2p/host/peerstore/pstoremem"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/texmesh/go-texmesh/log"
	discovery "github.com/texmesh/go-texmesh/p2p/dhtdiscovery"
	"github.com/texmesh/go-texmesh/p2p/pubsub"
)

// DefaultConfig config.
func DefaultConfig() Config {
	return Config{
		Listen:              "/ip4/0.0.0.0/tcp/7613",
		LowPeers:            20,
		HighPeers:           60,
		GracePeersShutdown:  30 * time.Second,
		PubSub:              pubsub.DefaultConfig(),
		SyncTimeout:         10 * time.Second,
		SyncAttempts:        3,
		DirectTimeout:       5 * time.Second,
		RequestsPerInterval: 100,
		RequestInterval:     time.Second,
		BootnodeRetries:     10,
		BootnodeBackoff:     time.Minute,
		DHT:                 discovery.DefaultConfig(),
	}
}

// Config for all things related to p2p layer.
type Config struct {
	DataDir            string        `mapstructure:"data-dir"`
	Listen             string        `mapstructure:"listen"`
	Bootnodes          []string      `mapstructure:"bootnodes"`
	AdvertiseAddress   string        `mapstructure:"advertise-address"`
	DisableReusePort   bool          `mapstructure:"disable-reuseport"`
	LowPeers           int           `mapstructure:"low-peers"`
	HighPeers          int           `mapstructure:"high-peers"`
	GracePeersShutdown time.Duration `mapstructure:"grace-peers-shutdown"`
	// MDNS enables discovery of peers on the local network.
	MDNS bool `mapstructure:"mdns"`
	// DHT announces subscribed documents and finds their replicas when the
	// document topic has no peers.
	DHT    discovery.Config `mapstructure:"dht"`
	PubSub pubsub.Config    `mapstructure:"pubsub"`

	// SyncTimeout bounds a single snapshot request, SyncAttempts is the number
	// of candidate peers tried before the sync is reported as unavailable.
	SyncTimeout   time.Duration `mapstructure:"sync-timeout"`
	SyncAttempts  int           `mapstructure:"sync-attempts"`
	DirectTimeout time.Duration `mapstructure:"direct-timeout"`

	RequestsPerInterval int           `mapstructure:"requests-per-interval"`
	RequestInterval     time.Duration `mapstructure:"request-interval"`

	BootnodeRetries uint64        `mapstructure:"bootnode-retries"`
	BootnodeBackoff time.Duration `mapstructure:"bootnode-backoff"`
}

// Opt is for configuring Host.
type Opt func(fh *Host)

// WithLog configures logger for Host.
func WithLog(logger *zap.Logger) Opt {
	return func(fh *Host) {
		fh.logger = logger
	}
}

// WithConfig sets Config for Host.
func WithConfig(cfg Config) Opt {
	return func(fh *Host) {
		fh.cfg = cfg
	}
}

// WithContext set context for Host.
func WithContext(ctx context.Context) Opt {
	return func(fh *Host) {
		fh.ctx = ctx
	}
}

func loadIdentity(dir string) (crypto.PrivKey, error) {
	if dir == "" {
		key, _, err := crypto.GenerateEd25519Key(rand.Reader)
		return key, err
	}
	return EnsureIdentity(dir)
}

// New initializes libp2p host configured for texmesh.
func New(ctx context.Context, logger *zap.Logger, cfg Config, opts ...Opt) (*Host, error) {
	logger.Info("starting libp2p host", zap.String("listen", cfg.Listen), zap.Strings("bootnodes", cfg.Bootnodes))
	key, err := loadIdentity(cfg.DataDir)
	if err != nil {
		return nil, log.ErrRetrieveIdentity(err)
	}
	cm, err := connmgr.NewConnManager(cfg.LowPeers, cfg.HighPeers, connmgr.WithGracePeriod(cfg.GracePeersShutdown))
	if err != nil {
		return nil, fmt.Errorf("p2p create conn mgr: %w", err)
	}
	ps, err := pstoremem.NewPeerstore()
	if err != nil {
		return nil, fmt.Errorf("can't create peer store: %w", err)
	}
	g := &gater{max: cfg.HighPeers}
	streamer := *yamux.DefaultTransport
	lopts := []libp2p.Option{
		libp2p.Identity(key),
		libp2p.ListenAddrStrings(cfg.Listen),
		libp2p.UserAgent("go-texmesh"),
		libp2p.Transport(func(upgrader transport.Upgrader, rcmgr network.ResourceManager) (transport.Transport, error) {
			var opts []tcp.Option
			if cfg.DisableReusePort {
				opts = append(opts, tcp.DisableReuseport())
			}
			return tcp.NewTCPTransport(upgrader, rcmgr, opts...)
		}),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, &streamer),
		libp2p.ConnectionManager(cm),
		libp2p.Peerstore(ps),
		libp2p.ConnectionGater(g),
	}
	if cfg.AdvertiseAddress != "" {
		advertise, err := ma.NewMultiaddr(cfg.AdvertiseAddress)
		if err != nil {
			return nil, fmt.Errorf("address to advertise (%s) is invalid: %w", cfg.AdvertiseAddress, err)
		}
		lopts = append(lopts, libp2p.AddrsFactory(func([]ma.Multiaddr) []ma.Multiaddr {
			return []ma.Multiaddr{advertise}
		}))
	}
	h, err := libp2p.New(lopts...)
	if err != nil {
		return nil, log.ErrBindListener(err)
	}
	g.h = h
	logger.Info("local node identity", zap.Stringer("identity", h.ID()))
	opts = append([]Opt{WithConfig(cfg), WithLog(logger), WithContext(ctx)}, opts...)
	fh, err := Upgrade(h, opts...)
	if err != nil {
		h.Close()
		return nil, err
	}
	return fh, nil
}

// ParseBootnodes parses multiaddrs with a /p2p/ component.
func ParseBootnodes(addrs []string) ([]peer.AddrInfo, error) {
	rst := make([]peer.AddrInfo, 0, len(addrs))
	for _, addr := range addrs {
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			return nil, fmt.Errorf("parse into peer.AddrInfo %s: %w", addr, err)
		}
		rst = append(rst, *info)
	}
	return rst, nil
}
