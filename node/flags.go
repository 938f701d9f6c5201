package node

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/texmesh/go-texmesh/config"
	"github.com/texmesh/go-texmesh/config/presets"
)

// AddFlags binds command line flags to fields of cfg.
func AddFlags(flagSet *pflag.FlagSet, cfg *config.Config) {
	flagSet.StringVarP(&cfg.Preset, "preset", "p", cfg.Preset,
		fmt.Sprintf("preset overwrites default values of the config. options %+s", presets.Options()))

	/** ======================== BaseConfig Flags ========================== **/
	flagSet.StringVarP(&cfg.DataDirParent, "data-folder", "d",
		cfg.DataDirParent, "Specify data directory for texmesh")
	flagSet.StringVar(&cfg.FileLock, "filelock",
		cfg.FileLock, "Filesystem lock to prevent running more than one instance.")
	flagSet.IntVar(&cfg.DatabaseConnections, "db-connections",
		cfg.DatabaseConnections, "Number of pooled database connections")
	flagSet.BoolVar(&cfg.DatabaseLatencyMetering, "db-latency-metering",
		cfg.DatabaseLatencyMetering, "Collect latency of every database query")
	flagSet.BoolVar(&cfg.DatabaseVacuum, "db-vacuum",
		cfg.DatabaseVacuum, "Vacuum the database at startup")
	flagSet.BoolVar(&cfg.CollectMetrics, "metrics",
		cfg.CollectMetrics, "collect node metrics")
	flagSet.StringVar(&cfg.MetricsAddress, "metrics-address",
		cfg.MetricsAddress, "metrics server address")

	/** ======================== P2P Flags ========================== **/
	flagSet.StringVar(&cfg.P2P.Listen, "listen",
		cfg.P2P.Listen, "address for listening")
	flagSet.StringSliceVar(&cfg.P2P.Bootnodes, "bootnodes",
		cfg.P2P.Bootnodes, "entrypoints into the network")
	flagSet.StringVar(&cfg.P2P.AdvertiseAddress, "advertise-address",
		cfg.P2P.AdvertiseAddress, "libp2p address with identity (example: /dns4/bootnode.texmesh.io/tcp/5003)")
	flagSet.BoolVar(&cfg.P2P.MDNS, "mdns",
		cfg.P2P.MDNS, "discover peers on the local network")
	flagSet.IntVar(&cfg.P2P.LowPeers, "low-peers",
		cfg.P2P.LowPeers, "low watermark for the number of connected peers")
	flagSet.IntVar(&cfg.P2P.HighPeers, "high-peers",
		cfg.P2P.HighPeers, "high watermark for the number of connected peers")
	flagSet.DurationVar(&cfg.P2P.SyncTimeout, "sync-timeout",
		cfg.P2P.SyncTimeout, "timeout of a single snapshot request")
	flagSet.IntVar(&cfg.P2P.SyncAttempts, "sync-attempts",
		cfg.P2P.SyncAttempts, "number of peers asked for a snapshot before giving up")
	flagSet.BoolVar(&cfg.P2P.DHT.Enable, "dht",
		cfg.P2P.DHT.Enable, "announce and look up document replicas in the dht")
	flagSet.BoolVar(&cfg.P2P.DHT.Server, "dht-server",
		cfg.P2P.DHT.Server, "serve dht queries regardless of reachability")
	flagSet.BoolVar(&cfg.P2P.DHT.Public, "dht-public",
		cfg.P2P.DHT.Public, "keep only public addresses in the dht routing table")

	/** ======================== Replication Flags ========================== **/
	flagSet.IntVar(&cfg.CRDT.MaxPending, "max-pending",
		cfg.CRDT.MaxPending, "maximal number of buffered remote changes per document")
	flagSet.DurationVar(&cfg.Branch.RecoveryTimeout, "recovery-timeout",
		cfg.Branch.RecoveryTimeout, "timeout for recovering a missing document")
	flagSet.IntVar(&cfg.Coordinator.DirectFanout, "direct-fanout",
		cfg.Coordinator.DirectFanout, "number of peers receiving an edit directly when the topic has no peers")
	flagSet.DurationVar(&cfg.Checkpoint.Interval, "checkpoint-interval",
		cfg.Checkpoint.Interval, "interval between checkpoints of changed documents")
	flagSet.StringVar(&cfg.Checkpoint.ExportDir, "export-dir",
		cfg.Checkpoint.ExportDir, "directory receiving the content of every checkpointed document")

	/** ======================== Logging Flags ========================== **/
	flagSet.StringVar(&cfg.Logging.Encoder, "log-encoder",
		cfg.Logging.Encoder, "log as json or console")
	flagSet.StringVar(&cfg.Logging.Level, "log-level",
		cfg.Logging.Level, "default log level")
}
