package presets

import (
	"time"

	"github.com/texmesh/go-texmesh/config"
)

func init() {
	register("internet", internet())
}

// internet relies on bootnodes and the dht to find replicas of documents.
func internet() config.Config {
	conf := config.DefaultConfig()
	conf.P2P.DHT.Enable = true
	conf.P2P.DHT.Public = true
	conf.P2P.SyncTimeout = 20 * time.Second
	conf.P2P.SyncAttempts = 5
	conf.Branch.RecoveryTimeout = time.Minute
	return conf
}
