package presets

import (
	"time"

	"github.com/texmesh/go-texmesh/config"
)

func init() {
	register("lan", lan())
}

// lan finds collaborators on the local network without bootnodes.
func lan() config.Config {
	conf := config.DefaultConfig()
	conf.P2P.MDNS = true
	conf.P2P.Bootnodes = nil
	conf.P2P.SyncTimeout = 3 * time.Second
	conf.Coordinator.DirectFanout = 4
	conf.Branch.RecoveryTimeout = 10 * time.Second
	return conf
}
