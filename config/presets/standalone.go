package presets

import (
	"os"
	"path/filepath"
	"time"

	"github.com/texmesh/go-texmesh/config"
)

func init() {
	register("standalone", standalone())
}

// standalone runs a single node with all state in a temporary directory.
func standalone() config.Config {
	conf := config.DefaultConfig()
	conf.DataDirParent = filepath.Join(os.TempDir(), "texmesh")
	conf.FileLock = filepath.Join(conf.DataDirParent, "LOCK")

	conf.P2P.Listen = "/ip4/127.0.0.1/tcp/0"
	conf.P2P.Bootnodes = nil
	conf.P2P.LowPeers = 1
	conf.P2P.HighPeers = 8

	conf.Checkpoint.Interval = 5 * time.Second
	conf.Logging.Level = "debug"
	return conf
}
