package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/stretchr/testify/require"

	"github.com/texmesh/go-texmesh/common/types"
	"github.com/texmesh/go-texmesh/log/logtest"
)

func TestFindProviders(t *testing.T) {
	mock, err := mocknet.FullMeshLinked(4)
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	logger := logtest.New(t)
	var discs []*Discovery
	for i, h := range mock.Hosts() {
		opts := []Opt{
			Server(),
			Private(),
			WithLogger(logger.Named(h.ID().ShortString())),
			WithPeriod(100 * time.Millisecond),
			WithBootstrapDuration(100 * time.Millisecond),
			WithTimeout(5 * time.Second),
		}
		if i%2 == 0 {
			// persisted records on half of the nodes
			opts = append(opts, WithDir(t.TempDir()))
		}
		disc, err := New(h, opts...)
		require.NoError(t, err)
		disc.Start()
		t.Cleanup(disc.Stop)
		discs = append(discs, disc)
	}
	require.NoError(t, mock.ConnectAllButSelf())
	require.Eventually(t, func() bool {
		for _, disc := range discs {
			if disc.DHT().RoutingTable().Size() != len(discs)-1 {
				return false
			}
		}
		return true
	}, 10*time.Second, 50*time.Millisecond)

	id := types.RandomDocumentID()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go discs[0].Advertise(ctx, id)

	var found []peer.AddrInfo
	require.Eventually(t, func() bool {
		found, err = discs[3].FindProviders(context.Background(), id, 1)
		return err == nil && len(found) == 1
	}, 10*time.Second, 50*time.Millisecond)
	require.Equal(t, mock.Hosts()[0].ID(), found[0].ID)

	other, err := discs[3].FindProviders(context.Background(), types.RandomDocumentID(), 1)
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server = true
	cfg.Public = false
	cfg.MinPeers = 7
	d := &Discovery{public: true}
	for _, opt := range FromConfig(cfg) {
		opt(d)
	}
	require.True(t, d.server)
	require.False(t, d.public)
	require.Equal(t, 7, d.minPeers)
	require.Equal(t, cfg.AdvertiseTTL, d.ttl)
}
