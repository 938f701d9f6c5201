package branch

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/texmesh/go-texmesh/common/types"
)

//go:generate mockgen -typed -package=branch -destination=./mocks.go -source=./interface.go

// syncer fetches encoded snapshots of documents from peers.
type syncer interface {
	RequestSync(ctx context.Context, id types.DocumentID, candidates ...peer.ID) ([]byte, error)
}
