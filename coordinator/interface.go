package coordinator

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/texmesh/go-texmesh/common/types"
	"github.com/texmesh/go-texmesh/p2p"
)

//go:generate mockgen -typed -package=coordinator -destination=./mocks.go -source=./interface.go

type network interface {
	Subscribe(ctx context.Context, id types.DocumentID) error
	Unsubscribe(id types.DocumentID) error
	Broadcast(ctx context.Context, env *p2p.Envelope) error
	SendDirect(ctx context.Context, pid peer.ID, env *p2p.Envelope) error
	RequestSync(ctx context.Context, id types.DocumentID, candidates ...peer.ID) ([]byte, error)
	TopicPeers(topic string) []peer.ID
	Peers() []peer.ID
}

// Notifier pushes updates to the transport serving sessions of a document.
type Notifier interface {
	DocumentUpdated(ctx context.Context, id types.DocumentID, content string, version uint64)
	PresenceUpdated(ctx context.Context, presence types.Presence)
	OperationError(ctx context.Context, id types.DocumentID, code types.ErrorCode, message string)
}
