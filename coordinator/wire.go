package coordinator

import (
	"github.com/texmesh/go-texmesh/common/types"
	"github.com/texmesh/go-texmesh/crdt"
)

//go:generate scalegen -types DocumentMeta,PresenceUpdate

// DocumentMeta is published on the metadata topic after the metadata changes, and
// sent directly to peers announcing a subscription. Versions lets the receiver
// detect changes it is missing.
type DocumentMeta struct {
	Meta     crdt.Meta
	Versions []crdt.VersionEntry `scale:"max=65536"`
}

// Behind is true if the local version vector misses changes known to the sender.
func (m *DocumentMeta) Behind(local map[string]uint64) bool {
	for _, entry := range m.Versions {
		if entry.Seq > local[entry.Author] {
			return true
		}
	}
	return false
}

// PresenceUpdate is published on the presence topic. An envelope without data
// announces a new subscriber.
type PresenceUpdate struct {
	User      types.UserID `scale:"max=256"`
	Cursor    uint64
	Selection types.Range
}
