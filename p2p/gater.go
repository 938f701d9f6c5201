package p2p

import (
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// gater rejects inbound connections while the host is connected to more than max
// peers. Dials are never gated, bootnodes and discovered peers are dialed by this node.
type gater struct {
	h   host.Host
	max int
}

func (*gater) InterceptPeerDial(_ peer.ID) bool {
	return true
}

func (*gater) InterceptAddrDial(_ peer.ID, _ multiaddr.Multiaddr) bool {
	return true
}

func (g *gater) InterceptAccept(_ network.ConnMultiaddrs) bool {
	// set after the host is created
	if g.h == nil || g.max <= 0 {
		return true
	}
	return len(g.h.Network().Peers()) <= g.max
}

func (*gater) InterceptSecured(_ network.Direction, _ peer.ID, _ network.ConnMultiaddrs) bool {
	return true
}

func (*gater) InterceptUpgraded(_ network.Conn) (allow bool, reason control.DisconnectReason) {
	return true, 0
}
