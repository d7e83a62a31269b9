package libp2p

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"go.uber.org/zap"
)

// discoveryNotifee handles peer discovery events
type discoveryNotifee struct {
	node *Node
}

func (d *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	n := d.node
	if pi.ID == n.host.ID() || len(pi.Addrs) == 0 {
		return
	}
	n.emitAsync(PeerDiscovered{Peer: pi})

	if n.host.Network().Connectedness(pi.ID) == network.Connected {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(n.ctx, 15*time.Second)
		defer cancel()
		if err := n.host.Connect(ctx, pi); err != nil {
			n.log.Debug("failed to connect to discovered peer", zap.Stringer("peer", pi.ID), zap.Error(err))
		}
	}()
}

// StartDiscovery starts mDNS peer discovery on the local network.
func (n *Node) StartDiscovery() error {
	disc := mdns.NewMdnsService(n.host, n.opts.ServiceName, &discoveryNotifee{node: n})
	if err := disc.Start(); err != nil {
		return fmt.Errorf("failed to start mDNS discovery: %w", err)
	}
	n.mdns = disc
	n.log.Info("started mDNS discovery", zap.String("service", n.opts.ServiceName))
	return nil
}

// handleConnected reports only the first connection to a peer.
func (n *Node) handleConnected(net network.Network, conn network.Conn) {
	p := conn.RemotePeer()
	if len(net.ConnsToPeer(p)) != 1 {
		return
	}
	n.log.Debug("peer connected", zap.Stringer("peer", p))
	n.emitAsync(PeerConnected{Peer: p})
}

// handleDisconnected reports a peer once its last connection is gone.
func (n *Node) handleDisconnected(net network.Network, conn network.Conn) {
	p := conn.RemotePeer()
	if net.Connectedness(p) == network.Connected {
		return
	}
	n.log.Debug("peer disconnected", zap.Stringer("peer", p))
	n.emitAsync(PeerDisconnected{Peer: p})
}
