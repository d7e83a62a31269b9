package libp2p

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	discovery "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

// minPeers is the connection count below which rendezvous discovery kicks in.
const minPeers = 3

// StartMaintenance keeps the given peers dialled and, while the node is
// poorly connected, looks for more peers through a DHT rendezvous on the
// service name. The first pass runs immediately.
func (n *Node) StartMaintenance(addrs []string) error {
	bootstrap := make([]peer.AddrInfo, 0, len(addrs))
	for _, s := range addrs {
		addr, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return fmt.Errorf("invalid multiaddress %q: %w", s, err)
		}
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			return fmt.Errorf("failed to get peer info from %q: %w", s, err)
		}
		bootstrap = append(bootstrap, *pi)
	}
	go n.maintainNetwork(bootstrap)
	return nil
}

func (n *Node) maintainNetwork(bootstrap []peer.AddrInfo) {
	rd := discovery.NewRoutingDiscovery(n.dht)
	ticker := time.NewTicker(n.opts.MaintenanceInterval)
	defer ticker.Stop()

	for {
		n.ensureConnectivity(rd, bootstrap)
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (n *Node) ensureConnectivity(rd *discovery.RoutingDiscovery, bootstrap []peer.AddrInfo) {
	for _, pi := range bootstrap {
		if pi.ID == n.host.ID() || n.host.Network().Connectedness(pi.ID) == network.Connected {
			continue
		}
		n.dial(pi)
	}

	if connected := len(n.host.Network().Peers()); connected > 0 && connected < minPeers {
		n.log.Debug("low connectivity, looking for peers", zap.Int("connected", connected))
		n.announcePresence(rd)
	}
}

// announcePresence advertises the service name and dials whoever else did.
func (n *Node) announcePresence(rd *discovery.RoutingDiscovery) {
	ctx, cancel := context.WithTimeout(n.ctx, n.opts.LookupTimeout)
	defer cancel()

	if _, err := rd.Advertise(ctx, n.opts.ServiceName); err != nil {
		n.log.Debug("failed to advertise", zap.Error(err))
	}
	found, err := util.FindPeers(ctx, rd, n.opts.ServiceName)
	if err != nil {
		n.log.Debug("rendezvous lookup failed", zap.Error(err))
		return
	}
	for _, pi := range found {
		if pi.ID == n.host.ID() || len(pi.Addrs) == 0 {
			continue
		}
		if n.host.Network().Connectedness(pi.ID) != network.Connected {
			n.dial(pi)
		}
	}
}

func (n *Node) dial(pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(n.ctx, 15*time.Second)
	defer cancel()
	if err := n.host.Connect(ctx, pi); err != nil {
		n.log.Debug("failed to dial peer", zap.Stringer("peer", pi.ID), zap.Error(err))
	}
}
