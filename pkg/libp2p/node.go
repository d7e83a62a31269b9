package libp2p

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

// Options configures a Node. Zero values fall back to defaults.
type Options struct {
	// PrivKey is the node identity; nil generates an ephemeral one
	PrivKey        crypto.PrivKey
	ServiceName    string
	LowWater       int
	HighWater      int
	RequestTimeout time.Duration
	LookupTimeout  time.Duration

	// MaintenanceInterval paces redials and rendezvous lookups
	MaintenanceInterval time.Duration

	// MaxMessageSize bounds a private request or response on the wire
	MaxMessageSize int64
	Logger         *zap.Logger
}

func (o *Options) applyDefaults() {
	if o.ServiceName == "" {
		o.ServiceName = DefaultServiceName
	}
	if o.LowWater <= 0 {
		o.LowWater = 50
	}
	if o.HighWater <= o.LowWater {
		o.HighWater = o.LowWater * 4
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = time.Minute
	}
	if o.LookupTimeout <= 0 {
		o.LookupTimeout = 30 * time.Second
	}
	if o.MaintenanceInterval <= 0 {
		o.MaintenanceInterval = time.Minute
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 128 << 20
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Node owns the libp2p host, the gossipsub router and the DHT. Everything it
// observes is posted to a single event channel.
type Node struct {
	host   host.Host
	ctx    context.Context
	cancel context.CancelFunc
	dht    *dht.IpfsDHT
	pubsub *pubsub.PubSub
	mdns   mdns.Service
	log    *zap.Logger
	opts   Options

	events chan Event
	async  *eventQueue

	joinedTopics    map[string]*joinedTopic
	joinedTopicsMux sync.RWMutex

	lastQuery atomic.Uint64
	closeOnce sync.Once
	closeErr  error
}

// NewNode creates a node that does not listen yet; see Listen.
func NewNode(ctx context.Context, opts Options) (*Node, error) {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(ctx)

	privKey := opts.PrivKey
	if privKey == nil {
		var err error
		privKey, _, err = crypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to generate identity: %w", err)
		}
	}

	cm, err := connmgr.NewConnManager(opts.LowWater, opts.HighWater, connmgr.WithGracePeriod(time.Minute))
	if err != nil {
		cancel()
		return nil, err
	}

	store := dssync.MutexWrap(ds.NewMapDatastore())
	var idht *dht.IpfsDHT

	h, err := libp2p.New(
		libp2p.NoListenAddrs,
		libp2p.Identity(privKey),
		libp2p.ConnectionManager(cm),
		libp2p.Routing(func(h host.Host) (routing.PeerRouting, error) {
			var err error
			idht, err = dht.New(ctx, h,
				dht.Mode(dht.ModeServer),
				dht.ProtocolPrefix(DHTPrefix),
				dht.Datastore(store),
				dht.NamespacedValidator(RecordNamespace, recordValidator{}),
				dht.BootstrapPeers(),
			)
			return idht, err
		}),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		_ = h.Close()
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}

	node := &Node{
		host:         h,
		ctx:          ctx,
		cancel:       cancel,
		dht:          idht,
		pubsub:       ps,
		log:          opts.Logger,
		opts:         opts,
		events:       make(chan Event, 256),
		async:        newEventQueue(),
		joinedTopics: make(map[string]*joinedTopic),
	}

	go node.async.run(ctx, node.events)
	h.SetStreamHandler(PrivateProtocol, node.handlePrivateStream)
	h.Network().Notify(&network.NotifyBundle{
		ConnectedF:    node.handleConnected,
		DisconnectedF: node.handleDisconnected,
	})

	node.log.Info("node created", zap.Stringer("peer", h.ID()))
	return node, nil
}

// ID is the local peer identifier.
func (n *Node) ID() peer.ID {
	return n.host.ID()
}

// Events is the single stream of everything the node observes.
func (n *Node) Events() <-chan Event {
	return n.events
}

// Listen binds an inbound listener.
func (n *Node) Listen(addr multiaddr.Multiaddr) error {
	if err := n.host.Network().Listen(addr); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	for _, a := range n.host.Network().ListenAddresses() {
		n.log.Info("listening", zap.String("addr", fmt.Sprintf("%s/p2p/%s", a, n.host.ID())))
	}
	return nil
}

// Addrs returns the node's addresses including the /p2p component.
func (n *Node) Addrs() []multiaddr.Multiaddr {
	addrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: n.host.ID(), Addrs: n.host.Addrs()})
	if err != nil {
		return nil
	}
	return addrs
}

// ConnectAddr dials a peer given its full multiaddress.
func (n *Node) ConnectAddr(ctx context.Context, addrStr string) error {
	addr, err := multiaddr.NewMultiaddr(addrStr)
	if err != nil {
		return fmt.Errorf("invalid multiaddress: %w", err)
	}
	peerInfo, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return fmt.Errorf("failed to get peer info: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := n.host.Connect(ctx, *peerInfo); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// ConnectedPeers lists peers with a live connection.
func (n *Node) ConnectedPeers() []peer.ID {
	return n.host.Network().Peers()
}

// Close shuts down discovery, the DHT and the host. It is safe to call more
// than once.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.cancel()
		if n.mdns != nil {
			if err := n.mdns.Close(); err != nil {
				n.log.Warn("failed to close mdns", zap.Error(err))
			}
		}
		n.joinedTopicsMux.Lock()
		for name, joined := range n.joinedTopics {
			joined.sub.Cancel()
			if err := joined.topic.Close(); err != nil {
				n.log.Debug("failed to close topic", zap.String("topic", name), zap.Error(err))
			}
		}
		n.joinedTopics = make(map[string]*joinedTopic)
		n.joinedTopicsMux.Unlock()
		if err := n.dht.Close(); err != nil {
			n.log.Warn("failed to close dht", zap.Error(err))
		}
		n.closeErr = n.host.Close()
	})
	return n.closeErr
}

// emit posts an event, giving up when the node shuts down.
func (n *Node) emit(ev Event) {
	select {
	case n.events <- ev:
	case <-n.ctx.Done():
	}
}

// emitAsync is for callbacks that must not block the swarm. Events posted
// this way keep their relative order.
func (n *Node) emitAsync(ev Event) {
	n.async.push(ev)
}

func (n *Node) nextQuery() QueryID {
	return QueryID(n.lastQuery.Add(1))
}
