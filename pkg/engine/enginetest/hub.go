// Package enginetest provides an in-memory overlay so several engines can
// talk to each other inside one test process.
package enginetest

import (
	"context"
	"crypto/rand"
	"errors"
	"slices"
	"sync"

	"github.com/baderanaas/swapbytes/pkg/libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/multiformats/go-multiaddr"
)

var ErrUnreachable = errors.New("peer unreachable")

// RandomPeerID returns a fresh Ed25519 peer id.
func RandomPeerID() peer.ID {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		panic(err)
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		panic(err)
	}
	return id
}

// Hub is a shared medium: topics, a record store and point-to-point links.
type Hub struct {
	mu        sync.Mutex
	nodes     map[peer.ID]*Overlay
	links     map[[2]peer.ID]bool
	records   map[string][]byte
	lastQuery libp2p.QueryID
}

func NewHub() *Hub {
	return &Hub{
		nodes:   make(map[peer.ID]*Overlay),
		links:   make(map[[2]peer.ID]bool),
		records: make(map[string][]byte),
	}
}

// NewOverlay registers a node with a random identity.
func (h *Hub) NewOverlay() *Overlay {
	o := &Overlay{
		id:     RandomPeerID(),
		hub:    h,
		topics: make(map[string]bool),
		events: make(chan libp2p.Event),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	h.mu.Lock()
	h.nodes[o.id] = o
	h.mu.Unlock()
	go o.pump()
	return o
}

func linkKey(a, b peer.ID) [2]peer.ID {
	if a > b {
		a, b = b, a
	}
	return [2]peer.ID{a, b}
}

// Connect links two overlays and reports the connection to both.
func (h *Hub) Connect(a, b *Overlay) {
	h.mu.Lock()
	key := linkKey(a.id, b.id)
	already := h.links[key]
	h.links[key] = true
	h.mu.Unlock()
	if already {
		return
	}
	a.deliver(libp2p.PeerConnected{Peer: b.id})
	b.deliver(libp2p.PeerConnected{Peer: a.id})
}

// Disconnect removes a link and reports it to both ends.
func (h *Hub) Disconnect(a, b *Overlay) {
	h.mu.Lock()
	key := linkKey(a.id, b.id)
	was := h.links[key]
	delete(h.links, key)
	h.mu.Unlock()
	if !was {
		return
	}
	a.deliver(libp2p.PeerDisconnected{Peer: b.id})
	b.deliver(libp2p.PeerDisconnected{Peer: a.id})
}

// Record returns the stored value of key.
func (h *Hub) Record(key string) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.records[key]
	return slices.Clone(v), ok
}

// SetRecord stores a value directly, as if a remote peer had put it.
func (h *Hub) SetRecord(key string, value []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[key] = slices.Clone(value)
}

func (h *Hub) nextQuery() libp2p.QueryID {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastQuery++
	return h.lastQuery
}

func (h *Hub) linked(a, b peer.ID) (*Overlay, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	o, ok := h.nodes[b]
	return o, ok && h.links[linkKey(a, b)]
}

// SentRequest is a request recorded by an overlay.
type SentRequest struct {
	To      peer.ID
	Request libp2p.PrivateRequest
}

// Overlay implements engine.Overlay on top of a Hub. Events are delivered in
// the order they were produced.
type Overlay struct {
	id  peer.ID
	hub *Hub

	mu        sync.Mutex
	topics    map[string]bool
	listening []multiaddr.Multiaddr
	queue     []libp2p.Event
	sent      []SentRequest

	events chan libp2p.Event
	wake   chan struct{}
	stop   chan struct{}
	once   sync.Once
}

func (o *Overlay) ID() peer.ID { return o.id }

func (o *Overlay) Events() <-chan libp2p.Event { return o.events }

// Close stops event delivery.
func (o *Overlay) Close() {
	o.once.Do(func() { close(o.stop) })
}

func (o *Overlay) Listen(addr multiaddr.Multiaddr) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, a := range o.listening {
		if a.Equal(addr) {
			return errors.New("address already in use")
		}
	}
	o.listening = append(o.listening, addr)
	return nil
}

func (o *Overlay) Subscribe(topic string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.topics[topic] = true
	return nil
}

// Subscribed reports whether the overlay joined topic.
func (o *Overlay) Subscribed(topic string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.topics[topic]
}

func (o *Overlay) Publish(_ context.Context, topic string, data []byte) error {
	if !o.Subscribed(topic) {
		return errors.New("not subscribed to topic " + topic)
	}
	o.hub.mu.Lock()
	var targets []*Overlay
	for id, n := range o.hub.nodes {
		if id != o.id && o.hub.links[linkKey(o.id, id)] {
			targets = append(targets, n)
		}
	}
	o.hub.mu.Unlock()

	var delivered int
	for _, n := range targets {
		if n.Subscribed(topic) {
			n.deliver(libp2p.TopicMessage{Topic: topic, From: o.id, Data: slices.Clone(data)})
			delivered++
		}
	}
	if delivered == 0 {
		return libp2p.ErrNoPeers
	}
	return nil
}

func (o *Overlay) PutRecord(key string, value []byte) (libp2p.QueryID, error) {
	if len(value) == 0 {
		return 0, libp2p.ErrInvalidRecord
	}
	o.hub.SetRecord(key, value)
	q := o.hub.nextQuery()
	o.deliver(libp2p.RecordStored{Query: q, Key: key})
	return q, nil
}

func (o *Overlay) GetRecord(key string) libp2p.QueryID {
	q := o.hub.nextQuery()
	if value, ok := o.hub.Record(key); ok {
		o.deliver(libp2p.RecordFound{Query: q, Key: key, Value: value})
	} else {
		o.deliver(libp2p.RecordFailed{Query: q, Key: key, Err: routing.ErrNotFound})
	}
	return q
}

func (o *Overlay) SendRequest(to peer.ID, req libp2p.PrivateRequest) error {
	o.mu.Lock()
	o.sent = append(o.sent, SentRequest{To: to, Request: req})
	o.mu.Unlock()

	target, ok := o.hub.linked(o.id, to)
	if !ok {
		o.deliver(libp2p.OutboundFailure{To: to, Request: req.Type, Err: ErrUnreachable})
		return nil
	}
	ch := libp2p.NewResponseChannel(o.id, func(resp libp2p.PrivateResponse) error {
		resp.File = slices.Clone(resp.File)
		o.deliver(libp2p.InboundResponse{From: to, Request: req.Type, Response: resp})
		return nil
	})
	target.deliver(libp2p.InboundRequest{From: o.id, Request: req, Channel: ch})
	return nil
}

// Sent returns the requests sent so far.
func (o *Overlay) Sent() []SentRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.sent)
}

// Inject queues an arbitrary event, as if the network produced it.
func (o *Overlay) Inject(ev libp2p.Event) {
	o.deliver(ev)
}

func (o *Overlay) deliver(ev libp2p.Event) {
	o.mu.Lock()
	o.queue = append(o.queue, ev)
	o.mu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Overlay) pump() {
	for {
		o.mu.Lock()
		var next libp2p.Event
		if len(o.queue) > 0 {
			next = o.queue[0]
			o.queue = o.queue[1:]
		}
		o.mu.Unlock()

		if next == nil {
			select {
			case <-o.wake:
				continue
			case <-o.stop:
				return
			}
		}
		select {
		case o.events <- next:
		case <-o.stop:
			return
		}
	}
}
