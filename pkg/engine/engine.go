// Package engine runs the single task that owns the overlay. Commands from
// the front end and events from the network are handled one at a time.
package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/baderanaas/swapbytes/pkg/libp2p"
	"github.com/baderanaas/swapbytes/pkg/session"
	"github.com/baderanaas/swapbytes/pkg/transfer"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

// ErrStopped is returned by Client calls once the engine is no longer running.
var ErrStopped = errors.New("network engine stopped")

// Overlay is what the engine needs from the peer-to-peer stack. *libp2p.Node
// implements it.
type Overlay interface {
	ID() peer.ID
	Listen(addr multiaddr.Multiaddr) error
	Subscribe(topic string) error
	Publish(ctx context.Context, topic string, data []byte) error
	PutRecord(key string, value []byte) (libp2p.QueryID, error)
	GetRecord(key string) libp2p.QueryID
	SendRequest(to peer.ID, req libp2p.PrivateRequest) error
	Events() <-chan libp2p.Event
}

// Engine is the command/event loop. Create it with New and drive it with Run.
type Engine struct {
	net   Overlay
	sess  *session.Session
	files *transfer.Store
	log   *zap.Logger

	commands chan request
	closing  chan struct{}
	done     chan struct{}

	// pending correlates outstanding lookups with what triggered them
	pending map[libp2p.QueryID]pendingItem
}

// New creates an engine and the client used to send it commands.
func New(net Overlay, sess *session.Session, files *transfer.Store, log *zap.Logger) (*Engine, *Client) {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		net:      net,
		sess:     sess,
		files:    files,
		log:      log.Named("engine"),
		commands: make(chan request),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		pending:  make(map[libp2p.QueryID]pendingItem),
	}
	return e, newClient(e.commands, e.closing, e.done)
}

// Run processes events and commands until the client is closed, the event
// source ends or ctx is cancelled. No single failure stops the loop.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	events := e.net.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				e.log.Info("event source closed")
				return nil
			}
			e.handleEvent(ev)
		case req := <-e.commands:
			req.reply <- e.handleCommand(ctx, req.cmd)
		case <-e.closing:
			e.log.Info("command source closed, stopping")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) handleEvent(ev libp2p.Event) {
	switch ev := ev.(type) {
	case libp2p.PeerDiscovered:
		e.log.Info("peer discovered", zap.Stringer("peer", ev.Peer.ID))
	case libp2p.PeerConnected:
		if e.sess.AddPeer(ev.Peer) {
			e.log.Info("peer connected", zap.Stringer("peer", ev.Peer), zap.Int("peers", e.sess.ConnectedPeers()))
		}
	case libp2p.PeerDisconnected:
		if e.sess.RemovePeer(ev.Peer) {
			e.log.Info("private counterpart disconnected", zap.Stringer("peer", ev.Peer))
		}
		e.log.Info("peer disconnected", zap.Stringer("peer", ev.Peer), zap.Int("peers", e.sess.ConnectedPeers()))
	case libp2p.TopicMessage:
		e.onTopicMessage(ev)
	case libp2p.RecordFound:
		e.onRecordFound(ev)
	case libp2p.RecordFailed:
		e.onRecordFailed(ev)
	case libp2p.RecordStored:
		if ev.Err != nil {
			e.log.Warn("failed to replicate record", zap.String("kind", libp2p.KeyKind(ev.Key)), zap.Error(ev.Err))
		} else {
			e.log.Info("record replicated", zap.String("kind", libp2p.KeyKind(ev.Key)))
		}
	case libp2p.InboundRequest:
		e.onInboundRequest(ev)
	case libp2p.InboundResponse:
		e.onResponse(ev)
	case libp2p.OutboundFailure:
		e.onOutboundFailure(ev)
	default:
		e.log.Warn("unhandled event", zap.Any("event", ev))
	}
}

func (e *Engine) onTopicMessage(ev libp2p.TopicMessage) {
	text := strings.ToValidUTF8(string(ev.Data), "\uFFFD")
	nick, ok := e.sess.NicknameOf(ev.From)
	if !ok {
		e.resolve(ev.From, bufferedMessage{topic: ev.Topic, from: ev.From, text: text})
		return
	}
	e.displayMessage(ev.Topic, nick, text)
}

func (e *Engine) displayMessage(topic, nick, text string) {
	if !e.sess.AddRoomMessage(topic, session.KindMessage, nick+": "+text) {
		e.log.Debug("dropping message for a room never joined", zap.String("topic", topic))
		return
	}
	e.log.Info("message received", zap.String("topic", topic), zap.String("from", nick))
}
