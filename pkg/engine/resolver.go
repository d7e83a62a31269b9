package engine

import (
	"github.com/baderanaas/swapbytes/pkg/libp2p"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
)

// pendingItem is what an outstanding lookup will complete: a buffered
// public message, a buffered private request, or a room list refresh.
type pendingItem interface {
	pending()
}

type bufferedMessage struct {
	topic string
	from  peer.ID
	text  string
}

type bufferedRequest struct {
	req libp2p.InboundRequest
}

type roomsLookup struct{}

func (bufferedMessage) pending() {}
func (bufferedRequest) pending() {}
func (roomsLookup) pending()     {}

// resolve buffers item under a fresh nickname lookup for id. Concurrent
// lookups for the same peer are not merged.
func (e *Engine) resolve(id peer.ID, item pendingItem) {
	q := e.net.GetRecord(libp2p.NicknameKey(id))
	e.pending[q] = item
	e.log.Debug("resolving nickname", zap.Stringer("peer", id), zap.Uint64("query", uint64(q)))
}

func (e *Engine) onRecordFound(ev libp2p.RecordFound) {
	item, ok := e.pending[ev.Query]
	if !ok {
		e.log.Debug("record for unknown query", zap.Uint64("query", uint64(ev.Query)), zap.String("kind", libp2p.KeyKind(ev.Key)))
		return
	}
	delete(e.pending, ev.Query)

	if _, ok := item.(roomsLookup); ok {
		rooms, err := libp2p.DecodeRooms(ev.Value)
		if err != nil {
			e.log.Warn("malformed room list", zap.Error(err))
			return
		}
		e.sess.SetRooms(rooms)
		e.log.Info("room list refreshed", zap.Strings("rooms", rooms))
		return
	}

	from := itemPeer(item)
	id, err := libp2p.ParseNicknameKey(ev.Key)
	if err != nil || id != from {
		e.log.Warn("nickname record does not match the lookup", zap.Stringer("peer", from), zap.String("key", ev.Key))
		e.dropItem(item)
		return
	}
	nick, err := libp2p.DecodeNickname(ev.Value)
	if err != nil {
		e.log.Warn("malformed nickname record", zap.Stringer("peer", from), zap.Error(err))
		e.dropItem(item)
		return
	}

	e.sess.SetPeerNickname(from, nick)
	e.log.Info("nickname resolved", zap.Stringer("peer", from), zap.String("nickname", nick))

	switch item := item.(type) {
	case bufferedMessage:
		e.displayMessage(item.topic, nick, item.text)
	case bufferedRequest:
		e.handleRequest(item.req, nick)
	}
}

func (e *Engine) onRecordFailed(ev libp2p.RecordFailed) {
	item, ok := e.pending[ev.Query]
	if !ok {
		return
	}
	delete(e.pending, ev.Query)

	if _, ok := item.(roomsLookup); ok {
		e.log.Warn("failed to fetch room list", zap.Error(ev.Err))
		return
	}
	e.log.Warn("failed to resolve nickname", zap.Stringer("peer", itemPeer(item)), zap.Error(ev.Err))
	e.dropItem(item)
}

// dropItem discards a buffered item. A dropped request is still answered so
// the sender is not left waiting.
func (e *Engine) dropItem(item pendingItem) {
	if item, ok := item.(bufferedRequest); ok {
		e.respond(item.req.Channel, libp2p.PrivateResponse{Ack: true})
	}
}

func itemPeer(item pendingItem) peer.ID {
	switch item := item.(type) {
	case bufferedMessage:
		return item.from
	case bufferedRequest:
		return item.req.From
	}
	return ""
}
