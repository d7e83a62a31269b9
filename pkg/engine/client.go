package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/baderanaas/swapbytes/pkg/libp2p"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

// request pairs a command with its one-shot reply slot.
type request struct {
	cmd   any
	reply chan error
}

type (
	startListening struct{ addr string }
	changeTopic    struct{ name string }
	publishMessage struct{ text, topic string }
	setNickname    struct {
		nickname string
		peer     peer.ID
	}
	addRoom            struct{ rooms []string }
	fetchRooms         struct{}
	sendPrivateRequest struct {
		to  peer.ID
		req libp2p.PrivateRequest
	}
	sendPrivateResponse struct {
		ack     bool
		path    string
		channel *libp2p.ResponseChannel
	}
)

// Client submits commands to a running Engine. It is safe for concurrent use.
type Client struct {
	commands chan<- request
	closing  chan struct{}
	done     <-chan struct{}

	closeOnce sync.Once
}

func newClient(commands chan<- request, closing chan struct{}, done <-chan struct{}) *Client {
	return &Client{commands: commands, closing: closing, done: done}
}

// Close closes the command source; the engine stops after the command it is
// processing, if any.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closing) })
}

// Done is closed once the engine loop has returned.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) do(ctx context.Context, cmd any) error {
	reply := make(chan error, 1)
	select {
	case c.commands <- request{cmd: cmd, reply: reply}:
	case <-c.closing:
		return ErrStopped
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	// a submitted command is always answered before Run returns
	select {
	case err := <-reply:
		return err
	case <-c.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartListening binds an inbound listener on a multiaddress.
func (c *Client) StartListening(ctx context.Context, addr string) error {
	return c.do(ctx, startListening{addr: addr})
}

// ChangeTopic subscribes to a room topic. Subscribing twice is a no-op.
func (c *Client) ChangeTopic(ctx context.Context, name string) error {
	return c.do(ctx, changeTopic{name: name})
}

// PublishMessage broadcasts text to the subscribers of topic.
func (c *Client) PublishMessage(ctx context.Context, text, topic string) error {
	return c.do(ctx, publishMessage{text: text, topic: topic})
}

// SetNickname publishes the nickname record of id.
func (c *Client) SetNickname(ctx context.Context, nickname string, id peer.ID) error {
	return c.do(ctx, setNickname{nickname: nickname, peer: id})
}

// AddRoom publishes the full room list, replacing the previous one.
func (c *Client) AddRoom(ctx context.Context, rooms []string) error {
	return c.do(ctx, addRoom{rooms: rooms})
}

// FetchRooms starts a lookup of the room list. The local list is replaced
// when the result arrives.
func (c *Client) FetchRooms(ctx context.Context) error {
	return c.do(ctx, fetchRooms{})
}

// SendPrivateRequest sends req to a peer. Delivery is reported by the
// response, not by this call.
func (c *Client) SendPrivateRequest(ctx context.Context, to peer.ID, req libp2p.PrivateRequest) error {
	return c.do(ctx, sendPrivateRequest{to: to, req: req})
}

// SendPrivateResponse completes an inbound request. A non-empty path is read
// from the share directory and sent as the file payload.
func (c *Client) SendPrivateResponse(ctx context.Context, ack bool, path string, ch *libp2p.ResponseChannel) error {
	return c.do(ctx, sendPrivateResponse{ack: ack, path: path, channel: ch})
}

func (e *Engine) handleCommand(ctx context.Context, cmd any) error {
	switch cmd := cmd.(type) {
	case startListening:
		addr, err := multiaddr.NewMultiaddr(cmd.addr)
		if err != nil {
			return fmt.Errorf("invalid listen address %q: %w", cmd.addr, err)
		}
		return e.net.Listen(addr)

	case changeTopic:
		return e.net.Subscribe(cmd.name)

	case publishMessage:
		if err := e.net.Publish(ctx, cmd.topic, []byte(cmd.text)); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", cmd.topic, err)
		}
		return nil

	case setNickname:
		if _, err := e.net.PutRecord(libp2p.NicknameKey(cmd.peer), []byte(cmd.nickname)); err != nil {
			return fmt.Errorf("failed to store nickname: %w", err)
		}
		e.log.Info("nickname record stored", zap.Stringer("peer", cmd.peer), zap.String("nickname", cmd.nickname))
		return nil

	case addRoom:
		value, err := libp2p.EncodeRooms(cmd.rooms)
		if err != nil {
			return err
		}
		if _, err := e.net.PutRecord(libp2p.RoomsKey, value); err != nil {
			return fmt.Errorf("failed to store room list: %w", err)
		}
		return nil

	case fetchRooms:
		id := e.net.GetRecord(libp2p.RoomsKey)
		e.pending[id] = roomsLookup{}
		e.log.Debug("fetching rooms", zap.Uint64("query", uint64(id)))
		return nil

	case sendPrivateRequest:
		if err := e.net.SendRequest(cmd.to, cmd.req); err != nil {
			return fmt.Errorf("failed to send %s request: %w", cmd.req.Type, err)
		}
		return nil

	case sendPrivateResponse:
		return e.respondWithFile(cmd.channel, cmd.ack, cmd.path)

	default:
		return fmt.Errorf("unknown command %T", cmd)
	}
}
