package libp2p

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
)

// wireLimit bounds a JSON frame; file bytes are base64 encoded on the wire.
func (n *Node) wireLimit() int64 {
	return n.opts.MaxMessageSize*2 + 1024
}

// SendRequest delivers a private request in the background. The answer
// arrives as InboundResponse, or OutboundFailure if there is none.
func (n *Node) SendRequest(to peer.ID, req PrivateRequest) error {
	if !req.Valid() {
		return fmt.Errorf("invalid private request %q", req.Type)
	}
	go func() {
		resp, err := n.roundTrip(to, req)
		if err != nil {
			n.log.Debug("private request failed",
				zap.Stringer("peer", to), zap.String("type", string(req.Type)), zap.Error(err))
			n.emit(OutboundFailure{To: to, Request: req.Type, Err: err})
			return
		}
		n.emit(InboundResponse{From: to, Request: req.Type, Response: resp})
	}()
	return nil
}

func (n *Node) roundTrip(to peer.ID, req PrivateRequest) (PrivateResponse, error) {
	var resp PrivateResponse

	ctx, cancel := context.WithTimeout(n.ctx, n.opts.RequestTimeout)
	defer cancel()

	s, err := n.host.NewStream(ctx, to, PrivateProtocol)
	if err != nil {
		return resp, fmt.Errorf("failed to open stream: %w", err)
	}
	defer s.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(deadline)
	}

	if err := json.NewEncoder(s).Encode(req); err != nil {
		s.Reset()
		return resp, fmt.Errorf("failed to send request: %w", err)
	}
	if err := s.CloseWrite(); err != nil {
		s.Reset()
		return resp, fmt.Errorf("failed to close write side: %w", err)
	}

	if err := json.NewDecoder(io.LimitReader(s, n.wireLimit())).Decode(&resp); err != nil {
		s.Reset()
		return resp, fmt.Errorf("failed to read response: %w", err)
	}
	return resp, nil
}

// handlePrivateStream decodes one request and hands it over together with a
// response channel that writes the answer and closes the stream.
func (n *Node) handlePrivateStream(s network.Stream) {
	remote := s.Conn().RemotePeer()
	_ = s.SetReadDeadline(time.Now().Add(n.opts.RequestTimeout))

	var req PrivateRequest
	if err := json.NewDecoder(io.LimitReader(s, n.wireLimit())).Decode(&req); err != nil {
		n.log.Debug("failed to decode private request", zap.Stringer("peer", remote), zap.Error(err))
		s.Reset()
		return
	}
	if !req.Valid() {
		n.log.Debug("dropping malformed private request", zap.Stringer("peer", remote), zap.String("type", string(req.Type)))
		s.Reset()
		return
	}

	// a request nobody answers is abandoned once the sender has given up
	expire := time.AfterFunc(n.opts.RequestTimeout, func() { s.Reset() })

	// Send only starts the write; failures are logged by writeResponse.
	ch := NewResponseChannel(remote, func(resp PrivateResponse) error {
		expire.Stop()
		go n.writeResponse(s, resp)
		return nil
	})

	n.log.Debug("private request received",
		zap.Stringer("peer", remote), zap.String("type", string(req.Type)), zap.Stringer("channel", ch.ID))
	n.emit(InboundRequest{From: remote, Request: req, Channel: ch})
}

func (n *Node) writeResponse(s network.Stream, resp PrivateResponse) {
	remote := s.Conn().RemotePeer()
	_ = s.SetWriteDeadline(time.Now().Add(n.opts.RequestTimeout))
	if err := json.NewEncoder(s).Encode(resp); err != nil {
		n.log.Warn("failed to send private response", zap.Stringer("peer", remote), zap.Error(err))
		s.Reset()
		return
	}
	if err := s.Close(); err != nil {
		n.log.Debug("failed to close private stream", zap.Stringer("peer", remote), zap.Error(err))
	}
}
