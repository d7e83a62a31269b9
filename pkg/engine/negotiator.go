package engine

import (
	"fmt"

	"github.com/baderanaas/swapbytes/pkg/libp2p"
	"github.com/baderanaas/swapbytes/pkg/session"
	"go.uber.org/zap"
)

func (e *Engine) onInboundRequest(ev libp2p.InboundRequest) {
	nick, ok := e.sess.NicknameOf(ev.From)
	if !ok {
		e.resolve(ev.From, bufferedRequest{req: ev})
		return
	}
	e.handleRequest(ev, nick)
}

// handleRequest applies a private request from a peer with a known nickname.
// Every request is answered exactly once; only the second leg of a file
// transfer answers with something other than a plain acknowledgement.
func (e *Engine) handleRequest(ev libp2p.InboundRequest, nick string) {
	log := e.log.With(zap.Stringer("peer", ev.From), zap.String("type", string(ev.Request.Type)))

	if ev.Request.Type == libp2p.RequestFileRequest {
		e.onFileRequest(ev, nick, log)
		return
	}
	defer e.respond(ev.Channel, libp2p.PrivateResponse{Ack: true})

	switch ev.Request.Type {
	case libp2p.RequestJoin:
		if !e.sess.ReceiveInvite(ev.From) {
			log.Info("dropping invitation, another session is pending")
			return
		}
		if e.sess.Private().Connected() {
			return
		}
		e.sess.Notify(session.KindInfo, fmt.Sprintf("%s wants to connect. Type \"/accept\" or \"/reject\"", nick))

	case libp2p.RequestAccept:
		dm := e.sess.Private()
		switch {
		case !dm.With(ev.From):
			log.Info("dropping accept from a peer that is not the counterpart")
		case dm.RequestingFile():
			name, _ := dm.RequestedFile()
			if err := e.net.SendRequest(ev.From, libp2p.PrivateRequest{Type: libp2p.RequestFileRequest, Filename: name}); err != nil {
				log.Warn("failed to send file request", zap.Error(err))
				e.sess.ClearFile()
				e.sess.Notify(session.KindError, fmt.Sprintf("Unable to request file: %s", name))
			}
		default:
			if e.sess.Activate(ev.From) {
				log.Info("private session active")
			}
		}

	case libp2p.RequestReject:
		dm := e.sess.Private()
		if !dm.With(ev.From) {
			log.Info("dropping reject from a peer that is not the counterpart")
			return
		}
		// file negotiation first: rejecting a file keeps the conversation
		if name, ok := e.sess.ClearFile(); ok {
			e.sess.Notify(session.KindInfo, fmt.Sprintf("%s rejected the file request: %s", nick, name))
			return
		}
		e.sess.EndPrivate(ev.From, session.KindInfo, fmt.Sprintf("%s rejected the request.", nick))

	case libp2p.RequestMessage:
		if dm := e.sess.Private(); !dm.Connected() || !dm.With(ev.From) {
			log.Info("dropping private message outside of a session")
			return
		}
		e.sess.AddPrivateMessage(session.KindMessage, nick+": "+ev.Request.Message)

	case libp2p.RequestLeave:
		if e.sess.EndPrivate(ev.From, session.KindInfo, fmt.Sprintf("%s has left the private message.", nick)) {
			log.Info("counterpart left")
		}
	}
}

func (e *Engine) onFileRequest(ev libp2p.InboundRequest, nick string, log *zap.Logger) {
	name := ev.Request.Filename
	dm := e.sess.Private()
	if !dm.Connected() || !dm.With(ev.From) {
		log.Info("dropping file request outside of a session")
		e.respond(ev.Channel, libp2p.PrivateResponse{Ack: true})
		return
	}

	switch dm.Stage() {
	case session.FileReady:
		if pending, _ := dm.RequestedFile(); pending == name {
			e.sendFile(ev, name)
			return
		}
		log.Info("dropping file request while another file is ready", zap.String("file", name))
	case session.FileRequesting:
		e.sess.Notify(session.KindInfo, fmt.Sprintf("%s requested %s while your own file request is pending; ignoring it", nick, name))
	default:
		if e.sess.OfferFile(ev.From, name) {
			e.sess.Notify(session.KindInfo, fmt.Sprintf("%s requested file: %s. Type \"/accept\" or \"/reject\"", nick, name))
		}
	}
	e.respond(ev.Channel, libp2p.PrivateResponse{Ack: true})
}

func (e *Engine) respond(ch *libp2p.ResponseChannel, resp libp2p.PrivateResponse) {
	if err := ch.Send(resp); err != nil {
		e.log.Warn("failed to send private response", zap.Stringer("peer", ch.Peer), zap.Stringer("channel", ch.ID), zap.Error(err))
	}
}

func (e *Engine) onOutboundFailure(ev libp2p.OutboundFailure) {
	e.log.Warn("private request failed", zap.Stringer("peer", ev.To), zap.String("type", string(ev.Request)), zap.Error(ev.Err))
	e.sess.Notify(session.KindError, fmt.Sprintf("Unable to reach %s (%s request not delivered)", e.sess.DisplayName(ev.To), ev.Request))
}
