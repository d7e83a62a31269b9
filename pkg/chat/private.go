package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/baderanaas/swapbytes/pkg/libp2p"
	"github.com/baderanaas/swapbytes/pkg/session"
	"go.uber.org/zap"
)

func (s *Service) send(ctx context.Context, dm session.Private, req libp2p.PrivateRequest) error {
	return s.net.SendPrivateRequest(ctx, dm.Peer(), req)
}

// Connect invites the peer known under nickname to a private session.
func (s *Service) Connect(ctx context.Context, nickname string) error {
	ids := s.sess.PeersByNickname(nickname)
	switch len(ids) {
	case 0:
		s.log.Warn("peer not found for connection", zap.String("nickname", nickname))
		s.sess.Notify(session.KindError, fmt.Sprintf("Peer ID not found for nickname: %s", nickname))
		return fmt.Errorf("nickname %s: %w", nickname, ErrNotFound)
	case 1:
	default:
		s.log.Warn("nickname used by several peers", zap.String("nickname", nickname), zap.Int("peers", len(ids)))
		s.sess.Notify(session.KindError, fmt.Sprintf("Nickname %s is used by %d peers, unable to choose one", nickname, len(ids)))
		return fmt.Errorf("nickname %s: %w", nickname, ErrAmbiguousNickname)
	}
	id := ids[0]
	if err := s.sess.Invite(id); err != nil {
		s.sess.Notify(session.KindError, "A private session is already pending or active")
		return err
	}
	if err := s.net.SendPrivateRequest(ctx, id, libp2p.PrivateRequest{Type: libp2p.RequestJoin}); err != nil {
		s.sess.CancelInvite(id)
		s.sess.Notify(session.KindError, fmt.Sprintf("Unable to send connection request to %s: %v", nickname, err))
		return err
	}
	s.log.Info("connection request sent", zap.String("nickname", nickname), zap.Stringer("peer", id))
	s.sess.Notify(session.KindInfo, fmt.Sprintf("Connection request sent to %s", nickname))
	return nil
}

// Accept answers the pending invitation, or the file the counterpart asked
// for. A missing file is rejected automatically.
func (s *Service) Accept(ctx context.Context) error {
	dm := s.sess.Private()
	accept := libp2p.PrivateRequest{Type: libp2p.RequestAccept}

	switch {
	case dm.Phase() == session.Invited:
		if !s.sess.Activate(dm.Peer()) {
			return s.noRequest("accept")
		}
		if err := s.send(ctx, dm, accept); err != nil {
			s.sess.EndPrivate(dm.Peer(), session.KindError, fmt.Sprintf("Unable to accept request: %v", err))
			return err
		}
		s.log.Info("joined private session", zap.Stringer("peer", dm.Peer()))
		return nil

	case dm.Connected() && dm.Stage() == session.FileOffered:
		name, _ := dm.RequestedFile()
		if !s.files.Exists(name) {
			s.sess.Notify(session.KindError, "Unable to send file as file doesn't exist")
			s.sess.Notify(session.KindError, "Sending automatic reject message")
			s.sess.ClearFile()
			if err := s.send(ctx, dm, libp2p.PrivateRequest{Type: libp2p.RequestReject}); err != nil {
				s.log.Warn("failed to send automatic reject", zap.Error(err))
			}
			return fmt.Errorf("%s: %w", name, ErrFileNotFound)
		}
		if !s.sess.ReadyFile(name) {
			return s.noRequest("accept")
		}
		if err := s.send(ctx, dm, accept); err != nil {
			s.sess.UnreadyFile(name)
			s.sess.Notify(session.KindError, fmt.Sprintf("Unable to accept file request: %v", err))
			return err
		}
		s.sess.Notify(session.KindInfo, fmt.Sprintf("Accepted file request: %s", name))
		return nil

	default:
		return s.noRequest("accept")
	}
}

// Reject declines the pending invitation or file request. Rejecting a file
// keeps the session; otherwise the session returns to Idle.
func (s *Service) Reject(ctx context.Context) error {
	dm := s.sess.Private()
	if !dm.HasPeer() {
		return s.noRequest("reject")
	}

	err := s.send(ctx, dm, libp2p.PrivateRequest{Type: libp2p.RequestReject})
	if err != nil {
		s.log.Warn("failed to send reject", zap.Error(err))
	}

	if name, ok := s.sess.ClearFile(); ok {
		s.sess.Notify(session.KindInfo, fmt.Sprintf("Rejected file request: %s", name))
		return err
	}
	s.sess.EndPrivate(dm.Peer(), session.KindInfo, fmt.Sprintf("Rejected request from %s", s.sess.DisplayName(dm.Peer())))
	return err
}

// Leave ends the private session whatever its phase.
func (s *Service) Leave(ctx context.Context) error {
	dm := s.sess.Private()
	if !dm.HasPeer() {
		s.sess.Notify(session.KindError, "No connected peer")
		return ErrNotConnected
	}
	s.log.Info("leaving private session", zap.Stringer("peer", dm.Peer()))
	if err := s.send(ctx, dm, libp2p.PrivateRequest{Type: libp2p.RequestLeave}); err != nil {
		s.log.Warn("failed to send leave", zap.Error(err))
	}
	s.sess.EndPrivate(dm.Peer(), session.KindInfo, fmt.Sprintf("Left private message with %s", s.sess.DisplayName(dm.Peer())))
	return nil
}

// RequestFile asks the counterpart for a file from its share directory.
func (s *Service) RequestFile(ctx context.Context, name string) error {
	if !ValidateName(name) {
		s.sess.Notify(session.KindError, fmt.Sprintf("Invalid file name: %q", name))
		return fmt.Errorf("invalid file name %q", name)
	}
	if err := s.sess.RequestFile(name); err != nil {
		switch {
		case errors.Is(err, session.ErrNotActive):
			s.sess.Notify(session.KindError, "No connected peer")
			return ErrNotConnected
		default:
			s.sess.Notify(session.KindError, "A file request is already in progress")
			return err
		}
	}
	dm := s.sess.Private()
	s.log.Info("sending file request", zap.String("file", name))
	if err := s.send(ctx, dm, libp2p.PrivateRequest{Type: libp2p.RequestFileRequest, Filename: name}); err != nil {
		s.sess.ClearFile()
		s.sess.Notify(session.KindError, fmt.Sprintf("Unable to request file: %v", err))
		return err
	}
	s.sess.Notify(session.KindInfo, fmt.Sprintf("Requested file: %s", name))
	return nil
}

func (s *Service) noRequest(action string) error {
	s.sess.Notify(session.KindError, fmt.Sprintf("Unable to %s request as there is no incoming request.", action))
	return ErrNoRequest
}
