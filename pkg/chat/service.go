// Package chat implements the user-facing operations: login, the room
// registry and the local side of private sessions. Failures are posted to
// the session log as Error messages and also returned.
package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/baderanaas/swapbytes/pkg/libp2p"
	"github.com/baderanaas/swapbytes/pkg/session"
	"github.com/baderanaas/swapbytes/pkg/transfer"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
)

// Network is the command surface of the network engine; *engine.Client
// implements it.
type Network interface {
	ChangeTopic(ctx context.Context, name string) error
	PublishMessage(ctx context.Context, text, topic string) error
	SetNickname(ctx context.Context, nickname string, id peer.ID) error
	AddRoom(ctx context.Context, rooms []string) error
	FetchRooms(ctx context.Context) error
	SendPrivateRequest(ctx context.Context, to peer.ID, req libp2p.PrivateRequest) error
}

type Service struct {
	net         Network
	sess        *session.Session
	files       *transfer.Store
	log         *zap.Logger
	defaultRoom string
}

func NewService(net Network, sess *session.Session, files *transfer.Store, defaultRoom string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if defaultRoom == "" {
		defaultRoom = "global"
	}
	return &Service{
		net:         net,
		sess:        sess,
		files:       files,
		log:         log.Named("chat"),
		defaultRoom: defaultRoom,
	}
}

func (s *Service) Session() *session.Session {
	return s.sess
}

// ValidateName accepts non-empty UTF-8 without whitespace, since names are
// typed as command arguments.
func ValidateName(name string) bool {
	if name == "" || !utf8.ValidString(name) {
		return false
	}
	return strings.IndexFunc(name, unicode.IsSpace) < 0
}

// Login publishes the nickname, enters the default room and refreshes the
// room list.
func (s *Service) Login(ctx context.Context, nickname string) error {
	if !ValidateName(nickname) {
		return fmt.Errorf("%w: %q", ErrInvalidNickname, nickname)
	}
	s.sess.SetNickname(nickname)
	if err := s.net.SetNickname(ctx, nickname, s.sess.Self()); err != nil {
		return fmt.Errorf("failed to publish nickname: %w", err)
	}
	s.log.Info("logged in", zap.String("nickname", nickname), zap.Stringer("peer", s.sess.Self()))

	s.sess.EnsureRoom(s.defaultRoom)
	if err := s.JoinRoom(ctx, s.defaultRoom); err != nil {
		return err
	}
	if err := s.net.FetchRooms(ctx); err != nil {
		s.log.Warn("failed to fetch rooms", zap.Error(err))
	}
	return nil
}

// CreateRoom adds a room, publishes the full list and joins the room.
func (s *Service) CreateRoom(ctx context.Context, name string) error {
	if !ValidateName(name) {
		s.sess.Notify(session.KindError, fmt.Sprintf("Invalid room name: %q", name))
		return fmt.Errorf("%w: %q", ErrInvalidRoom, name)
	}
	if s.sess.Private().Connected() {
		s.sess.Notify(session.KindError, "Unable to create a room during a private message")
		return ErrSessionBusy
	}
	rooms, err := s.sess.AddRoom(name)
	if err != nil {
		s.sess.Notify(session.KindError, "Room already exists")
		return err
	}
	if err := s.net.AddRoom(ctx, rooms); err != nil {
		s.sess.Notify(session.KindError, fmt.Sprintf("Unable to publish room list: %v", err))
		return err
	}
	s.log.Info("room created", zap.String("room", name))
	return s.JoinRoom(ctx, name)
}

// JoinRoom switches the active room. Joining the active room does nothing.
func (s *Service) JoinRoom(ctx context.Context, name string) error {
	if s.sess.CurrentRoom() == name {
		return nil
	}
	if !slices.Contains(s.sess.Rooms(), name) {
		s.sess.Notify(session.KindError, fmt.Sprintf("Room not found: %s", name))
		return fmt.Errorf("room %s: %w", name, ErrNotFound)
	}
	if err := s.net.ChangeTopic(ctx, name); err != nil {
		s.sess.Notify(session.KindError, fmt.Sprintf("Unable to join room %s: %v", name, err))
		return err
	}
	s.sess.JoinRoom(name)
	s.log.Info("joined room", zap.String("room", name))
	return nil
}

// FetchRooms refreshes the room list in the background.
func (s *Service) FetchRooms(ctx context.Context) error {
	if err := s.net.FetchRooms(ctx); err != nil {
		s.sess.Notify(session.KindError, fmt.Sprintf("Unable to fetch rooms: %v", err))
		return err
	}
	return nil
}

// SendMessage posts to the private session while one is active, otherwise
// to the current room.
func (s *Service) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	line := s.sess.Nickname() + ": " + text

	if dm := s.sess.Private(); dm.Connected() {
		s.sess.AddPrivateMessage(session.KindMessage, line)
		req := libp2p.PrivateRequest{Type: libp2p.RequestMessage, Message: text}
		if err := s.net.SendPrivateRequest(ctx, dm.Peer(), req); err != nil {
			s.sess.AddPrivateMessage(session.KindError, fmt.Sprintf("Unable to send message: %v", err))
			return err
		}
		return nil
	}

	room := s.sess.CurrentRoom()
	s.sess.AddRoomMessage(room, session.KindMessage, line)
	if err := s.net.PublishMessage(ctx, text, room); err != nil {
		if errors.Is(err, libp2p.ErrNoPeers) {
			s.sess.AddRoomMessage(room, session.KindError, "Unable to send message: no peers in this room")
		} else {
			s.sess.AddRoomMessage(room, session.KindError, fmt.Sprintf("Unable to send message: %v", err))
		}
		return err
	}
	return nil
}

// KnownUsers lists the nicknames resolved so far.
func (s *Service) KnownUsers() []string {
	return s.sess.Nicknames()
}
