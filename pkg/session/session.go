package session

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
)

var (
	ErrAlreadyExists = errors.New("room already exists")
	ErrSessionBusy   = errors.New("a private session is already pending or active")
	ErrNotActive     = errors.New("no active private session")
	ErrFileBusy      = errors.New("a file request is already in progress")
)

// Session is the shared application state read by the front end and mutated
// by the network engine. Every method takes the lock for its own duration only.
type Session struct {
	mu sync.Mutex

	self     peer.ID
	nickname string
	quitting bool

	room  string
	rooms []string
	logs  map[string][]Message

	nicknames map[peer.ID]string
	peers     map[peer.ID]struct{}

	dm      Private
	private []Message
}

// New creates the state for the local peer.
func New(self peer.ID) *Session {
	return &Session{
		self:      self,
		logs:      make(map[string][]Message),
		nicknames: make(map[peer.ID]string),
		peers:     make(map[peer.ID]struct{}),
	}
}

func (s *Session) Self() peer.ID {
	return s.self
}

func (s *Session) Nickname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nickname
}

func (s *Session) SetNickname(nickname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nickname = nickname
}

// Quit asks the front end to shut down.
func (s *Session) Quit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quitting = true
}

func (s *Session) Quitting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quitting
}

// CurrentRoom returns the active topic, empty before the first join.
func (s *Session) CurrentRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Rooms returns a copy of the known room names in order.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rooms)
}

// AddRoom appends a new room name and returns the full list to persist.
func (s *Session) AddRoom(name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.rooms, name) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	s.rooms = append(s.rooms, name)
	return slices.Clone(s.rooms), nil
}

// EnsureRoom appends name if it is not known yet.
func (s *Session) EnsureRoom(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.rooms, name) {
		s.rooms = append(s.rooms, name)
	}
}

// SetRooms replaces the room list with a fetched one.
func (s *Session) SetRooms(rooms []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = slices.Clone(rooms)
}

// JoinRoom makes name the active room. The first join of a room opens its
// log with the welcome lines. It returns false when name is already active.
func (s *Session) JoinRoom(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == name {
		return false
	}
	s.room = name
	if _, ok := s.logs[name]; !ok {
		s.logs[name] = []Message{
			{Kind: KindInfo, Text: fmt.Sprintf("Logged in as: %s", s.nickname)},
			{Kind: KindInfo, Text: fmt.Sprintf("Joined chat room: %s", name)},
			{Kind: KindHelp, Text: HelpHint},
		}
	}
	return true
}

// RoomMessages returns a copy of a room's log; ok is false if the room was
// never joined.
func (s *Session) RoomMessages(room string) ([]Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.logs[room]
	return slices.Clone(log), ok
}

func (s *Session) PrivateMessages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.private)
}

// View names what the front end should show: the private log while a
// session is Active, the current room otherwise.
func (s *Session) View() (room string, private bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.dm.Connected()
}

// Messages returns the log of the current view.
func (s *Session) Messages() []Message {
	_, _, msgs := s.Snapshot()
	return msgs
}

// Snapshot is View and Messages read under one lock, so the log always
// belongs to the returned view.
func (s *Session) Snapshot() (room string, private bool, msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dm.Connected() {
		return s.room, true, slices.Clone(s.private)
	}
	return s.room, false, slices.Clone(s.logs[s.room])
}

// AddRoomMessage appends to a room log. Rooms never joined have no log and
// the message is refused.
func (s *Session) AddRoomMessage(room string, kind Kind, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendRoomLocked(room, kind, text)
}

func (s *Session) AddPrivateMessage(kind Kind, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.private = append(s.private, Message{Kind: kind, Text: text})
}

// Notify appends to whichever log is currently shown.
func (s *Session) Notify(kind Kind, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyLocked(kind, text)
}

func (s *Session) notifyLocked(kind Kind, text string) {
	if s.dm.Connected() {
		s.private = append(s.private, Message{Kind: kind, Text: text})
		return
	}
	s.appendRoomLocked(s.room, kind, text)
}

func (s *Session) appendRoomLocked(room string, kind Kind, text string) bool {
	log, ok := s.logs[room]
	if !ok {
		return false
	}
	s.logs[room] = append(log, Message{Kind: kind, Text: text})
	return true
}

// NicknameOf looks up the directory.
func (s *Session) NicknameOf(id peer.ID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nick, ok := s.nicknames[id]
	return nick, ok
}

// PeerByNickname is the reverse directory lookup. When several peers use the
// nickname the smallest peer id is returned; see PeersByNickname.
func (s *Session) PeerByNickname(nickname string) (peer.ID, bool) {
	ids := s.PeersByNickname(nickname)
	if len(ids) == 0 {
		return "", false
	}
	return ids[0], true
}

// PeersByNickname returns every peer using nickname, sorted by id.
func (s *Session) PeersByNickname(nickname string) []peer.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []peer.ID
	for id, nick := range s.nicknames {
		if nick == nickname {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (s *Session) SetPeerNickname(id peer.ID, nickname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nicknames[id] = nickname
}

// Nicknames returns the known nicknames sorted.
func (s *Session) Nicknames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.nicknames))
	for _, nick := range s.nicknames {
		names = append(names, nick)
	}
	sort.Strings(names)
	return names
}

// DisplayName returns the nickname of id, or a shortened peer id.
func (s *Session) DisplayName(id peer.ID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayNameLocked(id)
}

func (s *Session) displayNameLocked(id peer.ID) string {
	if nick, ok := s.nicknames[id]; ok {
		return nick
	}
	short := id.String()
	if len(short) > 12 {
		short = short[:12]
	}
	return short
}

// AddPeer records a connected peer. It returns false if it was already known.
func (s *Session) AddPeer(id peer.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[id]; ok {
		return false
	}
	if len(s.peers) == 0 {
		s.appendRoomLocked(s.room, KindInfo, "Peer has connected")
	}
	s.peers[id] = struct{}{}
	return true
}

// RemovePeer forgets a disconnected peer and its nickname. If it was the
// private counterpart the session returns to Idle with an error notice; the
// result reports whether that happened.
func (s *Session) RemovePeer(id peer.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[id]; !ok {
		return false
	}
	delete(s.peers, id)
	delete(s.nicknames, id)

	left := false
	if s.dm.With(id) {
		left = true
		s.endLocked(KindError, "Connected peer has left the application.")
	}
	if len(s.peers) == 0 {
		s.appendRoomLocked(s.room, KindError, "No connected peers.")
	}
	return left
}

func (s *Session) ConnectedPeers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Private returns a snapshot of the private session.
func (s *Session) Private() Private {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dm
}

// ConnectedNickname names the counterpart of an Active session.
func (s *Session) ConnectedNickname() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dm.Connected() {
		return "", false
	}
	return s.displayNameLocked(s.dm.peer), true
}

// PendingFile returns the file under negotiation, if any.
func (s *Session) PendingFile() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dm.RequestedFile()
}

// Invite moves Idle to Invited after the local user sent a Join.
func (s *Session) Invite(id peer.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dm.phase != Idle {
		return ErrSessionBusy
	}
	s.dm = Private{phase: Invited, peer: id}
	return nil
}

// ReceiveInvite records an inbound Join. It is refused while another peer
// holds the session; a repeated Join from the counterpart keeps the state.
func (s *Session) ReceiveInvite(id peer.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.dm.phase == Idle:
		s.dm = Private{phase: Invited, peer: id}
		return true
	case s.dm.peer == id:
		return true
	default:
		return false
	}
}

// CancelInvite returns an Invited session with id to Idle.
func (s *Session) CancelInvite(id peer.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dm.phase != Invited || s.dm.peer != id {
		return false
	}
	s.dm = Private{}
	return true
}

// Activate completes the handshake with id: the session becomes Active and
// the private log is reset with the welcome lines.
func (s *Session) Activate(id peer.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dm.phase != Invited || s.dm.peer != id {
		return false
	}
	s.dm = Private{phase: Active, peer: id}
	nick := s.displayNameLocked(id)
	s.private = []Message{
		{Kind: KindInfo, Text: fmt.Sprintf("Joined private message with %s", nick)},
		{Kind: KindInfo, Text: "To leave the private message, type \"/leave\""},
		{Kind: KindHelp, Text: HelpHint},
	}
	return true
}

// EndPrivate returns a session held with id to Idle. The notice and the room
// the user is returned to are appended to the current room log.
func (s *Session) EndPrivate(id peer.ID, kind Kind, notice string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dm.With(id) {
		return false
	}
	s.endLocked(kind, notice)
	return true
}

func (s *Session) endLocked(kind Kind, notice string) {
	s.dm = Private{}
	s.appendRoomLocked(s.room, kind, notice)
	s.appendRoomLocked(s.room, KindInfo, fmt.Sprintf("Returned to chat room: %s", s.room))
}

// RequestFile starts a locally initiated file request.
func (s *Session) RequestFile(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dm.phase != Active {
		return ErrNotActive
	}
	if s.dm.stage != NoFile {
		return ErrFileBusy
	}
	s.dm.file, s.dm.stage = name, FileRequesting
	return nil
}

// OfferFile records that the counterpart id asked for a local file. A
// pending local request takes precedence and the offer is refused.
func (s *Session) OfferFile(id peer.ID, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dm.phase != Active || s.dm.peer != id {
		return false
	}
	if s.dm.stage == FileRequesting || s.dm.stage == FileReady {
		return false
	}
	s.dm.file, s.dm.stage = name, FileOffered
	return true
}

// ReadyFile marks an offered file as accepted by the local user.
func (s *Session) ReadyFile(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dm.stage != FileOffered || s.dm.file != name {
		return false
	}
	s.dm.stage = FileReady
	return true
}

// UnreadyFile reverts ReadyFile when the acceptance could not be sent.
func (s *Session) UnreadyFile(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dm.stage != FileReady || s.dm.file != name {
		return false
	}
	s.dm.stage = FileOffered
	return true
}

// ClearFile ends the file negotiation and keeps the session. It returns the
// file that was under negotiation.
func (s *Session) ClearFile() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dm.stage == NoFile {
		return "", false
	}
	name := s.dm.file
	s.dm.file, s.dm.stage = "", NoFile
	return name, true
}
