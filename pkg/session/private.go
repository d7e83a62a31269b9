package session

import "github.com/libp2p/go-libp2p/core/peer"

// Phase is the stage of the private session handshake.
type Phase int

const (
	Idle Phase = iota
	Invited
	Active
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Invited:
		return "invited"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// FileStage is the file negotiation nested inside an active session.
type FileStage int

const (
	NoFile FileStage = iota
	// FileRequesting: the local peer asked the counterpart for a file.
	FileRequesting
	// FileOffered: the counterpart asked for a local file, user not answered yet.
	FileOffered
	// FileReady: the local user accepted, waiting for the second request leg.
	FileReady
)

func (s FileStage) String() string {
	switch s {
	case NoFile:
		return "none"
	case FileRequesting:
		return "requesting"
	case FileOffered:
		return "offered"
	case FileReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Private is a read-only snapshot of the private session.
//
// The zero value is Idle. A counterpart is set exactly when the phase is not
// Idle, and a file stage other than NoFile only exists while Active. Only the
// Session transition methods construct non-zero values.
type Private struct {
	phase Phase
	peer  peer.ID
	file  string
	stage FileStage
}

func (p Private) Phase() Phase { return p.phase }

// Peer returns the counterpart, empty when Idle.
func (p Private) Peer() peer.ID { return p.peer }

func (p Private) HasPeer() bool { return p.phase != Idle }

// Connected reports whether the session is the active message target.
func (p Private) Connected() bool { return p.phase == Active }

// With reports whether id is the current counterpart.
func (p Private) With(id peer.ID) bool { return p.phase != Idle && p.peer == id }

func (p Private) Stage() FileStage { return p.stage }

// RequestedFile returns the file under negotiation, if any.
func (p Private) RequestedFile() (string, bool) {
	if p.stage == NoFile {
		return "", false
	}
	return p.file, true
}

// RequestingFile reports whether the local peer initiated the file request.
func (p Private) RequestingFile() bool { return p.stage == FileRequesting }
