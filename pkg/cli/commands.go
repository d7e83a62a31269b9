package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/baderanaas/swapbytes/pkg/chat"
	"github.com/baderanaas/swapbytes/pkg/libp2p"
	"github.com/baderanaas/swapbytes/pkg/session"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Command describes one entry of the help table.
type Command struct {
	Name        string
	Usage       string
	Description string
}

var Commands = []Command{
	{"/help", "/help", "View a list of all available commands"},
	{"/list", "/list", "List all known users that have sent a message"},
	{"/rooms", "/rooms", "List all rooms"},
	{"/create_room", "/create_room [room]", "Create a new room and join it. (e.g. /create_room COSC401)"},
	{"/join", "/join [room]", "Switch to an existing room"},
	{"/connect", "/connect [nickname]", "Invite a peer to share files and chat privately."},
	{"/request", "/request [file_name]", "Request a file in a private messaging session"},
	{"/accept", "/accept", "Accept an incoming request (such as a file, or a connection)"},
	{"/reject", "/reject", "Reject an incoming request (such as a file, or a connection)"},
	{"/leave", "/leave", "Leave a private messaging session"},
	{"/peers", "/peers", "List connected peers"},
	{"/quit", "/quit", "Exit SwapBytes"},
}

// Input is a parsed prompt line. Command is empty for plain chat text.
type Input struct {
	Command string
	Args    []string
	Text    string
}

// Parse splits a line into a command and its arguments. Lines that do not
// start with a slash are chat messages and keep their inner spacing.
func Parse(line string) Input {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return Input{Text: strings.TrimRight(line, "\r\n")}
	}
	fields := strings.Fields(trimmed)
	return Input{Command: strings.ToLower(fields[0]), Args: fields[1:], Text: trimmed}
}

func lookup(name string) (Command, bool) {
	for _, c := range Commands {
		if c.Name == name {
			return c, true
		}
	}
	return Command{}, false
}

// PeerLister reports live overlay connections; *libp2p.Node implements it.
type PeerLister interface {
	ConnectedPeers() []peer.ID
}

// Shell executes prompt lines against the chat service.
type Shell struct {
	svc   *chat.Service
	sess  *session.Session
	peers PeerLister
}

func NewShell(svc *chat.Service, peers PeerLister) *Shell {
	return &Shell{svc: svc, sess: svc.Session(), peers: peers}
}

// Execute runs one line and reports whether the user asked to quit. Failures
// are already in the session log, so errors are not returned.
func (sh *Shell) Execute(ctx context.Context, line string) (quit bool) {
	in := Parse(line)
	if in.Command == "" {
		_ = sh.svc.SendMessage(ctx, in.Text)
		return false
	}

	cmd, ok := lookup(in.Command)
	if !ok || !sh.argsOK(cmd, in.Args) {
		sh.commandError(in.Text)
		return false
	}

	switch cmd.Name {
	case "/help":
		sh.help()
	case "/list":
		sh.list()
	case "/rooms":
		sh.rooms()
	case "/create_room":
		_ = sh.svc.CreateRoom(ctx, in.Args[0])
	case "/join":
		_ = sh.svc.JoinRoom(ctx, in.Args[0])
	case "/connect":
		_ = sh.svc.Connect(ctx, in.Args[0])
	case "/request":
		_ = sh.svc.RequestFile(ctx, in.Args[0])
	case "/accept":
		_ = sh.svc.Accept(ctx)
	case "/reject":
		_ = sh.svc.Reject(ctx)
	case "/leave":
		_ = sh.svc.Leave(ctx)
	case "/peers":
		sh.listPeers()
	case "/quit":
		sh.sess.Quit()
		return true
	}
	return false
}

func (sh *Shell) argsOK(cmd Command, args []string) bool {
	switch cmd.Name {
	case "/create_room", "/join", "/connect", "/request":
		return len(args) == 1
	default:
		return len(args) == 0
	}
}

func (sh *Shell) commandError(text string) {
	sh.sess.Notify(session.KindError, fmt.Sprintf("Unable to perform command: %q", text))
}

func (sh *Shell) help() {
	width := 0
	for _, c := range Commands {
		width = max(width, len(c.Usage))
	}
	for _, c := range Commands {
		sh.sess.Notify(session.KindInfo, fmt.Sprintf("%-*s %s", width, c.Usage, c.Description))
	}
}

func (sh *Shell) list() {
	users := sh.svc.KnownUsers()
	if len(users) == 0 {
		sh.sess.Notify(session.KindInfo, "No users known. A user must first send a message to be known")
		return
	}
	sh.sess.Notify(session.KindInfo, "All known users:")
	for _, u := range users {
		sh.sess.Notify(session.KindInfo, u)
	}
}

func (sh *Shell) rooms() {
	current := sh.sess.CurrentRoom()
	sh.sess.Notify(session.KindInfo, "Rooms:")
	for _, r := range sh.sess.Rooms() {
		if r == current {
			r += " (current)"
		}
		sh.sess.Notify(session.KindInfo, "  "+r)
	}
}

func (sh *Shell) listPeers() {
	if sh.peers == nil {
		return
	}
	ids := sh.peers.ConnectedPeers()
	if len(ids) == 0 {
		sh.sess.Notify(session.KindInfo, "No connected peers")
		return
	}
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		line := libp2p.ShortID(id)
		if nick, ok := sh.sess.NicknameOf(id); ok {
			line += " (" + nick + ")"
		}
		lines = append(lines, line)
	}
	sort.Strings(lines)
	sh.sess.Notify(session.KindInfo, fmt.Sprintf("Connected peers (%d):", len(lines)))
	for _, l := range lines {
		sh.sess.Notify(session.KindInfo, "  "+l)
	}
}
