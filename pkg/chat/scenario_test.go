package chat

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/baderanaas/swapbytes/pkg/engine"
	"github.com/baderanaas/swapbytes/pkg/engine/enginetest"
	"github.com/baderanaas/swapbytes/pkg/libp2p"
	"github.com/baderanaas/swapbytes/pkg/session"
	"github.com/baderanaas/swapbytes/pkg/transfer"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

type chatPeer struct {
	*Service
	net      *enginetest.Overlay
	shareDir string
	downDir  string
}

func newChatPeer(t *testing.T, hub *enginetest.Hub, nickname string) *chatPeer {
	net := hub.NewOverlay()
	sess := session.New(net.ID())
	share, down := t.TempDir(), t.TempDir()
	files := transfer.NewStore(share, down, 1<<20)

	e, client := engine.New(net, sess, files, nil)
	go func() { _ = e.Run(context.Background()) }()
	t.Cleanup(func() {
		client.Close()
		<-client.Done()
		net.Close()
	})

	svc := NewService(client, sess, files, "global", nil)
	require.NoError(t, svc.Login(context.Background(), nickname))
	return &chatPeer{Service: svc, net: net, shareDir: share, downDir: down}
}

func logHas(msgs []session.Message, text string) bool {
	return slices.ContainsFunc(msgs, func(m session.Message) bool { return m.Text == text })
}

func (p *chatPeer) roomHas(room, text string) bool {
	msgs, _ := p.Session().RoomMessages(room)
	return logHas(msgs, text)
}

// knows waits until p has resolved the nickname of other.
func knows(t *testing.T, p *chatPeer, nickname string) {
	require.Eventually(t, func() bool {
		_, ok := p.Session().PeerByNickname(nickname)
		return ok
	}, waitFor, tick)
}

func TestScenarioBufferedRoomMessage(t *testing.T) {
	ctx := context.Background()
	hub := enginetest.NewHub()
	alice := newChatPeer(t, hub, "alice")
	bob := newChatPeer(t, hub, "bob")
	hub.Connect(alice.net, bob.net)

	require.NoError(t, alice.CreateRoom(ctx, "COSC401"))

	require.Eventually(t, func() bool {
		_ = bob.FetchRooms(ctx)
		return slices.Contains(bob.Session().Rooms(), "COSC401")
	}, waitFor, tick)
	require.NoError(t, bob.JoinRoom(ctx, "COSC401"))

	_, known := alice.Session().NicknameOf(bob.Session().Self())
	require.False(t, known)

	require.NoError(t, bob.SendMessage(ctx, "hello"))

	require.Eventually(t, func() bool {
		return alice.roomHas("COSC401", "bob: hello")
	}, waitFor, tick)
	require.False(t, alice.roomHas("global", "bob: hello"))
	require.True(t, bob.roomHas("COSC401", "bob: hello"))
}

// connectPair makes alice and bob Active with each other.
func connectPair(t *testing.T, alice, bob *chatPeer) {
	ctx := context.Background()
	require.NoError(t, bob.SendMessage(ctx, "hi all"))
	knows(t, alice, "bob")

	require.NoError(t, alice.Connect(ctx, "bob"))
	dm := alice.Session().Private()
	require.Equal(t, session.Invited, dm.Phase())
	require.Equal(t, bob.Session().Self(), dm.Peer())

	require.Eventually(t, func() bool {
		return bob.Session().Private().Phase() == session.Invited
	}, waitFor, tick)
	require.Equal(t, alice.Session().Self(), bob.Session().Private().Peer())

	require.NoError(t, bob.Accept(ctx))
	require.True(t, bob.Session().Private().Connected())
	require.Eventually(t, func() bool {
		return alice.Session().Private().Connected()
	}, waitFor, tick)
}

func TestScenarioPrivateSession(t *testing.T) {
	ctx := context.Background()
	hub := enginetest.NewHub()
	alice := newChatPeer(t, hub, "alice")
	bob := newChatPeer(t, hub, "bob")
	hub.Connect(alice.net, bob.net)

	connectPair(t, alice, bob)

	require.NoError(t, alice.SendMessage(ctx, "hi"))
	require.True(t, logHas(alice.Session().PrivateMessages(), "alice: hi"))
	require.Eventually(t, func() bool {
		return logHas(bob.Session().PrivateMessages(), "alice: hi")
	}, waitFor, tick)
	require.False(t, alice.roomHas("global", "alice: hi"))
	require.False(t, bob.roomHas("global", "alice: hi"))

	require.NoError(t, alice.Leave(ctx))
	require.Equal(t, session.Idle, alice.Session().Private().Phase())
	require.Eventually(t, func() bool {
		return bob.Session().Private().Phase() == session.Idle
	}, waitFor, tick)
	require.True(t, bob.roomHas("global", "alice has left the private message."))
}

func TestScenarioFileTransfer(t *testing.T) {
	ctx := context.Background()
	hub := enginetest.NewHub()
	alice := newChatPeer(t, hub, "alice")
	bob := newChatPeer(t, hub, "bob")
	hub.Connect(alice.net, bob.net)
	connectPair(t, alice, bob)

	content := []byte("%PDF-1.7 quarterly numbers")
	require.NoError(t, os.WriteFile(filepath.Join(bob.shareDir, "report.pdf"), content, 0600))

	require.NoError(t, alice.RequestFile(ctx, "report.pdf"))
	dm := alice.Session().Private()
	require.True(t, dm.RequestingFile())
	name, _ := dm.RequestedFile()
	require.Equal(t, "report.pdf", name)

	require.Eventually(t, func() bool {
		return bob.Session().Private().Stage() == session.FileOffered
	}, waitFor, tick)
	require.False(t, bob.Session().Private().RequestingFile())

	require.NoError(t, bob.Accept(ctx))

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(alice.downDir, "report.pdf"))
		return err == nil && string(data) == string(content)
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		return alice.Session().Private().Stage() == session.NoFile &&
			bob.Session().Private().Stage() == session.NoFile
	}, waitFor, tick)
	require.True(t, alice.Session().Private().Connected())
	require.True(t, bob.Session().Private().Connected())
}

func TestScenarioMissingFileIsRejected(t *testing.T) {
	ctx := context.Background()
	hub := enginetest.NewHub()
	alice := newChatPeer(t, hub, "alice")
	bob := newChatPeer(t, hub, "bob")
	hub.Connect(alice.net, bob.net)
	connectPair(t, alice, bob)

	require.NoError(t, alice.RequestFile(ctx, "missing.txt"))
	require.Eventually(t, func() bool {
		return bob.Session().Private().Stage() == session.FileOffered
	}, waitFor, tick)

	require.ErrorIs(t, bob.Accept(ctx), ErrFileNotFound)

	sent := bob.net.Sent()
	require.Equal(t, libp2p.RequestReject, sent[len(sent)-1].Request.Type)
	// the only Accept is the one that opened the session
	require.Equal(t, 1, countType(sent, libp2p.RequestAccept))

	require.Eventually(t, func() bool {
		return alice.Session().Private().Stage() == session.NoFile
	}, waitFor, tick)
	require.True(t, alice.Session().Private().Connected())
	_, err := os.Stat(filepath.Join(alice.downDir, "missing.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestScenarioCounterpartDisconnects(t *testing.T) {
	hub := enginetest.NewHub()
	alice := newChatPeer(t, hub, "alice")
	bob := newChatPeer(t, hub, "bob")
	hub.Connect(alice.net, bob.net)
	connectPair(t, alice, bob)

	hub.Disconnect(alice.net, bob.net)

	require.Eventually(t, func() bool {
		return alice.Session().Private().Phase() == session.Idle
	}, waitFor, tick)
	require.True(t, alice.roomHas("global", "Connected peer has left the application."))
	require.True(t, alice.roomHas("global", "No connected peers."))
}

func countType(sent []enginetest.SentRequest, typ libp2p.RequestType) int {
	var n int
	for _, r := range sent {
		if r.Request.Type == typ {
			n++
		}
	}
	return n
}
