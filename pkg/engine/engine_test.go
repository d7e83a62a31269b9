package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/baderanaas/swapbytes/pkg/engine/enginetest"
	"github.com/baderanaas/swapbytes/pkg/libp2p"
	"github.com/baderanaas/swapbytes/pkg/session"
	"github.com/baderanaas/swapbytes/pkg/transfer"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"
)

type fakeOverlay struct {
	mu sync.Mutex

	id         peer.ID
	events     chan libp2p.Event
	last       libp2p.QueryID
	lookups    map[libp2p.QueryID]string
	records    map[string][]byte
	sent       []enginetest.SentRequest
	subscribed []string
	listening  []string
	published  []string
	publishErr error
}

func newFakeOverlay() *fakeOverlay {
	return &fakeOverlay{
		id:      enginetest.RandomPeerID(),
		events:  make(chan libp2p.Event, 16),
		lookups: make(map[libp2p.QueryID]string),
		records: make(map[string][]byte),
	}
}

func (f *fakeOverlay) ID() peer.ID                 { return f.id }
func (f *fakeOverlay) Events() <-chan libp2p.Event { return f.events }

func (f *fakeOverlay) Listen(addr multiaddr.Multiaddr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listening = append(f.listening, addr.String())
	return nil
}

func (f *fakeOverlay) Subscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakeOverlay) Publish(_ context.Context, topic string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, topic+"|"+string(data))
	return nil
}

func (f *fakeOverlay) PutRecord(key string, value []byte) (libp2p.QueryID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last++
	f.records[key] = value
	return f.last, nil
}

func (f *fakeOverlay) GetRecord(key string) libp2p.QueryID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last++
	f.lookups[f.last] = key
	return f.last
}

func (f *fakeOverlay) SendRequest(to peer.ID, req libp2p.PrivateRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, enginetest.SentRequest{To: to, Request: req})
	return nil
}

func (f *fakeOverlay) sentRequests() []enginetest.SentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]enginetest.SentRequest(nil), f.sent...)
}

// queryFor returns the id of the latest lookup of key.
func (f *fakeOverlay) queryFor(t *testing.T, key string) libp2p.QueryID {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var found libp2p.QueryID
	for q, k := range f.lookups {
		if k == key && q > found {
			found = q
		}
	}
	require.NotZero(t, found, "no lookup for %s", key)
	return found
}

type testEngine struct {
	*Engine
	client   *Client
	net      *fakeOverlay
	sess     *session.Session
	shareDir string
	downDir  string
}

func newTestEngine(t *testing.T) *testEngine {
	net := newFakeOverlay()
	sess := session.New(net.ID())
	sess.SetNickname("alice")
	sess.EnsureRoom("global")
	sess.JoinRoom("global")

	share, down := t.TempDir(), t.TempDir()
	e, client := New(net, sess, transfer.NewStore(share, down, 1<<20), nil)
	return &testEngine{Engine: e, client: client, net: net, sess: sess, shareDir: share, downDir: down}
}

type capturedResponses struct {
	mu   sync.Mutex
	list []libp2p.PrivateResponse
}

func (c *capturedResponses) all() []libp2p.PrivateResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]libp2p.PrivateResponse(nil), c.list...)
}

func inbound(from peer.ID, req libp2p.PrivateRequest) (libp2p.InboundRequest, *capturedResponses) {
	got := &capturedResponses{}
	ch := libp2p.NewResponseChannel(from, func(resp libp2p.PrivateResponse) error {
		got.mu.Lock()
		defer got.mu.Unlock()
		got.list = append(got.list, resp)
		return nil
	})
	return libp2p.InboundRequest{From: from, Request: req, Channel: ch}, got
}

func texts(msgs []session.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Text)
	}
	return out
}

func roomTexts(t *testing.T, sess *session.Session, room string) []string {
	msgs, ok := sess.RoomMessages(room)
	require.True(t, ok, "room %s has no log", room)
	return texts(msgs)
}

func TestBufferedMessageWaitsForLookup(t *testing.T) {
	te := newTestEngine(t)
	bob := enginetest.RandomPeerID()
	te.sess.EnsureRoom("COSC401")
	te.sess.JoinRoom("COSC401")

	te.handleEvent(libp2p.TopicMessage{Topic: "COSC401", From: bob, Data: []byte("hello")})

	require.NotContains(t, roomTexts(t, te.sess, "COSC401"), "bob: hello")
	require.Len(t, te.pending, 1)

	q := te.net.queryFor(t, libp2p.NicknameKey(bob))
	found := libp2p.RecordFound{Query: q, Key: libp2p.NicknameKey(bob), Value: []byte("bob")}
	te.handleEvent(found)

	require.Empty(t, te.pending)
	nick, ok := te.sess.NicknameOf(bob)
	require.True(t, ok)
	require.Equal(t, "bob", nick)

	// a second completion for the same query id redelivers nothing
	te.handleEvent(found)

	var count int
	for _, text := range roomTexts(t, te.sess, "COSC401") {
		if text == "bob: hello" {
			count++
		}
	}
	require.Equal(t, 1, count)
	require.NotContains(t, roomTexts(t, te.sess, "global"), "bob: hello")
}

func TestLookupsForSamePeerResolveIndependently(t *testing.T) {
	te := newTestEngine(t)
	bob := enginetest.RandomPeerID()
	key := libp2p.NicknameKey(bob)

	te.handleEvent(libp2p.TopicMessage{Topic: "global", From: bob, Data: []byte("one")})
	q1 := te.net.queryFor(t, key)
	te.handleEvent(libp2p.TopicMessage{Topic: "global", From: bob, Data: []byte("two")})
	q2 := te.net.queryFor(t, key)
	require.NotEqual(t, q1, q2)
	require.Len(t, te.pending, 2)

	te.handleEvent(libp2p.RecordFound{Query: q2, Key: key, Value: []byte("bob")})
	te.handleEvent(libp2p.RecordFound{Query: q1, Key: key, Value: []byte("bob")})

	require.Empty(t, te.pending)
	log := roomTexts(t, te.sess, "global")
	require.Contains(t, log, "bob: one")
	require.Contains(t, log, "bob: two")
}

func TestKnownNicknameDisplaysImmediately(t *testing.T) {
	te := newTestEngine(t)
	bob := enginetest.RandomPeerID()
	te.sess.SetPeerNickname(bob, "bob")

	te.handleEvent(libp2p.TopicMessage{Topic: "global", From: bob, Data: []byte{'h', 'i', 0xff}})

	require.Empty(t, te.pending)
	require.Contains(t, roomTexts(t, te.sess, "global"), "bob: hi\uFFFD")
}

func TestMessageForUnjoinedRoomIsDropped(t *testing.T) {
	te := newTestEngine(t)
	bob := enginetest.RandomPeerID()
	te.sess.SetPeerNickname(bob, "bob")

	te.handleEvent(libp2p.TopicMessage{Topic: "elsewhere", From: bob, Data: []byte("hi")})

	_, ok := te.sess.RoomMessages("elsewhere")
	require.False(t, ok)
}

func TestLookupFailureDropsBufferedItems(t *testing.T) {
	te := newTestEngine(t)
	bob := enginetest.RandomPeerID()
	key := libp2p.NicknameKey(bob)

	te.handleEvent(libp2p.TopicMessage{Topic: "global", From: bob, Data: []byte("lost")})
	q1 := te.net.queryFor(t, key)
	req, responses := inbound(bob, libp2p.PrivateRequest{Type: libp2p.RequestJoin})
	te.handleEvent(req)
	q2 := te.net.queryFor(t, key)

	te.handleEvent(libp2p.RecordFailed{Query: q1, Key: key, Err: errors.New("not found")})
	te.handleEvent(libp2p.RecordFound{Query: q2, Key: key, Value: nil})

	require.Empty(t, te.pending)
	require.NotContains(t, roomTexts(t, te.sess, "global"), "bob: lost")
	require.Equal(t, session.Idle, te.sess.Private().Phase())
	require.Equal(t, []libp2p.PrivateResponse{{Ack: true}}, responses.all())
	_, ok := te.sess.NicknameOf(bob)
	require.False(t, ok)
}

func TestMismatchedNicknameRecordIsDropped(t *testing.T) {
	te := newTestEngine(t)
	bob, mallory := enginetest.RandomPeerID(), enginetest.RandomPeerID()

	te.handleEvent(libp2p.TopicMessage{Topic: "global", From: bob, Data: []byte("hi")})
	q := te.net.queryFor(t, libp2p.NicknameKey(bob))
	te.handleEvent(libp2p.RecordFound{Query: q, Key: libp2p.NicknameKey(mallory), Value: []byte("mallory")})

	require.Empty(t, te.pending)
	require.NotContains(t, roomTexts(t, te.sess, "global"), "mallory: hi")
	_, ok := te.sess.NicknameOf(mallory)
	require.False(t, ok)
}

func TestBufferedRequestRedelivered(t *testing.T) {
	te := newTestEngine(t)
	bob := enginetest.RandomPeerID()

	req, responses := inbound(bob, libp2p.PrivateRequest{Type: libp2p.RequestJoin})
	te.handleEvent(req)
	require.Equal(t, session.Idle, te.sess.Private().Phase())
	require.Empty(t, responses.all())

	q := te.net.queryFor(t, libp2p.NicknameKey(bob))
	te.handleEvent(libp2p.RecordFound{Query: q, Key: libp2p.NicknameKey(bob), Value: []byte("bob")})

	dm := te.sess.Private()
	require.Equal(t, session.Invited, dm.Phase())
	require.Equal(t, bob, dm.Peer())
	require.Equal(t, []libp2p.PrivateResponse{{Ack: true}}, responses.all())
	require.Contains(t, roomTexts(t, te.sess, "global"), "bob wants to connect. Type \"/accept\" or \"/reject\"")
}

func TestFetchRoomsReplacesList(t *testing.T) {
	te := newTestEngine(t)
	te.sess.EnsureRoom("stale")

	require.NoError(t, te.handleCommand(context.Background(), fetchRooms{}))
	q := te.net.queryFor(t, libp2p.RoomsKey)

	value, err := libp2p.EncodeRooms([]string{"global", "COSC401"})
	require.NoError(t, err)
	te.handleEvent(libp2p.RecordFound{Query: q, Key: libp2p.RoomsKey, Value: value})

	require.Equal(t, []string{"global", "COSC401"}, te.sess.Rooms())
	require.Empty(t, te.pending)
}

func TestFetchRoomsMalformedKeepsList(t *testing.T) {
	te := newTestEngine(t)

	require.NoError(t, te.handleCommand(context.Background(), fetchRooms{}))
	q := te.net.queryFor(t, libp2p.RoomsKey)
	te.handleEvent(libp2p.RecordFound{Query: q, Key: libp2p.RoomsKey, Value: []byte("junk")})

	require.Equal(t, []string{"global"}, te.sess.Rooms())
}

func TestPeerConnectivity(t *testing.T) {
	te := newTestEngine(t)
	bob := enginetest.RandomPeerID()
	te.sess.SetPeerNickname(bob, "bob")

	te.handleEvent(libp2p.PeerConnected{Peer: bob})
	require.Equal(t, 1, te.sess.ConnectedPeers())
	require.Contains(t, roomTexts(t, te.sess, "global"), "Peer has connected")

	require.NoError(t, te.sess.Invite(bob))
	require.True(t, te.sess.Activate(bob))

	te.handleEvent(libp2p.PeerDisconnected{Peer: bob})

	dm := te.sess.Private()
	require.False(t, dm.Connected())
	require.False(t, dm.HasPeer())
	log := te.sess.Messages()
	require.Equal(t, session.KindError, log[len(log)-3].Kind)
	require.Equal(t, "Connected peer has left the application.", log[len(log)-3].Text)
	require.Equal(t, "Returned to chat room: global", log[len(log)-2].Text)
	require.Equal(t, "No connected peers.", log[len(log)-1].Text)
	_, ok := te.sess.NicknameOf(bob)
	require.False(t, ok)
}

func TestOutboundFailureKeepsState(t *testing.T) {
	te := newTestEngine(t)
	bob := enginetest.RandomPeerID()
	require.NoError(t, te.sess.Invite(bob))

	te.handleEvent(libp2p.OutboundFailure{To: bob, Request: libp2p.RequestJoin, Err: errors.New("dial failed")})

	require.Equal(t, session.Invited, te.sess.Private().Phase())
	log := te.sess.Messages()
	require.Equal(t, session.KindError, log[len(log)-1].Kind)
}

func TestRunAnswersEveryCommand(t *testing.T) {
	te := newTestEngine(t)
	client := te.client

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- te.Run(ctx) }()

	require.NoError(t, client.StartListening(ctx, "/ip4/127.0.0.1/tcp/0"))
	require.Error(t, client.StartListening(ctx, "not an address"))
	require.NoError(t, client.ChangeTopic(ctx, "COSC401"))
	require.NoError(t, client.PublishMessage(ctx, "hello", "COSC401"))
	require.NoError(t, client.SetNickname(ctx, "alice", te.net.ID()))
	require.NoError(t, client.AddRoom(ctx, []string{"global", "COSC401"}))

	te.net.mu.Lock()
	te.net.publishErr = libp2p.ErrNoPeers
	te.net.mu.Unlock()
	require.ErrorIs(t, client.PublishMessage(ctx, "nobody", "COSC401"), libp2p.ErrNoPeers)

	te.net.mu.Lock()
	require.Equal(t, []string{"/ip4/127.0.0.1/tcp/0"}, te.net.listening)
	require.Equal(t, []string{"COSC401"}, te.net.subscribed)
	require.Equal(t, []string{"COSC401|hello"}, te.net.published)
	require.Equal(t, []byte("alice"), te.net.records[libp2p.NicknameKey(te.net.ID())])
	rooms, err := libp2p.DecodeRooms(te.net.records[libp2p.RoomsKey])
	te.net.mu.Unlock()
	require.NoError(t, err)
	require.Equal(t, []string{"global", "COSC401"}, rooms)

	client.Close()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
	require.ErrorIs(t, client.FetchRooms(ctx), ErrStopped)
	require.ErrorIs(t, client.ChangeTopic(ctx, "late"), ErrStopped)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	te := newTestEngine(t)
	client := te.client

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- te.Run(ctx) }()
	cancel()

	require.ErrorIs(t, <-errc, context.Canceled)
	require.ErrorIs(t, client.FetchRooms(context.Background()), ErrStopped)
}

func TestSendPrivateResponseOnce(t *testing.T) {
	te := newTestEngine(t)
	require.NoError(t, os.WriteFile(filepath.Join(te.shareDir, "notes.txt"), []byte("contents"), 0600))
	bob := enginetest.RandomPeerID()

	req, responses := inbound(bob, libp2p.PrivateRequest{Type: libp2p.RequestFileRequest, Filename: "notes.txt"})
	ctx := context.Background()
	require.NoError(t, te.handleCommand(ctx, sendPrivateResponse{ack: false, path: "notes.txt", channel: req.Channel}))
	require.ErrorIs(t, te.handleCommand(ctx, sendPrivateResponse{ack: true, channel: req.Channel}), libp2p.ErrAlreadyResponded)
	require.Equal(t, []libp2p.PrivateResponse{{Ack: false, File: []byte("contents")}}, responses.all())

	missing, responses := inbound(bob, libp2p.PrivateRequest{Type: libp2p.RequestFileRequest, Filename: "gone.txt"})
	require.NoError(t, te.handleCommand(ctx, sendPrivateResponse{ack: false, path: "gone.txt", channel: missing.Channel}))
	require.Equal(t, []libp2p.PrivateResponse{{Ack: false}}, responses.all())
}
