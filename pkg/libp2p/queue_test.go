package libp2p

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

func TestEventQueueKeepsOrder(t *testing.T) {
	q := newEventQueue()
	id := randomPeerID(t)

	// nobody is reading yet, so every push has to return on its own
	const total = 1000
	for i := 0; i < total; i++ {
		if i%2 == 0 {
			q.push(PeerConnected{Peer: id})
		} else {
			q.push(PeerDisconnected{Peer: id})
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Event, 4)
	done := make(chan struct{})
	go func() {
		q.run(ctx, out)
		close(done)
	}()

	for i := 0; i < total; i++ {
		select {
		case ev := <-out:
			if i%2 == 0 {
				require.IsType(t, PeerConnected{}, ev, "event %d", i)
			} else {
				require.IsType(t, PeerDisconnected{}, ev, "event %d", i)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	// a push after the backlog drained is still delivered
	q.push(PeerDiscovered{Peer: peer.AddrInfo{ID: id}})
	select {
	case ev := <-out:
		require.IsType(t, PeerDiscovered{}, ev)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for late event")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not stop")
	}
}

func TestEmitAsyncPastFullChannel(t *testing.T) {
	node := newTestNode(t)
	id := randomPeerID(t)

	total := cap(node.events) + 100
	for i := 0; i < total; i++ {
		if i%2 == 0 {
			node.emitAsync(PeerConnected{Peer: id})
		} else {
			node.emitAsync(PeerDisconnected{Peer: id})
		}
	}

	for i := 0; i < total; i++ {
		ev := nextEvent[Event](t, node)
		if i%2 == 0 {
			require.Equal(t, PeerConnected{Peer: id}, ev, "event %d", i)
		} else {
			require.Equal(t, PeerDisconnected{Peer: id}, ev, "event %d", i)
		}
	}
}
