package libp2p

import "github.com/libp2p/go-libp2p/core/peer"

// ShortID truncates a peer id for display.
func ShortID(id peer.ID) string {
	s := id.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
