package libp2p

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
)

// ErrAlreadyResponded is returned when a response channel is used twice.
var ErrAlreadyResponded = errors.New("response already sent")

// RequestType is the kind of a private session request.
type RequestType string

const (
	RequestJoin        RequestType = "join"
	RequestAccept      RequestType = "accept"
	RequestReject      RequestType = "reject"
	RequestMessage     RequestType = "message"
	RequestFileRequest RequestType = "file_request"
	RequestLeave       RequestType = "leave"
)

// PrivateRequest is sent point to point between two negotiators.
type PrivateRequest struct {
	Type     RequestType `json:"type"`
	Message  string      `json:"message,omitempty"`
	Filename string      `json:"filename,omitempty"`
}

// PrivateResponse acknowledges a PrivateRequest. File is only set when a
// file request is answered with the file's contents.
type PrivateResponse struct {
	Ack  bool   `json:"ack"`
	File []byte `json:"file,omitempty"`
}

func (r PrivateRequest) Valid() bool {
	switch r.Type {
	case RequestJoin, RequestAccept, RequestReject, RequestLeave:
		return true
	case RequestMessage:
		return r.Message != ""
	case RequestFileRequest:
		return r.Filename != ""
	default:
		return false
	}
}

// ResponseChannel completes one inbound request. Only the first Send reaches
// the remote peer. For streams opened by a Node, Send does not wait for the
// response to be written.
type ResponseChannel struct {
	ID   uuid.UUID
	Peer peer.ID

	once sync.Once
	send func(PrivateResponse) error
}

// NewResponseChannel wraps a send function for an inbound request from p.
func NewResponseChannel(p peer.ID, send func(PrivateResponse) error) *ResponseChannel {
	return &ResponseChannel{ID: uuid.New(), Peer: p, send: send}
}

func (c *ResponseChannel) Send(resp PrivateResponse) error {
	err := ErrAlreadyResponded
	c.once.Do(func() {
		err = c.send(resp)
	})
	return err
}

// QueryID identifies an asynchronous DHT operation.
type QueryID uint64

// Event is something the overlay observed. The engine consumes them one at a
// time from Node.Events.
type Event interface {
	event()
}

// PeerDiscovered is reported by mDNS before a connection is attempted.
type PeerDiscovered struct {
	Peer peer.AddrInfo
}

// PeerConnected is the first connection to a peer.
type PeerConnected struct {
	Peer peer.ID
}

// PeerDisconnected is the loss of the last connection to a peer.
type PeerDisconnected struct {
	Peer peer.ID
}

// TopicMessage is a gossipsub message from another peer.
type TopicMessage struct {
	Topic string
	From  peer.ID
	Data  []byte
}

// RecordFound completes a lookup.
type RecordFound struct {
	Query QueryID
	Key   string
	Value []byte
}

// RecordFailed ends a lookup without a value.
type RecordFailed struct {
	Query QueryID
	Key   string
	Err   error
}

// RecordStored reports the outcome of replicating a record; Err is nil on
// success.
type RecordStored struct {
	Query QueryID
	Key   string
	Err   error
}

// InboundRequest is a private request waiting for its response.
type InboundRequest struct {
	From    peer.ID
	Request PrivateRequest
	Channel *ResponseChannel
}

// InboundResponse answers a request we sent.
type InboundResponse struct {
	From     peer.ID
	Request  RequestType
	Response PrivateResponse
}

// OutboundFailure means a request we sent got no response.
type OutboundFailure struct {
	To      peer.ID
	Request RequestType
	Err     error
}

func (PeerDiscovered) event()   {}
func (PeerConnected) event()    {}
func (PeerDisconnected) event() {}
func (TopicMessage) event()     {}
func (RecordFound) event()      {}
func (RecordFailed) event()     {}
func (RecordStored) event()     {}
func (InboundRequest) event()   {}
func (InboundResponse) event()  {}
func (OutboundFailure) event()  {}
