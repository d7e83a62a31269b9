package libp2p

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/libp2p/go-libp2p/core/peer"
	record "github.com/libp2p/go-libp2p-record"
	"go.uber.org/zap"
)

// RoomsKey holds the shared list of chat rooms.
var RoomsKey = "/" + RecordNamespace + "/rooms"

var (
	ErrInvalidRecord = errors.New("invalid record")
	ErrInvalidKey    = errors.New("invalid record key")
)

// NicknameKey is the DHT key under which a peer publishes its nickname.
func NicknameKey(id peer.ID) string {
	return "/" + RecordNamespace + "/" + id.String()
}

// ParseNicknameKey returns the peer a nickname key belongs to.
func ParseNicknameKey(key string) (peer.ID, error) {
	ns, rest, err := record.SplitKey(key)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	if ns != RecordNamespace {
		return "", fmt.Errorf("%w: namespace %q", ErrInvalidKey, ns)
	}
	id, err := peer.Decode(rest)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return id, nil
}

// DecodeNickname checks a nickname record value.
func DecodeNickname(value []byte) (string, error) {
	if len(value) == 0 || !utf8.Valid(value) {
		return "", fmt.Errorf("%w: nickname is empty or not UTF-8", ErrInvalidRecord)
	}
	return string(value), nil
}

type roomsRecord struct {
	Rooms   []string `json:"rooms"`
	Updated int64    `json:"updated"`
}

// EncodeRooms serialises the room list stamped with the current time.
func EncodeRooms(rooms []string) ([]byte, error) {
	if rooms == nil {
		rooms = []string{}
	}
	return json.Marshal(roomsRecord{Rooms: rooms, Updated: time.Now().UnixNano()})
}

// DecodeRooms parses a room list record.
func DecodeRooms(value []byte) ([]string, error) {
	rec, err := decodeRoomsRecord(value)
	if err != nil {
		return nil, err
	}
	return rec.Rooms, nil
}

func decodeRoomsRecord(value []byte) (roomsRecord, error) {
	var rec roomsRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	for _, r := range rec.Rooms {
		if r == "" || !utf8.ValidString(r) {
			return rec, fmt.Errorf("%w: bad room name", ErrInvalidRecord)
		}
	}
	return rec, nil
}

// recordValidator accepts the two record shapes stored under the swapbytes
// namespace.
type recordValidator struct{}

func (recordValidator) Validate(key string, value []byte) error {
	if key == RoomsKey {
		_, err := decodeRoomsRecord(value)
		return err
	}
	if _, err := ParseNicknameKey(key); err != nil {
		return err
	}
	_, err := DecodeNickname(value)
	return err
}

// Select prefers the newest room list. For nicknames the first value wins,
// which lets a put replace the locally stored one.
func (recordValidator) Select(key string, values [][]byte) (int, error) {
	if len(values) == 0 {
		return 0, errors.New("no values")
	}
	if key != RoomsKey {
		return 0, nil
	}
	best, bestUpdated := 0, int64(-1)
	for i, v := range values {
		rec, err := decodeRoomsRecord(v)
		if err != nil {
			continue
		}
		if rec.Updated > bestUpdated {
			best, bestUpdated = i, rec.Updated
		}
	}
	return best, nil
}

// PutRecord stores a record locally and replicates it in the background. The
// outcome arrives as RecordStored.
func (n *Node) PutRecord(key string, value []byte) (QueryID, error) {
	if err := (recordValidator{}).Validate(key, value); err != nil {
		return 0, err
	}
	id := n.nextQuery()
	go func() {
		ctx, cancel := context.WithTimeout(n.ctx, n.opts.LookupTimeout)
		defer cancel()
		err := n.dht.PutValue(ctx, key, value)
		if err != nil {
			n.log.Debug("record put incomplete", zap.String("key", key), zap.Error(err))
		}
		n.emit(RecordStored{Query: id, Key: key, Err: err})
	}()
	return id, nil
}

// GetRecord starts a lookup. The result arrives as RecordFound or RecordFailed
// carrying the returned id.
func (n *Node) GetRecord(key string) QueryID {
	id := n.nextQuery()
	go func() {
		ctx, cancel := context.WithTimeout(n.ctx, n.opts.LookupTimeout)
		defer cancel()
		value, err := n.dht.GetValue(ctx, key)
		if err != nil {
			n.emit(RecordFailed{Query: id, Key: key, Err: err})
			return
		}
		n.emit(RecordFound{Query: id, Key: key, Value: value})
	}()
	return id
}

// KeyKind names a record key for logging.
func KeyKind(key string) string {
	if key == RoomsKey {
		return "rooms"
	}
	if strings.HasPrefix(key, "/"+RecordNamespace+"/") {
		return "nickname"
	}
	return "unknown"
}
