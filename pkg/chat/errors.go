package chat

import (
	"errors"

	"github.com/baderanaas/swapbytes/pkg/session"
)

var (
	ErrAlreadyExists     = session.ErrAlreadyExists
	ErrSessionBusy       = session.ErrSessionBusy
	ErrNotFound          = errors.New("not found")
	ErrAmbiguousNickname = errors.New("nickname used by several peers")
	ErrNoRequest         = errors.New("no incoming request")
	ErrNotConnected      = errors.New("no connected peer")
	ErrFileNotFound      = errors.New("file does not exist")
	ErrInvalidNickname   = errors.New("invalid nickname")
	ErrInvalidRoom       = errors.New("invalid room name")
)
