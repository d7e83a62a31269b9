package engine

import (
	"fmt"

	"github.com/baderanaas/swapbytes/pkg/libp2p"
	"github.com/baderanaas/swapbytes/pkg/session"
	"go.uber.org/zap"
)

// sendFile answers the second leg of a file request with the file contents.
// A read failure is signalled with an empty payload.
func (e *Engine) sendFile(ev libp2p.InboundRequest, name string) {
	data, err := e.files.Read(name)
	if err != nil {
		e.log.Warn("failed to read requested file", zap.String("file", name), zap.Error(err))
		e.sess.Notify(session.KindError, fmt.Sprintf("Unable to send file: %s", name))
	}
	e.respond(ev.Channel, libp2p.PrivateResponse{Ack: false, File: data})
	e.sess.ClearFile()
	if err == nil {
		e.sess.Notify(session.KindInfo, fmt.Sprintf("Sent file: %s (%d bytes)", name, len(data)))
		e.log.Info("file sent", zap.Stringer("peer", ev.From), zap.String("file", name), zap.Int("bytes", len(data)))
	}
}

func (e *Engine) respondWithFile(ch *libp2p.ResponseChannel, ack bool, path string) error {
	resp := libp2p.PrivateResponse{Ack: ack}
	if path != "" {
		data, err := e.files.Read(path)
		if err != nil {
			e.log.Warn("failed to read file for response", zap.String("file", path), zap.Error(err))
		} else {
			resp.File = data
		}
	}
	return ch.Send(resp)
}

// onResponse completes a download. Acknowledgements and responses without a
// pending local file request are discarded.
func (e *Engine) onResponse(ev libp2p.InboundResponse) {
	if ev.Response.Ack {
		return
	}
	dm := e.sess.Private()
	if !dm.With(ev.From) || !dm.RequestingFile() {
		e.log.Debug("discarding unexpected file response", zap.Stringer("peer", ev.From))
		return
	}
	name, _ := dm.RequestedFile()
	defer e.sess.ClearFile()

	if len(ev.Response.File) == 0 {
		e.log.Warn("file download failed", zap.String("file", name))
		e.sess.Notify(session.KindError, fmt.Sprintf("Failed to download file: %s", name))
		return
	}
	path, err := e.files.Write(name, ev.Response.File)
	if err != nil {
		e.log.Warn("failed to save file", zap.String("file", name), zap.Error(err))
		e.sess.Notify(session.KindError, fmt.Sprintf("Unable to save file %s: %v", name, err))
		return
	}
	e.log.Info("file downloaded", zap.String("file", name), zap.String("path", path), zap.Int("bytes", len(ev.Response.File)))
	e.sess.Notify(session.KindInfo, fmt.Sprintf("Downloaded file: %s (saved to %s)", name, path))
}
