package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/baderanaas/swapbytes/pkg/session"
)

// Renderer prints the lines of the current view that have not been shown
// yet. Switching view replays the whole log of the new view.
type Renderer struct {
	sess    *session.Session
	view    string
	printed int
}

func NewRenderer(sess *session.Session) *Renderer {
	return &Renderer{sess: sess}
}

func viewName(room string, private bool) string {
	if private {
		return "private"
	}
	return room
}

// Prompt reflects the current view.
func (r *Renderer) Prompt() string {
	room, private := r.sess.View()
	if private {
		if nick, ok := r.sess.ConnectedNickname(); ok {
			return fmt.Sprintf("[%s] > ", nick)
		}
		return "[private] > "
	}
	if room == "" {
		return "> "
	}
	return fmt.Sprintf("[#%s] > ", room)
}

// Render writes pending lines to w and reports whether anything was written.
func (r *Renderer) Render(w io.Writer) (bool, error) {
	room, private, msgs := r.sess.Snapshot()
	view := viewName(room, private)

	wrote := false
	if view != r.view {
		r.view, r.printed = view, 0
		if view != "" {
			if _, err := fmt.Fprintf(w, "--- %s ---\n", view); err != nil {
				return false, err
			}
			wrote = true
		}
	}
	if r.printed > len(msgs) {
		r.printed = 0
	}
	for _, m := range msgs[r.printed:] {
		if _, err := fmt.Fprintln(w, formatMessage(m)); err != nil {
			return wrote, err
		}
		r.printed++
		wrote = true
	}
	return wrote, nil
}

func formatMessage(m session.Message) string {
	switch m.Kind {
	case session.KindInfo:
		return "* " + m.Text
	case session.KindError:
		return "! " + m.Text
	case session.KindHelp:
		return "? " + m.Text
	default:
		return fmt.Sprintf("[%s] %s", time.Now().Format("15:04"), m.Text)
	}
}
