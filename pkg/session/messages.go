package session

// Kind classifies a log line for rendering. It carries no behaviour.
type Kind int

const (
	KindMessage Kind = iota
	KindInfo
	KindError
	KindHelp
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindInfo:
		return "info"
	case KindError:
		return "error"
	case KindHelp:
		return "help"
	default:
		return "unknown"
	}
}

// Message is one entry of a room or private log.
type Message struct {
	Kind Kind
	Text string
}

// HelpHint is appended whenever a new log is opened.
const HelpHint = "Type \"/help\" to view all available commands"
