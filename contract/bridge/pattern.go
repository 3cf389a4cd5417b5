package bridge

// Pattern identifies how a bridge member exchanges messages between the two processes.
type Pattern int

const (
	// Send is fire-and-forget from the peer to the host.
	Send Pattern = iota + 1
	// Invoke is request/response initiated by the peer.
	Invoke
	// On is a host-initiated broadcast to every peer.
	On
	// Callback is a bidirectional streaming session opened by the peer.
	Callback
)

func (p Pattern) String() string {
	switch p {
	case Send:
		return "send"
	case Invoke:
		return "invoke"
	case On:
		return "on"
	case Callback:
		return "callback"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the declared patterns.
func (p Pattern) Valid() bool { return p >= Send && p <= Callback }

// ParsePattern maps a pattern name back to its value.
func ParsePattern(s string) (Pattern, bool) {
	for _, p := range []Pattern{Send, Invoke, On, Callback} {
		if p.String() == s {
			return p, true
		}
	}

	return 0, false
}
