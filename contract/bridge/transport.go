package bridge

import "context"

// Host-side transport contracts. Adapters implement the subset their transport supports;
// Host combines them for a full substrate.

// Listener receives fire-and-forget messages published by peers on a channel.
type Listener interface {
	Listen(channel string, fn func(ctx context.Context, data []byte)) (unsubscribe func(), err error)
}

// Responder answers request/response calls on a channel.
type Responder interface {
	Respond(channel string, fn func(ctx context.Context, data []byte) ([]byte, error)) (unsubscribe func(), err error)
}

// Broadcaster pushes a value to every connected peer on a channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel string, data []byte) error
}

// PortAcceptor accepts streaming ports opened by peers on a channel.
// A non-nil error from fn rejects the port: the adapter releases it without firing close events
// and the opening peer's OpenPort fails with that error.
type PortAcceptor interface {
	AcceptPorts(channel string, fn func(ctx context.Context, p Port) error) (unsubscribe func(), err error)
}

// Host is the full host-side substrate.
type Host interface {
	Listener
	Responder
	Broadcaster
	PortAcceptor
}

// Port is the host end of one streaming session.
// Post after Close must not panic; implementations return an error or drop the value.
type Port interface {
	// ID is the session id allocated by the peer that opened the port.
	ID() uint64
	// Input is the encoded value the peer sent when opening the port.
	Input() []byte
	Post(ctx context.Context, data []byte) error
	Close() error
	// OnClose registers a listener fired once when the peer side closes the port. On a port the
	// peer already closed fn runs immediately; after a host-side Close it never runs.
	OnClose(fn func())
}

// Peer-side transport contracts.

// Sender publishes fire-and-forget messages to the host.
type Sender interface {
	Send(ctx context.Context, channel string, data []byte) error
}

// Invoker performs request/response calls against the host.
type Invoker interface {
	Invoke(ctx context.Context, channel string, data []byte) ([]byte, error)
}

// Subscriber receives host broadcasts.
type Subscriber interface {
	Subscribe(channel string, fn func(data []byte)) (unsubscribe func(), err error)
}

// PortEvents receives the host's traffic for one opened port.
type PortEvents struct {
	Data   func(data []byte)
	Closed func()
}

// PortOpener opens streaming ports towards the host.
// OpenPort fails when the host rejects the port. The returned detach func releases the peer end
// and notifies the host of this port only.
type PortOpener interface {
	OpenPort(ctx context.Context, channel string, id uint64, input []byte, ev PortEvents) (detach func(), err error)
}

// Peer is the full peer-side substrate.
type Peer interface {
	Sender
	Invoker
	Subscriber
	PortOpener
}
