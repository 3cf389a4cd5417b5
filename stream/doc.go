// Package stream manages bidirectional streaming sessions ("callbacks").
//
// A Registry tracks the live sessions of every channel key. Each session wraps the host end of
// a transport Port: the handler pushes values through a Sink until either side closes the session.
// Closing is idempotent and may start from the host (Registry.Close), from the peer (the port's
// close event or a message on the key's close channel) or from the handler itself.
//
// Manager attaches one channel key and its handler to a Host; IDs allocates session ids on the
// calling side.
package stream
