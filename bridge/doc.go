// Package bridge binds controller services onto a transport host and exposes their typed
// endpoints to peers.
//
// Host side: a Bridge owns the transport subscriptions of every bound controller group. Define
// wraps a registry descriptor so that constructing the controller also binds its handlers
// (send, invoke, callback) and starts its triggers (on).
//
// Peer side: Expose turns controller schemas into a Surface of Endpoints; Call, Subscribe and Open
// give typed access to them, and Cached memoises invoke results.
package bridge
