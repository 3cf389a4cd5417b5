/*
Package bridge holds the transport-agnostic contracts shared by the registry, the stream manager,
the bridge binder and every adapter: message patterns, channel naming, codecs and the host/peer substrate.
*/
package bridge
