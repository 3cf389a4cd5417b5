/*
Package registry instantiates inter-dependent singleton services in dependency order and tracks
their readiness.

A batch of descriptors is validated (duplicate tokens, self dependencies, missing dependencies, cycles)
before anything is constructed, ordered so every dependency precedes its dependents, constructed, and
finally initialised concurrently. Each service gets its own readiness latch, so a slow Init never delays
a sibling that does not wait for it explicitly with WaitInit.

The registry holds no global state: the composition root owns one Registry and disposes it on shutdown.
*/
package registry
