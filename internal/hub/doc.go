// Package hub fans state-delta events out to connected observers.
//
// Observers register a transport handle under a connection ID. Publish
// delivers to every handle with per-observer failure isolation: a send
// error or closed connection deregisters that observer and never affects
// delivery to the rest. No acknowledgment is expected from observers.
package hub
