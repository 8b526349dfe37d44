// Package gateway wires pipedeck's components behind one HTTP surface.
//
// # Overview
//
// The gateway owns the canonical state store and coordinates everything that
// touches it: owner and lead conversations flow through the remote agents,
// agent replies are reconciled into the snapshot, committed changes are
// broadcast to websocket observers, and the snapshot is periodically
// persisted to disk.
//
// # Request Flow
//
// A chat request proceeds through fixed steps:
//
//  1. Duplicate check - identical submissions within the TTL are rejected
//  2. Record the inbound message on the conversation transcript
//  3. Forward to the remote agent (builder for owners, interactor for leads)
//  4. Record the agent reply
//  5. Reconcile structured fields from the reply into the store
//  6. Broadcast resulting events to connected observers
//
// A rejected payload (malformed pipeline, invalid stage move) never blocks
// the conversational reply; the state simply does not change.
//
// # Endpoints
//
//	POST /owner/chat          builder agent conversation
//	POST /owner/upload        reference document upload (.pdf/.docx/.csv)
//	POST /lead/chat           interactor agent conversation
//	GET  /api/state           full snapshot
//	GET  /api/state/kanban    kanban board projection
//	GET  /api/state/leads     lead table projection
//	GET  /api/state/pipeline  installed pipeline definition
//	GET  /api/state/business  business profile
//	POST /api/reset           wipe state, sessions and uploads
//	GET  /ws                  websocket observer registration
//	GET  /health              liveness
//	GET  /health/ready        readiness (pipeline installed)
//	GET  /metrics             Prometheus exposition (when enabled)
//
// # Lifecycle
//
// New loads the previous snapshot, Run serves until the context is canceled,
// and shutdown waits for the final snapshot save before returning.
package gateway
