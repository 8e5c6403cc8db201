// Package server implements the tablesync sync server.
//
// The server owns the canonical state of one table. Clients connect over
// WebSocket, send batches of actions and receive the state back: a full
// SetState first, then PatchState frames relative to the last state each
// client was sent.
//
// # Architecture
//
// The Hub is the transport-independent core. A single goroutine owns the
// canonical state; sessions hand it their frames over a channel, so actions
// from one client are applied in the order they were sent and actions from
// different clients are applied in arrival order (last writer wins).
//
//	┌────────────┐  Receive   ┌───────────────────────────┐
//	│ Session    │ ─────────► │ Hub loop                  │
//	│ (ws pumps) │ ◄───────── │  apply → broadcast tick   │
//	└────────────┘   Send     │  persist (debounced)      │
//	                          └───────────────────────────┘
//
// Every BroadcastInterval the loop sends each session what changed since
// its last state message, together with the ids of the optimistic updates
// of that session that were applied in between. A session that has nothing
// new is sent nothing.
//
// Optimistic updates resent after a reconnect are recognized by their id
// and acknowledged again without being applied twice.
//
// # HTTP
//
// Server wraps a Hub in a chi router:
//
//	GET /ws       WebSocket endpoint
//	GET /healthz  liveness
//	GET /state    current canonical state as JSON
//	GET /metrics  Prometheus metrics
//
// # Usage
//
//	srv := server.New(server.DefaultServerConfig(),
//	    server.WithStore(st),
//	)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
