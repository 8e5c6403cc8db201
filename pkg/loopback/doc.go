// Package loopback runs client engines against an in-process hub.
//
// Frames travel through in-memory connections and are delivered only when
// the test asks for it, so tests control every interleaving: what the
// server has seen, what a client has received and when a connection drops.
//
// # Quick Start
//
//	func TestConverge(t *testing.T) {
//	    table := loopback.New(t)
//	    alice := table.Join()
//	    bob := table.Join()
//
//	    d := alice.Engine.NewDispatcher()
//	    d.Dispatch("hp", 0, func(state.State) []action.Action { ... })
//	    alice.Advance(0)
//	    table.Sync()
//
//	    table.ExpectConverged()
//	}
//
// # Simulations
//
// Connections can be dropped and restored, and the server can be restarted
// from its store:
//
//	alice.SimulateDisconnect()
//	alice.SimulateReconnect()
//	table.SimulateServerRestart()
//
// A restart saves the canonical state, starts a new hub from the same store
// and reconnects every client that was connected.
package loopback
