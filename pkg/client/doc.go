// Package client is the client side of tablesync: an engine that keeps an
// optimistic, instantly updated view of the shared state while the server
// stays authoritative.
//
// # Overview
//
// Edits go through a Dispatcher. Dispatch builds an action batch from the
// currently rendered state, registers it with the engine's tracker and
// recomputes the rendered state synchronously, so subscribers see the edit
// before anything is sent. The dispatcher's timer then sends every unsent
// batch of the engine as one Dispatch frame.
//
//	e := client.NewEngine()
//	e.Start()
//	defer e.Stop()
//
//	d := e.NewDispatcher()
//	defer d.Close()
//
//	hp := client.NewField(d, "goblin/hp", client.DefaultThrottle,
//	    func(s state.State) int { c, _ := s.Characters.Get(id); return c.HP },
//	    func(v int) []action.Action {
//	        return []action.Action{action.UpdateCharacter(action.NewUpdate(id, map[string]any{"hp": v}))}
//	    })
//	hp.Update(func(v int) int { return v - 3 })
//
// # Connection
//
// The engine does not own a network connection. A Transport dials the
// server, feeds inbound frames to Engine.HandleFrame and reports
// connection changes through Engine.Connected and Engine.Disconnected.
// Pending updates survive disconnects; on every connect all of them are
// sent again in a single frame.
package client
