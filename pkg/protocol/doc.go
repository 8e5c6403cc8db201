// Package protocol implements the binary wire protocol between tablesync
// clients and the server.
//
// # Wire Format
//
// All messages are framed with a 6-byte header:
//
//	┌─────────────┬──────────────┬───────────────────────────────┐
//	│ Frame Type  │ Flags        │ Payload Length                │
//	│ (1 byte)    │ (1 byte)     │ (4 bytes, big-endian)         │
//	└─────────────┴──────────────┴───────────────────────────────┘
//
// One frame travels in one WebSocket binary message. When FlagCompressed is
// set the payload is gzip compressed; large snapshots are compressed by the
// server above a configurable threshold.
//
// # Frame Types
//
//   - FrameDispatch (0x01): Client → Server action envelopes
//   - FrameSetState (0x02): Server → Client full state
//   - FramePatchState (0x03): Server → Client state patch
//   - FrameControl (0x04): Ping, pong, close
//   - FrameError (0x05): Error message
//   - FrameServerInfo (0x06): Server → Client build information
//   - FrameSetPlayer (0x07): Client → Server presence
//   - FrameBroadcast (0x08): Opaque message relayed to other clients
//
// # Encoding
//
// Frame bodies use varints and length-prefixed strings. States, patches and
// action payloads are carried as length-prefixed JSON, so the wire form of
// the state is the same as its persisted form.
//
//	Dispatch:   [count: varint] count × [updateId: string][action: json]
//	SetState:   [seq: varint][finished: ids][state: json]
//	PatchState: [seq: varint][finished: ids][patch: json]
//
// # State Patches
//
// A StatePatch is a structural diff of the JSON form of two states: a
// nested object of changed values plus the paths of deleted keys. Arrays
// and scalars are replaced whole. The first state message a session
// receives is always a SetState; later ones are patches relative to the
// previous message of that session.
package protocol
