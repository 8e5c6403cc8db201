// Package errors provides structured, actionable error messages for tablesync.
//
// Every error carries a code that maps to a registered template with a short
// message, a longer explanation and a documentation link. Callers add the
// concrete detail and, where useful, a hint on how to recover.
//
// # Error Categories
//
//   - state: a snapshot, patch or action that cannot be applied
//   - protocol: wire protocol errors (frames, connections)
//   - store: snapshot persistence errors
//   - config: configuration file and environment errors
//   - cli: command line errors
//
// # Usage
//
//	err := errors.New("E002").
//	    WithDetail("players: dangling id \"RRID/player/x\"").
//	    Wrap(cause)
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR E002: Malformed state snapshot
//	//
//	//   players: dangling id "RRID/player/x"
//	//
//	//   Learn more: https://tablesync.dev/docs/errors/E002
//
// Errors created with New match each other with errors.Is when their codes
// are equal, so callers can test for a class of failure:
//
//	if errors.Is(err, errors.New("E002")) { ... }
package errors
