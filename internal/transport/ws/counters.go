package ws

import "sync/atomic"

// Counters holds cheap transport-wide tallies. Shared with the
// metrics handler in cmd/server; every field is read with Load there.
type Counters struct {
	MessagesIn  atomic.Uint64
	MessagesOut atomic.Uint64
	Connects    atomic.Uint64
	Disconnects atomic.Uint64
	AuthOK      atomic.Uint64
	AuthFail    atomic.Uint64
	Digs        atomic.Uint64
	Errors      atomic.Uint64
}
