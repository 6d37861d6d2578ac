// Package keys centralises the derivation of backend key names from
// channel-ids and client-ids. Every peer, regardless of library version,
// must agree on this layout; changing any literal here is a breaking
// change for every deployment that shares a backend.
package keys

import "fmt"

// Messages returns the key of the ordered set holding a channel's
// encoded envelopes, scored by message id.
func Messages(channel string) string {
	return fmt.Sprintf("messages:channel#%s", channel)
}

// Ids returns the key of the 64-bit monotonically increasing counter
// that allocates the next message id for a channel.
func Ids(channel string) string {
	return fmt.Sprintf("ids:channel#%s", channel)
}

// Clients returns the key of the ordered set mapping client-ids
// subscribed to a channel to their last-consumed message id.
func Clients(channel string) string {
	return fmt.Sprintf("clients:channel#%s", channel)
}

// Indexes returns the key of the ordered set mapping a client's
// subscribed channel-ids to its last-consumed message id in each.
func Indexes(client string) string {
	return fmt.Sprintf("indexes:client#%s", client)
}

// LockIds returns the name of the advisory lock that sequences id
// allocation (and cursor mutation that can race with it) for a channel.
func LockIds(channel string) string {
	return fmt.Sprintf("lock:ids:channel#%s", channel)
}
