// Package broker is the in-process message delivery core: a per-channel bounded message log,
// the long-poll waiter slot and stream subscriber set of every channel, and the publish path
// that dispatches new messages to whoever is waiting.
//
// All state of one channel (log, waiter, subscribers) is guarded by that channel's mutex, so
// append, waiter resolution and stream fanout of one publish happen as a single step relative
// to registrations and expiries on the same channel.
package broker
