// Package base provides the blocking I/O primitives every connection of a session uses.
//
// ReadExact and WriteExact move an exact number of bytes or fail. A zero timeout waits
// for as long as the connection lives, any other timeout is applied as one deadline to
// the whole transfer and reported as ErrTimeout. Partial transfers are reported to an
// optional TrafficFunc, so traffic counters see every byte even when a transfer fails.
//
// IsClosed distinguishes connections that are gone for good from transient failures.
package base
