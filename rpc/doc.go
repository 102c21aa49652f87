// Package rpc implements the client side of the Artic Base RPC protocol.
//
// The package is organized into several subpackages:
//
//   - common: Wire constants and structures, result codes, configuration and logging.
//
//   - serializer: The fixed layout little endian codec for requests, data packets,
//     responses and response buffers.
//
//   - transport: Connectors and the exact read/write primitives used by every
//     connection of a session (see transport/base and transport/tcp).
//
//   - client: The Session (handshake, worker pool, request correlation, liveness
//     monitor), request building, response access and the RPCFile accessor.
//
//   - testing: An in process peer that speaks the protocol, used by the tests.
package rpc
