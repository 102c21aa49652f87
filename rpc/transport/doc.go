// Package transport defines how sessions reach an Artic Base peer.
//
// Key Components:
//
//   - IClientConnector: opens and configures the stream connections of a session
//     (the main socket and one socket per worker port). See package tcp.
//
//   - Env: reference counted socket environment. Every session takes a reference
//     when it is created and drops it once it stopped.
//
//   - TrafficFunc: callback receiving the byte count of every partial read or write.
//
// The framing helpers shared by all connectors live in package base.
package transport
