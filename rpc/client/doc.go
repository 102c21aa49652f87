// Package client implements the Artic Base client session.
//
// A Session owns one main socket and one socket per worker port negotiated with the peer.
// Requests and control commands ($VERSION, $PING, ...) are written on the main socket,
// responses arrive on the worker sockets and are matched to the waiting caller by request id.
//
// Key Components:
//
//   - Session: Runs the bootstrap handshake in Connect, correlates requests with responses,
//     uploads big buffers on demand and keeps the connection alive with periodic pings.
//     Any transport failure stops the session, resolves all waiting requests with a transport
//     error outcome and invokes the communication error callback once.
//
//   - Request / Response: A method call with up to MaxParameterCount typed parameters and
//     its answer, consisting of an outcome, a method result and a list of numbered buffers.
//
//   - RPCFile: Reads, writes and sizes remote files through the FSFILE_* methods. It is the
//     backend of the tiered cache in lib/cache.
//
// Usage Example:
//
//	config := common.DefaultClientConfig("192.168.1.20", 5543)
//	session, _ := client.NewSession(config, tcp.NewTCPConnector())
//	if err := session.Connect(); err != nil {
//	  return err
//	}
//	defer session.Stop()
//
//	req := session.NewRequest("FSFILE_GetSize")
//	_ = req.AddParameterS32(handle)
//	resp, err := session.Send(req)
//	if err == nil && resp.Succeeded() {
//	  size, _ := resp.GetS64(0)
//	}
//
// Thread Safety:
//
//	Send may be called from any number of goroutines. Requests themselves are not safe for
//	concurrent use and must not be reused after Send returned.
package client
