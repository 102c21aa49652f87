// Package testing provides an in process Artic Base peer for tests of the client and
// everything built on top of it.
//
// The peer answers the bootstrap control commands with configurable replies, passes every
// other request to a MethodHandler and writes the reply on one of its worker connections.
// Handlers can request big buffers from the client (Call.Buffer, Call.RequestInput).
//
// MemoryFiles is a ready made handler implementing the FSFILE_* methods on in memory files.
//
// Example usage:
//
//	files := testing.NewMemoryFiles()
//	files.Put(3, content)
//
//	peer, _ := testing.NewPeer(testing.PeerOptions{}, files.Handle)
//	defer peer.Close()
//
//	session, _ := client.NewSession(peer.ClientConfig(), tcp.NewTCPConnector())
//	_ = session.Connect()
//	defer session.Stop()
package testing
