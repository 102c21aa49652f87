// Package tcp implements the TCP connector used to reach an Artic Base peer.
//
// UpgradeConnection applies the SocketConf and TCPConf settings of the client config
// (no delay, buffer sizes, keep alive, linger) to every dialed connection.
package tcp
