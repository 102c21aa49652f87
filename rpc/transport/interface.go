package transport

import (
	"github.com/ValentinKolb/artic/rpc/common"
	"net"
	"time"
)

// --------------------------------------------------------------------------
// Client Connector
// --------------------------------------------------------------------------

// IClientConnector defines the transport-specific connection operations a session needs
type IClientConnector interface {
	// GetName returns the name of the transport type (e.g., "tcp")
	GetName() string

	// Connect establishes a single connection to endpoint, giving up after timeout.
	// A zero timeout waits until the operating system gives up.
	Connect(endpoint string, timeout time.Duration) (net.Conn, error)

	// UpgradeConnection applies the configured socket settings to an established connection.
	// A failure is fatal for the connection.
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// TrafficFunc receives the number of bytes moved by a single read or write call
type TrafficFunc func(n int)
