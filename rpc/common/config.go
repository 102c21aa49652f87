package common

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Socket configuration structs
// --------------------------------------------------------------------------

// SocketConf holds the generic socket buffer settings (0 keeps the OS default)
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds TCP specific socket settings
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int // negative keeps the OS default
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds all configuration parameters of an Artic Base session
type ClientConfig struct {
	// Peer address of the main socket. Worker ports are negotiated during the handshake.
	Host string
	Port uint16

	// Handshake parameters
	ConnectTimeout    time.Duration // Timeout for each TCP connect
	ControlTimeout    time.Duration // Read timeout for a control reply ($VERSION, $PING, ...)
	ReadyPollCount    int           // How often $READY is polled before giving up
	ReadyPollInterval time.Duration // Pause between two $READY polls

	// Liveness monitor
	PingInterval time.Duration // How often the monitor wakes up
	PingIdle     time.Duration // Silence on the main socket after which a $PING is sent

	// Worker read loop
	WorkerRetryBudget  int           // Consecutive failed reads before a worker connection is declared dead
	WorkerRetryBackoff time.Duration // Pause after a failed read

	// RequestsPerSecond throttles Send, 0 disables throttling
	RequestsPerSecond float64

	SocketConf
	TCPConf
}

// DefaultClientConfig returns the configuration used by the reference peer
func DefaultClientConfig(host string, port uint16) ClientConfig {
	return ClientConfig{
		Host:               host,
		Port:               port,
		ConnectTimeout:     10 * time.Second,
		ControlTimeout:     10 * time.Second,
		ReadyPollCount:     100,
		ReadyPollInterval:  100 * time.Millisecond,
		PingInterval:       3 * time.Second,
		PingIdle:           7 * time.Second,
		WorkerRetryBudget:  300,
		WorkerRetryBackoff: 100 * time.Millisecond,
		TCPConf: TCPConf{
			TCPNoDelay:   true,
			TCPLingerSec: -1,
		},
	}
}

// Endpoint returns host:port of the main socket
func (c *ClientConfig) Endpoint() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// WorkerEndpoint returns host:port of a negotiated worker port
func (c *ClientConfig) WorkerEndpoint(port uint16) string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(port)))
}

// Validate checks the configuration for values that can never work
func (c *ClientConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("no host provided")
	}
	if c.Port == 0 {
		return fmt.Errorf("no port provided")
	}
	if c.ReadyPollCount <= 0 {
		return fmt.Errorf("ready poll count must be positive, got %d", c.ReadyPollCount)
	}
	if c.WorkerRetryBudget <= 0 {
		return fmt.Errorf("worker retry budget must be positive, got %d", c.WorkerRetryBudget)
	}
	if c.PingInterval <= 0 || c.PingIdle <= 0 {
		return fmt.Errorf("ping interval and idle time must be positive")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second must not be negative")
	}
	return nil
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Artic Base Client")
	addField("Endpoint", c.Endpoint())
	addField("Connect Timeout", c.ConnectTimeout.String())
	addField("Control Timeout", c.ControlTimeout.String())
	addField("Ready Polls", fmt.Sprintf("%d x %s", c.ReadyPollCount, c.ReadyPollInterval))

	addSection("Liveness")
	addField("Ping Interval", c.PingInterval.String())
	addField("Ping After Idle", c.PingIdle.String())

	addSection("Workers")
	addField("Retry Budget", strconv.Itoa(c.WorkerRetryBudget))
	addField("Retry Backoff", c.WorkerRetryBackoff.String())
	if c.RequestsPerSecond > 0 {
		addField("Rate Limit", fmt.Sprintf("%.1f req/s", c.RequestsPerSecond))
	} else {
		addField("Rate Limit", "off")
	}

	addSection("Socket")
	addField("TCP No Delay", strconv.FormatBool(c.TCPNoDelay))
	addField("TCP Keep Alive", fmt.Sprintf("%d sec", c.TCPKeepAliveSec))
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.ReadBufferSize))

	return sb.String()
}

// --------------------------------------------------------------------------
// Cache configuration struct
// --------------------------------------------------------------------------

const (
	KiB = 1024
	MiB = 1024 * KiB
)

// CacheConfig holds the sizes of the three cache tiers
type CacheConfig struct {
	PageSize  int // Size of one page of the page tier
	PageCount int // Pages kept per cache

	// Reads up to MaxSplitSize are split into pages, larger reads are handled as one segment
	MaxSplitSize int

	BigThreshold int // Unsplit reads below this size use the big tier
	BigCount     int

	VeryBigThreshold int // Unsplit reads below this size use the very big tier, larger ones bypass the cache
	VeryBigCount     int
}

// DefaultCacheConfig returns the compiled-in tier sizes
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		PageSize:         4 * KiB,
		PageCount:        256,
		MaxSplitSize:     8 * KiB,
		BigThreshold:     1 * MiB,
		BigCount:         8,
		VeryBigThreshold: 10 * MiB,
		VeryBigCount:     3,
	}
}

// Validate checks the tier sizes for consistency
func (c *CacheConfig) Validate() error {
	if c.PageSize <= 0 || c.PageCount <= 0 || c.BigCount <= 0 || c.VeryBigCount <= 0 {
		return fmt.Errorf("cache sizes and counts must be positive")
	}
	if c.MaxSplitSize < c.PageSize {
		return fmt.Errorf("max split size (%d) must be at least the page size (%d)", c.MaxSplitSize, c.PageSize)
	}
	if c.BigThreshold <= c.PageSize || c.VeryBigThreshold <= c.BigThreshold {
		return fmt.Errorf("tier thresholds must be increasing: page=%d big=%d very big=%d", c.PageSize, c.BigThreshold, c.VeryBigThreshold)
	}
	return nil
}

// String returns a formatted string representation of the cache configuration
func (c *CacheConfig) String() string {
	var sb strings.Builder
	sb.WriteString("\nCACHE\n")
	sb.WriteString(fmt.Sprintf("  %-22s: %d x %d bytes\n", "Page Tier", c.PageCount, c.PageSize))
	sb.WriteString(fmt.Sprintf("  %-22s: %d bytes\n", "Max Split Size", c.MaxSplitSize))
	sb.WriteString(fmt.Sprintf("  %-22s: %d entries < %d bytes\n", "Big Tier", c.BigCount, c.BigThreshold))
	sb.WriteString(fmt.Sprintf("  %-22s: %d entries < %d bytes\n", "Very Big Tier", c.VeryBigCount, c.VeryBigThreshold))
	return sb.String()
}
