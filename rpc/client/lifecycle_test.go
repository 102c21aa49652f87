package client

import (
	"errors"
	"github.com/ValentinKolb/artic/rpc/common"
	peertest "github.com/ValentinKolb/artic/rpc/testing"
	"github.com/ValentinKolb/artic/rpc/transport"
	"github.com/ValentinKolb/artic/rpc/transport/tcp"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Helper types
// --------------------------------------------------------------------------

var errTransient = errors.New("transient read failure")

// hookConnector dials like the tcp connector but lets tests intercept worker connections
type hookConnector struct {
	transport.IClientConnector
	main       string
	beforeDial func()                  // called before every worker dial (may be nil)
	wrap       func(net.Conn) net.Conn // wraps every worker connection (may be nil)
}

func (c *hookConnector) Connect(endpoint string, timeout time.Duration) (net.Conn, error) {
	if endpoint == c.main {
		return c.IClientConnector.Connect(endpoint, timeout)
	}
	if c.beforeDial != nil {
		c.beforeDial()
	}
	conn, err := c.IClientConnector.Connect(endpoint, timeout)
	if err != nil || c.wrap == nil {
		return conn, err
	}
	return c.wrap(conn), nil
}

// flakyConn fails the first reads of every response frame with a non fatal error
type flakyConn struct {
	net.Conn
	perFrame int
	streak   int // only touched by the worker reading the connection
	failures atomic.Int32
}

func (c *flakyConn) Read(b []byte) (int, error) {
	if len(b) == common.DataPacketSize && c.streak < c.perFrame {
		c.streak++
		c.failures.Add(1)
		return 0, errTransient
	}
	c.streak = 0
	return c.Conn.Read(b)
}

// newHookedSession creates an unconnected session using connector hooks
func newHookedSession(t *testing.T, config common.ClientConfig, connector *hookConnector) *Session {
	t.Helper()
	connector.IClientConnector = tcp.NewTCPConnector()
	connector.main = config.Endpoint()

	session, err := NewSessionWithEnv(config, connector, transport.NewEnv(nil, nil))
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	t.Cleanup(session.Stop)
	return session
}

// waitReturn fails the test if fn does not return within timeout
func waitReturn(t *testing.T, timeout time.Duration, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("%s did not return within %s", what, timeout)
	}
}

// --------------------------------------------------------------------------
// Stop during Connect
// --------------------------------------------------------------------------

// TestStopDuringReadyPolling stops a session whose peer is still not ready
func TestStopDuringReadyPolling(t *testing.T) {
	peer := startPeer(t, peertest.PeerOptions{ReadyAfter: 1000}, echoHandler)
	config := peer.ClientConfig()
	config.ReadyPollCount = 2000

	session, err := NewSessionWithEnv(config, tcp.NewTCPConnector(), transport.NewEnv(nil, nil))
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	var callbacks atomic.Int32
	session.SetCommunicationErrorCallback(func(error) { callbacks.Add(1) })

	connectErr := make(chan error, 1)
	go func() { connectErr <- session.Connect() }()

	waitFor(t, 2*time.Second, "$READY polling", func() bool {
		return contains(peer.ControlLog(), common.CtrlReady)
	})
	session.Stop()

	select {
	case err := <-connectErr:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("Expected ErrStopped from Connect, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after Stop")
	}

	waitReturn(t, 2*time.Second, "Wait", session.Wait)
	if session.Connected() {
		t.Error("Stopped session must not be connected")
	}
	if callbacks.Load() != 0 {
		t.Error("A requested stop must not invoke the error callback")
	}
	if contains(peer.ControlLog(), common.CtrlStop) {
		t.Error("$STOP must only be announced by connected sessions")
	}
}

// TestStopDuringWorkerDial stops a session while its worker connections are being dialed
func TestStopDuringWorkerDial(t *testing.T) {
	peer := startPeer(t, peertest.PeerOptions{Workers: 2}, echoHandler)

	dialing := make(chan struct{})
	release := make(chan struct{})
	var dialOnce sync.Once

	var mu sync.Mutex
	var workerConns []net.Conn

	session := newHookedSession(t, peer.ClientConfig(), &hookConnector{
		beforeDial: func() {
			dialOnce.Do(func() { close(dialing) })
			<-release
		},
		wrap: func(conn net.Conn) net.Conn {
			mu.Lock()
			defer mu.Unlock()
			workerConns = append(workerConns, conn)
			return conn
		},
	})

	connectErr := make(chan error, 1)
	go func() { connectErr <- session.Connect() }()

	select {
	case <-dialing:
	case <-time.After(2 * time.Second):
		t.Fatal("Worker dial never started")
	}
	session.Stop()
	close(release)

	select {
	case err := <-connectErr:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("Expected ErrStopped from Connect, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after Stop")
	}

	waitReturn(t, 2*time.Second, "Wait", session.Wait)
	if session.Connected() {
		t.Error("Stopped session must not be connected")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(workerConns) != 2 {
		t.Fatalf("Expected 2 dialed worker connections, got %d", len(workerConns))
	}
	for i, conn := range workerConns {
		if _, err := conn.Read(make([]byte, 1)); !errors.Is(err, net.ErrClosed) {
			t.Errorf("Worker connection %d left open: %v", i, err)
		}
	}
}

// --------------------------------------------------------------------------
// Worker retries
// --------------------------------------------------------------------------

// TestWorkerRetryBudgetExhausted checks that a worker gives up after exactly the budget of failed reads
func TestWorkerRetryBudgetExhausted(t *testing.T) {
	const budget = 3

	peer := startPeer(t, peertest.PeerOptions{Workers: 1}, echoHandler)
	config := peer.ClientConfig()
	config.WorkerRetryBudget = budget
	config.WorkerRetryBackoff = time.Millisecond

	var conn *flakyConn
	session := newHookedSession(t, config, &hookConnector{
		wrap: func(c net.Conn) net.Conn {
			conn = &flakyConn{Conn: c, perFrame: budget}
			return conn
		},
	})

	errCh := make(chan error, 1)
	session.SetCommunicationErrorCallback(func(err error) { errCh <- err })

	if err := session.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrCommunication) || !errors.Is(err, errTransient) {
			t.Errorf("Expected a communication error caused by the read failure, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Worker never gave up")
	}

	waitReturn(t, 2*time.Second, "Wait", session.Wait)
	if n := conn.failures.Load(); n != budget {
		t.Errorf("Expected %d failed reads, got %d", budget, n)
	}
	if !session.Stopped() {
		t.Error("Session should be stopped")
	}
}

// TestWorkerRetryReset checks that a successful read resets the retry budget
func TestWorkerRetryReset(t *testing.T) {
	const budget = 3

	peer := startPeer(t, peertest.PeerOptions{Workers: 1}, echoHandler)
	config := peer.ClientConfig()
	config.WorkerRetryBudget = budget
	config.WorkerRetryBackoff = time.Millisecond

	var conn *flakyConn
	session := newHookedSession(t, config, &hookConnector{
		wrap: func(c net.Conn) net.Conn {
			conn = &flakyConn{Conn: c, perFrame: budget - 1}
			return conn
		},
	})
	if err := session.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Every frame is preceded by budget-1 failures, together they exceed the budget
	const requests = 5
	for i := int32(0); i < requests; i++ {
		req := session.NewRequest("TEST_Echo")
		_ = req.AddParameterS32(i)
		resp, err := session.Send(req)
		if err != nil {
			t.Fatalf("Request %d: Send failed: %v", i, err)
		}
		if !resp.Succeeded() || resp.MethodResult() != i {
			t.Fatalf("Request %d: got %s with result %d", i, resp.Outcome(), resp.MethodResult())
		}
	}

	if session.Stopped() {
		t.Error("Failures below the budget must not stop the session")
	}
	if n := conn.failures.Load(); n < requests*(budget-1) {
		t.Errorf("Expected at least %d failed reads, got %d", requests*(budget-1), n)
	}
}

// --------------------------------------------------------------------------
// Send
// --------------------------------------------------------------------------

// TestSendRateLimit checks that Send is throttled and that Stop releases a throttled caller
func TestSendRateLimit(t *testing.T) {
	peer := startPeer(t, peertest.PeerOptions{}, echoHandler)
	config := peer.ClientConfig()
	config.RequestsPerSecond = 1
	session := connect(t, config)

	echo := func(v int32) *Request {
		req := session.NewRequest("TEST_Echo")
		_ = req.AddParameterS32(v)
		return req
	}

	if _, err := session.Send(echo(1)); err != nil {
		t.Fatalf("First Send failed: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := session.Send(echo(2))
		result <- err
	}()

	select {
	case err := <-result:
		t.Fatalf("Second Send was not throttled: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	if session.PendingCount() != 0 {
		t.Error("A throttled request must not be pending")
	}

	session.Stop()

	select {
	case err := <-result:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("Expected ErrStopped, got %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Stop did not release the throttled caller")
	}
}

// TestSendTwice checks that a request can only be sent once
func TestSendTwice(t *testing.T) {
	peer := startPeer(t, peertest.PeerOptions{}, echoHandler)
	session := connect(t, peer.ClientConfig())

	req := session.NewRequest("TEST_Echo")
	_ = req.AddParameterS32(7)
	if _, err := session.Send(req); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if _, err := session.Send(req); !errors.Is(err, ErrRequestSent) {
		t.Errorf("Expected ErrRequestSent, got %v", err)
	}

	if session.Stopped() {
		t.Error("A rejected send must not stop the session")
	}
	if session.PendingCount() != 0 {
		t.Errorf("Expected empty pending table, got %d entries", session.PendingCount())
	}
}
