package client

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/artic/rpc/common"
	"github.com/ValentinKolb/artic/rpc/serializer"
	"github.com/ValentinKolb/artic/rpc/transport"
	"github.com/ValentinKolb/artic/rpc/transport/base"
	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Process wide traffic counters, exported with metrics.WritePrometheus
var (
	rxBytes = metrics.NewCounter(`artic_traffic_bytes_total{direction="rx"}`)
	txBytes = metrics.NewCounter(`artic_traffic_bytes_total{direction="tx"}`)
)

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// Session is one logical connection to an Artic Base peer: a main socket used for
// requests and control commands, plus one worker socket per negotiated port on which
// responses arrive.
//
// A Session is single use. Once stopped, either by Stop or by a communication error,
// it can not be reconnected and a new Session must be created.
type Session struct {
	config    common.ClientConfig
	connector transport.IClientConnector
	env       *transport.Env
	envOnce   sync.Once

	// negotiated during Connect
	version   int
	maxSize   int
	maxParams int
	ports     []uint16

	connMu      sync.Mutex // guards publishing and closing of the connections against a concurrent stop
	mainConn    net.Conn
	workerConns []net.Conn
	sendMu      sync.Mutex   // serializes all writes (and control replies) on the main socket
	lastSent    atomic.Int64 // unix nanos of the last write on the main socket

	nextRequestID atomic.Uint32
	pending       *xsync.MapOf[uint32, *pendingEntry]

	connected      atomic.Bool
	stopped        atomic.Bool
	stopCh         chan struct{}
	ctx            context.Context
	cancel         context.CancelFunc
	runningWorkers atomic.Int32
	wg             sync.WaitGroup

	limiter *rate.Limiter

	callbackMu sync.RWMutex
	onError    func(error)
	onTraffic  func(int)
	onEvent    func(uint64)

	registry  gometrics.Registry
	sendTimer gometrics.Timer
	inFlight  gometrics.Counter
	pings     gometrics.Meter
}

// pendingEntry correlates one in-flight request with its response.
// It is resolved exactly once, by whoever removes it from the pending table.
type pendingEntry struct {
	request  *Request
	sent     []bool // big buffers already uploaded
	response *Response
	done     chan struct{}
}

func (e *pendingEntry) resolve(resp *Response) {
	e.response = resp
	close(e.done)
}

// NewSession creates an unconnected session using the process wide socket environment
func NewSession(config common.ClientConfig, connector transport.IClientConnector) (*Session, error) {
	return NewSessionWithEnv(config, connector, transport.DefaultEnv)
}

// NewSessionWithEnv creates an unconnected session holding a reference on env until it is stopped
func NewSessionWithEnv(config common.ClientConfig, connector transport.IClientConnector, env *transport.Env) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}
	if connector == nil {
		return nil, fmt.Errorf("no connector provided")
	}
	if err := env.Acquire(); err != nil {
		return nil, fmt.Errorf("failed to initialize socket environment: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	registry := gometrics.NewRegistry()

	s := &Session{
		config:    config,
		connector: connector,
		env:       env,
		pending:   xsync.NewMapOf[uint32, *pendingEntry](),
		stopCh:    make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		registry:  registry,
		sendTimer: gometrics.NewRegisteredTimer("send.latency", registry),
		inFlight:  gometrics.NewRegisteredCounter("send.in_flight", registry),
		pings:     gometrics.NewRegisteredMeter("monitor.pings", registry),
	}

	if config.RequestsPerSecond > 0 {
		burst := int(config.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	return s, nil
}

// --------------------------------------------------------------------------
// Handshake
// --------------------------------------------------------------------------

// Connect runs the bootstrap exchange with the peer and starts the workers and the liveness monitor.
// Any failure is fatal for the session: it is stopped, the error callback is invoked and the error returned.
// A Stop while Connect is running makes it return ErrStopped.
func (s *Session) Connect() error {
	if s.stopped.Load() {
		return ErrStopped
	}
	if s.connected.Load() {
		return fmt.Errorf("session already connected")
	}

	if err := s.handshake(); err != nil {
		if s.stopped.Load() {
			return ErrStopped
		}
		s.signalError(fmt.Errorf("handshake with %s failed: %w", s.config.Endpoint(), err))
		return err
	}

	// A stop racing with the handshake either sees the connected session or is seen here
	s.connMu.Lock()
	if s.stopped.Load() {
		s.connMu.Unlock()
		return ErrStopped
	}
	s.lastSent.Store(time.Now().UnixNano())
	s.connected.Store(true)

	// Start the liveness monitor and one worker per port
	s.wg.Add(1)
	go s.monitor()

	s.runningWorkers.Store(int32(len(s.workerConns)))
	for i, conn := range s.workerConns {
		s.wg.Add(1)
		go s.worker(i, conn)
	}
	s.connMu.Unlock()

	Logger.Infof("Connected to %s (version %d, max size %d, max params %d, %d workers)",
		s.config.Endpoint(), s.version, s.maxSize, s.maxParams, len(s.workerConns))
	return nil
}

// handshake performs the linear bootstrap state machine, the first failing step aborts it
func (s *Session) handshake() error {
	conn, err := s.dial(s.config.Endpoint())
	if err != nil {
		return err
	}
	if err := s.publish(func() { s.mainConn = conn }, conn); err != nil {
		return err
	}

	// Step 1: protocol version
	reply, err := s.sendSimpleRequest(common.CtrlVersion)
	if err != nil {
		return fmt.Errorf("failed to query version: %w", err)
	}
	version, err := strconv.Atoi(reply)
	if err != nil || version != common.ProtocolVersion {
		return fmt.Errorf("%w: unsupported peer version %q", ErrProtocol, reply)
	}
	s.version = version

	// Step 2: size limits
	reply, err = s.sendSimpleRequest(common.CtrlMaxSize)
	if err != nil {
		return fmt.Errorf("failed to query max size: %w", err)
	}
	if s.maxSize, err = parseNonNegative(reply); err != nil {
		return fmt.Errorf("%w: max size: %v", ErrProtocol, err)
	}

	reply, err = s.sendSimpleRequest(common.CtrlMaxParam)
	if err != nil {
		return fmt.Errorf("failed to query max parameters: %w", err)
	}
	if s.maxParams, err = parseNonNegative(reply); err != nil {
		return fmt.Errorf("%w: max parameters: %v", ErrProtocol, err)
	}

	// Step 3: worker ports
	reply, err = s.sendSimpleRequest(common.CtrlPorts)
	if err != nil {
		return fmt.Errorf("failed to query worker ports: %w", err)
	}
	if s.ports, err = parsePorts(reply); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	// Step 4: wait until the peer is ready
	if err := s.waitReady(); err != nil {
		return err
	}

	// Step 5: dial all workers concurrently
	return s.dialWorkers()
}

// waitReady polls $READY until the peer answers "1" or the poll budget is exhausted
func (s *Session) waitReady() error {
	for i := 0; i < s.config.ReadyPollCount; i++ {
		reply, err := s.sendSimpleRequest(common.CtrlReady)
		if err != nil {
			return fmt.Errorf("failed to query ready state: %w", err)
		}
		if reply == "1" {
			return nil
		}

		select {
		case <-s.stopCh:
			return ErrStopped
		case <-time.After(s.config.ReadyPollInterval):
		}
	}
	return fmt.Errorf("peer not ready after %d polls", s.config.ReadyPollCount)
}

// dialWorkers opens one connection per negotiated port. Either all succeed or none is kept.
func (s *Session) dialWorkers() error {
	conns := make([]net.Conn, len(s.ports))

	var g errgroup.Group
	for i, port := range s.ports {
		i, port := i, port
		g.Go(func() error {
			conn, err := s.dial(s.config.WorkerEndpoint(port))
			if err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			conns[i] = conn
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, conn := range conns {
			if conn != nil {
				_ = conn.Close()
			}
		}
		return err
	}

	return s.publish(func() { s.workerConns = conns }, conns...)
}

// publish stores freshly dialed connections with set unless the session was stopped meanwhile,
// in which case the connections are closed and ErrStopped is returned
func (s *Session) publish(set func(), conns ...net.Conn) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.stopped.Load() {
		for _, conn := range conns {
			_ = conn.Close()
		}
		return ErrStopped
	}
	set()
	return nil
}

// dial connects to endpoint and applies the socket settings
func (s *Session) dial(endpoint string) (net.Conn, error) {
	conn, err := s.connector.Connect(endpoint, s.config.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	if err := s.connector.UpgradeConnection(conn, s.config); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %w", endpoint, err)
	}
	Logger.Debugf("Connected to %s using %s transport", endpoint, s.connector.GetName())
	return conn, nil
}

// --------------------------------------------------------------------------
// Main socket
// --------------------------------------------------------------------------

// sendRequestPacket writes a request on the main socket and, if expectReply is set,
// reads the single reply frame of a control command.
func (s *Session) sendRequestPacket(pkt common.RequestPacket, params []common.RequestParameter, expectReply bool, timeout time.Duration) (common.DataPacket, error) {
	frame := serializer.EncodeRequest(pkt, params)

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := base.WriteExact(s.mainConn, frame, timeout, s.txTraffic); err != nil {
		return common.DataPacket{}, err
	}
	s.lastSent.Store(time.Now().UnixNano())

	if !expectReply {
		return common.DataPacket{}, nil
	}

	buf := make([]byte, common.DataPacketSize)
	if err := base.ReadExact(s.mainConn, buf, timeout, s.rxTraffic); err != nil {
		return common.DataPacket{}, err
	}
	reply, err := serializer.DecodeDataPacket(buf)
	if err != nil {
		return common.DataPacket{}, err
	}
	if reply.RequestID != pkt.RequestID {
		return common.DataPacket{}, fmt.Errorf("%w: control reply for request %d, expected %d", ErrProtocol, reply.RequestID, pkt.RequestID)
	}
	return reply, nil
}

// sendSimpleRequest sends a zero parameter control command and returns the reply text
func (s *Session) sendSimpleRequest(method string) (string, error) {
	pkt := common.NewRequestPacket(s.nextRequestID.Add(1), common.ControlPrefix+method)
	reply, err := s.sendRequestPacket(pkt, nil, true, s.config.ControlTimeout)
	if err != nil {
		return "", err
	}
	return serializer.ControlText(reply.Raw), nil
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Stop shuts the session down gracefully. All blocked Send calls return with a transport error outcome.
// Stopping an already stopped session is a no-op.
func (s *Session) Stop() {
	if s.stop(nil) {
		Logger.Infof("Session to %s stopped", s.config.Endpoint())
	}
}

// stop performs the shutdown once and reports whether this call did it.
// cause is nil for a graceful stop, which announces the stop to the peer.
func (s *Session) stop(cause error) bool {
	if !s.stopped.CompareAndSwap(false, true) {
		return false
	}

	s.connMu.Lock()
	mainConn, workerConns := s.mainConn, s.workerConns
	connected := s.connected.Load()
	s.connMu.Unlock()

	if cause == nil && connected {
		s.announceStop(mainConn)
	}

	close(s.stopCh)
	s.cancel()

	for _, conn := range workerConns {
		_ = conn.Close()
	}
	if mainConn != nil {
		_ = mainConn.Close()
	}

	// Without running workers nobody else will resolve the pending requests
	if s.runningWorkers.Load() == 0 {
		s.drainPending()
	}

	s.envOnce.Do(s.env.Release)
	return true
}

// announceStop sends $STOP without waiting for a reply. A writer blocked on the main
// socket would hold the send lock forever, in that case the peer learns about the stop
// from the closed connections instead.
func (s *Session) announceStop(conn net.Conn) {
	if !s.sendMu.TryLock() {
		Logger.Debugf("Main socket busy, stopping without announcement")
		return
	}
	defer s.sendMu.Unlock()

	pkt := common.NewRequestPacket(s.nextRequestID.Add(1), common.ControlPrefix+common.CtrlStop)
	if err := base.WriteExact(conn, serializer.EncodeRequest(pkt, nil), s.config.ControlTimeout, s.txTraffic); err != nil {
		Logger.Debugf("Failed to announce stop: %v", err)
	}
}

// signalError tears the session down because of err and notifies the error callback once
func (s *Session) signalError(err error) {
	if !s.stop(err) {
		return
	}
	Logger.Errorf("Communication error: %v", err)

	s.callbackMu.RLock()
	cb := s.onError
	s.callbackMu.RUnlock()
	if cb != nil {
		cb(fmt.Errorf("%w: %w", ErrCommunication, err))
	}
}

// drainPending resolves every pending request with a transport error
func (s *Session) drainPending() {
	s.pending.Range(func(id uint32, _ *pendingEntry) bool {
		if entry, ok := s.pending.LoadAndDelete(id); ok {
			entry.resolve(transportErrorResponse())
		}
		return true
	})
}

// Wait blocks until the workers and the liveness monitor exited
func (s *Session) Wait() {
	s.wg.Wait()
}

// --------------------------------------------------------------------------
// Callbacks
// --------------------------------------------------------------------------

// SetCommunicationErrorCallback registers cb, invoked once when the session fails
func (s *Session) SetCommunicationErrorCallback(cb func(error)) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.onError = cb
}

// SetTrafficCallback registers cb, invoked with the byte count of every socket read and write
func (s *Session) SetTrafficCallback(cb func(int)) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.onTraffic = cb
}

// SetEventCallback registers cb, invoked by ReportEvent
func (s *Session) SetEventCallback(cb func(uint64)) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.onEvent = cb
}

// ReportEvent forwards an application defined event to the event callback
func (s *Session) ReportEvent(event uint64) {
	s.callbackMu.RLock()
	cb := s.onEvent
	s.callbackMu.RUnlock()
	if cb != nil {
		cb(event)
	}
}

func (s *Session) rxTraffic(n int) {
	rxBytes.Add(n)
	s.reportTraffic(n)
}

func (s *Session) txTraffic(n int) {
	txBytes.Add(n)
	s.reportTraffic(n)
}

func (s *Session) reportTraffic(n int) {
	s.callbackMu.RLock()
	cb := s.onTraffic
	s.callbackMu.RUnlock()
	if cb != nil {
		cb(n)
	}
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Connected reports whether the handshake completed
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// Stopped reports whether the session was shut down
func (s *Session) Stopped() bool {
	return s.stopped.Load()
}

// Version returns the negotiated protocol version
func (s *Session) Version() int {
	return s.version
}

// MaxRequestSize returns the largest payload the peer accepts in a single request
func (s *Session) MaxRequestSize() int {
	return s.maxSize
}

// MaxParameterCount returns the negotiated maximum number of parameters per request
func (s *Session) MaxParameterCount() int {
	return s.maxParams
}

// WorkerPorts returns the negotiated worker ports
func (s *Session) WorkerPorts() []uint16 {
	return append([]uint16(nil), s.ports...)
}

// PendingCount returns the number of requests waiting for a response
func (s *Session) PendingCount() int {
	return s.pending.Size()
}

// Metrics returns the per session metrics registry
func (s *Session) Metrics() gometrics.Registry {
	return s.registry
}

// isStopErr reports whether err is the consequence of a shutdown already in progress
func (s *Session) isStopErr(err error) bool {
	return s.stopped.Load() || errors.Is(err, ErrStopped)
}
