package testing

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/artic/rpc/common"
	"github.com/ValentinKolb/artic/rpc/serializer"
	"github.com/ValentinKolb/artic/rpc/transport/base"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MethodHandler executes one non control request and returns the reply sent on a worker connection
type MethodHandler func(call *Call) Reply

// PeerOptions configure the control replies of a Peer. Empty values use working defaults.
type PeerOptions struct {
	Version    string // reply to $VERSION, default "1"
	MaxSize    string // reply to $MAXSIZE, default "65536"
	MaxParam   string // reply to $MAXPARAM, default "16"
	Ports      string // reply to $PORTS, default the ports of the worker listeners
	Workers    int    // number of worker listeners, default 2
	ReadyAfter int    // number of $READY polls answered with "0" before answering "1"
}

// --------------------------------------------------------------------------
// Peer
// --------------------------------------------------------------------------

// Peer is an in process Artic Base peer listening on loopback.
// Control commands are answered on the main connection, every other request is passed to
// the handler and answered on the worker connections in round robin order.
type Peer struct {
	opts    PeerOptions
	handler MethodHandler

	mainLn  net.Listener
	workers []*peerWorker
	ports   []uint16

	mu         sync.Mutex
	conns      []net.Conn
	controlLog []string
	readyPolls int
	closed     bool

	nextWorker atomic.Uint64
	dropPings  atomic.Bool
	handlers   sync.WaitGroup
}

// peerWorker is one worker listener and its accepted connection
type peerWorker struct {
	ln        net.Listener
	mu        sync.Mutex // held for a whole call, input requests need the echo on the same connection
	conn      net.Conn
	ready     chan struct{}
	readyOnce sync.Once
}

// NewPeer starts a peer on 127.0.0.1 with random ports
func NewPeer(opts PeerOptions, handler MethodHandler) (*Peer, error) {
	if opts.Version == "" {
		opts.Version = strconv.Itoa(common.ProtocolVersion)
	}
	if opts.MaxSize == "" {
		opts.MaxSize = "65536"
	}
	if opts.MaxParam == "" {
		opts.MaxParam = "16"
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}

	p := &Peer{opts: opts, handler: handler}

	mainLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	p.mainLn = mainLn

	for i := 0; i < opts.Workers; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			p.Close()
			return nil, err
		}
		w := &peerWorker{ln: ln, ready: make(chan struct{})}
		p.workers = append(p.workers, w)
		p.ports = append(p.ports, uint16(ln.Addr().(*net.TCPAddr).Port))
		go p.acceptWorker(w)
	}

	go p.acceptMain()
	return p, nil
}

// Port returns the port of the main listener
func (p *Peer) Port() uint16 {
	return uint16(p.mainLn.Addr().(*net.TCPAddr).Port)
}

// WorkerPorts returns the ports of the worker listeners
func (p *Peer) WorkerPorts() []uint16 {
	return append([]uint16(nil), p.ports...)
}

// ClientConfig returns a client configuration for this peer with short poll intervals
func (p *Peer) ClientConfig() common.ClientConfig {
	config := common.DefaultClientConfig("127.0.0.1", p.Port())
	config.ConnectTimeout = 2 * time.Second
	config.ControlTimeout = 2 * time.Second
	config.ReadyPollInterval = 10 * time.Millisecond
	config.WorkerRetryBackoff = 10 * time.Millisecond
	return config
}

// SetDropPings makes the peer ignore $PING commands
func (p *Peer) SetDropPings(drop bool) {
	p.dropPings.Store(drop)
}

// ControlLog returns the control commands received so far, without the prefix
func (p *Peer) ControlLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.controlLog...)
}

// Close stops all listeners and connections and waits for running handlers
func (p *Peer) Close() {
	p.mu.Lock()
	p.closed = true
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()

	if p.mainLn != nil {
		_ = p.mainLn.Close()
	}
	for _, w := range p.workers {
		_ = w.ln.Close()
	}
	for _, conn := range conns {
		_ = conn.Close()
	}
	p.handlers.Wait()
}

// track remembers conn for Close, it reports false if the peer is already closed
func (p *Peer) track(conn net.Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = conn.Close()
		return false
	}
	p.conns = append(p.conns, conn)
	return true
}

// --------------------------------------------------------------------------
// Main connection
// --------------------------------------------------------------------------

func (p *Peer) acceptMain() {
	for {
		conn, err := p.mainLn.Accept()
		if err != nil {
			return
		}
		if !p.track(conn) {
			return
		}
		go p.serveMain(conn)
	}
}

// serveMain reads requests from the main connection
func (p *Peer) serveMain(conn net.Conn) {
	header := make([]byte, common.RequestPacketSize)
	for {
		if err := base.ReadExact(conn, header, 0, nil); err != nil {
			return
		}
		pkt, err := serializer.DecodeRequestPacket(header)
		if err != nil {
			return
		}

		params := make([]common.RequestParameter, 0, pkt.ParameterCount)
		raw := make([]byte, common.RequestParameterSize)
		for i := uint32(0); i < pkt.ParameterCount; i++ {
			if err := base.ReadExact(conn, raw, 0, nil); err != nil {
				return
			}
			param, err := serializer.DecodeRequestParameter(raw)
			if err != nil {
				return
			}
			params = append(params, param)
		}

		method := pkt.MethodName()
		if strings.HasPrefix(method, common.ControlPrefix) {
			if err := p.control(conn, pkt.RequestID, strings.TrimPrefix(method, common.ControlPrefix)); err != nil {
				return
			}
			continue
		}

		call := &Call{RequestID: pkt.RequestID, Method: method, Params: params}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		p.handlers.Add(1)
		p.mu.Unlock()
		go p.dispatch(call)
	}
}

// control answers a control command on the main connection
func (p *Peer) control(conn net.Conn, requestID uint32, command string) error {
	p.mu.Lock()
	p.controlLog = append(p.controlLog, command)
	p.mu.Unlock()

	var reply string
	switch command {
	case common.CtrlVersion:
		reply = p.opts.Version
	case common.CtrlMaxSize:
		reply = p.opts.MaxSize
	case common.CtrlMaxParam:
		reply = p.opts.MaxParam
	case common.CtrlPorts:
		reply = p.opts.Ports
		if reply == "" {
			parts := make([]string, len(p.ports))
			for i, port := range p.ports {
				parts[i] = strconv.Itoa(int(port))
			}
			reply = strings.Join(parts, ",")
		}
	case common.CtrlReady:
		p.mu.Lock()
		p.readyPolls++
		ready := p.readyPolls > p.opts.ReadyAfter
		p.mu.Unlock()
		reply = "0"
		if ready {
			reply = "1"
		}
	case common.CtrlPing:
		if p.dropPings.Load() {
			return nil
		}
		reply = "1"
	case common.CtrlStop:
		return nil
	default:
		reply = ""
	}

	text, err := serializer.EncodeControlText(reply)
	if err != nil {
		return err
	}
	return base.WriteExact(conn, serializer.EncodeDataPacket(common.DataPacket{RequestID: requestID, Raw: text}), 0, nil)
}

// --------------------------------------------------------------------------
// Worker connections
// --------------------------------------------------------------------------

func (p *Peer) acceptWorker(w *peerWorker) {
	for {
		conn, err := w.ln.Accept()
		if err != nil {
			return
		}
		if !p.track(conn) {
			return
		}
		w.mu.Lock()
		w.conn = conn
		w.mu.Unlock()
		w.readyOnce.Do(func() { close(w.ready) })
	}
}

// dispatch runs the handler for call and writes the reply on the next worker connection
func (p *Peer) dispatch(call *Call) {
	defer p.handlers.Done()

	w := p.workers[int(p.nextWorker.Add(1)-1)%len(p.workers)]
	select {
	case <-w.ready:
	case <-time.After(5 * time.Second):
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	call.conn = w.conn
	reply := p.handler(call)
	_ = call.writeReply(reply)
}

// --------------------------------------------------------------------------
// Calls and replies
// --------------------------------------------------------------------------

// Call is one request received by the peer
type Call struct {
	RequestID uint32
	Method    string
	Params    []common.RequestParameter

	conn net.Conn
}

// Int32 returns parameter i as int32
func (c *Call) Int32(i int) int32 {
	return int32(binary.LittleEndian.Uint32(c.Params[i].Data[0:4]))
}

// Int64 returns parameter i as int64
func (c *Call) Int64(i int) int64 {
	return int64(binary.LittleEndian.Uint64(c.Params[i].Data[0:8]))
}

// Small returns the inline data of small buffer parameter i
func (c *Call) Small(i int) []byte {
	p := c.Params[i]
	return append([]byte(nil), p.Data[:p.SizeOrBufferID]...)
}

// BigBufferSize returns the announced size of big buffer parameter i
func (c *Call) BigBufferSize(i int) int32 {
	return int32(binary.LittleEndian.Uint32(c.Params[i].Data[0:4]))
}

// Buffer returns the content of buffer parameter i, fetching big buffers from the client
func (c *Call) Buffer(i int) ([]byte, error) {
	switch c.Params[i].Type {
	case common.ParamSmallBuffer:
		return c.Small(i), nil
	case common.ParamBigBuffer:
		result, data, err := c.RequestInput(int32(c.Params[i].SizeOrBufferID), c.BigBufferSize(i))
		if err != nil {
			return nil, err
		}
		if result != common.ResultProvideInput {
			return nil, fmt.Errorf("client rejected input request: %s", result)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("parameter %d is not a buffer", i)
	}
}

// RequestInput asks the client for big buffer bufferID of size bytes. It returns the result of
// the echoed frame and, if the client accepted, the uploaded bytes.
func (c *Call) RequestInput(bufferID int32, size int32) (common.ArticResult, []byte, error) {
	raw := serializer.EncodeResponseMethod(common.ResponseMethod{
		Result:           common.ResultProvideInput,
		ResultOrBufferID: bufferID,
		BufferSize:       size,
	})
	if err := base.WriteExact(c.conn, serializer.EncodeDataPacket(common.DataPacket{RequestID: c.RequestID, Raw: raw}), 5*time.Second, nil); err != nil {
		return 0, nil, err
	}

	frame := make([]byte, common.DataPacketSize)
	if err := base.ReadExact(c.conn, frame, 5*time.Second, nil); err != nil {
		return 0, nil, err
	}
	echo, err := serializer.DecodeDataPacket(frame)
	if err != nil {
		return 0, nil, err
	}
	if echo.RequestID != c.RequestID {
		return 0, nil, fmt.Errorf("echo for request %d, expected %d", echo.RequestID, c.RequestID)
	}

	resp := serializer.DecodeResponseMethod(echo.Raw)
	if resp.Result != common.ResultProvideInput {
		return resp.Result, nil, nil
	}

	data := make([]byte, size)
	if err := base.ReadExact(c.conn, data, 5*time.Second, nil); err != nil {
		return 0, nil, err
	}
	return resp.Result, data, nil
}

// writeReply sends the terminal frame of the call
func (c *Call) writeReply(r Reply) error {
	var payload []byte
	for _, b := range r.Buffers {
		payload = serializer.AppendBuffer(payload, b.ID, b.Data)
	}

	resp := common.ResponseMethod{Result: r.Result, ResultOrBufferID: r.MethodResult}
	if r.Result == common.ResultSuccess {
		resp.BufferSize = int32(len(payload))
	}

	frame := serializer.EncodeDataPacket(common.DataPacket{RequestID: c.RequestID, Raw: serializer.EncodeResponseMethod(resp)})
	if resp.BufferSize > 0 {
		frame = append(frame, payload...)
	}
	return base.WriteExact(c.conn, frame, 5*time.Second, nil)
}

// Reply is the terminal answer of a Call
type Reply struct {
	Result       common.ArticResult
	MethodResult int32
	Buffers      []ReplyBuffer
}

// ReplyBuffer is one numbered buffer of a successful reply
type ReplyBuffer struct {
	ID   uint32
	Data []byte
}

// Success creates a successful reply
func Success(methodResult int32, buffers ...ReplyBuffer) Reply {
	return Reply{Result: common.ResultSuccess, MethodResult: methodResult, Buffers: buffers}
}

// Failure creates a reply with a non success result and the method result code reported with it
func Failure(result common.ArticResult, methodResult int32) Reply {
	return Reply{Result: result, MethodResult: methodResult}
}

// Int32Buffer creates a 4 byte reply buffer
func Int32Buffer(id uint32, v int32) ReplyBuffer {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, uint32(v))
	return ReplyBuffer{ID: id, Data: data}
}

// Int64Buffer creates an 8 byte reply buffer
func Int64Buffer(id uint32, v int64) ReplyBuffer {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(v))
	return ReplyBuffer{ID: id, Data: data}
}
