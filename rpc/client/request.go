package client

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/artic/rpc/common"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Request
// --------------------------------------------------------------------------

// Request is a single method call. It is created by Session.NewRequest, filled with
// parameters and sent exactly once with Session.Send.
//
// Buffers added with AddParameterBuffer that do not fit the inline slot are only referenced.
// They are uploaded when the peer asks for them, so the caller must not modify them
// until Send returns. Send is synchronous, which makes this trivially satisfiable.
type Request struct {
	packet     common.RequestPacket
	method     string
	params     []common.RequestParameter
	maxParams  int
	bigBuffers [][]byte
	sent       atomic.Bool
}

// newRequest creates a request with the given id, the method name is truncated to the wire size
func newRequest(requestID uint32, method string, maxParams int) *Request {
	return &Request{
		packet:    common.NewRequestPacket(requestID, method),
		method:    method,
		maxParams: maxParams,
	}
}

// ID returns the request id used to correlate the response
func (r *Request) ID() uint32 {
	return r.packet.RequestID
}

// Method returns the method name
func (r *Request) Method() string {
	return r.method
}

// Parameters returns the parameters added so far
func (r *Request) Parameters() []common.RequestParameter {
	return r.params
}

// BigBufferCount returns how many parameters are sent out of band
func (r *Request) BigBufferCount() int {
	return len(r.bigBuffers)
}

// --------------------------------------------------------------------------
// Parameter builders
// --------------------------------------------------------------------------

func (r *Request) AddParameterS8(v int8) error {
	var p common.RequestParameter
	p.Type = common.ParamInt8
	p.Data[0] = byte(v)
	return r.add(p)
}

func (r *Request) AddParameterU8(v uint8) error {
	return r.AddParameterS8(int8(v))
}

func (r *Request) AddParameterS16(v int16) error {
	var p common.RequestParameter
	p.Type = common.ParamInt16
	binary.LittleEndian.PutUint16(p.Data[:], uint16(v))
	return r.add(p)
}

func (r *Request) AddParameterU16(v uint16) error {
	return r.AddParameterS16(int16(v))
}

func (r *Request) AddParameterS32(v int32) error {
	var p common.RequestParameter
	p.Type = common.ParamInt32
	binary.LittleEndian.PutUint32(p.Data[:], uint32(v))
	return r.add(p)
}

func (r *Request) AddParameterU32(v uint32) error {
	return r.AddParameterS32(int32(v))
}

func (r *Request) AddParameterS64(v int64) error {
	var p common.RequestParameter
	p.Type = common.ParamInt64
	binary.LittleEndian.PutUint64(p.Data[:], uint64(v))
	return r.add(p)
}

func (r *Request) AddParameterU64(v uint64) error {
	return r.AddParameterS64(int64(v))
}

// AddParameterBuffer adds a buffer parameter. Buffers up to ParameterDataSize bytes are copied
// inline, larger ones become big buffer references (see Request).
func (r *Request) AddParameterBuffer(buf []byte) error {
	if err := r.checkCount(); err != nil {
		return err
	}

	var p common.RequestParameter
	if len(buf) <= common.ParameterDataSize {
		p.Type = common.ParamSmallBuffer
		p.SizeOrBufferID = uint16(len(buf))
		copy(p.Data[:], buf)
	} else {
		if len(r.bigBuffers) > 0xFFFF {
			return fmt.Errorf("too many big buffers in method %s", r.method)
		}
		if uint64(len(buf)) > 0x7FFFFFFF {
			return fmt.Errorf("buffer of %d bytes too large for method %s", len(buf), r.method)
		}
		p.Type = common.ParamBigBuffer
		p.SizeOrBufferID = uint16(len(r.bigBuffers))
		binary.LittleEndian.PutUint32(p.Data[:], uint32(len(buf)))
		r.bigBuffers = append(r.bigBuffers, buf)
	}
	r.params = append(r.params, p)
	return nil
}

// add appends a parameter unless the negotiated maximum is reached
func (r *Request) add(p common.RequestParameter) error {
	if err := r.checkCount(); err != nil {
		return err
	}
	r.params = append(r.params, p)
	return nil
}

func (r *Request) checkCount() error {
	if len(r.params) >= r.maxParams {
		Logger.Errorf("Too many parameters added to method: %s", r.method)
		return fmt.Errorf("%w: method %s accepts at most %d", ErrTooManyParameters, r.method, r.maxParams)
	}
	return nil
}
