package client

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/artic/rpc/serializer"
)

// Outcome classifies how a request ended
type Outcome int

const (
	// OutcomeSuccess means the peer executed the method, the method result and buffers are valid
	OutcomeSuccess Outcome = iota
	// OutcomeMethodNotFound means the peer does not know the method
	OutcomeMethodNotFound
	// OutcomeMethodError means the peer failed to run the method
	OutcomeMethodError
	// OutcomeTransportError means the session went down before the response arrived
	OutcomeTransportError
)

// String returns the string representation of an Outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeMethodNotFound:
		return "method not found"
	case OutcomeMethodError:
		return "method error"
	case OutcomeTransportError:
		return "transport error"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// Response is the final answer to a Request
type Response struct {
	outcome      Outcome
	methodResult int32
	payload      []byte // concatenated buffer records
}

// Succeeded reports whether the method ran on the peer. It says nothing about the method result.
func (r *Response) Succeeded() bool {
	return r.outcome == OutcomeSuccess
}

// Outcome returns how the request ended
func (r *Response) Outcome() Outcome {
	return r.outcome
}

// MethodResult returns the method specific result code of a successful or failed method
func (r *Response) MethodResult() int32 {
	return r.methodResult
}

// PayloadSize returns the size of all returned buffer records in bytes
func (r *Response) PayloadSize() int {
	return len(r.payload)
}

// Buffer returns the buffer with the given id. The returned slice aliases the response.
func (r *Response) Buffer(bufferID uint32) ([]byte, bool) {
	return serializer.FindBuffer(r.payload, bufferID)
}

// GetS32 returns buffer bufferID as int32, the buffer must be exactly 4 bytes
func (r *Response) GetS32(bufferID uint32) (int32, bool) {
	buf, ok := r.Buffer(bufferID)
	if !ok || len(buf) != 4 {
		return 0, false
	}
	return int32(binary.LittleEndian.Uint32(buf)), true
}

// GetS64 returns buffer bufferID as int64, the buffer must be exactly 8 bytes
func (r *Response) GetS64(bufferID uint32) (int64, bool) {
	v, ok := r.GetU64(bufferID)
	return int64(v), ok
}

// GetU64 returns buffer bufferID as uint64, the buffer must be exactly 8 bytes
func (r *Response) GetU64(bufferID uint32) (uint64, bool) {
	buf, ok := r.Buffer(bufferID)
	if !ok || len(buf) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(buf), true
}

// transportErrorResponse is handed to requests that were cut off by a shutdown
func transportErrorResponse() *Response {
	return &Response{outcome: OutcomeTransportError}
}
