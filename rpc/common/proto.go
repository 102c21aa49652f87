package common

import (
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Protocol Constants
// --------------------------------------------------------------------------

const (
	// ProtocolVersion is the only peer version this client speaks
	ProtocolVersion = 1

	MethodNameSize       = 32 // fixed width of the method name field
	ParameterDataSize    = 28 // inline slot of a RequestParameter
	DataPacketRawSize    = 28 // payload of a DataPacket
	RequestPacketSize    = 4 + MethodNameSize + 4
	RequestParameterSize = 2 + 2 + ParameterDataSize
	DataPacketSize       = 4 + DataPacketRawSize
	BufferHeaderSize     = 8 // bufferID + bufferSize

	// ControlPrefix marks control commands on the main socket
	ControlPrefix = "$"
)

// Control methods exchanged on the main socket during bootstrap and liveness checks
const (
	CtrlVersion  = "VERSION"
	CtrlMaxSize  = "MAXSIZE"
	CtrlMaxParam = "MAXPARAM"
	CtrlPorts    = "PORTS"
	CtrlReady    = "READY"
	CtrlPing     = "PING"
	CtrlStop     = "STOP"
)

// --------------------------------------------------------------------------
// Parameter Types
// --------------------------------------------------------------------------

// ParameterType tags the content of a RequestParameter
type ParameterType uint16

const (
	ParamInt8 ParameterType = iota
	ParamInt16
	ParamInt32
	ParamInt64
	ParamSmallBuffer
	ParamBigBuffer
)

// String returns the string representation of a ParameterType.
func (t ParameterType) String() string {
	switch t {
	case ParamInt8:
		return "int8"
	case ParamInt16:
		return "int16"
	case ParamInt32:
		return "int32"
	case ParamInt64:
		return "int64"
	case ParamSmallBuffer:
		return "small buffer"
	case ParamBigBuffer:
		return "big buffer"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(t))
	}
}

// --------------------------------------------------------------------------
// Response Results
// --------------------------------------------------------------------------

// ArticResult is the result tag of a response frame sent by the peer
type ArticResult uint32

const (
	ResultSuccess ArticResult = iota
	ResultMethodNotFound
	ResultMethodError
	ResultProvideInput
)

// String returns the string representation of an ArticResult.
func (r ArticResult) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultMethodNotFound:
		return "method not found"
	case ResultMethodError:
		return "method error"
	case ResultProvideInput:
		return "provide input"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(r))
	}
}

// --------------------------------------------------------------------------
// Wire Structures
// --------------------------------------------------------------------------

// RequestPacket is the header of every request written to the main socket.
// It is followed by ParameterCount RequestParameter records.
type RequestPacket struct {
	RequestID      uint32
	Method         [MethodNameSize]byte
	ParameterCount uint32
}

// NewRequestPacket creates a request header, truncating the method to MethodNameSize bytes
func NewRequestPacket(requestID uint32, method string) RequestPacket {
	p := RequestPacket{RequestID: requestID}
	copy(p.Method[:], method)
	return p
}

// MethodName returns the method name without the trailing zero bytes
func (p RequestPacket) MethodName() string {
	return strings.TrimRight(string(p.Method[:]), "\x00")
}

// RequestParameter is one fixed size parameter record.
// For integers, Data holds the little endian value.
// For small buffers, SizeOrBufferID is the used length of Data.
// For big buffers, SizeOrBufferID is the big buffer index and Data starts with the 4 byte size.
type RequestParameter struct {
	Type           ParameterType
	SizeOrBufferID uint16
	Data           [ParameterDataSize]byte
}

// ResponseMethod is the response view of a DataPacket payload.
// ResultOrBufferID carries the method result, or the requested big buffer id for ResultProvideInput.
type ResponseMethod struct {
	Result           ArticResult
	ResultOrBufferID int32
	BufferSize       int32
}

// DataPacket is a single frame sent by the peer. Raw is either control reply text
// or an encoded ResponseMethod, depending on the socket it was read from.
type DataPacket struct {
	RequestID uint32
	Raw       [DataPacketRawSize]byte
}
