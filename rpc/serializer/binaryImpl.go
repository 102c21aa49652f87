package serializer

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/artic/rpc/common"
	"strings"
)

// All multi byte fields on the wire are little endian
var order = binary.LittleEndian

// --------------------------------------------------------------------------
// Requests (client -> peer)
// --------------------------------------------------------------------------

// EncodeRequest serializes a request header followed by its parameters into one buffer,
// so the whole request can be written with a single call
func EncodeRequest(pkt common.RequestPacket, params []common.RequestParameter) []byte {
	result := make([]byte, common.RequestPacketSize+len(params)*common.RequestParameterSize)
	PutRequestPacket(result, pkt)

	pos := common.RequestPacketSize
	for _, p := range params {
		PutRequestParameter(result[pos:], p)
		pos += common.RequestParameterSize
	}
	return result
}

// PutRequestPacket writes the header into b, which must hold RequestPacketSize bytes
func PutRequestPacket(b []byte, pkt common.RequestPacket) {
	order.PutUint32(b[0:4], pkt.RequestID)
	copy(b[4:4+common.MethodNameSize], pkt.Method[:])
	order.PutUint32(b[4+common.MethodNameSize:common.RequestPacketSize], pkt.ParameterCount)
}

// PutRequestParameter writes one parameter into b, which must hold RequestParameterSize bytes
func PutRequestParameter(b []byte, p common.RequestParameter) {
	order.PutUint16(b[0:2], uint16(p.Type))
	order.PutUint16(b[2:4], p.SizeOrBufferID)
	copy(b[4:common.RequestParameterSize], p.Data[:])
}

// DecodeRequestPacket parses a request header
func DecodeRequestPacket(b []byte) (common.RequestPacket, error) {
	var pkt common.RequestPacket
	if len(b) < common.RequestPacketSize {
		return pkt, fmt.Errorf("request packet too short: %d bytes", len(b))
	}
	pkt.RequestID = order.Uint32(b[0:4])
	copy(pkt.Method[:], b[4:4+common.MethodNameSize])
	pkt.ParameterCount = order.Uint32(b[4+common.MethodNameSize : common.RequestPacketSize])
	return pkt, nil
}

// DecodeRequestParameter parses a single parameter record
func DecodeRequestParameter(b []byte) (common.RequestParameter, error) {
	var p common.RequestParameter
	if len(b) < common.RequestParameterSize {
		return p, fmt.Errorf("request parameter too short: %d bytes", len(b))
	}
	p.Type = common.ParameterType(order.Uint16(b[0:2]))
	if p.Type > common.ParamBigBuffer {
		return p, fmt.Errorf("invalid parameter type %d", uint16(p.Type))
	}
	p.SizeOrBufferID = order.Uint16(b[2:4])
	copy(p.Data[:], b[4:common.RequestParameterSize])
	return p, nil
}

// --------------------------------------------------------------------------
// Data packets (peer -> client, echoed back for big buffer uploads)
// --------------------------------------------------------------------------

// EncodeDataPacket serializes a data packet
func EncodeDataPacket(pkt common.DataPacket) []byte {
	b := make([]byte, common.DataPacketSize)
	order.PutUint32(b[0:4], pkt.RequestID)
	copy(b[4:], pkt.Raw[:])
	return b
}

// DecodeDataPacket parses a data packet. The payload is kept raw, use
// DecodeResponseMethod or ControlText depending on where the packet came from
func DecodeDataPacket(b []byte) (common.DataPacket, error) {
	var pkt common.DataPacket
	if len(b) < common.DataPacketSize {
		return pkt, fmt.Errorf("data packet too short: %d bytes", len(b))
	}
	pkt.RequestID = order.Uint32(b[0:4])
	copy(pkt.Raw[:], b[4:common.DataPacketSize])
	return pkt, nil
}

// DecodeResponseMethod interprets a data packet payload as a response
func DecodeResponseMethod(raw [common.DataPacketRawSize]byte) common.ResponseMethod {
	return common.ResponseMethod{
		Result:           common.ArticResult(order.Uint32(raw[0:4])),
		ResultOrBufferID: int32(order.Uint32(raw[4:8])),
		BufferSize:       int32(order.Uint32(raw[8:12])),
	}
}

// EncodeResponseMethod builds a data packet payload from a response, the padding is zeroed
func EncodeResponseMethod(m common.ResponseMethod) [common.DataPacketRawSize]byte {
	var raw [common.DataPacketRawSize]byte
	SetResult(&raw, m.Result)
	order.PutUint32(raw[4:8], uint32(m.ResultOrBufferID))
	order.PutUint32(raw[8:12], uint32(m.BufferSize))
	return raw
}

// SetResult overwrites only the result tag of an encoded response, leaving every other byte untouched
func SetResult(raw *[common.DataPacketRawSize]byte, result common.ArticResult) {
	order.PutUint32(raw[0:4], uint32(result))
}

// ControlText interprets a control reply payload as zero terminated text
func ControlText(raw [common.DataPacketRawSize]byte) string {
	s := string(raw[:])
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return s
}

// EncodeControlText builds a control reply payload
func EncodeControlText(text string) ([common.DataPacketRawSize]byte, error) {
	var raw [common.DataPacketRawSize]byte
	if len(text) > common.DataPacketRawSize {
		return raw, fmt.Errorf("control text too long: %d bytes", len(text))
	}
	copy(raw[:], text)
	return raw, nil
}
