// Package serializer implements the Artic Base wire format.
//
// Every structure on the wire has a fixed layout with little endian fields:
//
//   - RequestPacket (40 bytes): requestID u32, method [32]byte, parameterCount u32
//   - RequestParameter (32 bytes): type u16, sizeOrBufferID u16, data [28]byte
//   - DataPacket (32 bytes): requestID u32, raw [28]byte
//
// The raw payload of a DataPacket is either zero terminated control text (replies on the
// main socket) or a ResponseMethod: result u32, resultOrBufferID i32, bufferSize i32.
//
// Successful responses may be followed by bufferSize bytes of buffer records
// (bufferID u32, size u32, data), see AppendBuffer and FindBuffer.
//
// All functions are stateless and safe for concurrent use.
//
// Usage:
//
//	frame := serializer.EncodeRequest(pkt, params)
//	// ... write frame, read 32 bytes into b ...
//	pkt, err := serializer.DecodeDataPacket(b)
//	resp := serializer.DecodeResponseMethod(pkt.Raw)
package serializer
