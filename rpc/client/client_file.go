package client

import (
	"fmt"
)

// requestOverhead is reserved in every file transfer for the request header and parameters
const requestOverhead = 0x100

// File methods implemented by the peer
const (
	methodFileRead    = "FSFILE_Read"
	methodFileWrite   = "FSFILE_Write"
	methodFileGetSize = "FSFILE_GetSize"
)

// RPCFile accesses files opened on the peer through their handle.
// Transfers larger than the negotiated request size are split into several requests.
type RPCFile struct {
	session *Session
}

// NewRPCFile creates a file accessor on top of a connected session
func NewRPCFile(session *Session) *RPCFile {
	return &RPCFile{session: session}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see cache.IBackend)
// --------------------------------------------------------------------------

func (f *RPCFile) ReadAt(handle int32, offset uint64, buf []byte) (int, error) {
	chunkSize, err := f.chunkSize()
	if err != nil {
		return 0, err
	}

	read := 0
	for read < len(buf) {
		toRead := min(chunkSize, len(buf)-read)

		req := f.session.NewRequest(methodFileRead)
		if err := addParameters(
			func() error { return req.AddParameterS32(handle) },
			func() error { return req.AddParameterS64(int64(offset) + int64(read)) },
			func() error { return req.AddParameterS32(int32(toRead)) },
		); err != nil {
			return read, err
		}

		resp, err := f.session.Send(req)
		if err := checkResponse(resp, err); err != nil {
			return read, fmt.Errorf("%s(%d, %d, %d): %w", methodFileRead, handle, offset+uint64(read), toRead, err)
		}

		data, ok := resp.Buffer(0)
		if !ok {
			return read, fmt.Errorf("%w: %s returned no data", ErrMethodFailed, methodFileRead)
		}
		if len(data) > toRead {
			return read, fmt.Errorf("%w: %s returned %d bytes, requested %d", ErrProtocol, methodFileRead, len(data), toRead)
		}

		copy(buf[read:], data)
		read += len(data)
		if len(data) != toRead {
			break
		}
	}
	return read, nil
}

func (f *RPCFile) WriteAt(handle int32, offset uint64, buf []byte, flags uint32) (int, error) {
	chunkSize, err := f.chunkSize()
	if err != nil {
		return 0, err
	}

	written := 0
	for written < len(buf) {
		toWrite := min(chunkSize, len(buf)-written)
		chunk := buf[written : written+toWrite]

		req := f.session.NewRequest(methodFileWrite)
		if err := addParameters(
			func() error { return req.AddParameterS32(handle) },
			func() error { return req.AddParameterS64(int64(offset) + int64(written)) },
			func() error { return req.AddParameterS32(int32(toWrite)) },
			func() error { return req.AddParameterU32(flags) },
			func() error { return req.AddParameterBuffer(chunk) },
		); err != nil {
			return written, err
		}

		resp, err := f.session.Send(req)
		if err := checkResponse(resp, err); err != nil {
			return written, fmt.Errorf("%s(%d, %d, %d): %w", methodFileWrite, handle, offset+uint64(written), toWrite, err)
		}

		n, ok := resp.GetS32(0)
		if !ok || n < 0 || int(n) > toWrite {
			return written, fmt.Errorf("%w: %s returned no valid write count", ErrMethodFailed, methodFileWrite)
		}

		written += int(n)
		if int(n) != toWrite {
			break
		}
	}
	return written, nil
}

func (f *RPCFile) Size(handle int32) (uint64, error) {
	req := f.session.NewRequest(methodFileGetSize)
	if err := req.AddParameterS32(handle); err != nil {
		return 0, err
	}

	resp, err := f.session.Send(req)
	if err := checkResponse(resp, err); err != nil {
		return 0, fmt.Errorf("%s(%d): %w", methodFileGetSize, handle, err)
	}

	size, ok := resp.GetS64(0)
	if !ok || size < 0 {
		return 0, fmt.Errorf("%w: %s returned no valid size", ErrMethodFailed, methodFileGetSize)
	}
	return uint64(size), nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// chunkSize returns the largest transfer that fits a single request
func (f *RPCFile) chunkSize() (int, error) {
	size := f.session.MaxRequestSize() - requestOverhead
	if size <= 0 {
		return 0, fmt.Errorf("peer request size %d too small for file transfers", f.session.MaxRequestSize())
	}
	return size, nil
}

// addParameters runs the parameter builders in order and stops at the first failure
func addParameters(builders ...func() error) error {
	for _, add := range builders {
		if err := add(); err != nil {
			return err
		}
	}
	return nil
}
