package testing

import (
	"github.com/ValentinKolb/artic/rpc/common"
	"sync"
	"sync/atomic"
)

// ResultOutOfBounds is the method result reported for reads starting past the end of a file
const ResultOutOfBounds int32 = -0x7FFFFD36 // 0x800002CA, description 714

// MemoryFiles serves the FSFILE_* methods from in memory files keyed by handle
type MemoryFiles struct {
	mu    sync.RWMutex
	files map[int32][]byte

	Reads  atomic.Int64 // FSFILE_Read calls
	Writes atomic.Int64 // FSFILE_Write calls
	Sizes  atomic.Int64 // FSFILE_GetSize calls
}

// NewMemoryFiles creates an empty file set
func NewMemoryFiles() *MemoryFiles {
	return &MemoryFiles{files: make(map[int32][]byte)}
}

// Put stores a copy of data as the content of handle
func (m *MemoryFiles) Put(handle int32, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[handle] = append([]byte(nil), data...)
}

// Content returns a copy of the content of handle
func (m *MemoryFiles) Content(handle int32) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.files[handle]...)
}

// Handle is a MethodHandler
func (m *MemoryFiles) Handle(call *Call) Reply {
	switch call.Method {
	case "FSFILE_Read":
		return m.read(call)
	case "FSFILE_Write":
		return m.write(call)
	case "FSFILE_GetSize":
		return m.size(call)
	default:
		return Failure(common.ResultMethodNotFound, 0)
	}
}

func (m *MemoryFiles) read(call *Call) Reply {
	m.Reads.Add(1)
	if len(call.Params) != 3 {
		return Failure(common.ResultMethodError, 0)
	}
	handle, offset, size := call.Int32(0), call.Int64(1), call.Int32(2)

	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[handle]
	if !ok || offset < 0 || size < 0 {
		return Failure(common.ResultMethodError, 0)
	}
	if offset > int64(len(data)) {
		return Success(ResultOutOfBounds)
	}
	end := min(offset+int64(size), int64(len(data)))
	chunk := append([]byte(nil), data[offset:end]...)
	return Success(0, ReplyBuffer{ID: 0, Data: chunk})
}

func (m *MemoryFiles) write(call *Call) Reply {
	m.Writes.Add(1)
	if len(call.Params) != 5 {
		return Failure(common.ResultMethodError, 0)
	}
	handle, offset, size := call.Int32(0), call.Int64(1), call.Int32(2)

	buf, err := call.Buffer(4)
	if err != nil || int32(len(buf)) != size || offset < 0 {
		return Failure(common.ResultMethodError, 0)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.files[handle]
	if !ok {
		return Failure(common.ResultMethodError, 0)
	}
	if end := offset + int64(len(buf)); end > int64(len(data)) {
		data = append(data, make([]byte, end-int64(len(data)))...)
	}
	copy(data[offset:], buf)
	m.files[handle] = data
	return Success(0, Int32Buffer(0, int32(len(buf))))
}

func (m *MemoryFiles) size(call *Call) Reply {
	m.Sizes.Add(1)
	if len(call.Params) != 1 {
		return Failure(common.ResultMethodError, 0)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[call.Int32(0)]
	if !ok {
		return Failure(common.ResultMethodError, 0)
	}
	return Success(0, Int64Buffer(0, int64(len(data))))
}
