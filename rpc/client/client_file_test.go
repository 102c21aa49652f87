package client

import (
	"bytes"
	"errors"
	"github.com/ValentinKolb/artic/rpc/common"
	peertest "github.com/ValentinKolb/artic/rpc/testing"
	"math/rand"
	"testing"
)

// startFilePeer starts a peer serving files with a chunk size of 1024 bytes
func startFilePeer(t *testing.T) (*RPCFile, *peertest.MemoryFiles) {
	t.Helper()
	files := peertest.NewMemoryFiles()
	peer := startPeer(t, peertest.PeerOptions{MaxSize: "1280"}, files.Handle)
	session := connect(t, peer.ClientConfig())
	return NewRPCFile(session), files
}

func randomData(size int) []byte {
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)
	return data
}

// TestRPCFileRead checks chunked reads and the end of file handling
func TestRPCFileRead(t *testing.T) {
	file, files := startFilePeer(t)
	data := randomData(3000)
	files.Put(7, data)

	tests := []struct {
		name      string
		offset    uint64
		length    int
		expected  int
		transfers int64
	}{
		{"SingleChunk", 10, 500, 500, 1},
		{"ExactChunk", 0, 1024, 1024, 1},
		{"ThreeChunks", 0, 3000, 3000, 3},
		{"PastEnd", 0, 5000, 3000, 3},
		{"Tail", 2900, 200, 100, 1},
		{"AtEnd", 3000, 10, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := files.Reads.Load()

			buf := make([]byte, tt.length)
			n, err := file.ReadAt(7, tt.offset, buf)
			if err != nil {
				t.Fatalf("ReadAt failed: %v", err)
			}
			if n != tt.expected {
				t.Fatalf("Expected %d bytes, got %d", tt.expected, n)
			}
			if !bytes.Equal(buf[:n], data[tt.offset:tt.offset+uint64(n)]) {
				t.Error("ReadAt returned wrong data")
			}
			if transfers := files.Reads.Load() - before; transfers != tt.transfers {
				t.Errorf("Expected %d transfers, got %d", tt.transfers, transfers)
			}
		})
	}
}

// TestRPCFileReadOutOfBounds checks that reads starting past the end report ErrOutOfBounds
func TestRPCFileReadOutOfBounds(t *testing.T) {
	file, files := startFilePeer(t)
	files.Put(1, randomData(100))

	_, err := file.ReadAt(1, 4096, make([]byte, 10))
	if !errors.Is(err, common.ErrOutOfBounds) {
		t.Fatalf("Expected ErrOutOfBounds, got %v", err)
	}

	var resultErr *common.ResultError
	if !errors.As(err, &resultErr) || resultErr.Description() != 714 {
		t.Errorf("Expected result description 714, got %v", err)
	}

	// Unknown handles fail on the peer
	if _, err := file.ReadAt(99, 0, make([]byte, 10)); !errors.Is(err, ErrMethodFailed) {
		t.Errorf("Expected ErrMethodFailed for an unknown handle, got %v", err)
	}
}

// TestRPCFileWrite checks chunked writes including big buffer uploads
func TestRPCFileWrite(t *testing.T) {
	file, files := startFilePeer(t)
	files.Put(3, make([]byte, 100))

	data := randomData(3000)
	n, err := file.WriteAt(3, 50, data, 0)
	if err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if n != len(data) {
		t.Errorf("Expected %d bytes written, got %d", len(data), n)
	}
	if files.Writes.Load() != 3 {
		t.Errorf("Expected 3 transfers, got %d", files.Writes.Load())
	}

	content := files.Content(3)
	if len(content) != 3050 {
		t.Fatalf("Expected file size 3050, got %d", len(content))
	}
	if !bytes.Equal(content[50:], data) {
		t.Error("Peer stored wrong data")
	}

	// Small writes travel inline
	if n, err := file.WriteAt(3, 0, []byte("inline"), 0); err != nil || n != 6 {
		t.Errorf("Small WriteAt returned %d, %v", n, err)
	}
	if !bytes.Equal(files.Content(3)[:6], []byte("inline")) {
		t.Error("Peer stored wrong inline data")
	}
}

// TestRPCFileSize checks the size query
func TestRPCFileSize(t *testing.T) {
	file, files := startFilePeer(t)
	files.Put(2, randomData(12345))

	size, err := file.Size(2)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != 12345 {
		t.Errorf("Expected size 12345, got %d", size)
	}

	if _, err := file.Size(42); !errors.Is(err, ErrMethodFailed) {
		t.Errorf("Expected ErrMethodFailed for an unknown handle, got %v", err)
	}
}
