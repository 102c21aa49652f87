package cache

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/ValentinKolb/artic/rpc/common"
	"math/rand"
	"sync"
	"testing"
)

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

type readCall struct {
	offset uint64
	length int
}

// countingBackend is an in memory file that records every call
type countingBackend struct {
	mu   sync.Mutex
	data []byte

	reads  []readCall
	writes int
	sizes  int

	readErr          error
	outOfBoundsAtEnd bool // reads starting at or past the end fail instead of returning 0 bytes
}

func newCountingBackend(size int) *countingBackend {
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)
	return &countingBackend{data: data}
}

func (b *countingBackend) ReadAt(_ int32, offset uint64, buf []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.reads = append(b.reads, readCall{offset: offset, length: len(buf)})
	if b.readErr != nil {
		return 0, b.readErr
	}
	if offset > uint64(len(b.data)) || (b.outOfBoundsAtEnd && offset == uint64(len(b.data))) {
		return 0, common.NewResultError(0x800002CA)
	}
	return copy(buf, b.data[offset:]), nil
}

func (b *countingBackend) WriteAt(_ int32, offset uint64, buf []byte, _ uint32) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.writes++
	if end := int(offset) + len(buf); end > len(b.data) {
		b.data = append(b.data, make([]byte, end-len(b.data))...)
	}
	return copy(b.data[offset:], buf), nil
}

func (b *countingBackend) Size(_ int32) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sizes++
	return uint64(len(b.data)), nil
}

func (b *countingBackend) readCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.reads)
}

func (b *countingBackend) lastRead() readCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads[len(b.reads)-1]
}

func (b *countingBackend) slice(offset, length int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	end := min(offset+length, len(b.data))
	return append([]byte(nil), b.data[offset:end]...)
}

func newTestCache(t *testing.T, backend IBackend, config common.CacheConfig) *Cache {
	t.Helper()
	c, err := NewCache(backend, config)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	return c
}

// smallConfig uses tiny tiers so every routing decision is easy to hit
func smallConfig() common.CacheConfig {
	return common.CacheConfig{
		PageSize:         16,
		PageCount:        4,
		MaxSplitSize:     32,
		BigThreshold:     64,
		BigCount:         2,
		VeryBigThreshold: 128,
		VeryBigCount:     1,
	}
}

// --------------------------------------------------------------------------
// Page tier
// --------------------------------------------------------------------------

// TestReadSinglePage checks that a page is read once and then served from the cache
func TestReadSinglePage(t *testing.T) {
	backend := newCountingBackend(64 * common.KiB)
	c := newTestCache(t, backend, common.DefaultCacheConfig())

	buf := make([]byte, 4096)
	n, err := c.Read(3, 4096, buf)
	if err != nil || n != 4096 {
		t.Fatalf("Read returned %d, %v", n, err)
	}
	if backend.readCount() != 1 {
		t.Fatalf("Expected 1 backing read, got %d", backend.readCount())
	}
	if call := backend.lastRead(); call.offset != 4096 || call.length != 4096 {
		t.Errorf("Expected backing read of [4096, 8192), got offset %d length %d", call.offset, call.length)
	}
	if !bytes.Equal(buf, backend.slice(4096, 4096)) {
		t.Error("Read returned wrong data")
	}

	second := make([]byte, 4096)
	if n, err := c.Read(3, 4096, second); err != nil || n != 4096 {
		t.Fatalf("Second read returned %d, %v", n, err)
	}
	if backend.readCount() != 1 {
		t.Errorf("Second read should be served from the cache, got %d backing reads", backend.readCount())
	}
	if !bytes.Equal(second, buf) {
		t.Error("Cached read returned different data")
	}
}

// TestReadMatchesBackend checks unaligned ranges against direct reads
func TestReadMatchesBackend(t *testing.T) {
	backend := newCountingBackend(64 * common.KiB)
	c := newTestCache(t, backend, common.DefaultCacheConfig())

	ranges := []readCall{
		{0, 1},
		{100, 200},
		{4000, 200},   // crosses a page boundary
		{8191, 8192},  // max split size, three pages
		{12288, 4096}, // aligned
		{65535, 1},    // last byte
	}

	for round := 0; round < 2; round++ {
		before := backend.readCount()
		for _, r := range ranges {
			buf := make([]byte, r.length)
			n, err := c.Read(1, r.offset, buf)
			if err != nil || n != r.length {
				t.Fatalf("Read(%d, %d) returned %d, %v", r.offset, r.length, n, err)
			}
			if !bytes.Equal(buf, backend.slice(int(r.offset), r.length)) {
				t.Errorf("Read(%d, %d) differs from the backend", r.offset, r.length)
			}
		}
		if round == 1 && backend.readCount() != before {
			t.Errorf("Cached round issued %d backing reads", backend.readCount()-before)
		}
	}
}

// TestClearRereadsPages checks that Clear costs exactly one backing read per page
func TestClearRereadsPages(t *testing.T) {
	backend := newCountingBackend(64 * common.KiB)
	c := newTestCache(t, backend, common.DefaultCacheConfig())

	buf := make([]byte, 6000) // pages 0 and 4096
	if _, err := c.Read(1, 100, buf); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if backend.readCount() != 2 {
		t.Fatalf("Expected 2 backing reads, got %d", backend.readCount())
	}

	c.Clear()
	if _, err := c.Read(1, 100, buf); err != nil {
		t.Fatalf("Read after Clear failed: %v", err)
	}
	if backend.readCount() != 4 {
		t.Errorf("Expected 2 more backing reads after Clear, got %d", backend.readCount()-2)
	}
}

// TestClearReleasesSegments checks that Clear releases segment buffers but keeps page slots
func TestClearReleasesSegments(t *testing.T) {
	c := newTestCache(t, newCountingBackend(1024), smallConfig())

	c.Read(1, 0, make([]byte, 32))
	c.Read(1, 0, make([]byte, 48))
	c.Read(1, 0, make([]byte, 100))
	if c.big.lru.Len() != 1 || c.veryBig.lru.Len() != 1 {
		t.Fatalf("Expected one resident segment per tier, got %d / %d", c.big.lru.Len(), c.veryBig.lru.Len())
	}
	pages := c.pages.Len()

	c.Clear()
	if c.big.lru.FreeSlots() != 0 || c.veryBig.lru.FreeSlots() != 0 {
		t.Errorf("Segment buffers kept after Clear: %d / %d", c.big.lru.FreeSlots(), c.veryBig.lru.FreeSlots())
	}
	if c.pages.FreeSlots() != pages {
		t.Errorf("Expected %d recycled page slots, got %d", pages, c.pages.FreeSlots())
	}
}

// TestWriteThenRead checks that a write is visible to the next read
func TestWriteThenRead(t *testing.T) {
	backend := newCountingBackend(16 * common.KiB)
	c := newTestCache(t, backend, common.DefaultCacheConfig())

	buf := make([]byte, 1000)
	if _, err := c.Read(1, 500, buf); err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	data := bytes.Repeat([]byte("artic"), 200)
	n, err := c.Write(1, 500, data, 0)
	if err != nil || n != len(data) {
		t.Fatalf("Write returned %d, %v", n, err)
	}
	if backend.writes != 1 {
		t.Errorf("Expected 1 backing write, got %d", backend.writes)
	}

	if _, err := c.Read(1, 500, buf); err != nil {
		t.Fatalf("Read after Write failed: %v", err)
	}
	if !bytes.Equal(buf, data) {
		t.Error("Read after Write returned stale data")
	}
}

// TestShortReadEndsStream checks that a short page read stops the read and is not cached
func TestShortReadEndsStream(t *testing.T) {
	backend := newCountingBackend(5000)
	c := newTestCache(t, backend, common.DefaultCacheConfig())

	buf := make([]byte, 8192)
	n, err := c.Read(1, 0, buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != 5000 {
		t.Fatalf("Expected 5000 bytes, got %d", n)
	}
	if !bytes.Equal(buf[:n], backend.slice(0, 5000)) {
		t.Error("Read returned wrong data")
	}
	if backend.readCount() != 2 {
		t.Errorf("Expected 2 backing reads, got %d", backend.readCount())
	}

	if !c.CacheReady(0, 4096) {
		t.Error("Full page 0 should be resident")
	}
	if c.CacheReady(4096, 100) {
		t.Error("Partial page 4096 must not be resident")
	}

	// Reading past the end touches only the missing page again
	n, err = c.Read(1, 4096, make([]byte, 2000))
	if err != nil || n != 904 {
		t.Errorf("Expected 904 bytes at the end, got %d, %v", n, err)
	}
}

// TestOutOfBoundsEndsStream checks that an out of bounds page read ends the read without error
func TestOutOfBoundsEndsStream(t *testing.T) {
	backend := newCountingBackend(8192)
	backend.outOfBoundsAtEnd = true
	c := newTestCache(t, backend, common.DefaultCacheConfig())

	buf := make([]byte, 8192)
	n, err := c.Read(1, 4096, buf)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if n != 4096 {
		t.Errorf("Expected 4096 bytes, got %d", n)
	}
	if c.CacheReady(8192, 1) {
		t.Error("Failed page must not be resident")
	}
}

// TestBackendErrorPropagates checks that a failed fill is returned and not cached
func TestBackendErrorPropagates(t *testing.T) {
	backend := newCountingBackend(8192)
	errBoom := errors.New("boom")
	backend.readErr = errBoom
	c := newTestCache(t, backend, common.DefaultCacheConfig())

	if _, err := c.Read(1, 0, make([]byte, 100)); !errors.Is(err, errBoom) {
		t.Fatalf("Expected backend error, got %v", err)
	}
	if c.CacheReady(0, 100) {
		t.Error("Failed page must not be resident")
	}

	if _, err := c.Read(1, 0, make([]byte, 50*common.KiB)); !errors.Is(err, errBoom) {
		t.Fatalf("Expected backend error from the big tier, got %v", err)
	}
	if c.Stats().BigEntries != 0 {
		t.Error("Failed big entry must not be resident")
	}

	backend.readErr = nil
	buf := make([]byte, 100)
	if n, err := c.Read(1, 0, buf); err != nil || n != 100 {
		t.Errorf("Read after recovery returned %d, %v", n, err)
	}
}

// --------------------------------------------------------------------------
// Variable tiers
// --------------------------------------------------------------------------

// TestTierRouting checks which tier serves which read size
func TestTierRouting(t *testing.T) {
	backend := newCountingBackend(1024)
	c := newTestCache(t, backend, smallConfig())

	tests := []struct {
		name          string
		length        int
		cachedRereads bool
	}{
		{"Pages", 32, true},
		{"Big", 48, true},
		{"VeryBig", 100, true},
		{"Bypass", 200, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.Clear()

			buf := make([]byte, tt.length)
			if n, err := c.Read(1, 7, buf); err != nil || n != tt.length {
				t.Fatalf("Read returned %d, %v", n, err)
			}
			before := backend.readCount()

			again := make([]byte, tt.length)
			if n, err := c.Read(1, 7, again); err != nil || n != tt.length {
				t.Fatalf("Second read returned %d, %v", n, err)
			}
			if !bytes.Equal(again, backend.slice(7, tt.length)) {
				t.Error("Second read returned wrong data")
			}

			rereads := backend.readCount() - before
			if tt.cachedRereads && rereads != 0 {
				t.Errorf("Expected a cached second read, got %d backing reads", rereads)
			}
			if !tt.cachedRereads && rereads != 1 {
				t.Errorf("Expected an uncached second read, got %d backing reads", rereads)
			}
		})
	}

	c.Clear()
	c.Read(1, 0, make([]byte, 48))
	c.Read(1, 0, make([]byte, 100))
	stats := c.Stats()
	if stats.BigEntries != 1 || stats.VeryBigEntries != 1 || stats.Pages != 0 {
		t.Errorf("Unexpected tier occupancy: %+v", stats)
	}
	if c.CacheReady(0, 48) {
		t.Error("CacheReady must be false for unsplit reads")
	}
}

// TestVariableTierKeys checks that big entries are keyed by exact offset and length
func TestVariableTierKeys(t *testing.T) {
	backend := newCountingBackend(1024)
	c := newTestCache(t, backend, smallConfig())

	c.Read(1, 0, make([]byte, 48))
	c.Read(1, 0, make([]byte, 50))
	c.Read(1, 1, make([]byte, 48))
	if backend.readCount() != 3 {
		t.Errorf("Expected 3 backing reads for 3 distinct keys, got %d", backend.readCount())
	}

	// Capacity 2: the first entry was evicted
	c.Read(1, 0, make([]byte, 48))
	if backend.readCount() != 4 {
		t.Errorf("Expected the evicted entry to be read again, got %d backing reads", backend.readCount())
	}
}

// TestVariableTierShortRead checks that partial big entries are not cached
func TestVariableTierShortRead(t *testing.T) {
	backend := newCountingBackend(40)
	c := newTestCache(t, backend, smallConfig())

	buf := make([]byte, 48)
	n, err := c.Read(1, 0, buf)
	if err != nil || n != 40 {
		t.Fatalf("Expected 40 bytes, got %d, %v", n, err)
	}
	if c.Stats().BigEntries != 0 {
		t.Error("Partial big entry must not be resident")
	}
}

// --------------------------------------------------------------------------
// Size, readiness and concurrency
// --------------------------------------------------------------------------

// TestGetSize checks the size hint
func TestGetSize(t *testing.T) {
	backend := newCountingBackend(1234)
	c := newTestCache(t, backend, common.DefaultCacheConfig())

	for i := 0; i < 2; i++ {
		size, err := c.GetSize(1)
		if err != nil || size != 1234 {
			t.Fatalf("GetSize returned %d, %v", size, err)
		}
	}
	if backend.sizes != 1 {
		t.Errorf("Expected 1 backing size query, got %d", backend.sizes)
	}

	c.ForceSetSize(99)
	if size, _ := c.GetSize(1); size != 99 {
		t.Errorf("Expected forced size 99, got %d", size)
	}

	if _, err := c.Write(1, 1234, []byte("tail"), 0); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if size, _ := c.GetSize(1); size != 1238 {
		t.Errorf("Expected size 1238 after write, got %d", size)
	}
	if backend.sizes != 2 {
		t.Errorf("Expected a new size query after Write, got %d queries", backend.sizes)
	}
}

// TestCacheReady checks that readiness requires every covering page
func TestCacheReady(t *testing.T) {
	backend := newCountingBackend(64 * common.KiB)
	c := newTestCache(t, backend, common.DefaultCacheConfig())

	if c.CacheReady(0, 100) {
		t.Error("Empty cache should not be ready")
	}

	c.Read(1, 0, make([]byte, 4096))
	if !c.CacheReady(0, 4096) || !c.CacheReady(100, 200) {
		t.Error("Resident page should be ready")
	}
	if c.CacheReady(4000, 200) {
		t.Error("Range crossing into a missing page should not be ready")
	}

	c.Read(1, 4096, make([]byte, 4096))
	if !c.CacheReady(4000, 200) {
		t.Error("Range covered by two resident pages should be ready")
	}
	if c.CacheReady(0, 9*common.KiB) {
		t.Error("Unsplit reads should never be ready")
	}
}

// TestConcurrentReads checks random concurrent reads against the backend
func TestConcurrentReads(t *testing.T) {
	backend := newCountingBackend(256 * common.KiB)
	c := newTestCache(t, backend, common.DefaultCacheConfig())

	var wg sync.WaitGroup
	errs := make(chan error, 16)

	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				length := 1 + rng.Intn(12*common.KiB)
				offset := rng.Intn(256*common.KiB - length)
				buf := make([]byte, length)
				n, err := c.Read(1, uint64(offset), buf)
				if err != nil || n != length {
					errs <- fmt.Errorf("Read(%d, %d) returned %d, %v", offset, length, n, err)
					return
				}
				if !bytes.Equal(buf, backend.slice(offset, length)) {
					errs <- fmt.Errorf("Read(%d, %d) returned wrong data", offset, length)
					return
				}
			}
		}(int64(g))
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// TestInvalidConfig checks that inconsistent tier sizes are rejected
func TestInvalidConfig(t *testing.T) {
	config := smallConfig()
	config.BigThreshold = 8
	if _, err := NewCache(newCountingBackend(10), config); err == nil {
		t.Error("Expected an error for a big threshold below the page size")
	}

	config = smallConfig()
	config.PageCount = 0
	if _, err := NewCache(newCountingBackend(10), config); err == nil {
		t.Error("Expected an error for an empty page tier")
	}
}
