package cache

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/artic/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"sync"
)

var Logger = logger.GetLogger(common.LoggerCache)

// ErrOutOfBounds is reported by backends for reads starting past the end of a file
var ErrOutOfBounds = common.ErrOutOfBounds

// Process wide tier counters, exported with metrics.WritePrometheus
var (
	pageHits      = metrics.NewCounter(`artic_cache_requests_total{tier="page",result="hit"}`)
	pageMisses    = metrics.NewCounter(`artic_cache_requests_total{tier="page",result="miss"}`)
	bigHits       = metrics.NewCounter(`artic_cache_requests_total{tier="big",result="hit"}`)
	bigMisses     = metrics.NewCounter(`artic_cache_requests_total{tier="big",result="miss"}`)
	veryBigHits   = metrics.NewCounter(`artic_cache_requests_total{tier="very_big",result="hit"}`)
	veryBigMisses = metrics.NewCounter(`artic_cache_requests_total{tier="very_big",result="miss"}`)
	bypassedReads = metrics.NewCounter(`artic_cache_bypassed_reads_total`)
	backendErrors = metrics.NewCounter(`artic_cache_backend_errors_total`)
	clears        = metrics.NewCounter(`artic_cache_clears_total`)
)

// IBackend is the remote file a Cache reads from and writes to
type IBackend interface {
	// ReadAt reads up to len(buf) bytes at offset. A short count means the end of the file was reached.
	ReadAt(handle int32, offset uint64, buf []byte) (int, error)

	// WriteAt writes buf at offset and returns the number of bytes written
	WriteAt(handle int32, offset uint64, buf []byte, flags uint32) (int, error)

	// Size returns the size of the file
	Size(handle int32) (uint64, error)
}

// segmentKey identifies an entry of the variable size tiers
type segmentKey struct {
	offset uint64
	length int
}

// variableTier is one of the tiers keyed by exact (offset, length)
type variableTier struct {
	name   string
	mu     sync.Mutex
	lru    *LRU[segmentKey, []byte]
	hits   *metrics.Counter
	misses *metrics.Counter
}

// --------------------------------------------------------------------------
// Cache
// --------------------------------------------------------------------------

// Cache is the read cache of one remote file. It has three independently locked tiers:
//   - page: fixed size pages keyed by their aligned offset, used for reads up to MaxSplitSize
//   - big: reads above MaxSplitSize and below BigThreshold, keyed by exact offset and length
//   - very big: reads below VeryBigThreshold, larger reads bypass the cache
//
// Any write clears all tiers and the size hint.
type Cache struct {
	backend IBackend
	config  common.CacheConfig

	pageMu sync.RWMutex
	pages  *LRU[uint64, []byte]

	big     *variableTier
	veryBig *variableTier

	sizeMu    sync.Mutex
	size      uint64
	sizeKnown bool

	reads *ReadHistogram
}

// NewCache creates an empty cache on top of backend
func NewCache(backend IBackend, config common.CacheConfig) (*Cache, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}
	return newCache(backend, config)
}

// newCache creates a cache from an already validated config
func newCache(backend IBackend, config common.CacheConfig) (*Cache, error) {
	pageSize := config.PageSize
	pages, err := NewLRU[uint64, []byte](config.PageCount, func() *[]byte {
		page := make([]byte, pageSize)
		return &page
	})
	if err != nil {
		return nil, err
	}

	newVariable := func() *[]byte { return new([]byte) }

	big, err := NewLRU[segmentKey, []byte](config.BigCount, newVariable)
	if err != nil {
		return nil, err
	}
	veryBig, err := NewLRU[segmentKey, []byte](config.VeryBigCount, newVariable)
	if err != nil {
		return nil, err
	}

	return &Cache{
		backend: backend,
		config:  config,
		pages:   pages,
		big:     &variableTier{name: "big", lru: big, hits: bigHits, misses: bigMisses},
		veryBig: &variableTier{name: "very big", lru: veryBig, hits: veryBigHits, misses: veryBigMisses},
		reads:   NewReadHistogram(config.PageSize, config.MaxSplitSize, config.BigThreshold-1, config.VeryBigThreshold-1),
	}, nil
}

// --------------------------------------------------------------------------
// Read path
// --------------------------------------------------------------------------

// Read fills buf with the file content at offset and returns the number of bytes copied.
// Fewer bytes than len(buf) are returned when the end of the file is reached.
func (c *Cache) Read(handle int32, offset uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	c.reads.AddSample(len(buf))

	if len(buf) <= c.config.MaxSplitSize {
		return c.readPages(handle, offset, buf)
	}

	switch {
	case len(buf) < c.config.BigThreshold:
		return c.readVariable(c.big, handle, offset, buf)
	case len(buf) < c.config.VeryBigThreshold:
		return c.readVariable(c.veryBig, handle, offset, buf)
	default:
		bypassedReads.Inc()
		Logger.Debugf("Cache bypass: offset=%d, length=%d", offset, len(buf))
		n, err := c.backend.ReadAt(handle, offset, buf)
		if err != nil {
			backendErrors.Inc()
		}
		return n, err
	}
}

// readPages serves a read from the page tier, one backing read per missing page
func (c *Cache) readPages(handle int32, offset uint64, buf []byte) (int, error) {
	pageSize := uint64(c.config.PageSize)

	c.pageMu.Lock()
	defer c.pageMu.Unlock()

	progress := 0
	pos := offset
	end := offset + uint64(len(buf))

	for pos < end {
		page := pos - pos%pageSize
		into := int(pos - page)
		segment := int(min(end, page+pageSize) - pos)

		hit, slot := c.pages.Request(page)
		data := *slot
		filled := len(data)
		endOfFile := false

		if hit {
			pageHits.Inc()
			Logger.Debugf("Cache hit: page=%d, length=%d, into=%d", page, segment, into)
		} else {
			pageMisses.Inc()
			Logger.Debugf("Cache miss: page=%d, length=%d, into=%d", page, segment, into)

			n, err := c.backend.ReadAt(handle, page, data)
			if err != nil {
				c.pages.Invalidate(page)
				// The file size may be a multiple of the page size, reading just past it is no error
				if errors.Is(err, ErrOutOfBounds) {
					return progress, nil
				}
				backendErrors.Inc()
				return progress, err
			}
			filled = n
			endOfFile = n < len(data)
		}

		copied := 0
		if filled > into {
			copied = copy(buf[progress:progress+segment], data[into:min(into+segment, filled)])
		}
		progress += copied

		if endOfFile {
			// A partial page must not serve later reads
			c.pages.Invalidate(page)
			break
		}
		pos += uint64(segment)
	}
	return progress, nil
}

// readVariable serves an unsplit read from a variable size tier
func (c *Cache) readVariable(t *variableTier, handle int32, offset uint64, buf []byte) (int, error) {
	key := segmentKey{offset: offset, length: len(buf)}

	t.mu.Lock()
	defer t.mu.Unlock()

	hit, slot := t.lru.Request(key)
	if hit {
		t.hits.Inc()
		Logger.Debugf("Cache %s hit: offset=%d, length=%d", t.name, offset, len(buf))
	} else {
		t.misses.Inc()
		Logger.Debugf("Cache %s miss: offset=%d, length=%d", t.name, offset, len(buf))

		if cap(*slot) < len(buf) {
			*slot = make([]byte, len(buf))
		}
		*slot = (*slot)[:len(buf)]

		n, err := c.backend.ReadAt(handle, offset, *slot)
		if err != nil {
			t.lru.Invalidate(key)
			backendErrors.Inc()
			return 0, err
		}
		*slot = (*slot)[:n]
	}

	n := copy(buf, *slot)
	if n < len(buf) {
		// Partial entries must not serve later reads
		t.lru.Invalidate(key)
	}
	return n, nil
}

// CacheReady reports whether a read of length bytes at offset would be served from resident pages only
func (c *Cache) CacheReady(offset uint64, length int) bool {
	if length > c.config.MaxSplitSize {
		return false
	}

	pageSize := uint64(c.config.PageSize)
	end := offset + uint64(length)

	c.pageMu.RLock()
	defer c.pageMu.RUnlock()

	for page := offset - offset%pageSize; page < end; page += pageSize {
		if !c.pages.Contains(page) {
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Write path and size
// --------------------------------------------------------------------------

// Write clears the cache and writes buf at offset directly to the backend
func (c *Cache) Write(handle int32, offset uint64, buf []byte, flags uint32) (int, error) {
	c.Clear()

	n, err := c.backend.WriteAt(handle, offset, buf, flags)
	if err != nil {
		backendErrors.Inc()
	}
	return n, err
}

// GetSize returns the cached file size or queries and caches it
func (c *Cache) GetSize(handle int32) (uint64, error) {
	c.sizeMu.Lock()
	defer c.sizeMu.Unlock()

	if c.sizeKnown {
		return c.size, nil
	}

	size, err := c.backend.Size(handle)
	if err != nil {
		backendErrors.Inc()
		return 0, err
	}
	c.size = size
	c.sizeKnown = true
	return size, nil
}

// ForceSetSize sets the size hint, e.g. from a directory listing
func (c *Cache) ForceSetSize(size uint64) {
	c.sizeMu.Lock()
	defer c.sizeMu.Unlock()
	c.size = size
	c.sizeKnown = true
}

// Clear drops all tiers and the size hint
func (c *Cache) Clear() {
	c.pageMu.Lock()
	c.big.mu.Lock()
	c.veryBig.mu.Lock()
	c.sizeMu.Lock()

	// Page slots have a fixed size and are kept, segment buffers are released
	c.pages.Clear()
	c.big.lru.Reset()
	c.veryBig.lru.Reset()
	c.sizeKnown = false
	c.size = 0

	c.sizeMu.Unlock()
	c.veryBig.mu.Unlock()
	c.big.mu.Unlock()
	c.pageMu.Unlock()

	clears.Inc()
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// Stats is a snapshot of the cache occupancy and the observed read sizes
type Stats struct {
	Pages          int
	BigEntries     int
	VeryBigEntries int
	Reads          int64
	AverageRead    int
	MedianRead     int
	P90Read        int
}

// Stats returns a snapshot of the cache
func (c *Cache) Stats() Stats {
	c.pageMu.RLock()
	pages := c.pages.Len()
	c.pageMu.RUnlock()

	c.big.mu.Lock()
	big := c.big.lru.Len()
	c.big.mu.Unlock()

	c.veryBig.mu.Lock()
	veryBig := c.veryBig.lru.Len()
	c.veryBig.mu.Unlock()

	return Stats{
		Pages:          pages,
		BigEntries:     big,
		VeryBigEntries: veryBig,
		Reads:          c.reads.Count(),
		AverageRead:    c.reads.AverageSize(),
		MedianRead:     c.reads.PercentileEstimate(50),
		P90Read:        c.reads.PercentileEstimate(90),
	}
}

// ReadHistogram returns the read size histogram of the cache
func (c *Cache) ReadHistogram() *ReadHistogram {
	return c.reads
}
