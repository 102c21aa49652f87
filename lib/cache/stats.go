package cache

import (
	"math"
	"sync"
)

// ----------------------------------------------------------------------------
// ReadHistogram
// ----------------------------------------------------------------------------

// ReadHistogram tracks the size distribution of reads passed to a Cache.
// Its buckets end at the tier boundaries, so the distribution shows directly how reads
// are routed and whether the tier thresholds fit the workload.
type ReadHistogram struct {
	mutex      sync.RWMutex
	boundaries []int   // inclusive upper bound of each bucket but the last
	buckets    []int64 // samples per bucket, the last one is unbounded
	count      int64
	sum        int64
}

// NewReadHistogram creates a histogram with buckets ending at the given increasing boundaries
func NewReadHistogram(boundaries ...int) *ReadHistogram {
	return &ReadHistogram{
		boundaries: boundaries,
		buckets:    make([]int64, len(boundaries)+1),
	}
}

// AddSample records one read of size bytes
func (h *ReadHistogram) AddSample(size int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	bucket := len(h.boundaries)
	for i, boundary := range h.boundaries {
		if size <= boundary {
			bucket = i
			break
		}
	}

	h.buckets[bucket]++
	h.count++
	h.sum += int64(size)
}

// Count returns the number of recorded reads
func (h *ReadHistogram) Count() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.count
}

// AverageSize returns the mean read size
func (h *ReadHistogram) AverageSize() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// PercentileEstimate estimates the given percentile (0-100) of the read size
func (h *ReadHistogram) PercentileEstimate(percentile int) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 || percentile < 0 || percentile > 100 || len(h.boundaries) == 0 {
		return 0
	}

	target := int64(math.Ceil(float64(h.count) * float64(percentile) / 100.0))
	cumulative := int64(0)

	for i, count := range h.buckets {
		cumulative += count
		if cumulative >= target {
			switch {
			case i == 0:
				return h.boundaries[0] / 2
			case i < len(h.boundaries):
				return (h.boundaries[i-1] + h.boundaries[i]) / 2
			default:
				return h.boundaries[len(h.boundaries)-1] * 2
			}
		}
	}
	return int(h.sum / h.count)
}

// Distribution returns the bucket boundaries and the share of reads per bucket in percent
func (h *ReadHistogram) Distribution() ([]int, []float64) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	percentages := make([]float64, len(h.buckets))
	if h.count == 0 {
		return h.boundaries, percentages
	}
	for i, count := range h.buckets {
		percentages[i] = float64(count) * 100.0 / float64(h.count)
	}
	return h.boundaries, percentages
}

// Reset drops all samples
func (h *ReadHistogram) Reset() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.count = 0
	h.sum = 0
	for i := range h.buckets {
		h.buckets[i] = 0
	}
}
