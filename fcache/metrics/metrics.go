// Package metrics exports fcache events as Prometheus metrics.
//
// Example usage:
//
//	reg := prometheus.NewRegistry()
//	m, err := fcache.New(cfg, metrics.New(reg))
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/joshuapare/vfscache/fcache"
)

const namespace = "fcache"

// Observer is the Prometheus implementation of fcache.Observer.
type Observer struct {
	bufAllocs    prometheus.Counter
	bufBytes     prometheus.Histogram
	bufWaste     prometheus.Counter
	bufFrees     prometheus.Counter
	bufRefs      prometheus.Counter
	cacheAccess  *prometheus.CounterVec
	cacheBytes   prometheus.Counter
	blockAccess  *prometheus.CounterVec
	evictions    prometheus.Counter
	evictedBytes prometheus.Counter
}

var _ fcache.Observer = (*Observer)(nil)

// New creates an Observer whose metrics are registered with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Observer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Observer{
		bufAllocs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buf_allocs_total",
			Help:      "Total number of buffers allocated from the arena",
		}),
		bufBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "buf_alloc_bytes",
			Help:      "Distribution of requested buffer sizes",
			Buckets: []float64{
				4096,     // 4KB - one quantum
				32768,    // 32KB - one archive block
				131072,   // 128KB
				524288,   // 512KB
				1048576,  // 1MB
				4194304,  // 4MB
				16777216, // 16MB
			},
		}),
		bufWaste: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buf_alignment_waste_bytes_total",
			Help:      "Bytes lost to rounding buffers up to the allocation quantum",
		}),
		bufFrees: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buf_frees_total",
			Help:      "Total number of buffers returned to the arena",
		}),
		bufRefs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buf_refs_total",
			Help:      "Total number of references taken on cached buffers",
		}),
		cacheAccess: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_accesses_total",
			Help:      "File cache lookups by result",
		}, []string{"result"}), // "hit", "miss"
		cacheBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hit_bytes_total",
			Help:      "Bytes served from the file cache",
		}),
		blockAccess: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "block_accesses_total",
			Help:      "Block ring lookups by result",
		}, []string{"result"}),
		evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Cached files evicted to make room for new buffers",
		}),
		evictedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_bytes_total",
			Help:      "Bytes of cached files evicted to make room",
		}),
	}
}

func result(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

// BufAlloc implements fcache.Observer.
func (o *Observer) BufAlloc(size, alignedSize int) {
	o.bufAllocs.Inc()
	o.bufBytes.Observe(float64(size))
	if waste := alignedSize - size; waste > 0 {
		o.bufWaste.Add(float64(waste))
	}
}

// BufFree implements fcache.Observer.
func (o *Observer) BufFree(int) { o.bufFrees.Inc() }

// BufRef implements fcache.Observer.
func (o *Observer) BufRef() { o.bufRefs.Inc() }

// CacheAccess implements fcache.Observer.
func (o *Observer) CacheAccess(hit bool, size int) {
	o.cacheAccess.WithLabelValues(result(hit)).Inc()
	if hit && size > 0 {
		o.cacheBytes.Add(float64(size))
	}
}

// BlockAccess implements fcache.Observer.
func (o *Observer) BlockAccess(hit bool) {
	o.blockAccess.WithLabelValues(result(hit)).Inc()
}

// Evict implements fcache.Observer.
func (o *Observer) Evict(size int) {
	o.evictions.Inc()
	o.evictedBytes.Add(float64(size))
}
