package connection

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

// dedup tracks particle ids already delivered to the local subscriber, so a
// particle bounced around a relay mesh is only handed to the engine once.
// The exact timestamp map decides whether an id was seen; a Bloom filter is
// kept alongside it, but its answer does not change the result, so its false
// positives cannot drop a new id. Entries age out after ttl regardless of
// filter resets.
type dedup struct {
	mu    sync.Mutex
	seen  *bloom.BloomFilter
	at    map[string]time.Time
	ttl   time.Duration
	elems uint
	fpr   float64
}

func newDedup(ttl time.Duration) *dedup {
	const expectedElements = 50000
	const falsePositiveRate = 0.001
	return &dedup{
		seen:  bloom.NewWithEstimates(expectedElements, falsePositiveRate),
		at:    make(map[string]time.Time),
		ttl:   ttl,
		elems: expectedElements,
		fpr:   falsePositiveRate,
	}
}

// seenBefore reports whether id was already marked, and marks it if not.
func (d *dedup) seenBefore(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := []byte(id)
	if _, ok := d.at[id]; ok {
		return true
	}
	if d.seen.Test(key) {
		// Bloom false positive against an id never actually recorded: treat
		// as new since the timestamp map is authoritative.
	}
	d.seen.Add(key)
	d.at[id] = time.Now()
	return false
}

// sweep drops entries older than ttl, and resets the filter once it has
// drained entirely (a Bloom filter cannot evict single entries).
func (d *dedup) sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := time.Now().Add(-d.ttl)
	for id, seenAt := range d.at {
		if seenAt.Before(cutoff) {
			delete(d.at, id)
		}
	}
	if len(d.at) == 0 {
		d.seen = bloom.NewWithEstimates(d.elems, d.fpr)
	}
}
