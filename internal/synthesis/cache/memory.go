package cache

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
)

type MemoryOptions struct {
	TTL           time.Duration
	MaxEntries    int
	SweepInterval time.Duration
	// Now overrides the clock; tests use it to expire entries without sleeping.
	Now func() time.Time
}

type memEntry struct {
	key       string
	result    content.SynthesisResult
	expiresAt time.Time
	index     int
}

// expiryHeap is a min-heap ordered by expiresAt, so the root is always the entry closest to
// expiry.
type expiryHeap []*memEntry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *expiryHeap) Push(x any) {
	e := x.(*memEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Memory is the in-process result cache. Expired entries are dropped lazily on read and by a
// periodic sweep; when full, the entry closest to expiry is evicted.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	order   expiryHeap

	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	hits, misses, evictions, expirations int64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemory(opts MemoryOptions) *Memory {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1024
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Memory{
		entries:    map[string]*memEntry{},
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		now:        opts.Now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if opts.SweepInterval > 0 {
		go m.sweepLoop(opts.SweepInterval)
	} else {
		close(m.done)
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) (content.SynthesisResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		m.misses++
		return content.SynthesisResult{}, false
	}
	if !m.now().Before(e.expiresAt) {
		m.remove(e)
		m.expirations++
		m.misses++
		return content.SynthesisResult{}, false
	}
	m.hits++
	return e.result.Clone(), true
}

func (m *Memory) Set(_ context.Context, key string, result content.SynthesisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	expiresAt := now.Add(m.ttl)
	if e, ok := m.entries[key]; ok {
		e.result = result.Clone()
		e.expiresAt = expiresAt
		heap.Fix(&m.order, e.index)
		return nil
	}

	if len(m.entries) >= m.maxEntries {
		m.expired(now)
	}
	for len(m.entries) >= m.maxEntries {
		e := heap.Pop(&m.order).(*memEntry)
		delete(m.entries, e.key)
		m.evictions++
	}

	e := &memEntry{key: key, result: result.Clone(), expiresAt: expiresAt}
	heap.Push(&m.order, e)
	m.entries[key] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return false
	}
	m.remove(e)
	return true
}

func (m *Memory) Len(_ context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) Stats(_ context.Context) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		Backend:     "memory",
		Entries:     len(m.entries),
		MaxEntries:  m.maxEntries,
		Hits:        m.hits,
		Misses:      m.misses,
		Evictions:   m.evictions,
		Expirations: m.expirations,
	}
	s.computeHitRate()
	return s
}

// Sweep drops every expired entry and reports how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expired(m.now())
}

// Close stops the sweep goroutine. It is safe to call more than once.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() { close(m.stop) })
	<-m.done
	return nil
}

func (m *Memory) sweepLoop(every time.Duration) {
	defer close(m.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.Sweep()
		}
	}
}

// expired pops entries off the heap while the root has expired. Caller holds mu.
func (m *Memory) expired(now time.Time) int {
	n := 0
	for m.order.Len() > 0 && !now.Before(m.order[0].expiresAt) {
		e := heap.Pop(&m.order).(*memEntry)
		delete(m.entries, e.key)
		m.expirations++
		n++
	}
	return n
}

// remove deletes e from both indexes. Caller holds mu.
func (m *Memory) remove(e *memEntry) {
	if e.index >= 0 {
		heap.Remove(&m.order, e.index)
	}
	delete(m.entries, e.key)
}
