package ioprim

import (
	"context"
	"sync"
)

// memoryShardSize governs lock granularity for Memory, the same tradeoff
// as a sharded backend: small enough that concurrent random I/O from many
// worker threads doesn't serialize on one mutex, large enough to keep the
// shard table itself cheap.
const memoryShardSize = 64 * 1024

// Memory is an in-process Primitive backed by a byte slice under sharded
// locking, used by dt's own test suite so worker/verify/pacing logic can
// be exercised without touching a real filesystem. No buffer mode opens
// it.
type Memory struct {
	mu     sync.Mutex // guards size growth and shard slice itself
	data   []byte
	size   int64
	shards []sync.RWMutex
}

// OpenMemory creates a Memory target pre-sized to opts.DeviceSize (grown
// lazily on write if zero).
func OpenMemory(ctx context.Context, opts OpenOptions) (Primitive, error) {
	size := opts.DeviceSize
	numShards := (size + memoryShardSize - 1) / memoryShardSize
	if numShards < 1 {
		numShards = 1
	}
	return &Memory{
		data:   make([]byte, size),
		size:   size,
		shards: make([]sync.RWMutex, numShards),
	}, nil
}

func (m *Memory) shardRange(off, length int64) (start, end int) {
	start = int(off / memoryShardSize)
	end = int((off + length - 1) / memoryShardSize)
	if end >= len(m.shards) {
		end = len(m.shards) - 1
	}
	return start, end
}

func (m *Memory) growLocked(need int64) {
	if need <= int64(len(m.data)) {
		return
	}
	grown := make([]byte, need)
	copy(grown, m.data)
	m.data = grown
	m.size = need
	wantShards := (need + memoryShardSize - 1) / memoryShardSize
	for int64(len(m.shards)) < wantShards {
		m.shards = append(m.shards, sync.RWMutex{})
	}
}

func (m *Memory) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	m.mu.Lock()
	size := m.size
	m.mu.Unlock()
	if off >= size {
		return 0, nil
	}
	if avail := size - off; int64(len(p)) > avail {
		p = p[:avail]
	}
	startShard, endShard := m.shardRange(off, int64(len(p)))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].RLock()
	}
	n := copy(p, m.data[off:off+int64(len(p))])
	for i := startShard; i <= endShard; i++ {
		m.shards[i].RUnlock()
	}
	return n, nil
}

func (m *Memory) WriteAt(_ context.Context, p []byte, off int64) (int, error) {
	m.mu.Lock()
	m.growLocked(off + int64(len(p)))
	m.mu.Unlock()

	startShard, endShard := m.shardRange(off, int64(len(p)))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Lock()
	}
	n := copy(m.data[off:off+int64(len(p))], p)
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Unlock()
	}
	return n, nil
}

func (m *Memory) Flush(_ context.Context) error { return nil }

func (m *Memory) Trim(_ context.Context, off, length int64) error {
	m.mu.Lock()
	size := m.size
	m.mu.Unlock()
	if off >= size {
		return nil
	}
	end := off + length
	if end > size {
		end = size
	}
	startShard, endShard := m.shardRange(off, end-off)
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Lock()
	}
	for i := off; i < end; i++ {
		m.data[i] = 0
	}
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Unlock()
	}
	return nil
}

func (m *Memory) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}

var _ Primitive = (*Memory)(nil)

// Snapshot returns a defensive copy of the current contents, for test
// assertions only.
func (m *Memory) Snapshot() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(m.data))
	copy(cp, m.data)
	return cp
}
