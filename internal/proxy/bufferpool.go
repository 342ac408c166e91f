package proxy

import (
	"sync"
	"sync/atomic"
)

type BufferPool interface {
	Get() []byte
	Put([]byte)
}

type SyncPoolBufferPool struct {
	size int
	p    sync.Pool

	misses atomic.Uint64
}

func NewSyncPoolBufferPool(size int) *SyncPoolBufferPool {
	bp := &SyncPoolBufferPool{size: size}
	bp.p.New = func() any {
		bp.misses.Add(1)
		return make([]byte, bp.size)
	}
	return bp
}

func (p *SyncPoolBufferPool) Get() []byte {
	return p.p.Get().([]byte)
}

// Size returns the buffer length handed out by Get.
func (p *SyncPoolBufferPool) Size() int { return p.size }

// Misses counts buffers allocated because the pool was empty, i.e. sync.Pool
// calls into New. A steadily climbing count under steady connection load
// means the pool is undersized for the current concurrency.
func (p *SyncPoolBufferPool) Misses() uint64 { return p.misses.Load() }

func (p *SyncPoolBufferPool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	// Normalize len so callers don't accidentally keep huge slices alive.
	b = b[:p.size]
	p.p.Put(b)
}
