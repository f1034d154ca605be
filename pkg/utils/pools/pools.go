package pools

import (
	"sync"
)

// Float64SlicePool recycles float64 scratch buffers, e.g. sorted copies of a run
type Float64SlicePool struct {
	pool sync.Pool
	size int
}

// NewFloat64SlicePool creates a pool whose fresh buffers have capacity size
func NewFloat64SlicePool(size int) *Float64SlicePool {
	if size <= 0 {
		size = 1024
	}

	return &Float64SlicePool{
		pool: sync.Pool{
			New: func() interface{} {
				buf := make([]float64, 0, size)
				return &buf
			},
		},
		size: size,
	}
}

// Get returns an empty buffer with capacity of at least n
func (p *Float64SlicePool) Get(n int) []float64 {
	buf := *(p.pool.Get().(*[]float64))
	if cap(buf) < n {
		return make([]float64, 0, n)
	}
	return buf[:0]
}

// Put returns a buffer to the pool. Buffers smaller than the pool size are dropped.
func (p *Float64SlicePool) Put(buf []float64) {
	if cap(buf) < p.size {
		return
	}
	buf = buf[:0]
	p.pool.Put(&buf)
}
