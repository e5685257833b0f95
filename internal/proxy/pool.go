package proxy

import (
	"sync"
)

const copyBufferSize = 32 * 1024

var copyBuffers = newBufferPool(copyBufferSize)

type bufferPool struct {
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	bp := &bufferPool{}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}

	return bp
}

func (p *bufferPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

func (p *bufferPool) Put(b *[]byte) {
	p.pool.Put(b)
}

// reverseProxyBuffers adapts a bufferPool to httputil.BufferPool.
type reverseProxyBuffers struct {
	p *bufferPool
}

func (b reverseProxyBuffers) Get() []byte {
	return *b.p.Get()
}

func (b reverseProxyBuffers) Put(buf []byte) {
	b.p.Put(&buf)
}
