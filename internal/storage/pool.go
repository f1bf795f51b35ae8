package storage

import "sync"

// DefaultSlab is the number of buffers carved out of the first slab.
const DefaultSlab = 16

// Pool hands out fixed-size element buffers. When no free buffer is left
// it allocates a new slab twice the size of the previous one instead of
// failing.
type Pool struct {
	mu       sync.Mutex
	size     int
	next     int
	free     [][]int64
	capacity int
	inUse    int
}

// NewPool creates a pool of buffers holding size elements each.
func NewPool(size, initial int) *Pool {
	if initial <= 0 {
		initial = DefaultSlab
	}
	return &Pool{size: size, next: initial}
}

// Get returns a zeroed buffer.
func (p *Pool) Get() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		p.grow()
	}
	buf := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse++
	return buf
}

// Put returns a buffer obtained from Get. The buffer is cleared.
func (p *Pool) Put(buf []int64) {
	if buf == nil {
		return
	}
	clear(buf)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, buf[:p.size:p.size])
	p.inUse--
}

// Capacity returns the number of buffers allocated so far.
func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity
}

// InUse returns the number of buffers handed out and not yet returned.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// grow must be called with mu held.
func (p *Pool) grow() {
	n := p.next
	slab := make([]int64, n*p.size)
	for i := 0; i < n; i++ {
		lo, hi := i*p.size, (i+1)*p.size
		p.free = append(p.free, slab[lo:hi:hi])
	}
	p.capacity += n
	p.next *= 2
}
