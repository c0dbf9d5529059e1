package comm

import (
	"io"
	"sync"
	"time"
)

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// Pool is a communication pool which holds one or more connections to a device
// that will be closed if they are not in use, and re-opened as needed.
// it is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	leases  chan struct{} // one token per connection given out, cap == maximum size
	timeout time.Duration // time after the last Put to free idle connections
	maker   CreationFunc

	mu    sync.Mutex
	idle  []io.ReadWriteCloser
	timer *time.Timer
}

// NewPool returns a pool of at most maxSize connections made by maker
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Pool{
		leases:  make(chan struct{}, maxSize),
		timeout: timeout,
		maker:   maker,
	}
}

// Get retrieves a connection, blocking until one is available if all are in
// use.  It is guaranteed that there is no contention for the connection.
//
// When done with it, return it with Put(), or discard it with
// Destroy() if it has become no good (e.g., all calls error).
//
// If the error from Get is not nil, you must not return it to the pool.
func (p *Pool) Get() (io.ReadWriteCloser, error) {
	p.leases <- struct{}{}

	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := p.maker()
	if err != nil {
		<-p.leases
		return nil, err
	}
	return c, nil
}

// Put restores a connection to the pool.  It may be reused, or will be
// freed once every connection is back and the timeout has elapsed.
func (p *Pool) Put(c io.ReadWriteCloser) {
	p.mu.Lock()
	p.idle = append(p.idle, c)
	if len(p.leases) == 1 {
		if p.timer == nil {
			p.timer = time.AfterFunc(p.timeout, p.reclaim)
		} else {
			p.timer.Reset(p.timeout)
		}
	}
	p.mu.Unlock()
	<-p.leases
}

// Destroy immediately frees a connection taken from the pool.  This should be used
// instead of Put if the connection has gone bad.
func (p *Pool) Destroy(c io.ReadWriteCloser) {
	c.Close()
	<-p.leases
}

// reclaim closes the idle connections if nothing is on lease
func (p *Pool) reclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.leases) != 0 {
		return
	}
	p.closeIdle()
}

func (p *Pool) closeIdle() error {
	var first error
	for _, c := range p.idle {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	p.idle = nil
	return first
}

// Close frees every idle connection.  Connections on lease are unaffected.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	return p.closeIdle()
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle) + len(p.leases)
}

// Active returns the number of connections owned by the pool that are currently
// given out
func (p *Pool) Active() int {
	return len(p.leases)
}
