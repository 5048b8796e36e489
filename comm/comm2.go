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
//
// A pool of size 1 serializes all exchanges with a device, which is what
// daisy-chained instruments sharing one port need.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(conns)
	timeout time.Duration           // idle time after all are returned before freeing them
	conns   chan io.ReadWriteCloser // idle connections
	slots   chan struct{}           // one token per connection given out or idle
	maker   CreationFunc

	mu    sync.Mutex
	timer *time.Timer
}

// NewPool creates a new pool with up to maxSize connections
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		slots:   make(chan struct{}, maxSize),
		maker:   maker,
	}
}

// Get retrieves a communicator from the pool, blocking until one is
// available if all are in use.  It is guaranteed that there is no contention
// for the ReadWriter.
//
// When done with the communicator, return it with Put(), or discard it with
// Destroy() if it has become no good (e.g., all calls error).
//
// If the error from Get is not nil, you must not return it to the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.stopReclaim()
	select {
	case c := <-p.conns:
		return c, nil
	default:
	}
	// take a slot; this blocks when maxSize connections exist
	select {
	case c := <-p.conns:
		return c, nil
	case p.slots <- struct{}{}:
	}
	c, err := p.maker()
	if err != nil {
		<-p.slots
		return nil, err
	}
	return c, nil
}

// Put restores a communicator to the pool.  It may be reused, or will be
// automatically freed after all connections are returned and the timeout
// has elapsed.
func (p *Pool) Put(rw io.ReadWriter) {
	p.conns <- rw.(io.ReadWriteCloser)
	if len(p.conns) == len(p.slots) {
		p.startReclaim()
	}
}

// Destroy immediately frees a communicator from the pool.  This should be used
// instead of Put if the communicator has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	if rwc, ok := rw.(io.ReadWriteCloser); ok {
		rwc.Close()
	}
	<-p.slots
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	return len(p.slots)
}

// Active returns the number of connections owned by the pool that are currently
// given out
func (p *Pool) Active() int {
	return len(p.slots) - len(p.conns)
}

// Close frees every idle connection now
func (p *Pool) Close() error {
	p.stopReclaim()
	p.drain()
	return nil
}

func (p *Pool) drain() {
	for {
		select {
		case c := <-p.conns:
			c.Close()
			<-p.slots
		default:
			return
		}
	}
}

func (p *Pool) stopReclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Pool) startReclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil || p.timeout <= 0 {
		return
	}
	p.timer = time.AfterFunc(p.timeout, func() {
		p.mu.Lock()
		p.timer = nil
		p.mu.Unlock()
		p.drain()
	})
}
