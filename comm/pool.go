package comm

import (
	"io"
	"sync"
	"time"
)

// Pool is a communication pool holding one or more connections to a device.
// Connections are opened lazily, reused while warm, and closed after all of
// them have been returned and the idle timeout has elapsed.  It is
// concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(conns)
	timeout time.Duration           // idle time after which parked connections are freed
	conns   chan io.ReadWriteCloser // parked connections
	maker   CreationFunc

	mu      sync.Mutex
	total   int // connections in existence, parked or leased
	onLease int // connections given out
	idleGen int // bumped on each lease; a pending reclaim from before is stale
}

// NewPool creates a new Pool of up to maxSize connections made by maker
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	return &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		maker:   maker,
	}
}

// Get leases a connection from the pool, blocking until one is available if
// all are in use.  The caller has exclusive use of the ReadWriter until it
// is given back with Put or ReturnWithError, or discarded with Destroy.
//
// If the returned error is not nil the connection must not be returned to
// the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.mu.Lock()
	p.idleGen++ // any reclaim armed while the pool was idle is now stale
	if p.total < p.maxSize && len(p.conns) == 0 {
		// room to grow, make a fresh one
		c, err := p.maker()
		if err == nil {
			p.total++
			p.onLease++
		}
		p.mu.Unlock()
		return c, err
	}
	// a connection is parked, or they are all leased out; either way the
	// next one comes off the channel
	p.onLease++
	p.mu.Unlock()
	return <-p.conns, nil
}

// Put parks a connection back in the pool for reuse.  Connections that have
// gone bad should be given to Destroy instead.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	p.conns <- rwc
	p.mu.Lock()
	p.onLease--
	idle := p.onLease == 0
	p.mu.Unlock()
	if idle {
		p.startReclaim()
	}
}

// Destroy closes and forgets a leased connection
func (p *Pool) Destroy(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	rwc.Close()
	p.mu.Lock()
	p.onLease--
	p.total--
	p.mu.Unlock()
}

// ReturnWithError hands a connection back based on the outcome of the
// transaction it was used for: healthy connections are parked, ones
// associated with an error are closed so the next lease starts clean
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if err != nil {
		p.Destroy(rw)
		return
	}
	p.Put(rw)
}

// Size returns the number of connections owned by the pool, parked or leased
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// Active returns the number of connections currently leased out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

// startReclaim schedules the parked connections to be closed after the idle
// timeout.  The staleness check and the drain share one lock acquisition,
// and Get bumps the generation under the same lock before deciding where
// its connection comes from, so a lease between arming and firing cancels
// the reclaim without racing it.
func (p *Pool) startReclaim() {
	p.mu.Lock()
	gen := p.idleGen
	p.mu.Unlock()
	time.AfterFunc(p.timeout, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if gen != p.idleGen {
			return
		}
		for {
			select {
			case closer := <-p.conns:
				closer.Close()
				p.total--
			default:
				return
			}
		}
	})
}
