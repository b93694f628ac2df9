package comm

import (
	"io"
	"sync"
	"time"
)

// CreationFunc is a function which returns a new "connection" to something.
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// Pool is a communication pool which holds one or more connections to a device
// that will be closed if they are not in use, and re-opened as needed.
// it is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(conns)
	onLease int                     // number of connections given out, <= cap(conns)
	timeout time.Duration           // time after len(conns) == maxSize to free all connections
	conns   chan io.ReadWriteCloser // the circular buffer of connections
	timer   *time.Timer             // timer used to destroy connections after all are returned
	maker   CreationFunc

	reclaiming bool          // whether a reclaimer goroutine is parked on the timer
	stop       chan struct{} // unparks the reclaimer when a Get interrupts the idle period
	mu         *sync.Mutex
}

// NewPool creates a new pool of up to maxSize connections, which is idle
// culled after timeout
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		timer:   time.NewTimer(timeout),
		maker:   maker,
		stop:    make(chan struct{}),
		mu:      &sync.Mutex{},
	}
	p.timer.Stop() // nothing to reclaim initially
	return p
}

// Get retrieves a communicator from the pool, blocking until one is
// available if all are in use.  It is guaranteed that there is no
// contention for the ReadWriter.  The consumer should not attempt to cast
// it to its concrete type and use it outside this interface.
//
// When done with the communicator, return it with Put, or discard it with
// Destroy if it has become no good (e.g., all calls error).
// ReturnWithError does the right thing from a deferred call.
//
// If the error from Get is not nil, you must not return the communicator
// to the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// the pool is no longer idle.  if a reclaimer is parked on the timer
	// and the timer has not fired, unpark it so it exits instead of
	// waiting forever on a stopped timer.  Stop returning false means
	// the timer already fired and the reclaimer is draining on its own.
	if p.reclaiming && p.timer.Stop() {
		p.stop <- struct{}{}
	}
	// short circuit: if a connection is available, immediately return it
	if len(p.conns) > 0 {
		ret := <-p.conns
		p.onLease++
		return ret, nil
	}
	// check if they're all given out
	if p.onLease == p.maxSize {
		// wait for one to come back
		ret := <-p.conns
		p.onLease++
		return ret, nil
	}
	// no connection available and they aren't all out; make one.
	// only increment the lease count if we are giving out something
	// other than garbage
	c, err := p.maker()
	if err == nil {
		p.onLease++
	}
	return c, err
}

// Put restores a communicator to the pool.  It may be reused, or will be
// automatically freed after all connections are returned and the timeout
// has elapsed.  Junk communicators (ones that always error) should be
// Destroy'd and not returned with Put.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := (rw).(io.ReadWriteCloser)
	p.conns <- rwc
	p.mu.Lock()
	p.onLease--
	idle := len(p.conns) == p.maxSize
	p.mu.Unlock()
	if idle {
		p.startReclaim()
	}
}

// Destroy immediately frees a communicator from the pool.  This should be
// used instead of Put if the communicator has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	rwc := (rw).(io.ReadWriteCloser)
	rwc.Close()
	p.mu.Lock()
	p.onLease--
	p.mu.Unlock()
}

// ReturnWithError Puts the communicator back if err is nil, otherwise
// Destroys it.  It tolerates a nil communicator, which makes it safe to
// defer immediately after Get.
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if rw == nil {
		return
	}
	if err != nil {
		p.Destroy(rw)
		return
	}
	p.Put(rw)
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns) + p.onLease
}

// Active returns the number of connections owned by the pool that are
// currently given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

// startReclaim arms the idle timer and ensures a reclaimer goroutine is
// parked on it.  Rearming an already-parked reclaimer just pushes the
// deadline out.
func (p *Pool) startReclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.reclaiming {
		// drain a stale fire so Reset arms a clean timer
		if !p.timer.Stop() {
			select {
			case <-p.timer.C:
			default:
			}
		}
	}
	p.timer.Reset(p.timeout)
	if p.reclaiming {
		return
	}
	p.reclaiming = true
	go p.reclaim()
}

// reclaim parks until the idle timer fires, then closes every pooled
// connection.  A Get during the idle period unparks it via stop.
func (p *Pool) reclaim() {
	select {
	case <-p.timer.C:
	case <-p.stop:
		p.mu.Lock()
		p.reclaiming = false
		p.mu.Unlock()
		return
	}
	for {
		select {
		case closer := <-p.conns:
			closer.Close()
		default:
			p.mu.Lock()
			p.reclaiming = false
			p.mu.Unlock()
			return
		}
	}
}
