// Package reactor implements the AsyncComm-style reactor pool: a fixed set
// of event loops, each pinned to an OS thread and driving readiness
// notifications for the connections assigned to it, spec.md §4.1-§4.2.
// Grounded on the teacher's internal/queue/runner.go ioLoop idiom (pinned
// thread, ctx.Done()-gated loop, per-connection state guarded by a mutex)
// re-targeted from io_uring completions to epoll readiness events.
package reactor

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/hypertable-go/rangeserver/internal/logging"
)

// Handler is invoked by a reactor when a connection becomes readable or
// writable. It owns framing and dispatch; the reactor only tells it when
// to try.
type Handler interface {
	// HandleReadable is called when the connection has data to read. It
	// should read and decode as many complete frames as are available
	// without blocking, and return an error to have the connection closed.
	HandleReadable(conn *Conn) error
	// HandleWritable is called when a previously-blocked write can make
	// progress. Returns an error to have the connection closed.
	HandleWritable(conn *Conn) error
	// HandleClose is called once, when the connection is removed from its
	// reactor for any reason (peer close, protocol error, explicit Close).
	HandleClose(conn *Conn, cause error)
}

// Conn is one accepted connection, owned by exactly one Reactor for its
// lifetime (the original's "thread affinity" rule: a connection never
// migrates between reactors after being assigned).
type Conn struct {
	ID       uint64
	netConn  net.Conn
	fd       int
	reactor  *Reactor
	mu       sync.Mutex
	closed   bool
	writable bool // epoll currently watching EPOLLOUT for this fd
}

// Write attempts a non-blocking write; callers needing backpressure
// should watch for io.ErrShortWrite-like partial results and rely on the
// reactor to call HandleWritable once the socket drains.
func (c *Conn) Write(b []byte) (int, error) {
	return unix.Write(c.fd, b)
}

// Read attempts a non-blocking read of whatever is currently available.
// A zero-length, nil-error result means the peer has closed its write
// side (EOF); HandleReadable's caller should treat that as a disconnect.
func (c *Conn) Read(b []byte) (int, error) {
	return unix.Read(c.fd, b)
}

// RemoteAddr returns the underlying connection's remote address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.netConn.RemoteAddr()
}

// Close tears the connection down immediately, the same path an epoll
// HUP/ERR event takes. Safe to call from a handler once it has written a
// final response and wants the connection gone (e.g. after a close command).
func (c *Conn) Close() error {
	c.reactor.remove(c, nil)
	return nil
}

func (c *Conn) setWritable(want bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.writable == want {
		return nil
	}
	c.writable = want
	events := uint32(unix.EPOLLIN)
	if want {
		events |= unix.EPOLLOUT
	}
	return unix.EpollCtl(c.reactor.epfd, unix.EPOLL_CTL_MOD, c.fd, &unix.EpollEvent{Events: events, Fd: int32(c.fd)})
}

// Reactor is one event loop: one epoll instance, one OS thread, a private
// set of connections it alone touches.
type Reactor struct {
	id      int
	epfd    int
	handler Handler
	logger  *logging.Logger

	mu    sync.Mutex
	conns map[int]*Conn

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newReactor(ctx context.Context, id int, handler Handler, logger *logging.Logger) (*Reactor, error) {
	if logger == nil {
		logger = logging.Default()
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor %d: epoll_create1: %w", id, err)
	}
	rctx, cancel := context.WithCancel(ctx)
	return &Reactor{
		id:      id,
		epfd:    epfd,
		handler: handler,
		logger:  logger.With(fmt.Sprintf("reactor-%d", id)),
		conns:   make(map[int]*Conn),
		ctx:     rctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}, nil
}

// Register hands a freshly accepted connection to this reactor. Once
// registered the connection is only ever touched from this reactor's loop
// goroutine (besides Write, which is safe for the socket fd itself).
func (r *Reactor) Register(id uint64, nc net.Conn) (*Conn, error) {
	fd, err := connFd(nc)
	if err != nil {
		return nil, err
	}
	c := &Conn{ID: id, netConn: nc, fd: fd, reactor: r}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}); err != nil {
		return nil, fmt.Errorf("reactor %d: epoll_ctl add fd=%d: %w", r.id, fd, err)
	}
	r.mu.Lock()
	r.conns[fd] = c
	r.mu.Unlock()
	return c, nil
}

func (r *Reactor) remove(c *Conn, cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	r.mu.Lock()
	delete(r.conns, c.fd)
	r.mu.Unlock()

	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, c.fd, nil)
	_ = c.netConn.Close()
	_ = unix.Close(c.fd)
	r.handler.HandleClose(c, cause)
}

// run is the reactor's event loop, one pinned OS thread per the teacher's
// ioLoop convention so epoll_wait's thread-local readiness tracking stays
// coherent across calls.
func (r *Reactor) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(r.done)

	events := make([]unix.EpollEvent, 256)
	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		n, err := unix.EpollWait(r.epfd, events, 250)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if r.logger != nil {
				r.logger.Errorf("reactor %d: epoll_wait: %v", r.id, err)
			}
			return
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			r.mu.Lock()
			c := r.conns[fd]
			r.mu.Unlock()
			if c == nil {
				continue
			}
			ev := events[i].Events
			if ev&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				r.remove(c, fmt.Errorf("reactor %d: fd=%d hup/err", r.id, fd))
				continue
			}
			if ev&unix.EPOLLOUT != 0 {
				if err := r.handler.HandleWritable(c); err != nil {
					r.remove(c, err)
					continue
				}
			}
			if ev&unix.EPOLLIN != 0 {
				if err := r.handler.HandleReadable(c); err != nil {
					r.remove(c, err)
					continue
				}
			}
		}
	}
}

// Close stops the reactor's loop and closes every connection it owns.
func (r *Reactor) Close() error {
	r.cancel()
	<-r.done
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()
	for _, c := range conns {
		r.remove(c, context.Canceled)
	}
	return unix.Close(r.epfd)
}

// Pool is a fixed-size reactor pool. New connections are assigned to
// reactors round-robin, matching the original's ReactorFactory::get_reactor.
type Pool struct {
	reactors []*Reactor
	next     uint64
}

// NewPool starts n reactors, each running its own epoll loop goroutine.
func NewPool(ctx context.Context, n int, handler Handler, logger *logging.Logger) (*Pool, error) {
	if n <= 0 {
		n = 1
	}
	p := &Pool{reactors: make([]*Reactor, n)}
	for i := 0; i < n; i++ {
		r, err := newReactor(ctx, i, handler, logger)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.reactors[i] = r
		go r.run()
	}
	return p, nil
}

// Assign picks the next reactor round-robin and registers the connection
// with it.
func (p *Pool) Assign(id uint64, nc net.Conn) (*Conn, error) {
	idx := atomic.AddUint64(&p.next, 1) % uint64(len(p.reactors))
	return p.reactors[idx].Register(id, nc)
}

// Close stops every reactor in the pool.
func (p *Pool) Close() error {
	var firstErr error
	for _, r := range p.reactors {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SetWritable requests the reactor start (or stop) watching EPOLLOUT for
// conn, used when a partial write needs to be retried once the socket
// drains.
func SetWritable(conn *Conn, want bool) error {
	return conn.setWritable(want)
}
