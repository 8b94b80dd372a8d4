package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/kvcheck/protocol"
	"github.com/luma/kvcheck/storage"
)

const (
	WriteQueueSize = 127
)

var ErrConnClosed = errors.New("connection is closed")

type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr      string
	reuseport bool

	numListeners int
	listeners    []*TCPListener

	store storage.Store

	log   *zap.Logger
	trace bool
}

func NewTCP(options Options) *TCP {
	numListeners := options.NumListeners

	if numListeners < 1 || !options.Reuseport {
		// Without SO_REUSEPORT only one listener can bind the address
		numListeners = 1
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &TCP{
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		reuseport:    options.Reuseport,
		numListeners: numListeners,
		listeners:    make([]*TCPListener, 0, numListeners),
		trace:        options.Trace,
		store:        options.Store,
		log:          log,
	}
}

// Start binds every listener and then accepts connections in the background.
// When it returns without error the server is accepting connections.
func (w *TCP) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	w.cancel = cancel

	w.log.Info("Starting tcp listeners", zap.Int("count", w.numListeners))

	addr := w.addr
	for i := 0; i < w.numListeners; i++ {
		listener, err := w.listen(addr)
		if err != nil {
			cancel()
			return multierr.Append(err, w.closeListeners())
		}

		// Later listeners share the port the first one was given
		addr = listener.Addr().String()

		w.startListener(ctx, listener)
	}

	return nil
}

func (w *TCP) listen(addr string) (net.Listener, error) {
	if w.reuseport {
		return reuseport.Listen("tcp", addr)
	}

	return net.Listen("tcp", addr)
}

// Addr returns the address the server is listening on, or "" before Start.
func (w *TCP) Addr() string {
	if len(w.listeners) == 0 {
		return ""
	}

	return w.listeners[0].listener.Addr().String()
}

func (t *TCP) Store() storage.Store {
	return t.store
}

func (w *TCP) startListener(ctx context.Context, l net.Listener) {
	w.stopWaiter.Add(1)
	listener := NewTCPListener(
		ctx,
		l,
		w.store,
		w.trace,
		w.log.Named("listener").With(zap.Int("listener", len(w.listeners))),
	)

	w.listeners = append(w.listeners, listener)

	go func() {
		defer w.stopWaiter.Done()

		if err := listener.Serve(); err != nil {
			w.log.Error("Failed to accept", zap.Error(err))
		}
	}()
}

// Close immediately closes all active listeners and connections.
func (w *TCP) Close() error {
	w.log.Info("Stopping TCP server")
	if w.cancel != nil {
		w.cancel()
	}

	err := w.closeListeners()

	w.stopWaiter.Wait()
	w.log.Info("Listeners stopped")

	return err
}

func (w *TCP) closeListeners() (err error) {
	for _, listener := range w.listeners {
		err = multierr.Append(err, listener.Close())
	}

	return err
}

type TCPListener struct {
	ctx context.Context

	listener net.Listener
	log      *zap.Logger
	trace    bool

	mu          sync.Mutex
	activeConns map[*TCPConn]struct{}
	connWaiter  sync.WaitGroup

	store storage.Store
}

func NewTCPListener(
	ctx context.Context,
	listener net.Listener,
	store storage.Store,
	trace bool,
	log *zap.Logger,
) *TCPListener {
	return &TCPListener{
		ctx:         ctx,
		listener:    listener,
		activeConns: make(map[*TCPConn]struct{}),
		store:       store,
		trace:       trace,
		log:         log,
	}
}

// Close stops accepting connections and closes every active connection.
func (t *TCPListener) Close() error {
	err := t.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	t.mu.Lock()
	conns := make([]*TCPConn, 0, len(t.activeConns))
	for conn := range t.activeConns {
		conns = append(conns, conn)
	}
	t.mu.Unlock()

	for _, conn := range conns {
		err = multierr.Append(err, conn.Close())
	}

	return err
}

// Serve accepts connections until the listener is closed.
func (t *TCPListener) Serve() error {
	defer func() {
		t.log.Info("Waiting for connections to stop")
		t.connWaiter.Wait()
		t.log.Info("Listener stopped")
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || t.ctx.Err() != nil {
				// The listener was closed while we were waiting for new
				// connections, that's fine.
				return nil
			}

			return err
		}

		if t.ctx.Err() != nil {
			_ = conn.Close()
			return nil
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}

		tcpConn := NewTCPConn(t.ctx, conn, t.store, t.trace, t.log.Named("conn"))
		t.addConn(tcpConn)

		t.connWaiter.Add(1)
		go func() {
			defer t.connWaiter.Done()
			defer t.removeConn(tcpConn)

			tcpConn.Start()
		}()
	}
}

func (t *TCPListener) addConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.activeConns[conn] = struct{}{}
}

func (t *TCPListener) removeConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.activeConns, conn)
}

type TCPConn struct {
	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup

	conn  net.Conn
	store storage.Store

	writeQueue chan []byte

	log   *zap.Logger
	trace bool
}

func NewTCPConn(
	parentCtx context.Context,
	conn net.Conn,
	store storage.Store,
	trace bool,
	log *zap.Logger,
) *TCPConn {
	ctx, cancel := context.WithCancel(parentCtx)

	c := &TCPConn{
		ctx:        ctx,
		cancel:     cancel,
		conn:       conn,
		store:      store,
		writeQueue: make(chan []byte, WriteQueueSize),
		trace:      trace,
		log:        log.With(zap.String("remote", conn.RemoteAddr().String())),
	}

	// Counts the two loops Start runs, Close waits on them
	c.loopWaiter.Add(2)

	return c
}

func (t *TCPConn) Close() error {
	t.cancel()

	// Unblocks the read loop
	err := t.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	t.loopWaiter.Wait()

	return err
}

// Start runs the read and write loops and returns once both have exited.
// It must be called exactly once.
func (t *TCPConn) Start() {
	go func() {
		defer t.loopWaiter.Done()
		t.ReadLoop()
	}()

	go func() {
		defer t.loopWaiter.Done()
		t.WriteLoop()
	}()

	t.loopWaiter.Wait()
	_ = t.conn.Close()
}

// ReadLoop reads requests one at a time and queues their responses. It is
// the only writer to the write queue and closes it when it exits.
func (t *TCPConn) ReadLoop() {
	log := t.log.Named("readLoop")
	r := bufio.NewReader(t.conn)

	defer func() {
		close(t.writeQueue)
		log.Debug("Read loop exited")
	}()

	for {
		req, err := protocol.ReadRequest(r, t.store.MaxValueSize())
		if err != nil {
			if protocol.IsRequestError(err) {
				log.Info("Bad request", zap.Error(err))

				if err := protocol.WriteError(t, err.Error()); err != nil {
					return
				}
				continue
			}

			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && t.ctx.Err() == nil {
				log.Warn("Failed to read client request", zap.Error(err))
			}

			return
		}

		if t.trace {
			log.Debug("Request", zap.String("command", string(req.GetCommand())), zap.String("key", req.GetKey()))
		}

		switch c := req.(type) {
		case *protocol.SetRequest:
			err = t.dispatchSet(c)

		case *protocol.GetRequest:
			err = t.dispatchGet(c)
		}

		if err != nil {
			log.Warn("Failed to respond",
				zap.String("command", string(req.GetCommand())),
				zap.String("key", req.GetKey()),
				zap.Error(err))

			if errors.Is(err, ErrConnClosed) {
				return
			}
		}
	}
}

func (t *TCPConn) WriteLoop() {
	log := t.log.Named("writeLoop")

	defer log.Debug("Write loop exited")

	for {
		select {
		case <-t.ctx.Done():
			return

		// These are responses from client requests handled by the read loop
		case data, ok := <-t.writeQueue:
			if !ok {
				// Our read loop has terminated, we should too
				return
			}

			if t.trace {
				log.Debug("Write", zap.ByteString("data", data))
			}

			if _, err := t.conn.Write(data); err != nil {
				log.Warn("Failed to write from write queue", zap.Error(err))

				// Unblock the read loop, nothing more can be answered
				t.cancel()
				_ = t.conn.Close()
				return
			}
		}
	}
}

// Write queues data for the write loop to write into the connection.
func (t *TCPConn) Write(data []byte) (int, error) {
	select {
	case t.writeQueue <- data:
		return len(data), nil

	case <-t.ctx.Done():
		return 0, ErrConnClosed
	}
}

func (t *TCPConn) dispatchSet(req *protocol.SetRequest) error {
	if err := t.store.Set(t.ctx, req.Key, req.Value); err != nil {
		if errors.Is(err, storage.ErrValueTooLarge) {
			return protocol.WriteError(t, protocol.ErrSizeTooLarge.Error()+" "+strconv.Itoa(t.store.MaxValueSize()))
		}

		return multierr.Append(err, protocol.WriteError(t, "Error: "+err.Error()))
	}

	return protocol.WriteOk(t)
}

func (t *TCPConn) dispatchGet(req *protocol.GetRequest) error {
	value, err := t.store.Get(t.ctx, req.Key)

	if errors.Is(err, storage.ErrNotFound) {
		return protocol.WriteMissing(t)
	}

	if err != nil {
		return multierr.Append(err, protocol.WriteError(t, "Error: "+err.Error()))
	}

	return protocol.WriteValue(t, value)
}
