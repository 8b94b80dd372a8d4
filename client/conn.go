package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/luma/kvcheck/protocol"
)

var (
	// ErrTimeout is returned when a read or write did not complete before the
	// configured timeout or the context deadline.
	ErrTimeout    = errors.New("operation timed out")
	ErrInvalidKey = errors.New("key contains whitespace or line terminators")
	ErrClosed     = errors.New("connection is closed")
)

// aLongTimeAgo is used to unblock reads and writes when a context is cancelled.
var aLongTimeAgo = time.Unix(1, 0)

// Conn is a single connection to a server. It carries one request at a time
// and is not safe for concurrent use.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader

	// A length-framed value was read and the CRLF that may follow it has not
	// been consumed yet.
	afterValue bool

	opts Options
	log  *zap.Logger
}

// Dial opens a TCP connection to addr.
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	dialer := net.Dialer{Timeout: opts.DialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("Failed to dial %s: %w", addr, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	return New(conn, opts), nil
}

// New wraps an established connection.
func New(conn net.Conn, opts Options) *Conn {
	opts = opts.withDefaults()

	return &Conn{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, opts.ReadBufferSize),
		opts:   opts,
		log:    opts.Log.With(zap.String("remote", conn.RemoteAddr().String())),
	}
}

func (c *Conn) Close() error {
	if c.conn == nil {
		return ErrClosed
	}

	err := c.conn.Close()
	c.conn = nil
	return err
}

// Set sends a set command and returns the status line the server replied
// with. The status is not checked.
func (c *Conn) Set(ctx context.Context, key string, value []byte) (status string, err error) {
	if c.conn == nil {
		return "", ErrClosed
	}

	if !protocol.ValidKey(key) {
		return "", fmt.Errorf("'%s': %w", key, ErrInvalidKey)
	}

	stop := c.watch(ctx)
	defer stop()

	if err := c.writeSet(ctx, key, value); err != nil {
		return "", c.wrapErr(ctx, "set", err)
	}

	c.setReadDeadline(ctx)

	if err := c.skipValueTerminator(); err != nil {
		return "", c.wrapErr(ctx, "set", err)
	}

	status, err = protocol.ReadSetResponse(c.reader)
	if err != nil {
		return "", c.wrapErr(ctx, "set", err)
	}

	c.log.Debug("set", zap.String("key", key), zap.Int("size", len(value)), zap.String("status", status))

	return status, nil
}

// Get sends a get command and decodes the reply using the configured
// framing. The returned response is non-nil whenever a header was read, even
// if err is not nil, so callers can report what arrived.
func (c *Conn) Get(ctx context.Context, key string) (*protocol.GetResponse, error) {
	if c.conn == nil {
		return nil, ErrClosed
	}

	if !protocol.ValidKey(key) {
		return nil, fmt.Errorf("'%s': %w", key, ErrInvalidKey)
	}

	stop := c.watch(ctx)
	defer stop()

	c.setWriteDeadline(ctx)
	if err := protocol.WriteGet(c.conn, key); err != nil {
		return nil, c.wrapErr(ctx, "get", err)
	}

	c.setReadDeadline(ctx)

	if err := c.skipValueTerminator(); err != nil {
		return nil, c.wrapErr(ctx, "get", err)
	}

	var (
		resp *protocol.GetResponse
		err  error
	)

	switch c.opts.Framing {
	case FramingDrain:
		resp, err = protocol.DrainGetResponse(c.reader, c.drain)
	default:
		resp, err = protocol.ReadGetResponse(c.reader)
		c.afterValue = err == nil && resp.Found
	}

	if err != nil {
		return resp, c.wrapErr(ctx, "get", err)
	}

	c.log.Debug("get",
		zap.String("key", key),
		zap.String("header", resp.Header),
		zap.Bool("found", resp.Found),
		zap.Int("size", len(resp.Value)))

	return resp, nil
}

// skipValueTerminator drops the CRLF a server may send after a value. It
// runs once the next reply is due, so it does not matter whether the CRLF
// arrived with the value or later.
func (c *Conn) skipValueTerminator() error {
	if !c.afterValue {
		return nil
	}

	if err := protocol.SkipValueTerminator(c.reader); err != nil {
		return err
	}

	c.afterValue = false
	return nil
}

func (c *Conn) writeSet(ctx context.Context, key string, value []byte) error {
	c.setWriteDeadline(ctx)

	if !c.opts.SplitWrite {
		return protocol.WriteSet(c.conn, key, value)
	}

	if _, err := c.conn.Write(protocol.EncodeSetHeader(key, len(value))); err != nil {
		return err
	}

	time.Sleep(c.opts.SplitDelay)

	c.setWriteDeadline(ctx)
	_, err := c.conn.Write(value)
	return err
}

// drain reads whatever arrives on the connection until nothing has arrived
// for DrainWindow.
func (c *Conn) drain() ([]byte, error) {
	var (
		out []byte
		buf = make([]byte, c.opts.ReadBufferSize)
	)

	defer func() {
		_ = c.conn.SetReadDeadline(time.Time{})
	}()

	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.DrainWindow)); err != nil {
			return out, err
		}

		n, err := c.conn.Read(buf)
		out = append(out, buf[:n]...)

		if err != nil {
			if isTimeout(err) {
				return out, nil
			}

			return out, err
		}
	}
}

// watch unblocks any pending read or write when ctx is cancelled. The
// returned func must be called once the operation completes.
func (c *Conn) watch(ctx context.Context) func() {
	if ctx.Done() == nil {
		return func() {}
	}

	done := make(chan struct{})
	conn := c.conn

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetDeadline(aLongTimeAgo)
		case <-done:
		}
	}()

	return func() { close(done) }
}

func (c *Conn) setReadDeadline(ctx context.Context) {
	_ = c.conn.SetReadDeadline(c.deadline(ctx, c.opts.ReadTimeout))
}

func (c *Conn) setWriteDeadline(ctx context.Context) {
	_ = c.conn.SetWriteDeadline(c.deadline(ctx, c.opts.WriteTimeout))
}

// deadline returns the earlier of now+timeout and the context deadline. A
// zero time means no deadline.
func (c *Conn) deadline(ctx context.Context, timeout time.Duration) time.Time {
	var deadline time.Time

	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	if ctxDeadline, ok := ctx.Deadline(); ok {
		if deadline.IsZero() || ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
	}

	return deadline
}

func (c *Conn) wrapErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w (%v)", op, ErrTimeout, ctxErr)
		}

		return fmt.Errorf("%s: %w", op, ctxErr)
	}

	if isTimeout(err) {
		return fmt.Errorf("%s: %w (%v)", op, ErrTimeout, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
