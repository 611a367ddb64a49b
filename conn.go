// Package p2pchat provides the connection core of a peer-to-peer chat:
// a tagged wire protocol, a per-connection receive loop that decodes frames
// in order, a single writer that serializes outbound frames, and a manager
// that owns the one live connection of a chat service.
package p2pchat

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Errors returned by connection operations.
var (
	// ErrInvalidOnFrame is returned when no frame handler is provided.
	ErrInvalidOnFrame = errors.New("invalid on frame callback")
	// ErrMessageTooLarge is returned when a frame exceeds the maximum allowed size.
	ErrMessageTooLarge = errors.New("message too large")
)

// ErrConnectionClosed is returned when operating on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// Role tells which side of the transport a connection was created on.
type Role int

const (
	// RoleAcceptor listens and accepts one incoming connection.
	RoleAcceptor Role = iota
	// RoleInitiator dials out.
	RoleInitiator
)

func (r Role) String() string {
	switch r {
	case RoleAcceptor:
		return "acceptor"
	case RoleInitiator:
		return "initiator"
	default:
		return "unknown"
	}
}

// limitedReader wraps a reader and returns ErrMessageTooLarge when the limit is exceeded.
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func newLimitedReader(r io.Reader, limit int64) *limitedReader {
	return &limitedReader{r: r, remaining: limit}
}

func (l *limitedReader) Read(p []byte) (n int, err error) {
	if l.remaining <= 0 {
		return 0, ErrMessageTooLarge
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err = l.r.Read(p)
	l.remaining -= int64(n)
	return
}

// reset resets the limit counter for reuse with a new frame.
// Only remaining is reset because the underlying bufio.Reader keeps its
// own buffer and continues reading from where it left off.
func (l *limitedReader) reset(limit int64) {
	l.remaining = limit
}

// outbound is an encoded frame waiting for the writer goroutine.
type outbound struct {
	typ  FrameType
	data []byte
}

// Conn is one duplex stream to exactly one peer.
// Reads happen on a single receive goroutine and writes on a single writer
// goroutine, so frames are delivered in wire order and outbound frames
// never interleave.
type Conn struct {
	rawConn       net.Conn
	role          Role
	reader        *bufio.Reader
	limitedReader *limitedReader
	logger        Logger

	opts options

	sendMsg chan outbound
	closed  atomic.Bool
	done    chan struct{}
	once    sync.Once

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Default configuration values.
const (
	// defaultBufferSize is the default size of the outbound frame queue.
	defaultBufferSize = 16
	// defaultMaxFrameLength is the default maximum size of a single frame (32MB).
	defaultMaxFrameLength = 32 * 1024 * 1024
	// defaultWriteTimeout bounds a single frame write.
	defaultWriteTimeout = 30 * time.Second
	// frameOverhead covers the tag, up to three strings and fixed-width fields.
	frameOverhead = 4*(2+maxStringLength) + 12
)

// NewConn creates a new connection wrapper around the given stream.
// It applies the provided options and validates them before returning.
// Returns an error if the required frame handler is missing.
func NewConn(conn net.Conn, role Role, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	err := checkOptions(&opts)
	if err != nil {
		return nil, err
	}

	return newConnWithOptions(conn, role, opts), nil
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	applyDefaults(opts)

	if opts.onFrame == nil {
		return ErrInvalidOnFrame
	}

	return nil
}

// applyDefaults fills every option that has a sensible default.
func applyDefaults(opts *options) {
	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.maxReadLength <= 0 {
		opts.maxReadLength = defaultMaxFrameLength
	}

	if opts.writeTimeout <= 0 {
		opts.writeTimeout = defaultWriteTimeout
	}

	if opts.dialTimeout <= 0 {
		opts.dialTimeout = defaultDialTimeout
	}

	if opts.port <= 0 {
		opts.port = DefaultPort
	}

	if opts.codec == nil {
		opts.codec = NewWireCodec(opts.maxReadLength)
	}

	if opts.onError == nil {
		opts.onError = defaultOnError
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	if opts.router == nil {
		opts.router = defaultRouter()
	}

	if opts.executor == nil {
		opts.executor = InlineExecutor{}
	}
}

// defaultOnError skips frames with an unknown tag and disconnects on
// everything else; no other failure leaves the stream aligned.
func defaultOnError(err error) ErrorAction {
	if errors.Is(err, ErrUnknownFrameType) {
		return Continue
	}
	return Disconnect
}

// newConnWithOptions creates a new Conn with the given options.
func newConnWithOptions(c net.Conn, role Role, opts options) *Conn {
	reader := bufio.NewReader(c)
	return &Conn{
		rawConn:       c,
		role:          role,
		reader:        reader,
		limitedReader: newLimitedReader(reader, int64(opts.maxReadLength+frameOverhead)),
		logger:        opts.logger,
		opts:          opts,
		sendMsg:       make(chan outbound, opts.bufferSize),
		done:          make(chan struct{}),
	}
}

// Run starts the connection's read and write loops.
// It blocks until a loop fails, the context is canceled or Close is called,
// in which case it returns context.Canceled. The connection is closed when
// Run returns. Run on a closed connection returns ErrConnectionClosed.
func (c *Conn) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.logger.Info("connection established", "addr", c.Addr(), "role", c.role)
	c.logger.Debug("connection options", "addr", c.Addr(),
		"buffer_size", c.opts.bufferSize,
		"max_read_length", c.opts.maxReadLength,
		"heartbeat", c.opts.heartbeat,
		"write_timeout", c.opts.writeTimeout)

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})

	group.Go(func() error {
		return c.writeLoop(child)
	})

	// Closing the stream is the only way to unblock a pending read.
	group.Go(func() error {
		<-child.Done()
		c.closeConn()
		return nil
	})

	err := group.Wait()
	c.closeConn()

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrConnectionClosed) {
		c.logger.Info("connection closed with error", "addr", c.Addr(), "error", err)
	} else {
		c.logger.Info("connection closed", "addr", c.Addr())
	}

	return err
}

// Close gracefully closes the connection.
// It cancels the loops and closes the underlying stream.
// Safe to call multiple times; only the first call has an effect.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}

	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	c.once.Do(func() { close(c.done) })
	return c.rawConn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Done returns a channel closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Role returns the side this connection was created on.
func (c *Conn) Role() Role {
	return c.role
}

// ErrBufferFull is returned when the outbound queue is full.
// The peer is not draining frames fast enough; use WriteBlocking or
// WriteTimeout to wait for space.
var ErrBufferFull = errors.New("send buffer full")

// Write queues a frame without blocking (fire-and-forget).
// The frame is encoded on the caller's goroutine.
//
// Returns:
//   - nil: frame was queued (not yet sent)
//   - ErrBufferFull: queue is full, frame was NOT queued
//   - ErrConnectionClosed: connection is closed
//   - encoding error: if codec.Encode fails
func (c *Conn) Write(frame Frame) error {
	out, err := c.encode(frame)
	if err != nil {
		return err
	}
	return c.tryEnqueue(out)
}

// WriteBlocking queues a frame, blocking until there is room, the context
// is canceled or the connection closes.
//
// Returns:
//   - nil: frame was queued
//   - context.Canceled or context.DeadlineExceeded: context was canceled
//   - ErrConnectionClosed: connection is closed
//   - encoding error: if codec.Encode fails
func (c *Conn) WriteBlocking(ctx context.Context, frame Frame) error {
	out, err := c.encode(frame)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, out)
}

// WriteTimeout queues a frame, waiting at most timeout for room.
// Returns ErrBufferFull when the timeout expires.
func (c *Conn) WriteTimeout(frame Frame, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := c.WriteBlocking(ctx, frame)
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrBufferFull
	}
	return err
}

// tryEnqueue hands out to the writer if there is room right now.
func (c *Conn) tryEnqueue(out outbound) error {
	// A closed connection may still have free queue slots.
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.sendMsg <- out:
		return c.accepted()
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrBufferFull
	}
}

// enqueue hands out to the writer, waiting for room.
func (c *Conn) enqueue(ctx context.Context, out outbound) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.sendMsg <- out:
		return c.accepted()
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// accepted reports whether a frame just queued can still reach the writer.
// A Close racing the send leaves it in a queue nobody drains.
func (c *Conn) accepted() error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return nil
}

func (c *Conn) encode(frame Frame) (outbound, error) {
	if c.closed.Load() {
		return outbound{}, ErrConnectionClosed
	}

	data, err := c.opts.codec.Encode(frame)
	if err != nil {
		return outbound{}, err
	}
	return outbound{typ: frame.Type(), data: data}, nil
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// readLoop continuously decodes frames and hands them to the frame handler.
// Returns when the context is canceled or an unrecoverable error occurs.
// Frames exceeding maxReadLength return ErrMessageTooLarge.
func (c *Conn) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if c.opts.heartbeat > 0 {
				_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.heartbeat * 2))
			}

			// Reset the limit for each frame
			c.limitedReader.reset(int64(c.opts.maxReadLength + frameOverhead))

			frame, err := c.opts.codec.Decode(c.limitedReader)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if c.closed.Load() {
					return ErrConnectionClosed
				}
				c.logger.Debug("read error", "addr", c.Addr(), "error", err)
				if c.opts.onError(err) == Disconnect {
					c.opts.metrics.decodeError(false)
					return err
				}
				c.opts.metrics.decodeError(true)
				c.logger.Warn("frame skipped", "addr", c.Addr(), "error", err)
				continue
			}

			c.opts.metrics.frameReceived(frame.Type())
			if err = c.opts.onFrame(frame); err != nil {
				return err
			}
		}
	}
}

// writeLoop continuously sends queued frames to the connection.
// Returns when the context is canceled or an unrecoverable error occurs.
func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out := <-c.sendMsg:
			if err := c.write(out); err != nil {
				return err
			}
		}
	}
}

// write sends one encoded frame with a deadline.
// If an error occurs and onError returns Disconnect, the error is propagated.
// Otherwise, the error is suppressed and writing continues.
func (c *Conn) write(out outbound) error {
	_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))

	_, err := c.rawConn.Write(out.data)

	if err != nil {
		if c.closed.Load() {
			return ErrConnectionClosed
		}
		c.logger.Debug("write error", "addr", c.Addr(), "type", out.typ, "error", err)
		if c.opts.onError(err) == Disconnect {
			return errors.Wrapf(err, "write %s", out.typ)
		}
		return nil
	}

	c.opts.metrics.frameSent(out.typ)
	return nil
}

// closeConn marks the connection as closed and closes the underlying stream.
func (c *Conn) closeConn() {
	c.closed.Store(true)
	c.once.Do(func() { close(c.done) })
	_ = c.rawConn.Close()
}
