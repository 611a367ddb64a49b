package p2pchat

import (
	"time"

	"github.com/Zereker/p2pchat/routing"
)

// ErrorAction defines the action to take when an error occurs.
type ErrorAction int

const (
	// Disconnect closes the connection when an error occurs.
	Disconnect ErrorAction = iota
	// Continue suppresses the error and continues processing.
	Continue
)

// options holds the configuration for a connection and its manager.
type options struct {
	codec    Codec
	logger   Logger
	router   routing.Router
	executor Executor
	metrics  *Metrics

	onFrame func(frame Frame) error
	// onError is called when a read or write error occurs.
	// Returns Disconnect to close the connection, Continue to suppress the error.
	onError func(error) ErrorAction

	bufferSize    int           // size of the outbound frame queue
	maxReadLength int           // maximum size of a single frame
	heartbeat     time.Duration // read deadline is heartbeat * 2, zero disables it
	writeTimeout  time.Duration // deadline for a single frame write
	dialTimeout   time.Duration
	listenAddr    string
	port          int
}

// Option is a function that configures connection options.
type Option func(*options)

// CustomCodecOption returns an Option that sets the frame codec.
// The default is a WireCodec bounded by MessageMaxSize.
func CustomCodecOption(codec Codec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// BufferSizeOption returns an Option that sets the size of the outbound queue.
// A larger buffer allows more frames to be queued before Write reports ErrBufferFull.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// HeartbeatOption returns an Option that sets the heartbeat interval.
// A peer silent for twice the interval is disconnected. Chat peers are
// often idle, so the deadline is disabled unless this option is given.
func HeartbeatOption(heartbeat time.Duration) Option {
	return func(o *options) {
		o.heartbeat = heartbeat
	}
}

// WriteTimeoutOption returns an Option that bounds each frame write.
func WriteTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = timeout
	}
}

// MessageMaxSize returns an Option that sets the maximum size of one frame.
// Larger image or voice frames are a fatal protocol error.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxReadLength = size
	}
}

// OnErrorOption returns an Option that sets the error callback.
// The callback is invoked when a read/write error occurs.
// Return Disconnect to close the connection, or Continue to suppress the error.
// Continue is only safe for errors after which the stream is still aligned,
// such as ErrUnknownFrameType.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// OnFrameOption returns an Option that sets the frame handler callback.
// It is required for NewConn and is invoked for each received frame, in
// wire order, on the receive goroutine.
func OnFrameOption(cb func(Frame) error) Option {
	return func(o *options) {
		o.onFrame = cb
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// RouterOption returns an Option that sets the routing envelope used for
// text payloads and hello bodies. The default is routing.Passthrough.
func RouterOption(router routing.Router) Option {
	return func(o *options) {
		o.router = router
	}
}

// ExecutorOption returns an Option that sets where Listener callbacks run.
// The default runs them inline on the receive goroutine.
func ExecutorOption(executor Executor) Option {
	return func(o *options) {
		o.executor = executor
	}
}

// MetricsOption returns an Option that records frame and connection metrics.
func MetricsOption(metrics *Metrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// ListenAddrOption returns an Option that sets the address StartServer binds.
// An address without a port gets the service port.
func ListenAddrOption(addr string) Option {
	return func(o *options) {
		o.listenAddr = addr
	}
}

// PortOption returns an Option that sets the well-known service port used
// for listening and for dialing addresses given without a port.
func PortOption(port int) Option {
	return func(o *options) {
		o.port = port
	}
}

// DialTimeoutOption returns an Option that bounds ConnectToServer.
func DialTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = timeout
	}
}
