// Package autopilot connects to the flight controller of the vehicle through a serial port.
package autopilot

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"

	"github.com/ftl/sms-telemetry/mavlink"
)

const (
	DefaultBaudRate  = 115200
	DefaultQueueSize = 64
)

var ErrClosed = errors.New("autopilot connection closed")

type Option func(*Connection)

// WithQueueSize sets the capacity of the frame queue. Frames that arrive while the queue is full are dropped,
// critical frames wait for room instead.
func WithQueueSize(size int) Option {
	return func(c *Connection) {
		c.queueSize = size
	}
}

// Connection reads frames from the autopilot in its own goroutine and writes frames to the autopilot.
type Connection struct {
	port      io.ReadWriteCloser
	queueSize int
	frames    chan mavlink.Frame

	writeLock sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	err       error

	received atomic.Int64
	dropped  atomic.Int64
}

// Open opens the serial port of the autopilot with 8N1 framing.
func Open(path string, baud int, opts ...Option) (*Connection, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("cannot open autopilot port %s: %w", path, err)
	}
	logger().Info().Str("port", path).Int("baud", baud).Msg("autopilot connected")
	return New(port, opts...), nil
}

// New starts reading frames from the given port.
func New(port io.ReadWriteCloser, opts ...Option) *Connection {
	result := &Connection{
		port:      port,
		queueSize: DefaultQueueSize,
		closed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(result)
	}
	result.frames = make(chan mavlink.Frame, result.queueSize)

	go result.readLoop()

	return result
}

func logger() *zerolog.Logger {
	l := log.With().Str("component", "autopilot").Logger()
	return &l
}

func (c *Connection) readLoop() {
	defer close(c.frames)
	reader := mavlink.NewReader(c.port)
	for {
		frame, err := reader.Read()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.err = err
				logger().Error().Err(err).Msg("cannot read from autopilot")
			}
			return
		}
		c.received.Add(1)

		if frame.Critical() {
			select {
			case c.frames <- frame:
			case <-c.closed:
				return
			}
			continue
		}
		select {
		case c.frames <- frame:
		default:
			c.dropped.Add(1)
			logger().Debug().Str("type", frame.Type()).Msg("frame queue full, frame dropped")
		}
	}
}

// Frames returns the queue of frames read from the autopilot. The channel is closed when reading stops.
func (c *Connection) Frames() <-chan mavlink.Frame {
	return c.frames
}

// Err returns the error that stopped reading. It is valid after the Frames channel was closed
// and nil if the connection was closed deliberately.
func (c *Connection) Err() error {
	return c.err
}

// Write sends the raw frame buffer to the autopilot.
func (c *Connection) Write(frame mavlink.Frame) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	_, err := c.port.Write(frame.Bytes())
	if err != nil {
		return fmt.Errorf("cannot write %s to autopilot: %w", frame.Type(), err)
	}
	return nil
}

// Received returns the number of valid frames read from the autopilot.
func (c *Connection) Received() int {
	return int(c.received.Load())
}

// Dropped returns the number of frames dropped because the queue was full.
func (c *Connection) Dropped() int {
	return int(c.dropped.Load())
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.port.Close()
	})
	return err
}
