// Package gcs exchanges frames with ground control software running on the same machine over UDP.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ftl/sms-telemetry/mavlink"
)

const (
	DefaultLocalPort = 14555
	DefaultGCSPort   = 14550

	maxDatagramSize = 2048
)

var ErrClosed = errors.New("gcs link closed")

// Link is a UDP socket bound to the loopback interface. Frames are sent to the port of the ground control software,
// one frame per datagram.
type Link struct {
	conn   *net.UDPConn
	remote *net.UDPAddr

	closeOnce sync.Once
	closed    chan struct{}
}

// Open binds the local port and targets the given port of the ground control software. Port 0 binds any free port.
func Open(localPort int, gcsPort int) (*Link, error) {
	local := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: localPort}
	remote := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: gcsPort}
	conn, err := net.ListenUDP("udp4", local)
	if err != nil {
		return nil, fmt.Errorf("cannot bind %s: %w", local, err)
	}

	result := &Link{
		conn:   conn,
		remote: remote,
		closed: make(chan struct{}),
	}
	logger().Info().Stringer("local", conn.LocalAddr()).Stringer("gcs", remote).Msg("gcs link open")
	return result, nil
}

func logger() *zerolog.Logger {
	l := log.With().Str("component", "gcs").Logger()
	return &l
}

// LocalAddr returns the address the link is bound to.
func (l *Link) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// Send writes the raw frame buffer as one datagram.
func (l *Link) Send(frame mavlink.Frame) error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}

	_, err := l.conn.WriteToUDP(frame.Bytes(), l.remote)
	if err != nil {
		return fmt.Errorf("cannot send %s to the gcs: %w", frame.Type(), err)
	}
	return nil
}

// Receive waits for the next datagram that contains at least one valid frame and returns its frames.
// Datagrams without a valid frame are skipped.
func (l *Link) Receive(ctx context.Context) ([]mavlink.Frame, error) {
	select {
	case <-l.closed:
		return nil, ErrClosed
	default:
	}
	if err := l.conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		l.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, maxDatagramSize)
	for {
		n, sender, err := l.conn.ReadFromUDP(buf)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		select {
		case <-l.closed:
			return nil, ErrClosed
		default:
		}
		if err != nil {
			return nil, fmt.Errorf("cannot receive from the gcs: %w", err)
		}

		frames := mavlink.Parse(buf[:n])
		if len(frames) == 0 {
			logger().Debug().Stringer("sender", sender).Int("length", n).Msg("datagram without valid frame ignored")
			continue
		}
		return frames, nil
	}
}

// Close releases the socket. Pending Receive calls return ErrClosed.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.conn.Close()
	})
	return err
}
