package autopilot

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftl/sms-telemetry/mavlink"
)

type fakePort struct {
	in *io.PipeReader

	mu  sync.Mutex
	out bytes.Buffer
}

func newFakePort() (*fakePort, *io.PipeWriter) {
	r, w := io.Pipe()
	return &fakePort{in: r}, w
}

func (p *fakePort) Read(buf []byte) (int, error) {
	return p.in.Read(buf)
}

func (p *fakePort) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(buf)
}

func (p *fakePort) Close() error {
	return p.in.Close()
}

func (p *fakePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte{}, p.out.Bytes()...)
}

func newFrame(t *testing.T, id mavlink.MessageID, seq byte) mavlink.Frame {
	t.Helper()
	result, err := mavlink.NewFrameV2(seq, 1, 1, id, []byte{1, 2, 3, seq})
	require.NoError(t, err)
	return result
}

func receive(t *testing.T, frames <-chan mavlink.Frame) mavlink.Frame {
	t.Helper()
	select {
	case frame, ok := <-frames:
		require.True(t, ok, "frame channel closed")
		return frame
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return mavlink.Frame{}
	}
}

func TestConnection_ReadsFrames(t *testing.T) {
	port, autopilot := newFakePort()
	connection := New(port)
	defer connection.Close()
	attitude := newFrame(t, mavlink.Attitude, 1)
	ack := newFrame(t, mavlink.CommandAck, 2)

	go func() {
		autopilot.Write([]byte{0x00, 0x42, 0x13})
		autopilot.Write(attitude.Bytes())
		autopilot.Write([]byte("line noise"))
		autopilot.Write(ack.Bytes())
	}()

	assert.Equal(t, attitude, receive(t, connection.Frames()))
	assert.Equal(t, ack, receive(t, connection.Frames()))
	assert.Equal(t, 2, connection.Received())
}

func TestConnection_DropsWhenQueueFull(t *testing.T) {
	port, autopilot := newFakePort()
	connection := New(port, WithQueueSize(1))
	defer connection.Close()
	var stream []byte
	for i := 0; i < 3; i++ {
		stream = append(stream, newFrame(t, mavlink.Attitude, byte(i)).Bytes()...)
	}

	go autopilot.Write(stream)

	assert.Eventually(t, func() bool {
		return connection.Dropped() == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, byte(0), receive(t, connection.Frames()).Bytes()[4], "the oldest frame is kept")
}

func TestConnection_KeepsCriticalWhenQueueFull(t *testing.T) {
	port, autopilot := newFakePort()
	connection := New(port, WithQueueSize(1))
	defer connection.Close()
	attitude := newFrame(t, mavlink.Attitude, 1)
	ack := newFrame(t, mavlink.CommandAck, 2)

	go autopilot.Write(append(attitude.Bytes(), ack.Bytes()...))

	assert.Eventually(t, func() bool {
		return connection.Received() == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, attitude, receive(t, connection.Frames()))
	assert.Equal(t, ack, receive(t, connection.Frames()))
	assert.Equal(t, 0, connection.Dropped())
}

func TestConnection_Write(t *testing.T) {
	port, _ := newFakePort()
	connection := New(port)
	defer connection.Close()
	command := newFrame(t, mavlink.CommandLong, 9)

	require.NoError(t, connection.Write(command))

	assert.Equal(t, command.Bytes(), port.Written())
}

func TestConnection_Close(t *testing.T) {
	port, _ := newFakePort()
	connection := New(port)

	require.NoError(t, connection.Close())

	select {
	case _, ok := <-connection.Frames():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("frame channel not closed")
	}
	assert.NoError(t, connection.Err())
	assert.Equal(t, ErrClosed, connection.Write(newFrame(t, mavlink.Heartbeat, 1)))
	assert.NoError(t, connection.Close())
}

func TestConnection_AutopilotGone(t *testing.T) {
	port, autopilot := newFakePort()
	connection := New(port)
	defer connection.Close()

	autopilot.Close()

	select {
	case _, ok := <-connection.Frames():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("frame channel not closed")
	}
	assert.Equal(t, io.EOF, connection.Err())
}
