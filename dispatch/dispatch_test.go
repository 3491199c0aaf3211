package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftl/sms-telemetry/codec"
	"github.com/ftl/sms-telemetry/gateway"
	"github.com/ftl/sms-telemetry/mavlink"
)

type fakeReceiver struct {
	mu      sync.Mutex
	batches [][]string
	reads   int
	deletes int
	err     error
}

func (r *fakeReceiver) ReceiveAll(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.err != nil {
		return nil, r.err
	}
	if len(r.batches) == 0 {
		return []string{}, nil
	}
	result := r.batches[0]
	r.batches = r.batches[1:]
	return result, nil
}

func (r *fakeReceiver) DeleteRead(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes++
	return nil
}

func (r *fakeReceiver) Reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

type collector struct {
	mu     sync.Mutex
	frames []mavlink.Frame
}

func (c *collector) Handle(frame mavlink.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
}

func (c *collector) Types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := []string{}
	for _, frame := range c.frames {
		result = append(result, frame.Type())
	}
	return result
}

func newFrame(t *testing.T, id mavlink.MessageID, seq byte) mavlink.Frame {
	t.Helper()
	result, err := mavlink.NewFrameV2(seq, 1, 1, id, []byte{seq, seq, seq, seq})
	require.NoError(t, err)
	return result
}

func encode(t *testing.T, frames ...mavlink.Frame) string {
	t.Helper()
	result, err := codec.Encode(frames)
	require.NoError(t, err)
	return result
}

func TestDispatcher_PollForwardsInOrder(t *testing.T) {
	receiver := &fakeReceiver{batches: [][]string{{
		encode(t, newFrame(t, mavlink.Heartbeat, 1), newFrame(t, mavlink.Attitude, 2)),
		encode(t, newFrame(t, mavlink.CommandAck, 3)),
	}}}
	frames := &collector{}
	dispatcher := New(receiver, gateway.NewLock(), frames.Handle)

	n, err := dispatcher.Poll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"HEARTBEAT", "ATTITUDE", "COMMAND_ACK"}, frames.Types())
}

func TestDispatcher_DecodeFailureIsIsolated(t *testing.T) {
	receiver := &fakeReceiver{batches: [][]string{{
		encode(t, newFrame(t, mavlink.Attitude, 1)),
		"this is no payload",
		encode(t, newFrame(t, mavlink.VFRHUD, 2)),
	}}}
	frames := &collector{}
	dispatcher := New(receiver, gateway.NewLock(), frames.Handle)

	n, err := dispatcher.Poll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"ATTITUDE", "VFR_HUD"}, frames.Types())
	assert.Equal(t, 1, dispatcher.Stats().DecodeErrors)
	assert.Equal(t, 2, dispatcher.Stats().Payloads)
}

func TestDispatcher_MaxPayloadsKeepsBacklog(t *testing.T) {
	receiver := &fakeReceiver{batches: [][]string{{
		encode(t, newFrame(t, mavlink.CommandLong, 1)),
		encode(t, newFrame(t, mavlink.SetMode, 2)),
	}}}
	frames := &collector{}
	dispatcher := New(receiver, gateway.NewLock(), frames.Handle, WithMaxPayloads(1))

	_, err := dispatcher.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"COMMAND_LONG"}, frames.Types())
	assert.Equal(t, 1, dispatcher.Backlog())

	_, err = dispatcher.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"COMMAND_LONG", "SET_MODE"}, frames.Types())
	assert.Equal(t, 1, receiver.Reads(), "the backlog is applied before the device is read again")

	_, err = dispatcher.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, receiver.Reads())
}

func TestDispatcher_NonBlockingSkipsWhenBusy(t *testing.T) {
	receiver := &fakeReceiver{}
	lock := gateway.NewLock()
	require.True(t, lock.TryAcquire())
	dispatcher := New(receiver, lock, func(mavlink.Frame) {}, WithNonBlocking())

	n, err := dispatcher.Poll(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, receiver.Reads())
	assert.Equal(t, 1, dispatcher.Stats().Busy)
}

func TestDispatcher_TransportFailure(t *testing.T) {
	receiver := &fakeReceiver{err: gateway.ErrTransport}
	lock := gateway.NewLock()
	dispatcher := New(receiver, lock, func(mavlink.Frame) {})

	_, err := dispatcher.Poll(context.Background())

	assert.True(t, errors.Is(err, gateway.ErrTransport))
	assert.True(t, lock.TryAcquire(), "lock released after failure")
}

func TestDispatcher_DeleteRead(t *testing.T) {
	receiver := &fakeReceiver{batches: [][]string{{encode(t, newFrame(t, mavlink.Attitude, 1))}}}
	dispatcher := New(receiver, gateway.NewLock(), func(mavlink.Frame) {}, WithDeleteRead())

	_, err := dispatcher.Poll(context.Background())
	require.NoError(t, err)
	_, err = dispatcher.Poll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, receiver.deletes, "nothing to delete after an empty read")
}

func TestDispatcher_RunPollsOnWake(t *testing.T) {
	receiver := &fakeReceiver{batches: [][]string{{encode(t, newFrame(t, mavlink.Attitude, 1))}}}
	frames := &collector{}
	dispatcher := New(receiver, gateway.NewLock(), frames.Handle)
	ctx, cancel := context.WithCancel(context.Background())
	wake := make(chan struct{}, 1)
	done := make(chan error)
	go func() {
		done <- dispatcher.Run(ctx, time.Hour, wake)
	}()

	wake <- struct{}{}
	assert.Eventually(t, func() bool {
		return len(frames.Types()) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.Equal(t, context.Canceled, <-done)
}

func TestHeartbeatCache(t *testing.T) {
	cache := &HeartbeatCache{}
	_, ok := cache.Last()
	assert.False(t, ok)
	assert.Equal(t, time.Duration(0), cache.Age())

	heartbeat := newFrame(t, mavlink.Heartbeat, 1)
	cache.Observe(newFrame(t, mavlink.Attitude, 2))
	cache.Observe(heartbeat)
	cache.Observe(newFrame(t, mavlink.VFRHUD, 3))

	last, ok := cache.Last()
	assert.True(t, ok)
	assert.Equal(t, heartbeat, last)
}
