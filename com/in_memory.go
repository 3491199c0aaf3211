package com

import (
	"io"
	"sync"
	"time"
)

// Responder produces the modem's reaction to the bytes written by a single Write call.
type Responder func(written []byte) []byte

// NewInMemory returns a device that lives entirely in memory. It is used to test everything that talks to a modem.
func NewInMemory() *InMemory {
	return &InMemory{
		readBuffer:  []byte{},
		writeBuffer: []byte{},
		writeSignal: make(chan bool),
		closed:      make(chan struct{}),
	}
}

type InMemory struct {
	mu             sync.Mutex
	readBuffer     []byte
	writeBuffer    []byte
	writeSignal    chan bool
	closed         chan struct{}
	closeWhenEmpty bool
	responder      Responder
}

// RespondWith installs a responder that simulates the modem: whatever it returns becomes readable right after
// the corresponding Write.
func (rw *InMemory) RespondWith(responder Responder) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.responder = responder
}

func (rw *InMemory) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.closeLocked()
	return nil
}

func (rw *InMemory) closeLocked() {
	select {
	case <-rw.closed:
	default:
		close(rw.closed)
	}
}

func (rw *InMemory) WaitUntilClosed() {
	<-rw.closed
}

func (rw *InMemory) Read(p []byte) (int, error) {
	for !rw.readable() {
		select {
		case <-rw.closed:
			return 0, io.EOF
		case <-time.After(10 * time.Millisecond):
		}
	}

	rw.mu.Lock()
	defer rw.mu.Unlock()
	select {
	case <-rw.closed:
		return 0, io.EOF
	default:
	}

	n := copy(p, rw.readBuffer)
	rw.readBuffer = rw.readBuffer[n:]
	if rw.closeWhenEmpty && len(rw.readBuffer) == 0 {
		rw.closeLocked()
	}
	return n, nil
}

func (rw *InMemory) readable() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return len(rw.readBuffer) > 0
}

// PrepareRead makes the given bytes readable.
func (rw *InMemory) PrepareRead(p []byte) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	rw.readBuffer = append(rw.readBuffer, p...)
}

func (rw *InMemory) ClearRead() {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	rw.readBuffer = []byte{}
	if rw.closeWhenEmpty {
		rw.closeLocked()
	}
}

func (rw *InMemory) IsReadEmpty() bool {
	return !rw.readable()
}

// CloseWhenEmpty closes the device as soon as everything prepared for reading was read.
func (rw *InMemory) CloseWhenEmpty(value bool) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	rw.closeWhenEmpty = value
}

func (rw *InMemory) Write(p []byte) (int, error) {
	rw.mu.Lock()
	rw.writeBuffer = append(rw.writeBuffer, p...)
	if rw.responder != nil {
		rw.readBuffer = append(rw.readBuffer, rw.responder(p)...)
	}
	rw.mu.Unlock()

	select {
	case rw.writeSignal <- true:
	default:
	}
	return len(p), nil
}

// Written returns everything that was written to the device so far.
func (rw *InMemory) Written() []byte {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	result := make([]byte, len(rw.writeBuffer))
	copy(result, rw.writeBuffer)
	return result
}

func (rw *InMemory) ClearWrite() {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	rw.writeBuffer = []byte{}
}

func (rw *InMemory) WaitUntilWritten() {
	<-rw.writeSignal
}
