package com

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const (
	readBufferSize        = 1024
	atSendingQueueTimeout = 500 * time.Millisecond

	// CtrlZ terminates the message body of AT+CMGS in text mode.
	CtrlZ = "\x1a"
	// Esc aborts the message body of AT+CMGS in text mode.
	Esc = "\x1b"

	prompt = ">"
)

// NewWithTrace creates a new COM instance that traces all communications to a second writer.
func NewWithTrace(device io.ReadWriter, tracer io.Writer) *COM {
	result := New(device)
	result.tracer = tracer
	return result
}

// New creates a new COM instance using the given io.ReadWriter to talk to the modem.
func New(device io.ReadWriter) *COM {
	lines := readLoop(device)
	commands := make(chan command)
	result := &COM{
		commands:    commands,
		closed:      make(chan struct{}),
		indications: make(map[string]indicationConfig),
	}

	go func() {
		result.trace("****\n* SESSION START\n****\n")
		defer result.trace("****\n* SESSION END\n****\n")
		defer close(result.closed)

		var commandCancelled <-chan struct{}
		var activeCommand *command
		var activeIndication *indication
		tick := time.NewTicker(100 * time.Millisecond)
		defer tick.Stop()

		for {
			select {
			case line, valid := <-lines:
				if !valid {
					return
				}
				result.tracef("rx:  %s\nhex: %X\n--\n", line, line)

				switch {
				case activeIndication != nil:
					activeIndication.AddLine(line)
					if activeIndication.Complete() {
						activeIndication = nil
					}
				case activeCommand != nil && activeCommand.AwaitsPrompt() && strings.HasPrefix(line, prompt):
					body := activeCommand.TakeBody()
					result.tracef("tx:  %s\nhex: %X\n--\n", body, body)
					device.Write(body)
				case activeCommand != nil:
					activeIndication = result.newIndication(line)
					if activeIndication != nil {
						break
					}
					activeCommand.AddLine(line)
					if activeCommand.Complete() {
						commandCancelled = nil
						activeCommand = nil
					}
				default:
					activeIndication = result.newIndication(line)
				}
			case <-commandCancelled:
				if activeCommand.AwaitsPrompt() {
					// leave the message input mode of the modem
					device.Write([]byte(Esc))
				}
				commandCancelled = nil
				activeCommand = nil
			case <-tick.C:
			}
			if activeCommand == nil {
				select {
				case cmd := <-commands:
					if len(cmd.request) == 0 {
						break
					}
					txbytes := cmd.RequestBytes()
					result.tracef("tx:  %s\nhex: %X\n--\n", txbytes, txbytes)
					device.Write(txbytes)
					commandCancelled = cmd.cancelled
					activeCommand = &cmd
				default:
				}
			}
		}
	}()

	return result
}

// COM allows to communicate with a GSM modem using AT commands. All commands are executed strictly one after
// the other by a single goroutine that owns the device.
type COM struct {
	commands chan<- command
	closed   chan struct{}
	tracer   io.Writer

	indicationsLock sync.RWMutex
	indications     map[string]indicationConfig
}

func readLoop(r io.Reader) <-chan string {
	lines := make(chan string, 1)
	go func() {
		defer close(lines)
		buf := make([]byte, readBufferSize)
		currentLine := make([]byte, 0, readBufferSize)
		for {
			n, err := r.Read(buf)
			if err != nil {
				if len(currentLine) > 0 {
					lines <- string(currentLine)
				}
				return
			}

			for _, b := range buf[0:n] {
				switch {
				case b == '\n':
					if len(currentLine) == 0 {
						continue
					}
					lines <- string(currentLine)
					currentLine = currentLine[:0]
				case b < ' ':
					continue
				default:
					currentLine = append(currentLine, b)
				}
			}

			// the message input prompt is not terminated by a line break
			if strings.TrimSpace(string(currentLine)) == prompt {
				lines <- string(currentLine)
				currentLine = currentLine[:0]
			}
		}
	}()
	return lines
}

// Closed reports if the connection to the device is closed.
func (c *COM) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Done is closed when the connection to the device is closed.
func (c *COM) Done() <-chan struct{} {
	return c.closed
}

// AddIndication registers a handler for unsolicited result codes that start with the given prefix. The handler
// receives the indication line followed by the given number of trailing lines.
func (c *COM) AddIndication(prefix string, trailingLines int, handler func(lines []string)) error {
	config := indicationConfig{
		prefix:        strings.ToUpper(prefix),
		trailingLines: trailingLines,
		handler:       handler,
	}
	c.indicationsLock.Lock()
	defer c.indicationsLock.Unlock()
	c.indications[config.prefix] = config
	return nil
}

func (c *COM) newIndication(line string) *indication {
	c.indicationsLock.RLock()
	defer c.indicationsLock.RUnlock()
	for _, config := range c.indications {
		result := config.NewIfMatches(line)
		if result != nil {
			return result
		}
	}
	return nil
}

// Probe sends AT until the modem answers with OK, which also swallows any garbage the modem emits on startup.
func (c *COM) Probe(ctx context.Context, attempts int) error {
	var err error
	for i := 0; i < attempts; i++ {
		_, err = c.AT(ctx, "AT")
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return fmt.Errorf("modem does not respond: %w", err)
}

// AT sends the given request to the modem and waits for the final result code. It returns the intermediate
// response lines. A request that contains a carriage return is a two-stage command: the part after the carriage
// return is sent as message body once the modem prompts for it.
func (c *COM) AT(ctx context.Context, request string) ([]string, error) {
	cmd := newCommand(ctx, request)

	select {
	case c.commands <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, io.ErrClosedPipe
	case <-time.After(atSendingQueueTimeout):
		return nil, fmt.Errorf("AT sending queue timeout")
	}

	select {
	case response := <-cmd.response:
		return response, nil
	case err := <-cmd.err:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, io.ErrClosedPipe
	}
}

// Request is AT under a more general name, so COM can be used as requester.
func (c *COM) Request(ctx context.Context, request string) ([]string, error) {
	return c.AT(ctx, request)
}

// ATs sends the given requests one after the other and stops at the first failing request.
func (c *COM) ATs(ctx context.Context, requests ...string) error {
	for _, request := range requests {
		_, err := c.AT(ctx, request)
		if err != nil {
			return fmt.Errorf("%s failed: %w", request, err)
		}
	}
	return nil
}

func (c *COM) trace(args ...interface{}) {
	if c.tracer == nil {
		return
	}
	fmt.Fprint(c.tracer, args...)
}

func (c *COM) tracef(format string, args ...interface{}) {
	if c.tracer == nil {
		return
	}
	fmt.Fprintf(c.tracer, format, args...)
}

type indicationConfig struct {
	prefix        string
	trailingLines int
	handler       func(lines []string)
}

func (c *indicationConfig) NewIfMatches(line string) *indication {
	if !strings.HasPrefix(strings.ToUpper(line), c.prefix) {
		return nil
	}
	result := &indication{
		config: *c,
		lines:  []string{line},
	}
	if result.Complete() {
		go c.handler([]string{line})
		return nil
	}

	return result
}

type indication struct {
	config indicationConfig
	lines  []string
}

func (ind *indication) AddLine(line string) {
	if ind.Complete() {
		return
	}

	ind.lines = append(ind.lines, line)
	if ind.Complete() {
		go ind.config.handler(ind.lines)
	}
}

func (ind *indication) Complete() bool {
	return len(ind.lines) >= ind.config.trailingLines+1
}

type command struct {
	lines     []string
	request   string
	body      string
	response  chan []string
	err       chan error
	cancelled <-chan struct{}
	completed chan struct{}
}

func newCommand(ctx context.Context, request string) command {
	result := command{
		request:   request,
		response:  make(chan []string, 1),
		err:       make(chan error, 1),
		cancelled: ctx.Done(),
		completed: make(chan struct{}),
	}
	if i := strings.IndexByte(request, '\r'); i >= 0 {
		result.request = request[:i]
		result.body = strings.TrimLeft(request[i+1:], "\n")
	}
	return result
}

// RequestBytes returns the bytes that start the command on the wire.
func (c *command) RequestBytes() []byte {
	txbytes := make([]byte, 0, len(c.request)+2)
	txbytes = append(txbytes, []byte(c.request)...)
	if c.body != "" {
		return append(txbytes, '\r')
	}
	return append(txbytes, '\r', '\n')
}

// AwaitsPrompt reports if the command still needs to send its message body.
func (c *command) AwaitsPrompt() bool {
	return c != nil && c.body != ""
}

// TakeBody returns the message body including the terminating Ctrl-Z, the command does not await the prompt anymore.
func (c *command) TakeBody() []byte {
	body := c.body
	c.body = ""
	if !strings.HasSuffix(body, CtrlZ) {
		body += CtrlZ
	}
	return []byte(body)
}

func (c *command) AddLine(line string) {
	select {
	case <-c.cancelled:
		return
	case <-c.completed:
		return
	default:
	}

	saniLine := strings.TrimSpace(strings.ToUpper(line))
	switch {
	case saniLine == "OK":
		c.response <- c.lines
		close(c.completed)
	case strings.HasPrefix(saniLine, "ERROR"):
		c.err <- fmt.Errorf("%s", line)
		close(c.completed)
	case strings.HasPrefix(saniLine, "+CME ERROR:"):
		c.err <- fmt.Errorf("%s", line)
		close(c.completed)
	case strings.HasPrefix(saniLine, "+CMS ERROR"):
		c.err <- fmt.Errorf("%s", line)
		close(c.completed)
	default:
		c.lines = append(c.lines, line)
	}
}

func (c *command) Complete() bool {
	select {
	case <-c.cancelled:
		return true
	case <-c.completed:
		return true
	default:
		return false
	}
}
