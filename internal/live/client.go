package live

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pianocoach/pianocoach/internal/observability"
	"github.com/pianocoach/pianocoach/internal/protocol"
	"github.com/pianocoach/pianocoach/internal/reliability"
)

// State is the observable connection state. It is written only by the
// client; every other component reads it and never writes it.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

var (
	ErrHandshakeTimeout   = errors.New("handshake timed out")
	ErrConnectionRejected = errors.New("connection rejected by backend")
	ErrNotConnected       = errors.New("not connected")
	ErrAlreadyConnected   = errors.New("already connected")
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeDeadline           = 10 * time.Second
	outboundQueueSize       = 256
	eventQueueSize          = 256
)

// Config describes the upstream Live endpoint and handshake contents.
type Config struct {
	URL               string
	APIKey            string
	Model             string
	SystemInstruction string
	HandshakeTimeout  time.Duration
}

// Client owns the lifecycle of the duplex channel to the Live backend.
// Many producers send through it, but all writes are serialized through a
// single writer goroutine so media and prompt messages never interleave on
// the wire.
type Client struct {
	cfg     Config
	metrics *observability.Metrics

	mu           sync.Mutex
	state        State
	statusText   string
	conn         *websocket.Conn
	outbound     chan any
	events       chan Event
	done         chan struct{}
	doneOnce     *sync.Once
	setupAck     chan struct{}
	setupRej     chan string
	ackReceived  bool
	localClose   bool
	onState      func(State)
}

func NewClient(cfg Config, metrics *observability.Metrics) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &Client{
		cfg:     cfg,
		metrics: metrics,
		state:   StateDisconnected,
	}
}

// OnStateChange registers a single state-change observer. Must be called
// before Connect.
func (c *Client) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// State returns the current connection state snapshot.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StatusText returns a human-readable description of the most recent fault,
// empty while healthy.
func (c *Client) StatusText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusText
}

// Events returns the inbound event stream for the current connection. The
// channel is closed when the connection ends.
func (c *Client) Events() <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// Connect opens the channel, sends the one-time setup message, and returns
// only after the backend acknowledges setup completion. It fails with
// ErrHandshakeTimeout when the acknowledgement does not arrive in time and
// with ErrConnectionRejected when the backend answers the handshake with a
// structured error.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.setStateLocked(StateConnecting, "")
	c.mu.Unlock()

	endpoint, err := c.endpoint()
	if err != nil {
		c.failConnect("invalid endpoint: " + err.Error())
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, http.Header{})
	if err != nil {
		c.failConnect("dial failed: " + err.Error())
		return fmt.Errorf("dial live websocket: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.outbound = make(chan any, outboundQueueSize)
	c.events = make(chan Event, eventQueueSize)
	c.done = make(chan struct{})
	c.doneOnce = &sync.Once{}
	c.setupAck = make(chan struct{}, 1)
	c.setupRej = make(chan string, 1)
	c.ackReceived = false
	c.localClose = false
	c.mu.Unlock()

	go c.writeLoop(conn)
	go c.readLoop(conn)

	c.enqueue(protocol.NewSetupMessage(c.cfg.Model, c.cfg.SystemInstruction), true)

	timer := time.NewTimer(c.cfg.HandshakeTimeout)
	defer timer.Stop()
	select {
	case <-c.setupAck:
		c.mu.Lock()
		c.ackReceived = true
		c.setStateLocked(StateConnected, "")
		c.mu.Unlock()
		return nil
	case msg := <-c.setupRej:
		c.teardown()
		c.failConnect("backend rejected setup: " + msg)
		return fmt.Errorf("%w: %s", ErrConnectionRejected, msg)
	case <-timer.C:
		c.teardown()
		c.failConnect("no setup acknowledgement within " + c.cfg.HandshakeTimeout.String())
		return ErrHandshakeTimeout
	case <-ctx.Done():
		c.teardown()
		c.failConnect("connect cancelled")
		return ctx.Err()
	}
}

// Disconnect closes the channel. Idempotent and safe to call even if the
// client never connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	once := c.doneOnce
	alreadyDown := c.state == StateDisconnected && conn == nil
	c.localClose = true
	c.conn = nil
	if !alreadyDown {
		c.setStateLocked(StateDisconnected, "")
	}
	c.mu.Unlock()

	if done != nil && once != nil {
		once.Do(func() { close(done) })
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

// SendVideoFrame emits one encoded frame as fire-and-forget realtime input.
// Dropped silently when the outbound queue is saturated; video frames are
// superseded by the next capture anyway.
func (c *Client) SendVideoFrame(mimeType string, data []byte) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	if c.enqueue(protocol.NewVideoFrameMessage(mimeType, data), false) {
		if c.metrics != nil {
			c.metrics.FramesSent.Inc()
			c.metrics.WSMessages.WithLabelValues("outbound", "realtime_video").Inc()
		}
	}
	return nil
}

// SendAudioChunk emits one PCM buffer as fire-and-forget realtime input.
func (c *Client) SendAudioChunk(mimeType string, data []byte) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	if c.enqueue(protocol.NewAudioChunkMessage(mimeType, data), false) {
		if c.metrics != nil {
			c.metrics.AudioBytesSent.Add(float64(len(data)))
			c.metrics.WSMessages.WithLabelValues("outbound", "realtime_audio").Inc()
		}
	}
	return nil
}

// SendUserTurn sends a completed user turn (bootstrap, check-in, or typed
// message). Unlike media, turns are never dropped: the enqueue blocks until
// the writer drains the queue.
func (c *Client) SendUserTurn(parts ...protocol.Part) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	if !c.enqueue(protocol.NewUserTurnMessage(parts...), true) {
		return ErrNotConnected
	}
	if c.metrics != nil {
		c.metrics.WSMessages.WithLabelValues("outbound", "client_content").Inc()
	}
	return nil
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(strings.TrimSpace(c.cfg.URL))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(c.cfg.APIKey) != "" {
		q := u.Query()
		q.Set("key", c.cfg.APIKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// enqueue places one message on the outbound queue. When block is false the
// message is dropped if the queue is full.
func (c *Client) enqueue(msg any, block bool) bool {
	c.mu.Lock()
	out := c.outbound
	done := c.done
	c.mu.Unlock()
	if out == nil {
		return false
	}
	if block {
		select {
		case out <- msg:
			return true
		case <-done:
			return false
		}
	}
	select {
	case out <- msg:
		return true
	default:
		if c.metrics != nil {
			c.metrics.WSMessages.WithLabelValues("outbound", "dropped_full").Inc()
		}
		return false
	}
}

func (c *Client) writeLoop(conn *websocket.Conn) {
	c.mu.Lock()
	out := c.outbound
	done := c.done
	c.mu.Unlock()
	for {
		select {
		case <-done:
			return
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	var readErr error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		evt, err := protocol.ParseServerMessage(data)
		if err != nil {
			// A malformed fragment must not kill an otherwise healthy
			// session: count it, drop it, keep reading.
			if c.metrics != nil {
				c.metrics.ParseErrors.Inc()
			}
			log.Printf("live: dropping malformed inbound message: %v", err)
			continue
		}
		c.route(evt)
	}
	c.finish(readErr)
}

func (c *Client) route(evt protocol.ServerEvent) {
	if c.metrics != nil {
		c.metrics.WSMessages.WithLabelValues("inbound", string(evt.Type)).Inc()
	}
	switch evt.Type {
	case protocol.ServerSetupComplete:
		select {
		case c.setupAck <- struct{}{}:
		default:
		}
	case protocol.ServerError:
		c.mu.Lock()
		acked := c.ackReceived
		c.mu.Unlock()
		if !acked {
			select {
			case c.setupRej <- evt.Message:
			default:
			}
			return
		}
		c.emit(Event{Type: EventServerError, Message: evt.Message})
	case protocol.ServerContent:
		if evt.Text != "" {
			c.emit(Event{Type: EventPartialText, Text: evt.Text})
		}
		if evt.TurnComplete {
			c.emit(Event{Type: EventTurnComplete})
		}
	}
}

// finish runs once the read loop exits: classifies the closure, settles the
// observable state, and closes the event stream.
func (c *Client) finish(readErr error) {
	c.mu.Lock()
	local := c.localClose
	events := c.events
	done := c.done
	once := c.doneOnce
	c.events = nil
	c.outbound = nil
	c.conn = nil

	class := reliability.CloseClass(reliability.CloseGraceful)
	if !local {
		class = reliability.ClassifyClosure(readErr)
		if class == reliability.CloseAbnormal {
			c.setStateLocked(StateError, "connection lost: "+readErr.Error())
		} else {
			c.setStateLocked(StateDisconnected, "")
		}
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.UpstreamClosure.WithLabelValues(string(class)).Inc()
	}
	if done != nil && once != nil {
		once.Do(func() { close(done) })
	}
	if events != nil {
		events <- Event{Type: EventClosed, Class: class, Local: local}
		close(events)
	}
}

func (c *Client) emit(evt Event) {
	c.mu.Lock()
	events := c.events
	c.mu.Unlock()
	if events == nil {
		return
	}
	select {
	case events <- evt:
	default:
		if c.metrics != nil {
			c.metrics.WSMessages.WithLabelValues("inbound", "dropped_full").Inc()
		}
	}
}

func (c *Client) teardown() {
	c.mu.Lock()
	conn := c.conn
	c.localClose = true
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) failConnect(status string) {
	c.mu.Lock()
	c.setStateLocked(StateError, status)
	c.mu.Unlock()
}

func (c *Client) setStateLocked(s State, status string) {
	c.state = s
	c.statusText = status
	if fn := c.onState; fn != nil {
		go fn(s)
	}
}
