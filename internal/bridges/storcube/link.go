package storcube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Link operation constants.
const (
	// defaultWriteTimeout bounds the subscription request and heartbeats.
	defaultWriteTimeout = 10 * time.Second

	// maxMessageSize caps a single telemetry frame.
	maxMessageSize = 1 << 20

	// messageBuffer is the number of frames the read pump may queue.
	messageBuffer = 16
)

// LinkState is the lifecycle stage of a single Link.
type LinkState int32

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkSubscribed
	LinkListening
)

func (s LinkState) String() string {
	switch s {
	case LinkConnecting:
		return "connecting"
	case LinkSubscribed:
		return "subscribed"
	case LinkListening:
		return "listening"
	default:
		return "disconnected"
	}
}

// Conn is the subset of *websocket.Conn used by the link.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens telemetry connections. It exists so tests can replace the
// network.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, error)
}

// websocketDialer adapts gorilla's Dialer to the Dialer interface.
type websocketDialer struct {
	dialer *websocket.Dialer
}

// NewWebsocketDialer returns a Dialer backed by gorilla/websocket.
func NewWebsocketDialer(handshakeTimeout time.Duration) Dialer {
	return &websocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

func (d *websocketDialer) DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, urlStr, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w (HTTP %d)", err, resp.StatusCode)
		}
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

// LinkConfig holds the parameters of a telemetry link.
type LinkConfig struct {
	// URL is the endpoint base; the token is appended to it.
	URL string

	// DeviceID is the equipment to subscribe to.
	DeviceID string

	// UserAgent is the fixed client identity sent with the handshake.
	UserAgent string

	// WriteTimeout bounds each outgoing frame. Default: 10 seconds.
	WriteTimeout time.Duration
}

// Link owns one websocket connection to the telemetry endpoint.
//
// A Link is single-use: once it is closed, by either side, the Bridge builds
// a new one. A background read pump feeds Receive so that a receive timeout
// never touches the connection itself.
//
// Thread Safety: Receive must be called from one goroutine; Heartbeat and
// Close are safe to call concurrently with it.
type Link struct {
	cfg    LinkConfig
	dialer Dialer

	conn    Conn
	request []byte
	state   atomic.Int32
	used    atomic.Bool

	messages chan []byte
	pumpDone chan struct{}
	readErr  error // written by the pump before pumpDone is closed

	closing   chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex
}

// NewLink creates an unconnected link.
func NewLink(cfg LinkConfig, dialer Dialer) *Link {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Link{
		cfg:      cfg,
		dialer:   dialer,
		messages: make(chan []byte, messageBuffer),
		pumpDone: make(chan struct{}),
		closing:  make(chan struct{}),
	}
}

// State returns the current link state.
func (l *Link) State() LinkState {
	return LinkState(l.state.Load())
}

// SubscriptionRequest returns the frame asking the server to stream the
// device, which is also the heartbeat.
func SubscriptionRequest(deviceID string) ([]byte, error) {
	return json.Marshal(map[string][]string{"reportEquip": {deviceID}})
}

// Connect dials the endpoint with token, sends the subscription request and
// starts listening. Any failure returns *ConnError and leaves the link closed.
func (l *Link) Connect(ctx context.Context, token string) error {
	if !l.used.CompareAndSwap(false, true) {
		return &ConnError{Op: "dial", Err: errors.New("link already used")}
	}

	request, err := SubscriptionRequest(l.cfg.DeviceID)
	if err != nil {
		return &ConnError{Op: "subscribe", Err: err}
	}
	l.request = request

	l.state.Store(int32(LinkConnecting))

	header := http.Header{}
	header.Set("Authorization", token)
	header.Set("Content-Type", "application/json")
	if l.cfg.UserAgent != "" {
		header.Set("User-Agent", l.cfg.UserAgent)
	}

	conn, err := l.dialer.DialContext(ctx, l.cfg.URL+url.PathEscape(token), header)
	if err != nil {
		l.state.Store(int32(LinkDisconnected))
		close(l.pumpDone)
		return &ConnError{Op: "dial", Err: err}
	}
	l.conn = conn

	if err := l.write(l.request); err != nil {
		close(l.pumpDone)
		l.Close()
		return &ConnError{Op: "subscribe", Err: err}
	}
	l.state.Store(int32(LinkSubscribed))

	go l.readPump()
	l.state.Store(int32(LinkListening))

	return nil
}

// Receive waits up to timeout for the next telemetry frame.
//
// It returns ErrReceiveTimeout when the link stayed silent, *ConnError
// wrapping ErrLinkClosed when the stream is gone, or the context error.
func (l *Link) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if l.conn == nil {
		return nil, &ConnError{Op: "receive", Err: ErrLinkClosed}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-l.messages:
		return data, nil
	case <-l.pumpDone:
		// Frames queued before the stream died are still delivered.
		select {
		case data := <-l.messages:
			return data, nil
		default:
		}
		if l.readErr != nil {
			return nil, &ConnError{Op: "receive", Err: fmt.Errorf("%w: %w", ErrLinkClosed, l.readErr)}
		}
		return nil, &ConnError{Op: "receive", Err: ErrLinkClosed}
	case <-l.closing:
		return nil, &ConnError{Op: "receive", Err: ErrLinkClosed}
	case <-timer.C:
		return nil, ErrReceiveTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Heartbeat re-sends the subscription request.
func (l *Link) Heartbeat() error {
	if l.conn == nil {
		return &ConnError{Op: "heartbeat", Err: ErrLinkClosed}
	}
	select {
	case <-l.closing:
		return &ConnError{Op: "heartbeat", Err: ErrLinkClosed}
	default:
	}
	if err := l.write(l.request); err != nil {
		return &ConnError{Op: "heartbeat", Err: err}
	}
	return nil
}

// Close tears the connection down. Safe to call multiple times.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closing)
		if l.conn != nil {
			err = l.conn.Close()
		}
		l.state.Store(int32(LinkDisconnected))
	})
	return err
}

// write sends one text frame with a deadline.
func (l *Link) write(data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := l.conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout)); err != nil {
		return err
	}
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

// readPump forwards frames until the connection fails or the link closes.
func (l *Link) readPump() {
	defer close(l.pumpDone)

	for {
		msgType, data, err := l.conn.ReadMessage()
		if err != nil {
			l.readErr = err
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		select {
		case l.messages <- data:
		case <-l.closing:
			return
		}
	}
}
