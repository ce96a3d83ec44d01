// Package channel keeps one logical websocket connection to the task server
// open, re-announcing interest with JOIN every time it (re)connects.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const (
	// DefaultReconnectDelay is the fixed pause between a lost connection and
	// the next attempt. It never grows.
	DefaultReconnectDelay = time.Second

	defaultHandshakeTimeout = 10 * time.Second
	// The server pings every 30s.
	defaultReadTimeout = 60 * time.Second
	writeWait          = 10 * time.Second
	sendBuffer         = 64
)

// State of the connection as seen by the manager.
type State int32

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Dispatcher receives the unwrapped payload of every inbound frame.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload json.RawMessage)
}

// Dialer opens websocket connections. *websocket.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Config configures a Manager. Only URL is required.
type Config struct {
	// URL of the task endpoint, e.g. ws://host/ws/task/.
	URL string
	// Group is the marker sent with JOIN.
	Group string
	// Token is sent as a bearer Authorization header when set.
	Token            string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	// ReadTimeout is how long the connection may stay silent before it is
	// considered lost.
	ReadTimeout time.Duration
	Dialer      Dialer
	Logger      *log.Logger
}

func (c *Config) defaults() error {
	if c.URL == "" {
		return errors.New("url is required")
	}
	if !strings.HasPrefix(c.URL, "ws://") && !strings.HasPrefix(c.URL, "wss://") {
		return fmt.Errorf("url %q is not a websocket url", c.URL)
	}
	if c.Group == "" {
		c.Group = domain.GroupStoreManager
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.Dialer == nil {
		c.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: c.HandshakeTimeout,
		}
	}
	if c.Logger == nil {
		c.Logger = log.StandardLogger()
	}
	return nil
}

// EndpointFor derives the task endpoint from a page host.
func EndpointFor(host string, secure bool) string {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	return scheme + "://" + host + "/ws/task/"
}

// Manager owns the connection. All connection work happens inside Run; the
// raw connection never leaves it.
type Manager struct {
	cfg        Config
	dispatcher Dispatcher
	logger     *log.Entry
	after      func(time.Duration) <-chan time.Time

	state     atomic.Int32
	connectCh chan struct{}
	sendCh    chan domain.Outbound
}

// New creates a Manager. Nothing is dialed until Run is called.
func New(cfg Config, dispatcher Dispatcher) (*Manager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid channel config: %w", err)
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	return &Manager{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     cfg.Logger.WithFields(log.Fields{"component": "channel", "url": cfg.URL}),
		after:      time.After,
		connectCh:  make(chan struct{}, 1),
		sendCh:     make(chan domain.Outbound, sendBuffer),
	}, nil
}

// State returns the current connection state.
func (m *Manager) State() State { return State(m.state.Load()) }

func (m *Manager) setState(s State) { m.state.Store(int32(s)) }

// Connect asks the loop to (re)establish the connection. When the
// connection is already open the open handler runs again and JOIN is resent.
// It does nothing while a dial is in flight or a reconnect is scheduled.
func (m *Manager) Connect() {
	select {
	case m.connectCh <- struct{}{}:
	default:
	}
}

// Send hands msg to the loop. It is written only if the connection is open
// at that point; otherwise it is dropped. Nothing is queued for later.
func (m *Manager) Send(msg domain.Outbound) {
	select {
	case m.sendCh <- msg:
	default:
		m.logger.WithField("event", msg.Tag()).Warn("send buffer full, dropping message")
	}
}

type dialResult struct {
	conn *websocket.Conn
	err  error
}

// Run connects and then serves the connection until ctx is cancelled,
// reconnecting after the fixed delay whenever it is lost.
func (m *Manager) Run(ctx context.Context) error {
	var (
		conn   *websocket.Conn
		s      *stream
		dialed chan dialResult
		retry  <-chan time.Time
	)
	startDial := func() {
		m.setState(Connecting)
		dialed = make(chan dialResult, 1)
		go m.dial(ctx, dialed)
	}
	scheduleReconnect := func(reason string) {
		m.setState(Disconnected)
		m.logger.WithField("reason", reason).
			Warnf("socket is closed, reconnect will be attempted in %s", m.cfg.ReconnectDelay)
		retry = m.after(m.cfg.ReconnectDelay)
	}

	startDial()
	for {
		var (
			frames <-chan []byte
			done   <-chan error
		)
		if s != nil {
			frames, done = s.frames, s.done
		}

		select {
		case <-ctx.Done():
			if conn != nil {
				m.setState(Closing)
				s.stop()
				closeConn(conn)
			}
			if dialed != nil {
				go discardDial(dialed)
			}
			m.setState(Disconnected)
			return ctx.Err()

		case res := <-dialed:
			dialed = nil
			if res.err != nil {
				m.setState(Closed)
				scheduleReconnect(res.err.Error())
				continue
			}
			conn = res.conn
			s = newStream(conn, m.cfg.ReadTimeout)
			m.setState(Open)
			m.onOpen(conn)

		case <-m.connectCh:
			switch {
			case conn != nil:
				m.onOpen(conn)
			case dialed != nil || retry != nil:
			default:
				startDial()
			}

		case msg := <-m.sendCh:
			if conn == nil {
				m.logger.WithField("event", msg.Tag()).Debug("connection not open, dropping message")
				continue
			}
			if err := m.write(conn, msg); err != nil {
				m.logger.WithError(err).WithField("event", msg.Tag()).Error("send failed")
			}

		case data := <-frames:
			m.deliver(ctx, data)

		case err := <-done:
			m.setState(Closed)
			s.stop()
			conn.Close()
			conn, s = nil, nil
			scheduleReconnect(closeReason(err))

		case <-retry:
			retry = nil
			startDial()
		}
	}
}

func (m *Manager) dial(ctx context.Context, out chan<- dialResult) {
	header := http.Header{}
	if m.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+m.cfg.Token)
	}
	conn, resp, err := m.cfg.Dialer.DialContext(ctx, m.cfg.URL, header)
	if err != nil && resp != nil {
		err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
	}
	out <- dialResult{conn: conn, err: err}
}

func (m *Manager) onOpen(conn *websocket.Conn) {
	m.logger.Info("websocket connection created")
	if err := m.write(conn, domain.Join{Group: m.cfg.Group}); err != nil {
		m.logger.WithError(err).Error("join failed")
	}
}

func (m *Manager) write(conn *websocket.Conn, msg domain.Outbound) error {
	data, err := domain.EncodeOutbound(msg)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) deliver(ctx context.Context, data []byte) {
	payload, err := domain.UnwrapFrame(data)
	if err != nil {
		m.logger.WithError(err).Warn("dropping unreadable frame")
		return
	}
	m.dispatcher.Dispatch(ctx, payload)
}

func closeConn(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	conn.Close()
}

func discardDial(dialed <-chan dialResult) {
	if res := <-dialed; res.conn != nil {
		res.conn.Close()
	}
}

func closeReason(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Text != "" {
			return fmt.Sprintf("%d %s", ce.Code, ce.Text)
		}
		return fmt.Sprintf("%d", ce.Code)
	}
	return err.Error()
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, payload json.RawMessage)

func (f DispatcherFunc) Dispatch(ctx context.Context, payload json.RawMessage) { f(ctx, payload) }
