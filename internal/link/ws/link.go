// Package ws implements the streaming channel: a graphql-transport-ws client
// that multiplexes subscriptions over one lazily opened WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bassista/go_learn/internal/link"
	"github.com/bassista/go_learn/internal/logger"
	"github.com/bassista/go_learn/internal/operation"
)

const (
	defaultAckTimeout   = 10 * time.Second
	defaultRetryWait    = time.Second
	defaultMaxRetryWait = 30 * time.Second
	writeTimeout        = 10 * time.Second
	streamBuffer        = 16
)

// ErrClosed is returned to subscriptions still open when the link is closed.
var ErrClosed = fmt.Errorf("websocket link closed: %w", errdefs.ErrUnavailable)

// Config configures the streaming link.
type Config struct {
	URL string

	// ConnectionParams is called on every connect, so credentials are read
	// fresh each time the socket is (re)opened.
	ConnectionParams func() map[string]any

	// KeepAlive is the client ping interval. Zero disables pings.
	KeepAlive time.Duration

	// RetryAttempts bounds consecutive reconnect attempts. Zero disables reconnect.
	RetryAttempts int
	RetryWait     time.Duration
	MaxRetryWait  time.Duration

	AckTimeout time.Duration

	// LazyCloseTimeout keeps an idle socket open this long after the last
	// subscription ends. Zero closes it immediately.
	LazyCloseTimeout time.Duration

	Dialer *websocket.Dialer
}

type subscription struct {
	id   string
	op   *operation.Operation
	emit *link.Emitter
	done chan struct{}
	once sync.Once
}

func (s *subscription) finish(err error) {
	s.once.Do(func() {
		s.emit.Finish(err)
		close(s.done)
	})
}

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	local   atomic.Bool
}

func (c *conn) send(m message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(m)
}

// shutdown closes the socket from our side with a normal close frame.
func (c *conn) shutdown() {
	c.local.Store(true)
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.ws.Close()
}

// Link is the streaming terminating link. It connects on the first
// subscription and reconnects with backoff while subscriptions remain.
type Link struct {
	cfg    Config
	dialer *websocket.Dialer
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	subs      map[string]*subscription
	conn      *conn
	running   bool
	closed    bool
	lazyTimer *time.Timer

	connects atomic.Int64
}

// New returns a link for cfg. No connection is made until Request.
func New(cfg Config) *Link {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = defaultRetryWait
	}
	if cfg.MaxRetryWait <= 0 {
		cfg.MaxRetryWait = defaultMaxRetryWait
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.AckTimeout}
	if cfg.Dialer != nil {
		dialer = *cfg.Dialer
	}
	dialer.Subprotocols = []string{Subprotocol}

	ctx, cancel := context.WithCancel(context.Background())
	return &Link{
		cfg:    cfg,
		dialer: &dialer,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]*subscription),
	}
}

// Connects reports how many connections have been acknowledged so far.
func (l *Link) Connects() int64 {
	return l.connects.Load()
}

// Request subscribes op. The stream ends on server completion, on ctx
// cancellation, when the consumer closes it, or when the connection is lost
// for good.
func (l *Link) Request(ctx context.Context, op *operation.Operation) *link.Stream {
	id := uuid.NewString()
	sub := &subscription{id: id, op: op, done: make(chan struct{})}
	stream, emit := link.NewStream(streamBuffer, func() { l.release(id, true) })
	sub.emit = emit

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		emit.Finish(ErrClosed)
		return stream
	}
	l.subs[id] = sub
	if l.lazyTimer != nil {
		l.lazyTimer.Stop()
		l.lazyTimer = nil
	}
	if l.conn != nil {
		l.subscribeLocked(l.conn, sub)
	}
	if !l.running {
		l.running = true
		l.wg.Add(1)
		go l.run()
	}
	l.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-sub.done:
		}
	}()

	return stream
}

// Close terminates every subscription with ErrClosed and closes the socket.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	c := l.conn
	l.conn = nil
	if l.lazyTimer != nil {
		l.lazyTimer.Stop()
		l.lazyTimer = nil
	}
	l.mu.Unlock()

	l.cancel()
	if c != nil {
		c.shutdown()
	}
	l.wg.Wait()
	l.failAll(ErrClosed)
	return nil
}

func (l *Link) subscribeLocked(c *conn, sub *subscription) {
	payload, err := json.Marshal(sub.op.Payload())
	if err != nil {
		logger.WithComponent("ws").Errorf("encode subscription %s: %v", sub.id, err)
		return
	}
	if err := c.send(message{ID: sub.id, Type: msgSubscribe, Payload: payload}); err != nil {
		// The read loop notices the broken socket and resubscribes on reconnect.
		logger.WithComponent("ws").Warnf("send subscribe %s: %v", sub.id, err)
	}
}

// release drops a subscription the consumer abandoned, telling the server
// when notify is set.
func (l *Link) release(id string, notify bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sub, ok := l.subs[id]
	if !ok {
		return
	}
	delete(l.subs, id)
	if notify && l.conn != nil {
		if err := l.conn.send(message{ID: id, Type: msgComplete}); err != nil {
			logger.WithComponent("ws").Debugf("send complete %s: %v", id, err)
		}
	}
	sub.finish(nil)
	l.idleLocked()
}

// idleLocked closes the socket once nothing is subscribed.
func (l *Link) idleLocked() {
	if len(l.subs) > 0 || l.conn == nil {
		return
	}
	if l.cfg.LazyCloseTimeout <= 0 {
		c := l.conn
		l.conn = nil
		c.shutdown()
		return
	}
	if l.lazyTimer != nil {
		return
	}
	l.lazyTimer = time.AfterFunc(l.cfg.LazyCloseTimeout, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.lazyTimer = nil
		if len(l.subs) == 0 && l.conn != nil {
			c := l.conn
			l.conn = nil
			c.shutdown()
		}
	})
}

func (l *Link) failAll(err error) {
	l.mu.Lock()
	subs := l.subs
	l.subs = make(map[string]*subscription)
	l.mu.Unlock()
	for _, sub := range subs {
		sub.finish(err)
	}
}

// stopIfIdle clears running when there is nothing left to serve.
func (l *Link) stopIfIdle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.subs) == 0 || l.closed {
		l.running = false
		return true
	}
	return false
}

func (l *Link) run() {
	defer l.wg.Done()
	log := logger.WithComponent("ws")
	attempt := 0

	for {
		c, err := l.connect()
		if err == nil {
			attempt = 0
			l.mu.Lock()
			if len(l.subs) == 0 || l.closed {
				l.running = false
				l.mu.Unlock()
				c.shutdown()
				return
			}
			l.conn = c
			for _, sub := range l.subs {
				l.subscribeLocked(c, sub)
			}
			l.mu.Unlock()

			err = l.serve(c)

			l.mu.Lock()
			if l.conn == c {
				l.conn = nil
			}
			l.mu.Unlock()

			if c.local.Load() {
				if l.stopIfIdle() {
					return
				}
				continue
			}
		}

		if l.ctx.Err() != nil {
			l.mu.Lock()
			l.running = false
			l.mu.Unlock()
			return
		}
		if l.stopIfIdle() {
			return
		}

		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) && isFatalClose(closeErr.Code) {
			log.Errorf("server closed connection with %d %s", closeErr.Code, closeErr.Text)
			l.giveUp(err)
			return
		}

		attempt++
		if attempt > l.cfg.RetryAttempts {
			log.Errorf("giving up after %d reconnect attempts: %v", attempt-1, err)
			l.giveUp(err)
			return
		}

		wait := l.backoff(attempt)
		log.Warnf("connection lost (%v), reconnecting in %s (attempt %d/%d)", err, wait, attempt, l.cfg.RetryAttempts)
		select {
		case <-time.After(wait):
		case <-l.ctx.Done():
			l.mu.Lock()
			l.running = false
			l.mu.Unlock()
			return
		}
	}
}

func (l *Link) giveUp(err error) {
	l.mu.Lock()
	l.running = false
	subs := l.subs
	l.subs = make(map[string]*subscription)
	l.mu.Unlock()
	terr := &link.TransportError{Operation: "subscription", Err: err}
	for _, sub := range subs {
		sub.finish(terr)
	}
}

func (l *Link) backoff(attempt int) time.Duration {
	wait := time.Duration(float64(l.cfg.RetryWait) * math.Pow(2, float64(attempt-1)))
	if wait > l.cfg.MaxRetryWait || wait <= 0 {
		wait = l.cfg.MaxRetryWait
	}
	return wait
}

// connect dials and completes the connection_init handshake.
func (l *Link) connect() (*conn, error) {
	ctx, cancel := context.WithTimeout(l.ctx, l.cfg.AckTimeout)
	defer cancel()

	ws, resp, err := l.dialer.DialContext(ctx, l.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", l.cfg.URL, err)
	}
	if ws.Subprotocol() != Subprotocol {
		_ = ws.Close()
		return nil, fmt.Errorf("server did not accept subprotocol %q", Subprotocol)
	}

	params := map[string]any{}
	if l.cfg.ConnectionParams != nil {
		params = l.cfg.ConnectionParams()
	}
	payload, err := json.Marshal(params)
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("encode connection params: %w", err)
	}

	c := &conn{ws: ws, done: make(chan struct{})}
	if err := c.send(message{Type: msgConnectionInit, Payload: payload}); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("send connection_init: %w", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(l.cfg.AckTimeout))
	for {
		var m message
		if err := ws.ReadJSON(&m); err != nil {
			_ = ws.Close()
			return nil, fmt.Errorf("await connection_ack: %w", err)
		}
		switch m.Type {
		case msgConnectionAck:
			_ = ws.SetReadDeadline(time.Time{})
			l.connects.Add(1)
			logger.WithComponent("ws").Debugf("connected to %s", l.cfg.URL)
			return c, nil
		case msgPing:
			if err := c.send(message{Type: msgPong}); err != nil {
				_ = ws.Close()
				return nil, fmt.Errorf("send pong: %w", err)
			}
		default:
			_ = ws.Close()
			return nil, fmt.Errorf("unexpected %q before connection_ack", m.Type)
		}
	}
}

// serve reads frames until the socket fails or is closed.
func (l *Link) serve(c *conn) error {
	defer close(c.done)
	if l.cfg.KeepAlive > 0 {
		l.wg.Add(1)
		go l.keepAlive(c)
	}

	log := logger.WithComponent("ws")
	for {
		var m message
		if err := c.ws.ReadJSON(&m); err != nil {
			_ = c.ws.Close()
			return err
		}
		switch m.Type {
		case msgNext:
			var resp link.Response
			if err := json.Unmarshal(m.Payload, &resp); err != nil {
				log.Warnf("decode next %s: %v", m.ID, err)
				continue
			}
			l.deliver(m.ID, &resp)
		case msgError:
			l.deliver(m.ID, &link.Response{Errors: errorPayload(m.Payload)})
			l.release(m.ID, false)
		case msgComplete:
			l.release(m.ID, false)
		case msgPing:
			if err := c.send(message{Type: msgPong}); err != nil {
				log.Debugf("send pong: %v", err)
			}
		case msgPong, msgConnectionAck:
		default:
			log.Debugf("ignoring %q frame", m.Type)
		}
	}
}

func (l *Link) deliver(id string, resp *link.Response) {
	l.mu.Lock()
	sub := l.subs[id]
	l.mu.Unlock()
	if sub == nil {
		return
	}
	sub.emit.Emit(l.ctx, resp)
}

func (l *Link) keepAlive(c *conn) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.send(message{Type: msgPing}); err != nil {
				logger.WithComponent("ws").Debugf("keep-alive ping: %v", err)
				return
			}
		}
	}
}

// BearerParams returns connection params that read tokens on every connect:
// {"authorization": "Bearer <token>"}, or an empty value when anonymous.
func BearerParams(tokens link.TokenSource) func() map[string]any {
	return func() map[string]any {
		auth := ""
		if token, ok := tokens.Token(); ok {
			auth = "Bearer " + token
		}
		return map[string]any{"authorization": auth}
	}
}
