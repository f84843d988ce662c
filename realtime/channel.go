// Package realtime keeps a websocket open to the message endpoint while a
// session is active, delivering each inbound chat message to subscribers at
// most once and reconnecting with backoff after transient failures.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jrsteele09/diet-sync/credentials"
	apperrors "github.com/jrsteele09/diet-sync/internal/errors"
	"github.com/jrsteele09/diet-sync/messages"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
)

// SessionReader is the read side of the credential store.
type SessionReader interface {
	Read() (credentials.Session, bool)
}

var _ messages.Deliverer = (*Channel)(nil)

type Channel struct {
	url      string
	sessions SessionReader
	dialer   *websocket.Dialer
	logger   zerolog.Logger

	mu      sync.Mutex
	state   StateChange
	conn    *websocket.Conn
	gen     uint64 // bumped on every attempt and on Stop; stale loops compare against it
	running bool
	timer   *time.Timer
	backoff backoff
	ctx     context.Context

	// emitMu is taken before mu by every path that changes state, and held
	// until the change is emitted, so subscribers observe changes in order.
	emitMu  sync.Mutex
	writeMu sync.Mutex

	subsMu    sync.RWMutex
	nextSub   int
	msgSubs   map[int]func(messages.InboundMessage)
	stateSubs map[int]func(StateChange)

	seenMu sync.Mutex
	seen   map[uuid.UUID]struct{}
}

type Option func(*Channel)

// WithBackoff sets the reconnect delay bounds.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Channel) {
		c.backoff.base = base
		c.backoff.max = max
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// New returns a stopped channel. url is the socket base; the access token is
// appended as the last path segment on every attempt.
func New(url string, sessions SessionReader, opts ...Option) *Channel {
	c := &Channel{
		url:      url,
		sessions: sessions,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		logger:    log.With().Str("component", "realtime").Logger(),
		state:     StateChange{State: Disconnected},
		backoff:   backoff{base: defaultBaseDelay, max: defaultMaxDelay},
		ctx:       context.Background(),
		msgSubs:   make(map[int]func(messages.InboundMessage)),
		stateSubs: make(map[int]func(StateChange)),
		seen:      make(map[uuid.UUID]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start opens the connection with the currently stored access token. It is a
// no-op while already connecting or connected. The returned error describes
// the first attempt only; transient failures keep retrying in the background
// until Stop.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running && c.state.State != Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.ctx = context.WithoutCancel(ctx)
	c.stopTimer()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	return c.connect(ctx, gen)
}

// Stop closes the connection and cancels any pending reconnect. Safe to call
// more than once.
func (c *Channel) Stop() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	if !c.running && c.conn == nil && c.timer == nil {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.gen++
	c.stopTimer()
	conn := c.conn
	c.conn = nil
	change := StateChange{State: Disconnected, Reason: ReasonStopped}
	c.state = change
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	c.logger.Debug().Msg("Channel stopped")
	c.emit(change)
}

func (c *Channel) State() StateChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn for every newly seen inbound message. fn runs on the
// read goroutine and must not block for long.
func (c *Channel) Subscribe(fn func(messages.InboundMessage)) (unsubscribe func()) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.msgSubs[id] = fn
	return func() {
		c.subsMu.Lock()
		delete(c.msgSubs, id)
		c.subsMu.Unlock()
	}
}

// OnStateChange registers fn for every state transition. fn must not call
// Start or Stop synchronously.
func (c *Channel) OnStateChange(fn func(StateChange)) (unsubscribe func()) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.stateSubs[id] = fn
	return func() {
		c.subsMu.Lock()
		delete(c.stateSubs, id)
		c.subsMu.Unlock()
	}
}

// Deliver records msg as already known to the caller so a later socket copy
// is dropped. It reports false if the message had already been seen, in
// which case subscribers have received it.
func (c *Channel) Deliver(msg messages.InboundMessage) bool {
	return c.markSeen(msg.ID)
}

// SendIfConnected writes out to the socket when connected, reporting whether
// it was written.
func (c *Channel) SendIfConnected(out messages.Outbound) (bool, error) {
	if err := out.Validate(); err != nil {
		return false, err
	}
	c.mu.Lock()
	conn := c.conn
	connected := c.state.State == Connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return false, nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(out); err != nil {
		return false, apperrors.Network(err)
	}
	return true, nil
}

// Send is SendIfConnected that reports a closed channel as ErrNotConnected.
func (c *Channel) Send(out messages.Outbound) error {
	sent, err := c.SendIfConnected(out)
	if err != nil {
		return err
	}
	if !sent {
		return apperrors.ErrNotConnected
	}
	return nil
}

func (c *Channel) connect(ctx context.Context, gen uint64) error {
	session, ok := c.sessions.Read()
	if !ok {
		c.disconnected(gen, ReasonNoSession, apperrors.ErrNoSession, false)
		return apperrors.ErrNoSession
	}
	if !c.transition(gen, StateChange{State: Connecting}) {
		return nil
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url+"/"+session.AccessToken, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			err = fmt.Errorf("%w: handshake refused with status %d", apperrors.ErrUnauthorized, resp.StatusCode)
			c.disconnected(gen, ReasonUnauthorized, err, false)
			return err
		}
		err = apperrors.Network(err)
		c.disconnected(gen, ReasonDialFailed, err, true)
		return err
	}

	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	if gen != c.gen || !c.running {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.backoff.reset()
	change := StateChange{State: Connected}
	c.state = change
	c.mu.Unlock()

	c.logger.Info().Str("token", credentials.Fingerprint(session.AccessToken)).Msg("Channel connected")
	c.emit(change)
	go c.readLoop(gen, conn)
	return nil
}

func (c *Channel) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.ClosePolicyViolation {
				c.disconnected(gen, ReasonUnauthorized, fmt.Errorf("%w: %w", apperrors.ErrUnauthorized, err), false)
				return
			}
			c.disconnected(gen, ReasonConnectionLost, apperrors.Network(err), true)
			return
		}

		var msg messages.InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.ID == uuid.Nil {
			c.logger.Error().Err(err).Int("bytes", len(data)).Msg("Dropping undecodable frame")
			continue
		}
		if !c.markSeen(msg.ID) {
			continue
		}
		c.dispatch(msg)
	}
}

// transition sets the state if gen is still current.
func (c *Channel) transition(gen uint64, change StateChange) bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	if gen != c.gen || !c.running {
		c.mu.Unlock()
		return false
	}
	c.state = change
	c.mu.Unlock()
	c.emit(change)
	return true
}

// disconnected records the failure of attempt gen and, if reconnect is set,
// arms the single reconnect timer.
func (c *Channel) disconnected(gen uint64, reason string, err error, reconnect bool) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	change := StateChange{State: Disconnected, Reason: reason, Err: err}
	c.state = change

	var delay time.Duration
	armed := false
	if reconnect && c.running && c.timer == nil {
		delay = c.backoff.next()
		c.timer = time.AfterFunc(delay, func() { c.reconnect(gen) })
		armed = true
	}
	c.mu.Unlock()

	ev := c.logger.Warn().Err(err).Str("reason", reason)
	if armed {
		ev = ev.Dur("retry_in", delay)
	}
	ev.Msg("Channel disconnected")
	c.emit(change)
}

func (c *Channel) reconnect(prev uint64) {
	c.mu.Lock()
	if prev != c.gen || !c.running {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.gen++
	gen := c.gen
	ctx := c.ctx
	c.mu.Unlock()

	_ = c.connect(ctx, gen)
}

// stopTimer must be called with mu held.
func (c *Channel) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Channel) markSeen(id uuid.UUID) bool {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	if _, ok := c.seen[id]; ok {
		return false
	}
	c.seen[id] = struct{}{}
	return true
}

func (c *Channel) dispatch(msg messages.InboundMessage) {
	c.subsMu.RLock()
	subs := make([]func(messages.InboundMessage), 0, len(c.msgSubs))
	for _, fn := range c.msgSubs {
		subs = append(subs, fn)
	}
	c.subsMu.RUnlock()
	for _, fn := range subs {
		fn(msg)
	}
}

func (c *Channel) emit(change StateChange) {
	c.subsMu.RLock()
	subs := make([]func(StateChange), 0, len(c.stateSubs))
	for _, fn := range c.stateSubs {
		subs = append(subs, fn)
	}
	c.subsMu.RUnlock()
	for _, fn := range subs {
		fn(change)
	}
}
