// Package transport owns the WebSocket connection to the messaging
// backend. A Link is a durable logical connection: it dials, heartbeats,
// reconnects with capped exponential backoff after abnormal closes, and
// gives up after a configured number of consecutive failures. The Link
// has no knowledge of frame semantics; it delivers raw payloads to its
// subscriber.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/chatsync/internal/backoff"
	"github.com/haasonsaas/chatsync/internal/observability"
	"github.com/haasonsaas/chatsync/internal/protocol"
)

// State is the link's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

var (
	// ErrRetriesExhausted is surfaced through OnClose when the link has
	// failed its maximum number of consecutive reconnect attempts. The
	// link stays disconnected until an explicit Connect.
	ErrRetriesExhausted = errors.New("transport: reconnect attempts exhausted")

	// ErrNormalClosure is the error a Conn returns from ReadMessage when
	// the peer closed the connection cleanly. The link does not
	// reconnect after a normal closure.
	ErrNormalClosure = errors.New("transport: normal closure")
)

// IsTerminal reports whether a close error means the link gave up and
// will not retry without an explicit Connect.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrRetriesExhausted)
}

// Conn is one physical socket. Implementations must allow Close to be
// called concurrently with a blocked ReadMessage, unblocking it with an
// error.
type Conn interface {
	// ReadMessage blocks for the next inbound payload.
	ReadMessage() ([]byte, error)
	// WriteMessage writes one outbound payload.
	WriteMessage(data []byte) error
	// Close tears the socket down.
	Close() error
}

// Dialer opens a physical socket. The context carries the attempt
// timeout; a dial that outlives it must fail.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Handlers receives link lifecycle and delivery events. All callbacks
// are invoked without internal locks held; nil callbacks are skipped.
type Handlers struct {
	// OnOpen fires after each successful open, including re-opens.
	OnOpen func()
	// OnFrame delivers one raw inbound payload, in delivery order.
	OnFrame func(raw []byte)
	// OnClose fires when a connection ends. err is nil for a deliberate
	// Disconnect, ErrNormalClosure for a clean peer close, the transport
	// error when a reconnect is pending, and wraps ErrRetriesExhausted
	// when the link gives up.
	OnClose func(err error)
	// OnStateChange fires on every state transition.
	OnStateChange func(Status)
}

// Config tunes the link.
type Config struct {
	URL               string
	DialTimeout       time.Duration
	HeartbeatInterval time.Duration
	MaxAttempts       int
	Backoff           backoff.Policy
}

// DefaultConfig returns the production link tuning: 10s dial timeout,
// 25s heartbeat, 5 reconnect attempts with 1s..30s doubling backoff.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		DialTimeout:       10 * time.Second,
		HeartbeatInterval: 25 * time.Second,
		MaxAttempts:       5,
		Backoff:           backoff.DefaultPolicy(),
	}
}

func (c *Config) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Backoff == (backoff.Policy{}) {
		c.Backoff = backoff.DefaultPolicy()
	}
}

// Status is a snapshot of the link for UI indicators.
type Status struct {
	State     State
	Attempt   int
	LastError error
	Exhausted bool
}

// Link is the durable logical connection. At most one physical socket
// is open at any instant; a superseding dial only starts after the
// prior socket is torn down.
type Link struct {
	cfg      Config
	dialer   Dialer
	logger   *slog.Logger
	metrics  *observability.Metrics
	handlers Handlers

	mu        sync.Mutex
	state     State
	conn      Conn
	gen       uint64 // bumped on every teardown and dial; stale goroutines bail
	attempt   int
	lastErr   error
	exhausted bool
	closed    bool // deliberate disconnect in progress
	reconnect *time.Timer
	hbStop    chan struct{}

	wmu sync.Mutex // serializes writes (heartbeat vs. sends)
}

// NewLink creates a link. Metrics may be nil.
func NewLink(cfg Config, dialer Dialer, handlers Handlers, logger *slog.Logger, metrics *observability.Metrics) *Link {
	cfg.applyDefaults()
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Link{
		cfg:      cfg,
		dialer:   dialer,
		logger:   logger.With("component", "transport"),
		metrics:  metrics,
		handlers: handlers,
		state:    StateDisconnected,
	}
}

// Connect opens the link. It is idempotent while a connection is
// connecting or connected: a second call logs and returns. An explicit
// Connect after the link gave up clears the exhausted state and starts
// a fresh attempt sequence.
func (l *Link) Connect() {
	l.mu.Lock()
	if l.state != StateDisconnected {
		l.logger.Debug("connect ignored, link already active", "state", string(l.state))
		l.mu.Unlock()
		return
	}
	l.closed = false
	l.exhausted = false
	l.attempt = 0
	l.gen++
	gen := l.gen
	l.setStateLocked(StateConnecting)
	l.mu.Unlock()

	l.notifyState()
	go l.dial(gen)
}

// Disconnect deliberately closes the link: the pending reconnect timer
// (if any) is cancelled so a scheduled redial cannot race the shutdown,
// the socket is closed, and no reconnect is attempted.
func (l *Link) Disconnect() {
	l.mu.Lock()
	if l.state == StateDisconnected && l.conn == nil && l.reconnect == nil {
		l.mu.Unlock()
		return
	}
	l.closed = true
	if l.reconnect != nil {
		l.reconnect.Stop()
		l.reconnect = nil
	}
	l.teardownLocked()
	l.setStateLocked(StateDisconnected)
	l.mu.Unlock()

	l.notifyState()
	if l.handlers.OnClose != nil {
		l.handlers.OnClose(nil)
	}
}

// Send writes a frame if the socket is open. Delivery is best-effort:
// a closed socket or write failure yields false, never an error or a
// queued retry.
func (l *Link) Send(f protocol.Frame) bool {
	l.mu.Lock()
	conn := l.conn
	open := l.state == StateConnected
	l.mu.Unlock()

	if !open || conn == nil {
		l.logger.Debug("send dropped, socket not open", "kind", string(f.Type))
		return false
	}

	raw, err := protocol.Encode(f)
	if err != nil {
		l.logger.Warn("send dropped, encode failed", "kind", string(f.Type), "error", err)
		return false
	}

	l.wmu.Lock()
	err = conn.WriteMessage(raw)
	l.wmu.Unlock()
	if err != nil {
		l.logger.Debug("send failed", "kind", string(f.Type), "error", err)
		return false
	}
	return true
}

// Status returns a snapshot of the link.
func (l *Link) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		State:     l.state,
		Attempt:   l.attempt,
		LastError: l.lastErr,
		Exhausted: l.exhausted,
	}
}

// dial runs one connection attempt for generation gen.
func (l *Link) dial(gen uint64) {
	connID := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.DialTimeout)
	conn, err := l.dialer.Dial(ctx, l.cfg.URL)
	cancel()

	l.mu.Lock()
	if l.gen != gen || l.closed {
		// Superseded while dialing; the result belongs to a dead
		// generation and its socket must not be left open.
		l.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		l.attempt++
		l.lastErr = err
		l.logger.Warn("dial failed", "conn_id", connID, "attempt", l.attempt, "error", err)
		if l.attempt >= l.cfg.MaxAttempts {
			l.giveUpLocked(err) // unlocks
			return
		}
		l.scheduleRetryLocked(err) // unlocks
		return
	}

	l.conn = conn
	l.attempt = 0
	l.lastErr = nil
	hbStop := make(chan struct{})
	l.hbStop = hbStop
	l.setStateLocked(StateConnected)
	l.mu.Unlock()

	l.logger.Info("link connected", "conn_id", connID, "url", l.cfg.URL)
	l.notifyState()
	if l.handlers.OnOpen != nil {
		l.handlers.OnOpen()
	}

	go l.heartbeat(hbStop)
	go l.readLoop(conn, gen)
}

// readLoop delivers inbound payloads until the socket fails or closes.
func (l *Link) readLoop(conn Conn, gen uint64) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			l.handleClose(gen, err)
			return
		}
		if l.handlers.OnFrame != nil {
			l.handlers.OnFrame(raw)
		}
	}
}

// handleClose reacts to the socket for generation gen ending.
func (l *Link) handleClose(gen uint64, err error) {
	l.mu.Lock()
	if l.gen != gen {
		// A deliberate Disconnect or a superseding dial already tore
		// this generation down.
		l.mu.Unlock()
		return
	}
	l.teardownLocked()

	if l.closed {
		l.setStateLocked(StateDisconnected)
		l.mu.Unlock()
		l.notifyState()
		return
	}

	if isNormalClosure(err) {
		l.logger.Info("link closed by peer")
		l.setStateLocked(StateDisconnected)
		l.mu.Unlock()
		l.notifyState()
		if l.handlers.OnClose != nil {
			l.handlers.OnClose(ErrNormalClosure)
		}
		return
	}

	l.lastErr = err
	l.logger.Warn("link lost", "error", err)
	l.scheduleRetryLocked(err) // unlocks
}

// scheduleRetryLocked arms the backoff timer for the next dial.
// l.attempt counts consecutive failed dials (reset to 0 by a successful
// open), so the delay sequence grows monotonically up to the cap while
// the link keeps failing. Called with l.mu held; unlocks before firing
// callbacks.
func (l *Link) scheduleRetryLocked(cause error) {
	delay := backoff.Delay(l.cfg.Backoff, l.attempt)
	l.setStateLocked(StateConnecting)
	l.reconnect = time.AfterFunc(delay, l.redial)
	attempt := l.attempt
	l.mu.Unlock()

	l.metrics.ReconnectAttempt()
	l.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
	l.notifyState()
	if l.handlers.OnClose != nil {
		l.handlers.OnClose(cause)
	}
}

// giveUpLocked parks the link in a terminal disconnected state after
// the last allowed dial failed. Called with l.mu held; unlocks before
// firing callbacks.
func (l *Link) giveUpLocked(cause error) {
	l.exhausted = true
	l.setStateLocked(StateDisconnected)
	l.mu.Unlock()

	l.logger.Error("giving up after max reconnect attempts", "attempts", l.cfg.MaxAttempts, "error", cause)
	l.notifyState()
	if l.handlers.OnClose != nil {
		l.handlers.OnClose(fmt.Errorf("%w: %w", ErrRetriesExhausted, cause))
	}
}

// redial runs when the backoff timer fires.
func (l *Link) redial() {
	l.mu.Lock()
	l.reconnect = nil
	if l.closed || l.state != StateConnecting {
		l.mu.Unlock()
		return
	}
	l.gen++
	gen := l.gen
	l.mu.Unlock()

	l.dial(gen)
}

// heartbeat sends a ping frame at the configured interval while the
// socket stays open.
func (l *Link) heartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(l.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if l.Send(protocol.MustNew(protocol.KindPing, nil)) {
				l.metrics.HeartbeatSent()
			}
		}
	}
}

// teardownLocked closes the current socket and stops the heartbeat. It
// bumps the generation so in-flight readLoop and dial goroutines of the
// old socket become no-ops, which keeps the at-most-one-socket
// invariant: the next dial only starts after this returns.
func (l *Link) teardownLocked() {
	l.gen++
	if l.hbStop != nil {
		close(l.hbStop)
		l.hbStop = nil
	}
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}

func (l *Link) setStateLocked(s State) {
	l.state = s
	switch s {
	case StateConnecting:
		l.metrics.SetLinkState(1)
	case StateConnected:
		l.metrics.SetLinkState(2)
	default:
		l.metrics.SetLinkState(0)
	}
}

func (l *Link) notifyState() {
	if l.handlers.OnStateChange == nil {
		return
	}
	l.handlers.OnStateChange(l.Status())
}
