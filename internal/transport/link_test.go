package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/chatsync/internal/backoff"
	"github.com/haasonsaas/chatsync/internal/protocol"
)

// fakeConn is an in-memory socket. Close unblocks a pending
// ReadMessage, mirroring the contract real websocket conns honor.
type fakeConn struct {
	inbound chan []byte
	errs    chan error

	mu     sync.Mutex
	closed bool
	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		errs:    make(chan error, 2),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case raw := <-c.inbound:
		return raw, nil
	case err := <-c.errs:
		return nil, err
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed conn")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	select {
	case c.errs <- errors.New("use of closed connection"):
	default:
	}
	return nil
}

// fail injects a read error without marking the conn closed, emulating
// the peer dropping the socket.
func (c *fakeConn) fail(err error) {
	c.errs <- err
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

type fakeDialer struct {
	mu      sync.Mutex
	failAll bool
	dials   int
	conns   []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failAll {
		return nil, errors.New("dial refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) openConns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	open := 0
	for _, c := range d.conns {
		if !c.isClosed() {
			open++
		}
	}
	return open
}

func (d *fakeDialer) latest() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func fastConfig() Config {
	return Config{
		URL:               "ws://test.invalid/ws",
		DialTimeout:       time.Second,
		HeartbeatInterval: time.Hour, // irrelevant unless a test shortens it
		MaxAttempts:       3,
		Backoff: backoff.Policy{
			Initial: 5 * time.Millisecond,
			Floor:   time.Millisecond,
			Max:     20 * time.Millisecond,
			Factor:  2,
		},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %v: %s", timeout, msg)
}

func TestConnectOpensLink(t *testing.T) {
	dialer := &fakeDialer{}
	opened := make(chan struct{}, 1)
	link := NewLink(fastConfig(), dialer, Handlers{
		OnOpen: func() { opened <- struct{}{} },
	}, nil, nil)

	link.Connect()

	select {
	case <-opened:
	case <-time.After(time.Second):
		t.Fatal("OnOpen never fired")
	}
	if st := link.Status(); st.State != StateConnected {
		t.Fatalf("state = %s, want connected", st.State)
	}
	link.Disconnect()
}

func TestConnectIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	link := NewLink(fastConfig(), dialer, Handlers{}, nil, nil)

	link.Connect()
	waitFor(t, time.Second, func() bool {
		return link.Status().State == StateConnected
	}, "link never connected")

	link.Connect()
	link.Connect()
	time.Sleep(20 * time.Millisecond)

	if got := dialer.dialCount(); got != 1 {
		t.Fatalf("dials = %d, want 1 (connect must be a no-op while active)", got)
	}
	link.Disconnect()
}

func TestAtMostOneSocket(t *testing.T) {
	dialer := &fakeDialer{}
	link := NewLink(fastConfig(), dialer, Handlers{}, nil, nil)

	link.Connect()
	waitFor(t, time.Second, func() bool {
		return link.Status().State == StateConnected
	}, "link never connected")

	// Drop the socket a few times and let the link reconnect.
	for i := 0; i < 3; i++ {
		prevDials := dialer.dialCount()
		dialer.latest().fail(errors.New("connection reset"))
		waitFor(t, time.Second, func() bool {
			return dialer.dialCount() > prevDials && link.Status().State == StateConnected
		}, "link never reconnected")
		if open := dialer.openConns(); open != 1 {
			t.Fatalf("open sockets = %d after reconnect %d, want 1", open, i+1)
		}
	}
	link.Disconnect()

	if open := dialer.openConns(); open != 0 {
		t.Fatalf("open sockets = %d after disconnect, want 0", open)
	}
}

func TestNoReconnectOnNormalClosure(t *testing.T) {
	dialer := &fakeDialer{}
	link := NewLink(fastConfig(), dialer, Handlers{}, nil, nil)

	link.Connect()
	waitFor(t, time.Second, func() bool {
		return link.Status().State == StateConnected
	}, "link never connected")

	dialer.latest().fail(ErrNormalClosure)
	waitFor(t, time.Second, func() bool {
		return link.Status().State == StateDisconnected
	}, "link never settled after normal closure")

	time.Sleep(50 * time.Millisecond)
	if got := dialer.dialCount(); got != 1 {
		t.Fatalf("dials = %d, want 1 (no reconnect after clean close)", got)
	}
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	dialer := &fakeDialer{}
	cfg := fastConfig()
	var closeErrs []error
	var mu sync.Mutex
	link := NewLink(cfg, dialer, Handlers{
		OnClose: func(err error) {
			mu.Lock()
			closeErrs = append(closeErrs, err)
			mu.Unlock()
		},
	}, nil, nil)

	link.Connect()
	waitFor(t, time.Second, func() bool {
		return link.Status().State == StateConnected
	}, "link never connected")

	// From here every dial fails: the link must try exactly
	// MaxAttempts more times, then park itself.
	dialer.mu.Lock()
	dialer.failAll = true
	dialer.mu.Unlock()
	dialer.latest().fail(errors.New("abnormal close 1006"))

	waitFor(t, 2*time.Second, func() bool {
		st := link.Status()
		return st.State == StateDisconnected && st.Exhausted
	}, "link never exhausted")

	if got, want := dialer.dialCount(), 1+cfg.MaxAttempts; got != want {
		t.Fatalf("dials = %d, want %d (initial + MaxAttempts failures)", got, want)
	}

	// No further attempt after exhaustion.
	time.Sleep(100 * time.Millisecond)
	if got := dialer.dialCount(); got != 1+cfg.MaxAttempts {
		t.Fatalf("dials grew to %d after exhaustion", got)
	}

	mu.Lock()
	last := closeErrs[len(closeErrs)-1]
	mu.Unlock()
	if !IsTerminal(last) {
		t.Fatalf("final close error = %v, want ErrRetriesExhausted", last)
	}

	// An explicit reconnect clears the terminal state.
	dialer.mu.Lock()
	dialer.failAll = false
	dialer.mu.Unlock()
	link.Connect()
	waitFor(t, time.Second, func() bool {
		return link.Status().State == StateConnected
	}, "explicit reconnect after exhaustion failed")
	link.Disconnect()
}

func TestSendWhenClosedReturnsFalse(t *testing.T) {
	link := NewLink(fastConfig(), &fakeDialer{}, Handlers{}, nil, nil)

	if link.Send(protocol.MustNew(protocol.KindPing, nil)) {
		t.Fatal("Send succeeded on a link that never connected")
	}
}

func TestSendDeliversFrame(t *testing.T) {
	dialer := &fakeDialer{}
	link := NewLink(fastConfig(), dialer, Handlers{}, nil, nil)

	link.Connect()
	waitFor(t, time.Second, func() bool {
		return link.Status().State == StateConnected
	}, "link never connected")

	frame := protocol.MustNew(protocol.KindUserConnect, protocol.UserConnectData{UserID: "alice"})
	if !link.Send(frame) {
		t.Fatal("Send failed on an open link")
	}

	conn := dialer.latest()
	waitFor(t, time.Second, func() bool { return conn.writeCount() == 1 }, "frame never written")

	conn.mu.Lock()
	raw := conn.writes[0]
	conn.mu.Unlock()
	var decoded protocol.Frame
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("written frame is not valid JSON: %v", err)
	}
	if decoded.Type != protocol.KindUserConnect {
		t.Fatalf("written kind = %s, want user_connect", decoded.Type)
	}
	link.Disconnect()
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	cfg := fastConfig()
	cfg.Backoff.Initial = 50 * time.Millisecond
	cfg.Backoff.Floor = 50 * time.Millisecond
	link := NewLink(cfg, dialer, Handlers{}, nil, nil)

	link.Connect()
	waitFor(t, time.Second, func() bool {
		return link.Status().State == StateConnected
	}, "link never connected")

	dialer.latest().fail(errors.New("connection reset"))
	waitFor(t, time.Second, func() bool {
		return link.Status().State == StateConnecting
	}, "reconnect never scheduled")

	// Disconnect while the backoff timer is pending: the redial must
	// not race the deliberate shutdown.
	link.Disconnect()
	time.Sleep(150 * time.Millisecond)

	if got := dialer.dialCount(); got != 1 {
		t.Fatalf("dials = %d after disconnect, want 1", got)
	}
	if st := link.Status(); st.State != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", st.State)
	}
}

func TestHeartbeatSendsPings(t *testing.T) {
	dialer := &fakeDialer{}
	cfg := fastConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	link := NewLink(cfg, dialer, Handlers{}, nil, nil)

	link.Connect()
	waitFor(t, time.Second, func() bool {
		return link.Status().State == StateConnected
	}, "link never connected")

	conn := dialer.latest()
	waitFor(t, time.Second, func() bool { return conn.writeCount() >= 2 }, "heartbeat never ticked")

	conn.mu.Lock()
	raw := conn.writes[0]
	conn.mu.Unlock()
	var decoded protocol.Frame
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("heartbeat frame is not valid JSON: %v", err)
	}
	if decoded.Type != protocol.KindPing {
		t.Fatalf("heartbeat kind = %s, want ping", decoded.Type)
	}

	link.Disconnect()
	writesAtClose := conn.writeCount()
	time.Sleep(50 * time.Millisecond)
	if got := conn.writeCount(); got != writesAtClose {
		t.Fatalf("heartbeat kept writing after disconnect: %d -> %d", writesAtClose, got)
	}
}

func TestFramesDeliveredInOrder(t *testing.T) {
	dialer := &fakeDialer{}
	var mu sync.Mutex
	var got []string
	link := NewLink(fastConfig(), dialer, Handlers{
		OnFrame: func(raw []byte) {
			mu.Lock()
			got = append(got, string(raw))
			mu.Unlock()
		},
	}, nil, nil)

	link.Connect()
	waitFor(t, time.Second, func() bool {
		return link.Status().State == StateConnected
	}, "link never connected")

	conn := dialer.latest()
	conn.inbound <- []byte("one")
	conn.inbound <- []byte("two")
	conn.inbound <- []byte("three")

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, "frames never delivered")

	mu.Lock()
	defer mu.Unlock()
	for i, want := range []string{"one", "two", "three"} {
		if got[i] != want {
			t.Fatalf("frame %d = %q, want %q", i, got[i], want)
		}
	}
	link.Disconnect()
}
