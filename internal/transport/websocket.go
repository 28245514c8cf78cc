package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// WebsocketDialer dials the backend over gorilla/websocket. Header is
// attached to the handshake request; the ambient session credential is
// supplied by the embedding environment, not minted here.
type WebsocketDialer struct {
	Header http.Header
}

// Dial opens a websocket connection. The context bounds the handshake.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
	}
	c, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil && err != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: c}, nil
}

// wsConn adapts *websocket.Conn to the Conn seam.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w *wsConn) WriteMessage(data []byte) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	// Best-effort clean close so the peer sees code 1000 rather than an
	// abnormal drop.
	deadline := time.Now().Add(writeWait)
	w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return w.conn.Close()
}

// isNormalClosure reports whether a read error represents a clean peer
// close (code 1000). Fakes signal it with ErrNormalClosure.
func isNormalClosure(err error) bool {
	if errors.Is(err, ErrNormalClosure) {
		return true
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseNormalClosure
	}
	return false
}
