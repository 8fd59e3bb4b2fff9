package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 1 * time.Second

// wsPeer adapts a gorilla websocket connection to room.Peer. Fan-out delivers
// from one goroutine per recipient, so all writes are serialized behind mu;
// gorilla connections support only one concurrent writer.
type wsPeer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	return &wsPeer{conn: conn}
}

func (p *wsPeer) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame with the given application code, then tears down
// the transport. The member's read loop observes the closure and runs its own
// teardown path.
func (p *wsPeer) Close(code int, reason string) error {
	p.mu.Lock()
	_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
	p.mu.Unlock()
	return p.conn.Close()
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}
