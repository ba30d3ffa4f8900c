package control

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// safeConn serializes writes on a websocket connection; gorilla allows one
// concurrent writer only
type safeConn struct {
	conn  *websocket.Conn
	mutex sync.Mutex
}

func newSafeConn(conn *websocket.Conn) *safeConn {
	return &safeConn{conn: conn}
}

func (c *safeConn) WriteJSON(v interface{}) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *safeConn) WriteClose(code int, text string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

func (c *safeConn) ReadJSON(v interface{}) error {
	return c.conn.ReadJSON(v)
}

func (c *safeConn) Close() error {
	return c.conn.Close()
}
