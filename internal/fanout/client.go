package fanout

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second

	sendBuffer = 256
)

// outEvent is the wire shape of a server-to-viewer event.
type outEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// clientRequest is the wire shape of a viewer-to-server control message.
type clientRequest struct {
	Action   string `json:"action"`
	CameraID int64  `json:"camera_id"`
	Kind     string `json:"kind"`
	Duration int    `json:"duration,omitempty"`
}

// Client is one viewer websocket. Reads are handled on readPump, writes are
// funneled through a buffered channel drained by writePump, so event fanout
// never blocks on a slow socket.
type Client struct {
	sid     string
	session *Session
	conn    *websocket.Conn
	gateway *Gateway

	send chan outEvent
	done chan struct{}
}

func newClient(sid string, session *Session, conn *websocket.Conn, gw *Gateway) *Client {
	c := &Client{
		sid:     sid,
		session: session,
		conn:    conn,
		gateway: gw,
		send:    make(chan outEvent, sendBuffer),
		done:    make(chan struct{}),
	}
	session.client = c
	return c
}

// Send queues an event for delivery. Returns false when the client's buffer
// is full and the event was dropped.
func (c *Client) Send(event string, data []byte) bool {
	select {
	case c.send <- outEvent{Event: event, Data: data}:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// CloseExpired disconnects a client whose session expired.
func (c *Client) CloseExpired() {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session expired"),
		time.Now().Add(time.Second))
	c.conn.Close()
}

// run drives both pumps and blocks until the connection dies.
func (c *Client) run() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		close(c.done)
		c.conn.Close()
		c.gateway.disconnect(c)
	}()

	c.conn.SetReadLimit(4 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("sid", c.sid).Msg("Viewer socket closed unexpectedly")
			}
			return
		}

		var req clientRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.sendError("malformed request")
			continue
		}

		switch req.Action {
		case "subscribe":
			if err := c.gateway.subscribe(c, req); err != nil {
				c.sendError(err.Error())
			}
		case "unsubscribe":
			c.gateway.unsubscribe(c, req)
		default:
			c.sendError("unknown action")
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.gateway.writeTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.gateway.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendError(msg string) {
	data, _ := json.Marshal(map[string]string{"error": msg})
	c.Send("error", data)
}
