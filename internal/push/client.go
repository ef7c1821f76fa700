package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"campus-chat/internal/apperr"
	"campus-chat/internal/httpx"
	"campus-chat/internal/identity"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	frameTimeout   = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// FrameHandler receives every inbound frame of a connection. It must not
// panic or block indefinitely; failures go back through c.SendError.
type FrameHandler interface {
	HandleFrame(ctx context.Context, c *Client, frame []byte)
}

type ClientOptions struct {
	SendBuffer int
	FrameRate  float64
	FrameBurst int
}

// Client is one live connection of one principal.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	principal identity.Principal
	limiter   *rate.Limiter
	log       zerolog.Logger
}

func (c *Client) UserID() string { return c.principal.SubjectID }

func (c *Client) Principal() identity.Principal { return c.principal }

// SendEvent queues ev for this connection only.
func (c *Client) SendEvent(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.UserID()][c]; !ok {
		return ErrNotConnected
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SendError reports err on the error channel of this connection.
func (c *Client) SendError(err error) {
	ev := NewEvent(ChannelError, TypeError, ErrorPayload{
		Code:    string(apperr.KindOf(err)),
		Message: apperr.Message(err),
	})
	if sendErr := c.SendEvent(ev); sendErr != nil {
		c.log.Debug().Err(sendErr).Msg("could not report error to connection")
	}
}

func (c *Client) ReadPump(handler FrameHandler) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug().Err(err).Msg("connection closed")
			}
			return
		}
		if !c.limiter.Allow() {
			c.SendError(apperr.Validation("too many frames, slow down"))
			continue
		}

		ctx, cancel := context.WithTimeout(identity.WithPrincipal(context.Background(), c.principal), frameTimeout)
		handler.HandleFrame(ctx, c, frame)
		cancel()
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Queued events share one frame, newline separated.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !c.principal.Valid(time.Now()) {
				data, _ := json.Marshal(NewEvent(ChannelError, TypeError, ErrorPayload{
					Code:    string(apperr.KindAuthentication),
					Message: "credential expired",
				}))
				c.conn.WriteMessage(websocket.TextMessage, data)
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "credential expired"))
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs upgrades an authenticated request and starts both pumps.
func ServeWs(hub *Hub, handler FrameHandler, opts ClientOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := identity.FromContext(r.Context())
		if !ok {
			httpx.Error(w, apperr.Authentication("missing authentication token"))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := &Client{
			hub:       hub,
			conn:      conn,
			send:      make(chan []byte, opts.SendBuffer),
			principal: p,
			limiter:   rate.NewLimiter(rate.Limit(opts.FrameRate), opts.FrameBurst),
			log:       hub.log.With().Str("user", p.SubjectID).Logger(),
		}
		if !hub.register(client) {
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump(handler)
	}
}
