package ws

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/auth"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // token is checked before upgrade
	},
}

// defaultChannels is what a client gets when it names none.
var defaultChannels = []string{"tables", "kds"}

// Client is one screen connected to the hub. channels and closed belong to
// the hub goroutine.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	role     string
	channels []string
	send     chan []byte
	closed   bool
}

// command is what a screen may send: {"action":"subscribe","channel":"room:12"}.
type command struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// handle applies one client command. Unknown actions and channels the role
// may not see are ignored.
func (c *Client) handle(raw []byte) {
	var cmd command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		log.Debug().Err(err).Msg("ws: bad command")
		return
	}
	ch := strings.TrimSpace(cmd.Channel)
	if ch == "" {
		return
	}
	switch cmd.Action {
	case "subscribe":
		if !allowed(ch, c.role) {
			log.Warn().Str("role", c.role).Str("channel", ch).Msg("ws: subscribe refused")
			return
		}
		c.hub.Subscribe(c, ch, true)
	case "unsubscribe":
		c.hub.Subscribe(c, ch, false)
	}
}

// ReadPump applies subscribe commands until the peer goes away.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.leaveAll(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("ws: read")
			}
			return
		}
		c.handle(msg)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
// The application runs WritePump in a per-connection goroutine
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
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current websocket message
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
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// parseChannels reads ?channels=a,b keeping only what role may see.
func parseChannels(raw, role string) []string {
	if strings.TrimSpace(raw) == "" {
		return slices.Clone(defaultChannels)
	}
	var out []string
	seen := map[string]bool{}
	for _, ch := range strings.Split(raw, ",") {
		ch = strings.TrimSpace(ch)
		if ch == "" || seen[ch] {
			continue
		}
		if !allowed(ch, role) {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	return out
}

// allowed keeps the reception and room feeds away from floor and kitchen roles.
func allowed(channel, role string) bool {
	if channel != "reception" && !strings.HasPrefix(channel, "room:") {
		return true
	}
	return enum.IsElevated(role) || role == enum.RoleRecepcao
}

// ServeWS handles WebSocket requests from clients
// Endpoint: WS /ws?token=JWT&channels=tables,kds
func ServeWS(hub *Hub, jwtSecret string, w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := auth.ValidateToken(jwtSecret, tokenStr)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	channels := parseChannels(r.URL.Query().Get("channels"), claims.Role)
	if len(channels) == 0 {
		http.Error(w, "no channel allowed", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws: upgrade")
		return
	}

	client := &Client{
		hub:      hub,
		conn:     conn,
		role:     claims.Role,
		channels: channels,
		send:     make(chan []byte, 256),
	}
	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
