package ws

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

// channelMessage routes a payload to the subscribers of one channel.
type channelMessage struct {
	Channel string
	Payload []byte
}

// subscription adds (on) or removes a client from one channel.
type subscription struct {
	client  *Client
	channel string
	on      bool
}

// Hub maintains the set of active clients and fans payloads out by channel
// ("tables", "kds", "reception", "room:<n>").
type Hub struct {
	// Subscribed clients by channel
	rooms map[string]map[*Client]bool
	// every open client, including those with no channel left
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription

	broadcast chan channelMessage

	// closed when Run returns
	done chan struct{}

	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		broadcast:  make(chan channelMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx is done.
// This should be called as a goroutine: go hub.Run(ctx)
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			for _, ch := range slices.Clone(client.channels) {
				h.join(client, ch)
			}
			h.mu.Unlock()

		case sub := <-h.subscribe:
			h.mu.Lock()
			if !sub.client.closed {
				if sub.on {
					h.join(sub.client, sub.channel)
				} else {
					h.leave(sub.client, sub.channel)
				}
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.rooms[msg.Channel] {
				select {
				case client.send <- msg.Payload:
				default:
					// send buffer full
					h.drop(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// join and leave keep h.rooms and client.channels in step. Callers hold h.mu.
func (h *Hub) join(client *Client, ch string) {
	if h.rooms[ch] == nil {
		h.rooms[ch] = make(map[*Client]bool)
	}
	if h.rooms[ch][client] {
		return
	}
	h.rooms[ch][client] = true
	if !slices.Contains(client.channels, ch) {
		client.channels = append(client.channels, ch)
	}
}

func (h *Hub) leave(client *Client, ch string) {
	if clients, ok := h.rooms[ch]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, ch)
		}
	}
	client.channels = slices.DeleteFunc(client.channels, func(c string) bool { return c == ch })
}

// drop removes client from every channel and closes its send queue once.
// Callers hold h.mu.
func (h *Hub) drop(client *Client) {
	for _, ch := range slices.Clone(client.channels) {
		h.leave(client, ch)
	}
	delete(h.clients, client)
	if !client.closed {
		client.closed = true
		close(client.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.drop(c)
	}
}

// Broadcast queues payload for every subscriber of channel. It never blocks
// the caller; when the queue is full the event is dropped.
func (h *Hub) Broadcast(channel string, payload []byte) {
	select {
	case h.broadcast <- channelMessage{Channel: channel, Payload: payload}:
	default:
		log.Warn().Str("channel", channel).Msg("ws: broadcast queue full, event dropped")
	}
}

// Subscribe adds client to channel, or removes it when on is false. It is a
// no-op once the hub stopped.
func (h *Hub) Subscribe(client *Client, channel string, on bool) {
	select {
	case h.subscribe <- subscription{client: client, channel: channel, on: on}:
	case <-h.done:
	}
}

func (h *Hub) leaveAll(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribers counts the clients on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[channel])
}
