package main

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/coregx/wskit/websocket"
)

// ChatMessage represents a chat message in JSON format.
type ChatMessage struct {
	Type      string    `json:"type"`     // "join", "message", "leave"
	Username  string    `json:"username"` // Sender username
	Room      string    `json:"room"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

const defaultRoom = "lobby"

// newEchoHandler sends every message back to its sender.
func newEchoHandler(log *slog.Logger) websocket.Handler {
	return func(c *websocket.Conn) {
		log.Info("echo client connected", "conn_id", c.ID(), "remote_addr", c.RemoteAddr())

		c.OnMessage(func(m websocket.Message) {
			if err := c.Send(m); err != nil {
				log.Debug("echo failed", "conn_id", c.ID(), "error", err)
			}
		})
		c.OnClose(func(code websocket.CloseCode, reason string) {
			log.Info("echo client disconnected", "conn_id", c.ID(), "code", code.String(), "reason", reason)
		})
	}
}

// chatServer binds each connection to the room named by its "room" query
// parameter and relays messages to the other members.
type chatServer struct {
	host *websocket.Host
	log  *slog.Logger
}

func (s *chatServer) handle(c *websocket.Conn) {
	room, username := defaultRoom, "Anonymous"
	if u := c.URL(); u != nil {
		q := u.Query()
		if r := q.Get("room"); r != "" {
			room = r
		}
		if n := q.Get("username"); n != "" {
			username = n
		}
	}

	ch := s.host.Channel(room)
	err := ch.Bind(c)
	if errors.Is(err, websocket.ErrChannelClosed) {
		// The last member left in between.
		ch = s.host.Channel(room)
		err = ch.Bind(c)
	}
	if err != nil {
		s.log.Warn("bind failed", "room", room, "conn_id", c.ID(), "error", err)
		_ = c.Close(websocket.CloseInternalServerErr, "")
		return
	}
	s.log.Info("user joined", "room", room, "username", username, "conn_id", c.ID())

	s.publish(ch, c, ChatMessage{Type: "join", Username: username, Text: username + " joined the chat"})

	c.OnMessage(func(m websocket.Message) {
		// Plain text is accepted as well as a JSON ChatMessage.
		var msg ChatMessage
		if m.Type != websocket.TextMessage || sonnet.Unmarshal(m.Data, &msg) != nil || msg.Text == "" {
			msg = ChatMessage{Text: string(m.Data)}
		}
		msg.Type = "message"
		msg.Username = username
		s.publish(ch, c, msg)
	})

	c.OnClose(func(websocket.CloseCode, string) {
		s.log.Info("user left", "room", room, "username", username, "conn_id", c.ID())
		// c already left ch, so it reaches the remaining members only.
		s.publish(ch, nil, ChatMessage{Type: "leave", Username: username, Text: username + " left the chat"})
	})
}

// publish broadcasts msg to the room, skipping from.
func (s *chatServer) publish(ch *websocket.Channel, from *websocket.Conn, msg ChatMessage) {
	msg.Room = ch.Name()
	msg.Timestamp = time.Now()

	err := ch.Broadcast(msg, func(c *websocket.Conn, _ int, _ []*websocket.Conn) bool {
		return c != from
	})
	if err != nil {
		s.log.Warn("broadcast failed", "room", ch.Name(), "error", err)
	}
}
