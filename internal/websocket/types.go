package websocket

import (
	"time"

	"github.com/coder/websocket"
)

// Message types understood by the @hotReload client script.
const (
	MessageFullReload = "full_reload"
	MessageError      = "error"
)

// Message is sent to every connected browser.
type Message struct {
	Type      string    `json:"type"`
	Path      string    `json:"path,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FullReload asks browsers to reload after path changed.
func FullReload(path string) Message {
	return Message{Type: MessageFullReload, Path: path, Timestamp: time.Now()}
}

// Client represents a live-reload connection.
type Client struct {
	conn        *websocket.Conn
	send        chan []byte
	ip          string
	connectedAt time.Time
}
