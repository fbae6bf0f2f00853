package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeScanProgress carries processed/total counts
	EventTypeScanProgress EventType = "scan_progress"
	// EventTypeScanResult carries the outcome for one photo
	EventTypeScanResult EventType = "scan_result"
	// EventTypeScanRun carries the outcome of a scheduled run
	EventTypeScanRun EventType = "scan_run"
	// EventTypeThumbnailState carries thumbnail cache state changes
	EventTypeThumbnailState EventType = "thumbnail_state"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type   string      `json:"type"`
	Events []EventType `json:"events,omitempty"`
}

// HubConfig contains configuration for the WebSocket hub
type HubConfig struct {
	MaxConnections       int
	ReadBufferSize       int
	WriteBufferSize      int
	PingInterval         time.Duration
	PongTimeout          time.Duration
	WriteTimeout         time.Duration
	MaxMessageSize       int64
	AllowedOrigins       []string
	BroadcastProgress    bool
	BroadcastResults     bool
	BroadcastThumbnails  bool
	BroadcastConnections bool
}

// HubStats tracks WebSocket hub statistics
type HubStats struct {
	TotalConnections   int64     `json:"total_connections"`
	ActiveConnections  int64     `json:"active_connections"`
	TotalMessages      int64     `json:"total_messages"`
	TotalBroadcasts    int64     `json:"total_broadcasts"`
	DroppedEvents      int64     `json:"dropped_events"`
	LastConnectionTime time.Time `json:"last_connection_time"`
	LastBroadcastTime  time.Time `json:"last_broadcast_time"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	conn        *websocket.Conn
	send        chan Event
	events      map[EventType]bool // nil receives everything
	ConnectedAt time.Time
	IP          string
	UserAgent   string
}
