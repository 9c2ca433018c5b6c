package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeDetection is sent when a batch finished detection
	EventTypeDetection EventType = "detection"
	// EventTypeEntityUpdated is sent when a reviewer changes an entity status
	EventTypeEntityUpdated EventType = "entity_updated"
	// EventTypeExport is sent after every export attempt
	EventTypeExport EventType = "export"
	// EventTypeStatus carries coordinator status line messages
	EventTypeStatus EventType = "status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	BatchID   string      `json:"batch_id,omitempty"`
	Data      interface{} `json:"data"`
}

// DetectionEvent summarizes a finished detection run
type DetectionEvent struct {
	Documents    int            `json:"documents"`
	Entities     int            `json:"entities"`
	Pending      int            `json:"pending"`
	BySource     map[string]int `json:"by_source"`
	NERAvailable bool           `json:"ner_available"`
}

// EntityEvent describes a review change. It never carries original text.
type EntityEvent struct {
	ID      string `json:"id"`
	Token   string `json:"token"`
	Type    string `json:"type"`
	BlockID string `json:"block_id"`
	Status  string `json:"status"`
	Pending int    `json:"pending"`
}

// ExportEvent reports an export outcome
type ExportEvent struct {
	ExportID        string      `json:"export_id"`
	State           string      `json:"state"`
	Pending         int         `json:"pending"`
	Leaks           []LeakEvent `json:"leaks,omitempty"`
	TextLocation    string      `json:"text_location,omitempty"`
	MappingLocation string      `json:"mapping_location,omitempty"`
}

// LeakEvent locates a residual leak without its content
type LeakEvent struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	Line   int    `json:"line"`
}

// StatusEvent is a status line message
type StatusEvent struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	Message  string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string              `json:"type"`
	Data SubscriptionRequest `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	IP           string
	UserAgent    string
}

func (c *Client) subscribed(t EventType) bool {
	if c.Subscription == nil || len(c.Subscription.Events) == 0 {
		return true
	}
	for _, e := range c.Subscription.Events {
		if e == t {
			return true
		}
	}
	return false
}
