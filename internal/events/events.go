package events

import (
	"time"
)

// EventType represents different types of outbound events in the system
type EventType string

const (
	EventConnected        EventType = "connected"
	EventSetupForming     EventType = "setup_forming"
	EventSetupReady       EventType = "setup_ready"
	EventSetupTriggered   EventType = "setup_triggered"
	EventPriceUpdate      EventType = "price_update"
	EventAdminAlert       EventType = "admin_alert"
	EventLevelApproach    EventType = "level_approach"
	EventCoachingUpdate   EventType = "coaching_update"
	EventCompanionMessage EventType = "companion_message"
)

// Event is the wire record pushed to connected clients.
// Serialized as a single JSON text frame per message.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates an event stamped with the current time
func NewEvent(eventType EventType, data map[string]interface{}) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewConnected builds the reserved handshake event sent once at stream open
func NewConnected(userID string) Event {
	return NewEvent(EventConnected, map[string]interface{}{
		"user":      userID,
		"timestamp": time.Now().Unix(),
	})
}

// NewPriceUpdate builds a per-user price update event
func NewPriceUpdate(symbol string, price, changePercent float64) Event {
	return NewEvent(EventPriceUpdate, map[string]interface{}{
		"symbol":         symbol,
		"price":          price,
		"change_percent": changePercent,
	})
}

// NewAdminAlert builds a broadcast alert event
func NewAdminAlert(title, message, severity string) Event {
	return NewEvent(EventAdminAlert, map[string]interface{}{
		"title":    title,
		"message":  message,
		"severity": severity,
	})
}

// NewLevelApproach builds a per-user level approach notification
func NewLevelApproach(symbol string, price, levelPrice float64, levelType string) Event {
	return NewEvent(EventLevelApproach, map[string]interface{}{
		"symbol":      symbol,
		"price":       price,
		"level_price": levelPrice,
		"level_type":  levelType,
	})
}

// NewCoachingUpdate builds a per-user coaching trigger event
func NewCoachingUpdate(symbol, trigger, note string, price float64) Event {
	return NewEvent(EventCoachingUpdate, map[string]interface{}{
		"symbol":  symbol,
		"trigger": trigger,
		"note":    note,
		"price":   price,
	})
}

// NewCompanionMessage builds a per-user companion chat message event
func NewCompanionMessage(message string) Event {
	return NewEvent(EventCompanionMessage, map[string]interface{}{
		"message": message,
	})
}
