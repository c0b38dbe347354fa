package liveserver

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// MessageType constants
const (
	TypePriceUpdate   = "price_update"
	TypeTimerUpdate   = "timer_update"
	TypeStateSnapshot = "state_snapshot"
	TypeDrinksChanged = "drinks_changed"
	TypeSettings      = "settings_changed"
	TypeSystemStatus  = "system_status"
)

// NewMessage - Helper function to create a Message
func NewMessage(msgType string, data interface{}) Message {
	return Message{
		Type: msgType,
		Data: data,
	}
}

// NewPriceUpdateMessage - Helper to create typed messages
func NewPriceUpdateMessage(data interface{}) Message {
	return NewMessage(TypePriceUpdate, data)
}

// NewTimerUpdateMessage - Helper to create typed messages
func NewTimerUpdateMessage(data interface{}) Message {
	return NewMessage(TypeTimerUpdate, data)
}

// NewStateSnapshotMessage - Helper to create typed messages
func NewStateSnapshotMessage(data interface{}) Message {
	return NewMessage(TypeStateSnapshot, data)
}

// NewDrinksChangedMessage - Helper to create typed messages
func NewDrinksChangedMessage(data interface{}) Message {
	return NewMessage(TypeDrinksChanged, data)
}

// NewSettingsMessage - Helper to create typed messages
func NewSettingsMessage(data interface{}) Message {
	return NewMessage(TypeSettings, data)
}

// NewSystemStatusMessage - Helper to create typed messages
func NewSystemStatusMessage(data interface{}) Message {
	return NewMessage(TypeSystemStatus, data)
}
