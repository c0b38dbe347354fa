// Package core defines the core interfaces for the taproom pricing system
package core

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// Broadcaster pushes cycle results to subscribed display clients. Delivery is
// fire-and-forget: implementations must never block the price cycle.
type Broadcaster interface {
	BroadcastPriceUpdate(update PriceUpdate)
	BroadcastTimerUpdate(update TimerUpdate)
}

// NopBroadcaster discards all events. Useful for tests and headless runs.
type NopBroadcaster struct{}

func (NopBroadcaster) BroadcastPriceUpdate(PriceUpdate) {}
func (NopBroadcaster) BroadcastTimerUpdate(TimerUpdate) {}
