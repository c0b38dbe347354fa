// Package broadcast adapts cycle events onto the live display server.
package broadcast

import (
	"taproom/internal/core"
	"taproom/pkg/concurrency"
	"taproom/pkg/liveserver"
)

// Sink is the outbound side: the live server's typed publish surface.
type Sink interface {
	BroadcastMessage(msgType string, data interface{})
}

// LiveBroadcaster fans cycle events out to displays. Delivery runs on a
// worker pool so a burst of events never stalls the price cycle.
type LiveBroadcaster struct {
	sink   Sink
	pool   *concurrency.WorkerPool
	logger core.ILogger
}

// New creates a broadcaster backed by the given sink. pool may be nil, in
// which case delivery is synchronous.
func New(sink Sink, pool *concurrency.WorkerPool, logger core.ILogger) *LiveBroadcaster {
	return &LiveBroadcaster{
		sink:   sink,
		pool:   pool,
		logger: logger.WithField("component", "broadcaster"),
	}
}

func (b *LiveBroadcaster) dispatch(msgType string, data interface{}) {
	if b.pool == nil {
		b.sink.BroadcastMessage(msgType, data)
		return
	}
	if err := b.pool.Submit(func() {
		b.sink.BroadcastMessage(msgType, data)
	}); err != nil {
		b.logger.Warn("Broadcast pool full, dropping event", "type", msgType, "error", err)
	}
}

// BroadcastPriceUpdate pushes a completed cycle's result to all displays.
func (b *LiveBroadcaster) BroadcastPriceUpdate(update core.PriceUpdate) {
	b.dispatch(liveserver.TypePriceUpdate, update)
}

// BroadcastTimerUpdate pushes the countdown to the next cycle.
func (b *LiveBroadcaster) BroadcastTimerUpdate(update core.TimerUpdate) {
	b.dispatch(liveserver.TypeTimerUpdate, update)
}

// BroadcastDrinksChanged announces a menu edit so displays re-render.
func (b *LiveBroadcaster) BroadcastDrinksChanged(data interface{}) {
	b.dispatch(liveserver.TypeDrinksChanged, data)
}

// BroadcastSettingsChanged announces a settings change.
func (b *LiveBroadcaster) BroadcastSettingsChanged(data interface{}) {
	b.dispatch(liveserver.TypeSettings, data)
}
