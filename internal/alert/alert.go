package alert

import (
	"context"
	"strings"
	"sync"
	"time"

	"taproom/internal/core"
	"taproom/pkg/retry"
)

type AlertLevel string

const (
	Info     AlertLevel = "INFO"
	Warning  AlertLevel = "WARNING"
	Error    AlertLevel = "ERROR"
	Critical AlertLevel = "CRITICAL"
)

type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

type AlertManager struct {
	channels []AlertChannel
	logger   core.ILogger
	mu       sync.RWMutex
}

func NewAlertManager(logger core.ILogger) *AlertManager {
	return &AlertManager{
		channels: make([]AlertChannel, 0),
		logger:   logger.WithField("component", "alert_manager"),
	}
}

func (am *AlertManager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

func (am *AlertManager) Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string) {
	payload := AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	am.logger.Info("Triggering alert", "title", title, "level", level)

	am.mu.RLock()
	defer am.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ch := range am.channels {
		wg.Add(1)
		go func(c AlertChannel) {
			defer wg.Done()
			// Create a timeout context for each channel
			timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			// Webhook hiccups are common enough to be worth a few
			// attempts before giving up.
			err := retry.Do(timeoutCtx, retry.WebhookPolicy, func(error) bool { return true }, func() error {
				return c.Send(timeoutCtx, payload)
			})
			if err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
	// Delivery stays async so alerting never blocks the price cycle.
}

// Notify adapts severity strings to alert levels. It satisfies the notifier
// interfaces of components that should not depend on this package's types.
func (am *AlertManager) Notify(severity, title, message string) {
	level := Info
	switch strings.ToLower(severity) {
	case "warning":
		level = Warning
	case "error":
		level = Error
	case "critical":
		level = Critical
	}
	am.Alert(context.Background(), title, message, level, nil)
}
