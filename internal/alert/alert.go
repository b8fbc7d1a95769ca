// Package alert fans operator notifications out to chat channels
package alert

import (
	"context"
	"sync"
	"time"

	"options_ledger/internal/core"
	"options_ledger/pkg/concurrency"
)

type AlertLevel string

const (
	Info     AlertLevel = "INFO"
	Warning  AlertLevel = "WARNING"
	Error    AlertLevel = "ERROR"
	Critical AlertLevel = "CRITICAL"
)

const sendTimeout = 10 * time.Second

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

// AlertManager queues each alert once per channel on a small worker pool. Identical alerts
// (same level, title and message) raised within the cooldown are suppressed.
type AlertManager struct {
	logger core.ILogger
	clock  core.IClock
	pool   *concurrency.WorkerPool

	mu       sync.Mutex
	channels []AlertChannel
	cooldown time.Duration
	lastSent map[string]time.Time

	inflight sync.WaitGroup
}

func NewAlertManager(logger core.ILogger) *AlertManager {
	log := logger.WithField("component", "alert_manager")
	return &AlertManager{
		logger: log,
		clock:  core.SystemClock{},
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "alerts",
			MaxWorkers:  2,
			MaxCapacity: 64,
			NonBlocking: true,
		}, logger),
		lastSent: make(map[string]time.Time),
	}
}

func (am *AlertManager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

// SetCooldown sets the window in which a repeated alert is dropped. 0 disables it.
func (am *AlertManager) SetCooldown(d time.Duration) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.cooldown = d
}

// ChannelCount is the number of configured channels
func (am *AlertManager) ChannelCount() int {
	am.mu.Lock()
	defer am.mu.Unlock()
	return len(am.channels)
}

// Alert queues delivery and returns without waiting for it
func (am *AlertManager) Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string) {
	now := am.clock.Now()
	channels, ok := am.admit(string(level)+"|"+title+"|"+message, now)
	if !ok {
		return
	}

	payload := AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: now,
		Fields:    fields,
	}
	am.logger.Info("Triggering alert", "title", title, "level", level, "channels", len(channels))

	ctx = context.WithoutCancel(ctx)
	for _, ch := range channels {
		c := ch
		am.inflight.Add(1)
		err := am.pool.Submit(func() {
			defer am.inflight.Done()
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			defer cancel()
			if err := c.Send(sendCtx, payload); err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "title", title, "error", err)
			}
		})
		if err != nil {
			am.inflight.Done()
			am.logger.Warn("Alert dropped", "channel", c.Name(), "title", title, "error", err)
		}
	}
}

// admit reports the channels to deliver to, or false when there are none or the alert
// repeats within the cooldown
func (am *AlertManager) admit(key string, now time.Time) ([]AlertChannel, bool) {
	am.mu.Lock()
	defer am.mu.Unlock()
	if len(am.channels) == 0 {
		return nil, false
	}
	if am.cooldown > 0 {
		if last, seen := am.lastSent[key]; seen && now.Sub(last) < am.cooldown {
			am.logger.Debug("Alert suppressed", "key", key)
			return nil, false
		}
		am.lastSent[key] = now
	}
	return append([]AlertChannel(nil), am.channels...), true
}

// Flush waits for queued deliveries
func (am *AlertManager) Flush() {
	am.inflight.Wait()
}

// Close flushes and stops the pool. Later alerts are dropped.
func (am *AlertManager) Close() {
	am.Flush()
	am.pool.Stop()
}
