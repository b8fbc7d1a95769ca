// Package websocket provides a reconnecting WebSocket subscriber
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"options_ledger/internal/core"
	"options_ledger/pkg/retry"
	"options_ledger/pkg/telemetry"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// MessageHandler handles incoming WebSocket messages
type MessageHandler func(message []byte)

// Config tunes the subscriber
type Config struct {
	URL    string
	Header http.Header

	PingInterval time.Duration // 0 disables client pings
	PingWait     time.Duration
	PongWait     time.Duration

	// Reconnect paces dial attempts. MaxAttempts 0 keeps trying until the context ends.
	Reconnect retry.Policy
}

// DefaultConfig returns the settings used by the CLI
func DefaultConfig(url string) Config {
	return Config{
		URL:          url,
		PingInterval: 30 * time.Second,
		PingWait:     10 * time.Second,
		PongWait:     60 * time.Second,
		Reconnect:    retry.Policy{InitialBackoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second},
	}
}

// Client is a resilient WebSocket subscriber
type Client struct {
	cfg     Config
	handler MessageHandler
	dialer  *websocket.Dialer

	mu          sync.Mutex
	conn        *websocket.Conn
	onConnected func()

	logger core.ILogger

	tracer      trace.Tracer
	msgCounter  metric.Int64Counter
	connCounter metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a new WebSocket client
func NewClient(cfg Config, handler MessageHandler, logger core.ILogger) *Client {
	meter := telemetry.GetMeter("ws-client")

	msgCounter, _ := meter.Int64Counter("ws_messages_total",
		metric.WithDescription("Total number of WebSocket messages received"))
	connCounter, _ := meter.Int64Counter("ws_connections_total",
		metric.WithDescription("WebSocket dial attempts by result"))
	latencyHist, _ := meter.Float64Histogram("ws_message_processing_latency_seconds",
		metric.WithDescription("Latency of processing WebSocket messages in seconds"))

	return &Client{
		cfg:         cfg,
		handler:     handler,
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:      logger.WithField("component", "ws_client").WithField("url", cfg.URL),
		tracer:      telemetry.GetTracer("ws-client"),
		msgCounter:  msgCounter,
		connCounter: connCounter,
		latencyHist: latencyHist,
	}
}

// SetOnConnected sets the callback run after every successful dial
func (c *Client) SetOnConnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// Connected reports whether a session is open
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run keeps a session open until ctx is done, reconnecting when it drops. It returns nil
// on cancellation and an error when the server refuses the handshake or dialing gives up.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		c.mu.Lock()
		c.conn = conn
		onConnected := c.onConnected
		c.mu.Unlock()

		c.logger.Info("WebSocket connected")
		if onConnected != nil {
			onConnected()
		}

		c.session(ctx, conn)

		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("WebSocket session lost, reconnecting")
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, span := c.tracer.Start(ctx, "WS Connect",
		trace.WithAttributes(attribute.String("ws.url", c.cfg.URL)),
	)
	defer span.End()

	var conn *websocket.Conn
	err := retry.Do(ctx, c.cfg.Reconnect, nil, func(attempt int) error {
		ws, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
		if err != nil {
			c.connCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "error")))
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return retry.Permanent(fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, err))
			}
			c.logger.Debug("WebSocket dial failed", "attempt", attempt+1, "error", err)
			return err
		}
		c.connCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))
		conn = ws
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return conn, nil
}

// session reads until the connection fails or ctx ends, with a heartbeat alongside
func (c *Client) session(ctx context.Context, conn *websocket.Conn) {
	sessionCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		c.closeConn(conn)
	}()

	if c.cfg.PongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		})
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.heartbeat(sessionCtx, conn)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, websocket.ErrCloseSent) {
				c.logger.Debug("WebSocket read ended", "error", err)
			}
			return
		}

		start := time.Now()
		c.msgCounter.Add(ctx, 1)
		if c.handler != nil {
			c.handler(message)
		}
		c.latencyHist.Record(ctx, time.Since(start).Seconds())
	}
}

// heartbeat pings on an interval and closes conn when ctx ends, which unblocks the reader
func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	var tick <-chan time.Time
	if c.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
			return
		case <-tick:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.PingWait)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) closeConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
	_ = conn.Close()
}
