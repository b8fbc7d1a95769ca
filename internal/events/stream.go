package events

import (
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"options_ledger/internal/core"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var (
	streamActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_event_stream_active_connections",
		Help: "Current number of connected event stream subscribers",
	})

	streamRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_event_stream_rejected_total",
		Help: "Total number of rejected event stream connections",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(streamActiveConnections)
	prometheus.MustRegister(streamRejectedTotal)
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// StreamConfig bounds the websocket endpoint
type StreamConfig struct {
	AllowedOrigins []string // "*" accepts any origin
	MaxConnections int
	RateLimit      float64 // new connections per second per IP, 0 disables
	RateBurst      int
}

// Stream upgrades requests to websockets and pumps hub messages to them
type Stream struct {
	hub            *Hub
	logger         core.ILogger
	upgrader       websocket.Upgrader
	allowedOrigins []string
	connSemaphore  chan struct{}
	rateLimit      rate.Limit
	rateBurst      int
	ipLimiters     sync.Map // map[string]*rate.Limiter
}

// NewStream creates the websocket handler
func NewStream(hub *Hub, cfg StreamConfig, logger core.ILogger) *Stream {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1000
	}
	s := &Stream{
		hub:            hub,
		logger:         logger.WithField("component", "event_stream"),
		allowedOrigins: cfg.AllowedOrigins,
		connSemaphore:  make(chan struct{}, cfg.MaxConnections),
		rateLimit:      rate.Limit(cfg.RateLimit),
		rateBurst:      cfg.RateBurst,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Stream) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		s.logger.Warn("Rejected stream connection with invalid Origin", "origin", origin, "error", err)
		streamRejectedTotal.WithLabelValues("invalid_origin").Inc()
		return false
	}
	originStr := parsed.Scheme + "://" + parsed.Host
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == originStr {
			return true
		}
	}
	s.logger.Warn("Rejected stream connection from unauthorized origin",
		"origin", origin, "remote_addr", r.RemoteAddr)
	streamRejectedTotal.WithLabelValues("invalid_origin").Inc()
	return false
}

func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.rateLimit > 0 {
		ip := remoteIP(r)
		if !s.limiter(ip).Allow() {
			s.logger.Warn("Stream rate limit exceeded", "ip", ip)
			streamRejectedTotal.WithLabelValues("rate_limit").Inc()
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
	}

	select {
	case s.connSemaphore <- struct{}{}:
		streamActiveConnections.Inc()
		defer func() {
			<-s.connSemaphore
			streamActiveConnections.Dec()
		}()
	default:
		s.logger.Warn("Max stream connections reached")
		streamRejectedTotal.WithLabelValues("connection_limit").Inc()
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Stream upgrade failed", "error", err)
		return
	}

	client := NewClient(uuid.NewString())
	s.hub.Register(client)
	s.logger.Info("Subscriber connected", "client_id", client.id, "remote_addr", r.RemoteAddr)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writePump(conn, client)
	}()
	go func() {
		defer wg.Done()
		s.readPump(conn, client)
	}()
	wg.Wait()

	conn.Close()
	s.logger.Info("Subscriber disconnected", "client_id", client.id)
}

func (s *Stream) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.Outbox():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("Stream write failed", "client_id", client.id, "error", err)
				// unblock the read pump
				conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// readPump only services pongs and close frames; subscribers send nothing
func (s *Stream) readPump(conn *websocket.Conn, client *Client) {
	defer s.hub.Unregister(client)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("Stream read error", "client_id", client.id, "error", err)
			}
			return
		}
	}
}

func (s *Stream) limiter(ip string) *rate.Limiter {
	if v, ok := s.ipLimiters.Load(ip); ok {
		return v.(*rate.Limiter)
	}
	actual, _ := s.ipLimiters.LoadOrStore(ip, rate.NewLimiter(s.rateLimit, s.rateBurst))
	return actual.(*rate.Limiter)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
