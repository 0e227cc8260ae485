// Package ingress implements the webhook ingress stage: platform webhook
// bodies arrive over HTTP, are classified into an event kind, and appended
// verbatim to the event stream.
package ingress

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/spamwatch/spamwatch/pkg/broker"
	"github.com/spamwatch/spamwatch/pkg/event"
	"github.com/spamwatch/spamwatch/pkg/metrics"
)

// Server is the webhook ingress HTTP server.
type Server struct {
	broker *broker.Client
	engine *gin.Engine
	logger *slog.Logger

	requests   *prometheus.CounterVec
	eventTypes *prometheus.CounterVec
	errors     prometheus.Counter
	queueSize  *prometheus.GaugeVec
	latency    prometheus.Histogram
}

// NewServer creates the ingress server. The broker client is the only
// shared mutable state and is safe for concurrent appends.
func NewServer(b *broker.Client, m *metrics.Set) *Server {
	s := &Server{
		broker:     b,
		logger:     slog.Default().With("stage", "ingress"),
		requests:   m.Counter("requests_total", "HTTP requests received", "method", "endpoint"),
		eventTypes: m.Counter("event_types_total", "Webhook events received by kind", "event_type"),
		errors:     m.Counter("errors_total", "Errors appending events to the broker").WithLabelValues(),
		queueSize:  m.Gauge("queue_size", "Records pending on the event stream", "stream"),
		latency:    m.Histogram("request_latency_seconds", "Time taken to handle an incoming event", nil),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.POST("/event", s.handleEvent)
	engine.GET("/metrics", gin.WrapH(m.Handler()))
	s.engine = engine
	return s
}

// Handler exposes the router for http.Server wiring and tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// handleEvent classifies the webhook body and appends it to the event
// stream. The caller always gets 200: unhandled bodies emit nothing, and
// broker failures are logged and counted rather than surfaced.
func (s *Server) handleEvent(c *gin.Context) {
	timer := prometheus.NewTimer(s.latency)
	defer timer.ObserveDuration()
	s.requests.WithLabelValues(http.MethodPost, "/event").Inc()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.logger.Warn("Failed to read webhook body", "error", err)
		s.errors.Inc()
		c.JSON(http.StatusOK, gin.H{"message": "Event received"})
		return
	}

	kind, ok := event.KindFromWebhook(body)
	if !ok {
		s.logger.Debug("Unhandled webhook event")
		c.JSON(http.StatusOK, gin.H{"message": "Event received"})
		return
	}
	s.eventTypes.WithLabelValues(string(kind)).Inc()

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.broker.Append(ctx, broker.StreamEvent, string(kind), body); err != nil {
		s.logger.Error("Failed to append event to broker", "kind", kind, "error", err)
		s.errors.Inc()
	} else if n, err := s.broker.Len(ctx, broker.StreamEvent); err == nil {
		s.queueSize.WithLabelValues(broker.StreamEvent).Set(float64(n))
	}

	c.JSON(http.StatusOK, gin.H{"message": "Event received"})
}
