package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goslack "github.com/slack-go/slack"

	"github.com/spamwatch/spamwatch/pkg/event"
	"github.com/spamwatch/spamwatch/pkg/metrics"
	"github.com/spamwatch/spamwatch/pkg/pipeline"
)

// Webhook posts a rendered message to the chat endpoint.
type Webhook interface {
	Post(ctx context.Context, blocks []goslack.Block) error
}

// SlackWebhook delivers messages to a Slack incoming webhook with a
// per-request timeout.
type SlackWebhook struct {
	url        string
	httpClient *http.Client
}

// NewSlackWebhook creates the webhook client.
func NewSlackWebhook(url string, timeout time.Duration) *SlackWebhook {
	return &SlackWebhook{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Post sends the blocks to the webhook. A non-200 response surfaces as an
// error.
func (w *SlackWebhook) Post(ctx context.Context, blocks []goslack.Block) error {
	msg := &goslack.WebhookMessage{
		Blocks: &goslack.Blocks{BlockSet: blocks},
	}
	if err := goslack.PostWebhookCustomHTTPContext(ctx, w.url, w.httpClient, msg); err != nil {
		return fmt.Errorf("posting to chat webhook: %w", err)
	}
	return nil
}

// Processor carries the notification stage's per-event logic.
type Processor struct {
	webhook Webhook
	logger  *slog.Logger

	successes prometheus.Counter
	failures  prometheus.Counter
}

// NewProcessor creates the notification processor.
func NewProcessor(webhook Webhook, m *metrics.Set) *Processor {
	return &Processor{
		webhook:   webhook,
		logger:    slog.Default().With("stage", "notification"),
		successes: m.Counter("deliveries_total", "Messages delivered to the chat webhook").WithLabelValues(),
		failures:  m.Counter("delivery_failures_total", "Failed chat webhook deliveries").WithLabelValues(),
	}
}

// Process renders and delivers the message for one classified event. The
// record is considered handled whatever the delivery outcome: a failed
// POST is logged and counted, never retried.
func (p *Processor) Process(ctx context.Context, kind event.Kind, payload []byte) error {
	var envelope event.Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return pipeline.Permanent(fmt.Errorf("decoding envelope for kind %s: %w", kind, err))
	}

	blocks, err := BuildMessage(kind, envelope)
	if err != nil {
		return pipeline.Permanent(err)
	}

	if err := p.webhook.Post(ctx, blocks); err != nil {
		p.failures.Inc()
		p.logger.Error("Chat delivery failed", "kind", kind, "error", err)
		return nil
	}

	p.successes.Inc()
	p.logger.Debug("Chat message delivered", "kind", kind)
	return nil
}
