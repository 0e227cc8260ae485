package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/spamwatch/spamwatch/pkg/event"
	"github.com/spamwatch/spamwatch/pkg/metrics"
	"github.com/spamwatch/spamwatch/pkg/pipeline"
)

// Scorer is the model-call dependency of the processor.
type Scorer interface {
	Predict(ctx context.Context, kind string, object []byte) (prediction int, score float64, err error)
}

// Processor carries the classification stage's per-event logic.
type Processor struct {
	model  Scorer
	logger *slog.Logger

	// Emit is bound to the owning stage's output stream before the loop
	// starts.
	Emit pipeline.EmitFunc

	successes  prometheus.Counter
	failures   prometheus.Counter
	eventTypes *prometheus.CounterVec
	scores     prometheus.Histogram
}

// NewProcessor creates the classification processor.
func NewProcessor(model Scorer, m *metrics.Set) *Processor {
	return &Processor{
		model:      model,
		logger:     slog.Default().With("stage", "classification"),
		successes:  m.Counter("successful_requests_total", "Successful model requests").WithLabelValues(),
		failures:   m.Counter("failed_requests_total", "Failed model requests").WithLabelValues(),
		eventTypes: m.Counter("event_types_total", "Events classified by kind", "type"),
		scores: m.Histogram("scores", "Spam score returned by the classifier",
			[]float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0}),
	}
}

// Process scores the retrieved object and emits a result envelope. Model
// failures do not block the pipeline: the envelope is marked with the
// "N/A" prediction and a zero score instead of being dropped or retried.
func (p *Processor) Process(ctx context.Context, kind event.Kind, payload []byte) error {
	if !json.Valid(payload) {
		return pipeline.Permanent(fmt.Errorf("malformed object payload for kind %s", kind))
	}

	envelope := event.Envelope{EventData: payload}

	prediction, score, err := p.model.Predict(ctx, string(kind), payload)
	if err != nil {
		p.failures.Inc()
		p.logger.Error("Model call failed, emitting unscored envelope", "kind", kind, "error", err)
		envelope.Prediction = event.PredictionNA
		envelope.Score = 0.0
	} else {
		p.successes.Inc()
		p.scores.Observe(score)
		envelope.Prediction = prediction
		envelope.Score = score
	}

	out, err := json.Marshal(envelope)
	if err != nil {
		return pipeline.Permanent(fmt.Errorf("encoding envelope for kind %s: %w", kind, err))
	}
	if err := p.Emit(ctx, kind, out); err != nil {
		return err
	}

	p.eventTypes.WithLabelValues(string(kind)).Inc()
	p.logger.Debug("Envelope emitted", "kind", kind,
		"prediction", envelope.Prediction, "score", envelope.Score)
	return nil
}
