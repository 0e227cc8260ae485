// Package verify implements the verification stage: events from trusted
// actors are dropped, everything else is forwarded untouched. It also
// serves the on-demand trust query endpoint used by the retrieval stage.
package verify

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/spamwatch/spamwatch/pkg/event"
	"github.com/spamwatch/spamwatch/pkg/gitlab"
	"github.com/spamwatch/spamwatch/pkg/metrics"
	"github.com/spamwatch/spamwatch/pkg/pipeline"
)

// PlatformClient is the slice of the platform API the stage needs for
// group-owner email resolution.
type PlatformClient interface {
	GroupMembers(ctx context.Context, groupID int64) ([]gitlab.Member, error)
	UserEmail(ctx context.Context, id int64) (string, error)
}

// Processor carries the verification stage's per-event logic.
type Processor struct {
	trust    *TrustList
	platform PlatformClient
	logger   *slog.Logger

	// Emit is bound to the owning stage's output stream before the loop
	// starts.
	Emit pipeline.EmitFunc

	events *prometheus.CounterVec
}

// NewProcessor creates the verification processor.
func NewProcessor(trust *TrustList, platform PlatformClient, m *metrics.Set) *Processor {
	return &Processor{
		trust:    trust,
		platform: platform,
		logger:   slog.Default().With("stage", "verification"),
		events:   m.Counter("events_total", "Verification outcomes by kind", "kind", "outcome"),
	}
}

// Process decides whether the event's actor is trusted. Trusted events are
// consumed without forwarding; untrusted ones pass through unchanged.
// Snippet checks carry no actor and are always forwarded; their authors are
// verified per snippet by the retrieval stage.
func (p *Processor) Process(ctx context.Context, kind event.Kind, payload []byte) error {
	if kind == event.SnippetCheck {
		if err := p.Emit(ctx, kind, payload); err != nil {
			return err
		}
		p.events.WithLabelValues(string(kind), "forwarded").Inc()
		return nil
	}

	email, err := p.extractEmail(ctx, kind, payload)
	if err != nil {
		// Platform API failure during group-owner resolution: the event
		// cannot be verified and is dropped rather than retried forever.
		p.events.WithLabelValues(string(kind), "dropped").Inc()
		return pipeline.Permanent(err)
	}
	if email == "" {
		p.logger.Debug("No actor email in payload, dropping", "kind", kind)
		p.events.WithLabelValues(string(kind), "dropped").Inc()
		return nil
	}

	domainVerified := p.trust.DomainVerified(email)
	userVerified := !domainVerified && p.trust.UserVerified(email)
	p.logger.Info("Actor verification checked",
		"kind", kind, "email", email,
		"domain_verified", domainVerified, "user_verified", userVerified)

	if domainVerified || userVerified {
		p.events.WithLabelValues(string(kind), "trusted").Inc()
		return nil
	}

	if err := p.Emit(ctx, kind, payload); err != nil {
		return err
	}
	p.events.WithLabelValues(string(kind), "forwarded").Inc()
	return nil
}
