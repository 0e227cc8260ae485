// Package retrieval implements the retrieval stage: the raw webhook
// payload is replaced by the authoritative object fetched from the
// platform API, keyed by event kind.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/spamwatch/spamwatch/pkg/event"
	"github.com/spamwatch/spamwatch/pkg/gitlab"
	"github.com/spamwatch/spamwatch/pkg/metrics"
	"github.com/spamwatch/spamwatch/pkg/pipeline"
	"github.com/spamwatch/spamwatch/pkg/verify"
)

// PlatformClient is the slice of the platform API the stage fetches from.
type PlatformClient interface {
	User(ctx context.Context, id int64) (json.RawMessage, error)
	Project(ctx context.Context, id int64) (json.RawMessage, error)
	Issue(ctx context.Context, projectID, issueID int64) (json.RawMessage, error)
	IssueNote(ctx context.Context, projectID, issueID, noteID int64) (json.RawMessage, error)
	Group(ctx context.Context, id int64) (json.RawMessage, error)
	PublicSnippets(ctx context.Context) ([]gitlab.Snippet, error)
}

// Verifier answers trust queries for snippet authors.
type Verifier interface {
	VerifyEmail(ctx context.Context, email string) (verify.VerifyEmailResponse, error)
}

// Processor carries the retrieval stage's per-event logic.
type Processor struct {
	platform PlatformClient
	verifier Verifier
	logger   *slog.Logger

	// Emit is bound to the owning stage's output stream before the loop
	// starts.
	Emit pipeline.EmitFunc

	processed      *prometheus.CounterVec
	processingTime prometheus.Histogram
}

// NewProcessor creates the retrieval processor.
func NewProcessor(platform PlatformClient, verifier Verifier, m *metrics.Set) *Processor {
	return &Processor{
		platform:       platform,
		verifier:       verifier,
		logger:         slog.Default().With("stage", "retrieval"),
		processed:      m.Counter("events_processed_total", "Events processed by kind and outcome", "kind", "outcome"),
		processingTime: m.Histogram("event_processing_seconds", "Time taken to process an event", nil),
	}
}

// Process fetches the authoritative object for the event and emits it.
// A 404 is permanent: the object disappeared between webhook and fetch.
// Retry-exhausted transient failures leave the record for redelivery.
func (p *Processor) Process(ctx context.Context, kind event.Kind, payload []byte) error {
	timer := prometheus.NewTimer(p.processingTime)
	defer timer.ObserveDuration()

	if kind == event.SnippetCheck {
		return p.processSnippets(ctx)
	}

	object, err := p.fetch(ctx, kind, payload)
	if err != nil {
		if errors.Is(err, gitlab.ErrNotFound) || errors.Is(err, gitlab.ErrDecode) {
			p.processed.WithLabelValues(string(kind), "dropped").Inc()
			return pipeline.Permanent(err)
		}
		p.processed.WithLabelValues(string(kind), "retried").Inc()
		return err
	}

	if err := p.Emit(ctx, kind, object); err != nil {
		return err
	}
	p.processed.WithLabelValues(string(kind), "emitted").Inc()
	return nil
}

func (p *Processor) fetch(ctx context.Context, kind event.Kind, payload []byte) (json.RawMessage, error) {
	switch {
	case event.IsUser(kind):
		var body struct {
			UserID *int64 `json:"user_id"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, decodeErr(kind, err)
		}
		if body.UserID == nil {
			return nil, missingField(kind, "user_id")
		}
		return p.platform.User(ctx, *body.UserID)

	case event.IsProject(kind):
		var body struct {
			ProjectID *int64 `json:"project_id"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, decodeErr(kind, err)
		}
		if body.ProjectID == nil {
			return nil, missingField(kind, "project_id")
		}
		return p.platform.Project(ctx, *body.ProjectID)

	case event.IsIssue(kind):
		var body struct {
			ObjectAttributes struct {
				ProjectID *int64 `json:"project_id"`
				ID        *int64 `json:"id"`
			} `json:"object_attributes"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, decodeErr(kind, err)
		}
		if body.ObjectAttributes.ProjectID == nil || body.ObjectAttributes.ID == nil {
			return nil, missingField(kind, "object_attributes")
		}
		return p.platform.Issue(ctx, *body.ObjectAttributes.ProjectID, *body.ObjectAttributes.ID)

	case event.IsIssueNote(kind):
		var body struct {
			ProjectID *int64 `json:"project_id"`
			Issue     struct {
				ID *int64 `json:"id"`
			} `json:"issue"`
			ObjectAttributes struct {
				ID *int64 `json:"id"`
			} `json:"object_attributes"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, decodeErr(kind, err)
		}
		if body.ProjectID == nil || body.Issue.ID == nil || body.ObjectAttributes.ID == nil {
			return nil, missingField(kind, "project_id/issue.id/object_attributes.id")
		}
		return p.platform.IssueNote(ctx, *body.ProjectID, *body.Issue.ID, *body.ObjectAttributes.ID)

	case event.IsGroup(kind):
		var body struct {
			GroupID *int64 `json:"group_id"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, decodeErr(kind, err)
		}
		if body.GroupID == nil {
			return nil, missingField(kind, "group_id")
		}
		return p.platform.Group(ctx, *body.GroupID)
	}
	return nil, fmt.Errorf("%w: no retrieval for kind %s", gitlab.ErrDecode, kind)
}

func decodeErr(kind event.Kind, err error) error {
	return fmt.Errorf("%w: %s payload: %v", gitlab.ErrDecode, kind, err)
}

func missingField(kind event.Kind, field string) error {
	return fmt.Errorf("%w: %s payload missing %s", gitlab.ErrDecode, kind, field)
}
