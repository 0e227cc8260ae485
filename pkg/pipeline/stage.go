// Package pipeline provides the stage runtime shared by every worker in
// the triage pipeline: a loop that polls one input stream, processes one
// record at a time, and acks by deletion only after the processing step
// (and any output append) has succeeded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spamwatch/spamwatch/pkg/broker"
	"github.com/spamwatch/spamwatch/pkg/event"
)

// ProcessFunc handles one record. A nil return acks the record; an error
// wrapped with Permanent drops it; any other error leaves it on the input
// stream for redelivery.
type ProcessFunc func(ctx context.Context, kind event.Kind, payload []byte) error

// EmitFunc appends one record to a stage's output stream. Processors hold
// one bound to their owning stage's Emit before the loop starts.
type EmitFunc func(ctx context.Context, kind event.Kind, value []byte) error

// Stage runs the poll/process/ack loop for one pipeline stage.
type Stage struct {
	name    string
	broker  *broker.Client
	in      string
	out     string
	process ProcessFunc
	block   time.Duration
	logger  *slog.Logger

	// onIteration, when set, is invoked after every loop iteration.
	// Used for queue-size gauge updates.
	onIteration func(ctx context.Context)

	// retryDelay spaces out redeliveries of a record that failed
	// transiently, since reads from position 0 return it immediately.
	retryDelay time.Duration
}

// New creates a stage. out may be empty for terminal stages that emit
// nothing (notification).
func New(name string, b *broker.Client, in, out string, block time.Duration, process ProcessFunc) *Stage {
	return &Stage{
		name:    name,
		broker:  b,
		in:      in,
		out:     out,
		process: process,
		block:   block,
		logger:  slog.Default().With("stage", name),

		retryDelay: time.Second,
	}
}

// SetRetryDelay overrides the pause before a transiently failed record is
// read again. Tests set this to zero.
func (s *Stage) SetRetryDelay(d time.Duration) {
	s.retryDelay = d
}

// SetIterationHook registers a callback run once per loop iteration.
func (s *Stage) SetIterationHook(fn func(ctx context.Context)) {
	s.onIteration = fn
}

// Emit appends one {kind: value} record to the stage's output stream.
func (s *Stage) Emit(ctx context.Context, kind event.Kind, value []byte) error {
	if s.out == "" {
		return fmt.Errorf("stage %s has no output stream", s.name)
	}
	if err := s.broker.Append(ctx, s.out, string(kind), value); err != nil {
		return err
	}
	s.logger.Debug("Emitted record", "stream", s.out, "kind", kind)
	return nil
}

// Run executes the stage loop until ctx is cancelled. Each blocking read is
// bounded so cancellation is observed within the block window. The in-flight
// process step always completes before Run returns.
func (s *Stage) Run(ctx context.Context) error {
	s.logger.Info("Stage started", "in", s.in, "out", s.out)
	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("Stage shutting down")
			return nil
		}

		if _, err := s.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				s.logger.Info("Stage shutting down")
				return nil
			}
			s.logger.Error("Broker error, backing off", "error", err)
			select {
			case <-ctx.Done():
				s.logger.Info("Stage shutting down")
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// RunOnce performs a single loop iteration: read at most one record,
// process it, and ack or leave it according to the outcome. It returns
// whether a record was seen. Broker failures are returned to the caller;
// process failures are fully handled here.
func (s *Stage) RunOnce(ctx context.Context) (bool, error) {
	defer func() {
		if s.onIteration != nil {
			s.onIteration(ctx)
		}
	}()

	msg, err := s.broker.ReadOne(ctx, s.in, s.block)
	if errors.Is(err, broker.ErrNoMessages) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	kind := event.Kind(msg.Kind)
	log := s.logger.With("message_id", msg.ID, "kind", kind)

	if !event.Valid(kind) {
		// Ingress rejects unknown kinds; anything unrecognized here is a
		// corrupt record and cannot be retried.
		log.Error("Dropping record with unrecognized kind")
		return true, s.broker.Ack(ctx, s.in, msg.ID)
	}

	procErr := s.process(ctx, kind, msg.Payload)
	switch {
	case procErr == nil:
		if err := s.broker.Ack(ctx, s.in, msg.ID); err != nil {
			return true, err
		}
		log.Debug("Record processed")
	case IsPermanent(procErr):
		log.Info("Dropping record after permanent failure", "error", procErr)
		if err := s.broker.Ack(ctx, s.in, msg.ID); err != nil {
			return true, err
		}
	default:
		// Transient: the record stays on the input stream and is
		// redelivered on the next read.
		log.Warn("Transient failure, record left for redelivery", "error", procErr)
		if s.retryDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.retryDelay):
			}
		}
	}
	return true, nil
}
