package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const DefaultMaxAttempts = 10

type Config struct {
	// MaxAttempts bounds replays of a record before it is dead-lettered.
	// Zero or negative means DefaultMaxAttempts.
	MaxAttempts int
}

// Queue is an append-only log of changes made while the remote store was
// unreachable. Records replay oldest first.
type Queue struct {
	storage Storage
	clock   clockwork.Clock
	metrics MetricsCollector
	config  Config

	// flushMu serializes flush passes so replay order holds across callers
	flushMu sync.Mutex
}

func NewQueue(storage Storage, clock clockwork.Clock, metrics MetricsCollector, cfg Config) *Queue {
	if metrics == nil {
		metrics = NoOpMetricsCollector{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		storage: storage,
		clock:   clock,
		metrics: metrics,
		config:  cfg,
	}
}

// Storage exposes the backing store for state keys.
func (q *Queue) Storage() Storage { return q.storage }

// Enqueue appends rec. A zero ID or enqueue time is filled in.
func (q *Queue) Enqueue(ctx context.Context, rec Record) (Record, error) {
	if rec.Table == "" {
		return Record{}, fmt.Errorf("enqueue: table is required")
	}
	if len(rec.Payload) == 0 {
		return Record{}, fmt.Errorf("enqueue %s/%d: payload is required", rec.Table, rec.EntityID)
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.EnqueuedAt.IsZero() {
		rec.EnqueuedAt = q.clock.Now().UTC().Truncate(time.Millisecond)
	}
	if err := q.storage.Append(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("enqueue %s/%d: %w", rec.Table, rec.EntityID, err)
	}

	log.Debug().
		Str("record_id", rec.ID.String()).
		Str("table", rec.Table).
		Int("entity_id", rec.EntityID).
		Msg("queued offline change")
	q.recordDepth(ctx)
	return rec, nil
}

// Reject stores a change the remote store refused outright as a dead letter.
// It is never queued for replay.
func (q *Queue) Reject(ctx context.Context, rec Record, cause error) (DeadLetter, error) {
	if rec.Table == "" {
		return DeadLetter{}, fmt.Errorf("reject: table is required")
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := q.clock.Now().UTC().Truncate(time.Millisecond)
	if rec.EnqueuedAt.IsZero() {
		rec.EnqueuedAt = now
	}
	rec.Attempts++
	rec.LastError = cause.Error()

	dl := DeadLetter{Record: rec, Reason: cause.Error(), FailedAt: now}
	if err := q.storage.MoveToDeadLetter(ctx, dl); err != nil {
		return DeadLetter{}, fmt.Errorf("reject %s/%d: %w", rec.Table, rec.EntityID, err)
	}

	log.Warn().
		Str("record_id", rec.ID.String()).
		Str("table", rec.Table).
		Int("entity_id", rec.EntityID).
		Str("reason", dl.Reason).
		Msg("rejected change moved to dead letter")
	q.recordDepth(ctx)
	return dl, nil
}

// Flush replays every pending record through sender in insertion order. Each
// send completes before the next starts. A failed record stays queued and the
// pass continues with the next one. The returned error is non-nil only when
// the queue itself could not be read.
func (q *Queue) Flush(ctx context.Context, teamID string, sender Sender) (FlushResult, error) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	var result FlushResult
	records, err := q.storage.List(ctx)
	if err != nil {
		return result, fmt.Errorf("list offline records: %w", err)
	}
	if len(records) == 0 {
		return result, nil
	}

	start := q.clock.Now()
	log.Info().Int("count", len(records)).Str("team_id", teamID).Msg("flushing offline queue")

	for i, rec := range records {
		if ctx.Err() != nil {
			result.Retained += len(records) - i
			result.Errors = append(result.Errors, ctx.Err())
			break
		}

		sendStart := q.clock.Now()
		sendErr := sender.Send(ctx, teamID, rec)
		q.metrics.RecordSendAttempt(rec.Table, sendErr == nil, q.clock.Since(sendStart))

		if sendErr == nil {
			if err := q.storage.Delete(ctx, rec.ID); err != nil && !errors.Is(err, ErrRecordNotFound) {
				log.Error().Err(err).Str("record_id", rec.ID.String()).Msg("failed to remove flushed record")
			}
			result.Sent++
			continue
		}

		result.Errors = append(result.Errors, fmt.Errorf("%s/%d: %w", rec.Table, rec.EntityID, sendErr))
		rec.Attempts++
		rec.LastError = sendErr.Error()

		if errors.Is(sendErr, ErrUnresolvedReference) || rec.Attempts >= q.config.MaxAttempts {
			dl := DeadLetter{Record: rec, Reason: sendErr.Error(), FailedAt: q.clock.Now().UTC()}
			if err := q.storage.MoveToDeadLetter(ctx, dl); err != nil {
				log.Error().Err(err).Str("record_id", rec.ID.String()).Msg("failed to dead-letter record")
				result.Retained++
				continue
			}
			log.Warn().
				Str("record_id", rec.ID.String()).
				Str("table", rec.Table).
				Int("attempts", rec.Attempts).
				Str("reason", dl.Reason).
				Msg("offline record moved to dead letter")
			result.DeadLettered = append(result.DeadLettered, dl)
			continue
		}

		if err := q.storage.MarkAttempt(ctx, rec.ID, rec.Attempts, rec.LastError); err != nil {
			log.Error().Err(err).Str("record_id", rec.ID.String()).Msg("failed to record attempt")
		}
		log.Warn().
			Err(sendErr).
			Str("record_id", rec.ID.String()).
			Str("table", rec.Table).
			Int("attempt", rec.Attempts).
			Msg("offline record replay failed, will retry")
		result.Retained++
	}

	q.metrics.RecordFlush(result.Sent, result.Retained, len(result.DeadLettered), q.clock.Since(start))
	q.recordDepth(ctx)

	log.Info().
		Int("sent", result.Sent).
		Int("retained", result.Retained).
		Int("dead_lettered", len(result.DeadLettered)).
		Msg("flushed offline queue")
	return result, nil
}

// Status reports pending and dead-lettered counts
func (q *Queue) Status(ctx context.Context) (Status, error) {
	records, err := q.storage.List(ctx)
	if err != nil {
		return Status{}, err
	}
	dead, err := q.storage.DeadLetters(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{Pending: len(records), Failed: len(dead)}, nil
}

func (q *Queue) Pending(ctx context.Context) ([]Record, error) {
	return q.storage.List(ctx)
}

func (q *Queue) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	return q.storage.DeadLetters(ctx)
}

func (q *Queue) recordDepth(ctx context.Context) {
	st, err := q.Status(ctx)
	if err != nil {
		return
	}
	q.metrics.RecordQueueDepth(st.Pending, st.Failed)
}
