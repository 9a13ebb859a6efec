// Package eventstore is an append-only log of loan events in PostgreSQL with
// optimistic concurrency per stream.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrNoEvents            = errors.New("no events to append")
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS loan_events (
	id BIGSERIAL PRIMARY KEY,
	stream_id UUID NOT NULL,
	stream_type TEXT NOT NULL,
	event_type TEXT NOT NULL,
	data JSONB NOT NULL,
	metadata JSONB,
	version INT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (stream_id, version)
);`

// Event is one recorded fact about a stream, usually a loan.
type Event struct {
	ID         int64             `json:"id"`
	StreamID   uuid.UUID         `json:"streamId"`
	StreamType string            `json:"streamType"`
	Type       string            `json:"type"`
	Data       json.RawMessage   `json:"data"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Version    int               `json:"version"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// NewEvent marshals data into an event of the given type.
func NewEvent(eventType string, data any, metadata map[string]string) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return Event{Type: eventType, Data: raw, Metadata: metadata}, nil
}

type Store struct {
	db     *sql.DB
	tracer trace.Tracer
	now    func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{
		db:     db,
		tracer: otel.Tracer("libracirc/eventstore"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates the event table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create loan_events: %w", err)
	}
	return nil
}

// Append writes events after expectedVersion. It fails with
// ErrConcurrencyConflict if the stream has moved on.
func (s *Store) Append(ctx context.Context, streamID uuid.UUID, streamType string, expectedVersion int, events []Event) (err error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("stream.id", streamID.String()),
			attribute.String("stream.type", streamType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if len(events) == 0 {
		return ErrNoEvents
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM loan_events WHERE stream_id = $1`, streamID,
	).Scan(&current); err != nil {
		return fmt.Errorf("query current version: %w", err)
	}
	if current != expectedVersion {
		span.SetAttributes(attribute.Int("actual.version", current))
		return ErrConcurrencyConflict
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO loan_events (stream_id, stream_type, event_type, data, metadata, version, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, event := range events {
		version := expectedVersion + i + 1
		metadata, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}

		var id int64
		err = stmt.QueryRowContext(ctx, streamID, streamType, event.Type, []byte(event.Data), metadata, version, s.now()).Scan(&id)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.id", id),
			attribute.Int("event.version", version),
			attribute.String("event.type", event.Type),
		))
	}

	if err := tx.Commit(); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrConcurrencyConflict
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Load returns a stream's events in version order.
func (s *Store) Load(ctx context.Context, streamID uuid.UUID) ([]Event, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(attribute.String("stream.id", streamID.String())))
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stream_id, stream_type, event_type, data, metadata, version, recorded_at
		FROM loan_events
		WHERE stream_id = $1
		ORDER BY version ASC`, streamID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// Version returns the latest version of a stream, zero if it has none.
func (s *Store) Version(ctx context.Context, streamID uuid.UUID) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM loan_events WHERE stream_id = $1`, streamID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("query version: %w", err)
	}
	return version, nil
}

// Since returns up to limit events recorded after the event with id afterID,
// across all streams.
func (s *Store) Since(ctx context.Context, afterID int64, limit int) ([]Event, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.since",
		trace.WithAttributes(
			attribute.Int64("after.id", afterID),
			attribute.Int("limit", limit),
		))
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stream_id, stream_type, event_type, data, metadata, version, recorded_at
		FROM loan_events
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query event stream: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			e        Event
			data     []byte
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.StreamID, &e.StreamType, &e.Type, &data, &metadata, &e.Version, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Data = data
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of event %d: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
