package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/rxsense/rxsense/internal/platform/db"
)

// Event is a single audit trail entry. Details carries action-specific
// context and is stored as JSONB.
type Event struct {
	ID         uuid.UUID              `json:"id"`
	Action     string                 `json:"action"`
	ActorID    string                 `json:"actor_id"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Recorder persists audit events. Recording must never fail the operation
// being audited, so implementations log failures instead of returning them.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// PGRecorder writes audit events to the tenant's audit_event table.
type PGRecorder struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewPGRecorder(pool *pgxpool.Pool, logger zerolog.Logger) *PGRecorder {
	return &PGRecorder{pool: pool, logger: logger}
}

func (r *PGRecorder) Record(ctx context.Context, event Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var details []byte
	if event.Details != nil {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			r.logger.Warn().Err(err).Str("action", event.Action).Msg("marshal audit details")
			details = nil
		}
	}

	var err error
	if conn := db.ConnFromContext(ctx); conn != nil {
		_, err = conn.Exec(ctx, insertEventSQL,
			event.ID, event.Action, event.ActorID, event.EntityType, event.EntityID, details, event.CreatedAt)
	} else {
		_, err = r.pool.Exec(ctx, insertEventSQL,
			event.ID, event.Action, event.ActorID, event.EntityType, event.EntityID, details, event.CreatedAt)
	}
	if err != nil {
		r.logger.Error().Err(err).
			Str("action", event.Action).
			Str("entity_type", event.EntityType).
			Str("entity_id", event.EntityID).
			Msg("record audit event")
	}
}

const insertEventSQL = `
	INSERT INTO audit_event (id, action, actor_id, entity_type, entity_id, details, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

// LogRecorder writes audit events to the structured log. Used in tests and
// when no database is available.
type LogRecorder struct {
	logger zerolog.Logger
}

func NewLogRecorder(logger zerolog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) Record(ctx context.Context, event Event) {
	r.logger.Info().
		Str("action", event.Action).
		Str("actor_id", event.ActorID).
		Str("entity_type", event.EntityType).
		Str("entity_id", event.EntityID).
		Interface("details", event.Details).
		Msg("audit")
}
