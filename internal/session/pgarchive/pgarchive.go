// Package pgarchive writes final snapshots of ended sessions to
// PostgreSQL. The in-memory registry stays the source of truth for
// live sessions; the archive is write-only from the service's point of
// view and archive failures never block session teardown.
package pgarchive

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/medtriage/internal/session"
)

var tracer = otel.Tracer("github.com/linnemanlabs/medtriage/internal/session/pgarchive")

//go:embed schema.sql
var schema string

// Archive persists ended-session snapshots in PostgreSQL.
type Archive struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Archive backed by pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Archive, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Archive{pool: pool}, nil
}

// Archive upserts the final snapshot of an ended session.
func (a *Archive) Archive(ctx context.Context, s *session.Session) error {
	ctx, span := tracer.Start(ctx, "pgarchive.Archive", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	history, err := json.Marshal(s.Exchanges(0))
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	alertLog, err := json.Marshal(s.AlertLog)
	if err != nil {
		return fmt.Errorf("marshal alert log: %w", err)
	}
	if s.AlertLog == nil {
		alertLog = []byte("[]")
	}

	const query = `
		INSERT INTO consultation_archive (
			room_name, patient_id, location, hardware_id,
			emergency_suspected, emergency_confirmed, alerts_triggered,
			history, alert_log, started_at, ended_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (room_name) DO UPDATE SET
			emergency_suspected = EXCLUDED.emergency_suspected,
			emergency_confirmed = EXCLUDED.emergency_confirmed,
			alerts_triggered    = EXCLUDED.alerts_triggered,
			history             = EXCLUDED.history,
			alert_log           = EXCLUDED.alert_log,
			ended_at            = EXCLUDED.ended_at`

	if _, err := a.pool.Exec(ctx, query,
		s.ID, s.PatientID, s.Location, s.HardwareID,
		s.Suspected, s.Confirmed, s.AlertsTriggered,
		history, alertLog, s.StartedAt, s.EndedAt,
	); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert archive row: %w", err)
	}
	return nil
}
