package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLogger writes money-movement events to the audit_events table.
// Fire-and-forget: a failed write is logged and dropped, never surfaced
// to the transfer pipeline.
type AuditLogger struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewAuditLogger(pool *pgxpool.Pool, log *slog.Logger) *AuditLogger {
	return &AuditLogger{pool: pool, log: log}
}

func (a *AuditLogger) Record(ctx context.Context, actorID, eventType, outcome string, detail map[string]any) {
	payload, err := json.Marshal(detail)
	if err != nil {
		payload = []byte("{}")
	}
	_, err = a.pool.Exec(ctx,
		`INSERT INTO audit_events (actor_id, event_type, outcome, detail, created_at)
		 VALUES ($1, $2, $3, $4, now())`,
		actorID, eventType, outcome, payload)
	if err != nil {
		a.log.Error("audit write failed", "event_type", eventType, "error", err)
	}
}
