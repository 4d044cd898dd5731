package postgres

import (
	"context"
	"database/sql"

	"github.com/alfredjeanlab/tasknotify/internal/store"
)

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryRecordEvent(ctx context.Context, db executor, r *store.Record) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO notification_events (type, actor_id, payload, emitted_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, recorded_at`,
		r.Type, nullString(r.ActorID), []byte(r.Payload), r.EmittedAt,
	).Scan(&r.ID, &r.RecordedAt)
}

func queryListEvents(ctx context.Context, db executor, limit int) ([]*store.Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, type, actor_id, payload, emitted_at, recorded_at
		FROM notification_events
		ORDER BY emitted_at DESC, id DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
