package postgres

import (
	"database/sql"
	"encoding/json"

	"github.com/alfredjeanlab/tasknotify/internal/store"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanRecord scans a single notification_events row.
func scanRecord(row scannable) (*store.Record, error) {
	var (
		r       store.Record
		actorID sql.NullString
		payload []byte
	)
	if err := row.Scan(&r.ID, &r.Type, &actorID, &payload, &r.EmittedAt, &r.RecordedAt); err != nil {
		return nil, err
	}
	r.ActorID = actorID.String
	r.Payload = json.RawMessage(payload)
	return &r, nil
}

func scanRecords(rows *sql.Rows) ([]*store.Record, error) {
	var records []*store.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
