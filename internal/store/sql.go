package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mailwatch/internal/event"
)

// SQLRepository persists canonical events in an append-only table,
// speaking either postgres (pgx) or sqlite (modernc).
type SQLRepository struct {
	db      *sql.DB
	dialect string
}

func NewSQLRepository(db *sql.DB, dialect string) (*SQLRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("nil db")
	}
	d := strings.ToLower(strings.TrimSpace(dialect))
	if d != "postgres" && d != "sqlite" {
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
	return &SQLRepository{db: db, dialect: d}, nil
}

// EnsureSchema creates the events table when absent.
func (s *SQLRepository) EnsureSchema(ctx context.Context) error {
	idColumn := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == "postgres" {
		idColumn = "id BIGSERIAL PRIMARY KEY"
	}
	ddl := `CREATE TABLE IF NOT EXISTS mail_events (
		` + idColumn + `,
		provider TEXT NOT NULL,
		kind TEXT NOT NULL,
		occurred_at TIMESTAMP NOT NULL,
		correlation_id TEXT,
		data TEXT NOT NULL,
		raw_payload TEXT,
		ingested_at TIMESTAMP NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_mail_events_correlation ON mail_events (correlation_id)`)
	return err
}

func (s *SQLRepository) StoreEvent(ctx context.Context, ev event.CanonicalEvent) error {
	if err := validateEvent(ev); err != nil {
		return err
	}
	dataJSON, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	if ev.Data == nil {
		dataJSON = []byte("{}")
	}
	query := `INSERT INTO mail_events (provider, kind, occurred_at, correlation_id, data, raw_payload, ingested_at) VALUES (` +
		s.ph(1) + "," + s.ph(2) + "," + s.ph(3) + "," + s.ph(4) + "," + s.ph(5) + "," + s.ph(6) + "," + s.ph(7) + ")"
	_, err = s.db.ExecContext(ctx, query,
		ev.Provider,
		string(ev.Kind),
		ev.OccurredAt.UTC(),
		nullable(ev.CorrelationID),
		string(dataJSON),
		string(ev.RawPayload),
		time.Now().UTC(),
	)
	return err
}

func (s *SQLRepository) RecentEvents(ctx context.Context, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, provider, kind, occurred_at, correlation_id, data, raw_payload, ingested_at
		FROM mail_events ORDER BY id DESC LIMIT ` + s.ph(1)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]StoredEvent, 0, limit)
	for rows.Next() {
		var (
			stored        StoredEvent
			kind          string
			correlationID sql.NullString
			dataJSON      string
			rawPayload    sql.NullString
		)
		if err := rows.Scan(&stored.ID, &stored.Event.Provider, &kind, &stored.Event.OccurredAt,
			&correlationID, &dataJSON, &rawPayload, &stored.IngestedAt); err != nil {
			return nil, err
		}
		stored.Event.Kind = event.Kind(kind)
		stored.Event.CorrelationID = correlationID.String
		if dataJSON != "" && dataJSON != "{}" {
			_ = json.Unmarshal([]byte(dataJSON), &stored.Event.Data)
		}
		if rawPayload.Valid {
			stored.Event.RawPayload = json.RawMessage(rawPayload.String)
		}
		out = append(out, stored)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Oldest first, matching the memory repository.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLRepository) ph(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func nullable(v string) interface{} {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
