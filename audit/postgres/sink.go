// Package postgres stores audit batches in the audit_logs table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/folio-works/adminguard/audit"
	"github.com/folio-works/adminguard/audit/postgres/migrations"
)

const (
	columnsPerRow = 10

	// maxRowsPerStatement keeps each INSERT well under the 65535 parameter limit
	maxRowsPerStatement = 500
)

const insertPrefix = `INSERT INTO audit_logs (id, event_type, severity, actor_id, resource, action, ip_address, user_agent, details, created_at) VALUES `

// Open connects to Postgres through the pgx stdlib driver and verifies the connection
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded migrations
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

// Sink writes each batch inside one transaction. Re-delivered events
// are ignored by id.
type Sink struct {
	db *sql.DB
}

var _ audit.Sink = (*Sink)(nil)

// NewSink creates a Postgres audit sink
func NewSink(db *sql.DB) *Sink {
	return &Sink{db: db}
}

// Write inserts the batch
func (s *Sink) Write(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db begin error: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for start := 0; start < len(events); start += maxRowsPerStatement {
		end := min(start+maxRowsPerStatement, len(events))
		query, args, err := buildInsert(events[start:end])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("db commit error: %w", err)
	}
	return nil
}

func buildInsert(events []audit.Event) (string, []any, error) {
	var b strings.Builder
	b.WriteString(insertPrefix)

	args := make([]any, 0, len(events)*columnsPerRow)
	for i, ev := range events {
		details := []byte("{}")
		if len(ev.Details) > 0 {
			var err error
			details, err = json.Marshal(ev.Details)
			if err != nil {
				return "", nil, fmt.Errorf("marshal details of event %s: %w", ev.ID, err)
			}
		}

		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 1; c <= columnsPerRow; c++ {
			if c > 1 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*columnsPerRow+c)
		}
		b.WriteByte(')')

		args = append(args,
			ev.ID,
			ev.Type,
			ev.Severity.String(),
			nullable(ev.ActorID),
			nullable(ev.Resource),
			nullable(ev.Action),
			nullable(ev.IP),
			nullable(ev.UserAgent),
			string(details),
			ev.Timestamp,
		)
	}
	b.WriteString(" ON CONFLICT (id) DO NOTHING")

	return b.String(), args, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
