package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/folio-works/adminguard/audit"
)

func newSinkWithMock(t *testing.T) (*Sink, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewSink(db), mock, db
}

func testEvents(n int) []audit.Event {
	ts := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	events := make([]audit.Event, n)
	for i := range events {
		events[i] = audit.Event{
			ID:        "evt-" + string(rune('a'+i)),
			Type:      audit.EventLoginFailed,
			Severity:  audit.SeverityMedium,
			ActorID:   "admin",
			IP:        "203.0.113.7",
			Timestamp: ts,
			Details:   map[string]any{"reason": "bad_password"},
		}
	}
	return events
}

const insertPattern = `(?s)^INSERT\s+INTO\s+audit_logs\s*\(id,\s*event_type,\s*severity,.*\)\s*VALUES\s*\(\$1,.*\$10\)(, \(\$11,.*\$20\))?\s+ON\s+CONFLICT\s+\(id\)\s+DO\s+NOTHING$`

func TestWrite_Success(t *testing.T) {
	sink, mock, db := newSinkWithMock(t)
	defer db.Close()

	events := testEvents(2)

	mock.ExpectBegin()
	mock.ExpectExec(insertPattern).
		WithArgs(
			"evt-a", audit.EventLoginFailed, "MEDIUM",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			`{"reason":"bad_password"}`, events[0].Timestamp,
			"evt-b", audit.EventLoginFailed, "MEDIUM",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			`{"reason":"bad_password"}`, events[1].Timestamp,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	if err := sink.Write(context.Background(), events); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWrite_Empty(t *testing.T) {
	sink, mock, db := newSinkWithMock(t)
	defer db.Close()

	if err := sink.Write(context.Background(), nil); err != nil {
		t.Fatalf("Write(nil) error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("empty batch must not touch the database: %v", err)
	}
}

func TestWrite_ExecErrorRollsBack(t *testing.T) {
	sink, mock, db := newSinkWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(insertPattern).WillReturnError(errors.New("db down"))
	mock.ExpectRollback()

	err := sink.Write(context.Background(), testEvents(1))
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWrite_BeginError(t *testing.T) {
	sink, mock, db := newSinkWithMock(t)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err := sink.Write(context.Background(), testEvents(1))
	if err == nil || !strings.Contains(err.Error(), "db begin error") {
		t.Fatalf("expected begin error, got %v", err)
	}
}

func TestWrite_LargeBatchIsChunked(t *testing.T) {
	sink, mock, db := newSinkWithMock(t)
	defer db.Close()

	events := make([]audit.Event, maxRowsPerStatement+1)
	for i := range events {
		events[i] = audit.Event{ID: "id", Type: audit.EventLogout, Severity: audit.SeverityLow}
	}

	mock.ExpectBegin()
	mock.ExpectExec(`^INSERT INTO audit_logs`).WillReturnResult(sqlmock.NewResult(0, maxRowsPerStatement))
	mock.ExpectExec(`^INSERT INTO audit_logs`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := sink.Write(context.Background(), events); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestBuildInsert(t *testing.T) {
	query, args, err := buildInsert([]audit.Event{{ID: "1", Type: audit.EventLogout, Severity: audit.SeverityLow}})
	if err != nil {
		t.Fatalf("buildInsert error: %v", err)
	}
	if !strings.Contains(query, "($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)") {
		t.Errorf("unexpected placeholders: %s", query)
	}
	if len(args) != columnsPerRow {
		t.Fatalf("len(args) = %d, want %d", len(args), columnsPerRow)
	}
	if args[8] != "{}" {
		t.Errorf("empty details = %v, want {}", args[8])
	}
	if actor := args[3].(sql.NullString); actor.Valid {
		t.Error("empty actor id should be NULL")
	}

	_, _, err = buildInsert([]audit.Event{{ID: "1", Details: map[string]any{"bad": make(chan int)}}})
	if err == nil {
		t.Error("unmarshalable details should fail")
	}
}
