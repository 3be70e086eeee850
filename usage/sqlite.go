package usage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/m4xw311/dealgate/errors"
	"github.com/m4xw311/dealgate/session"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// SQLiteSink appends records to a usage table.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite opens or creates the usage database at path.
func OpenSQLite(path string) (*SQLiteSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, errors.Wrapf(err, "usage: create data dir")
		}
	}
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "usage: open database")
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "usage: pragma %q", p)
		}
	}

	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "usage: migration")
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS usage_records (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id         TEXT    NOT NULL,
			conversation_id TEXT    NOT NULL,
			model           TEXT    NOT NULL,
			input_tokens    INTEGER NOT NULL,
			output_tokens   INTEGER NOT NULL,
			cost            REAL    NOT NULL,
			tool_calls      INTEGER NOT NULL,
			duration_ms     INTEGER NOT NULL,
			created_at      TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_usage_user ON usage_records(user_id);
		CREATE INDEX IF NOT EXISTS idx_usage_conv ON usage_records(conversation_id);
	`)
	return err
}

func (s *SQLiteSink) Record(ctx context.Context, caller session.Caller, conversationID string, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records (user_id, conversation_id, model, input_tokens, output_tokens, cost, tool_calls, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		caller.UserID, conversationID, rec.Model, rec.InputTokens, rec.OutputTokens, rec.Cost, rec.ToolCalls, rec.DurationMS,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrapf(err, "usage: insert record")
	}
	return nil
}

// Totals sums the recorded usage of one user.
func (s *SQLiteSink) Totals(ctx context.Context, userID string) (Record, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost), 0), COALESCE(SUM(tool_calls), 0), COALESCE(SUM(duration_ms), 0)
		 FROM usage_records WHERE user_id = ?`, userID,
	).Scan(&rec.InputTokens, &rec.OutputTokens, &rec.Cost, &rec.ToolCalls, &rec.DurationMS)
	if err != nil {
		return Record{}, errors.Wrapf(err, "usage: totals for %s", userID)
	}
	return rec, nil
}

// Close closes the underlying database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
