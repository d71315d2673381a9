package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"verdict/internal/platform/postgres"
	dErrors "verdict/pkg/domain-errors"
)

// PostgresStore appends audit entries to PostgreSQL. The table is insert-only;
// there is no update or delete path.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgres creates a PostgreSQL-backed audit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, timeout: postgres.DefaultQueryTimeout}
}

// WithTimeout overrides the per-call query timeout.
func (s *PostgresStore) WithTimeout(d time.Duration) *PostgresStore {
	s.timeout = d
	return s
}

// EnsureSchema creates the audit table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_log (
			id         UUID PRIMARY KEY,
			actor      TEXT NOT NULL,
			actor_role TEXT NOT NULL DEFAULT '',
			action     TEXT NOT NULL,
			policy_id  BIGINT,
			request_id TEXT NOT NULL DEFAULT '',
			rule_id    BIGINT,
			before     JSONB,
			after      JSONB,
			comment    TEXT NOT NULL DEFAULT '',
			timestamp  TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, entry Entry) error {
	ctx, cancel := postgres.WithQueryTimeout(ctx, s.timeout)
	defer cancel()

	before := nullableJSON(entry.Before)
	after := nullableJSON(entry.After)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor, actor_role, action, policy_id, request_id, rule_id, before, after, comment, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.Actor, entry.ActorRole, string(entry.Action), entry.PolicyID,
		entry.RequestID, entry.RuleID, before, after, entry.Comment, entry.Timestamp,
	)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "append audit entry")
	}
	return nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := postgres.WithQueryTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor, actor_role, action, policy_id, request_id, rule_id,
		       COALESCE(before, 'null'), COALESCE(after, 'null'), comment, timestamp
		FROM audit_log ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "list audit entries")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			entry  Entry
			action string
		)
		err := rows.Scan(&entry.ID, &entry.Actor, &entry.ActorRole, &action, &entry.PolicyID,
			&entry.RequestID, &entry.RuleID, &entry.Before, &entry.After, &entry.Comment, &entry.Timestamp)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "scan audit entry")
		}
		entry.Action = Action(action)
		out = append(out, entry)
	}
	return out, rows.Err()
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
