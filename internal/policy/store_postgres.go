package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"verdict/internal/platform/postgres"
	dErrors "verdict/pkg/domain-errors"
)

// PostgresStore persists rules in PostgreSQL. Conditions are stored as JSONB
// and parsed once on load; the column content is data, never SQL.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgres creates a PostgreSQL-backed rule store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, timeout: postgres.DefaultQueryTimeout}
}

// WithTimeout overrides the per-call query timeout.
func (s *PostgresStore) WithTimeout(d time.Duration) *PostgresStore {
	s.timeout = d
	return s
}

// EnsureSchema creates the policies table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS policies (
			id          BIGSERIAL PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			condition   JSONB NOT NULL,
			action      TEXT NOT NULL,
			priority    INT NOT NULL,
			active      BOOLEAN NOT NULL DEFAULT FALSE,
			confidence  INT NOT NULL DEFAULT 0,
			created_by  TEXT NOT NULL,
			approved_by TEXT,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			approved_at TIMESTAMPTZ
		)`)
	if err != nil {
		return fmt.Errorf("ensure policies schema: %w", err)
	}
	return nil
}

const ruleColumns = `id, name, description, condition, action, priority, active, confidence,
	created_by, COALESCE(approved_by, ''), created_at, updated_at, approved_at`

func (s *PostgresStore) Create(ctx context.Context, rule *Rule) error {
	ctx, cancel := postgres.WithQueryTimeout(ctx, s.timeout)
	defer cancel()

	cond, err := json.Marshal(rule.Condition)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "marshal condition")
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO policies (name, description, condition, action, priority, active, confidence, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`,
		rule.Name, rule.Description, cond, string(rule.Action), rule.Priority, rule.Active, rule.Confidence, rule.CreatedBy,
	)
	if err := row.Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return storeErr(err, "create policy")
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Rule, error) {
	ctx, cancel := postgres.WithQueryTimeout(ctx, s.timeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM policies WHERE id = $1`, id)
	return scanRule(row)
}

func (s *PostgresStore) Update(ctx context.Context, rule *Rule) error {
	ctx, cancel := postgres.WithQueryTimeout(ctx, s.timeout)
	defer cancel()

	cond, err := json.Marshal(rule.Condition)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "marshal condition")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE policies
		SET name = $2, description = $3, condition = $4, action = $5, priority = $6,
		    confidence = $7, updated_at = now()
		WHERE id = $1`,
		rule.ID, rule.Name, rule.Description, cond, string(rule.Action), rule.Priority, rule.Confidence,
	)
	if err != nil {
		return storeErr(err, "update policy")
	}
	return requireRow(res, rule.ID)
}

func (s *PostgresStore) SetActive(ctx context.Context, id int64, active bool, approvedBy string) (*Rule, error) {
	ctx, cancel := postgres.WithQueryTimeout(ctx, s.timeout)
	defer cancel()

	var row *sql.Row
	if active {
		row = s.db.QueryRowContext(ctx, `
			UPDATE policies
			SET active = TRUE, approved_by = $2, approved_at = now(), updated_at = now()
			WHERE id = $1
			RETURNING `+ruleColumns, id, approvedBy)
	} else {
		row = s.db.QueryRowContext(ctx, `
			UPDATE policies
			SET active = FALSE, approved_by = NULL, approved_at = NULL, updated_at = now()
			WHERE id = $1
			RETURNING `+ruleColumns, id)
	}
	return scanRule(row)
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	ctx, cancel := postgres.WithQueryTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE id = $1`, id)
	if err != nil {
		return storeErr(err, "delete policy")
	}
	return requireRow(res, id)
}

func (s *PostgresStore) List(ctx context.Context) ([]Rule, error) {
	return s.list(ctx, `SELECT `+ruleColumns+` FROM policies ORDER BY priority ASC, id ASC`)
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]Rule, error) {
	return s.list(ctx, `SELECT `+ruleColumns+` FROM policies WHERE active ORDER BY priority ASC, id ASC`)
}

func (s *PostgresStore) list(ctx context.Context, query string) ([]Rule, error) {
	ctx, cancel := postgres.WithQueryTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storeErr(err, "list policies")
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		rule   Rule
		cond   []byte
		action string
	)
	err := row.Scan(&rule.ID, &rule.Name, &rule.Description, &cond, &action, &rule.Priority,
		&rule.Active, &rule.Confidence, &rule.CreatedBy, &rule.ApprovedBy,
		&rule.CreatedAt, &rule.UpdatedAt, &rule.ApprovedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dErrors.New(dErrors.CodeNotFound, "policy not found")
	}
	if err != nil {
		return nil, storeErr(err, "scan policy")
	}
	rule.Action = Action(action)
	if err := json.Unmarshal(cond, &rule.Condition); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "unmarshal stored condition")
	}
	return &rule, nil
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(err, "rows affected")
	}
	if n == 0 {
		return dErrors.Newf(dErrors.CodeNotFound, "policy %d not found", id)
	}
	return nil
}

func storeErr(err error, op string) error {
	return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, op)
}
