package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"verdict/internal/platform/postgres"
	id "verdict/pkg/domain"
	dErrors "verdict/pkg/domain-errors"
)

// PostgresStore persists approval requests in PostgreSQL. The version column
// carries the optimistic-concurrency precondition: UpdateIf compiles to a
// single UPDATE guarded by `version = $expected`, so concurrent writers never
// silently overwrite each other.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgres creates a PostgreSQL-backed request store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, timeout: postgres.DefaultQueryTimeout}
}

// WithTimeout overrides the per-call query timeout.
func (s *PostgresStore) WithTimeout(d time.Duration) *PostgresStore {
	s.timeout = d
	return s
}

// EnsureSchema creates the approval_requests table when it does not exist
// yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS approval_requests (
			id                 UUID PRIMARY KEY,
			requester_id       TEXT NOT NULL,
			requester_email    TEXT NOT NULL DEFAULT '',
			requester_role     TEXT NOT NULL DEFAULT '',
			risk_score         INT NOT NULL,
			amount             DOUBLE PRECISION NOT NULL,
			request_type       TEXT NOT NULL DEFAULT '',
			description        TEXT NOT NULL DEFAULT '',
			status             TEXT NOT NULL,
			escalated          BOOLEAN NOT NULL DEFAULT FALSE,
			escalation_reason  TEXT NOT NULL DEFAULT '',
			auto_decided       BOOLEAN NOT NULL DEFAULT FALSE,
			auto_rule_id       BIGINT,
			first_approver_id  UUID,
			first_approval_at  TIMESTAMPTZ,
			second_approver_id UUID,
			second_approval_at TIMESTAMPTZ,
			created_at         TIMESTAMPTZ NOT NULL,
			updated_at         TIMESTAMPTZ NOT NULL,
			version            BIGINT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("ensure approval_requests schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, req *Request) error {
	ctx, cancel := postgres.WithQueryTimeout(ctx, s.timeout)
	defer cancel()

	now := time.Now()
	req.CreatedAt = now
	req.UpdatedAt = now
	req.Version = 1
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approval_requests (
			id, requester_id, requester_email, requester_role, risk_score, amount,
			request_type, description, status, escalated, escalation_reason,
			auto_decided, auto_rule_id, first_approver_id, first_approval_at,
			second_approver_id, second_approval_at, created_at, updated_at, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		uuid.UUID(req.ID), req.RequesterID, req.RequesterEmail, req.RequesterRole,
		req.RiskScore, req.Amount, req.RequestType, req.Description, string(req.Status),
		req.Escalated, req.EscalationReason, req.AutoDecided, req.AutoRuleID,
		approverValue(req.FirstApproverID), req.FirstApprovalAt,
		approverValue(req.SecondApproverID), req.SecondApprovalAt,
		req.CreatedAt, req.UpdatedAt, req.Version,
	)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "create request")
	}
	return nil
}

const requestColumns = `id, requester_id, requester_email, requester_role, risk_score, amount,
	request_type, description, status, escalated, escalation_reason, auto_decided, auto_rule_id,
	first_approver_id, first_approval_at, second_approver_id, second_approval_at,
	created_at, updated_at, version`

func (s *PostgresStore) Get(ctx context.Context, requestID id.RequestID) (*Request, error) {
	ctx, cancel := postgres.WithQueryTimeout(ctx, s.timeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests WHERE id = $1`, uuid.UUID(requestID))
	return scanRequest(row)
}

func (s *PostgresStore) UpdateIf(ctx context.Context, req *Request, expectedVersion int64) error {
	ctx, cancel := postgres.WithQueryTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = $3, escalated = $4, escalation_reason = $5,
		    first_approver_id = $6, first_approval_at = $7,
		    second_approver_id = $8, second_approval_at = $9,
		    updated_at = now(), version = version + 1
		WHERE id = $1 AND version = $2`,
		uuid.UUID(req.ID), expectedVersion, string(req.Status), req.Escalated, req.EscalationReason,
		approverValue(req.FirstApproverID), req.FirstApprovalAt,
		approverValue(req.SecondApproverID), req.SecondApprovalAt,
	)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "update request")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "update request")
	}
	if n == 0 {
		// Distinguish a stale version from a missing row.
		if _, getErr := s.Get(ctx, req.ID); getErr != nil {
			return getErr
		}
		return dErrors.Newf(dErrors.CodeConflict, "request %s changed concurrently (expected version %d)",
			req.ID, expectedVersion)
	}
	req.Version = expectedVersion + 1
	return nil
}

func (s *PostgresStore) ListUndecided(ctx context.Context) ([]*Request, error) {
	ctx, cancel := postgres.WithQueryTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests WHERE status IN ($1, $2) ORDER BY created_at ASC`,
		string(StatusPending), string(StatusRequiresSecondApproval))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "list undecided requests")
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var (
		req            Request
		rawID          uuid.UUID
		status         string
		firstApprover  uuid.NullUUID
		secondApprover uuid.NullUUID
	)
	err := row.Scan(&rawID, &req.RequesterID, &req.RequesterEmail, &req.RequesterRole,
		&req.RiskScore, &req.Amount, &req.RequestType, &req.Description, &status,
		&req.Escalated, &req.EscalationReason, &req.AutoDecided, &req.AutoRuleID,
		&firstApprover, &req.FirstApprovalAt, &secondApprover, &req.SecondApprovalAt,
		&req.CreatedAt, &req.UpdatedAt, &req.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dErrors.New(dErrors.CodeNotFound, "request not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "scan request")
	}
	req.ID = id.RequestID(rawID)
	req.Status = Status(status)
	if firstApprover.Valid {
		a := id.ApproverID(firstApprover.UUID)
		req.FirstApproverID = &a
	}
	if secondApprover.Valid {
		a := id.ApproverID(secondApprover.UUID)
		req.SecondApproverID = &a
	}
	return &req, nil
}

func approverValue(a *id.ApproverID) any {
	if a == nil {
		return nil
	}
	return uuid.UUID(*a)
}
