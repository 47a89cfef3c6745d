package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"asset-recyclebin/internal/model"
)

const attemptColumns = `id, principal_id, username, attempt_type, outcome, success,
	recycle_bin_entry_id, blocked_by_rate_limit, requires_captcha, captcha_passed,
	ip_address, user_agent, session_id, request_path, referer, attempted_at, details`

func scanAttempt(row pgx.Row) (model.AttemptRecord, error) {
	var r model.AttemptRecord
	var details []byte
	err := row.Scan(&r.ID, &r.PrincipalID, &r.Username, &r.AttemptType, &r.Outcome, &r.Success,
		&r.RecycleBinID, &r.BlockedByRateLimit, &r.RequiresCaptcha, &r.CaptchaPassed,
		&r.IPAddress, &r.UserAgent, &r.SessionID, &r.RequestPath, &r.Referer, &r.AttemptedAt, &details)
	if err != nil {
		return model.AttemptRecord{}, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &r.Details); err != nil {
			return model.AttemptRecord{}, fmt.Errorf("decode attempt details: %w", err)
		}
	}
	r.AttemptedAt = r.AttemptedAt.UTC()
	return r, nil
}

func collectAttempts(rows pgx.Rows) ([]model.AttemptRecord, error) {
	defer rows.Close()

	records := make([]model.AttemptRecord, 0)
	for rows.Next() {
		record, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (q *queries) AppendAttempt(ctx context.Context, record model.AttemptRecord) (model.AttemptRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	var details []byte
	if len(record.Details) > 0 {
		var err error
		details, err = json.Marshal(record.Details)
		if err != nil {
			return model.AttemptRecord{}, fmt.Errorf("marshal attempt details: %w", err)
		}
	}

	_, err := q.db.Exec(ctx,
		`INSERT INTO security_attempts (`+attemptColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		record.ID, record.PrincipalID, record.Username, record.AttemptType, record.Outcome, record.Success,
		record.RecycleBinID, record.BlockedByRateLimit, record.RequiresCaptcha, record.CaptchaPassed,
		record.IPAddress, record.UserAgent, record.SessionID, record.RequestPath, record.Referer,
		record.AttemptedAt, details)
	if err != nil {
		return model.AttemptRecord{}, wrap("append attempt", err)
	}
	return record, nil
}

func (q *queries) AttemptsSince(ctx context.Context, principalID string, attemptType model.AttemptType, since time.Time) ([]model.AttemptRecord, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+attemptColumns+` FROM security_attempts
		 WHERE principal_id = $1 AND attempt_type = $2 AND attempted_at > $3
		 ORDER BY attempted_at DESC`, principalID, attemptType, since)
	if err != nil {
		return nil, wrap("list attempts", err)
	}
	records, err := collectAttempts(rows)
	return records, wrap("list attempts", err)
}

func (q *queries) LatestAttempt(ctx context.Context, principalID string, outcome model.AttemptOutcome) (*model.AttemptRecord, error) {
	record, err := scanAttempt(q.db.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM security_attempts
		 WHERE principal_id = $1 AND outcome = $2
		 ORDER BY attempted_at DESC LIMIT 1`, principalID, outcome))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("latest attempt", err)
	}
	return &record, nil
}

func (s *PostgresStore) ListAttempts(ctx context.Context, filter model.AttemptFilter) ([]model.AttemptRecord, error) {
	_, limit := normalizePage(1, filter.Limit, 10000)

	where := make([]string, 0)
	args := make([]any, 0)
	argIdx := 1

	if principalID := strings.TrimSpace(filter.PrincipalID); principalID != "" {
		where = append(where, fmt.Sprintf("principal_id = $%d", argIdx))
		args = append(args, principalID)
		argIdx++
	}
	if filter.AttemptType != "" {
		where = append(where, fmt.Sprintf("attempt_type = $%d", argIdx))
		args = append(args, filter.AttemptType)
		argIdx++
	}
	if filter.Outcome != "" {
		where = append(where, fmt.Sprintf("outcome = $%d", argIdx))
		args = append(args, filter.Outcome)
		argIdx++
	}
	if filter.Since != nil {
		where = append(where, fmt.Sprintf("attempted_at > $%d", argIdx))
		args = append(args, *filter.Since)
		argIdx++
	}
	if filter.Until != nil {
		where = append(where, fmt.Sprintf("attempted_at <= $%d", argIdx))
		args = append(args, *filter.Until)
		argIdx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	query := fmt.Sprintf(`SELECT %s FROM security_attempts %s ORDER BY attempted_at DESC LIMIT $%d`,
		attemptColumns, whereClause, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list attempts", err)
	}
	records, err := collectAttempts(rows)
	return records, wrap("list attempts", err)
}
