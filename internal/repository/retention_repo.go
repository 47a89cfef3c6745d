package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"asset-recyclebin/internal/model"
)

const policyColumns = `module_name, retention_days, warning_days_before, final_warning_days_before,
	auto_delete_enabled, can_restore_own, can_restore_others, created_at, updated_at`

func scanPolicy(row pgx.Row) (model.RetentionPolicy, error) {
	var p model.RetentionPolicy
	err := row.Scan(&p.ModuleName, &p.RetentionDays, &p.WarningDaysBefore, &p.FinalWarningDaysBefore,
		&p.AutoDeleteEnabled, &p.CanRestoreOwn, &p.CanRestoreOthers, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return model.RetentionPolicy{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (q *queries) GetPolicy(ctx context.Context, module string) (model.RetentionPolicy, error) {
	policy, err := scanPolicy(q.db.QueryRow(ctx,
		`SELECT `+policyColumns+` FROM retention_policies WHERE module_name = $1`, module))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.RetentionPolicy{}, model.ErrNotFound
	}
	if err != nil {
		return model.RetentionPolicy{}, wrap("get retention policy", err)
	}
	return policy, nil
}

// UpsertPolicy keeps the original created_at of an existing row.
func (q *queries) UpsertPolicy(ctx context.Context, policy model.RetentionPolicy) (model.RetentionPolicy, error) {
	if err := policy.CheckOrdering(); err != nil {
		return model.RetentionPolicy{}, err
	}

	saved, err := scanPolicy(q.db.QueryRow(ctx,
		`INSERT INTO retention_policies
		 (module_name, retention_days, warning_days_before, final_warning_days_before,
		  auto_delete_enabled, can_restore_own, can_restore_others, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (module_name) DO UPDATE SET
		   retention_days = EXCLUDED.retention_days,
		   warning_days_before = EXCLUDED.warning_days_before,
		   final_warning_days_before = EXCLUDED.final_warning_days_before,
		   auto_delete_enabled = EXCLUDED.auto_delete_enabled,
		   can_restore_own = EXCLUDED.can_restore_own,
		   can_restore_others = EXCLUDED.can_restore_others,
		   updated_at = EXCLUDED.updated_at
		 RETURNING `+policyColumns,
		policy.ModuleName, policy.RetentionDays, policy.WarningDaysBefore, policy.FinalWarningDaysBefore,
		policy.AutoDeleteEnabled, policy.CanRestoreOwn, policy.CanRestoreOthers, policy.CreatedAt, policy.UpdatedAt))
	if err != nil {
		return model.RetentionPolicy{}, wrap("upsert retention policy", err)
	}
	return saved, nil
}

func (s *PostgresStore) ListPolicies(ctx context.Context) ([]model.RetentionPolicy, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+policyColumns+` FROM retention_policies ORDER BY module_name`)
	if err != nil {
		return nil, wrap("list retention policies", err)
	}
	defer rows.Close()

	policies := make([]model.RetentionPolicy, 0)
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, wrap("scan retention policy", err)
		}
		policies = append(policies, policy)
	}
	return policies, wrap("list retention policies", rows.Err())
}
