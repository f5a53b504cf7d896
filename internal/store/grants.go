package store

import (
	"context"
	"fmt"

	"shipflow/api/internal/rbac"
)

func (s *PostgresStore) GrantRole(ctx context.Context, grant rbac.Grant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_grants (actor, role, granted_by, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (actor, role) DO NOTHING
	`, grant.Actor, string(grant.Role), grant.GrantedBy, grant.GrantedAt)
	if err != nil {
		return fmt.Errorf("grant role %s to %s: %w", grant.Role, grant.Actor, err)
	}
	return nil
}

func (s *PostgresStore) RevokeRole(ctx context.Context, actor string, role rbac.Role) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM role_grants WHERE actor=$1 AND role=$2`, actor, string(role))
	if err != nil {
		return fmt.Errorf("revoke role %s from %s: %w", role, actor, err)
	}
	return nil
}

func (s *PostgresStore) HasRole(ctx context.Context, actor string, role rbac.Role) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM role_grants WHERE actor=$1 AND role=$2)
	`, actor, string(role)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check role %s for %s: %w", role, actor, err)
	}
	return exists, nil
}

func (s *PostgresStore) ListRoles(ctx context.Context, actor string) ([]rbac.Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role FROM role_grants WHERE actor=$1 ORDER BY role`, actor)
	if err != nil {
		return nil, fmt.Errorf("list roles for %s: %w", actor, err)
	}
	defer rows.Close()

	roles := make([]rbac.Role, 0)
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, rbac.Role(role))
	}
	return roles, rows.Err()
}
