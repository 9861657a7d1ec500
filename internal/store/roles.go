package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rocket-cms/internal/authz"
)

// ListRoles returns every role with its permissions. Roles come back in
// creation order and permissions in declaration order, which is the order
// the decision engine reports candidates in.
func (s *Store) ListRoles(ctx context.Context) ([]authz.Role, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT id, code, name, description FROM _roles ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}

	var roles []authz.Role
	index := make(map[string]int)
	for rows.Next() {
		var r authz.Role
		if err := rows.Scan(&r.ID, &r.Code, &r.Name, &r.Description); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan role: %w", err)
		}
		index[r.ID] = len(roles)
		roles = append(roles, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	perms, err := s.listPermissions(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range perms {
		i, ok := index[p.RoleID]
		if !ok {
			continue
		}
		roles[i].Permissions = append(roles[i].Permissions, p)
	}
	return roles, nil
}

func (s *Store) listPermissions(ctx context.Context) ([]authz.Permission, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT id, role_id, action, subject, fields, conditions FROM _permissions ORDER BY role_id, position, id")
	if err != nil {
		return nil, fmt.Errorf("query permissions: %w", err)
	}
	defer rows.Close()

	var perms []authz.Permission
	for rows.Next() {
		var p authz.Permission
		var fields, conditions []byte
		if err := rows.Scan(&p.ID, &p.RoleID, &p.Action, &p.Subject, &fields, &conditions); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		// NULL fields means unrestricted; "[]" restricts to nothing.
		if fields != nil {
			p.Fields = []string{}
			if err := json.Unmarshal(fields, &p.Fields); err != nil {
				return nil, fmt.Errorf("parse fields of permission %s: %w", p.ID, err)
			}
		}
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &p.Conditions); err != nil {
				return nil, fmt.Errorf("parse conditions of permission %s: %w", p.ID, err)
			}
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// CreateRole inserts a role without permissions. An empty ID is generated.
func (s *Store) CreateRole(ctx context.Context, role *authz.Role) error {
	if role.ID == "" {
		role.ID = uuid.New().String()
	}
	if role.Code == "" {
		role.Code = role.ID
	}
	_, err := s.DB.ExecContext(ctx,
		s.rebind("INSERT INTO _roles (id, code, name, description, created_at) VALUES ($1, $2, $3, $4, $5)"),
		role.ID, role.Code, role.Name, role.Description, s.Dialect.TimeParam(time.Now()))
	if err != nil {
		return MapError(s.Dialect, fmt.Errorf("insert role: %w", err))
	}
	return nil
}

// DeleteRole removes a role, its permissions and its user assignments.
func (s *Store) DeleteRole(ctx context.Context, id string) error {
	n, err := Exec(ctx, s.DB, s.rebind("DELETE FROM _roles WHERE id = $1"), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplacePermissions swaps the whole permission list of a role.
func (s *Store) ReplacePermissions(ctx context.Context, roleID string, perms []authz.Permission) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM _roles WHERE id = $1"), roleID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check role: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}

		if _, err := Exec(ctx, tx, s.rebind("DELETE FROM _permissions WHERE role_id = $1"), roleID); err != nil {
			return err
		}
		for i := range perms {
			perms[i].RoleID = roleID
		}
		return s.appendPermissions(ctx, tx, perms)
	})
}

// appendPermissions inserts perms after the existing permissions of their
// roles, generating ids where missing.
func (s *Store) appendPermissions(ctx context.Context, tx *sql.Tx, perms []authz.Permission) error {
	next := make(map[string]int)
	for i := range perms {
		p := &perms[i]
		if p.ID == "" {
			p.ID = uuid.New().String()
		}

		pos, ok := next[p.RoleID]
		if !ok {
			var last sql.NullInt64
			err := tx.QueryRowContext(ctx,
				s.rebind("SELECT MAX(position) FROM _permissions WHERE role_id = $1"), p.RoleID).Scan(&last)
			if err != nil {
				return fmt.Errorf("read permission position: %w", err)
			}
			if last.Valid {
				pos = int(last.Int64) + 1
			}
		}
		next[p.RoleID] = pos + 1

		var fields any
		if p.Fields != nil {
			b, err := json.Marshal(p.Fields)
			if err != nil {
				return fmt.Errorf("encode fields: %w", err)
			}
			fields = s.Dialect.JSONParam(b)
		}
		conditions := p.Conditions
		if conditions == nil {
			conditions = []string{}
		}
		condJSON, err := json.Marshal(conditions)
		if err != nil {
			return fmt.Errorf("encode conditions: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			s.rebind(`INSERT INTO _permissions (id, role_id, action, subject, fields, conditions, position, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`),
			p.ID, p.RoleID, p.Action, p.Subject, fields, s.Dialect.JSONParam(condJSON), pos,
			s.Dialect.TimeParam(time.Now()))
		if err != nil {
			return MapError(s.Dialect, fmt.Errorf("insert permission: %w", err))
		}
	}
	return nil
}
