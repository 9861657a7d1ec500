package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// User is an admin-panel account. Roles holds the ids of the roles
// currently assigned to the user.
type User struct {
	ID           string    `json:"id"`
	Firstname    string    `json:"firstname"`
	Lastname     string    `json:"lastname"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"isActive"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

const userColumns = "id, firstname, lastname, email, password_hash, active, created_at, updated_at"

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var createdAt, updatedAt any
	if err := row.Scan(&u.ID, &u.Firstname, &u.Lastname, &u.Email, &u.PasswordHash, &u.Active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if u.CreatedAt, err = scanTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = scanTime(updatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts the user and its role assignments.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			s.rebind(`INSERT INTO _users (id, firstname, lastname, email, password_hash, active, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`),
			u.ID, u.Firstname, u.Lastname, u.Email, u.PasswordHash, u.Active,
			s.Dialect.TimeParam(now), s.Dialect.TimeParam(now))
		if err != nil {
			return MapError(s.Dialect, fmt.Errorf("insert user: %w", err))
		}
		return s.insertUserRoles(ctx, tx, u.ID, u.Roles)
	})
}

// GetUserByID returns the user with its current roles.
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, "id", id)
}

// GetUserByEmail returns the user with its current roles.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "email", email)
}

func (s *Store) getUser(ctx context.Context, column, value string) (*User, error) {
	row := s.DB.QueryRowContext(ctx,
		s.rebind(fmt.Sprintf("SELECT %s FROM _users WHERE %s = $1", userColumns, column)), value)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u.Roles, err = s.userRoles(ctx, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

// ListUsers returns all users ordered by email.
func (s *Store) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM _users ORDER BY email", userColumns))
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, u := range users {
		if u.Roles, err = s.userRoles(ctx, u.ID); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// DeleteUser removes a user. Entries keep the creator snapshot.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	n, err := Exec(ctx, s.DB, s.rebind("DELETE FROM _users WHERE id = $1"), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUserRoles replaces the user's role assignments. Entries the user
// already created keep their creator-role snapshot.
func (s *Store) SetUserRoles(ctx context.Context, userID string, roles []string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		n, err := Exec(ctx, tx, s.rebind("UPDATE _users SET updated_at = $1 WHERE id = $2"),
			s.Dialect.TimeParam(time.Now()), userID)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		if _, err := Exec(ctx, tx, s.rebind("DELETE FROM _user_roles WHERE user_id = $1"), userID); err != nil {
			return err
		}
		return s.insertUserRoles(ctx, tx, userID, roles)
	})
}

func (s *Store) insertUserRoles(ctx context.Context, tx *sql.Tx, userID string, roles []string) error {
	seen := make(map[string]bool, len(roles))
	for _, roleID := range roles {
		if seen[roleID] {
			continue
		}
		seen[roleID] = true
		_, err := tx.ExecContext(ctx,
			s.rebind("INSERT INTO _user_roles (user_id, role_id) VALUES ($1, $2)"), userID, roleID)
		if err != nil {
			return MapError(s.Dialect, fmt.Errorf("assign role %s: %w", roleID, err))
		}
	}
	return nil
}

func (s *Store) userRoles(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		s.rebind(`SELECT ur.role_id FROM _user_roles ur
		 JOIN _roles r ON r.id = ur.role_id
		 WHERE ur.user_id = $1 ORDER BY r.created_at, r.id`), userID)
	if err != nil {
		return nil, fmt.Errorf("query user roles: %w", err)
	}
	defer rows.Close()

	roles := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user role: %w", err)
		}
		roles = append(roles, id)
	}
	return roles, rows.Err()
}

// CreateRefreshToken stores an opaque refresh token for the user.
func (s *Store) CreateRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		s.rebind("INSERT INTO _refresh_tokens (id, user_id, token, expires_at, created_at) VALUES ($1, $2, $3, $4, $5)"),
		uuid.New().String(), userID, token, s.Dialect.TimeParam(expiresAt), s.Dialect.TimeParam(time.Now()))
	if err != nil {
		return MapError(s.Dialect, fmt.Errorf("insert refresh token: %w", err))
	}
	return nil
}

// ConsumeRefreshToken deletes the token and returns its owner. Expired
// tokens are deleted too but reported as ErrNotFound.
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var expiresAt any
		err := tx.QueryRowContext(ctx,
			s.rebind("SELECT user_id, expires_at FROM _refresh_tokens WHERE token = $1"), token).Scan(&userID, &expiresAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get refresh token: %w", err)
		}
		if _, err := Exec(ctx, tx, s.rebind("DELETE FROM _refresh_tokens WHERE token = $1"), token); err != nil {
			return err
		}
		exp, err := scanTime(expiresAt)
		if err != nil {
			return err
		}
		if time.Now().After(exp) {
			userID = ""
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "", ErrNotFound
	}
	return userID, nil
}

// DeleteRefreshToken revokes a refresh token.
func (s *Store) DeleteRefreshToken(ctx context.Context, token string) error {
	_, err := Exec(ctx, s.DB, s.rebind("DELETE FROM _refresh_tokens WHERE token = $1"), token)
	return err
}
