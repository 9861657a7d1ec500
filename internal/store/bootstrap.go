package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"rocket-cms/internal/authz"
	"rocket-cms/internal/config"
	"rocket-cms/internal/logger"
	"rocket-cms/internal/metadata"
)

// Bootstrap creates the system tables and seeds the super admin role and
// the first admin user.
func (s *Store) Bootstrap(ctx context.Context, admin config.AdminConfig) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("bootstrap system tables: %w", err)
	}
	if err := s.seedSuperAdminRole(ctx); err != nil {
		return fmt.Errorf("seed super admin role: %w", err)
	}
	if err := s.seedAdminUser(ctx, admin); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	return nil
}

func (s *Store) seedSuperAdminRole(ctx context.Context) error {
	err := s.CreateRole(ctx, &authz.Role{
		ID:          metadata.SuperAdminRoleID,
		Code:        metadata.SuperAdminRoleID,
		Name:        "Super Admin",
		Description: "Super Admins can access and manage all features and settings.",
	})
	if errors.Is(err, ErrUniqueViolation) {
		return nil
	}
	return err
}

func (s *Store) seedAdminUser(ctx context.Context, admin config.AdminConfig) error {
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM _users").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(admin.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	err = s.CreateUser(ctx, &User{
		Firstname:    "Super",
		Lastname:     "Admin",
		Email:        admin.Email,
		PasswordHash: string(hash),
		Active:       true,
		Roles:        []string{metadata.SuperAdminRoleID},
	})
	if err != nil {
		return err
	}

	logger.Warn("default admin user created, change the password immediately", zap.String("email", admin.Email))
	return nil
}
