package metadata

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"rocket-cms/internal/authz"
	"rocket-cms/internal/logger"
)

// Source reads the persisted definitions the registry is built from.
type Source interface {
	ListContentTypes(ctx context.Context) ([]*ContentType, error)
	ListRoles(ctx context.Context) ([]authz.Role, error)
}

// LoadAll reads content types and roles and swaps them into the registry.
// Definitions that fail validation are skipped with a warning. Concurrent
// calls run one at a time, each reading the source after the previous swap.
func LoadAll(ctx context.Context, src Source, reg *Registry) error {
	reg.reloadMu.Lock()
	defer reg.reloadMu.Unlock()

	contentTypes, err := src.ListContentTypes(ctx)
	if err != nil {
		return fmt.Errorf("load content types: %w", err)
	}

	roles, err := src.ListRoles(ctx)
	if err != nil {
		return fmt.Errorf("load roles: %w", err)
	}

	valid := contentTypes[:0]
	for _, ct := range contentTypes {
		if err := ct.Validate(); err != nil {
			logger.Warn("skipping invalid content type", zap.String("uid", ct.UID), zap.Error(err))
			continue
		}
		valid = append(valid, ct)
	}

	reg.Load(valid, roles)

	permissions := 0
	for _, role := range roles {
		permissions += len(role.Permissions)
	}
	logger.Info("registry loaded",
		zap.Int("content_types", len(valid)),
		zap.Int("roles", len(roles)),
		zap.Int("permissions", permissions),
	)
	return nil
}

// Reload is an alias for LoadAll, called after admin mutations.
func Reload(ctx context.Context, src Source, reg *Registry) error {
	return LoadAll(ctx, src, reg)
}
