package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"rocket-cms/internal/authz"
	"rocket-cms/internal/content"
	"rocket-cms/internal/instrument"
	"rocket-cms/internal/metadata"
	"rocket-cms/internal/store"
)

// UserLookup loads the current state of a user. *store.Store implements it.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*store.User, error)
}

// AuthMiddleware validates the bearer token and stores the actor, with the
// roles the user holds right now, under the "user" local.
func AuthMiddleware(tokens *Tokens, users UserLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return content.UnauthorizedError("Missing auth token")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return content.UnauthorizedError("Invalid auth header format")
		}

		claims, err := tokens.Parse(parts[1])
		if err != nil {
			return content.UnauthorizedError("Invalid or expired token")
		}

		user, err := users.GetUserByID(c.UserContext(), claims.Subject)
		if errors.Is(err, store.ErrNotFound) {
			return content.UnauthorizedError("Invalid or expired token")
		}
		if err != nil {
			return err
		}
		if !user.Active {
			return content.UnauthorizedError("Account is disabled")
		}

		c.Locals("user", &authz.Actor{ID: user.ID, Roles: user.Roles})
		c.SetUserContext(instrument.WithUserID(c.UserContext(), user.ID))

		return c.Next()
	}
}

// RequireAdmin rejects actors that do not hold the super admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetUser(c)
		if user == nil {
			return content.UnauthorizedError("Missing auth token")
		}
		if !user.HasRole(metadata.SuperAdminRoleID) {
			return content.ForbiddenError()
		}
		return c.Next()
	}
}

// GetUser extracts the actor from a Fiber context.
func GetUser(c *fiber.Ctx) *authz.Actor {
	user, _ := c.Locals("user").(*authz.Actor)
	return user
}
