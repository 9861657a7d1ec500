package auth

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"rocket-cms/internal/content"
	"rocket-cms/internal/logger"
	"rocket-cms/internal/store"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	store  *store.Store
	tokens *Tokens
	log    *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(s *store.Store, tokens *Tokens) *AuthHandler {
	return &AuthHandler{store: s, tokens: tokens, log: logger.WithModule("auth")}
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

// Login handles POST /admin/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return content.InvalidPayloadError("Invalid request body")
	}
	if body.Email == "" || body.Password == "" {
		return content.UnauthorizedError("Email and password are required")
	}

	ctx := c.UserContext()
	user, err := h.store.GetUserByEmail(ctx, body.Email)
	if errors.Is(err, store.ErrNotFound) {
		return content.UnauthorizedError("Invalid email or password")
	}
	if err != nil {
		return err
	}
	if !CheckPassword(body.Password, user.PasswordHash) {
		return content.UnauthorizedError("Invalid email or password")
	}
	if !user.Active {
		return content.UnauthorizedError("Account is disabled")
	}

	pair, err := h.generateTokenPair(ctx, user.ID)
	if err != nil {
		return err
	}
	h.log.Info("user logged in", zap.String("user_id", user.ID))
	return c.JSON(fiber.Map{"data": pair})
}

// Refresh handles POST /admin/token/refresh. Refresh tokens are single use.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var body refreshBody
	if err := c.BodyParser(&body); err != nil {
		return content.InvalidPayloadError("Invalid request body")
	}
	if body.RefreshToken == "" {
		return content.UnauthorizedError("Refresh token is required")
	}

	ctx := c.UserContext()
	userID, err := h.store.ConsumeRefreshToken(ctx, body.RefreshToken)
	if errors.Is(err, store.ErrNotFound) {
		return content.UnauthorizedError("Invalid or expired refresh token")
	}
	if err != nil {
		return err
	}

	user, err := h.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return content.UnauthorizedError("Invalid or expired refresh token")
	}
	if err != nil {
		return err
	}
	if !user.Active {
		return content.UnauthorizedError("Account is disabled")
	}

	pair, err := h.generateTokenPair(ctx, user.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Logout handles POST /admin/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	var body refreshBody
	if err := c.BodyParser(&body); err != nil {
		return content.InvalidPayloadError("Invalid request body")
	}
	if body.RefreshToken == "" {
		return content.UnauthorizedError("Refresh token is required")
	}
	if err := h.store.DeleteRefreshToken(c.UserContext(), body.RefreshToken); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Logged out"})
}

// RegisterAuthRoutes registers the unauthenticated auth routes.
func RegisterAuthRoutes(app *fiber.App, h *AuthHandler) {
	g := app.Group("/admin")
	g.Post("/login", h.Login)
	g.Post("/token/refresh", h.Refresh)
	g.Post("/logout", h.Logout)
}

func (h *AuthHandler) generateTokenPair(ctx context.Context, userID string) (*TokenPair, error) {
	accessToken, err := h.tokens.Issue(userID)
	if err != nil {
		return nil, content.NewAppError("INTERNAL_ERROR", 500, "Failed to generate access token")
	}

	refreshToken := NewRefreshToken()
	if err := h.store.CreateRefreshToken(ctx, userID, refreshToken, time.Now().Add(h.tokens.RefreshTTL())); err != nil {
		h.log.Error("store refresh token", zap.String("user_id", userID), zap.Error(err))
		return nil, content.NewAppError("INTERNAL_ERROR", 500, "Failed to store refresh token")
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(h.tokens.accessTTL.Seconds()),
	}, nil
}
