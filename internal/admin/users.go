package admin

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"rocket-cms/internal/auth"
	"rocket-cms/internal/content"
	"rocket-cms/internal/store"
)

func (h *Handler) ListUsers(c *fiber.Ctx) error {
	users, err := h.store.ListUsers(c.UserContext())
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if users == nil {
		users = []*store.User{}
	}
	return c.JSON(fiber.Map{"data": users})
}

func (h *Handler) CreateUser(c *fiber.Ctx) error {
	var body struct {
		Firstname string   `json:"firstname"`
		Lastname  string   `json:"lastname"`
		Email     string   `json:"email"`
		Password  string   `json:"password"`
		Roles     []string `json:"roles"`
		Active    *bool    `json:"isActive"`
	}
	if err := c.BodyParser(&body); err != nil {
		return content.InvalidPayloadError("Invalid JSON body")
	}

	var details []content.ErrorDetail
	if body.Email == "" {
		details = append(details, content.ErrorDetail{Field: "email", Rule: "required", Message: "email is required"})
	}
	if body.Password == "" {
		details = append(details, content.ErrorDetail{Field: "password", Rule: "required", Message: "password is required"})
	}
	details = append(details, h.unknownRoles(body.Roles)...)
	if len(details) > 0 {
		return content.ValidationError(details)
	}

	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		return err
	}
	u := &store.User{
		Firstname:    body.Firstname,
		Lastname:     body.Lastname,
		Email:        body.Email,
		PasswordHash: hash,
		Active:       body.Active == nil || *body.Active,
		Roles:        body.Roles,
	}
	if u.Roles == nil {
		u.Roles = []string{}
	}

	err = h.store.CreateUser(c.UserContext(), u)
	if errors.Is(err, store.ErrUniqueViolation) {
		return content.ConflictError("A user with this email already exists")
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return c.Status(201).JSON(fiber.Map{"data": u})
}

func (h *Handler) DeleteUser(c *fiber.Ctx) error {
	id := c.Params("id")
	if actor := auth.GetUser(c); actor != nil && actor.ID == id {
		return content.ConflictError("You cannot delete your own account")
	}
	err := h.store.DeleteUser(c.UserContext(), id)
	if errors.Is(err, store.ErrNotFound) {
		return content.NewAppError("NOT_FOUND", 404, "User not found: "+id)
	}
	if err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id, "deleted": true}})
}

// SetUserRoles handles PUT /admin/users/:id/roles. Entries the user created
// before the change keep the roles captured at creation time.
func (h *Handler) SetUserRoles(c *fiber.Ctx) error {
	id := c.Params("id")
	var body struct {
		Roles []string `json:"roles"`
	}
	if err := c.BodyParser(&body); err != nil {
		return content.InvalidPayloadError("Invalid JSON body")
	}
	if details := h.unknownRoles(body.Roles); len(details) > 0 {
		return content.ValidationError(details)
	}

	ctx := c.UserContext()
	err := h.store.SetUserRoles(ctx, id, body.Roles)
	if errors.Is(err, store.ErrNotFound) {
		return content.NewAppError("NOT_FOUND", 404, "User not found: "+id)
	}
	if err != nil {
		return fmt.Errorf("set roles of %s: %w", id, err)
	}

	u, err := h.store.GetUserByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get user %s: %w", id, err)
	}
	return c.JSON(fiber.Map{"data": u})
}

func (h *Handler) unknownRoles(roles []string) []content.ErrorDetail {
	policies := h.registry.Policies()
	var details []content.ErrorDetail
	for _, r := range roles {
		if _, ok := policies.Role(r); !ok {
			details = append(details, content.ErrorDetail{Field: "roles", Message: "unknown role " + r})
		}
	}
	return details
}
