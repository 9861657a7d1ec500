package admin

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"rocket-cms/internal/authz"
	"rocket-cms/internal/content"
	"rocket-cms/internal/instrument"
	"rocket-cms/internal/logger"
	"rocket-cms/internal/metadata"
	"rocket-cms/internal/store"
)

type Handler struct {
	store      *store.Store
	registry   *metadata.Registry
	conditions *authz.ConditionRegistry
	events     *instrument.EventHandler
	log        *zap.Logger
}

func NewHandler(s *store.Store, reg *metadata.Registry, conds *authz.ConditionRegistry) *Handler {
	return &Handler{
		store:      s,
		registry:   reg,
		conditions: conds,
		events:     instrument.NewEventHandler(s.DB, s.Dialect),
		log:        logger.WithModule("admin"),
	}
}

// RegisterAdminRoutes mounts the admin API. The middleware is expected to
// authenticate the caller and require the super admin role.
func RegisterAdminRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	admin := app.Group("/admin", middleware...)

	admin.Get("/content-types", h.ListContentTypes)
	admin.Get("/content-types/:uid", h.GetContentType)
	admin.Post("/content-types", h.CreateContentType)
	admin.Delete("/content-types/:uid", h.DeleteContentType)

	admin.Get("/roles", h.ListRoles)
	admin.Get("/roles/:id", h.GetRole)
	admin.Post("/roles", h.CreateRole)
	admin.Delete("/roles/:id", h.DeleteRole)
	admin.Put("/roles/:id/permissions", h.ReplacePermissions)
	admin.Get("/permissions/conditions", h.ListConditions)

	admin.Get("/users", h.ListUsers)
	admin.Post("/users", h.CreateUser)
	admin.Delete("/users/:id", h.DeleteUser)
	admin.Put("/users/:id/roles", h.SetUserRoles)

	admin.Get("/events", h.events.List)
	admin.Get("/events/trace/:traceId", h.events.GetTrace)
}

// --- Content type endpoints ---

func (h *Handler) ListContentTypes(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.registry.AllContentTypes()})
}

func (h *Handler) GetContentType(c *fiber.Ctx) error {
	uid := c.Params("uid")
	ct := h.registry.GetContentType(uid)
	if ct == nil {
		return content.UnknownContentTypeError(uid)
	}
	return c.JSON(fiber.Map{"data": ct})
}

// CreateContentType registers a content type and grants every explorer
// action on it to the super admin role.
func (h *Handler) CreateContentType(c *fiber.Ctx) error {
	var ct metadata.ContentType
	if err := c.BodyParser(&ct); err != nil {
		return content.InvalidPayloadError("Invalid JSON body")
	}
	ct.Normalize()

	if err := ct.Validate(); err != nil {
		return content.ValidationError([]content.ErrorDetail{{Message: err.Error()}})
	}
	for _, r := range ct.Rules {
		if r.Type != metadata.RuleExpression {
			continue
		}
		if _, err := content.CompileExpression(r.Expression); err != nil {
			return content.ValidationError([]content.ErrorDetail{{Rule: "expression", Message: err.Error()}})
		}
	}
	if h.registry.GetContentType(ct.UID) != nil {
		return content.ConflictError("Content type already exists: " + ct.UID)
	}

	grants := make([]authz.Permission, 0, len(metadata.ExplorerActions()))
	for _, action := range metadata.ExplorerActions() {
		grants = append(grants, authz.Permission{RoleID: metadata.SuperAdminRoleID, Action: action, Subject: ct.UID})
	}

	err := h.store.CreateContentType(c.UserContext(), &ct, grants)
	if errors.Is(err, store.ErrUniqueViolation) {
		return content.ConflictError("Content type already exists: " + ct.UID)
	}
	if err != nil {
		return fmt.Errorf("create content type %s: %w", ct.UID, err)
	}

	if err := h.reload(c); err != nil {
		return err
	}
	h.log.Info("content type created", zap.String("uid", ct.UID))
	return c.Status(201).JSON(fiber.Map{"data": ct})
}

func (h *Handler) DeleteContentType(c *fiber.Ctx) error {
	uid := c.Params("uid")
	err := h.store.DeleteContentType(c.UserContext(), uid)
	if errors.Is(err, store.ErrNotFound) {
		return content.UnknownContentTypeError(uid)
	}
	if err != nil {
		return fmt.Errorf("delete content type %s: %w", uid, err)
	}

	if err := h.reload(c); err != nil {
		return err
	}
	h.log.Info("content type deleted", zap.String("uid", uid))
	return c.JSON(fiber.Map{"data": fiber.Map{"uid": uid, "deleted": true}})
}

// reload rebuilds the registry snapshot after a mutation.
func (h *Handler) reload(c *fiber.Ctx) error {
	if err := metadata.Reload(c.UserContext(), h.store, h.registry); err != nil {
		return fmt.Errorf("reload registry: %w", err)
	}
	return nil
}
