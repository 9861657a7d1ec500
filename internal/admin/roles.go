package admin

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"rocket-cms/internal/authz"
	"rocket-cms/internal/content"
	"rocket-cms/internal/metadata"
	"rocket-cms/internal/store"
)

func (h *Handler) ListRoles(c *fiber.Ctx) error {
	roles := h.registry.Policies().Roles()
	if roles == nil {
		roles = []authz.Role{}
	}
	return c.JSON(fiber.Map{"data": roles})
}

func (h *Handler) GetRole(c *fiber.Ctx) error {
	id := c.Params("id")
	role, ok := h.registry.Policies().Role(id)
	if !ok {
		return content.NewAppError("NOT_FOUND", 404, "Role not found: "+id)
	}
	return c.JSON(fiber.Map{"data": role})
}

func (h *Handler) CreateRole(c *fiber.Ctx) error {
	var body struct {
		ID          string `json:"id"`
		Code        string `json:"code"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := c.BodyParser(&body); err != nil {
		return content.InvalidPayloadError("Invalid JSON body")
	}
	if body.Name == "" {
		return content.ValidationError([]content.ErrorDetail{{Field: "name", Rule: "required", Message: "name is required"}})
	}

	role := authz.Role{ID: body.ID, Code: body.Code, Name: body.Name, Description: body.Description}
	err := h.store.CreateRole(c.UserContext(), &role)
	if errors.Is(err, store.ErrUniqueViolation) {
		return content.ConflictError("Role already exists")
	}
	if err != nil {
		return fmt.Errorf("create role: %w", err)
	}

	if err := h.reload(c); err != nil {
		return err
	}
	role.Permissions = []authz.Permission{}
	return c.Status(201).JSON(fiber.Map{"data": role})
}

func (h *Handler) DeleteRole(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == metadata.SuperAdminRoleID {
		return content.ConflictError("The super admin role cannot be deleted")
	}
	err := h.store.DeleteRole(c.UserContext(), id)
	if errors.Is(err, store.ErrNotFound) {
		return content.NewAppError("NOT_FOUND", 404, "Role not found: "+id)
	}
	if err != nil {
		return fmt.Errorf("delete role %s: %w", id, err)
	}

	if err := h.reload(c); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id, "deleted": true}})
}

type permissionInput struct {
	Action     string   `json:"action"`
	Subject    string   `json:"subject"`
	Fields     []string `json:"fields"`
	Conditions []string `json:"conditions"`
}

// ReplacePermissions handles PUT /admin/roles/:id/permissions. The list
// replaces every permission of the role and keeps the submitted order.
func (h *Handler) ReplacePermissions(c *fiber.Ctx) error {
	id := c.Params("id")
	var body struct {
		Permissions []permissionInput `json:"permissions"`
	}
	if err := c.BodyParser(&body); err != nil {
		return content.InvalidPayloadError("Invalid JSON body")
	}

	if details := h.validatePermissions(body.Permissions); len(details) > 0 {
		return content.ValidationError(details)
	}

	perms := make([]authz.Permission, 0, len(body.Permissions))
	for _, p := range body.Permissions {
		perms = append(perms, authz.Permission{
			RoleID:     id,
			Action:     p.Action,
			Subject:    p.Subject,
			Fields:     p.Fields,
			Conditions: p.Conditions,
		})
	}

	err := h.store.ReplacePermissions(c.UserContext(), id, perms)
	if errors.Is(err, store.ErrNotFound) {
		return content.NewAppError("NOT_FOUND", 404, "Role not found: "+id)
	}
	if err != nil {
		return fmt.Errorf("replace permissions of %s: %w", id, err)
	}

	if err := h.reload(c); err != nil {
		return err
	}
	h.log.Info("permissions replaced", zap.String("role", id), zap.Int("count", len(perms)))

	role, _ := h.registry.Policies().Role(id)
	return c.JSON(fiber.Map{"data": role})
}

func (h *Handler) validatePermissions(perms []permissionInput) []content.ErrorDetail {
	var details []content.ErrorDetail
	for i, p := range perms {
		prefix := fmt.Sprintf("permissions[%d]", i)
		if !metadata.IsExplorerAction(p.Action) {
			details = append(details, content.ErrorDetail{Field: prefix + ".action", Message: "unknown action " + p.Action})
		}
		ct := h.registry.GetContentType(p.Subject)
		if ct == nil {
			details = append(details, content.ErrorDetail{Field: prefix + ".subject", Message: "unknown content type " + p.Subject})
		} else {
			for _, f := range p.Fields {
				if !ct.HasAttribute(f) {
					details = append(details, content.ErrorDetail{Field: prefix + ".fields", Message: "unknown attribute " + f})
				}
			}
		}
		for _, cond := range p.Conditions {
			if !h.conditions.Has(cond) {
				details = append(details, content.ErrorDetail{Field: prefix + ".conditions", Message: "unknown condition " + cond})
			}
		}
	}
	return details
}

// ListConditions handles GET /admin/permissions/conditions.
func (h *Handler) ListConditions(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.conditions.IDs()})
}
