package content

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"rocket-cms/internal/authz"
	"rocket-cms/internal/config"
	"rocket-cms/internal/instrument"
	"rocket-cms/internal/logger"
	"rocket-cms/internal/metadata"
	"rocket-cms/internal/store"
)

type Handler struct {
	store    *store.Store
	registry *metadata.Registry
	authz    *authz.Engine
	cfg      config.ContentConfig
	log      *zap.Logger
}

func NewHandler(s *store.Store, reg *metadata.Registry, engine *authz.Engine, cfg config.ContentConfig) *Handler {
	return &Handler{store: s, registry: reg, authz: engine, cfg: cfg, log: logger.WithModule("content")}
}

// Create handles POST /content-manager/collection-types/:uid
func (h *Handler) Create(c *fiber.Ctx) error {
	ct, err := h.resolveContentType(c)
	if err != nil {
		return err
	}
	actor := getActor(c)

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError("Invalid JSON body")
	}

	// Create is decided against the entry as it would exist once written,
	// with the actor as its creator.
	prospective := authz.Entry{
		ContentType:  ct.UID,
		CreatedBy:    actor.ID,
		CreatorRoles: actor.Roles,
		Fields:       body,
	}
	decision := h.authz.Decide(actor, metadata.ActionCreate, ct.UID, prospective)
	if !decision.Allowed {
		return h.deny(c, metadata.ActionCreate, ct.UID, "", decision)
	}

	fields := permittedFields(body, decision)
	if errs := ValidateEntry(c.UserContext(), ct, fields, nil, true); len(errs) > 0 {
		return ValidationError(errs)
	}

	entry := &store.Entry{
		ContentType:  ct.UID,
		Data:         fields,
		CreatedBy:    actor.ID,
		CreatorRoles: actor.Roles,
	}
	if err := h.store.InsertEntry(c.UserContext(), entry); err != nil {
		return handleWriteError(err)
	}

	instrument.RecordEntry(c.UserContext(), instrument.EntryCreated, ct.UID, entry.DocumentID, nil)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": entryResponse(entry, decision)})
}

// List handles GET /content-manager/collection-types/:uid
func (h *Handler) List(c *fiber.Ctx) error {
	ct, err := h.resolveContentType(c)
	if err != nil {
		return err
	}
	actor := getActor(c)

	if !h.authz.Can(actor, metadata.ActionRead, ct.UID) {
		return h.deny(c, metadata.ActionRead, ct.UID, "", authz.Decision{Reason: authz.ReasonNoCapability})
	}

	page, pageSize := h.pagination(c)

	entries, err := h.store.ListEntries(c.UserContext(), ct.UID)
	if err != nil {
		return fmt.Errorf("list %s: %w", ct.UID, err)
	}

	views := make([]authz.Entry, len(entries))
	for i, e := range entries {
		views[i] = e.Authz()
	}
	decisions := h.authz.DecideAll(actor, metadata.ActionRead, ct.UID, views)

	visible := make([]fiber.Map, 0, len(entries))
	for i, d := range decisions {
		if d.Allowed {
			visible = append(visible, entryResponse(entries[i], d))
		}
	}

	total := len(visible)
	start := total
	if page-1 < total/pageSize+1 {
		start = min((page-1)*pageSize, total)
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	return c.JSON(fiber.Map{
		"results": visible[start:end],
		"pagination": fiber.Map{
			"page":      page,
			"pageSize":  pageSize,
			"total":     total,
			"pageCount": (total + pageSize - 1) / pageSize,
		},
	})
}

// GetByID handles GET /content-manager/collection-types/:uid/:documentId
func (h *Handler) GetByID(c *fiber.Ctx) error {
	_, entry, decision, err := h.authorizeEntry(c, metadata.ActionRead)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": entryResponse(entry, decision)})
}

// Update handles PUT /content-manager/collection-types/:uid/:documentId
func (h *Handler) Update(c *fiber.Ctx) error {
	ct, entry, decision, err := h.authorizeEntry(c, metadata.ActionUpdate)
	if err != nil {
		return err
	}
	actor := getActor(c)

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError("Invalid JSON body")
	}

	// Attributes outside the permitted fields are dropped, not rejected.
	changes := permittedFields(body, decision)
	if errs := ValidateAttributes(ct, changes, false); len(errs) > 0 {
		return ValidationError(errs)
	}

	old := entry.Data
	merged := make(map[string]any, len(old)+len(changes))
	for k, v := range old {
		merged[k] = v
	}
	for k, v := range changes {
		merged[k] = v
	}
	if errs := ValidateEntry(c.UserContext(), ct, merged, old, false); len(errs) > 0 {
		return ValidationError(errs)
	}

	entry.Data = merged
	entry.UpdatedBy = actor.ID
	if err := h.store.UpdateEntry(c.UserContext(), entry); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(ct.UID, entry.DocumentID)
		}
		return handleWriteError(err)
	}

	instrument.RecordEntry(c.UserContext(), instrument.EntryUpdated, ct.UID, entry.DocumentID, mapKeys(changes))

	return c.JSON(fiber.Map{"data": entryResponse(entry, decision)})
}

// Delete handles DELETE /content-manager/collection-types/:uid/:documentId
func (h *Handler) Delete(c *fiber.Ctx) error {
	ct, entry, _, err := h.authorizeEntry(c, metadata.ActionDelete)
	if err != nil {
		return err
	}

	if err := h.store.DeleteEntry(c.UserContext(), ct.UID, entry.DocumentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(ct.UID, entry.DocumentID)
		}
		return fmt.Errorf("delete %s/%s: %w", ct.UID, entry.DocumentID, err)
	}

	instrument.RecordEntry(c.UserContext(), instrument.EntryDeleted, ct.UID, entry.DocumentID, nil)

	return c.JSON(fiber.Map{"data": fiber.Map{"documentId": entry.DocumentID}})
}

// Publish handles POST /content-manager/collection-types/:uid/:documentId/actions/publish
func (h *Handler) Publish(c *fiber.Ctx) error {
	ct, entry, decision, err := h.authorizeEntry(c, metadata.ActionPublish)
	if err != nil {
		return err
	}

	if err := h.store.PublishEntry(c.UserContext(), entry, getActor(c).ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(ct.UID, entry.DocumentID)
		}
		return fmt.Errorf("publish %s/%s: %w", ct.UID, entry.DocumentID, err)
	}

	instrument.RecordEntry(c.UserContext(), instrument.EntryPublished, ct.UID, entry.DocumentID, nil)

	return c.JSON(fiber.Map{"data": entryResponse(entry, decision)})
}

// RecentDocuments handles GET /content-manager/homepage/recent-documents
//
// The most recent candidate batch is filtered with explorer.read on each
// entry's own content type, then truncated. Order is preserved.
func (h *Handler) RecentDocuments(c *fiber.Ctx) error {
	var order store.RecentOrder
	switch c.Query("action", "update") {
	case "update":
		order = store.RecentByUpdate
	case "publish":
		order = store.RecentByPublish
	default:
		return InvalidPayloadError("action must be one of update, publish")
	}

	// Only content types the actor can read at all are queried.
	actor := getActor(c)
	types := make(map[string]*metadata.ContentType)
	var readable []string
	for _, ct := range h.registry.AllContentTypes() {
		if h.authz.Can(actor, metadata.ActionRead, ct.UID) {
			types[ct.UID] = ct
			readable = append(readable, ct.UID)
		}
	}
	if len(readable) == 0 {
		return c.JSON(fiber.Map{"data": []fiber.Map{}})
	}

	candidates, err := h.store.RecentEntries(c.UserContext(), order, readable, h.cfg.RecentCandidateBatch)
	if err != nil {
		return fmt.Errorf("recent documents: %w", err)
	}

	views := make([]authz.Entry, len(candidates))
	for i, e := range candidates {
		views[i] = e.Authz()
	}
	decisions := h.authz.DecideEach(actor, metadata.ActionRead, views)

	docs := make([]fiber.Map, 0, h.cfg.RecentDocumentsLimit)
	for i, d := range decisions {
		if !d.Allowed {
			continue
		}
		if len(docs) == h.cfg.RecentDocumentsLimit {
			break
		}
		e := candidates[i]
		docs = append(docs, recentDocument(types[e.ContentType], e, d))
	}

	return c.JSON(fiber.Map{"data": docs})
}

func recentDocument(ct *metadata.ContentType, e *store.Entry, d authz.Decision) fiber.Map {
	doc := fiber.Map{
		"documentId":         e.DocumentID,
		"contentTypeUid":     ct.UID,
		"contentTypeDisplay": ct.DisplayName,
		"updatedAt":          e.UpdatedAt,
		"publishedAt":        e.PublishedAt,
		"status":             status(e),
	}
	if ct.MainField != "" && d.FieldAllowed(ct.MainField) {
		doc["title"] = e.Data[ct.MainField]
	} else {
		doc["title"] = e.DocumentID
	}
	return doc
}

// authorizeEntry resolves the content type and entry named in the route
// and decides action on it. Actors without any permission for the action
// are denied before the entry is looked up, so a 404 never reveals that a
// document exists to someone who could not act on it anyway.
func (h *Handler) authorizeEntry(c *fiber.Ctx, action string) (*metadata.ContentType, *store.Entry, authz.Decision, error) {
	ct, err := h.resolveContentType(c)
	if err != nil {
		return nil, nil, authz.Decision{}, err
	}
	actor := getActor(c)
	documentID := c.Params("documentId")

	if !h.authz.Can(actor, action, ct.UID) {
		return nil, nil, authz.Decision{}, h.deny(c, action, ct.UID, documentID, authz.Decision{Reason: authz.ReasonNoCapability})
	}

	entry, err := h.store.GetEntry(c.UserContext(), ct.UID, documentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, authz.Decision{}, NotFoundError(ct.UID, documentID)
		}
		return nil, nil, authz.Decision{}, fmt.Errorf("get %s/%s: %w", ct.UID, documentID, err)
	}

	decision := h.authz.Decide(actor, action, ct.UID, entry.Authz())
	if !decision.Allowed {
		return nil, nil, authz.Decision{}, h.deny(c, action, ct.UID, documentID, decision)
	}
	return ct, entry, decision, nil
}

// deny records the denied decision and returns the uniform 403. The reason
// stays in logs and events.
func (h *Handler) deny(c *fiber.Ctx, action, subject, documentID string, d authz.Decision) error {
	actor := getActor(c)
	h.log.Debug("access denied",
		zap.String("actor", actor.ID),
		zap.String("action", action),
		zap.String("subject", subject),
		zap.String("document_id", documentID),
		zap.String("reason", string(d.Reason)),
	)
	instrument.RecordDenial(c.UserContext(), instrument.Denial{
		Action:     action,
		Subject:    subject,
		DocumentID: documentID,
		Decision:   d,
	})
	return ForbiddenError()
}

func (h *Handler) resolveContentType(c *fiber.Ctx) (*metadata.ContentType, error) {
	uid := c.Params("uid")
	ct := h.registry.GetContentType(uid)
	if ct == nil {
		return nil, UnknownContentTypeError(uid)
	}
	return ct, nil
}

func (h *Handler) pagination(c *fiber.Ctx) (int, int) {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.Query("pageSize", strconv.Itoa(h.cfg.DefaultPageSize)))
	if pageSize < 1 {
		pageSize = h.cfg.DefaultPageSize
	}
	if pageSize > h.cfg.MaxPageSize {
		pageSize = h.cfg.MaxPageSize
	}
	return page, pageSize
}

func getActor(c *fiber.Ctx) authz.Actor {
	if actor, ok := c.Locals("user").(*authz.Actor); ok && actor != nil {
		return *actor
	}
	return authz.Actor{}
}

// entryResponse renders an entry projected onto the decision's field
// restriction. System attributes are always included.
func entryResponse(e *store.Entry, d authz.Decision) fiber.Map {
	out := fiber.Map{
		"documentId":  e.DocumentID,
		"createdAt":   e.CreatedAt,
		"updatedAt":   e.UpdatedAt,
		"publishedAt": e.PublishedAt,
		"createdBy":   fiber.Map{"id": e.CreatedBy},
		"updatedBy":   fiber.Map{"id": e.UpdatedBy},
		"status":      status(e),
	}
	for k, v := range e.Data {
		if d.FieldAllowed(k) {
			out[k] = v
		}
	}
	return out
}

func status(e *store.Entry) string {
	if e.PublishedAt != nil {
		return "published"
	}
	return "draft"
}

// permittedFields drops attributes outside the decision's field restriction.
func permittedFields(body map[string]any, d authz.Decision) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		if d.FieldAllowed(k) {
			out[k] = v
		}
	}
	return out
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func handleWriteError(err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, store.ErrUniqueViolation) {
		return ConflictError("A document with this value already exists")
	}
	return err
}
