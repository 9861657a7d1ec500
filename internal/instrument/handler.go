package instrument

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"rocket-cms/internal/store"
)

const eventSelect = "SELECT id, trace_id, span_id, parent_span_id, event_type, source, component, action, entity, record_id, user_id, duration_ms, status, metadata, created_at FROM _events"

// EventHandler exposes the recorded events to administrators.
type EventHandler struct {
	db      *sql.DB
	dialect store.Dialect
}

// NewEventHandler creates an EventHandler backed by the given db and dialect.
func NewEventHandler(db *sql.DB, dialect store.Dialect) *EventHandler {
	return &EventHandler{db: db, dialect: dialect}
}

var eventFilters = []string{"event_type", "source", "component", "action", "entity", "record_id", "user_id", "trace_id", "status"}

// List handles GET /admin/events, filtered by any of eventFilters.
func (h *EventHandler) List(c *fiber.Ctx) error {
	ctx := c.UserContext()
	pb := h.dialect.NewParamBuilder()

	var conditions []string
	for _, col := range eventFilters {
		if v := c.Query(col); v != "" {
			conditions = append(conditions, fmt.Sprintf("%s = %s", col, pb.Add(v)))
		}
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(c.Query("per_page", "50"))
	if perPage < 1 {
		perPage = 50
	}
	if perPage > 100 {
		perPage = 100
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM _events"+whereClause, pb.Params()...).Scan(&total); err != nil {
		return fmt.Errorf("count events: %w", err)
	}

	limit := pb.Add(perPage)
	offset := pb.Add((page - 1) * perPage)
	rows, err := store.QueryRows(ctx, h.db,
		fmt.Sprintf("%s%s ORDER BY created_at DESC LIMIT %s OFFSET %s", eventSelect, whereClause, limit, offset),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	return c.JSON(fiber.Map{
		"data": decodeMetadata(rows),
		"pagination": fiber.Map{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

// GetTrace handles GET /admin/events/trace/:traceId.
func (h *EventHandler) GetTrace(c *fiber.Ctx) error {
	traceID := c.Params("traceId")
	pb := h.dialect.NewParamBuilder()
	rows, err := store.QueryRows(c.UserContext(), h.db,
		fmt.Sprintf("%s WHERE trace_id = %s ORDER BY created_at ASC", eventSelect, pb.Add(traceID)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("get trace: %w", err)
	}
	if len(rows) == 0 {
		return c.Status(404).JSON(fiber.Map{"error": fiber.Map{"code": "NOT_FOUND", "message": "Trace not found: " + traceID}})
	}

	var root map[string]any
	for _, row := range rows {
		if row["parent_span_id"] == nil {
			root = row
			break
		}
	}
	if root == nil {
		root = rows[0]
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"trace_id":          traceID,
			"root_span":         root,
			"spans":             decodeMetadata(rows),
			"total_duration_ms": root["duration_ms"],
		},
	})
}

// decodeMetadata turns the stored metadata JSON back into objects.
func decodeMetadata(rows []map[string]any) []map[string]any {
	if rows == nil {
		return []map[string]any{}
	}
	for _, row := range rows {
		var raw []byte
		switch v := row["metadata"].(type) {
		case string:
			raw = []byte(v)
		case []byte:
			raw = v
		default:
			continue
		}
		var meta map[string]any
		if err := json.Unmarshal(raw, &meta); err == nil {
			row["metadata"] = meta
		}
	}
	return rows
}
