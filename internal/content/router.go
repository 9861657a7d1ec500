package content

import "github.com/gofiber/fiber/v2"

func RegisterRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	cm := app.Group("/content-manager", middleware...)

	cm.Get("/homepage/recent-documents", h.RecentDocuments)

	types := cm.Group("/collection-types")
	types.Get("/:uid", h.List)
	types.Post("/:uid", h.Create)
	types.Get("/:uid/:documentId", h.GetByID)
	types.Put("/:uid/:documentId", h.Update)
	types.Delete("/:uid/:documentId", h.Delete)
	types.Post("/:uid/:documentId/actions/publish", h.Publish)
}
