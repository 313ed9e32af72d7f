// Package admin serves the administrative endpoints: table schema
// inspection, cache invalidation, audit trails and workflow definitions.
package admin

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"entityflow/internal/audit"
	"entityflow/internal/metadata"
	"entityflow/internal/store"
	"entityflow/internal/workflow"
)

// AuditReader reads back the audit trail of one record.
type AuditReader interface {
	Entries(ctx context.Context, q store.Querier, table string, id any) ([]audit.Entry, error)
}

type Handler struct {
	store     *store.Store
	tables    *metadata.Store
	audit     AuditReader
	workflows *workflow.Registry
	logger    *zap.Logger
}

func NewHandler(s *store.Store, tables *metadata.Store, auditLog AuditReader, workflows *workflow.Registry, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: s, tables: tables, audit: auditLog, workflows: workflows, logger: logger}
}

func RegisterAdminRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	schema := app.Group("/api/_schema", middleware...)
	schema.Get("/:table", h.GetSchema)
	schema.Delete("/:table", h.InvalidateSchema)

	app.Group("/api/_audit", middleware...).Get("/:table/:id", h.AuditTrail)

	wf := app.Group("/api/_workflows", middleware...)
	wf.Get("/", h.ListWorkflows)
	wf.Get("/:table", h.GetWorkflow)
}

// GetSchema returns the introspected schema of a table with its parsed
// comment configuration.
func (h *Handler) GetSchema(c *fiber.Ctx) error {
	tbl, err := h.tables.Table(c.UserContext(), c.Params("table"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": tbl.Schema})
}

// InvalidateSchema drops the cached schema so the next request
// re-introspects the table.
func (h *Handler) InvalidateSchema(c *fiber.Ctx) error {
	table := c.Params("table")
	if err := h.tables.Invalidate(c.UserContext(), table); err != nil {
		return err
	}
	h.logger.Info("schema invalidated", zap.String("table", table))
	return c.JSON(fiber.Map{"data": fiber.Map{"invalidated": table}})
}

func (h *Handler) AuditTrail(c *fiber.Ctx) error {
	if h.audit == nil {
		return c.Status(404).JSON(fiber.Map{"error": fiber.Map{"code": "AUDIT_DISABLED", "message": "Auditing is disabled"}})
	}
	entries, err := h.audit.Entries(c.UserContext(), h.store.DB, c.Params("table"), c.Params("id"))
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	return c.JSON(fiber.Map{"data": entries})
}

func (h *Handler) ListWorkflows(c *fiber.Ctx) error {
	tables := []string{}
	if h.workflows != nil {
		tables = append(tables, h.workflows.Tables()...)
	}
	return c.JSON(fiber.Map{"data": tables})
}

func (h *Handler) GetWorkflow(c *fiber.Ctx) error {
	eng, ok := h.workflows.Engine(c.Params("table"))
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": fiber.Map{"code": "NOT_FOUND", "message": "No workflow for " + c.Params("table")}})
	}
	return c.JSON(fiber.Map{"data": eng.Definition()})
}
