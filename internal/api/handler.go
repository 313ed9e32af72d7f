// Package api exposes the orchestrator and the workflow engines over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"entityflow/internal/auth"
	"entityflow/internal/engine"
	"entityflow/internal/storage"
	"entityflow/internal/store"
	"entityflow/internal/workflow"
)

// CSRFHeader carries the token checked before writes.
const CSRFHeader = "X-CSRF-Token"

// transitionKey in an update body turns the request into a transition.
const transitionKey = "_transition"

var reservedQuery = map[string]bool{"page": true, "per_page": true, "sort": true, "search": true}

type Handler struct {
	orch      *engine.Orchestrator
	workflows *workflow.Registry
	logger    *zap.Logger
}

func NewHandler(orch *engine.Orchestrator, workflows *workflow.Registry, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{orch: orch, workflows: workflows, logger: logger}
}

// RegisterRoutes registers the entity and workflow routes behind the actor
// middleware. Routes under /api/_ must be registered before these.
func RegisterRoutes(app *fiber.App, h *Handler, actorMW fiber.Handler) {
	g := app.Group("/api", actorMW)
	g.Get("/:table", h.List)
	g.Post("/:table", h.Create)
	g.Get("/:table/:id", h.Get)
	g.Put("/:table/:id", h.Update)
	g.Delete("/:table/:id", h.Delete)
	g.Delete("/:table/:id/force", h.ForceDelete)
	g.Get("/:table/:id/transitions", h.Transitions)
	g.Post("/:table/:id/transitions/:name", h.Transition)
	g.Get("/:table/:id/history", h.History)
}

func (h *Handler) List(c *fiber.Ctx) error {
	params := engine.ListParams{
		Page:    c.QueryInt("page", 1),
		PerPage: c.QueryInt("per_page", 0),
		Sort:    c.Query("sort"),
		Search:  c.Query("search"),
	}
	c.Context().QueryArgs().VisitAll(func(k, v []byte) {
		key := string(k)
		if reservedQuery[key] {
			return
		}
		field, op := engine.ParseFilterKey(key)
		params.Filters = append(params.Filters, engine.Filter{Field: field, Operator: op, Value: string(v)})
	})

	page, err := h.orch.List(c.UserContext(), c.Params("table"), params, auth.ActorFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (h *Handler) Get(c *fiber.Ctx) error {
	row, err := h.orch.Get(c.UserContext(), c.Params("table"), c.Params("id"), auth.ActorFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": row})
}

func (h *Handler) Create(c *fiber.Ctx) error {
	req, closeFiles, err := h.request(c)
	if err != nil {
		return err
	}
	defer closeFiles()

	res, err := h.orch.Save(c.UserContext(), req)
	if err != nil {
		return err
	}
	status := res.Status()
	if res.Success {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(res)
}

func (h *Handler) Update(c *fiber.Ctx) error {
	req, closeFiles, err := h.request(c)
	if err != nil {
		return err
	}
	defer closeFiles()
	req.ID = c.Params("id")

	if name, ok := req.Data[transitionKey].(string); ok && name != "" {
		req.Transition = &engine.TransitionMarker{Name: name}
	}
	delete(req.Data, transitionKey)

	return h.save(c, req)
}

func (h *Handler) Delete(c *fiber.Ctx) error {
	res, err := h.orch.Delete(c.UserContext(), h.deleteRequest(c))
	if err != nil {
		return err
	}
	return c.Status(res.Status()).JSON(res)
}

func (h *Handler) ForceDelete(c *fiber.Ctx) error {
	actor := auth.ActorFrom(c)
	if !actor.IsAdmin() {
		return engine.ForbiddenError("Admin access required")
	}
	res, err := h.orch.ForceDelete(c.UserContext(), h.deleteRequest(c))
	if err != nil {
		return err
	}
	return c.Status(res.Status()).JSON(res)
}

// Transitions lists the transitions the actor may take from the row's
// current state.
func (h *Handler) Transitions(c *fiber.Ctx) error {
	eng, err := h.workflowFor(c)
	if err != nil {
		return err
	}
	id := c.Params("id")
	state, err := eng.CurrentState(c.UserContext(), id)
	if errors.Is(err, store.ErrNotFound) {
		return engine.NotFound(c.Params("table"), id)
	}
	if err != nil {
		return err
	}

	actor := auth.ActorFrom(c)
	allowed := []string{}
	for _, name := range eng.AvailableTransitions(state) {
		if eng.CanTransition(name, state, actor) {
			allowed = append(allowed, name)
		}
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"state": state, "transitions": allowed}})
}

func (h *Handler) Transition(c *fiber.Ctx) error {
	return h.save(c, engine.Request{
		Table:      c.Params("table"),
		ID:         c.Params("id"),
		Transition: &engine.TransitionMarker{Name: c.Params("name")},
		CSRFToken:  c.Get(CSRFHeader),
		Actor:      auth.ActorFrom(c),
	})
}

func (h *Handler) History(c *fiber.Ctx) error {
	eng, err := h.workflowFor(c)
	if err != nil {
		return err
	}
	if _, err := h.orch.Get(c.UserContext(), c.Params("table"), c.Params("id"), auth.ActorFrom(c)); err != nil {
		return err
	}
	records, err := eng.History(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if records == nil {
		records = []workflow.Record{}
	}
	return c.JSON(fiber.Map{"data": records})
}

func (h *Handler) save(c *fiber.Ctx, req engine.Request) error {
	res, err := h.orch.Save(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(res.Status()).JSON(res)
}

func (h *Handler) workflowFor(c *fiber.Ctx) (*workflow.Engine, error) {
	eng, ok := h.workflows.Engine(c.Params("table"))
	if !ok {
		return nil, engine.NewAppError("NO_WORKFLOW", 404, "No workflow is configured for "+c.Params("table"))
	}
	return eng, nil
}

func (h *Handler) deleteRequest(c *fiber.Ctx) engine.DeleteRequest {
	return engine.DeleteRequest{
		Table:     c.Params("table"),
		ID:        c.Params("id"),
		CSRFToken: c.Get(CSRFHeader),
		Actor:     auth.ActorFrom(c),
	}
}

// request reads a JSON or multipart body. The returned func closes any
// opened upload.
func (h *Handler) request(c *fiber.Ctx) (engine.Request, func(), error) {
	req := engine.Request{
		Table:     c.Params("table"),
		CSRFToken: c.Get(CSRFHeader),
		Actor:     auth.ActorFrom(c),
	}
	noop := func() {}

	if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		data := map[string]any{}
		if len(c.Body()) > 0 {
			if err := json.Unmarshal(c.Body(), &data); err != nil {
				return req, noop, engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
			}
		}
		req.Data = data
		return req, noop, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return req, noop, engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid multipart body")
	}
	req.Data = formData(form.Value)

	var opened []io.Closer
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	req.Files = map[string]storage.Upload{}
	for field, headers := range form.File {
		if len(headers) == 0 {
			continue
		}
		f, err := headers[0].Open()
		if err != nil {
			closeAll()
			return req, noop, engine.NewAppError("INVALID_PAYLOAD", 400, "Could not read upload "+field)
		}
		opened = append(opened, f)
		req.Files[field] = storage.Upload{Filename: headers[0].Filename, Reader: f}
	}
	return req, closeAll, nil
}

// formData keeps single values as strings and repeated keys as lists.
func formData(values map[string][]string) map[string]any {
	out := make(map[string]any, len(values))
	for k, vs := range values {
		k = strings.TrimSuffix(k, "[]")
		if len(vs) == 1 {
			out[k] = vs[0]
			continue
		}
		list := make([]any, len(vs))
		for i, v := range vs {
			list[i] = v
		}
		out[k] = list
	}
	return out
}
