package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/student-support/internal/api/dto"
	"github.com/spec-kit/student-support/internal/auth"
	"github.com/spec-kit/student-support/internal/domain"
	"github.com/spec-kit/student-support/internal/service"
	apperrors "github.com/spec-kit/student-support/pkg/util"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ThreadsHandler serves the thread command and query endpoints for every role.
type ThreadsHandler struct {
	threads *service.ThreadService
}

// NewThreadsHandler constructs handler.
func NewThreadsHandler(threads *service.ThreadService) *ThreadsHandler {
	return &ThreadsHandler{threads: threads}
}

// CreateThread POST /threads.
func (h *ThreadsHandler) CreateThread(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.CreateThreadRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	input := service.CreateThreadInput{
		Title:      req.Title,
		StudentRef: req.Student(),
		Department: req.Department,
		Topic:      req.Topic,
		IssueType:  req.Type(),
		Issue:      req.IssueText(),
	}
	if req.Priority != "" {
		priority, err := domain.ParseThreadPriority(req.Priority)
		if err != nil {
			return apperrors.NewValidationError(err.Error(), map[string]any{"field": "priority"})
		}
		input.Priority = &priority
	}

	thread, msgs, err := h.threads.CreateThread(c.UserContext(), actor, input)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewThreadDetailResponse(thread, msgs)})
}

// ListThreads GET /threads.
func (h *ThreadsHandler) ListThreads(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	input := service.ListThreadsInput{}
	if raw := c.Query("status"); raw != "" {
		status, err := domain.ParseThreadStatus(raw)
		if err != nil {
			return apperrors.NewValidationError(err.Error(), map[string]any{"field": "status"})
		}
		input.Status = &status
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), defaultPageSize)
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	input.Offset = (page - 1) * pageSize
	input.Limit = pageSize

	threads, err := h.threads.ListThreads(c.UserContext(), actor, input)
	if err != nil {
		return err
	}
	items := make([]dto.ThreadResponse, 0, len(threads))
	for _, thread := range threads {
		items = append(items, dto.NewThreadResponse(thread))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetThread GET /threads/:id.
func (h *ThreadsHandler) GetThread(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	thread, err := h.threads.GetThread(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	msgs, err := h.threads.ListMessages(c.UserContext(), actor, thread.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewThreadDetailResponse(thread, msgs)})
}

// ListMessages GET /threads/:id/messages.
func (h *ThreadsHandler) ListMessages(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	msgs, err := h.threads.ListMessages(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewMessageResponses(msgs)})
}

// PostMessage POST /threads/:id/messages.
func (h *ThreadsHandler) PostMessage(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.PostMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	msg, err := h.threads.PostMessage(c.UserContext(), actor, c.Params("id"), req.Body())
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewMessageResponse(msg)})
}

// AssignThread POST /threads/:id/assign.
func (h *ThreadsHandler) AssignThread(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.AssignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	thread, err := h.threads.AssignThread(c.UserContext(), actor, c.Params("id"), req.Target())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewThreadResponse(thread)})
}

// EscalateThread POST /threads/:id/escalate.
func (h *ThreadsHandler) EscalateThread(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	thread, err := h.threads.EscalateThread(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewThreadResponse(thread)})
}

// ResolveThread POST /threads/:id/resolve. The body is optional.
func (h *ThreadsHandler) ResolveThread(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.ResolveRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	thread, msgs, err := h.threads.ResolveThread(c.UserContext(), actor, c.Params("id"), req.Body())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewThreadDetailResponse(thread, msgs)})
}

// UpdateThread PATCH /threads/:id.
func (h *ThreadsHandler) UpdateThread(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.UpdateThreadRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	input := service.UpdateThreadInput{
		AssignedTo: req.Department(),
		Assignee:   req.Assignee,
		Response:   req.Response,
	}
	if req.Status != nil {
		status, err := domain.ParseThreadStatus(*req.Status)
		if err != nil {
			return apperrors.NewValidationError(err.Error(), map[string]any{"field": "status"})
		}
		input.Status = &status
	}
	if req.Priority != nil {
		priority, err := domain.ParseThreadPriority(*req.Priority)
		if err != nil {
			return apperrors.NewValidationError(err.Error(), map[string]any{"field": "priority"})
		}
		input.Priority = &priority
	}

	thread, msgs, err := h.threads.UpdateThread(c.UserContext(), actor, c.Params("id"), input)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewThreadDetailResponse(thread, msgs)})
}

// Statistics GET /statistics.
func (h *ThreadsHandler) Statistics(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	stats, err := h.threads.Statistics(c.UserContext(), actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewStatisticsResponse(stats)})
}

func requireActor(c *fiber.Ctx) (domain.Actor, error) {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		return domain.Actor{}, apperrors.NewUnauthorized("authentication required")
	}
	return actor, nil
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
