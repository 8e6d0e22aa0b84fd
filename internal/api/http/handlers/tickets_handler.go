package handlers

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/helpdesk-kit/ticket-lifecycle/internal/api/dto"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/auth"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/domain"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/repository"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/service"
	apperrors "github.com/helpdesk-kit/ticket-lifecycle/pkg/util"
)

// TicketsHandler exposes the ticket lifecycle over HTTP.
type TicketsHandler struct {
	service   *service.LifecycleService
	uploadDir string
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(lifecycle *service.LifecycleService, uploadDir string) *TicketsHandler {
	return &TicketsHandler{service: lifecycle, uploadDir: uploadDir}
}

// CreateTicket POST /tickets. Accepts JSON or multipart with attachments.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("login required")
	}

	var req dto.CreateTicketRequest
	var files []*multipart.FileHeader
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		form, err := c.MultipartForm()
		if err != nil {
			return apperrors.NewInvalidInput("invalid multipart payload", nil)
		}
		req = ticketRequestFromForm(form)
		files = form.File["attachments"]
	} else if err := c.BodyParser(&req); err != nil {
		return apperrors.NewInvalidInput("invalid payload", nil)
	}

	input := service.CreateTicketInput{
		RequesterName: req.RequesterName,
		Contact:       req.Contact,
		Title:         req.Title,
		Description:   req.Description,
		DepartmentID:  req.DepartmentID,
		CompanyID:     req.CompanyID,
		CategoryID:    req.CategoryID,
		IssueTypeID:   req.IssueTypeID,
		RequestType:   req.RequestType,
		Severity:      req.Severity,
	}
	for _, file := range files {
		stored := uniqueStoredPath(file.Filename)
		if err := c.SaveFile(file, filepath.Join(h.uploadDir, stored)); err != nil {
			return apperrors.MapError(err)
		}
		input.Attachments = append(input.Attachments, service.AttachmentInput{StoredPath: stored})
	}

	ticket, err := h.service.CreateTicket(c.UserContext(), actor, input)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	filter := parseTicketQuery(c)
	tickets, err := h.service.ListTickets(c.UserContext(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketSummary(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	ticket, comments, attachments, err := h.service.GetTicket(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(ticket, comments, attachments)})
}

// ChangeStatus PUT /tickets/:id/status.
func (h *TicketsHandler) ChangeStatus(c *fiber.Ctx) error {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("login required")
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req dto.ChangeStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewInvalidInput("invalid payload", nil)
	}
	result, err := h.service.ChangeStatus(c.UserContext(), actor, id, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.StatusChangeResponse{
		TicketID:       result.TicketID,
		Status:         result.Status,
		PreviousStatus: result.PreviousStatus,
		Changed:        result.Changed,
	}})
}

// AssignTicket PUT /tickets/:id/assign.
func (h *TicketsHandler) AssignTicket(c *fiber.Ctx) error {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("login required")
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req dto.AssignTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewInvalidInput("invalid payload", nil)
	}
	result, err := h.service.AssignTicket(c.UserContext(), actor, id, req.AssigneeID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.AssignmentResponse{
		TicketID:   result.TicketID,
		AssigneeID: result.AssigneeID,
		Changed:    result.Changed,
	}})
}

// AddComment POST /tickets/:id/comments.
func (h *TicketsHandler) AddComment(c *fiber.Ctx) error {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("login required")
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var req dto.AddCommentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewInvalidInput("invalid payload", nil)
	}
	comment, autoProcessed, err := h.service.AddComment(c.UserContext(), actor, id, req.Body)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.AddCommentResponse{
		Comment:       commentResponse(comment),
		AutoProcessed: autoProcessed,
	}})
}

func ticketID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewInvalidInput("invalid ticket id", nil)
	}
	return id, nil
}

func ticketRequestFromForm(form *multipart.Form) dto.CreateTicketRequest {
	value := func(key string) string {
		if vals := form.Value[key]; len(vals) > 0 {
			return vals[0]
		}
		return ""
	}
	return dto.CreateTicketRequest{
		RequesterName: value("requester_name"),
		Contact:       value("contact"),
		Title:         value("title"),
		Description:   value("description"),
		DepartmentID:  parseOptionalID(value("department_id")),
		CompanyID:     parseOptionalID(value("company_id")),
		CategoryID:    parseOptionalID(value("category_id")),
		IssueTypeID:   parseOptionalID(value("issue_type_id")),
		RequestType:   value("request_type"),
		Severity:      value("severity"),
	}
}

func parseOptionalID(val string) *int64 {
	if val == "" {
		return nil
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

// uniqueStoredPath prefixes the original name so concurrent uploads of the
// same file never collide in storage.
func uniqueStoredPath(original string) string {
	base := filepath.Base(original)
	return fmt.Sprintf("%d_%s_%s", time.Now().UnixMilli(), uuid.NewString()[:8], base)
}

func parseTicketQuery(c *fiber.Ctx) repository.TicketFilter {
	filter := repository.TicketFilter{}
	if statusStr := c.Query("status"); statusStr != "" {
		for _, part := range strings.Split(statusStr, ",") {
			if status, ok := domain.NormalizeStatus(part); ok {
				filter.Statuses = append(filter.Statuses, status)
			}
		}
	}
	filter.CategoryID = parseOptionalID(c.Query("category_id"))
	filter.AssigneeID = parseOptionalID(c.Query("assignee_id"))
	if from := parseTime(c.Query("created_from")); from != nil {
		filter.CreatedFrom = from
	}
	if to := parseTime(c.Query("created_to")); to != nil {
		filter.CreatedTo = to
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter
}

func parseTime(val string) *time.Time {
	if val == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil
	}
	return &t
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

func ticketSummary(ticket *domain.Ticket) dto.TicketSummary {
	return dto.TicketSummary{
		ID:             ticket.ID,
		Code:           ticket.Code(),
		RequesterName:  ticket.RequesterName,
		Title:          ticket.Title,
		Severity:       ticket.Severity.Display(),
		Status:         ticket.Status,
		ApprovalStatus: ticket.ApprovalStatus,
		AssigneeID:     ticket.AssigneeID,
		CreatedAt:      ticket.CreatedAt,
		UpdatedAt:      ticket.UpdatedAt,
	}
}

func ticketDetail(ticket *domain.Ticket, comments []domain.Comment, attachments []domain.Attachment) dto.TicketDetailResponse {
	resp := dto.TicketDetailResponse{
		TicketSummary: ticketSummary(ticket),
		Contact:       ticket.Contact,
		Description:   ticket.Description,
		DepartmentID:  ticket.DepartmentID,
		CompanyID:     ticket.CompanyID,
		CategoryID:    ticket.CategoryID,
		IssueTypeID:   ticket.IssueTypeID,
		RequestType:   ticket.RequestType,
	}
	for i := range comments {
		resp.Comments = append(resp.Comments, commentResponse(&comments[i]))
	}
	for _, att := range attachments {
		resp.Attachments = append(resp.Attachments, dto.AttachmentResponse{
			ID:         att.ID,
			StoredPath: att.StoredPath,
			CreatedAt:  att.CreatedAt,
		})
	}
	return resp
}

func commentResponse(comment *domain.Comment) dto.CommentResponse {
	return dto.CommentResponse{
		ID:         comment.ID,
		AuthorName: comment.AuthorName,
		Body:       comment.Body,
		CreatedAt:  comment.CreatedAt,
	}
}
