package handlers

import (
	"fmt"
	"html"

	"github.com/gofiber/fiber/v2"

	"github.com/helpdesk-kit/ticket-lifecycle/internal/api/dto"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/auth"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/domain"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/service"
	apperrors "github.com/helpdesk-kit/ticket-lifecycle/pkg/util"
)

// ApprovalHandler exposes the approve/reject operations. The PUT routes
// are the API form; the GET routes render a human confirmation page for
// email links. Both accept the same `token` query parameter.
type ApprovalHandler struct {
	service *service.LifecycleService
}

// NewApprovalHandler constructs handler.
func NewApprovalHandler(lifecycle *service.LifecycleService) *ApprovalHandler {
	return &ApprovalHandler{service: lifecycle}
}

// Approve PUT /tickets/:id/approve.
func (h *ApprovalHandler) Approve(c *fiber.Ctx) error {
	result, err := h.decide(c, domain.ApprovalApproved)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": approvalResponse(result)})
}

// Reject PUT /tickets/:id/reject.
func (h *ApprovalHandler) Reject(c *fiber.Ctx) error {
	result, err := h.decide(c, domain.ApprovalRejected)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": approvalResponse(result)})
}

// ApprovePage GET /tickets/:id/approve.
func (h *ApprovalHandler) ApprovePage(c *fiber.Ctx) error {
	return h.decidePage(c, domain.ApprovalApproved)
}

// RejectPage GET /tickets/:id/reject.
func (h *ApprovalHandler) RejectPage(c *fiber.Ctx) error {
	return h.decidePage(c, domain.ApprovalRejected)
}

func (h *ApprovalHandler) decide(c *fiber.Ctx, decision domain.ApprovalStatus) (*service.ApprovalResult, error) {
	id, err := ticketID(c)
	if err != nil {
		return nil, err
	}

	// Anonymous callers are allowed here: the token carries authorization.
	actor, _ := auth.ActorFromContext(c)
	token := c.Query("token")

	var req dto.ApprovalActionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return nil, apperrors.NewInvalidInput("invalid payload", nil)
		}
	}

	if decision == domain.ApprovalApproved {
		return h.service.Approve(c.UserContext(), actor, id, token, req.Comments)
	}
	reason := req.Reason
	if reason == "" {
		reason = c.Query("reason")
	}
	return h.service.Reject(c.UserContext(), actor, id, token, reason)
}

func (h *ApprovalHandler) decidePage(c *fiber.Ctx, decision domain.ApprovalStatus) error {
	result, err := h.decide(c, decision)
	if err != nil {
		domainErr := apperrors.ToDomainError(err)
		c.Status(domainErr.HTTPStatus)
		return renderPage(c, "Request not processed", domainErr.Message)
	}

	if result.AlreadyProcessed {
		return renderPage(c, "Already processed",
			fmt.Sprintf("Ticket #%d was already actioned; no changes were made.", result.TicketID))
	}
	verb := "approved"
	if result.Decision == domain.ApprovalRejected {
		verb = "rejected"
	}
	return renderPage(c, "Thank you",
		fmt.Sprintf("Ticket #%d has been %s.", result.TicketID, verb))
}

func renderPage(c *fiber.Ctx, title, message string) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(fmt.Sprintf(
		"<!DOCTYPE html><html><head><title>%s</title></head><body><h1>%s</h1><p>%s</p></body></html>",
		html.EscapeString(title), html.EscapeString(title), html.EscapeString(message)))
}

func approvalResponse(result *service.ApprovalResult) dto.ApprovalResponse {
	return dto.ApprovalResponse{
		TicketID:         result.TicketID,
		Decision:         result.Decision,
		AlreadyProcessed: result.AlreadyProcessed,
	}
}
