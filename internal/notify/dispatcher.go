package notify

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/helpdesk-kit/ticket-lifecycle/internal/config"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/domain"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/events"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/observability"
)

// Dispatcher fans ticket events out to email recipients. Each send is
// isolated: one recipient's failure never prevents the rest of the batch
// and never fails the lifecycle operation. There are no retries.
type Dispatcher struct {
	resolver *Resolver
	renderer Renderer
	mailer   Mailer
	logger   *zap.Logger
	metrics  *observability.Metrics
	cfg      config.NotificationConfig
}

// NewDispatcher creates the dispatcher.
func NewDispatcher(resolver *Resolver, renderer Renderer, mailer Mailer, logger *zap.Logger, metrics *observability.Metrics, cfg config.NotificationConfig) *Dispatcher {
	return &Dispatcher{
		resolver: resolver,
		renderer: renderer,
		mailer:   mailer,
		logger:   logger,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// RegisterHandlers subscribes to lifecycle events.
func (d *Dispatcher) RegisterHandlers(bus events.Dispatcher) {
	if bus == nil {
		return
	}
	bus.Subscribe(events.EventTicketCreated, d.handleTicketCreated)
	bus.Subscribe(events.EventTicketStatusChanged, d.handleStatusChanged)
	bus.Subscribe(events.EventTicketAssigned, d.handleAssigned)
	bus.Subscribe(events.EventTicketApprovalDecided, d.handleApprovalDecided)
}

func (d *Dispatcher) handleTicketCreated(ctx context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.CreatedPayload)
	recipients := d.resolver.Resolve(ctx, event.Ticket, event.Type, event.Actor, event.Ticket.Status)
	for _, rec := range recipients {
		data := d.emailData(event, rec)
		// The emailed link is the approver's credential; without the token
		// the URLs cannot authorize, so they are only built when it rode
		// along with the event.
		if event.Ticket.ApprovalState == domain.ApprovalPending && rec.Relationship == RelITHead && payload.ApprovalToken != "" {
			data.ApproveURL = fmt.Sprintf("%s/tickets/%d/approve?token=%s", d.cfg.BaseURL, event.TicketID, url.QueryEscape(payload.ApprovalToken))
			data.RejectURL = fmt.Sprintf("%s/tickets/%d/reject?token=%s", d.cfg.BaseURL, event.TicketID, url.QueryEscape(payload.ApprovalToken))
		}
		d.send(ctx, rec, d.variantFor(rec), data)
	}
	return nil
}

func (d *Dispatcher) handleStatusChanged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.StatusChangedPayload)
	if !ok {
		d.logger.Warn("status event with unexpected payload", zap.Int64("ticket_id", event.TicketID))
		return nil
	}
	recipients := d.resolver.Resolve(ctx, event.Ticket, event.Type, event.Actor, payload.NewStatus)
	for _, rec := range recipients {
		d.send(ctx, rec, d.variantFor(rec), d.emailData(event, rec))
	}
	return nil
}

// handleAssigned notifies the new assignee only; assignment is not a
// fan-out event.
func (d *Dispatcher) handleAssigned(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.AssignedPayload)
	if !ok || payload.AssigneeEmail == "" {
		return nil
	}
	rec := Recipient{Email: payload.AssigneeEmail, Name: payload.AssigneeName, Relationship: RelAssignee}
	d.send(ctx, rec, VariantOperational, d.emailData(event, rec))
	return nil
}

func (d *Dispatcher) handleApprovalDecided(ctx context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.ApprovalDecidedPayload)
	recipients := d.resolver.Resolve(ctx, event.Ticket, event.Type, event.Actor, event.Ticket.Status)
	for _, rec := range recipients {
		data := d.emailData(event, rec)
		data.Decision = string(payload.Decision)
		data.Comments = payload.Comments
		d.send(ctx, rec, VariantApproval, data)
	}
	return nil
}

func (d *Dispatcher) variantFor(rec Recipient) Variant {
	if rec.Relationship == RelCreator {
		return VariantCreator
	}
	return VariantOperational
}

func (d *Dispatcher) emailData(event events.Event, rec Recipient) EmailData {
	return EmailData{
		RecipientName: rec.Name,
		TicketCode:    event.Ticket.Code,
		Title:         event.Ticket.Title,
		RequesterName: event.Ticket.RequesterName,
		Severity:      event.Ticket.Severity.Display(),
		Status:        string(event.Ticket.Status),
		Event:         event.Type,
	}
}

func (d *Dispatcher) send(ctx context.Context, rec Recipient, variant Variant, data EmailData) {
	subject, body, err := d.renderer.Render(variant, data)
	if err != nil {
		d.metrics.RecordNotificationFailure()
		d.logger.Warn("render notification",
			zap.String("to", rec.Email),
			zap.String("variant", string(variant)),
			zap.Error(err))
		return
	}
	if err := d.mailer.Send(ctx, rec.Email, rec.Name, subject, body); err != nil {
		d.metrics.RecordNotificationFailure()
		d.logger.Warn("send notification",
			zap.String("to", rec.Email),
			zap.String("variant", string(variant)),
			zap.Error(err))
	}
}
