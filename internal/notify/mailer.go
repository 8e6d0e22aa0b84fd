// Package notify computes who gets emailed what for each ticket event and
// hands the result to an external renderer and mail transport. Sends are
// best-effort: a failed send is logged and never surfaces to the lifecycle
// operation that triggered it.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/helpdesk-kit/ticket-lifecycle/internal/events"
)

// Variant selects which message template a recipient receives.
type Variant string

const (
	// VariantCreator is the simplified message sent to the person who
	// raised the ticket.
	VariantCreator Variant = "creator"
	// VariantOperational carries full classification fields for the
	// handling team and IT Head.
	VariantOperational Variant = "operational"
	// VariantApproval is the dedicated approve/reject outcome message,
	// sent regardless of relationship.
	VariantApproval Variant = "approval"
)

// EmailData is the structured payload handed to the renderer.
type EmailData struct {
	RecipientName string
	TicketCode    string
	Title         string
	RequesterName string
	Severity      string
	Status        string
	Event         events.EventType
	Decision      string
	Comments      string
	ApproveURL    string
	RejectURL     string
}

// Renderer produces a subject and HTML body from structured data. The
// concrete template engine is a deployment concern.
type Renderer interface {
	Render(variant Variant, data EmailData) (subject, htmlBody string, err error)
}

// Mailer delivers a rendered message. Transport failures are returned to
// the dispatcher, which logs and swallows them.
type Mailer interface {
	Send(ctx context.Context, to, toName, subject, htmlBody string) error
}

// LogMailer writes messages to the log instead of a wire transport. It is
// the default when no SMTP relay is configured.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer constructs the mailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send logs the outbound message.
func (m *LogMailer) Send(ctx context.Context, to, toName, subject, htmlBody string) error {
	m.logger.Info("email",
		zap.String("to", to),
		zap.String("to_name", toName),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(htmlBody)))
	return nil
}

// TextRenderer is a minimal renderer used when no HTML template set is
// wired in. Output is plain text wrapped in a pre block.
type TextRenderer struct{}

// Render implements Renderer.
func (TextRenderer) Render(variant Variant, data EmailData) (string, string, error) {
	var subject, body string
	switch variant {
	case VariantCreator:
		subject = fmt.Sprintf("[%s] %s - update on your request", data.TicketCode, data.Title)
		body = fmt.Sprintf("Hello %s,\n\nYour ticket %s (%s) is now %s.\n",
			data.RecipientName, data.TicketCode, data.Title, data.Status)
	case VariantApproval:
		subject = fmt.Sprintf("[%s] change request %s", data.TicketCode, data.Decision)
		body = fmt.Sprintf("Ticket %s (%s) was %s by %s.\n%s\n",
			data.TicketCode, data.Title, data.Decision, data.Comments, data.Status)
	default:
		subject = fmt.Sprintf("[%s] %s - %s", data.TicketCode, data.Title, data.Event)
		body = fmt.Sprintf("Ticket %s\nRequester: %s\nSeverity: %s\nStatus: %s\n",
			data.TicketCode, data.RequesterName, data.Severity, data.Status)
		if data.ApproveURL != "" {
			body += fmt.Sprintf("\nApprove: %s\nReject: %s\n", data.ApproveURL, data.RejectURL)
		}
	}
	return subject, "<pre>" + body + "</pre>", nil
}
