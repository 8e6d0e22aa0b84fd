package notify

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/helpdesk-kit/ticket-lifecycle/internal/domain"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/events"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/repository"
)

// Relationship describes why a recipient is notified.
type Relationship string

const (
	RelCreator      Relationship = "creator"
	RelAssignee     Relationship = "assignee"
	RelCategoryTeam Relationship = "category-team-member"
	RelITHead       Relationship = "it-head"
)

// Recipient is one deduplicated notification target.
type Recipient struct {
	Email        string
	Name         string
	Relationship Relationship
}

// Resolver computes the deduplicated notification audience for a ticket
// event. Directory lookup failures degrade gracefully: the affected subset
// is skipped rather than failing the whole resolution.
type Resolver struct {
	directory repository.DirectoryRepository
	logger    *zap.Logger
}

// NewResolver constructs the resolver.
func NewResolver(directory repository.DirectoryRepository, logger *zap.Logger) *Resolver {
	return &Resolver{directory: directory, logger: logger}
}

// Resolve returns recipients keyed by lowercased email. The actor is
// excluded from the category-team subset on a transition to PROCESSING;
// the creator is always kept; a transition to COMPLETED notifies everyone
// including the actor.
func (r *Resolver) Resolve(ctx context.Context, snap events.TicketSnapshot, eventType events.EventType, actor domain.ActorIdentity, newStatus domain.TicketStatus) map[string]Recipient {
	recipients := make(map[string]Recipient)

	if creator, ok := r.resolveCreator(ctx, snap); ok {
		merge(recipients, creator)
	}

	if snap.AssigneeID != nil {
		assignee, err := r.directory.GetByID(ctx, *snap.AssigneeID)
		if err != nil {
			r.logger.Warn("resolve assignee", zap.Int64("ticket_id", snap.ID), zap.Error(err))
		} else {
			merge(recipients, Recipient{Email: assignee.Email, Name: assignee.Name, Relationship: RelAssignee})
		}
	}

	excludeActorFromTeam := eventType == events.EventTicketStatusChanged && newStatus == domain.TicketStatusProcessing
	actorEmail := strings.ToLower(strings.TrimSpace(actor.Email))

	if snap.CategoryID != nil {
		team, err := r.directory.ListActiveByCategory(ctx, *snap.CategoryID)
		if err != nil {
			r.logger.Warn("resolve category team", zap.Int64("ticket_id", snap.ID), zap.Error(err))
		} else {
			for _, member := range team {
				if excludeActorFromTeam && actorEmail != "" && strings.EqualFold(member.Email, actorEmail) {
					continue
				}
				merge(recipients, Recipient{Email: member.Email, Name: member.Name, Relationship: RelCategoryTeam})
			}
		}
	}

	heads, err := r.directory.ListActiveByRole(ctx, domain.RoleITHead)
	if err != nil {
		r.logger.Warn("resolve it heads", zap.Int64("ticket_id", snap.ID), zap.Error(err))
	} else {
		for _, head := range heads {
			merge(recipients, Recipient{Email: head.Email, Name: head.Name, Relationship: RelITHead})
		}
	}

	return recipients
}

// PrimaryITHead returns the directory user recorded as actionedBy when an
// approval decision arrives over the anonymous token path.
func (r *Resolver) PrimaryITHead(ctx context.Context) (*domain.DirectoryUser, error) {
	heads, err := r.directory.ListActiveByRole(ctx, domain.RoleITHead)
	if err != nil {
		return nil, err
	}
	if len(heads) == 0 {
		return nil, nil
	}
	return &heads[0], nil
}

// resolveCreator applies the multi-strategy fallback kept for legacy rows:
// directory id first, a literal email address second, a name lookup last.
// New rows always carry an explicit CreatorKind.
func (r *Resolver) resolveCreator(ctx context.Context, snap events.TicketSnapshot) (Recipient, bool) {
	identity := strings.TrimSpace(snap.CreatedBy)
	if identity == "" {
		return Recipient{}, false
	}

	switch snap.CreatorKind {
	case domain.CreatorByID:
		if rec, ok := r.creatorByID(ctx, identity); ok {
			return rec, true
		}
	case domain.CreatorByEmail:
		return Recipient{Email: identity, Name: snap.RequesterName, Relationship: RelCreator}, true
	case domain.CreatorByName:
		if rec, ok := r.creatorByName(ctx, identity); ok {
			return rec, true
		}
		return Recipient{}, false
	}

	// Untagged legacy rows: try all three strategies in order.
	if rec, ok := r.creatorByID(ctx, identity); ok {
		return rec, true
	}
	if strings.Contains(identity, "@") {
		return Recipient{Email: identity, Name: snap.RequesterName, Relationship: RelCreator}, true
	}
	return r.creatorByName(ctx, identity)
}

func (r *Resolver) creatorByID(ctx context.Context, identity string) (Recipient, bool) {
	id, err := strconv.ParseInt(identity, 10, 64)
	if err != nil {
		return Recipient{}, false
	}
	user, err := r.directory.GetByID(ctx, id)
	if err != nil {
		r.logger.Warn("resolve creator by id", zap.String("identity", identity), zap.Error(err))
		return Recipient{}, false
	}
	return Recipient{Email: user.Email, Name: user.Name, Relationship: RelCreator}, true
}

func (r *Resolver) creatorByName(ctx context.Context, identity string) (Recipient, bool) {
	user, err := r.directory.GetByName(ctx, identity)
	if err != nil {
		r.logger.Warn("resolve creator by name", zap.String("identity", identity), zap.Error(err))
		return Recipient{}, false
	}
	return Recipient{Email: user.Email, Name: user.Name, Relationship: RelCreator}, true
}

// merge adds a recipient keyed by lowercased email. Display names are
// last-write-wins; the relationship of the first insertion is kept so a
// creator who is also on the category team still gets the creator variant.
func merge(recipients map[string]Recipient, rec Recipient) {
	email := strings.ToLower(strings.TrimSpace(rec.Email))
	if email == "" {
		return
	}
	if existing, ok := recipients[email]; ok {
		if rec.Name != "" {
			existing.Name = rec.Name
		}
		recipients[email] = existing
		return
	}
	rec.Email = email
	recipients[email] = rec
}
