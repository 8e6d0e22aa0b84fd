package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/helpdesk-kit/ticket-lifecycle/internal/domain"
	"github.com/helpdesk-kit/ticket-lifecycle/internal/repository"
	apperrors "github.com/helpdesk-kit/ticket-lifecycle/pkg/util"
)

const actorKey = "auth_actor"

// AuthMiddleware validates bearer tokens and loads the acting directory
// user into an explicit ActorIdentity.
type AuthMiddleware struct {
	tokens    *TokenManager
	directory repository.DirectoryRepository
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, directory repository.DirectoryRepository) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, directory: directory}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	actor, err := m.resolve(c)
	if err != nil {
		return err
	}
	if actor == nil {
		return apperrors.NewUnauthorized("missing authorization header")
	}
	c.Locals(actorKey, *actor)
	return c.Next()
}

// HandleOptional loads the actor when a bearer token is present but lets
// anonymous callers through. Used on the token-bearing approve/reject
// routes where the email-link path is unauthenticated by design.
func (m *AuthMiddleware) HandleOptional(c *fiber.Ctx) error {
	actor, err := m.resolve(c)
	if err != nil {
		return err
	}
	if actor != nil {
		c.Locals(actorKey, *actor)
	}
	return c.Next()
}

func (m *AuthMiddleware) resolve(c *fiber.Ctx) (*domain.ActorIdentity, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return nil, nil
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return nil, apperrors.NewUnauthorized("invalid token")
	}

	user, err := m.directory.GetByID(c.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewUnauthorized("user not found")
		}
		return nil, apperrors.MapError(err)
	}
	if !user.IsActive {
		return nil, apperrors.NewUnauthorized("user inactive")
	}

	return &domain.ActorIdentity{
		ID:     user.ID,
		UID:    user.UID,
		Name:   user.Name,
		Email:  user.Email,
		RoleID: user.RoleID,
	}, nil
}

// ActorFromContext retrieves the authenticated actor.
func ActorFromContext(c *fiber.Ctx) (domain.ActorIdentity, bool) {
	val := c.Locals(actorKey)
	if val == nil {
		return domain.ActorIdentity{}, false
	}
	actor, ok := val.(domain.ActorIdentity)
	return actor, ok
}
