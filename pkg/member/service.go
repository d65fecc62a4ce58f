package member

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/wisbric/orchestra/internal/auth"
	"github.com/wisbric/orchestra/internal/db"
)

// ErrLastOwner is returned when a role change or deactivation would leave
// the organization with no active owner.
var ErrLastOwner = errors.New("member: organization must retain at least one owner")

// ErrInvalidRole is returned when the requested role is not a recognized
// RBAC role.
var ErrInvalidRole = errors.New("member: invalid role")

// Service encapsulates organization membership business logic. queries must
// be scoped to the organization's schema connection.
type Service struct {
	queries *db.Queries
}

// NewService constructs a member Service.
func NewService(queries *db.Queries) *Service {
	return &Service{queries: queries}
}

// List returns every active member of the organization.
func (s *Service) List(ctx context.Context) ([]Response, error) {
	rows, err := s.queries.ListMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	items := make([]Response, 0, len(rows))
	for _, r := range rows {
		items = append(items, toResponse(r))
	}
	return items, nil
}

// Get returns a single member by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Response, error) {
	m, err := s.queries.GetMember(ctx, id)
	if err != nil {
		return Response{}, fmt.Errorf("getting member: %w", err)
	}
	return toResponse(m), nil
}

// UpdateRole changes a member's RBAC role, refusing a demotion that would
// leave the organization with zero active owners.
func (s *Service) UpdateRole(ctx context.Context, id uuid.UUID, role string) (Response, error) {
	if !auth.IsValidRole(role) {
		return Response{}, ErrInvalidRole
	}

	current, err := s.queries.GetMember(ctx, id)
	if err != nil {
		return Response{}, fmt.Errorf("getting member: %w", err)
	}

	if current.Role == auth.RoleOwner && role != auth.RoleOwner {
		owners, err := s.queries.CountOwners(ctx)
		if err != nil {
			return Response{}, fmt.Errorf("counting owners: %w", err)
		}
		if owners <= 1 {
			return Response{}, ErrLastOwner
		}
	}

	updated, err := s.queries.UpdateMemberRole(ctx, db.UpdateMemberRoleParams{ID: id, Role: role})
	if err != nil {
		return Response{}, fmt.Errorf("updating member role: %w", err)
	}
	return toResponse(updated), nil
}

// Deactivate soft-deletes a member, refusing to remove the last active
// owner.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	current, err := s.queries.GetMember(ctx, id)
	if err != nil {
		return fmt.Errorf("getting member: %w", err)
	}
	if current.Role == auth.RoleOwner {
		owners, err := s.queries.CountOwners(ctx)
		if err != nil {
			return fmt.Errorf("counting owners: %w", err)
		}
		if owners <= 1 {
			return ErrLastOwner
		}
	}
	if err := s.queries.DeactivateMember(ctx, id); err != nil {
		return fmt.Errorf("deactivating member: %w", err)
	}
	return nil
}
