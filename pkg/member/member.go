// Package member implements organization membership and RBAC role
// management (spec supplement D: role set {owner, admin, member,
// readonly}, with an "at least one owner per organization" invariant
// enforced on role changes and removal).
package member

import (
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/orchestra/internal/db"
)

// UpdateRoleRequest is the JSON body for PUT /api/members/{id}/role.
type UpdateRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

// Response is the JSON response for a single member.
type Response struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Role        string    `json:"role"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toResponse(m db.Member) Response {
	return Response{
		ID:          m.ID,
		Email:       m.Email,
		DisplayName: m.DisplayName,
		Role:        m.Role,
		IsActive:    m.IsActive,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
