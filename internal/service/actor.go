package service

import (
	"marketplace/internal/model"

	"github.com/google/uuid"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   uuid.UUID
	Role string
}

func (a Actor) IsAdmin() bool {
	return a.Role == model.RoleAdmin
}

// partyTo reports whether the actor is the project's company or provider, or an admin.
func (a Actor) partyTo(p *model.Project) bool {
	return a.IsAdmin() || p.IsParty(a.ID)
}
