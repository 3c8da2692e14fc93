package model

import (
	"github.com/google/uuid"
)

type UserRole string

const (
	UserRoleAdmin       UserRole = "ADMIN"
	UserRoleCoordinator UserRole = "COORDINATOR"
	UserRoleViewer      UserRole = "VIEWER"
)

func (r UserRole) Valid() bool {
	switch r {
	case UserRoleAdmin, UserRoleCoordinator, UserRoleViewer:
		return true
	}
	return false
}

type Principal struct {
	UserID  uuid.UUID
	GroupID *uuid.UUID
	Role    UserRole
}

func (p Principal) IsAdmin() bool {
	return p.Role == UserRoleAdmin
}

// CanEditPersons reports whether the principal may create, update or import persons.
func (p Principal) CanEditPersons() bool {
	return p.Role == UserRoleAdmin || p.Role == UserRoleCoordinator
}
