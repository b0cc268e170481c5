package model

import "github.com/google/uuid"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleDriver Role = "driver"
)

// Principal is the request-scoped identity every service operation receives.
// It is built by the auth middleware from the verified token; nothing in the
// service layer reads ambient session state.
type Principal struct {
	Subject  string
	Role     Role
	DriverID *uuid.UUID
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

func (p Principal) IsDriver() bool {
	return p.Role == RoleDriver && p.DriverID != nil
}
