// Package identity carries the resolved caller identity handed to the core by
// the authentication layer. Authentication itself happens upstream; components
// here only check role floors.
package identity

import "github.com/google/uuid"

// Role is a clinical staff role with a fixed privilege ordering.
type Role string

const (
	RolePatient  Role = "patient"
	RoleStaff    Role = "staff"
	RoleReviewer Role = "reviewer"
	RoleDoctor   Role = "doctor"
	RoleAuditor  Role = "auditor"
	RoleAdmin    Role = "admin"
)

var roleRank = map[Role]int{
	RolePatient:  0,
	RoleStaff:    1,
	RoleReviewer: 2,
	RoleDoctor:   3,
	RoleAuditor:  4,
	RoleAdmin:    5,
}

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r carries at least the privileges of min.
// Unknown roles never satisfy any floor.
func (r Role) AtLeast(min Role) bool {
	rank, ok := roleRank[r]
	if !ok {
		return false
	}
	minRank, ok := roleRank[min]
	if !ok {
		return false
	}
	return rank >= minRank
}

// Actor is a caller whose identity was already resolved upstream.
type Actor struct {
	ID    uuid.UUID
	Email string
	Role  Role
}
