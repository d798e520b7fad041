package models

// Role is the caller's role within an organization.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	default:
		return false
	}
}

// CanManage reports whether the role may change organization settings.
func (r Role) CanManage() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Organization represents a tenant as returned by the backend.
// ID is issued by the backend and is never the identity provider's own tenant identifier.
type Organization struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Role        Role   `json:"role"`
	Plan        string `json:"plan,omitempty"`
	MemberCount int    `json:"member_count"`
	IsDefault   bool   `json:"is_default"`
	IsPersonal  bool   `json:"is_personal"`
}

// FindOrganization returns the organization with the given ID, or nil.
func FindOrganization(orgs []Organization, id string) *Organization {
	if id == "" {
		return nil
	}
	for i := range orgs {
		if orgs[i].ID == id {
			org := orgs[i]
			return &org
		}
	}
	return nil
}
