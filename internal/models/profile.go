package models

// Role is an application role from user_roles.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleExpedition Role = "expedition"
	RoleLogistics  Role = "logistics"
	RoleCustomer   Role = "customer"
)

// StaffRoles are the roles that may see other customers' orders.
var StaffRoles = []Role{RoleAdmin, RoleExpedition, RoleLogistics}

// Profile is a customer profile row.
type Profile struct {
	UserID   string `json:"user_id" db:"user_id"`
	FullName string `json:"full_name" db:"full_name"`
	Phone    string `json:"phone" db:"phone"`
	Email    string `json:"email" db:"email"`
}

// Caller identifies the authenticated user of a request.
type Caller struct {
	UserID string
	Email  string
	Roles  []Role
}

// HasRole reports whether the caller holds role.
func (c Caller) HasRole(role Role) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsStaff reports whether the caller holds any staff role.
func (c Caller) IsStaff() bool {
	for _, r := range StaffRoles {
		if c.HasRole(r) {
			return true
		}
	}
	return false
}

// CanRead reports whether the caller may read the given order.
func (c Caller) CanRead(o *Order) bool {
	return o.UserID == c.UserID || c.IsStaff()
}

// UserAccount is a profile with its roles, as listed to admins.
type UserAccount struct {
	Profile
	Roles []Role `json:"roles"`
}

// IsStaff reports whether the account holds any staff role.
func (u *UserAccount) IsStaff() bool {
	for _, r := range u.Roles {
		for _, staff := range StaffRoles {
			if r == staff {
				return true
			}
		}
	}
	return false
}
