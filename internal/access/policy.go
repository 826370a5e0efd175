// Package access decides what an authenticated principal may do.
package access

import "errors"

const (
	RoleSuperAdmin = "superAdmin"
	RoleAdmin      = "admin"
	RoleTreasurer  = "treasurer"
	RoleMember     = "member"
)

type Action string

const (
	ViewAny            Action = "view_any"
	RecordTransactions Action = "record_transactions"
	ManageUsers        Action = "manage_users"
)

var ErrForbidden = errors.New("you are not allowed to perform this action")

type Role struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Principal is the authenticated caller of a request.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Table maps a role name to the actions it grants.
type Table map[string][]Action

func DefaultTable() Table {
	return Table{
		RoleSuperAdmin: {ViewAny, RecordTransactions, ManageUsers},
		RoleAdmin:      {ViewAny, RecordTransactions, ManageUsers},
		RoleTreasurer:  {RecordTransactions},
		RoleMember:     {},
	}
}

type Policy struct {
	grants map[string]map[Action]struct{}
}

func NewPolicy(table Table) *Policy {
	grants := make(map[string]map[Action]struct{}, len(table))
	for role, actions := range table {
		set := make(map[Action]struct{}, len(actions))
		for _, a := range actions {
			set[a] = struct{}{}
		}
		grants[role] = set
	}
	return &Policy{grants: grants}
}

func (p *Policy) Allows(pr Principal, a Action) bool {
	_, ok := p.grants[pr.Role.Name][a]
	return ok
}

// Require returns ErrForbidden unless the principal's role grants a.
func (p *Policy) Require(pr Principal, a Action) error {
	if !p.Allows(pr, a) {
		return ErrForbidden
	}
	return nil
}

// CanView allows a principal to read its own records, or anyone's with ViewAny.
func (p *Policy) CanView(pr Principal, userID string) error {
	if pr.ID != "" && pr.ID == userID {
		return nil
	}
	return p.Require(pr, ViewAny)
}
