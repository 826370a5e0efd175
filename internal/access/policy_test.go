package access

import (
	"errors"
	"testing"
)

func principal(id, role string) Principal {
	return Principal{ID: id, Role: Role{Name: role}}
}

func TestDefaultPolicyRequire(t *testing.T) {
	p := NewPolicy(DefaultTable())

	cases := []struct {
		role   string
		action Action
		allow  bool
	}{
		{RoleSuperAdmin, ViewAny, true},
		{RoleSuperAdmin, RecordTransactions, true},
		{RoleAdmin, ManageUsers, true},
		{RoleTreasurer, RecordTransactions, true},
		{RoleTreasurer, ViewAny, false},
		{RoleTreasurer, ManageUsers, false},
		{RoleMember, RecordTransactions, false},
		{RoleMember, ViewAny, false},
		{"unknown", ViewAny, false},
		{"", RecordTransactions, false},
	}

	for _, c := range cases {
		err := p.Require(principal("u1", c.role), c.action)
		if c.allow && err != nil {
			t.Fatalf("%s/%s: expected allow, got %v", c.role, c.action, err)
		}
		if !c.allow && !errors.Is(err, ErrForbidden) {
			t.Fatalf("%s/%s: expected ErrForbidden, got %v", c.role, c.action, err)
		}
	}
}

func TestCanView(t *testing.T) {
	p := NewPolicy(DefaultTable())

	if err := p.CanView(principal("u1", RoleMember), "u1"); err != nil {
		t.Fatalf("member reading own ledger: %v", err)
	}
	if err := p.CanView(principal("u1", RoleMember), "u2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("member reading other ledger: expected ErrForbidden, got %v", err)
	}
	if err := p.CanView(principal("u1", RoleTreasurer), "u2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("treasurer reading other ledger: expected ErrForbidden, got %v", err)
	}
	if err := p.CanView(principal("a1", RoleAdmin), "u2"); err != nil {
		t.Fatalf("admin reading other ledger: %v", err)
	}
	if err := p.CanView(principal("", RoleMember), ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("empty principal id must not match empty user id, got %v", err)
	}
}

func TestCustomTable(t *testing.T) {
	p := NewPolicy(Table{"auditor": {ViewAny}})

	if err := p.Require(principal("x", "auditor"), ViewAny); err != nil {
		t.Fatalf("auditor view: %v", err)
	}
	if err := p.Require(principal("x", RoleAdmin), ViewAny); !errors.Is(err, ErrForbidden) {
		t.Fatalf("admin not in table: expected ErrForbidden, got %v", err)
	}
}
