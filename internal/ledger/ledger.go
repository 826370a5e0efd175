// Package ledger holds the balance reconciliation rules: how each transaction
// type moves an account balance at every point of its lifecycle.
package ledger

import (
	"errors"
	"strings"
)

type Type string

const (
	Deposit    Type = "Deposit"
	Withdrawal Type = "Withdrawal"
)

// Event is a lifecycle transition of a transaction.
type Event int

const (
	Create Event = iota
	Delete
	Undo
)

var ErrUnknownType = errors.New("unknown transaction type")

func (e Event) String() string {
	switch e {
	case Create:
		return "create"
	case Delete:
		return "delete"
	case Undo:
		return "undo"
	default:
		return "unknown"
	}
}

// ParseType accepts the canonical type names, ignoring surrounding space.
func ParseType(s string) (Type, error) {
	t := Type(strings.TrimSpace(s))
	if !t.Valid() {
		return "", ErrUnknownType
	}
	return t, nil
}

func (t Type) Valid() bool {
	return t == Deposit || t == Withdrawal
}

// Effect is the signed amount a live transaction contributes to its account.
func Effect(t Type, amount int64) int64 {
	switch t {
	case Deposit:
		return amount
	case Withdrawal:
		return -amount
	default:
		return 0
	}
}

// Delta returns the balance change caused by ev. Create and Undo apply the
// effect, Delete reverses it, so every event uses the same predicate.
func Delta(t Type, amount int64, ev Event) int64 {
	switch ev {
	case Create, Undo:
		return Effect(t, amount)
	case Delete:
		return -Effect(t, amount)
	default:
		return 0
	}
}

// Entry is the part of a stored transaction the rules care about.
type Entry struct {
	Type      Type
	Amount    int64
	IsDeleted bool
}

// Balance derives an account balance from its ledger.
func Balance(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		if e.IsDeleted {
			continue
		}
		total += Effect(e.Type, e.Amount)
	}
	return total
}
