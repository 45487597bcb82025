// Package stageguard holds one lifecycle table per governed entity kind.
// Every mutation path goes through these checks; unknown kinds and unknown
// states are treated as locked.
package stageguard

import (
	"workdesk/internal/domain"
)

// Guard answers lifecycle questions for one governed entity kind.
type Guard interface {
	Kind() domain.EntityKind
	Initial() string
	IsImmutable(state string) bool
	CanDelete(state string) bool
	CanTransition(from, to string) bool
}

var guards = map[domain.EntityKind]Guard{
	domain.EntityDeal:     dealGuard{},
	domain.EntityQuote:    quoteGuard{},
	domain.EntityInvoice:  invoiceGuard{},
	domain.EntityContract: contractGuard{},
	domain.EntityMeeting:  meetingGuard{},
}

// For returns the guard for a governed kind.
func For(kind domain.EntityKind) (Guard, bool) {
	g, ok := guards[kind]
	return g, ok
}

// Governs reports whether a kind has a lifecycle table at all.
func Governs(kind domain.EntityKind) bool {
	_, ok := guards[kind]
	return ok
}

type dealGuard struct{}

func (dealGuard) Kind() domain.EntityKind { return domain.EntityDeal }
func (dealGuard) Initial() string         { return "lead" }

func (dealGuard) IsImmutable(state string) bool {
	switch state {
	case "lead", "qualified", "proposal", "negotiation":
		return false
	}
	return true
}

func (g dealGuard) CanDelete(state string) bool {
	return !g.IsImmutable(state)
}

func (dealGuard) CanTransition(from, to string) bool {
	switch from {
	case "lead":
		return to == "qualified" || to == "lost"
	case "qualified":
		return to == "proposal" || to == "lost"
	case "proposal":
		return to == "negotiation" || to == "lost"
	case "negotiation":
		return to == "won" || to == "lost"
	}
	return false
}

type quoteGuard struct{}

func (quoteGuard) Kind() domain.EntityKind { return domain.EntityQuote }
func (quoteGuard) Initial() string         { return "draft" }

func (quoteGuard) IsImmutable(state string) bool {
	switch state {
	case "draft", "sent", "declined":
		return false
	}
	return true
}

func (quoteGuard) CanDelete(state string) bool {
	switch state {
	case "draft", "declined":
		return true
	}
	return false
}

func (quoteGuard) CanTransition(from, to string) bool {
	switch from {
	case "draft":
		return to == "sent"
	case "sent":
		return to == "accepted" || to == "declined"
	}
	return false
}

type invoiceGuard struct{}

func (invoiceGuard) Kind() domain.EntityKind { return domain.EntityInvoice }
func (invoiceGuard) Initial() string         { return "draft" }

func (invoiceGuard) IsImmutable(state string) bool {
	switch state {
	case "draft", "sent", "partial", "overdue":
		return false
	}
	return true
}

func (invoiceGuard) CanDelete(state string) bool {
	return state == "draft"
}

func (invoiceGuard) CanTransition(from, to string) bool {
	switch from {
	case "draft":
		return to == "sent" || to == "cancelled"
	case "sent":
		return to == "partial" || to == "paid" || to == "overdue" || to == "cancelled"
	case "partial":
		return to == "paid" || to == "overdue"
	case "overdue":
		return to == "partial" || to == "paid" || to == "cancelled"
	}
	return false
}

type contractGuard struct{}

func (contractGuard) Kind() domain.EntityKind { return domain.EntityContract }
func (contractGuard) Initial() string         { return "draft" }

func (contractGuard) IsImmutable(state string) bool {
	switch state {
	case "draft", "active":
		return false
	}
	return true
}

func (contractGuard) CanDelete(state string) bool {
	return state == "draft"
}

func (contractGuard) CanTransition(from, to string) bool {
	switch from {
	case "draft":
		return to == "active"
	case "active":
		return to == "expired" || to == "terminated"
	}
	return false
}

type meetingGuard struct{}

func (meetingGuard) Kind() domain.EntityKind { return domain.EntityMeeting }
func (meetingGuard) Initial() string         { return "scheduled" }

func (meetingGuard) IsImmutable(state string) bool {
	return state != "scheduled"
}

func (meetingGuard) CanDelete(state string) bool {
	return state == "scheduled" || state == "cancelled"
}

func (meetingGuard) CanTransition(from, to string) bool {
	return from == "scheduled" && to == "cancelled"
}
