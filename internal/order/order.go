// Package order defines what a buyer purchased and how that is carried
// through a payment gateway's free-text field.
package order

import (
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "github.com/rajasatyajit/EstateHub/internal/errors"
)

// Plan is a purchasable tier. The empty Plan means a user has no tier.
type Plan string

const (
	PlanNone       Plan = ""
	PlanMembership Plan = "membership"
	PlanPro1       Plan = "pro1"
	PlanPro3       Plan = "pro3"
	PlanPro12      Plan = "pro12"
)

// Rank orders tiers; upgrades only ever move to a higher rank.
// Unknown values rank with PlanNone.
func (p Plan) Rank() int {
	switch p {
	case PlanMembership:
		return 1
	case PlanPro1:
		return 2
	case PlanPro3:
		return 3
	case PlanPro12:
		return 4
	default:
		return 0
	}
}

// Valid reports whether p is a purchasable plan.
func (p Plan) Valid() bool { return p.Rank() > 0 }

// ParsePlan validates a plan name coming from a request or a database row.
func ParsePlan(s string) (Plan, error) {
	p := Plan(s)
	if !p.Valid() {
		return PlanNone, apperrors.ValidationError{Field: "plan", Message: fmt.Sprintf("unknown plan %q", s)}
	}
	return p, nil
}

// Kind says what applying an order does.
type Kind string

const (
	// KindMembership raises the user's tier.
	KindMembership Kind = "membership"
	// KindAgentProfile provisions an agent profile for the user.
	KindAgentProfile Kind = "agent_profile"
)

func (k Kind) Valid() bool { return k == KindMembership || k == KindAgentProfile }

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", apperrors.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", s)}
	}
	return k, nil
}

// Descriptor is the application's record of a purchase. It is created when
// checkout starts and read back from every gateway notification.
type Descriptor struct {
	UserID int64
	Plan   Plan
	Kind   Kind
	Amount decimal.Decimal
	// DraftID references a pending agent profile draft. Optional.
	DraftID string
}

// Validate checks the fields that Encode relies on.
func (d Descriptor) Validate() error {
	if d.UserID <= 0 {
		return apperrors.ValidationError{Field: "user_id", Message: "must be positive"}
	}
	if !d.Plan.Valid() {
		return apperrors.ValidationError{Field: "plan", Message: fmt.Sprintf("unknown plan %q", d.Plan)}
	}
	if !d.Kind.Valid() {
		return apperrors.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", d.Kind)}
	}
	if d.Amount.IsNegative() {
		return apperrors.ValidationError{Field: "amount", Message: "must not be negative"}
	}
	if d.DraftID != "" {
		if d.Kind != KindAgentProfile {
			return apperrors.ValidationError{Field: "draft_id", Message: "only agent profile orders carry a draft"}
		}
		if !isDraftID(d.DraftID) {
			return apperrors.ValidationError{Field: "draft_id", Message: "must be 32 lowercase hex characters"}
		}
	}
	return nil
}

// Equal compares descriptors by value; amounts compare numerically.
func (d Descriptor) Equal(o Descriptor) bool {
	return d.UserID == o.UserID &&
		d.Plan == o.Plan &&
		d.Kind == o.Kind &&
		d.Amount.Equal(o.Amount) &&
		d.DraftID == o.DraftID
}

func isDraftID(s string) bool {
	if len(s) != 32 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
