// Package credits implements serializable, auditable credit accounting
// for users and organizations: atomic deduction with a row lock,
// compensating refunds, unlimited-access grants, and bulk webhook
// settlement.
package credits

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreditsToCentsRatio is the settlement conversion rate: 1 credit = 10
// cents.
const CreditsToCentsRatio = 10

// ActionSource identifies the subsystem that caused a credit change.
type ActionSource string

const (
	SourceAgentTool  ActionSource = "agent_tool"
	SourceAPI        ActionSource = "api"
	SourceImageboard ActionSource = "imageboard"
	SourceStripe     ActionSource = "stripe"
	SourceAdmin      ActionSource = "admin"
)

// Allocation is an organization's current credit balance and plan
// parameters. Personal use maps to the user's personal organization.
type Allocation struct {
	OrganizationID         uuid.UUID
	PlanType               string
	PlanCredits            decimal.Decimal
	CreditsRemaining       decimal.Decimal
	CreditLimit            decimal.Decimal
	LastDailyCreditClaimed *time.Time
	UpdatedAt              time.Time
}

// Transaction is one immutable ledger row. NewBalance is always
// PreviousBalance + CreditsChanged, and never negative.
type Transaction struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	OrganizationID  *uuid.UUID
	CreditsChanged  decimal.Decimal
	PreviousBalance decimal.Decimal
	NewBalance      decimal.Decimal
	ActionSource    ActionSource
	ActionType      string
	EntityID        *uuid.UUID
	CreatedAt       time.Time
}

// Grant is an administrative unlimited-access override for a user or an
// organization. Exactly one of UserID/OrganizationID is set.
type Grant struct {
	ID             uuid.UUID
	UserID         *uuid.UUID
	OrganizationID *uuid.UUID
	GrantedAt      time.Time
	GrantedBy      uuid.UUID
	ExpiresAt      *time.Time
	RevokedAt      *time.Time
	Reason         string
}

// Active reports whether the grant currently bypasses accounting.
func (g *Grant) Active(now time.Time) bool {
	if g == nil {
		return false
	}
	if g.RevokedAt != nil {
		return false
	}
	if g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
		return false
	}
	return true
}

// Config carries the business-rule knobs of the ledger.
type Config struct {
	// FreeCredits is the starting balance for new personal
	// organizations.
	FreeCredits decimal.Decimal

	// OldUserCutoffDate exempts users created before it from credit
	// checks.
	OldUserCutoffDate time.Time
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FreeCredits:       decimal.NewFromInt(30),
		OldUserCutoffDate: time.Date(2025, time.September, 30, 0, 0, 0, 0, time.UTC),
	}
}

// CreditsFromCents converts a settlement amount in cents to credits.
func CreditsFromCents(cents int32) decimal.Decimal {
	return decimal.NewFromInt32(cents).Div(decimal.NewFromInt(CreditsToCentsRatio))
}
