package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Ledger is the credit accounting service. All debit sites go through
// it so the unlimited-grant policy and the audit trail live in exactly
// one place.
type Ledger struct {
	store Store
	cfg   Config
	log   zerolog.Logger
	now   func() time.Time
}

// NewLedger creates a ledger over a store.
func NewLedger(store Store, cfg Config, log zerolog.Logger) *Ledger {
	return &Ledger{
		store: store,
		cfg:   cfg,
		log:   log.With().Str("component", "credits").Logger(),
		now:   time.Now,
	}
}

// DeductParams describes one debit. Credits is a positive magnitude.
type DeductParams struct {
	UserID         uuid.UUID
	OrganizationID *uuid.UUID
	Credits        decimal.Decimal
	ActionSource   ActionSource
	ActionType     string
	EntityID       *uuid.UUID
}

// DeductionResult reports the balances around a debit. Transaction is
// nil when an unlimited grant bypassed accounting.
type DeductionResult struct {
	PreviousBalance decimal.Decimal
	NewBalance      decimal.Decimal
	CreditsDeducted decimal.Decimal
	Transaction     *Transaction
	Bypassed        bool
}

// CheckAvailability reports whether the scope can afford a debit of
// `needed` credits. Pure read: old users are exempt, active grants
// bypass, otherwise the allocation balance is compared.
func (l *Ledger) CheckAvailability(ctx context.Context, userID uuid.UUID, needed decimal.Decimal, orgID *uuid.UUID) error {
	exempt, err := l.oldUserExempt(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to check user status: %w", err)
	}
	if exempt {
		l.log.Debug().Stringer("user_id", userID).Msg("old user exempt from credit checks")
		return nil
	}

	grant, err := l.store.ActiveGrant(ctx, userID, orgID)
	if err != nil {
		return fmt.Errorf("failed to check unlimited grants: %w", err)
	}
	if grant.Active(l.now()) {
		return nil
	}

	billingOrg, err := l.resolveBillingOrg(ctx, userID, orgID)
	if err != nil {
		return err
	}

	alloc, err := l.store.Allocation(ctx, billingOrg)
	if err != nil {
		return err
	}
	if alloc.CreditsRemaining.LessThan(needed) {
		return fmt.Errorf("%w: operation requires %s credits but only %s remaining",
			ErrInsufficientCredits, needed, alloc.CreditsRemaining)
	}
	return nil
}

// Deduct atomically debits the scope and records the ledger row. With
// an active unlimited grant it returns a synthetic result with no state
// change and no row.
func (l *Ledger) Deduct(ctx context.Context, params DeductParams) (*DeductionResult, error) {
	if params.Credits.Sign() <= 0 {
		return nil, fmt.Errorf("credits to deduct must be positive, got %s", params.Credits)
	}

	grant, err := l.store.ActiveGrant(ctx, params.UserID, params.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to check unlimited grants: %w", err)
	}
	if grant.Active(l.now()) {
		balance := decimal.Zero
		if billingOrg, rerr := l.resolveBillingOrg(ctx, params.UserID, params.OrganizationID); rerr == nil {
			if alloc, aerr := l.store.Allocation(ctx, billingOrg); aerr == nil {
				balance = alloc.CreditsRemaining
			}
		}
		l.log.Info().
			Stringer("user_id", params.UserID).
			Str("action", string(params.ActionSource)+":"+params.ActionType).
			Msg("deduction bypassed by unlimited grant")
		return &DeductionResult{
			PreviousBalance: balance,
			NewBalance:      balance,
			CreditsDeducted: decimal.Zero,
			Bypassed:        true,
		}, nil
	}

	billingOrg, err := l.resolveBillingOrg(ctx, params.UserID, params.OrganizationID)
	if err != nil {
		return nil, err
	}

	tx, err := l.store.ApplyChange(ctx, billingOrg, ChangeParams{
		UserID:         params.UserID,
		OrganizationID: params.OrganizationID,
		Delta:          params.Credits.Neg(),
		ActionSource:   params.ActionSource,
		ActionType:     params.ActionType,
		EntityID:       params.EntityID,
	})
	if err != nil {
		return nil, err
	}

	l.log.Info().
		Stringer("user_id", params.UserID).
		Stringer("org_id", billingOrg).
		Str("credits_deducted", params.Credits.String()).
		Str("previous", tx.PreviousBalance.String()).
		Str("new", tx.NewBalance.String()).
		Str("action", string(params.ActionSource)+":"+params.ActionType).
		Msg("credit deduction")

	return &DeductionResult{
		PreviousBalance: tx.PreviousBalance,
		NewBalance:      tx.NewBalance,
		CreditsDeducted: params.Credits,
		Transaction:     tx,
	}, nil
}

// Refund inserts a compensating positive transaction referencing the
// original debit. Used when a tool's side effect failed after its debit
// committed.
func (l *Ledger) Refund(ctx context.Context, transactionID uuid.UUID) (*Transaction, error) {
	original, err := l.store.TransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if original.CreditsChanged.Sign() >= 0 {
		return nil, fmt.Errorf("transaction %s is not a debit and cannot be refunded", transactionID)
	}

	billingOrg := uuid.UUID{}
	if original.OrganizationID != nil {
		billingOrg = *original.OrganizationID
	} else {
		billingOrg, err = l.store.PersonalOrg(ctx, original.UserID)
		if err != nil {
			return nil, err
		}
	}

	refID := original.ID
	tx, err := l.store.ApplyChange(ctx, billingOrg, ChangeParams{
		UserID:         original.UserID,
		OrganizationID: original.OrganizationID,
		Delta:          original.CreditsChanged.Neg(),
		ActionSource:   original.ActionSource,
		ActionType:     "refund:" + original.ActionType,
		EntityID:       &refID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write compensating refund for %s: %w", transactionID, err)
	}

	l.log.Info().
		Stringer("original_transaction", transactionID).
		Str("credits_refunded", original.CreditsChanged.Neg().String()).
		Msg("credit refund")
	return tx, nil
}

func (l *Ledger) oldUserExempt(ctx context.Context, userID uuid.UUID) (bool, error) {
	createdAt, err := l.store.UserCreatedAt(ctx, userID)
	if err != nil {
		return false, err
	}
	return createdAt.Before(l.cfg.OldUserCutoffDate), nil
}

// resolveBillingOrg picks the billing organization: the explicit one
// (membership verified) or the user's personal organization.
func (l *Ledger) resolveBillingOrg(ctx context.Context, userID uuid.UUID, orgID *uuid.UUID) (uuid.UUID, error) {
	if orgID == nil {
		personal, err := l.store.PersonalOrg(ctx, userID)
		if err != nil {
			return uuid.UUID{}, fmt.Errorf("failed to resolve personal organization: %w", err)
		}
		return personal, nil
	}

	member, err := l.store.IsMember(ctx, userID, *orgID)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("failed to verify organization membership: %w", err)
	}
	if !member {
		return uuid.UUID{}, ErrNotOrganizationMember
	}
	return *orgID, nil
}
