package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/seekerhq/seeker/pkg/credits"
)

var _ credits.Store = (*Store)(nil)

// NUMERIC columns travel as text in both directions: decimals are bound
// with String() and scanned through decimal.NewFromString, which keeps
// exact precision without a pgx codec for shopspring decimals.

// PersonalOrg resolves the user's personal billing organization.
func (s *Store) PersonalOrg(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	var orgID uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT personal_org_id FROM users WHERE id = $1`, userID,
	).Scan(&orgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("postgres: user %s not found", userID)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("postgres: personal org: %w", err)
	}
	return orgID, nil
}

// UserCreatedAt returns the account creation time.
func (s *Store) UserCreatedAt(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	var createdAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT created_at FROM users WHERE id = $1`, userID,
	).Scan(&createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, fmt.Errorf("postgres: user %s not found", userID)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: user created at: %w", err)
	}
	return createdAt, nil
}

// IsMember reports whether the user belongs to the organization.
func (s *Store) IsMember(ctx context.Context, userID, orgID uuid.UUID) (bool, error) {
	var member bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM organization_members
			WHERE organization_id = $1 AND user_id = $2
		)`, orgID, userID,
	).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("postgres: is member: %w", err)
	}
	return member, nil
}

// ActiveGrant returns the unlimited-access grant covering the scope, or
// nil when none is active.
func (s *Store) ActiveGrant(ctx context.Context, userID uuid.UUID, orgID *uuid.UUID) (*credits.Grant, error) {
	q := `SELECT id, user_id, organization_id, granted_at, granted_by, expires_at, revoked_at, reason
		 FROM unlimited_grants
		 WHERE revoked_at IS NULL
		   AND (expires_at IS NULL OR expires_at > now())
		   AND (user_id = $1`
	args := []any{userID}
	if orgID != nil {
		q += ` OR organization_id = $2`
		args = append(args, *orgID)
	}
	q += `)
		 ORDER BY granted_at DESC
		 LIMIT 1`

	var g credits.Grant
	err := s.pool.QueryRow(ctx, q, args...).Scan(
		&g.ID, &g.UserID, &g.OrganizationID, &g.GrantedAt, &g.GrantedBy,
		&g.ExpiresAt, &g.RevokedAt, &g.Reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: active grant: %w", err)
	}
	return &g, nil
}

// Allocation reads the organization's allocation without locking.
func (s *Store) Allocation(ctx context.Context, orgID uuid.UUID) (*credits.Allocation, error) {
	var a credits.Allocation
	var planCredits, remaining, creditLimit string
	err := s.pool.QueryRow(ctx,
		`SELECT organization_id, plan_type, plan_credits::text, credits_remaining::text,
		        credit_limit::text, last_daily_credit_claimed, updated_at
		 FROM credit_allocations WHERE organization_id = $1`, orgID,
	).Scan(&a.OrganizationID, &a.PlanType, &planCredits, &remaining,
		&creditLimit, &a.LastDailyCreditClaimed, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, credits.ErrAllocationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: allocation: %w", err)
	}
	if a.PlanCredits, err = decimal.NewFromString(planCredits); err != nil {
		return nil, fmt.Errorf("postgres: parse plan credits: %w", err)
	}
	if a.CreditsRemaining, err = decimal.NewFromString(remaining); err != nil {
		return nil, fmt.Errorf("postgres: parse credits remaining: %w", err)
	}
	if a.CreditLimit, err = decimal.NewFromString(creditLimit); err != nil {
		return nil, fmt.Errorf("postgres: parse credit limit: %w", err)
	}
	return &a, nil
}

// ApplyChange updates the allocation and inserts the ledger row in one
// transaction. The SELECT FOR UPDATE serializes concurrent changes to
// the same allocation, so balances never go negative under contention.
func (s *Store) ApplyChange(ctx context.Context, orgID uuid.UUID, params credits.ChangeParams) (*credits.Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var remainingStr string
	err = tx.QueryRow(ctx,
		`SELECT credits_remaining::text FROM credit_allocations
		 WHERE organization_id = $1 FOR UPDATE`, orgID,
	).Scan(&remainingStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, credits.ErrAllocationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: lock allocation: %w", err)
	}
	previous, err := decimal.NewFromString(remainingStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse balance: %w", err)
	}

	newBalance := previous.Add(params.Delta)
	if newBalance.IsNegative() {
		return nil, credits.ErrInsufficientCredits
	}

	if _, err := tx.Exec(ctx,
		`UPDATE credit_allocations
		 SET credits_remaining = $1::numeric, updated_at = now()
		 WHERE organization_id = $2`,
		newBalance.String(), orgID); err != nil {
		return nil, fmt.Errorf("postgres: update allocation: %w", err)
	}

	rec := &credits.Transaction{
		ID:              uuid.New(),
		UserID:          params.UserID,
		OrganizationID:  params.OrganizationID,
		CreditsChanged:  params.Delta,
		PreviousBalance: previous,
		NewBalance:      newBalance,
		ActionSource:    params.ActionSource,
		ActionType:      params.ActionType,
		EntityID:        params.EntityID,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO credit_transactions
			(id, user_id, organization_id, credits_changed, previous_balance,
			 new_balance, action_source, action_type, entity_id)
		 VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8, $9)
		 RETURNING created_at`,
		rec.ID, rec.UserID, rec.OrganizationID, rec.CreditsChanged.String(),
		rec.PreviousBalance.String(), rec.NewBalance.String(),
		string(rec.ActionSource), rec.ActionType, rec.EntityID,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: insert transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit tx: %w", err)
	}
	return rec, nil
}

// TransactionByID loads one ledger row.
func (s *Store) TransactionByID(ctx context.Context, id uuid.UUID) (*credits.Transaction, error) {
	var t credits.Transaction
	var changed, previous, balance, source string
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, organization_id, credits_changed::text,
		        previous_balance::text, new_balance::text, action_source,
		        action_type, entity_id, created_at
		 FROM credit_transactions WHERE id = $1`, id,
	).Scan(&t.ID, &t.UserID, &t.OrganizationID, &changed, &previous,
		&balance, &source, &t.ActionType, &t.EntityID, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, credits.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: transaction by id: %w", err)
	}
	t.ActionSource = credits.ActionSource(source)
	if t.CreditsChanged, err = decimal.NewFromString(changed); err != nil {
		return nil, fmt.Errorf("postgres: parse credits changed: %w", err)
	}
	if t.PreviousBalance, err = decimal.NewFromString(previous); err != nil {
		return nil, fmt.Errorf("postgres: parse previous balance: %w", err)
	}
	if t.NewBalance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("postgres: parse new balance: %w", err)
	}
	return &t, nil
}

// ProcessedEntityIDs returns which of the given entity IDs already have
// a ledger row for the same source and action type.
func (s *Store) ProcessedEntityIDs(ctx context.Context, source credits.ActionSource, actionType string, entityIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	processed := make(map[uuid.UUID]bool, len(entityIDs))
	if len(entityIDs) == 0 {
		return processed, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT entity_id FROM credit_transactions
		 WHERE action_source = $1 AND action_type = $2 AND entity_id = ANY($3)`,
		string(source), actionType, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: processed entity ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan entity id: %w", err)
		}
		processed[id] = true
	}
	return processed, rows.Err()
}
