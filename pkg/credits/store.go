package credits

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientCredits is returned when a debit would leave the
	// allocation negative.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrAllocationNotFound is returned when no credit allocation
	// exists for the organization.
	ErrAllocationNotFound = errors.New("credit allocation not found")

	// ErrNotOrganizationMember is returned when the acting user does
	// not belong to the billing organization.
	ErrNotOrganizationMember = errors.New("user is not a member of the organization")

	// ErrTransactionNotFound is returned for unknown ledger rows.
	ErrTransactionNotFound = errors.New("credit transaction not found")
)

// ChangeParams describes one signed balance change to apply atomically.
type ChangeParams struct {
	UserID         uuid.UUID
	OrganizationID *uuid.UUID
	// Delta is signed: negative for debits, positive for credits.
	Delta        decimal.Decimal
	ActionSource ActionSource
	ActionType   string
	EntityID     *uuid.UUID
}

// Store is the persistence seam of the ledger. The Postgres
// implementation lives in internal/postgres; tests use MemoryStore.
type Store interface {
	// PersonalOrg resolves the user's personal billing organization.
	PersonalOrg(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)

	// UserCreatedAt returns the account creation time, used for the
	// old-user exemption.
	UserCreatedAt(ctx context.Context, userID uuid.UUID) (time.Time, error)

	// IsMember reports whether the user belongs to the organization.
	IsMember(ctx context.Context, userID, orgID uuid.UUID) (bool, error)

	// ActiveGrant returns the unlimited-access grant covering the
	// scope, or nil when none is active.
	ActiveGrant(ctx context.Context, userID uuid.UUID, orgID *uuid.UUID) (*Grant, error)

	// Allocation reads the organization's allocation without locking.
	Allocation(ctx context.Context, orgID uuid.UUID) (*Allocation, error)

	// ApplyChange updates the allocation and inserts the ledger row in
	// one transaction, holding a row lock on the allocation for its
	// duration. Returns ErrInsufficientCredits when the new balance
	// would be negative and ErrAllocationNotFound when the allocation
	// does not exist.
	ApplyChange(ctx context.Context, orgID uuid.UUID, params ChangeParams) (*Transaction, error)

	// TransactionByID loads one ledger row.
	TransactionByID(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// ProcessedEntityIDs returns which of the given entity IDs already
	// have a ledger row for the same source and action type.
	ProcessedEntityIDs(ctx context.Context, source ActionSource, actionType string, entityIDs []uuid.UUID) (map[uuid.UUID]bool, error)
}
