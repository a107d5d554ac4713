package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Failure codes for bulk settlement.
const (
	CodeInvalidOrganizationID       = "INVALID_ORGANIZATION_ID"
	CodeOrgCreditAllocationNotFound = "ORG_CREDIT_ALLOCATION_NOT_FOUND"
	CodeInsufficientBalance         = "INSUFFICIENT_BALANCE"
	CodeUnknownError                = "UNKNOWN_ERROR"
)

// BulkActionType is the action_type stamped on settlement ledger rows;
// together with the imageboard source it keys idempotency.
const BulkActionType = "transaction_deduction"

// BillingTransactionRecord is one entry of the reconciliation webhook
// payload. ID is the idempotency key; EntityID is the billing
// organization.
type BillingTransactionRecord struct {
	ID              string  `json:"id"`
	UserID          string  `json:"user_id"`
	EntityID        string  `json:"entity_id"`
	BoardID         *string `json:"board_id,omitempty"`
	TransactionType string  `json:"transaction_type"`
	AmountCents     int32   `json:"amount_cents"`
}

// FailedTransaction describes one rejected settlement entry.
type FailedTransaction struct {
	Reason         string  `json:"reason"`
	Code           string  `json:"code"`
	TransactionID  *string `json:"transaction_id,omitempty"`
	OrganizationID *string `json:"organization_id,omitempty"`
}

// BulkDeductResult is the webhook response body.
type BulkDeductResult struct {
	SucceededTransactionIDs []string            `json:"succeeded_transaction_ids"`
	TotalProcessed          int                 `json:"total_processed"`
	TotalFailed             int                 `json:"total_failed"`
	Failed                  []FailedTransaction `json:"failed"`
	Message                 string              `json:"message"`
}

// BulkDeduct settles a batch of externally billed debits. Entries whose
// ID was already recorded for the settlement source and action type are
// skipped, so duplicate webhook deliveries never double-charge. Debits
// are grouped per organization and applied against a running balance so
// one batch cannot overdraw an allocation.
func (l *Ledger) BulkDeduct(ctx context.Context, records []BillingTransactionRecord) (*BulkDeductResult, error) {
	result := &BulkDeductResult{
		SucceededTransactionIDs: []string{},
		Failed:                  []FailedTransaction{},
	}
	if len(records) == 0 {
		result.Message = "No transactions to process"
		return result, nil
	}

	debits := make([]BillingTransactionRecord, 0, len(records))
	for _, r := range records {
		if r.TransactionType == "debit" {
			debits = append(debits, r)
		}
	}
	if len(debits) == 0 {
		result.TotalFailed = len(records)
		result.Message = "No debit transactions found"
		return result, nil
	}

	ids := make([]uuid.UUID, 0, len(debits))
	for _, r := range debits {
		if id, err := uuid.Parse(r.ID); err == nil {
			ids = append(ids, id)
		}
	}
	processed, err := l.store.ProcessedEntityIDs(ctx, SourceImageboard, BulkActionType, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to check already-processed transactions: %w", err)
	}

	// Skip already-settled entries, including duplicates within the
	// batch itself.
	seen := make(map[string]bool, len(debits))
	unprocessed := make([]BillingTransactionRecord, 0, len(debits))
	for _, r := range debits {
		if id, err := uuid.Parse(r.ID); err == nil && processed[id] {
			continue
		}
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		unprocessed = append(unprocessed, r)
	}

	byOrg := make(map[string][]BillingTransactionRecord)
	orgOrder := []string{}
	for _, r := range unprocessed {
		if _, ok := byOrg[r.EntityID]; !ok {
			orgOrder = append(orgOrder, r.EntityID)
		}
		byOrg[r.EntityID] = append(byOrg[r.EntityID], r)
	}

	for _, orgStr := range orgOrder {
		orgTxs := byOrg[orgStr]
		orgCopy := orgStr

		orgID, err := uuid.Parse(orgStr)
		if err != nil {
			result.Failed = append(result.Failed, FailedTransaction{
				Reason:         "Invalid Organization ID Format",
				Code:           CodeInvalidOrganizationID,
				OrganizationID: &orgCopy,
			})
			continue
		}

		alloc, err := l.store.Allocation(ctx, orgID)
		switch {
		case errors.Is(err, ErrAllocationNotFound):
			result.Failed = append(result.Failed, FailedTransaction{
				Reason:         "Organization Credit Allocation Not Found",
				Code:           CodeOrgCreditAllocationNotFound,
				OrganizationID: &orgCopy,
			})
			continue
		case err != nil:
			result.Failed = append(result.Failed, FailedTransaction{
				Reason:         "Unknown Error",
				Code:           CodeUnknownError,
				OrganizationID: &orgCopy,
			})
			continue
		}

		remaining := alloc.CreditsRemaining
		for _, t := range orgTxs {
			txID := t.ID
			txCredits := CreditsFromCents(t.AmountCents)
			if remaining.LessThan(txCredits) {
				result.Failed = append(result.Failed, FailedTransaction{
					Reason:         "Insufficient Balance",
					Code:           CodeInsufficientBalance,
					TransactionID:  &txID,
					OrganizationID: &orgCopy,
				})
				continue
			}

			actingUser, _ := uuid.Parse(t.UserID)
			entityID, _ := uuid.Parse(t.ID)
			_, err := l.store.ApplyChange(ctx, orgID, ChangeParams{
				UserID:         actingUser,
				OrganizationID: &orgID,
				Delta:          txCredits.Neg(),
				ActionSource:   SourceImageboard,
				ActionType:     BulkActionType,
				EntityID:       &entityID,
			})
			if err != nil {
				l.log.Error().Err(err).Str("transaction_id", t.ID).Msg("bulk settlement entry failed")
				result.Failed = append(result.Failed, FailedTransaction{
					Reason:         "Unknown Error",
					Code:           CodeUnknownError,
					TransactionID:  &txID,
					OrganizationID: &orgCopy,
				})
				continue
			}

			result.SucceededTransactionIDs = append(result.SucceededTransactionIDs, t.ID)
			remaining = remaining.Sub(txCredits)
		}
	}

	result.TotalProcessed = len(result.SucceededTransactionIDs)
	result.TotalFailed = len(result.Failed)
	result.Message = fmt.Sprintf("Successfully processed %d transaction(s)", result.TotalProcessed)
	return result, nil
}
