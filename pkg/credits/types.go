package credits

import (
	"context"
	"fmt"
	"strings"
)

// WorkspaceID identifies the owner of a credit ledger.
type WorkspaceID struct {
	value string
}

// NewWorkspaceID validates and normalizes a workspace id.
func NewWorkspaceID(raw string) (WorkspaceID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return WorkspaceID{}, fmt.Errorf("%w: empty value", ErrInvalidWorkspaceID)
	}
	return WorkspaceID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id WorkspaceID) String() string {
	return id.value
}

// CreditAmount is a strictly positive whole number of credits.
type CreditAmount int64

// NewCreditAmount validates an amount and ensures it is strictly positive.
func NewCreditAmount(raw int64) (CreditAmount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidCreditAmount)
	}
	return CreditAmount(raw), nil
}

// Int64 returns the raw amount.
func (amount CreditAmount) Int64() int64 {
	return int64(amount)
}

// Workspace is the in-memory credit ledger for one workspace.
// CreditCount is the total owned, AllocatedCredits the portion reserved for
// in-flight operations. Both stay non-negative and AllocatedCredits never
// exceeds CreditCount; all mutation goes through the four methods below.
type Workspace struct {
	ID               WorkspaceID
	CreditCount      int64
	AllocatedCredits int64
}

// NewWorkspace validates the ledger fields loaded from the store.
func NewWorkspace(id WorkspaceID, creditCount int64, allocatedCredits int64) (Workspace, error) {
	if creditCount < 0 {
		return Workspace{}, fmt.Errorf("%w: negative credit count", ErrInvalidLedgerState)
	}
	if allocatedCredits < 0 || allocatedCredits > creditCount {
		return Workspace{}, fmt.Errorf("%w: allocated credits out of range", ErrInvalidLedgerState)
	}
	return Workspace{ID: id, CreditCount: creditCount, AllocatedCredits: allocatedCredits}, nil
}

// AvailableCredits returns the unreserved portion of the balance.
func (workspace Workspace) AvailableCredits() int64 {
	return workspace.CreditCount - workspace.AllocatedCredits
}

// AllocateCredits reserves amount out of the available balance.
func (workspace *Workspace) AllocateCredits(amount CreditAmount) error {
	available := workspace.AvailableCredits()
	if available < amount.Int64() {
		return InsufficientCreditsError{
			WorkspaceID: workspace.ID,
			Required:    amount.Int64(),
			Available:   available,
		}
	}
	workspace.AllocatedCredits += amount.Int64()
	return nil
}

// ConsumeCredits finalizes a previously allocated amount, removing it from
// both the allocation and the total.
func (workspace *Workspace) ConsumeCredits(amount CreditAmount) error {
	if workspace.AllocatedCredits < amount.Int64() || workspace.CreditCount < amount.Int64() {
		return ErrConsumeExceedsAllocation
	}
	workspace.CreditCount -= amount.Int64()
	workspace.AllocatedCredits -= amount.Int64()
	return nil
}

// ReleaseCredits cancels a previously allocated amount, restoring it to the
// available balance without touching the total.
func (workspace *Workspace) ReleaseCredits(amount CreditAmount) error {
	if workspace.AllocatedCredits < amount.Int64() {
		return ErrReleaseExceedsAllocation
	}
	workspace.AllocatedCredits -= amount.Int64()
	return nil
}

// AddCredits grows the total balance directly, bypassing allocation.
func (workspace *Workspace) AddCredits(amount CreditAmount) {
	workspace.CreditCount += amount.Int64()
}

// Balance is the read view of a workspace ledger.
type Balance struct {
	TotalCredits     int64
	AllocatedCredits int64
	AvailableCredits int64
}

// Allocation is the result of a successful credit reservation. The id is
// opaque caller bookkeeping; it is not durable across restarts.
type Allocation struct {
	AllocationID     string
	RemainingCredits int64
}

// CreditEntry is an immutable audit line appended for every mutating ledger
// operation.
type CreditEntry struct {
	EntryID        string
	WorkspaceID    WorkspaceID
	Operation      string
	Amount         int64
	AllocationID   string
	MetadataJSON   string
	CreatedUnixUTC int64
}

// Store is the persistence contract used by DeductionService. Mutating
// operations run inside WithTx; GetWorkspaceForUpdate must take a row-level
// exclusive lock so concurrent calls for the same workspace serialize.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetWorkspace(ctx context.Context, workspaceID WorkspaceID) (Workspace, error)
	GetWorkspaceForUpdate(ctx context.Context, workspaceID WorkspaceID) (Workspace, error)
	SaveWorkspaceCredits(ctx context.Context, workspace Workspace) error
	InsertCreditEntry(ctx context.Context, entry CreditEntry) error
}
