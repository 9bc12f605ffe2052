package credits

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestAllocateReservesCredits(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 1000, 0)
	service := mustNewService(test, store)
	workspaceID := mustWorkspaceID(test, "ws-1")
	amount := mustCreditAmount(test, 30)

	allocation, err := service.AllocateCredits(context.Background(), workspaceID, amount)
	if err != nil {
		test.Fatalf("allocate: %v", err)
	}
	if allocation.AllocationID == "" {
		test.Fatalf("expected allocation id")
	}
	if allocation.RemainingCredits != 970 {
		test.Fatalf("expected remaining 970, got %d", allocation.RemainingCredits)
	}
	workspace := store.mustWorkspace(test, workspaceID)
	if workspace.CreditCount != 1000 || workspace.AllocatedCredits != 30 {
		test.Fatalf("unexpected ledger state: %+v", workspace)
	}
	if len(store.entries) != 1 || store.entries[0].Operation != operationAllocate {
		test.Fatalf("expected allocate audit entry, got %+v", store.entries)
	}
}

func TestAllocateInsufficientLeavesLedgerUnchanged(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 100, 0)
	service := mustNewService(test, store)
	workspaceID := mustWorkspaceID(test, "ws-short")

	if _, err := service.AllocateCredits(context.Background(), workspaceID, mustCreditAmount(test, 80)); err != nil {
		test.Fatalf("allocate 80: %v", err)
	}
	_, err := service.AllocateCredits(context.Background(), workspaceID, mustCreditAmount(test, 30))
	if !errors.Is(err, ErrInsufficientCredits) {
		test.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	var insufficientError InsufficientCreditsError
	if !errors.As(err, &insufficientError) {
		test.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if insufficientError.Required != 30 || insufficientError.Available != 20 {
		test.Fatalf("unexpected shortfall: %+v", insufficientError)
	}
	workspace := store.mustWorkspace(test, workspaceID)
	if workspace.CreditCount != 100 || workspace.AllocatedCredits != 80 {
		test.Fatalf("expected ledger unchanged at 100/80, got %+v", workspace)
	}
}

func TestConsumeFinalizesAllocation(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 1000, 0)
	service := mustNewService(test, store)
	workspaceID := mustWorkspaceID(test, "ws-consume")
	amount := mustCreditAmount(test, 30)

	allocation, err := service.AllocateCredits(context.Background(), workspaceID, amount)
	if err != nil {
		test.Fatalf("allocate: %v", err)
	}
	if allocation.RemainingCredits != 970 {
		test.Fatalf("expected available 970, got %d", allocation.RemainingCredits)
	}
	remaining, err := service.ConsumeCredits(context.Background(), workspaceID, amount)
	if err != nil {
		test.Fatalf("consume: %v", err)
	}
	if remaining != 970 {
		test.Fatalf("expected remaining total 970, got %d", remaining)
	}
	workspace := store.mustWorkspace(test, workspaceID)
	if workspace.CreditCount != 970 || workspace.AllocatedCredits != 0 {
		test.Fatalf("unexpected ledger state: %+v", workspace)
	}
}

func TestReleaseRestoresAvailability(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 500, 0)
	service := mustNewService(test, store)
	workspaceID := mustWorkspaceID(test, "ws-release")
	amount := mustCreditAmount(test, 120)

	before := store.mustWorkspace(test, workspaceID).AvailableCredits()
	if _, err := service.AllocateCredits(context.Background(), workspaceID, amount); err != nil {
		test.Fatalf("allocate: %v", err)
	}
	remaining, err := service.ReleaseCredits(context.Background(), workspaceID, amount)
	if err != nil {
		test.Fatalf("release: %v", err)
	}
	if remaining != before {
		test.Fatalf("expected round-trip available %d, got %d", before, remaining)
	}
	workspace := store.mustWorkspace(test, workspaceID)
	if workspace.CreditCount != 500 || workspace.AllocatedCredits != 0 {
		test.Fatalf("unexpected ledger state: %+v", workspace)
	}
}

func TestConsumeWithoutAllocationFails(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 100, 0)
	service := mustNewService(test, store)
	workspaceID := mustWorkspaceID(test, "ws-bare")

	_, err := service.ConsumeCredits(context.Background(), workspaceID, mustCreditAmount(test, 10))
	if !errors.Is(err, ErrConsumeExceedsAllocation) {
		test.Fatalf("expected ErrConsumeExceedsAllocation, got %v", err)
	}
}

func TestReleaseBeyondAllocationFails(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 100, 0)
	service := mustNewService(test, store)
	workspaceID := mustWorkspaceID(test, "ws-over-release")

	if _, err := service.AllocateCredits(context.Background(), workspaceID, mustCreditAmount(test, 10)); err != nil {
		test.Fatalf("allocate: %v", err)
	}
	_, err := service.ReleaseCredits(context.Background(), workspaceID, mustCreditAmount(test, 20))
	if !errors.Is(err, ErrReleaseExceedsAllocation) {
		test.Fatalf("expected ErrReleaseExceedsAllocation, got %v", err)
	}
	workspace := store.mustWorkspace(test, workspaceID)
	if workspace.AllocatedCredits != 10 {
		test.Fatalf("expected allocation unchanged at 10, got %d", workspace.AllocatedCredits)
	}
}

func TestDeductAllocatesThenConsumes(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 200, 0)
	service := mustNewService(test, store)
	workspaceID := mustWorkspaceID(test, "ws-deduct")

	remaining, err := service.DeductCredits(context.Background(), workspaceID, mustCreditAmount(test, 50))
	if err != nil {
		test.Fatalf("deduct: %v", err)
	}
	if remaining != 150 {
		test.Fatalf("expected remaining 150, got %d", remaining)
	}
	workspace := store.mustWorkspace(test, workspaceID)
	if workspace.CreditCount != 150 || workspace.AllocatedCredits != 0 {
		test.Fatalf("unexpected ledger state: %+v", workspace)
	}
	if len(store.entries) != 2 {
		test.Fatalf("expected allocate+consume entries, got %d", len(store.entries))
	}
}

func TestRefundGrowsTotalDirectly(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 40, 0)
	service := mustNewService(test, store)
	workspaceID := mustWorkspaceID(test, "ws-refund")

	remaining, err := service.RefundCredits(context.Background(), workspaceID, mustCreditAmount(test, 25))
	if err != nil {
		test.Fatalf("refund: %v", err)
	}
	if remaining != 65 {
		test.Fatalf("expected remaining 65, got %d", remaining)
	}
	workspace := store.mustWorkspace(test, workspaceID)
	if workspace.CreditCount != 65 || workspace.AllocatedCredits != 0 {
		test.Fatalf("unexpected ledger state: %+v", workspace)
	}
}

func TestGrantTopsUpBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 0, 0)
	service := mustNewService(test, store)
	workspaceID := mustWorkspaceID(test, "ws-grant")

	remaining, err := service.GrantCredits(context.Background(), workspaceID, mustCreditAmount(test, 1000))
	if err != nil {
		test.Fatalf("grant: %v", err)
	}
	if remaining != 1000 {
		test.Fatalf("expected remaining 1000, got %d", remaining)
	}
	if len(store.entries) != 1 || store.entries[0].Operation != operationGrant {
		test.Fatalf("expected grant audit entry, got %+v", store.entries)
	}
}

func TestValidateCreditsIsAdvisory(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 100, 60)
	service := mustNewService(test, store)
	workspaceID := mustWorkspaceID(test, "ws-validate")

	enough, err := service.ValidateCredits(context.Background(), workspaceID, mustCreditAmount(test, 40))
	if err != nil {
		test.Fatalf("validate: %v", err)
	}
	if !enough {
		test.Fatalf("expected 40 to fit into available 40")
	}
	enough, err = service.ValidateCredits(context.Background(), workspaceID, mustCreditAmount(test, 41))
	if err != nil {
		test.Fatalf("validate: %v", err)
	}
	if enough {
		test.Fatalf("expected 41 to exceed available 40")
	}
}

func TestWorkspaceNotFound(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 0, 0)
	store.missing = true
	service := mustNewService(test, store)
	workspaceID := mustWorkspaceID(test, "ws-ghost")

	if _, err := service.ValidateCredits(context.Background(), workspaceID, mustCreditAmount(test, 1)); !errors.Is(err, ErrWorkspaceNotFound) {
		test.Fatalf("expected ErrWorkspaceNotFound, got %v", err)
	}
	if _, err := service.AllocateCredits(context.Background(), workspaceID, mustCreditAmount(test, 1)); !errors.Is(err, ErrWorkspaceNotFound) {
		test.Fatalf("expected ErrWorkspaceNotFound, got %v", err)
	}
	if _, err := service.CreditBalance(context.Background(), workspaceID); !errors.Is(err, ErrWorkspaceNotFound) {
		test.Fatalf("expected ErrWorkspaceNotFound, got %v", err)
	}
}

func TestCreditBalanceView(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 300, 120)
	service := mustNewService(test, store)
	workspaceID := mustWorkspaceID(test, "ws-balance")

	balance, err := service.CreditBalance(context.Background(), workspaceID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.TotalCredits != 300 || balance.AllocatedCredits != 120 || balance.AvailableCredits != 180 {
		test.Fatalf("unexpected balance: %+v", balance)
	}
}

func TestNewDeductionServiceRequiresDependencies(test *testing.T) {
	test.Parallel()
	_, err := NewDeductionService(nil, func() int64 { return 0 })
	if !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid service config error, got %v", err)
	}
	store := newStubStore(test, 0, 0)
	_, err = NewDeductionService(store, nil)
	if !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid service config error, got %v", err)
	}
}

func TestAllocateFailedTransactionDiscardsWrites(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 100, 0)
	store.entryErr = errors.New("audit table unavailable")
	service := mustNewService(test, store)
	workspaceID := mustWorkspaceID(test, "ws-rollback")

	_, err := service.AllocateCredits(context.Background(), workspaceID, mustCreditAmount(test, 10))
	if err == nil {
		test.Fatalf("expected allocate to fail")
	}
	workspace := store.mustWorkspace(test, workspaceID)
	if workspace.AllocatedCredits != 0 {
		test.Fatalf("expected rollback to discard allocation, got %+v", workspace)
	}
}

type stubStore struct {
	creditCount      int64
	allocatedCredits int64
	missing          bool
	entryErr         error
	entries          []CreditEntry
}

func newStubStore(test *testing.T, creditCount int64, allocatedCredits int64) *stubStore {
	test.Helper()
	return &stubStore{creditCount: creditCount, allocatedCredits: allocatedCredits}
}

// WithTx snapshots the ledger and restores it when fn fails, mirroring the
// full-rollback behavior of the real transactional store.
func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	savedCreditCount := store.creditCount
	savedAllocated := store.allocatedCredits
	savedEntries := len(store.entries)
	if err := fn(ctx, store); err != nil {
		store.creditCount = savedCreditCount
		store.allocatedCredits = savedAllocated
		store.entries = store.entries[:savedEntries]
		return err
	}
	return nil
}

func (store *stubStore) GetWorkspace(ctx context.Context, workspaceID WorkspaceID) (Workspace, error) {
	if store.missing {
		return Workspace{}, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, workspaceID.String())
	}
	return NewWorkspace(workspaceID, store.creditCount, store.allocatedCredits)
}

func (store *stubStore) GetWorkspaceForUpdate(ctx context.Context, workspaceID WorkspaceID) (Workspace, error) {
	return store.GetWorkspace(ctx, workspaceID)
}

func (store *stubStore) SaveWorkspaceCredits(ctx context.Context, workspace Workspace) error {
	store.creditCount = workspace.CreditCount
	store.allocatedCredits = workspace.AllocatedCredits
	return nil
}

func (store *stubStore) InsertCreditEntry(ctx context.Context, entry CreditEntry) error {
	if store.entryErr != nil {
		return store.entryErr
	}
	store.entries = append(store.entries, entry)
	return nil
}

func (store *stubStore) mustWorkspace(test *testing.T, workspaceID WorkspaceID) Workspace {
	test.Helper()
	workspace, err := store.GetWorkspace(context.Background(), workspaceID)
	if err != nil {
		test.Fatalf("workspace %s: %v", workspaceID.String(), err)
	}
	return workspace
}

func mustNewService(test *testing.T, store Store) *DeductionService {
	test.Helper()
	service, err := NewDeductionService(store, func() int64 { return 100 })
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustWorkspaceID(test *testing.T, raw string) WorkspaceID {
	test.Helper()
	value, err := NewWorkspaceID(raw)
	if err != nil {
		test.Fatalf("workspace id: %v", err)
	}
	return value
}

func mustCreditAmount(test *testing.T, raw int64) CreditAmount {
	test.Helper()
	value, err := NewCreditAmount(raw)
	if err != nil {
		test.Fatalf("credit amount: %v", err)
	}
	return value
}
