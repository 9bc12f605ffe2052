package credits

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// DeductionService contains the ledger domain logic over a Store. Every
// mutating operation executes as a single read-modify-write transaction
// against the workspace row; callers pair AllocateCredits with exactly one of
// ConsumeCredits or ReleaseCredits.
type DeductionService struct {
	store           Store
	nowFn           func() int64
	newAllocationID func() string
	logger          OperationLogger
}

// NewDeductionService wires a DeductionService.
func NewDeductionService(store Store, now func() int64, options ...ServiceOption) (*DeductionService, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &DeductionService{store: store, nowFn: now, newAllocationID: uuid.NewString}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// ValidateCredits reports whether the workspace has at least amount available.
// Advisory only: it runs outside a transaction and may race with concurrent
// allocation; the authoritative check happens inside AllocateCredits.
func (service *DeductionService) ValidateCredits(ctx context.Context, workspaceID WorkspaceID, amount CreditAmount) (bool, error) {
	workspace, err := service.store.GetWorkspace(ctx, workspaceID)
	service.logOperation(ctx, OperationLog{
		Operation:   operationValidate,
		WorkspaceID: workspaceID,
		Amount:      amount.Int64(),
		Error:       err,
	})
	if err != nil {
		return false, err
	}
	return workspace.AvailableCredits() >= amount.Int64(), nil
}

// AllocateCredits reserves amount against the workspace within one
// transaction. On insufficient availability it fails with
// InsufficientCreditsError and leaves the ledger unchanged.
func (service *DeductionService) AllocateCredits(ctx context.Context, workspaceID WorkspaceID, amount CreditAmount) (Allocation, error) {
	allocationID := service.newAllocationID()
	var allocation Allocation
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		workspace, err := transactionStore.GetWorkspaceForUpdate(ctx, workspaceID)
		if err != nil {
			return err
		}
		if err := workspace.AllocateCredits(amount); err != nil {
			return err
		}
		if err := transactionStore.SaveWorkspaceCredits(ctx, workspace); err != nil {
			return err
		}
		if err := transactionStore.InsertCreditEntry(ctx, CreditEntry{
			WorkspaceID:    workspaceID,
			Operation:      operationAllocate,
			Amount:         amount.Int64(),
			AllocationID:   allocationID,
			CreatedUnixUTC: service.nowFn(),
		}); err != nil {
			return err
		}
		allocation = Allocation{
			AllocationID:     allocationID,
			RemainingCredits: workspace.AvailableCredits(),
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:    operationAllocate,
		WorkspaceID:  workspaceID,
		AllocationID: allocationID,
		Amount:       amount.Int64(),
		Error:        operationError,
	})
	if operationError != nil {
		return Allocation{}, operationError
	}
	return allocation, nil
}

// ConsumeCredits finalizes a previously allocated amount, deducting it from
// the total. Returns the remaining total credit count.
func (service *DeductionService) ConsumeCredits(ctx context.Context, workspaceID WorkspaceID, amount CreditAmount) (int64, error) {
	var remaining int64
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		workspace, err := transactionStore.GetWorkspaceForUpdate(ctx, workspaceID)
		if err != nil {
			return err
		}
		if err := workspace.ConsumeCredits(amount); err != nil {
			return err
		}
		if err := transactionStore.SaveWorkspaceCredits(ctx, workspace); err != nil {
			return err
		}
		if err := transactionStore.InsertCreditEntry(ctx, CreditEntry{
			WorkspaceID:    workspaceID,
			Operation:      operationConsume,
			Amount:         -amount.Int64(),
			CreatedUnixUTC: service.nowFn(),
		}); err != nil {
			return err
		}
		remaining = workspace.CreditCount
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:   operationConsume,
		WorkspaceID: workspaceID,
		Amount:      amount.Int64(),
		Error:       operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return remaining, nil
}

// ReleaseCredits cancels a previously allocated amount, returning it to the
// available balance. Returns the remaining available credits.
func (service *DeductionService) ReleaseCredits(ctx context.Context, workspaceID WorkspaceID, amount CreditAmount) (int64, error) {
	var remaining int64
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		workspace, err := transactionStore.GetWorkspaceForUpdate(ctx, workspaceID)
		if err != nil {
			return err
		}
		if err := workspace.ReleaseCredits(amount); err != nil {
			return err
		}
		if err := transactionStore.SaveWorkspaceCredits(ctx, workspace); err != nil {
			return err
		}
		if err := transactionStore.InsertCreditEntry(ctx, CreditEntry{
			WorkspaceID:    workspaceID,
			Operation:      operationRelease,
			Amount:         amount.Int64(),
			CreatedUnixUTC: service.nowFn(),
		}); err != nil {
			return err
		}
		remaining = workspace.AvailableCredits()
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:   operationRelease,
		WorkspaceID: workspaceID,
		Amount:      amount.Int64(),
		Error:       operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return remaining, nil
}

// DeductCredits allocates then immediately consumes amount. The two calls run
// in separate transactions; the window between them carries no failure mode
// beyond the individual transactions, which is acceptable for one-shot
// deductions that never reserve.
func (service *DeductionService) DeductCredits(ctx context.Context, workspaceID WorkspaceID, amount CreditAmount) (int64, error) {
	allocation, err := service.AllocateCredits(ctx, workspaceID, amount)
	if err != nil {
		service.logOperation(ctx, OperationLog{
			Operation:   operationDeduct,
			WorkspaceID: workspaceID,
			Amount:      amount.Int64(),
			Error:       err,
		})
		return 0, err
	}
	remaining, err := service.ConsumeCredits(ctx, workspaceID, amount)
	service.logOperation(ctx, OperationLog{
		Operation:    operationDeduct,
		WorkspaceID:  workspaceID,
		AllocationID: allocation.AllocationID,
		Amount:       amount.Int64(),
		Error:        err,
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// RefundCredits adds amount back to the total directly, bypassing allocation.
// Used after consumption has already happened and the operation was later
// refunded. Returns the remaining available credits.
func (service *DeductionService) RefundCredits(ctx context.Context, workspaceID WorkspaceID, amount CreditAmount) (int64, error) {
	return service.addCredits(ctx, workspaceID, amount, operationRefund)
}

// GrantCredits tops up the workspace total, e.g. from a plan purchase.
// Returns the remaining available credits.
func (service *DeductionService) GrantCredits(ctx context.Context, workspaceID WorkspaceID, amount CreditAmount) (int64, error) {
	return service.addCredits(ctx, workspaceID, amount, operationGrant)
}

func (service *DeductionService) addCredits(ctx context.Context, workspaceID WorkspaceID, amount CreditAmount, operation string) (int64, error) {
	var remaining int64
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		workspace, err := transactionStore.GetWorkspaceForUpdate(ctx, workspaceID)
		if err != nil {
			return err
		}
		workspace.AddCredits(amount)
		if err := transactionStore.SaveWorkspaceCredits(ctx, workspace); err != nil {
			return err
		}
		if err := transactionStore.InsertCreditEntry(ctx, CreditEntry{
			WorkspaceID:    workspaceID,
			Operation:      operation,
			Amount:         amount.Int64(),
			CreatedUnixUTC: service.nowFn(),
		}); err != nil {
			return err
		}
		remaining = workspace.AvailableCredits()
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:   operation,
		WorkspaceID: workspaceID,
		Amount:      amount.Int64(),
		Error:       operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return remaining, nil
}

// CreditBalance returns total, allocated, and available credits.
func (service *DeductionService) CreditBalance(ctx context.Context, workspaceID WorkspaceID) (Balance, error) {
	workspace, err := service.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		TotalCredits:     workspace.CreditCount,
		AllocatedCredits: workspace.AllocatedCredits,
		AvailableCredits: workspace.AvailableCredits(),
	}, nil
}

func (service *DeductionService) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
