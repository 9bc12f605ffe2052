package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/billingworks/creditledger/pkg/credits"
)

// CreditLedger is the slice of the deduction service the use cases drive.
type CreditLedger interface {
	AllocateCredits(ctx context.Context, workspaceID credits.WorkspaceID, amount credits.CreditAmount) (credits.Allocation, error)
	ConsumeCredits(ctx context.Context, workspaceID credits.WorkspaceID, amount credits.CreditAmount) (int64, error)
	ReleaseCredits(ctx context.Context, workspaceID credits.WorkspaceID, amount credits.CreditAmount) (int64, error)
	DeductCredits(ctx context.Context, workspaceID credits.WorkspaceID, amount credits.CreditAmount) (int64, error)
}

type holdState string

const (
	holdReserved holdState = "reserved"
	holdSettled  holdState = "settled"
	holdReleased holdState = "released"
)

var errHoldResolved = errors.New("credit hold already resolved")

// creditHold tracks one estimate-sized reservation from AllocateCredits until
// its single terminal call. Settle reconciles when the measured cost differs
// from the estimate by releasing the estimate and deducting the actual cost,
// which is safe because it runs only after the provider call succeeded.
type creditHold struct {
	ledger       CreditLedger
	workspaceID  credits.WorkspaceID
	estimated    credits.CreditAmount
	allocationID string
	state        holdState
}

func reserveCredits(ctx context.Context, ledger CreditLedger, workspaceID credits.WorkspaceID, estimated credits.CreditAmount) (*creditHold, error) {
	allocation, err := ledger.AllocateCredits(ctx, workspaceID, estimated)
	if err != nil {
		return nil, err
	}
	return &creditHold{
		ledger:       ledger,
		workspaceID:  workspaceID,
		estimated:    estimated,
		allocationID: allocation.AllocationID,
		state:        holdReserved,
	}, nil
}

// settle finalizes the hold for the measured cost and returns the credits
// actually charged. When the measured cost diverges from the estimate the
// reservation is released and the actual amount deducted fresh, which briefly
// shrinks then re-grows the allocation. A zero actual cost releases the full
// reservation without charging.
func (hold *creditHold) settle(ctx context.Context, actualCredits int64) (int64, error) {
	if hold.state != holdReserved {
		return 0, fmt.Errorf("%w: %s", errHoldResolved, hold.state)
	}
	if actualCredits == hold.estimated.Int64() {
		if _, err := hold.ledger.ConsumeCredits(ctx, hold.workspaceID, hold.estimated); err != nil {
			return 0, err
		}
		hold.state = holdSettled
		return actualCredits, nil
	}
	if _, err := hold.ledger.ReleaseCredits(ctx, hold.workspaceID, hold.estimated); err != nil {
		return 0, err
	}
	if actualCredits == 0 {
		hold.state = holdReleased
		return 0, nil
	}
	actual, err := credits.NewCreditAmount(actualCredits)
	if err != nil {
		return 0, err
	}
	if _, err := hold.ledger.DeductCredits(ctx, hold.workspaceID, actual); err != nil {
		return 0, err
	}
	hold.state = holdSettled
	return actualCredits, nil
}

// cancel releases the full reservation after a failed provider call.
func (hold *creditHold) cancel(ctx context.Context) error {
	if hold.state != holdReserved {
		return fmt.Errorf("%w: %s", errHoldResolved, hold.state)
	}
	if _, err := hold.ledger.ReleaseCredits(ctx, hold.workspaceID, hold.estimated); err != nil {
		return err
	}
	hold.state = holdReleased
	return nil
}
