package gormstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/billingworks/creditledger/internal/generation"
	"github.com/billingworks/creditledger/pkg/credits"
	"github.com/billingworks/creditledger/pkg/proration"
)

func TestDeductionServiceAgainstSQLite(t *testing.T) {
	db := openTestDB(t)
	store := New(db)
	ctx := context.Background()

	workspaceID := mustWorkspaceID(t, "ws-sqlite")
	if err := store.CreateWorkspace(ctx, workspaceID, 100); err != nil {
		t.Fatalf("create workspace failed: %v", err)
	}
	if err := store.CreateWorkspace(ctx, workspaceID, 100); !errors.Is(err, credits.ErrWorkspaceExists) {
		t.Fatalf("expected duplicate workspace error, got %v", err)
	}

	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := credits.NewDeductionService(store, clock)
	if err != nil {
		t.Fatalf("service init failed: %v", err)
	}

	allocation, err := service.AllocateCredits(ctx, workspaceID, mustCreditAmount(t, 80))
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if allocation.RemainingCredits != 20 {
		t.Fatalf("expected 20 credits available after allocation, got %d", allocation.RemainingCredits)
	}

	if _, err := service.AllocateCredits(ctx, workspaceID, mustCreditAmount(t, 30)); !errors.Is(err, credits.ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits, got %v", err)
	}

	remaining, err := service.ConsumeCredits(ctx, workspaceID, mustCreditAmount(t, 80))
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if remaining != 20 {
		t.Fatalf("expected 20 total credits after consume, got %d", remaining)
	}

	balance, err := service.CreditBalance(ctx, workspaceID)
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if balance.TotalCredits != 20 || balance.AllocatedCredits != 0 || balance.AvailableCredits != 20 {
		t.Fatalf("unexpected balance: %+v", balance)
	}

	entries, err := store.ListCreditEntries(ctx, workspaceID, 10)
	if err != nil {
		t.Fatalf("list entries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
}

func TestGetWorkspaceNotFound(t *testing.T) {
	db := openTestDB(t)
	store := New(db)

	_, err := store.GetWorkspace(context.Background(), mustWorkspaceID(t, "missing"))
	if !errors.Is(err, credits.ErrWorkspaceNotFound) {
		t.Fatalf("expected workspace not found, got %v", err)
	}
	err = store.SaveWorkspaceCredits(context.Background(), credits.Workspace{ID: mustWorkspaceID(t, "missing")})
	if !errors.Is(err, credits.ErrWorkspaceNotFound) {
		t.Fatalf("expected workspace not found on save, got %v", err)
	}
}

func TestTransactionRollbackDiscardsWrites(t *testing.T) {
	db := openTestDB(t)
	store := New(db)
	ctx := context.Background()
	workspaceID := mustWorkspaceID(t, "ws-rollback")
	if err := store.CreateWorkspace(ctx, workspaceID, 50); err != nil {
		t.Fatalf("create workspace failed: %v", err)
	}

	failure := errors.New("forced rollback")
	err := store.WithTx(ctx, func(ctx context.Context, txStore credits.Store) error {
		workspace, err := txStore.GetWorkspaceForUpdate(ctx, workspaceID)
		if err != nil {
			return err
		}
		if err := workspace.AllocateCredits(mustCreditAmount(t, 10)); err != nil {
			return err
		}
		if err := txStore.SaveWorkspaceCredits(ctx, workspace); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected forced rollback error, got %v", err)
	}

	workspace, err := store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		t.Fatalf("get workspace failed: %v", err)
	}
	if workspace.AllocatedCredits != 0 {
		t.Fatalf("expected rollback to discard allocation, got %d", workspace.AllocatedCredits)
	}
}

func TestCatalogStoreRoundTrip(t *testing.T) {
	db := openTestDB(t)
	catalog := NewCatalogStore(db)
	ctx := context.Background()

	plan := proration.Plan{
		ID:            "plan-pro",
		Name:          "Pro",
		PriceCents:    2000,
		Interval:      proration.IntervalMonth,
		Active:        true,
		StripePriceID: "price_123",
	}
	if err := catalog.UpsertPlan(ctx, plan); err != nil {
		t.Fatalf("upsert plan failed: %v", err)
	}
	subscription := proration.Subscription{
		ID:                   "sub-1",
		WorkspaceID:          "ws-1",
		PlanID:               plan.ID,
		StripeSubscriptionID: "sub_str",
		StripeCustomerID:     "cus_str",
		CurrentPeriodStart:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:     time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
	}
	if err := catalog.UpsertSubscription(ctx, subscription); err != nil {
		t.Fatalf("upsert subscription failed: %v", err)
	}

	gotPlan, err := catalog.GetPlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("get plan failed: %v", err)
	}
	if gotPlan != plan {
		t.Fatalf("plan mismatch: %+v", gotPlan)
	}
	gotSubscription, err := catalog.GetSubscription(ctx, subscription.ID)
	if err != nil {
		t.Fatalf("get subscription failed: %v", err)
	}
	if !gotSubscription.CurrentPeriodEnd.Equal(subscription.CurrentPeriodEnd) {
		t.Fatalf("period end mismatch: %v", gotSubscription.CurrentPeriodEnd)
	}

	if _, err := catalog.GetPlan(ctx, "absent"); !errors.Is(err, proration.ErrPlanNotFound) {
		t.Fatalf("expected plan not found, got %v", err)
	}
	if _, err := catalog.GetSubscription(ctx, "absent"); !errors.Is(err, proration.ErrSubscriptionNotFound) {
		t.Fatalf("expected subscription not found, got %v", err)
	}
}

func TestGenerationStoreLifecycle(t *testing.T) {
	db := openTestDB(t)
	store := NewGenerationStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Unix()

	record, err := store.CreateRecord(ctx, generation.Record{
		WorkspaceID:    "ws-gen",
		Type:           generation.TypeText,
		Model:          "gpt-4",
		Provider:       "openai",
		Prompt:         "hello",
		Status:         generation.StatusPending,
		CreatedUnixUTC: now,
		UpdatedUnixUTC: now,
	})
	if err != nil {
		t.Fatalf("create record failed: %v", err)
	}
	if record.ID == "" {
		t.Fatalf("expected generated record id")
	}

	record.Status = generation.StatusCompleted
	record.CreditsCharged = 30
	record.Result = "world"
	record.UpdatedUnixUTC = now + 1
	if err := store.UpdateRecord(ctx, record); err != nil {
		t.Fatalf("update record failed: %v", err)
	}

	got, err := store.GetRecord(ctx, record.ID)
	if err != nil {
		t.Fatalf("get record failed: %v", err)
	}
	if got.Status != generation.StatusCompleted || got.CreditsCharged != 30 || got.Result != "world" {
		t.Fatalf("unexpected record: %+v", got)
	}

	listed, err := store.ListRecords(ctx, "ws-gen", 10)
	if err != nil {
		t.Fatalf("list records failed: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one record, got %d", len(listed))
	}

	missing := record
	missing.ID = "no-such-id"
	if err := store.UpdateRecord(ctx, missing); !errors.Is(err, generation.ErrRecordNotFound) {
		t.Fatalf("expected record not found, got %v", err)
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(t.TempDir()+"/credits.db"), &gorm.Config{})
	if err != nil {
		t.Fatalf("sqlite open failed: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate failed: %v", err)
	}
	return db
}

func mustWorkspaceID(t *testing.T, raw string) credits.WorkspaceID {
	t.Helper()
	workspaceID, err := credits.NewWorkspaceID(raw)
	if err != nil {
		t.Fatalf("workspace id init failed: %v", err)
	}
	return workspaceID
}

func mustCreditAmount(t *testing.T, raw int64) credits.CreditAmount {
	t.Helper()
	amount, err := credits.NewCreditAmount(raw)
	if err != nil {
		t.Fatalf("credit amount init failed: %v", err)
	}
	return amount
}
