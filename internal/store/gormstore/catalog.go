package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/billingworks/creditledger/pkg/proration"
)

// CatalogStore implements proration.Catalog over the plans and subscriptions
// tables.
type CatalogStore struct {
	db *gorm.DB
}

// NewCatalogStore returns a CatalogStore backed by gorm.DB.
func NewCatalogStore(db *gorm.DB) *CatalogStore {
	return &CatalogStore{db: db}
}

func (store *CatalogStore) GetSubscription(ctx context.Context, subscriptionID string) (proration.Subscription, error) {
	var model Subscription
	err := store.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return proration.Subscription{}, fmt.Errorf("%w: %s", proration.ErrSubscriptionNotFound, subscriptionID)
		}
		return proration.Subscription{}, err
	}
	return proration.Subscription{
		ID:                   model.SubscriptionID,
		WorkspaceID:          model.WorkspaceID,
		PlanID:               model.PlanID,
		StripeSubscriptionID: model.StripeSubscriptionID,
		StripeCustomerID:     model.StripeCustomerID,
		CurrentPeriodStart:   model.CurrentPeriodStart.UTC(),
		CurrentPeriodEnd:     model.CurrentPeriodEnd.UTC(),
	}, nil
}

func (store *CatalogStore) GetPlan(ctx context.Context, planID string) (proration.Plan, error) {
	var model Plan
	err := store.db.WithContext(ctx).Where("plan_id = ?", planID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return proration.Plan{}, fmt.Errorf("%w: %s", proration.ErrPlanNotFound, planID)
		}
		return proration.Plan{}, err
	}
	return proration.Plan{
		ID:            model.PlanID,
		Name:          model.Name,
		PriceCents:    model.PriceCents,
		Interval:      proration.PlanInterval(model.Interval),
		Active:        model.Active,
		StripePriceID: model.StripePriceID,
	}, nil
}

// UpsertPlan writes a catalog plan, replacing any existing row.
func (store *CatalogStore) UpsertPlan(ctx context.Context, plan proration.Plan) error {
	model := Plan{
		PlanID:        plan.ID,
		Name:          plan.Name,
		PriceCents:    plan.PriceCents,
		Interval:      string(plan.Interval),
		Active:        plan.Active,
		StripePriceID: plan.StripePriceID,
		CreatedAt:     time.Now().UTC(),
	}
	return store.db.WithContext(ctx).Save(&model).Error
}

// UpsertSubscription writes a subscription, replacing any existing row.
func (store *CatalogStore) UpsertSubscription(ctx context.Context, subscription proration.Subscription) error {
	model := Subscription{
		SubscriptionID:       subscription.ID,
		WorkspaceID:          subscription.WorkspaceID,
		PlanID:               subscription.PlanID,
		StripeSubscriptionID: subscription.StripeSubscriptionID,
		StripeCustomerID:     subscription.StripeCustomerID,
		CurrentPeriodStart:   subscription.CurrentPeriodStart.UTC(),
		CurrentPeriodEnd:     subscription.CurrentPeriodEnd.UTC(),
		CreatedAt:            time.Now().UTC(),
	}
	return store.db.WithContext(ctx).Save(&model).Error
}
