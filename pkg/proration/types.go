package proration

import (
	"context"
	"time"
)

// PlanInterval is the billing cadence of a plan.
type PlanInterval string

const (
	IntervalMonth PlanInterval = "month"
	IntervalYear  PlanInterval = "year"
)

// Plan is a subscription plan from the catalog. Prices are integer cents.
type Plan struct {
	ID            string
	Name          string
	PriceCents    int64
	Interval      PlanInterval
	Active        bool
	StripePriceID string
}

// Subscription is an active subscription with its current billing period.
type Subscription struct {
	ID                   string
	WorkspaceID          string
	PlanID               string
	StripeSubscriptionID string
	StripeCustomerID     string
	CurrentPeriodStart   time.Time
	CurrentPeriodEnd     time.Time
}

// Catalog resolves subscriptions and plans for proration.
type Catalog interface {
	GetSubscription(ctx context.Context, subscriptionID string) (Subscription, error)
	GetPlan(ctx context.Context, planID string) (Plan, error)
}

// Details is the computed proration for a plan change. Exactly one of
// ProratedAmountCents and CreditAmountCents is non-zero for a strict
// upgrade or downgrade.
type Details struct {
	SubscriptionID         string
	CurrentPlanID          string
	NewPlanID              string
	CurrentPlanPriceCents  int64
	NewPlanPriceCents      int64
	TotalDaysInPeriod      int
	DaysRemaining          int
	IsUpgrade              bool
	ProratedAmountCents    int64
	CreditAmountCents      int64
	ImmediateChargeCents   int64
	EffectiveDate          time.Time
	NextBillingAmountCents int64
}

// PreviewLine is one line item from the payment provider's upcoming invoice.
type PreviewLine struct {
	Description string
	AmountCents int64
	Proration   bool
}

// Preview is the payment provider's own proration calculation, used as a
// display-only cross-check against the local Details.
type Preview struct {
	ProrationAmountCents int64
	Lines                []PreviewLine
}

// PreviewClient fetches the provider's upcoming-invoice proration preview.
type PreviewClient interface {
	UpcomingProration(ctx context.Context, customerID string, subscriptionID string, newPriceID string, prorationDate time.Time) (Preview, error)
}
