package proration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Service computes day-prorated charge/credit amounts for mid-period plan
// changes. The local calculation is authoritative; the provider preview is a
// display-only cross-check.
type Service struct {
	catalog Catalog
	nowFn   func() time.Time
	preview PreviewClient
}

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithPreviewClient wires the payment provider preview client.
func WithPreviewClient(preview PreviewClient) ServiceOption {
	return func(service *Service) {
		service.preview = preview
	}
}

// NewService wires a Service.
func NewService(catalog Catalog, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if catalog == nil {
		return nil, fmt.Errorf("%w: catalog dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{catalog: catalog, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// CalculateProration computes the charge or credit owed when the subscription
// moves to newPlanID mid-period. Cross-interval changes are rejected.
func (service *Service) CalculateProration(ctx context.Context, subscriptionID string, newPlanID string) (Details, error) {
	subscription, err := service.catalog.GetSubscription(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return Details{}, newServiceError(CodeSubscriptionNotFound, err)
		}
		return Details{}, newServiceError(CodeCalculationFailed, err)
	}
	currentPlan, err := service.catalog.GetPlan(ctx, subscription.PlanID)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			return Details{}, newServiceError(CodePlanNotFound, err)
		}
		return Details{}, newServiceError(CodeCalculationFailed, err)
	}
	newPlan, err := service.catalog.GetPlan(ctx, newPlanID)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			return Details{}, newServiceError(CodePlanNotFound, err)
		}
		return Details{}, newServiceError(CodeCalculationFailed, err)
	}
	if !newPlan.Active {
		return Details{}, newServiceError(CodePlanInactive, fmt.Errorf("plan %s is inactive", newPlan.ID))
	}
	if currentPlan.Interval != newPlan.Interval {
		return Details{}, newServiceError(CodeIntervalMismatch,
			fmt.Errorf("cannot prorate %s plan onto %s plan", currentPlan.Interval, newPlan.Interval))
	}

	now := service.nowFn()
	totalDaysInPeriod := ceilDays(subscription.CurrentPeriodEnd.Sub(subscription.CurrentPeriodStart))
	if totalDaysInPeriod <= 0 {
		return Details{}, newServiceError(CodeCalculationFailed,
			fmt.Errorf("billing period has no days: %s .. %s", subscription.CurrentPeriodStart, subscription.CurrentPeriodEnd))
	}
	daysRemaining := ceilDays(subscription.CurrentPeriodEnd.Sub(now))
	if daysRemaining < 0 {
		daysRemaining = 0
	}
	if daysRemaining > totalDaysInPeriod {
		daysRemaining = totalDaysInPeriod
	}

	currentDailyRate := float64(currentPlan.PriceCents) / float64(totalDaysInPeriod)
	newDailyRate := float64(newPlan.PriceCents) / float64(totalDaysInPeriod)
	unusedAmount := currentDailyRate * float64(daysRemaining)
	newPeriodCost := newDailyRate * float64(daysRemaining)

	proratedAmountCents := roundCents(math.Max(0, newPeriodCost-unusedAmount))
	creditAmountCents := roundCents(math.Max(0, unusedAmount-newPeriodCost))

	details := Details{
		SubscriptionID:        subscription.ID,
		CurrentPlanID:         currentPlan.ID,
		NewPlanID:             newPlan.ID,
		CurrentPlanPriceCents: currentPlan.PriceCents,
		NewPlanPriceCents:     newPlan.PriceCents,
		TotalDaysInPeriod:     totalDaysInPeriod,
		DaysRemaining:         daysRemaining,
		IsUpgrade:             newPlan.PriceCents > currentPlan.PriceCents,
		ProratedAmountCents:   proratedAmountCents,
		CreditAmountCents:     creditAmountCents,
	}
	if details.IsUpgrade {
		details.ImmediateChargeCents = proratedAmountCents
		details.EffectiveDate = now
		details.NextBillingAmountCents = newPlan.PriceCents
	} else {
		details.ImmediateChargeCents = 0
		details.EffectiveDate = subscription.CurrentPeriodEnd
		details.NextBillingAmountCents = newPlan.PriceCents - creditAmountCents
	}
	return details, nil
}

// StripeProrationPreview fetches the provider's own upcoming-invoice proration
// for the plan change. Failures here never block the local calculation.
func (service *Service) StripeProrationPreview(ctx context.Context, subscriptionID string, newPlanID string) (Preview, error) {
	if service.preview == nil {
		return Preview{}, newServiceError(CodeStripePreviewFailed, errors.New("preview client not configured"))
	}
	subscription, err := service.catalog.GetSubscription(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return Preview{}, newServiceError(CodeSubscriptionNotFound, err)
		}
		return Preview{}, newServiceError(CodeStripePreviewFailed, err)
	}
	newPlan, err := service.catalog.GetPlan(ctx, newPlanID)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			return Preview{}, newServiceError(CodePlanNotFound, err)
		}
		return Preview{}, newServiceError(CodeStripePreviewFailed, err)
	}
	preview, err := service.preview.UpcomingProration(ctx, subscription.StripeCustomerID, subscription.StripeSubscriptionID, newPlan.StripePriceID, service.nowFn())
	if err != nil {
		return Preview{}, newServiceError(CodeStripePreviewFailed, err)
	}
	return preview, nil
}

func ceilDays(duration time.Duration) int {
	return int(math.Ceil(duration.Hours() / 24))
}

func roundCents(amount float64) int64 {
	return int64(math.Round(amount))
}
