package proration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// StripePreviewClient fetches proration previews from Stripe's upcoming
// invoice endpoint. It wraps a dedicated client.API rather than the package
// global so the key stays scoped to this instance.
type StripePreviewClient struct {
	api *client.API
}

// NewStripePreviewClient wires a StripePreviewClient for the given secret key.
func NewStripePreviewClient(apiKey string) *StripePreviewClient {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripePreviewClient{api: api}
}

// UpcomingProration previews the invoice Stripe would issue if the
// subscription's item moved to newPriceID at prorationDate, and sums the
// proration line items.
func (previewClient *StripePreviewClient) UpcomingProration(ctx context.Context, customerID string, subscriptionID string, newPriceID string, prorationDate time.Time) (Preview, error) {
	if subscriptionID == "" || newPriceID == "" {
		return Preview{}, errors.New("subscription id and price id are required")
	}
	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx
	subscription, err := previewClient.api.Subscriptions.Get(subscriptionID, getParams)
	if err != nil {
		return Preview{}, translateStripeError(err)
	}
	if subscription.Items == nil || len(subscription.Items.Data) == 0 {
		return Preview{}, fmt.Errorf("subscription %s has no items", subscriptionID)
	}
	params := &stripe.InvoiceUpcomingParams{
		Customer:     stripe.String(customerID),
		Subscription: stripe.String(subscriptionID),
		SubscriptionItems: []*stripe.SubscriptionItemsParams{{
			ID:    stripe.String(subscription.Items.Data[0].ID),
			Price: stripe.String(newPriceID),
		}},
		SubscriptionProrationDate: stripe.Int64(prorationDate.Unix()),
	}
	params.Context = ctx
	invoice, err := previewClient.api.Invoices.Upcoming(params)
	if err != nil {
		return Preview{}, translateStripeError(err)
	}
	preview := Preview{}
	if invoice.Lines != nil {
		for _, line := range invoice.Lines.Data {
			preview.Lines = append(preview.Lines, PreviewLine{
				Description: line.Description,
				AmountCents: line.Amount,
				Proration:   line.Proration,
			})
			if line.Proration {
				preview.ProrationAmountCents += line.Amount
			}
		}
	}
	return preview, nil
}

// translateStripeError keeps stripe-go types from leaking past this package.
func translateStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return fmt.Errorf("stripe %s: %s", stripeErr.Code, stripeErr.Msg)
	}
	return err
}
