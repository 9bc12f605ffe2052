package proration

import "fmt"

// LineItem is one row of a human-readable proration breakdown.
type LineItem struct {
	Label       string
	AmountCents int64
}

// Breakdown is the presentational itemization of a Details value.
type Breakdown struct {
	Lines   []LineItem
	Summary string
}

// FormatBreakdown renders a Details into line items and a summary sentence.
// Purely presentational; the itemization structure is stable, the wording is
// not contractual.
func FormatBreakdown(details Details) Breakdown {
	lines := []LineItem{
		{Label: "Unused time on current plan", AmountCents: -roundCents(unusedPortion(details))},
	}
	if details.IsUpgrade {
		lines = append(lines,
			LineItem{Label: "Remaining period on new plan", AmountCents: roundCents(newPeriodPortion(details))},
			LineItem{Label: "Due today", AmountCents: details.ImmediateChargeCents},
		)
		return Breakdown{
			Lines: lines,
			Summary: fmt.Sprintf("Upgrading now charges %s today; your next bill will be %s.",
				FormatCents(details.ImmediateChargeCents), FormatCents(details.NextBillingAmountCents)),
		}
	}
	lines = append(lines,
		LineItem{Label: "Credit toward next bill", AmountCents: -details.CreditAmountCents},
		LineItem{Label: "Next billing amount", AmountCents: details.NextBillingAmountCents},
	)
	return Breakdown{
		Lines: lines,
		Summary: fmt.Sprintf("Downgrade takes effect on %s; your next bill will be %s.",
			details.EffectiveDate.Format("Jan 2, 2006"), FormatCents(details.NextBillingAmountCents)),
	}
}

// FormatCents renders integer cents as a dollar string.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

func unusedPortion(details Details) float64 {
	return float64(details.CurrentPlanPriceCents) / float64(details.TotalDaysInPeriod) * float64(details.DaysRemaining)
}

func newPeriodPortion(details Details) float64 {
	return float64(details.NewPlanPriceCents) / float64(details.TotalDaysInPeriod) * float64(details.DaysRemaining)
}
