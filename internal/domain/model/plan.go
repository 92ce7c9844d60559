package model

import (
	"fmt"

	"krishi-billing/internal/domain"
)

type PlanType string

const (
	PlanMonthly PlanType = "monthly"
	PlanYearly  PlanType = "yearly"
)

// Valid reports whether the plan type is one of the closed set.
func (p PlanType) Valid() bool { return p == PlanMonthly || p == PlanYearly }

// PlanDetails describes a purchasable recurring plan. Amounts are in
// paise (minor units); never floating point.
type PlanDetails struct {
	Type          PlanType
	AmountPaise   int64
	CadenceMonths int
	Description   string
}

// planCatalog is the static plan table. Fixed at build time; the
// gateway mandate amount is taken from here, never from client input.
var planCatalog = map[PlanType]PlanDetails{
	PlanMonthly: {
		Type:          PlanMonthly,
		AmountPaise:   399900, // Rs 3,999
		CadenceMonths: 1,
		Description:   "Billed monthly",
	},
	PlanYearly: {
		Type:          PlanYearly,
		AmountPaise:   4500000, // Rs 45,000
		CadenceMonths: 12,
		Description:   "Billed annually (Save 6%)",
	},
}

// PlanFor resolves plan metadata for a plan type.
func PlanFor(t PlanType) (PlanDetails, error) {
	d, ok := planCatalog[t]
	if !ok {
		return PlanDetails{}, domain.ErrUnknownPlan
	}
	return d, nil
}

// FormatAmount renders paise as a display rupee string, e.g. 399900 -> "₹3,999".
func FormatAmount(paise int64) string {
	rupees := paise / 100
	s := fmt.Sprintf("%d", rupees)
	if rupees < 0 {
		s = s[1:]
	}
	// group digits Indian style: last 3, then pairs
	n := len(s)
	if n > 3 {
		out := s[n-3:]
		rest := s[:n-3]
		for len(rest) > 2 {
			out = rest[len(rest)-2:] + "," + out
			rest = rest[:len(rest)-2]
		}
		s = rest + "," + out
	}
	if rupees < 0 {
		return "-₹" + s
	}
	return "₹" + s
}
