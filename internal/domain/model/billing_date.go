package model

import "time"

// NextBillingDate advances fromDate by one plan cadence. Monthly plans
// move one calendar month, yearly plans one calendar year. When the
// source day does not exist in the target month (Jan 31 -> February,
// Feb 29 -> non-leap year) the result clamps to the last day of the
// target month; it never rolls into the following month. Pure function,
// safe to call from tests with fixed inputs.
func NextBillingDate(plan PlanType, fromDate time.Time) time.Time {
	years, months := 0, 1
	if plan == PlanYearly {
		years, months = 1, 0
	}
	y, m, d := fromDate.Date()
	target := time.Date(y+years, m+time.Month(months), 1, 0, 0, 0, 0, fromDate.Location())
	if last := lastDayOfMonth(target); d > last {
		d = last
	}
	hh, mm, ss := fromDate.Clock()
	return time.Date(target.Year(), target.Month(), d, hh, mm, ss, fromDate.Nanosecond(), fromDate.Location())
}

func lastDayOfMonth(t time.Time) int {
	firstOfNext := time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
	return firstOfNext.AddDate(0, 0, -1).Day()
}
