package domain

import "time"

// ReferralAnalytics aggregates the read-side referral statistics for a
// date window.
type ReferralAnalytics struct {
	Overview      Overview
	DailyTrends   []DailyTrend
	TopPerformers []TopPerformer
}

// Overview summarises the shape of the network and its earnings within
// the window.
type Overview struct {
	TotalReferrals             int // non-root members
	ActiveReferrers            int // members with at least one direct recruit
	ConversionRate             float64
	AverageEarningsPerReferral float64
}

// DailyTrend captures per-calendar-day registration and earnings activity.
type DailyTrend struct {
	Date        string // YYYY-MM-DD
	Referrals   int
	Conversions int
	Earnings    float64
}

// TopPerformer ranks a referrer by lifetime earnings.
type TopPerformer struct {
	MemberID       string
	Name           string
	TotalReferrals int
	TotalEarnings  float64
	ConversionRate float64
}

// ProfitReport is the financial read-side view over a date window.
type ProfitReport struct {
	Summary       ProfitSummary
	Breakdown     ProfitBreakdown
	MonthlyTrends []MonthlyTrend
	Projections   Projections
}

// ProfitSummary totals revenue and payouts for the window.
type ProfitSummary struct {
	TotalRevenue float64
	TotalPayout  float64
	NetProfit    float64
	ProfitMargin float64
}

// ProfitBreakdown splits payouts by commission level and lists derived costs.
type ProfitBreakdown struct {
	DirectPayouts   float64
	IndirectPayouts float64
	ProcessingFees  float64
	MarketingCosts  float64
}

// MonthlyTrend applies the profit formulas to a single calendar month.
type MonthlyTrend struct {
	Month   string // YYYY-MM
	Revenue float64
	Payouts float64
	Profit  float64
}

// Projection extrapolates average monthly figures forward.
type Projection struct {
	ExpectedRevenue float64
	ExpectedPayouts float64
	ExpectedProfit  float64
}

// Projections covers the next month and next quarter.
type Projections struct {
	NextMonth   Projection
	NextQuarter Projection
}

// EarningsSummary is the per-member earnings digest.
type EarningsSummary struct {
	TotalEarnings    float64
	DirectEarnings   float64
	IndirectEarnings float64
	PendingPayouts   float64 // earnings credited in the trailing 24 hours
	MonthlyStats     MonthlyStats
}

// MonthlyStats compares the current calendar month against the previous one.
type MonthlyStats struct {
	CurrentMonth  float64
	PreviousMonth float64
	MonthlyGrowth float64 // percent change, 0 when previous month is empty
}

// Window is an inclusive [Start, End] analytics time range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether ts falls inside the window. Zero bounds are open.
func (w Window) Contains(ts time.Time) bool {
	if !w.Start.IsZero() && ts.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && ts.After(w.End) {
		return false
	}
	return true
}
