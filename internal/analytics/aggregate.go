package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/kollege/referralnet/internal/domain"
)

const dayFormat = "2006-01-02"
const monthFormat = "2006-01"

func buildOverview(members []domain.MemberSummary, earnings []domain.Earning) domain.Overview {
	var totalReferrals, activeReferrers int
	for _, m := range members {
		if m.Sponsored {
			totalReferrals++
		}
		if m.RecruitCount > 0 {
			activeReferrers++
		}
	}

	var earned float64
	for _, e := range earnings {
		earned += e.Amount
	}

	overview := domain.Overview{
		TotalReferrals:  totalReferrals,
		ActiveReferrers: activeReferrers,
	}
	if totalReferrals > 0 {
		overview.ConversionRate = round2(float64(activeReferrers) / float64(totalReferrals) * 100)
		overview.AverageEarningsPerReferral = round2(earned / float64(totalReferrals))
	}
	return overview
}

// buildDailyTrends buckets member registrations and commission amounts per
// calendar day. Open-ended windows are clipped to the observed history so
// the series stays finite.
func buildDailyTrends(members []domain.MemberSummary, earnings []domain.Earning, w domain.Window, conversionRate float64) []domain.DailyTrend {
	referralsByDay := make(map[string]int)
	earningsByDay := make(map[string]float64)

	var observedMin, observedMax time.Time
	observe := func(ts time.Time) {
		if observedMin.IsZero() || ts.Before(observedMin) {
			observedMin = ts
		}
		if observedMax.IsZero() || ts.After(observedMax) {
			observedMax = ts
		}
	}

	for _, m := range members {
		if !w.Contains(m.CreatedAt) {
			continue
		}
		referralsByDay[m.CreatedAt.UTC().Format(dayFormat)]++
		observe(m.CreatedAt.UTC())
	}
	for _, e := range earnings {
		if !w.Contains(e.Timestamp) {
			continue
		}
		earningsByDay[e.Timestamp.UTC().Format(dayFormat)] += e.Amount
		observe(e.Timestamp.UTC())
	}

	start, end := w.Start.UTC(), w.End.UTC()
	if start.IsZero() {
		start = observedMin
	}
	if end.IsZero() {
		end = observedMax
	}
	if start.IsZero() || end.IsZero() {
		return nil
	}

	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	endDay := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	var trends []domain.DailyTrend
	for day := startDay; !day.After(endDay); day = day.AddDate(0, 0, 1) {
		key := day.Format(dayFormat)
		referrals := referralsByDay[key]
		trends = append(trends, domain.DailyTrend{
			Date:        key,
			Referrals:   referrals,
			Conversions: int(math.Floor(float64(referrals) * conversionRate / 100)),
			Earnings:    round2(earningsByDay[key]),
		})
	}
	return trends
}

func buildTopPerformers(members []domain.MemberSummary) []domain.TopPerformer {
	var totalReferrals int
	for _, m := range members {
		if m.Sponsored {
			totalReferrals++
		}
	}

	referrers := make([]domain.MemberSummary, 0, len(members))
	for _, m := range members {
		if m.RecruitCount > 0 {
			referrers = append(referrers, m)
		}
	}
	sort.Slice(referrers, func(i, j int) bool {
		if referrers[i].TotalEarnings != referrers[j].TotalEarnings {
			return referrers[i].TotalEarnings > referrers[j].TotalEarnings
		}
		return referrers[i].ID < referrers[j].ID
	})
	if len(referrers) > topPerformerLimit {
		referrers = referrers[:topPerformerLimit]
	}

	performers := make([]domain.TopPerformer, 0, len(referrers))
	for _, m := range referrers {
		performer := domain.TopPerformer{
			MemberID:       m.ID,
			Name:           m.Name,
			TotalReferrals: m.RecruitCount,
			TotalEarnings:  round2(m.TotalEarnings),
		}
		if totalReferrals > 0 {
			performer.ConversionRate = round2(float64(m.RecruitCount) / float64(totalReferrals) * 100)
		}
		performers = append(performers, performer)
	}
	return performers
}

func buildProfitReport(purchases []domain.Purchase, earnings []domain.Earning) domain.ProfitReport {
	var revenue, payout, directPayout, indirectPayout float64
	for _, p := range purchases {
		revenue += p.Amount
	}
	for _, e := range earnings {
		payout += e.Amount
		switch e.Level {
		case domain.LevelDirect:
			directPayout += e.Amount
		case domain.LevelIndirect:
			indirectPayout += e.Amount
		}
	}

	fees := revenue * processingFeeRate
	marketing := revenue * marketingCostRate
	net := revenue - payout - fees - marketing

	summary := domain.ProfitSummary{
		TotalRevenue: round2(revenue),
		TotalPayout:  round2(payout),
		NetProfit:    round2(net),
	}
	if revenue > 0 {
		summary.ProfitMargin = round2(net / revenue * 100)
	}

	trends := buildMonthlyTrends(purchases, earnings)
	return domain.ProfitReport{
		Summary: summary,
		Breakdown: domain.ProfitBreakdown{
			DirectPayouts:   round2(directPayout),
			IndirectPayouts: round2(indirectPayout),
			ProcessingFees:  round2(fees),
			MarketingCosts:  round2(marketing),
		},
		MonthlyTrends: trends,
		Projections:   buildProjections(trends),
	}
}

func buildMonthlyTrends(purchases []domain.Purchase, earnings []domain.Earning) []domain.MonthlyTrend {
	revenueByMonth := make(map[string]float64)
	payoutByMonth := make(map[string]float64)

	for _, p := range purchases {
		revenueByMonth[p.Timestamp.UTC().Format(monthFormat)] += p.Amount
	}
	for _, e := range earnings {
		payoutByMonth[e.Timestamp.UTC().Format(monthFormat)] += e.Amount
	}

	months := make([]string, 0, len(revenueByMonth)+len(payoutByMonth))
	seen := make(map[string]struct{})
	for month := range revenueByMonth {
		months = append(months, month)
		seen[month] = struct{}{}
	}
	for month := range payoutByMonth {
		if _, ok := seen[month]; !ok {
			months = append(months, month)
		}
	}
	sort.Strings(months)

	trends := make([]domain.MonthlyTrend, 0, len(months))
	for _, month := range months {
		revenue := revenueByMonth[month]
		payout := payoutByMonth[month]
		profit := revenue - payout - revenue*(processingFeeRate+marketingCostRate)
		trends = append(trends, domain.MonthlyTrend{
			Month:   month,
			Revenue: round2(revenue),
			Payouts: round2(payout),
			Profit:  round2(profit),
		})
	}
	return trends
}

// buildProjections extrapolates the average month forward with a fixed
// growth factor; the quarter is three projected months.
func buildProjections(trends []domain.MonthlyTrend) domain.Projections {
	if len(trends) == 0 {
		return domain.Projections{}
	}

	var revenue, payouts, profit float64
	for _, t := range trends {
		revenue += t.Revenue
		payouts += t.Payouts
		profit += t.Profit
	}
	n := float64(len(trends))

	month := domain.Projection{
		ExpectedRevenue: round2(revenue / n * (1 + monthlyGrowthRate)),
		ExpectedPayouts: round2(payouts / n * (1 + monthlyGrowthRate)),
		ExpectedProfit:  round2(profit / n * (1 + monthlyGrowthRate)),
	}
	return domain.Projections{
		NextMonth: month,
		NextQuarter: domain.Projection{
			ExpectedRevenue: round2(month.ExpectedRevenue * 3),
			ExpectedPayouts: round2(month.ExpectedPayouts * 3),
			ExpectedProfit:  round2(month.ExpectedProfit * 3),
		},
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
