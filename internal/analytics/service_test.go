package analytics

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/kollege/referralnet/internal/domain"
)

type stubReader struct {
	members   []domain.MemberSummary
	purchases []domain.Purchase
	earnings  []domain.Earning

	windows []domain.Window
}

func (s *stubReader) ListMembers(context.Context) ([]domain.MemberSummary, error) {
	return s.members, nil
}

func (s *stubReader) ListPurchasesInWindow(_ context.Context, w domain.Window) ([]domain.Purchase, error) {
	s.windows = append(s.windows, w)
	var out []domain.Purchase
	for _, p := range s.purchases {
		if w.Contains(p.Timestamp) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubReader) ListEarningsInWindow(_ context.Context, w domain.Window) ([]domain.Earning, error) {
	s.windows = append(s.windows, w)
	var out []domain.Earning
	for _, e := range s.earnings {
		if w.Contains(e.Timestamp) {
			out = append(out, e)
		}
	}
	return out, nil
}

func day(d int) time.Time {
	return time.Date(2025, time.March, d, 10, 0, 0, 0, time.UTC)
}

func marchWindow() domain.Window {
	return domain.Window{
		Start: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, time.March, 5, 23, 59, 59, 0, time.UTC),
	}
}

func TestService_ReferralReport_Overview(t *testing.T) {
	reader := &stubReader{
		members: []domain.MemberSummary{
			{ID: "MEM-A", Name: "Alice", RecruitCount: 2, TotalEarnings: 120, Sponsored: false, CreatedAt: day(1)},
			{ID: "MEM-B", Name: "Bella", RecruitCount: 1, TotalEarnings: 100, Sponsored: true, CreatedAt: day(2)},
			{ID: "MEM-C", Name: "Carol", RecruitCount: 0, Sponsored: true, CreatedAt: day(3)},
			{ID: "MEM-D", Name: "Dan", RecruitCount: 0, Sponsored: true, CreatedAt: day(3)},
		},
		earnings: []domain.Earning{
			{Amount: 100, Level: 1, Timestamp: day(3)},
			{Amount: 20, Level: 2, Timestamp: day(3)},
		},
	}
	svc := NewService(reader)

	report, err := svc.ReferralReport(context.Background(), marchWindow())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	overview := report.Overview
	if overview.TotalReferrals != 3 {
		t.Errorf("expected 3 referrals, got %d", overview.TotalReferrals)
	}
	if overview.ActiveReferrers != 2 {
		t.Errorf("expected 2 active referrers, got %d", overview.ActiveReferrers)
	}
	if overview.ConversionRate != 66.67 {
		t.Errorf("expected conversion rate 66.67, got %v", overview.ConversionRate)
	}
	if overview.AverageEarningsPerReferral != 40.00 {
		t.Errorf("expected average earnings 40.00, got %v", overview.AverageEarningsPerReferral)
	}
}

func TestService_ReferralReport_EmptyHistory(t *testing.T) {
	svc := NewService(&stubReader{})

	report, err := svc.ReferralReport(context.Background(), marchWindow())
	if err != nil {
		t.Fatalf("expected no error on empty history, got %v", err)
	}
	if report.Overview.TotalReferrals != 0 || report.Overview.ConversionRate != 0 {
		t.Errorf("expected zeroed overview, got %+v", report.Overview)
	}
	if len(report.TopPerformers) != 0 {
		t.Errorf("expected no performers, got %d", len(report.TopPerformers))
	}
}

func TestService_ReferralReport_DailyTrends(t *testing.T) {
	reader := &stubReader{
		members: []domain.MemberSummary{
			{ID: "MEM-A", RecruitCount: 2, CreatedAt: day(1)},
			{ID: "MEM-B", Sponsored: true, CreatedAt: day(2)},
			{ID: "MEM-C", Sponsored: true, CreatedAt: day(2)},
		},
		earnings: []domain.Earning{
			{Amount: 55.5, Timestamp: day(2)},
			{Amount: 44.5, Timestamp: day(4)},
		},
	}
	svc := NewService(reader)

	report, err := svc.ReferralReport(context.Background(), marchWindow())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	trends := report.DailyTrends
	if len(trends) != 5 {
		t.Fatalf("expected 5 days, got %d", len(trends))
	}
	if trends[0].Date != "2025-03-01" || trends[4].Date != "2025-03-05" {
		t.Errorf("unexpected date bounds: %s .. %s", trends[0].Date, trends[4].Date)
	}
	if trends[1].Referrals != 2 {
		t.Errorf("expected 2 referrals on day 2, got %d", trends[1].Referrals)
	}
	if trends[1].Earnings != 55.5 {
		t.Errorf("expected earnings 55.5 on day 2, got %v", trends[1].Earnings)
	}
	if trends[3].Earnings != 44.5 {
		t.Errorf("expected earnings 44.5 on day 4, got %v", trends[3].Earnings)
	}
	// Conversion rate is 50%: two referrals convert to one.
	if trends[1].Conversions != 1 {
		t.Errorf("expected 1 conversion on day 2, got %d", trends[1].Conversions)
	}
	if trends[2].Referrals != 0 || trends[2].Earnings != 0 {
		t.Errorf("expected an empty bucket on day 3, got %+v", trends[2])
	}
}

func TestService_ReferralReport_TopPerformers(t *testing.T) {
	members := []domain.MemberSummary{
		{ID: "MEM-A", Name: "Alice", RecruitCount: 3, TotalEarnings: 500},
		{ID: "MEM-B", Name: "Bella", RecruitCount: 1, TotalEarnings: 900, Sponsored: true},
		{ID: "MEM-C", Name: "Carol", RecruitCount: 2, TotalEarnings: 300, Sponsored: true},
		{ID: "MEM-D", Name: "Dan", RecruitCount: 0, TotalEarnings: 9999, Sponsored: true},
		{ID: "MEM-E", Name: "Eve", RecruitCount: 1, TotalEarnings: 250, Sponsored: true},
		{ID: "MEM-F", Name: "Finn", RecruitCount: 1, TotalEarnings: 200, Sponsored: true},
		{ID: "MEM-G", Name: "Gus", RecruitCount: 1, TotalEarnings: 150, Sponsored: true},
	}
	svc := NewService(&stubReader{members: members})

	report, err := svc.ReferralReport(context.Background(), marchWindow())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	performers := report.TopPerformers
	if len(performers) != 5 {
		t.Fatalf("expected top 5, got %d", len(performers))
	}
	if performers[0].MemberID != "MEM-B" {
		t.Errorf("expected MEM-B first, got %s", performers[0].MemberID)
	}
	for _, p := range performers {
		if p.MemberID == "MEM-D" {
			t.Errorf("members without recruits must not rank")
		}
	}
	// 6 non-root members; Alice sponsors 3 of them.
	if performers[1].MemberID != "MEM-A" || performers[1].ConversionRate != 50.00 {
		t.Errorf("unexpected second performer: %+v", performers[1])
	}
}

func TestService_ReferralReport_Idempotent(t *testing.T) {
	reader := &stubReader{
		members: []domain.MemberSummary{
			{ID: "MEM-A", RecruitCount: 1, TotalEarnings: 100, CreatedAt: day(1)},
			{ID: "MEM-B", Sponsored: true, CreatedAt: day(2)},
		},
		earnings: []domain.Earning{{Amount: 100, Level: 1, Timestamp: day(2)}},
	}
	svc := NewService(reader)

	first, err := svc.ReferralReport(context.Background(), marchWindow())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	second, err := svc.ReferralReport(context.Background(), marchWindow())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("reports differ across identical reads:\n%+v\n%+v", first, second)
	}
}

func TestService_ReferralReport_InvalidWindow(t *testing.T) {
	svc := NewService(&stubReader{})

	_, err := svc.ReferralReport(context.Background(), domain.Window{
		Start: day(10),
		End:   day(1),
	})
	if !errors.Is(err, domain.ErrInvalidDateRange) {
		t.Fatalf("expected ErrInvalidDateRange, got %v", err)
	}
}

func TestService_ReferralReport_DefaultWindow(t *testing.T) {
	reader := &stubReader{}
	svc := NewService(reader)
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return now })

	if _, err := svc.ReferralReport(context.Background(), domain.Window{}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(reader.windows) == 0 {
		t.Fatal("expected a windowed read")
	}
	w := reader.windows[0]
	if !w.Start.Equal(now.AddDate(0, -1, 0)) || !w.End.Equal(now) {
		t.Errorf("expected trailing month window, got %+v", w)
	}
}

func TestService_ProfitReport_Summary(t *testing.T) {
	reader := &stubReader{
		purchases: []domain.Purchase{
			{ID: "PUR-1", Amount: 15000, Timestamp: day(1)},
			{ID: "PUR-2", Amount: 10000, Timestamp: day(2)},
		},
		earnings: []domain.Earning{
			{Amount: 2000, Level: 1, Timestamp: day(1)},
			{Amount: 500, Level: 2, Timestamp: day(2)},
		},
	}
	svc := NewService(reader)

	report, err := svc.ProfitReport(context.Background(), marchWindow())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	summary := report.Summary
	if summary.TotalRevenue != 25000 {
		t.Errorf("expected revenue 25000, got %v", summary.TotalRevenue)
	}
	if summary.TotalPayout != 2500 {
		t.Errorf("expected payout 2500, got %v", summary.TotalPayout)
	}
	if summary.NetProfit != 21000 {
		t.Errorf("expected net profit 21000, got %v", summary.NetProfit)
	}
	if summary.ProfitMargin != 84.0 {
		t.Errorf("expected margin 84.0, got %v", summary.ProfitMargin)
	}

	breakdown := report.Breakdown
	if breakdown.ProcessingFees != 250 {
		t.Errorf("expected fees 250, got %v", breakdown.ProcessingFees)
	}
	if breakdown.MarketingCosts != 1250 {
		t.Errorf("expected marketing 1250, got %v", breakdown.MarketingCosts)
	}
	if breakdown.DirectPayouts != 2000 || breakdown.IndirectPayouts != 500 {
		t.Errorf("unexpected payout split: %+v", breakdown)
	}
}

func TestService_ProfitReport_MonthlyTrendsAndProjections(t *testing.T) {
	jan := time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2025, time.February, 15, 0, 0, 0, 0, time.UTC)
	reader := &stubReader{
		purchases: []domain.Purchase{
			{ID: "PUR-1", Amount: 10000, Timestamp: jan},
			{ID: "PUR-2", Amount: 20000, Timestamp: feb},
		},
		earnings: []domain.Earning{
			{Amount: 500, Level: 1, Timestamp: jan},
			{Amount: 1000, Level: 1, Timestamp: feb},
		},
	}
	svc := NewService(reader)

	w := domain.Window{
		Start: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC),
	}
	report, err := svc.ProfitReport(context.Background(), w)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	trends := report.MonthlyTrends
	if len(trends) != 2 {
		t.Fatalf("expected 2 monthly buckets, got %d", len(trends))
	}
	if trends[0].Month != "2025-01" || trends[1].Month != "2025-02" {
		t.Errorf("unexpected month order: %s, %s", trends[0].Month, trends[1].Month)
	}
	// January: 10000 - 500 - 600 in fees and marketing.
	if trends[0].Profit != 8900 {
		t.Errorf("expected January profit 8900, got %v", trends[0].Profit)
	}

	// Average month: revenue 15000, payouts 750, profit 13350; +10% growth.
	proj := report.Projections
	if proj.NextMonth.ExpectedRevenue != 16500 {
		t.Errorf("expected projected revenue 16500, got %v", proj.NextMonth.ExpectedRevenue)
	}
	if proj.NextMonth.ExpectedPayouts != 825 {
		t.Errorf("expected projected payouts 825, got %v", proj.NextMonth.ExpectedPayouts)
	}
	if proj.NextMonth.ExpectedProfit != 14685 {
		t.Errorf("expected projected profit 14685, got %v", proj.NextMonth.ExpectedProfit)
	}
	if proj.NextQuarter.ExpectedRevenue != 49500 {
		t.Errorf("expected quarterly revenue 49500, got %v", proj.NextQuarter.ExpectedRevenue)
	}
}

func TestService_ProfitReport_EmptyHistory(t *testing.T) {
	svc := NewService(&stubReader{})

	report, err := svc.ProfitReport(context.Background(), marchWindow())
	if err != nil {
		t.Fatalf("expected no error on empty history, got %v", err)
	}
	if report.Summary.TotalRevenue != 0 || report.Summary.ProfitMargin != 0 {
		t.Errorf("expected zeroed summary, got %+v", report.Summary)
	}
	if len(report.MonthlyTrends) != 0 {
		t.Errorf("expected no monthly buckets, got %d", len(report.MonthlyTrends))
	}
	if report.Projections.NextMonth.ExpectedRevenue != 0 {
		t.Errorf("expected zero projections, got %+v", report.Projections)
	}
}
