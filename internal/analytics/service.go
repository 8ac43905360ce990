package analytics

import (
	"context"
	"time"

	"github.com/kollege/referralnet/internal/domain"
)

// Cost rates applied to revenue in the profit report.
const (
	processingFeeRate = 0.01
	marketingCostRate = 0.05
	monthlyGrowthRate = 0.10
	topPerformerLimit = 5
)

// Reader is the storage contract required by the analytics service. All
// reads are point-in-time snapshots; the aggregator owns no mutable state.
type Reader interface {
	ListMembers(ctx context.Context) ([]domain.MemberSummary, error)
	ListPurchasesInWindow(ctx context.Context, w domain.Window) ([]domain.Purchase, error)
	ListEarningsInWindow(ctx context.Context, w domain.Window) ([]domain.Earning, error)
}

// Service computes referral and profit analytics from the immutable purchase
// and commission history. Every report is deterministic and recomputable.
type Service struct {
	reader Reader
	nowFn  func() time.Time
}

// NewService constructs an analytics Service.
func NewService(reader Reader) *Service {
	return &Service{reader: reader, nowFn: time.Now}
}

// WithClock overrides the time provider (used primarily in tests).
func (s *Service) WithClock(nowFn func() time.Time) {
	if nowFn != nil {
		s.nowFn = nowFn
	}
}

// ReferralReport computes overview statistics, daily trends, and top
// performers for the window. A zero window defaults to the trailing month.
func (s *Service) ReferralReport(ctx context.Context, w domain.Window) (domain.ReferralAnalytics, error) {
	w, err := s.resolveWindow(w)
	if err != nil {
		return domain.ReferralAnalytics{}, err
	}

	members, err := s.reader.ListMembers(ctx)
	if err != nil {
		return domain.ReferralAnalytics{}, err
	}
	earnings, err := s.reader.ListEarningsInWindow(ctx, w)
	if err != nil {
		return domain.ReferralAnalytics{}, err
	}

	overview := buildOverview(members, earnings)
	return domain.ReferralAnalytics{
		Overview:      overview,
		DailyTrends:   buildDailyTrends(members, earnings, w, overview.ConversionRate),
		TopPerformers: buildTopPerformers(members),
	}, nil
}

// ProfitReport computes revenue, payouts, per-month trends, and growth
// projections for the window. A zero window defaults to the trailing month.
func (s *Service) ProfitReport(ctx context.Context, w domain.Window) (domain.ProfitReport, error) {
	w, err := s.resolveWindow(w)
	if err != nil {
		return domain.ProfitReport{}, err
	}

	purchases, err := s.reader.ListPurchasesInWindow(ctx, w)
	if err != nil {
		return domain.ProfitReport{}, err
	}
	earnings, err := s.reader.ListEarningsInWindow(ctx, w)
	if err != nil {
		return domain.ProfitReport{}, err
	}

	return buildProfitReport(purchases, earnings), nil
}

// resolveWindow validates bounds and applies the trailing-month default.
func (s *Service) resolveWindow(w domain.Window) (domain.Window, error) {
	if !w.Start.IsZero() && !w.End.IsZero() && w.End.Before(w.Start) {
		return domain.Window{}, domain.ErrInvalidDateRange
	}
	if w.Start.IsZero() && w.End.IsZero() {
		now := s.nowFn().UTC()
		w = domain.Window{Start: now.AddDate(0, -1, 0), End: now}
	}
	return w, nil
}
