package commission

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/kollege/referralnet/internal/domain"
	"github.com/kollege/referralnet/internal/notify"
	"github.com/kollege/referralnet/internal/repository"
)

// Commission rates applied to eligible purchases. The indirect rate applies
// to the purchase amount itself, not to the direct commission.
const (
	DirectRate   = 0.05
	IndirectRate = 0.01
)

// Store is the storage contract required by the commission service.
type Store interface {
	FindMemberByID(ctx context.Context, memberID string) (domain.Member, error)
	RecordPurchase(ctx context.Context, p domain.Purchase, earnings []domain.Earning) error
	ListPurchasesByMember(ctx context.Context, memberID string, w domain.Window) ([]domain.Purchase, error)
	CountEligiblePurchases(ctx context.Context, memberID string) (int64, error)
	ListEarningsByBeneficiary(ctx context.Context, memberID string, w domain.Window) ([]domain.EarningRecord, error)
}

// PurchaseResult reports a processed purchase and the commissions it paid.
type PurchaseResult struct {
	Purchase domain.Purchase
	Earnings []domain.Earning
}

// PurchaseReport lists a member's purchases with the count of those at or
// above the commission threshold.
type PurchaseReport struct {
	Purchases     []domain.Purchase
	EligibleCount int64
}

// Service processes purchases and exposes members' earning views.
type Service struct {
	store    Store
	notifier notify.Notifier
	retries  uint64
	nowFn    func() time.Time
	newID    func() string
}

// NewService constructs a commission Service. The notifier may be nil when
// event delivery is not wired.
func NewService(store Store, notifier notify.Notifier, conflictRetries int) *Service {
	if conflictRetries < 0 {
		conflictRetries = 0
	}
	return &Service{
		store:    store,
		notifier: notifier,
		retries:  uint64(conflictRetries),
		nowFn:    time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

// WithClock overrides the time provider (used primarily in tests).
func (s *Service) WithClock(nowFn func() time.Time) {
	if nowFn != nil {
		s.nowFn = nowFn
	}
}

// WithIDGenerator overrides identifier generation (used primarily in tests).
func (s *Service) WithIDGenerator(fn func() string) {
	if fn != nil {
		s.newID = fn
	}
}

// ProcessPurchase records a purchase and, when the amount meets the
// eligibility threshold, credits the buyer's sponsor 5% and the sponsor's
// sponsor 1% of the purchase amount. The purchase and all commissions commit
// in one write; earning events go out only after that write succeeds.
func (s *Service) ProcessPurchase(ctx context.Context, memberID string, amount float64) (PurchaseResult, error) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return PurchaseResult{}, domain.ErrInvalidAmount
	}

	buyer, err := s.store.FindMemberByID(ctx, memberID)
	if err != nil {
		return PurchaseResult{}, err
	}

	now := s.nowFn().UTC()
	purchase := domain.Purchase{
		ID:        s.newID(),
		MemberID:  buyer.ID,
		Amount:    amount,
		Status:    domain.PurchaseStatusCompleted,
		Timestamp: now,
	}

	earnings, events, err := s.planCommissions(ctx, buyer, purchase)
	if err != nil {
		return PurchaseResult{}, err
	}

	write := func() error {
		err := s.store.RecordPurchase(ctx, purchase, earnings)
		if errors.Is(err, repository.ErrNoRowsWritten) {
			// The buyer disappeared between read and write.
			return backoff.Permanent(domain.ErrMemberNotFound)
		}
		return err
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.retries)
	if err := backoff.Retry(write, backoff.WithContext(policy, ctx)); err != nil {
		return PurchaseResult{}, err
	}

	if s.notifier != nil {
		for _, event := range events {
			s.notifier.Notify(event)
		}
	}
	return PurchaseResult{Purchase: purchase, Earnings: earnings}, nil
}

// planCommissions resolves the sponsor chain and computes the commission
// entries for an eligible purchase. Sponsor links never change after
// enrollment, so the chain read here cannot go stale before the write.
func (s *Service) planCommissions(ctx context.Context, buyer domain.Member, purchase domain.Purchase) ([]domain.Earning, []notify.EarningEvent, error) {
	eligible := purchase.Amount >= domain.EligibleAmount
	if !eligible || !buyer.HasSponsor() {
		return nil, nil, nil
	}

	sponsor, err := s.store.FindMemberByID(ctx, buyer.SponsorID)
	if err != nil {
		return nil, nil, err
	}

	earnings := []domain.Earning{{
		ID:            s.newID(),
		BeneficiaryID: sponsor.ID,
		SourceID:      buyer.ID,
		PurchaseID:    purchase.ID,
		Amount:        roundCents(purchase.Amount * DirectRate),
		Level:         domain.LevelDirect,
		Timestamp:     purchase.Timestamp,
	}}
	events := []notify.EarningEvent{{
		EarningID:       earnings[0].ID,
		BeneficiaryID:   sponsor.ID,
		BeneficiaryName: sponsor.Name,
		SourceMemberID:  buyer.ID,
		SourceName:      buyer.Name,
		PurchaseID:      purchase.ID,
		Amount:          earnings[0].Amount,
		Level:           domain.LevelDirect,
		Timestamp:       purchase.Timestamp,
	}}

	if sponsor.HasSponsor() {
		grand, err := s.store.FindMemberByID(ctx, sponsor.SponsorID)
		if err != nil {
			return nil, nil, err
		}
		indirect := domain.Earning{
			ID:            s.newID(),
			BeneficiaryID: grand.ID,
			SourceID:      buyer.ID,
			PurchaseID:    purchase.ID,
			Amount:        roundCents(purchase.Amount * IndirectRate),
			Level:         domain.LevelIndirect,
			Timestamp:     purchase.Timestamp,
		}
		earnings = append(earnings, indirect)
		events = append(events, notify.EarningEvent{
			EarningID:       indirect.ID,
			BeneficiaryID:   grand.ID,
			BeneficiaryName: grand.Name,
			SourceMemberID:  buyer.ID,
			SourceName:      buyer.Name,
			PurchaseID:      purchase.ID,
			Amount:          indirect.Amount,
			Level:           domain.LevelIndirect,
			Timestamp:       purchase.Timestamp,
		})
	}
	return earnings, events, nil
}

// Purchases returns the member's purchase history inside the window together
// with the eligible purchase count.
func (s *Service) Purchases(ctx context.Context, memberID string, w domain.Window) (PurchaseReport, error) {
	if err := validateWindow(w); err != nil {
		return PurchaseReport{}, err
	}
	if _, err := s.store.FindMemberByID(ctx, memberID); err != nil {
		return PurchaseReport{}, err
	}

	purchases, err := s.store.ListPurchasesByMember(ctx, memberID, w)
	if err != nil {
		return PurchaseReport{}, err
	}
	eligible, err := s.store.CountEligiblePurchases(ctx, memberID)
	if err != nil {
		return PurchaseReport{}, err
	}
	return PurchaseReport{Purchases: purchases, EligibleCount: eligible}, nil
}

// EarningsHistory returns the member's commission entries inside the window,
// newest first.
func (s *Service) EarningsHistory(ctx context.Context, memberID string, w domain.Window) ([]domain.EarningRecord, error) {
	if err := validateWindow(w); err != nil {
		return nil, err
	}
	if _, err := s.store.FindMemberByID(ctx, memberID); err != nil {
		return nil, err
	}
	return s.store.ListEarningsByBeneficiary(ctx, memberID, w)
}

// EarningsSummary aggregates the member's balances with recent payout
// activity: commissions earned in the last 24 hours count as pending, and
// the current calendar month is compared against the previous one.
func (s *Service) EarningsSummary(ctx context.Context, memberID string) (domain.EarningsSummary, error) {
	member, err := s.store.FindMemberByID(ctx, memberID)
	if err != nil {
		return domain.EarningsSummary{}, err
	}

	records, err := s.store.ListEarningsByBeneficiary(ctx, memberID, domain.Window{})
	if err != nil {
		return domain.EarningsSummary{}, err
	}

	now := s.nowFn().UTC()
	pendingSince := now.Add(-24 * time.Hour)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	prevMonthStart := monthStart.AddDate(0, -1, 0)

	summary := domain.EarningsSummary{
		TotalEarnings:    member.TotalEarnings,
		DirectEarnings:   member.DirectEarnings,
		IndirectEarnings: member.IndirectEarnings,
	}
	for _, record := range records {
		ts := record.Timestamp
		if !ts.Before(pendingSince) {
			summary.PendingPayouts += record.Amount
		}
		switch {
		case !ts.Before(monthStart):
			summary.MonthlyStats.CurrentMonth += record.Amount
		case !ts.Before(prevMonthStart):
			summary.MonthlyStats.PreviousMonth += record.Amount
		}
	}

	if summary.MonthlyStats.PreviousMonth > 0 {
		growth := (summary.MonthlyStats.CurrentMonth - summary.MonthlyStats.PreviousMonth) / summary.MonthlyStats.PreviousMonth * 100
		summary.MonthlyStats.MonthlyGrowth = roundCents(growth)
	}
	summary.PendingPayouts = roundCents(summary.PendingPayouts)
	summary.MonthlyStats.CurrentMonth = roundCents(summary.MonthlyStats.CurrentMonth)
	summary.MonthlyStats.PreviousMonth = roundCents(summary.MonthlyStats.PreviousMonth)
	return summary, nil
}

func validateWindow(w domain.Window) error {
	if !w.Start.IsZero() && !w.End.IsZero() && w.End.Before(w.Start) {
		return domain.ErrInvalidDateRange
	}
	return nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
