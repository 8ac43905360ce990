package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kollege/referralnet/internal/analytics"
	"github.com/kollege/referralnet/internal/commission"
	"github.com/kollege/referralnet/internal/domain"
	"github.com/kollege/referralnet/internal/monitoring"
	"github.com/kollege/referralnet/internal/referral"
)

// APIHandlers exposes HTTP handlers for the REST API.
type APIHandlers struct {
	logger      *slog.Logger
	referrals   *referral.Service
	commissions *commission.Service
	analytics   *analytics.Service
}

// NewAPIHandlers constructs an APIHandlers instance.
func NewAPIHandlers(logger *slog.Logger, referrals *referral.Service, commissions *commission.Service, analyticsSvc *analytics.Service) *APIHandlers {
	return &APIHandlers{
		logger:      logger,
		referrals:   referrals,
		commissions: commissions,
		analytics:   analyticsSvc,
	}
}

func (h *APIHandlers) handleMembers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	h.registerMember(w, r)
}

// handleMemberSubroutes dispatches /members/{id} and its nested resources.
func (h *APIHandlers) handleMemberSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/members/"), "/")
	memberID, sub, _ := strings.Cut(rest, "/")
	if memberID == "" {
		writeError(w, http.StatusBadRequest, "member ID is required")
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		h.getMember(w, r, memberID)
	case sub == "referral-code" && r.Method == http.MethodPost:
		h.reissueCode(w, r, memberID)
	case sub == "tree" && r.Method == http.MethodGet:
		h.getTree(w, r, memberID)
	case sub == "earnings" && r.Method == http.MethodGet:
		h.getEarnings(w, r, memberID)
	case sub == "earnings/summary" && r.Method == http.MethodGet:
		h.getEarningsSummary(w, r, memberID)
	case sub == "purchases" && r.Method == http.MethodGet:
		h.getPurchases(w, r, memberID)
	case sub == "" || sub == "tree" || sub == "earnings" || sub == "earnings/summary" || sub == "purchases":
		methodNotAllowed(w, http.MethodGet)
	case sub == "referral-code":
		methodNotAllowed(w, http.MethodPost)
	default:
		writeError(w, http.StatusNotFound, "unknown resource")
	}
}

func (h *APIHandlers) registerMember(w http.ResponseWriter, r *http.Request) {
	var payload registerRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	member, err := h.referrals.Register(r.Context(), referral.RegisterInput{
		Name:        payload.Name,
		Email:       payload.Email,
		SponsorCode: payload.SponsorCode,
	})
	if err != nil {
		h.writeDomainError(w, err, "failed to register member")
		return
	}

	monitoring.MembersRegisteredTotal.Inc()
	respondJSON(w, http.StatusCreated, h.memberResponse(member))
}

func (h *APIHandlers) getMember(w http.ResponseWriter, r *http.Request, memberID string) {
	member, err := h.referrals.GetMember(r.Context(), memberID)
	if err != nil {
		h.writeDomainError(w, err, "failed to fetch member")
		return
	}
	respondJSON(w, http.StatusOK, h.memberResponse(member))
}

func (h *APIHandlers) reissueCode(w http.ResponseWriter, r *http.Request, memberID string) {
	member, err := h.referrals.ReissueCode(r.Context(), memberID)
	if err != nil {
		h.writeDomainError(w, err, "failed to reissue referral code")
		return
	}
	respondJSON(w, http.StatusOK, reissueResponse{
		Code: member.ReferralCode,
		Link: h.referrals.ReferralLink(member.ReferralCode),
	})
}

func (h *APIHandlers) getTree(w http.ResponseWriter, r *http.Request, memberID string) {
	tree, err := h.referrals.DownlineTree(r.Context(), memberID)
	if err != nil {
		h.writeDomainError(w, err, "failed to fetch referral tree")
		return
	}

	resp := treeResponse{
		MemberID:         tree.Member.ID,
		DirectRecruits:   []memberSummaryResponse{},
		IndirectRecruits: []memberSummaryResponse{},
	}
	for _, m := range tree.Direct {
		resp.DirectRecruits = append(resp.DirectRecruits, summaryResponse(m))
	}
	for _, m := range tree.Indirect {
		resp.IndirectRecruits = append(resp.IndirectRecruits, summaryResponse(m))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) getEarnings(w http.ResponseWriter, r *http.Request, memberID string) {
	window, err := parseWindow(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.commissions.EarningsHistory(r.Context(), memberID, window)
	if err != nil {
		h.writeDomainError(w, err, "failed to fetch earnings")
		return
	}

	resp := earningsResponse{MemberID: memberID, Earnings: []earningResponse{}}
	for _, record := range records {
		resp.Earnings = append(resp.Earnings, earningResponse{
			EarningID:      record.ID,
			Amount:         record.Amount,
			Level:          record.Level,
			Timestamp:      formatTime(record.Timestamp),
			SourceMemberID: record.SourceID,
			SourceName:     record.SourceName,
			PurchaseAmount: record.PurchaseAmount,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) getEarningsSummary(w http.ResponseWriter, r *http.Request, memberID string) {
	summary, err := h.commissions.EarningsSummary(r.Context(), memberID)
	if err != nil {
		h.writeDomainError(w, err, "failed to fetch earnings summary")
		return
	}
	respondJSON(w, http.StatusOK, earningsSummaryResponse{
		TotalEarnings:    summary.TotalEarnings,
		DirectEarnings:   summary.DirectEarnings,
		IndirectEarnings: summary.IndirectEarnings,
		PendingPayouts:   summary.PendingPayouts,
		MonthlyStats: monthlyStatsResponse{
			CurrentMonth:  summary.MonthlyStats.CurrentMonth,
			PreviousMonth: summary.MonthlyStats.PreviousMonth,
			MonthlyGrowth: summary.MonthlyStats.MonthlyGrowth,
		},
	})
}

func (h *APIHandlers) getPurchases(w http.ResponseWriter, r *http.Request, memberID string) {
	window, err := parseWindow(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.commissions.Purchases(r.Context(), memberID, window)
	if err != nil {
		h.writeDomainError(w, err, "failed to fetch purchases")
		return
	}

	resp := purchasesResponse{
		MemberID:      memberID,
		EligibleCount: report.EligibleCount,
		Purchases:     []purchaseResponse{},
	}
	for _, p := range report.Purchases {
		resp.Purchases = append(resp.Purchases, purchaseResponse{
			PurchaseID: p.ID,
			MemberID:   p.MemberID,
			Amount:     p.Amount,
			Status:     p.Status,
			Timestamp:  formatTime(p.Timestamp),
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) handlePurchases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var payload purchaseRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.MemberID == "" {
		writeError(w, http.StatusBadRequest, "memberId is required")
		return
	}

	result, err := h.commissions.ProcessPurchase(r.Context(), payload.MemberID, payload.Amount)
	if err != nil {
		h.writeDomainError(w, err, "failed to process purchase")
		return
	}

	monitoring.PurchasesProcessedTotal.WithLabelValues(strconv.FormatBool(result.Purchase.Eligible())).Inc()
	resp := purchaseResultResponse{
		Purchase: purchaseResponse{
			PurchaseID: result.Purchase.ID,
			MemberID:   result.Purchase.MemberID,
			Amount:     result.Purchase.Amount,
			Status:     result.Purchase.Status,
			Timestamp:  formatTime(result.Purchase.Timestamp),
		},
		Commissions: []commissionResponse{},
	}
	for _, e := range result.Earnings {
		monitoring.CommissionsPaidTotal.WithLabelValues(strconv.Itoa(e.Level)).Add(e.Amount)
		resp.Commissions = append(resp.Commissions, commissionResponse{
			EarningID:     e.ID,
			BeneficiaryID: e.BeneficiaryID,
			Amount:        e.Amount,
			Level:         e.Level,
		})
	}
	respondJSON(w, http.StatusCreated, resp)
}

func (h *APIHandlers) handleReferralAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	window, err := parseWindow(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.analytics.ReferralReport(r.Context(), window)
	if err != nil {
		h.writeDomainError(w, err, "failed to compute referral analytics")
		return
	}

	resp := referralAnalyticsResponse{
		Overview: overviewResponse{
			TotalReferrals:             report.Overview.TotalReferrals,
			ActiveReferrers:            report.Overview.ActiveReferrers,
			ConversionRate:             report.Overview.ConversionRate,
			AverageEarningsPerReferral: report.Overview.AverageEarningsPerReferral,
		},
		DailyTrends:   []dailyTrendResponse{},
		TopPerformers: []topPerformerResponse{},
	}
	for _, trend := range report.DailyTrends {
		resp.DailyTrends = append(resp.DailyTrends, dailyTrendResponse{
			Date:        trend.Date,
			Referrals:   trend.Referrals,
			Conversions: trend.Conversions,
			Earnings:    trend.Earnings,
		})
	}
	for _, performer := range report.TopPerformers {
		resp.TopPerformers = append(resp.TopPerformers, topPerformerResponse{
			MemberID:       performer.MemberID,
			Name:           performer.Name,
			TotalReferrals: performer.TotalReferrals,
			TotalEarnings:  performer.TotalEarnings,
			ConversionRate: performer.ConversionRate,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) handleProfitReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	window, err := parseWindow(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.analytics.ProfitReport(r.Context(), window)
	if err != nil {
		h.writeDomainError(w, err, "failed to compute profit report")
		return
	}

	resp := profitReportResponse{
		Summary: profitSummaryResponse{
			TotalRevenue: report.Summary.TotalRevenue,
			TotalPayout:  report.Summary.TotalPayout,
			NetProfit:    report.Summary.NetProfit,
			ProfitMargin: report.Summary.ProfitMargin,
		},
		Breakdown: profitBreakdownResponse{
			DirectPayouts:   report.Breakdown.DirectPayouts,
			IndirectPayouts: report.Breakdown.IndirectPayouts,
			ProcessingFees:  report.Breakdown.ProcessingFees,
			MarketingCosts:  report.Breakdown.MarketingCosts,
		},
		MonthlyTrends: []monthlyTrendResponse{},
		Projections: projectionsResponse{
			NextMonth:   projectionResponse(report.Projections.NextMonth),
			NextQuarter: projectionResponse(report.Projections.NextQuarter),
		},
	}
	for _, trend := range report.MonthlyTrends {
		resp.MonthlyTrends = append(resp.MonthlyTrends, monthlyTrendResponse{
			Month:   trend.Month,
			Revenue: trend.Revenue,
			Payouts: trend.Payouts,
			Profit:  trend.Profit,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// writeDomainError maps domain errors onto HTTP statuses. Unclassified
// errors are logged and reported as opaque internal failures.
func (h *APIHandlers) writeDomainError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidReferral),
		errors.Is(err, domain.ErrInvalidDateRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrMemberNotFound),
		errors.Is(err, domain.ErrUnknownReferralCode):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrDuplicateEmail),
		errors.Is(err, domain.ErrFanOutExceeded):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrConflict):
		monitoring.WriteConflictsTotal.Inc()
		writeError(w, http.StatusServiceUnavailable, "concurrent update, please retry")
	default:
		h.logger.Error(fallback, "error", err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func (h *APIHandlers) memberResponse(m domain.Member) memberResponse {
	return memberResponse{
		MemberID:         m.ID,
		Name:             m.Name,
		Email:            m.Email,
		ReferralCode:     m.ReferralCode,
		ReferralLink:     h.referrals.ReferralLink(m.ReferralCode),
		SponsorID:        m.SponsorID,
		Level:            m.Level,
		Active:           m.Active,
		RecruitCount:     m.RecruitCount,
		DirectEarnings:   m.DirectEarnings,
		IndirectEarnings: m.IndirectEarnings,
		TotalEarnings:    m.TotalEarnings,
		CreatedAt:        formatTime(m.CreatedAt),
		LastActive:       formatTime(m.LastActive),
	}
}

func summaryResponse(m domain.MemberSummary) memberSummaryResponse {
	return memberSummaryResponse{
		MemberID:      m.ID,
		Name:          m.Name,
		RecruitCount:  m.RecruitCount,
		TotalEarnings: m.TotalEarnings,
		JoinedAt:      formatTime(m.CreatedAt),
	}
}

// --- Request & Response DTOs ---

type registerRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	SponsorCode string `json:"sponsorCode"`
}

type purchaseRequest struct {
	MemberID string  `json:"memberId"`
	Amount   float64 `json:"amount"`
}

type memberResponse struct {
	MemberID         string  `json:"memberId"`
	Name             string  `json:"name"`
	Email            string  `json:"email"`
	ReferralCode     string  `json:"referralCode"`
	ReferralLink     string  `json:"referralLink"`
	SponsorID        string  `json:"sponsorId,omitempty"`
	Level            int     `json:"level"`
	Active           bool    `json:"active"`
	RecruitCount     int     `json:"recruitCount"`
	DirectEarnings   float64 `json:"directEarnings"`
	IndirectEarnings float64 `json:"indirectEarnings"`
	TotalEarnings    float64 `json:"totalEarnings"`
	CreatedAt        string  `json:"createdAt"`
	LastActive       string  `json:"lastActive"`
}

type memberSummaryResponse struct {
	MemberID      string  `json:"memberId"`
	Name          string  `json:"name"`
	RecruitCount  int     `json:"recruitCount"`
	TotalEarnings float64 `json:"totalEarnings"`
	JoinedAt      string  `json:"joinedAt"`
}

type reissueResponse struct {
	Code string `json:"code"`
	Link string `json:"link"`
}

type treeResponse struct {
	MemberID         string                  `json:"memberId"`
	DirectRecruits   []memberSummaryResponse `json:"directRecruits"`
	IndirectRecruits []memberSummaryResponse `json:"indirectRecruits"`
}

type earningsResponse struct {
	MemberID string            `json:"memberId"`
	Earnings []earningResponse `json:"earnings"`
}

type earningResponse struct {
	EarningID      string  `json:"earningId"`
	Amount         float64 `json:"amount"`
	Level          int     `json:"level"`
	Timestamp      string  `json:"timestamp"`
	SourceMemberID string  `json:"sourceMemberId"`
	SourceName     string  `json:"sourceName"`
	PurchaseAmount float64 `json:"purchaseAmount"`
}

type earningsSummaryResponse struct {
	TotalEarnings    float64              `json:"totalEarnings"`
	DirectEarnings   float64              `json:"directEarnings"`
	IndirectEarnings float64              `json:"indirectEarnings"`
	PendingPayouts   float64              `json:"pendingPayouts"`
	MonthlyStats     monthlyStatsResponse `json:"monthlyStats"`
}

type monthlyStatsResponse struct {
	CurrentMonth  float64 `json:"currentMonth"`
	PreviousMonth float64 `json:"previousMonth"`
	MonthlyGrowth float64 `json:"monthlyGrowth"`
}

type purchasesResponse struct {
	MemberID      string             `json:"memberId"`
	EligibleCount int64              `json:"eligibleCount"`
	Purchases     []purchaseResponse `json:"purchases"`
}

type purchaseResponse struct {
	PurchaseID string  `json:"purchaseId"`
	MemberID   string  `json:"memberId"`
	Amount     float64 `json:"amount"`
	Status     string  `json:"status"`
	Timestamp  string  `json:"timestamp"`
}

type purchaseResultResponse struct {
	Purchase    purchaseResponse     `json:"purchase"`
	Commissions []commissionResponse `json:"commissions"`
}

type commissionResponse struct {
	EarningID     string  `json:"earningId"`
	BeneficiaryID string  `json:"beneficiaryId"`
	Amount        float64 `json:"amount"`
	Level         int     `json:"level"`
}

type referralAnalyticsResponse struct {
	Overview      overviewResponse       `json:"overview"`
	DailyTrends   []dailyTrendResponse   `json:"dailyTrends"`
	TopPerformers []topPerformerResponse `json:"topPerformers"`
}

type overviewResponse struct {
	TotalReferrals             int     `json:"totalReferrals"`
	ActiveReferrers            int     `json:"activeReferrers"`
	ConversionRate             float64 `json:"conversionRate"`
	AverageEarningsPerReferral float64 `json:"averageEarningsPerReferral"`
}

type dailyTrendResponse struct {
	Date        string  `json:"date"`
	Referrals   int     `json:"referrals"`
	Conversions int     `json:"conversions"`
	Earnings    float64 `json:"earnings"`
}

type topPerformerResponse struct {
	MemberID       string  `json:"memberId"`
	Name           string  `json:"name"`
	TotalReferrals int     `json:"totalReferrals"`
	TotalEarnings  float64 `json:"totalEarnings"`
	ConversionRate float64 `json:"conversionRate"`
}

type profitReportResponse struct {
	Summary       profitSummaryResponse   `json:"summary"`
	Breakdown     profitBreakdownResponse `json:"breakdown"`
	MonthlyTrends []monthlyTrendResponse  `json:"monthlyTrends"`
	Projections   projectionsResponse     `json:"projections"`
}

type profitSummaryResponse struct {
	TotalRevenue float64 `json:"totalRevenue"`
	TotalPayout  float64 `json:"totalPayout"`
	NetProfit    float64 `json:"netProfit"`
	ProfitMargin float64 `json:"profitMargin"`
}

type profitBreakdownResponse struct {
	DirectPayouts   float64 `json:"directPayouts"`
	IndirectPayouts float64 `json:"indirectPayouts"`
	ProcessingFees  float64 `json:"processingFees"`
	MarketingCosts  float64 `json:"marketingCosts"`
}

type monthlyTrendResponse struct {
	Month   string  `json:"month"`
	Revenue float64 `json:"revenue"`
	Payouts float64 `json:"payouts"`
	Profit  float64 `json:"profit"`
}

type projectionsResponse struct {
	NextMonth   projectionResponse `json:"nextMonth"`
	NextQuarter projectionResponse `json:"nextQuarter"`
}

type projectionResponse struct {
	ExpectedRevenue float64 `json:"expectedRevenue"`
	ExpectedPayouts float64 `json:"expectedPayouts"`
	ExpectedProfit  float64 `json:"expectedProfit"`
}

// --- helpers ---

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

// parseWindow reads optional start/end bounds. Both RFC 3339 timestamps and
// plain dates are accepted; a date-only end bound covers its whole day.
func parseWindow(query url.Values) (domain.Window, error) {
	var w domain.Window
	if v := query.Get("start"); v != "" {
		ts, _, err := parseBound(v)
		if err != nil {
			return domain.Window{}, errors.New("invalid start date")
		}
		w.Start = ts
	}
	if v := query.Get("end"); v != "" {
		ts, dateOnly, err := parseBound(v)
		if err != nil {
			return domain.Window{}, errors.New("invalid end date")
		}
		if dateOnly {
			ts = ts.Add(24*time.Hour - time.Nanosecond)
		}
		w.End = ts
	}
	if !w.Start.IsZero() && !w.End.IsZero() && w.End.Before(w.Start) {
		return domain.Window{}, domain.ErrInvalidDateRange
	}
	return w, nil
}

func parseBound(value string) (time.Time, bool, error) {
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), false, nil
	}
	ts, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts.UTC(), true, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{
		"error": msg,
	})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
