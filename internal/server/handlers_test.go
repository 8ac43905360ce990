package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kollege/referralnet/internal/analytics"
	"github.com/kollege/referralnet/internal/commission"
	"github.com/kollege/referralnet/internal/domain"
	"github.com/kollege/referralnet/internal/referral"
)

// fakeStore backs all three services in handler tests with plain maps.
type fakeStore struct {
	members   map[string]domain.Member
	purchases []domain.Purchase
	earnings  []domain.Earning
	records   []domain.EarningRecord
	summaries []domain.MemberSummary
}

func newFakeStore(members ...domain.Member) *fakeStore {
	s := &fakeStore{members: map[string]domain.Member{}}
	for _, m := range members {
		s.members[m.ID] = m
	}
	return s
}

func (s *fakeStore) CreateRootMember(_ context.Context, m domain.Member) error {
	s.members[m.ID] = m
	return nil
}

func (s *fakeStore) CreateSponsoredMember(_ context.Context, m domain.Member, sponsorCode string) (string, int, error) {
	for _, candidate := range s.members {
		if candidate.ReferralCode == sponsorCode {
			m.SponsorID = candidate.ID
			m.Level = candidate.Level + 1
			s.members[m.ID] = m
			return candidate.ID, m.Level, nil
		}
	}
	return "", 0, domain.ErrUnknownReferralCode
}

func (s *fakeStore) UpdateReferralCode(_ context.Context, memberID, code string, _ time.Time) error {
	m := s.members[memberID]
	m.ReferralCode = code
	s.members[memberID] = m
	return nil
}

func (s *fakeStore) FindMemberByID(_ context.Context, memberID string) (domain.Member, error) {
	m, ok := s.members[memberID]
	if !ok {
		return domain.Member{}, domain.ErrMemberNotFound
	}
	return m, nil
}

func (s *fakeStore) FindMemberByCode(_ context.Context, code string) (domain.Member, error) {
	for _, m := range s.members {
		if m.ReferralCode == code {
			return m, nil
		}
	}
	return domain.Member{}, domain.ErrUnknownReferralCode
}

func (s *fakeStore) FindMemberByEmail(_ context.Context, email string) (domain.Member, error) {
	for _, m := range s.members {
		if m.Email == email {
			return m, nil
		}
	}
	return domain.Member{}, domain.ErrMemberNotFound
}

func (s *fakeStore) DirectRecruits(_ context.Context, memberID string) ([]domain.MemberSummary, error) {
	var out []domain.MemberSummary
	for _, m := range s.members {
		if m.SponsorID == memberID {
			out = append(out, domain.MemberSummary{ID: m.ID, Name: m.Name})
		}
	}
	return out, nil
}

func (s *fakeStore) IndirectRecruits(_ context.Context, memberID string) ([]domain.MemberSummary, error) {
	direct, _ := s.DirectRecruits(context.Background(), memberID)
	var out []domain.MemberSummary
	for _, d := range direct {
		level2, _ := s.DirectRecruits(context.Background(), d.ID)
		out = append(out, level2...)
	}
	return out, nil
}

func (s *fakeStore) RecordPurchase(_ context.Context, p domain.Purchase, earnings []domain.Earning) error {
	s.purchases = append(s.purchases, p)
	s.earnings = append(s.earnings, earnings...)
	return nil
}

func (s *fakeStore) ListPurchasesByMember(_ context.Context, memberID string, _ domain.Window) ([]domain.Purchase, error) {
	var out []domain.Purchase
	for _, p := range s.purchases {
		if p.MemberID == memberID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) CountEligiblePurchases(_ context.Context, memberID string) (int64, error) {
	var total int64
	for _, p := range s.purchases {
		if p.MemberID == memberID && p.Eligible() {
			total++
		}
	}
	return total, nil
}

func (s *fakeStore) ListEarningsByBeneficiary(_ context.Context, _ string, _ domain.Window) ([]domain.EarningRecord, error) {
	return s.records, nil
}

func (s *fakeStore) ListMembers(context.Context) ([]domain.MemberSummary, error) {
	return s.summaries, nil
}

func (s *fakeStore) ListPurchasesInWindow(_ context.Context, w domain.Window) ([]domain.Purchase, error) {
	var out []domain.Purchase
	for _, p := range s.purchases {
		if w.Contains(p.Timestamp) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) ListEarningsInWindow(_ context.Context, w domain.Window) ([]domain.Earning, error) {
	var out []domain.Earning
	for _, e := range s.earnings {
		if w.Contains(e.Timestamp) {
			out = append(out, e)
		}
	}
	return out, nil
}

func newTestRouter(store *fakeStore) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	referrals := referral.NewService(store, "https://kollege.com", 5, 0)
	referrals.WithCodeGenerator(func() (string, error) { return "FRESH123", nil })
	commissions := commission.NewService(store, nil, 0)
	analyticsSvc := analytics.NewService(store)

	api := NewAPIHandlers(logger, referrals, commissions, analyticsSvc)
	return NewRouter(logger, RouterDependencies{API: api})
}

func chainStore() *fakeStore {
	return newFakeStore(
		domain.Member{ID: "MEM-A", Name: "Alice", Email: "alice@example.com", ReferralCode: "ALICE001", Level: 1, RecruitCount: 1},
		domain.Member{ID: "MEM-B", Name: "Bella", Email: "bella@example.com", ReferralCode: "BELLA001", SponsorID: "MEM-A", Level: 2, RecruitCount: 1},
		domain.Member{ID: "MEM-C", Name: "Carol", Email: "carol@example.com", ReferralCode: "CAROL001", SponsorID: "MEM-B", Level: 3},
	)
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	payload := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("invalid JSON response: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, payload
}

func TestHandlers_RegisterMember(t *testing.T) {
	router := newTestRouter(chainStore())

	rec, payload := doJSON(t, router, http.MethodPost, "/members",
		`{"name":"Dave","email":"dave@example.com","sponsorCode":"ALICE001"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if payload["referralCode"] != "FRESH123" {
		t.Errorf("expected assigned code, got %v", payload["referralCode"])
	}
	if payload["referralLink"] != "https://kollege.com/ref/FRESH123" {
		t.Errorf("unexpected referral link %v", payload["referralLink"])
	}
	if payload["sponsorId"] != "MEM-A" {
		t.Errorf("expected sponsor MEM-A, got %v", payload["sponsorId"])
	}
	if payload["level"] != float64(2) {
		t.Errorf("expected level 2, got %v", payload["level"])
	}
}

func TestHandlers_RegisterMember_UnknownSponsor(t *testing.T) {
	router := newTestRouter(chainStore())

	rec, _ := doJSON(t, router, http.MethodPost, "/members",
		`{"name":"Dave","email":"dave@example.com","sponsorCode":"NOPE0001"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandlers_RegisterMember_DuplicateEmail(t *testing.T) {
	router := newTestRouter(chainStore())

	rec, _ := doJSON(t, router, http.MethodPost, "/members",
		`{"name":"Alice Again","email":"alice@example.com"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandlers_ProcessPurchase(t *testing.T) {
	store := chainStore()
	router := newTestRouter(store)

	rec, payload := doJSON(t, router, http.MethodPost, "/purchases",
		`{"memberId":"MEM-C","amount":2000}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	commissions, ok := payload["commissions"].([]any)
	if !ok || len(commissions) != 2 {
		t.Fatalf("expected 2 commissions, got %v", payload["commissions"])
	}
	first := commissions[0].(map[string]any)
	if first["beneficiaryId"] != "MEM-B" || first["amount"] != float64(100) {
		t.Errorf("unexpected direct commission: %v", first)
	}
	second := commissions[1].(map[string]any)
	if second["beneficiaryId"] != "MEM-A" || second["amount"] != float64(20) {
		t.Errorf("unexpected indirect commission: %v", second)
	}
	if len(store.purchases) != 1 {
		t.Errorf("expected stored purchase, got %d", len(store.purchases))
	}
}

func TestHandlers_ProcessPurchase_InvalidAmount(t *testing.T) {
	router := newTestRouter(chainStore())

	rec, _ := doJSON(t, router, http.MethodPost, "/purchases",
		`{"memberId":"MEM-C","amount":-5}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandlers_GetTree(t *testing.T) {
	router := newTestRouter(chainStore())

	rec, payload := doJSON(t, router, http.MethodGet, "/members/MEM-A/tree", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	direct, _ := payload["directRecruits"].([]any)
	indirect, _ := payload["indirectRecruits"].([]any)
	if len(direct) != 1 || len(indirect) != 1 {
		t.Errorf("expected 1 direct and 1 indirect recruit, got %d and %d", len(direct), len(indirect))
	}
}

func TestHandlers_GetTree_UnknownMember(t *testing.T) {
	router := newTestRouter(chainStore())

	rec, _ := doJSON(t, router, http.MethodGet, "/members/MEM-404/tree", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandlers_ReissueCode(t *testing.T) {
	router := newTestRouter(chainStore())

	rec, payload := doJSON(t, router, http.MethodPost, "/members/MEM-A/referral-code", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if payload["code"] != "FRESH123" {
		t.Errorf("expected reissued code, got %v", payload["code"])
	}
	if payload["link"] != "https://kollege.com/ref/FRESH123" {
		t.Errorf("unexpected link %v", payload["link"])
	}
}

func TestHandlers_ProfitReport(t *testing.T) {
	store := chainStore()
	ts := time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC)
	store.purchases = []domain.Purchase{
		{ID: "PUR-1", MemberID: "MEM-C", Amount: 15000, Timestamp: ts},
		{ID: "PUR-2", MemberID: "MEM-C", Amount: 10000, Timestamp: ts},
	}
	store.earnings = []domain.Earning{
		{Amount: 2000, Level: 1, Timestamp: ts},
		{Amount: 500, Level: 2, Timestamp: ts},
	}
	router := newTestRouter(store)

	rec, payload := doJSON(t, router, http.MethodGet, "/analytics/profit?start=2025-03-01&end=2025-03-31", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	summary := payload["summary"].(map[string]any)
	if summary["netProfit"] != float64(21000) {
		t.Errorf("expected net profit 21000, got %v", summary["netProfit"])
	}
	if summary["profitMargin"] != float64(84) {
		t.Errorf("expected margin 84, got %v", summary["profitMargin"])
	}
}

func TestHandlers_ProfitReport_InvalidRange(t *testing.T) {
	router := newTestRouter(chainStore())

	rec, _ := doJSON(t, router, http.MethodGet, "/analytics/profit?start=2025-03-31&end=2025-03-01", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandlers_ReferralAnalytics(t *testing.T) {
	store := chainStore()
	store.summaries = []domain.MemberSummary{
		{ID: "MEM-A", Name: "Alice", RecruitCount: 1, TotalEarnings: 20, CreatedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "MEM-B", Name: "Bella", RecruitCount: 1, TotalEarnings: 100, Sponsored: true, CreatedAt: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)},
		{ID: "MEM-C", Name: "Carol", Sponsored: true, CreatedAt: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)},
	}
	router := newTestRouter(store)

	rec, payload := doJSON(t, router, http.MethodGet, "/analytics/referrals?start=2025-03-01&end=2025-03-05", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	overview := payload["overview"].(map[string]any)
	if overview["totalReferrals"] != float64(2) {
		t.Errorf("expected 2 referrals, got %v", overview["totalReferrals"])
	}
	performers := payload["topPerformers"].([]any)
	if len(performers) != 2 {
		t.Fatalf("expected 2 performers, got %d", len(performers))
	}
}

func TestHandlers_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(chainStore())

	rec, _ := doJSON(t, router, http.MethodDelete, "/members", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodPost {
		t.Errorf("expected Allow header POST, got %q", allow)
	}
}
