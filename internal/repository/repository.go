package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kollege/referralnet/internal/domain"
	"github.com/kollege/referralnet/internal/graph"
)

// ErrNoRowsWritten indicates a conditional write matched nothing: a
// uniqueness or fan-out guard evaluated false inside the statement. The
// service layer re-reads to classify the cause and retries where appropriate.
var ErrNoRowsWritten = errors.New("conditional write affected no rows")

// Repository persists the referral graph: Member nodes linked by REFERRED
// edges, with Purchase and Earning fact nodes hanging off them.
type Repository struct {
	client graph.Client
}

// New instantiates a Repository backed by the supplied graph client.
func New(client graph.Client) *Repository {
	return &Repository{client: client}
}

// EnsureSchema creates the uniqueness constraints the engine relies on.
// Safe to call repeatedly.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaCyphers {
		if _, err := r.client.ExecuteWrite(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// CreateRootMember creates a member with no sponsor. The email and referral
// code uniqueness checks run inside the statement; a zero-row result means
// one of them failed and is reported as ErrNoRowsWritten.
func (r *Repository) CreateRootMember(ctx context.Context, m domain.Member) error {
	res, err := r.client.ExecuteWrite(ctx, createRootMemberCypher, map[string]any{
		"memberId":     m.ID,
		"name":         m.Name,
		"email":        m.Email,
		"referralCode": m.ReferralCode,
		"now":          formatTime(m.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("create member %s: %w", m.ID, err)
	}
	if len(res.Records) == 0 {
		return ErrNoRowsWritten
	}
	return nil
}

// CreateSponsoredMember creates a member under the sponsor that owns
// sponsorCode and links the REFERRED edge, re-checking the fan-out limit and
// the uniqueness guards atomically. Returns the sponsor id and assigned level.
func (r *Repository) CreateSponsoredMember(ctx context.Context, m domain.Member, sponsorCode string) (sponsorID string, level int, err error) {
	res, err := r.client.ExecuteWrite(ctx, createSponsoredMemberCypher, map[string]any{
		"memberId":     m.ID,
		"name":         m.Name,
		"email":        m.Email,
		"referralCode": m.ReferralCode,
		"sponsorCode":  sponsorCode,
		"maxRecruits":  domain.MaxDirectRecruits,
		"now":          formatTime(m.CreatedAt),
	})
	if err != nil {
		return "", 0, fmt.Errorf("create member %s under code %s: %w", m.ID, sponsorCode, err)
	}
	if len(res.Records) == 0 {
		return "", 0, ErrNoRowsWritten
	}
	record := res.Records[0]
	return toString(record["sponsorId"]), toInt(record["level"]), nil
}

// UpdateReferralCode atomically replaces the member's code, guarding against
// a concurrently issued identical code. The old code stops resolving the
// moment the statement commits.
func (r *Repository) UpdateReferralCode(ctx context.Context, memberID, code string, now time.Time) error {
	res, err := r.client.ExecuteWrite(ctx, updateReferralCodeCypher, map[string]any{
		"memberId": memberID,
		"code":     code,
		"now":      formatTime(now),
	})
	if err != nil {
		return fmt.Errorf("update referral code for %s: %w", memberID, err)
	}
	if len(res.Records) == 0 {
		return ErrNoRowsWritten
	}
	return nil
}

// FindMemberByID resolves a member by identity key.
func (r *Repository) FindMemberByID(ctx context.Context, memberID string) (domain.Member, error) {
	return r.findMember(ctx, findMemberByIDCypher, map[string]any{"memberId": memberID}, domain.ErrMemberNotFound)
}

// FindMemberByCode resolves a member by referral code.
func (r *Repository) FindMemberByCode(ctx context.Context, code string) (domain.Member, error) {
	return r.findMember(ctx, findMemberByCodeCypher, map[string]any{"code": code}, domain.ErrUnknownReferralCode)
}

// FindMemberByEmail resolves a member by email.
func (r *Repository) FindMemberByEmail(ctx context.Context, email string) (domain.Member, error) {
	return r.findMember(ctx, findMemberByEmailCypher, map[string]any{"email": email}, domain.ErrMemberNotFound)
}

func (r *Repository) findMember(ctx context.Context, cypher string, params map[string]any, notFound error) (domain.Member, error) {
	res, err := r.client.ExecuteRead(ctx, cypher, params)
	if err != nil {
		return domain.Member{}, fmt.Errorf("find member: %w", err)
	}
	if len(res.Records) == 0 {
		return domain.Member{}, notFound
	}
	return memberFromRecord(res.Records[0]), nil
}

// DirectRecruits returns the members directly sponsored by memberID.
func (r *Repository) DirectRecruits(ctx context.Context, memberID string) ([]domain.MemberSummary, error) {
	res, err := r.client.ExecuteRead(ctx, directRecruitsCypher, map[string]any{"memberId": memberID})
	if err != nil {
		return nil, fmt.Errorf("direct recruits of %s: %w", memberID, err)
	}
	return summariesFromRecords(res.Records), nil
}

// IndirectRecruits returns the level-2 descendants of memberID: the direct
// recruits of its direct recruits. Deeper levels are never computed.
func (r *Repository) IndirectRecruits(ctx context.Context, memberID string) ([]domain.MemberSummary, error) {
	res, err := r.client.ExecuteRead(ctx, indirectRecruitsCypher, map[string]any{"memberId": memberID})
	if err != nil {
		return nil, fmt.Errorf("indirect recruits of %s: %w", memberID, err)
	}
	return summariesFromRecords(res.Records), nil
}

// ListMembers returns a summary of every member, for the analytics
// aggregator. Derived fields (recruit count, sponsored flag) are recomputed
// from the adjacency on every call rather than cached.
func (r *Repository) ListMembers(ctx context.Context) ([]domain.MemberSummary, error) {
	res, err := r.client.ExecuteRead(ctx, listMembersCypher, nil)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return summariesFromRecords(res.Records), nil
}

// RecordPurchase writes the purchase together with its commission entries and
// the beneficiaries' balance increments as one statement, so the whole unit
// commits atomically or not at all. Beneficiary resolution happens in the
// service layer; sponsor links are write-once, so the chain read there cannot
// go stale. A zero-row result means the buyer vanished between read and write.
func (r *Repository) RecordPurchase(ctx context.Context, p domain.Purchase, earnings []domain.Earning) error {
	entries := make([]map[string]any, 0, len(earnings))
	for _, e := range earnings {
		entries = append(entries, map[string]any{
			"earningId":     e.ID,
			"beneficiaryId": e.BeneficiaryID,
			"amount":        e.Amount,
			"level":         e.Level,
		})
	}

	res, err := r.client.ExecuteWrite(ctx, recordPurchaseCypher, map[string]any{
		"memberId":   p.MemberID,
		"purchaseId": p.ID,
		"amount":     p.Amount,
		"status":     p.Status,
		"ts":         formatTime(p.Timestamp),
		"earnings":   entries,
	})
	if err != nil {
		return fmt.Errorf("record purchase %s: %w", p.ID, err)
	}
	if len(res.Records) == 0 {
		return ErrNoRowsWritten
	}
	return nil
}

// ListPurchasesByMember returns the member's purchases, newest first,
// optionally bounded to a window.
func (r *Repository) ListPurchasesByMember(ctx context.Context, memberID string, w domain.Window) ([]domain.Purchase, error) {
	res, err := r.client.ExecuteRead(ctx, listMemberPurchasesCypher, map[string]any{
		"memberId": memberID,
		"start":    formatTime(w.Start),
		"end":      formatTime(w.End),
	})
	if err != nil {
		return nil, fmt.Errorf("list purchases of %s: %w", memberID, err)
	}

	purchases := make([]domain.Purchase, 0, len(res.Records))
	for _, record := range res.Records {
		purchases = append(purchases, purchaseFromRecord(record))
	}
	return purchases, nil
}

// CountEligiblePurchases counts the member's purchases at or above the
// commission threshold.
func (r *Repository) CountEligiblePurchases(ctx context.Context, memberID string) (int64, error) {
	res, err := r.client.ExecuteRead(ctx, countEligiblePurchasesCypher, map[string]any{
		"memberId":  memberID,
		"threshold": domain.EligibleAmount,
	})
	if err != nil {
		return 0, fmt.Errorf("count eligible purchases of %s: %w", memberID, err)
	}
	if len(res.Records) == 0 {
		return 0, nil
	}
	return toInt64(res.Records[0]["total"]), nil
}

// ListPurchasesInWindow returns every purchase inside the window, for the
// profit report.
func (r *Repository) ListPurchasesInWindow(ctx context.Context, w domain.Window) ([]domain.Purchase, error) {
	res, err := r.client.ExecuteRead(ctx, listPurchasesInWindowCypher, map[string]any{
		"start": formatTime(w.Start),
		"end":   formatTime(w.End),
	})
	if err != nil {
		return nil, fmt.Errorf("list purchases in window: %w", err)
	}

	purchases := make([]domain.Purchase, 0, len(res.Records))
	for _, record := range res.Records {
		purchases = append(purchases, purchaseFromRecord(record))
	}
	return purchases, nil
}

// ListEarningsInWindow returns every commission entry inside the window.
func (r *Repository) ListEarningsInWindow(ctx context.Context, w domain.Window) ([]domain.Earning, error) {
	res, err := r.client.ExecuteRead(ctx, listEarningsInWindowCypher, map[string]any{
		"start": formatTime(w.Start),
		"end":   formatTime(w.End),
	})
	if err != nil {
		return nil, fmt.Errorf("list earnings in window: %w", err)
	}

	earnings := make([]domain.Earning, 0, len(res.Records))
	for _, record := range res.Records {
		earning := domain.Earning{
			ID:            toString(record["earningId"]),
			BeneficiaryID: toString(record["beneficiaryId"]),
			SourceID:      toString(record["sourceId"]),
			PurchaseID:    toString(record["purchaseId"]),
			Amount:        toFloat64(record["amount"]),
			Level:         toInt(record["level"]),
		}
		if ts := toTimePtr(record["timestamp"]); ts != nil {
			earning.Timestamp = *ts
		}
		earnings = append(earnings, earning)
	}
	return earnings, nil
}

// ListEarningsByBeneficiary returns the member's commission history inside
// the window, newest first, enriched with the source member and the
// originating purchase amount.
func (r *Repository) ListEarningsByBeneficiary(ctx context.Context, memberID string, w domain.Window) ([]domain.EarningRecord, error) {
	res, err := r.client.ExecuteRead(ctx, listBeneficiaryEarningsCypher, map[string]any{
		"memberId": memberID,
		"start":    formatTime(w.Start),
		"end":      formatTime(w.End),
	})
	if err != nil {
		return nil, fmt.Errorf("list earnings of %s: %w", memberID, err)
	}

	records := make([]domain.EarningRecord, 0, len(res.Records))
	for _, record := range res.Records {
		row := domain.EarningRecord{
			ID:             toString(record["earningId"]),
			Amount:         toFloat64(record["amount"]),
			Level:          toInt(record["level"]),
			SourceID:       toString(record["sourceId"]),
			SourceName:     toString(record["sourceName"]),
			PurchaseAmount: toFloat64(record["purchaseAmount"]),
		}
		if ts := toTimePtr(record["timestamp"]); ts != nil {
			row.Timestamp = *ts
		}
		records = append(records, row)
	}
	return records, nil
}

// --- record mapping ---

func memberFromRecord(record graph.Record) domain.Member {
	m := domain.Member{
		ID:               toString(record["memberId"]),
		Name:             toString(record["name"]),
		Email:            toString(record["email"]),
		ReferralCode:     toString(record["referralCode"]),
		SponsorID:        toString(record["sponsorId"]),
		Level:            toInt(record["level"]),
		Active:           toBool(record["active"]),
		RecruitCount:     toInt(record["recruitCount"]),
		DirectEarnings:   toFloat64(record["directEarnings"]),
		IndirectEarnings: toFloat64(record["indirectEarnings"]),
		TotalEarnings:    toFloat64(record["totalEarnings"]),
	}
	if ts := toTimePtr(record["createdAt"]); ts != nil {
		m.CreatedAt = *ts
	}
	if ts := toTimePtr(record["lastActive"]); ts != nil {
		m.LastActive = *ts
	}
	return m
}

func summariesFromRecords(records []graph.Record) []domain.MemberSummary {
	summaries := make([]domain.MemberSummary, 0, len(records))
	for _, record := range records {
		s := domain.MemberSummary{
			ID:            toString(record["memberId"]),
			Name:          toString(record["name"]),
			RecruitCount:  toInt(record["recruitCount"]),
			TotalEarnings: toFloat64(record["totalEarnings"]),
			Sponsored:     toBool(record["sponsored"]),
		}
		if ts := toTimePtr(record["createdAt"]); ts != nil {
			s.CreatedAt = *ts
		}
		summaries = append(summaries, s)
	}
	return summaries
}

func purchaseFromRecord(record graph.Record) domain.Purchase {
	p := domain.Purchase{
		ID:       toString(record["purchaseId"]),
		MemberID: toString(record["memberId"]),
		Amount:   toFloat64(record["amount"]),
		Status:   toString(record["status"]),
	}
	if ts := toTimePtr(record["timestamp"]); ts != nil {
		p.Timestamp = *ts
	}
	return p
}

// --- value coercion ---

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func toString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func toFloat64(val any) float64 {
	switch v := val.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

func toInt(val any) int {
	return int(toInt64(val))
}

func toInt64(val any) int64 {
	switch v := val.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func toBool(val any) bool {
	b, _ := val.(bool)
	return b
}

func toTimePtr(val any) *time.Time {
	switch v := val.(type) {
	case time.Time:
		return &v
	case string:
		if v == "" {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return &parsed
		}
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			return &parsed
		}
	}
	return nil
}

// --- cypher ---

var schemaCyphers = []string{
	`CREATE CONSTRAINT member_id_unique IF NOT EXISTS FOR (m:Member) REQUIRE m.memberId IS UNIQUE`,
	`CREATE CONSTRAINT member_code_unique IF NOT EXISTS FOR (m:Member) REQUIRE m.referralCode IS UNIQUE`,
	`CREATE CONSTRAINT member_email_unique IF NOT EXISTS FOR (m:Member) REQUIRE m.email IS UNIQUE`,
	`CREATE CONSTRAINT purchase_id_unique IF NOT EXISTS FOR (p:Purchase) REQUIRE p.purchaseId IS UNIQUE`,
	`CREATE CONSTRAINT earning_id_unique IF NOT EXISTS FOR (e:Earning) REQUIRE e.earningId IS UNIQUE`,
}

const memberReturnClause = `
RETURN m.memberId AS memberId,
       m.name AS name,
       m.email AS email,
       m.referralCode AS referralCode,
       head([(s:Member)-[:REFERRED]->(m) | s.memberId]) AS sponsorId,
       m.level AS level,
       m.active AS active,
       size([(m)-[:REFERRED]->(r:Member) | r]) AS recruitCount,
       m.directEarnings AS directEarnings,
       m.indirectEarnings AS indirectEarnings,
       m.totalEarnings AS totalEarnings,
       m.createdAt AS createdAt,
       m.lastActive AS lastActive
`

const findMemberByIDCypher = `
MATCH (m:Member {memberId: $memberId})
` + memberReturnClause

const findMemberByCodeCypher = `
MATCH (m:Member {referralCode: $code})
` + memberReturnClause

const findMemberByEmailCypher = `
MATCH (m:Member {email: $email})
` + memberReturnClause

const createRootMemberCypher = `
OPTIONAL MATCH (dupEmail:Member {email: $email})
OPTIONAL MATCH (dupCode:Member {referralCode: $referralCode})
WITH dupEmail, dupCode
WHERE dupEmail IS NULL AND dupCode IS NULL
CREATE (m:Member {
	memberId: $memberId,
	name: $name,
	email: $email,
	referralCode: $referralCode,
	level: 1,
	active: true,
	directEarnings: 0.0,
	indirectEarnings: 0.0,
	totalEarnings: 0.0,
	createdAt: $now,
	lastActive: $now
})
RETURN m.memberId AS memberId
`

const createSponsoredMemberCypher = `
MATCH (s:Member {referralCode: $sponsorCode})
WHERE size([(s)-[:REFERRED]->(r:Member) | r]) < $maxRecruits
OPTIONAL MATCH (dupEmail:Member {email: $email})
OPTIONAL MATCH (dupCode:Member {referralCode: $referralCode})
WITH s, dupEmail, dupCode
WHERE dupEmail IS NULL AND dupCode IS NULL
CREATE (m:Member {
	memberId: $memberId,
	name: $name,
	email: $email,
	referralCode: $referralCode,
	level: s.level + 1,
	active: true,
	directEarnings: 0.0,
	indirectEarnings: 0.0,
	totalEarnings: 0.0,
	createdAt: $now,
	lastActive: $now
})
CREATE (s)-[:REFERRED {at: $now}]->(m)
RETURN m.memberId AS memberId, s.memberId AS sponsorId, m.level AS level
`

const updateReferralCodeCypher = `
MATCH (m:Member {memberId: $memberId})
OPTIONAL MATCH (dup:Member {referralCode: $code})
WITH m, dup
WHERE dup IS NULL
SET m.referralCode = $code,
    m.lastActive = $now
RETURN m.referralCode AS referralCode
`

const directRecruitsCypher = `
MATCH (m:Member {memberId: $memberId})-[:REFERRED]->(r:Member)
RETURN r.memberId AS memberId,
       r.name AS name,
       size([(r)-[:REFERRED]->(x:Member) | x]) AS recruitCount,
       r.totalEarnings AS totalEarnings,
       r.createdAt AS createdAt,
       true AS sponsored
ORDER BY r.createdAt
`

const indirectRecruitsCypher = `
MATCH (m:Member {memberId: $memberId})-[:REFERRED]->(:Member)-[:REFERRED]->(r:Member)
RETURN r.memberId AS memberId,
       r.name AS name,
       size([(r)-[:REFERRED]->(x:Member) | x]) AS recruitCount,
       r.totalEarnings AS totalEarnings,
       r.createdAt AS createdAt,
       true AS sponsored
ORDER BY r.createdAt
`

const listMembersCypher = `
MATCH (m:Member)
RETURN m.memberId AS memberId,
       m.name AS name,
       size([(m)-[:REFERRED]->(r:Member) | r]) AS recruitCount,
       m.totalEarnings AS totalEarnings,
       m.createdAt AS createdAt,
       size([(s:Member)-[:REFERRED]->(m) | s]) > 0 AS sponsored
ORDER BY m.memberId
`

// recordPurchaseCypher is the atomic commission write: the purchase node,
// every commission entry, and the beneficiaries' balance bumps all commit
// in one transaction. The FOREACH MERGE matches existing
// beneficiary nodes; totals move by the entry amount on both the level
// bucket and the running total, preserving total = direct + indirect.
const recordPurchaseCypher = `
MATCH (buyer:Member {memberId: $memberId})
CREATE (p:Purchase {
	purchaseId: $purchaseId,
	amount: $amount,
	status: $status,
	timestamp: $ts
})
CREATE (buyer)-[:MADE]->(p)
FOREACH (entry IN $earnings |
	MERGE (b:Member {memberId: entry.beneficiaryId})
	CREATE (e:Earning {
		earningId: entry.earningId,
		amount: entry.amount,
		level: entry.level,
		timestamp: $ts
	})
	CREATE (b)-[:EARNED]->(e)
	CREATE (e)-[:FROM_MEMBER]->(buyer)
	CREATE (e)-[:FROM_PURCHASE]->(p)
	SET b.directEarnings = b.directEarnings + (CASE WHEN entry.level = 1 THEN entry.amount ELSE 0.0 END),
	    b.indirectEarnings = b.indirectEarnings + (CASE WHEN entry.level = 2 THEN entry.amount ELSE 0.0 END),
	    b.totalEarnings = b.totalEarnings + entry.amount,
	    b.lastActive = $ts
)
RETURN p.purchaseId AS purchaseId
`

const listMemberPurchasesCypher = `
MATCH (m:Member {memberId: $memberId})-[:MADE]->(p:Purchase)
WHERE ($start = "" OR datetime(p.timestamp) >= datetime($start))
  AND ($end = "" OR datetime(p.timestamp) <= datetime($end))
RETURN p.purchaseId AS purchaseId,
       m.memberId AS memberId,
       p.amount AS amount,
       p.status AS status,
       p.timestamp AS timestamp
ORDER BY datetime(p.timestamp) DESC
`

const countEligiblePurchasesCypher = `
MATCH (m:Member {memberId: $memberId})-[:MADE]->(p:Purchase)
WHERE p.amount >= $threshold
RETURN count(p) AS total
`

const listPurchasesInWindowCypher = `
MATCH (m:Member)-[:MADE]->(p:Purchase)
WHERE ($start = "" OR datetime(p.timestamp) >= datetime($start))
  AND ($end = "" OR datetime(p.timestamp) <= datetime($end))
RETURN p.purchaseId AS purchaseId,
       m.memberId AS memberId,
       p.amount AS amount,
       p.status AS status,
       p.timestamp AS timestamp
ORDER BY datetime(p.timestamp)
`

const listEarningsInWindowCypher = `
MATCH (b:Member)-[:EARNED]->(e:Earning)
MATCH (e)-[:FROM_MEMBER]->(src:Member)
MATCH (e)-[:FROM_PURCHASE]->(p:Purchase)
WHERE ($start = "" OR datetime(e.timestamp) >= datetime($start))
  AND ($end = "" OR datetime(e.timestamp) <= datetime($end))
RETURN e.earningId AS earningId,
       b.memberId AS beneficiaryId,
       src.memberId AS sourceId,
       p.purchaseId AS purchaseId,
       e.amount AS amount,
       e.level AS level,
       e.timestamp AS timestamp
ORDER BY datetime(e.timestamp)
`

const listBeneficiaryEarningsCypher = `
MATCH (b:Member {memberId: $memberId})-[:EARNED]->(e:Earning)
MATCH (e)-[:FROM_MEMBER]->(src:Member)
MATCH (e)-[:FROM_PURCHASE]->(p:Purchase)
WHERE ($start = "" OR datetime(e.timestamp) >= datetime($start))
  AND ($end = "" OR datetime(e.timestamp) <= datetime($end))
RETURN e.earningId AS earningId,
       e.amount AS amount,
       e.level AS level,
       e.timestamp AS timestamp,
       src.memberId AS sourceId,
       src.name AS sourceName,
       p.amount AS purchaseAmount
ORDER BY datetime(e.timestamp) DESC
`
