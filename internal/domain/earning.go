package domain

import "time"

// Commission levels. Level 1 credits the purchaser's direct sponsor, level 2
// the sponsor's sponsor. Nothing deeper is ever credited.
const (
	LevelDirect   = 1
	LevelIndirect = 2
)

// Earning is an immutable commission entry crediting a beneficiary for an
// eligible purchase made by a descendant. Created exactly once per
// (purchase, level) pair, never updated or deleted.
type Earning struct {
	ID            string
	BeneficiaryID string
	SourceID      string // whose purchase generated the commission
	PurchaseID    string
	Amount        float64
	Level         int
	Timestamp     time.Time
}

// EarningRecord is the beneficiary-side view of an earning, enriched with
// the source member's name and the originating purchase amount for history
// listings.
type EarningRecord struct {
	ID             string
	Amount         float64
	Level          int
	Timestamp      time.Time
	SourceID       string
	SourceName     string
	PurchaseAmount float64
}
