package domain

import "time"

// MaxDirectRecruits is the fan-out limit: no member may sponsor more than
// this many direct recruits.
const MaxDirectRecruits = 8

// Member models a member node in the referral graph. The sponsor relation is
// kept as an identifier, never as an object reference; the forward adjacency
// (sponsor -> recruits) lives in the graph store.
type Member struct {
	ID               string
	Name             string
	Email            string
	ReferralCode     string
	SponsorID        string // empty for roots
	Level            int    // roots at 1, each hop below adds one
	Active           bool
	RecruitCount     int // direct recruits only
	DirectEarnings   float64
	IndirectEarnings float64
	TotalEarnings    float64
	CreatedAt        time.Time
	LastActive       time.Time
}

// HasSponsor reports whether the member was registered under a referral code.
func (m Member) HasSponsor() bool {
	return m.SponsorID != ""
}

// CanAddRecruit reports whether the member has a free direct-recruit slot.
func (m Member) CanAddRecruit() bool {
	return m.RecruitCount < MaxDirectRecruits
}

// MemberSummary is the lightweight member view returned by tree and
// analytics queries.
type MemberSummary struct {
	ID            string
	Name          string
	RecruitCount  int
	TotalEarnings float64
	Sponsored     bool
	CreatedAt     time.Time
}
