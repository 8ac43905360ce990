package generator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/kollege/referralnet/internal/domain"
)

// MemberSeed describes one member to enroll. Sponsor is the index of the
// sponsoring member earlier in the slice, or -1 for a tree root.
type MemberSeed struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Sponsor int    `json:"sponsor"`
}

// PurchaseSeed describes one purchase by member index.
type PurchaseSeed struct {
	Member int     `json:"member"`
	Amount float64 `json:"amount"`
}

// Dataset contains the generated members and purchases.
type Dataset struct {
	Members   []MemberSeed   `json:"members"`
	Purchases []PurchaseSeed `json:"purchases"`
}

// Generator produces synthetic referral networks honoring the fan-out limit.
type Generator struct {
	cfg           Config
	rand          *rand.Rand
	nameFragments nameFragments
}

// New returns a configured Generator instance.
func New(cfg Config) *Generator {
	if cfg.NumMembers <= 0 {
		cfg.NumMembers = DefaultConfig().NumMembers
	}
	if cfg.NumPurchases < 0 {
		cfg.NumPurchases = DefaultConfig().NumPurchases
	}
	if cfg.RootChance <= 0 {
		cfg.RootChance = DefaultConfig().RootChance
	}
	if cfg.EligibleChance <= 0 {
		cfg.EligibleChance = DefaultConfig().EligibleChance
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	return &Generator{
		cfg:           cfg,
		rand:          rand.New(rand.NewSource(cfg.Seed)),
		nameFragments: defaultNameFragments(),
	}
}

// Generate synthesises a referral network and purchase stream. Sponsors
// always precede their recruits, so the dataset can be enrolled in slice
// order. It respects context cancellation.
func (g *Generator) Generate(ctx context.Context) (Dataset, error) {
	members := make([]MemberSeed, g.cfg.NumMembers)
	recruitCounts := make([]int, g.cfg.NumMembers)

	for i := 0; i < g.cfg.NumMembers; i++ {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}

		sponsor := -1
		if i > 0 && g.rand.Float64() >= g.cfg.RootChance {
			sponsor = g.pickSponsor(recruitCounts[:i])
		}
		if sponsor >= 0 {
			recruitCounts[sponsor]++
		}

		members[i] = MemberSeed{
			Name:    g.randomFullName(),
			Email:   g.randomEmail(i),
			Sponsor: sponsor,
		}
	}

	purchases := make([]PurchaseSeed, g.cfg.NumPurchases)
	for i := 0; i < g.cfg.NumPurchases; i++ {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		purchases[i] = PurchaseSeed{
			Member: g.rand.Intn(g.cfg.NumMembers),
			Amount: g.randomAmount(),
		}
	}

	return Dataset{Members: members, Purchases: purchases}, nil
}

// pickSponsor chooses a random earlier member with a free recruit slot.
// Returns -1 when every candidate is full.
func (g *Generator) pickSponsor(recruitCounts []int) int {
	for attempt := 0; attempt < 8; attempt++ {
		idx := g.rand.Intn(len(recruitCounts))
		if recruitCounts[idx] < domain.MaxDirectRecruits {
			return idx
		}
	}
	for idx, count := range recruitCounts {
		if count < domain.MaxDirectRecruits {
			return idx
		}
	}
	return -1
}

func (g *Generator) randomAmount() float64 {
	var amount float64
	if g.rand.Float64() < g.cfg.EligibleChance {
		amount = domain.EligibleAmount + g.rand.Float64()*4000
	} else {
		amount = 50 + g.rand.Float64()*(domain.EligibleAmount-50.01)
	}
	return float64(int(amount*100)) / 100
}

func (g *Generator) randomFullName() string {
	return fmt.Sprintf("%s %s",
		g.nameFragments.first[g.rand.Intn(len(g.nameFragments.first))],
		g.nameFragments.last[g.rand.Intn(len(g.nameFragments.last))])
}

// randomEmail embeds the member index so emails stay unique across the set.
func (g *Generator) randomEmail(idx int) string {
	domainName := g.nameFragments.domains[g.rand.Intn(len(g.nameFragments.domains))]
	first := g.nameFragments.first[g.rand.Intn(len(g.nameFragments.first))]
	last := g.nameFragments.last[g.rand.Intn(len(g.nameFragments.last))]
	return fmt.Sprintf("%s.%s.%06d@%s", first, last, idx+1, domainName)
}

type nameFragments struct {
	first   []string
	last    []string
	domains []string
}

func defaultNameFragments() nameFragments {
	return nameFragments{
		first:   []string{"Jane", "John", "Alex", "Priya", "Liu", "Maria", "Omar", "Sofia", "Noah", "Emma", "Lucas", "Mia", "Ava", "Ethan", "Zara"},
		last:    []string{"Doe", "Smith", "Chen", "Patel", "Garcia", "Khan", "Kim", "Ivanov", "Nguyen", "Silva", "Brown", "Lee"},
		domains: []string{"example.com", "mail.com", "kollege.io", "referrals.net", "securepay.org"},
	}
}
