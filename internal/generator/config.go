package generator

// Config drives the synthetic referral network generator.
type Config struct {
	NumMembers     int
	NumPurchases   int
	RootChance     float64 // probability a member starts a fresh tree
	EligibleChance float64 // probability a purchase meets the commission threshold
	Seed           int64
}

// DefaultConfig returns baseline settings producing a realistically shaped
// network: a handful of trees, most purchases below the threshold.
func DefaultConfig() Config {
	return Config{
		NumMembers:     1000,
		NumPurchases:   5000,
		RootChance:     0.05,
		EligibleChance: 0.4,
		Seed:           42,
	}
}
