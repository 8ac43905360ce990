package server

import (
	"context"
	"fmt"

	"github.com/kollege/referralnet/internal/graph"
)

// HealthService defines behaviour for readiness probes.
type HealthService interface {
	Probe(ctx context.Context) error
}

// GraphHealthService reports the API healthy only while the referral graph
// is reachable.
type GraphHealthService struct {
	Client graph.Client
}

// Probe implements the HealthService interface.
func (s GraphHealthService) Probe(ctx context.Context) error {
	if s.Client == nil {
		return nil
	}
	if err := s.Client.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("graph connectivity: %w", err)
	}
	return nil
}
