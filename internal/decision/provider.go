// Package decision turns a negotiation context into a structured offer
// decision. Two backends implement the same contract: a reasoning backend
// that delegates to an external model, and a deterministic negotiator used
// whenever the reasoning backend is unavailable. Both pass through the same
// clamp step, so callers cannot tell them apart except via Decision.Source.
package decision

import (
	"context"

	"github.com/anthropics/negotiation-engine/internal/domain"
)

// Provider is the pluggable negotiation brain.
type Provider interface {
	Negotiate(ctx context.Context, dc domain.DecisionContext) (domain.Decision, error)
}
