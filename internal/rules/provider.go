// Package rules resolves per-SKU negotiation configuration and the narrow
// collaborator lookups the engine consumes (catalog, feature flags,
// purchase history). The engine never branches on which storage technology
// backs a Provider.
package rules

import (
	"context"

	"github.com/anthropics/negotiation-engine/internal/domain"
)

// Provider returns the negotiation rule for a SKU.
// A missing rule is (nil, nil), not an error.
type Provider interface {
	GetRule(ctx context.Context, sku string) (*domain.Rule, error)
}

// Catalog is the read-only product lookup.
type Catalog interface {
	GetProduct(ctx context.Context, sku string) (*domain.Product, error)
}

// FeatureFlags gates negotiation per user, SKU, and segment.
type FeatureFlags interface {
	IsEnabled(ctx context.Context, userID, sku string, segment domain.Segment) bool
}

// PurchaseHistory resolves a buyer's segment. Best-effort: callers fall back
// to a configured default segment on error.
type PurchaseHistory interface {
	SegmentFor(ctx context.Context, userID string) (domain.Segment, error)
}

// defaultMaxDiscountPct is the conservative ceiling used when a SKU has no
// configured rule and the rule is synthesized from the catalog price.
const defaultMaxDiscountPct = 10.0

// SynthesizeDefault builds a conservative rule from a catalog product.
// Used when no rule is configured for a SKU: negotiation stays possible but
// the floor sits close to the list price.
func SynthesizeDefault(p *domain.Product, maxRounds int) *domain.Rule {
	minPrice := p.Price - int64(float64(p.Price)*defaultMaxDiscountPct/100.0)
	return &domain.Rule{
		SKU:            p.SKU,
		BasePrice:      p.Price,
		MinPrice:       minPrice,
		MaxDiscountPct: defaultMaxDiscountPct,
		MaxRounds:      maxRounds,
		StockLevel:     p.StockLevel,
		SegmentRules:   map[domain.Segment]float64{},
		FallbackPerks:  nil,
		BundlePairs:    nil,
		Enabled:        true,
	}
}

// AllowAllFlags is the default FeatureFlags implementation: negotiation is on
// for everyone. A real deployment plugs in the storefront's flag service.
type AllowAllFlags struct{}

// IsEnabled always reports true.
func (AllowAllFlags) IsEnabled(ctx context.Context, userID, sku string, segment domain.Segment) bool {
	return true
}

// StaticHistory is a PurchaseHistory that returns a fixed segment.
// Used when no purchase-history service is wired.
type StaticHistory struct {
	Segment domain.Segment
}

// SegmentFor returns the configured segment.
func (h StaticHistory) SegmentFor(ctx context.Context, userID string) (domain.Segment, error) {
	return h.Segment, nil
}
