package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/anthropics/negotiation-engine/internal/domain"
)

// SQLiteProvider reads negotiation rules from the engine's own SQLite store.
type SQLiteProvider struct {
	DB *sql.DB
}

// GetRule returns the rule for a SKU, or (nil, nil) if none is configured.
func (p *SQLiteProvider) GetRule(ctx context.Context, sku string) (*domain.Rule, error) {
	const q = `SELECT sku, base_price, min_price, max_discount_pct, max_rounds, stock_level, segment_rules_json, perks_json, bundles_json, enabled
FROM negotiation_rules WHERE sku = ?`
	return scanRule(p.DB.QueryRowContext(ctx, q, sku))
}

// UpsertRule writes a rule row, replacing any existing rule for the SKU.
func (p *SQLiteProvider) UpsertRule(ctx context.Context, r domain.Rule) error {
	segments, err := json.Marshal(r.SegmentRules)
	if err != nil {
		return fmt.Errorf("marshal segment rules: %w", err)
	}
	perks, err := json.Marshal(r.FallbackPerks)
	if err != nil {
		return fmt.Errorf("marshal perks: %w", err)
	}
	bundles, err := json.Marshal(r.BundlePairs)
	if err != nil {
		return fmt.Errorf("marshal bundles: %w", err)
	}

	const q = `INSERT OR REPLACE INTO negotiation_rules (sku, base_price, min_price, max_discount_pct, max_rounds, stock_level, segment_rules_json, perks_json, bundles_json, enabled)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	enabled := 0
	if r.Enabled {
		enabled = 1
	}
	_, err = p.DB.ExecContext(ctx, q, r.SKU, r.BasePrice, r.MinPrice, r.MaxDiscountPct,
		r.MaxRounds, r.StockLevel, string(segments), string(perks), string(bundles), enabled)
	if err != nil {
		return fmt.Errorf("upsert rule: %w", err)
	}
	return nil
}

// SQLiteCatalog reads the local product table.
type SQLiteCatalog struct {
	DB *sql.DB
}

// GetProduct returns the catalog view of a SKU, or (nil, nil) if unknown.
func (c *SQLiteCatalog) GetProduct(ctx context.Context, sku string) (*domain.Product, error) {
	const q = `SELECT sku, name, price, stock_level, on_clearance FROM products WHERE sku = ?`
	row := c.DB.QueryRowContext(ctx, q, sku)

	var p domain.Product
	var clearance int
	err := row.Scan(&p.SKU, &p.Name, &p.Price, &p.StockLevel, &clearance)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	p.OnClearance = clearance != 0
	return &p, nil
}

// UpsertProduct writes a product row, replacing any existing one.
func (c *SQLiteCatalog) UpsertProduct(ctx context.Context, p domain.Product) error {
	const q = `INSERT OR REPLACE INTO products (sku, name, price, stock_level, on_clearance) VALUES (?, ?, ?, ?, ?)`
	clearance := 0
	if p.OnClearance {
		clearance = 1
	}
	_, err := c.DB.ExecContext(ctx, q, p.SKU, p.Name, p.Price, p.StockLevel, clearance)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// scanRule decodes one negotiation_rules row. Shared by the SQLite and MySQL
// providers, whose tables carry identical columns.
func scanRule(row *sql.Row) (*domain.Rule, error) {
	var r domain.Rule
	var segmentsJSON, perksJSON, bundlesJSON string
	var enabled int
	err := row.Scan(&r.SKU, &r.BasePrice, &r.MinPrice, &r.MaxDiscountPct, &r.MaxRounds,
		&r.StockLevel, &segmentsJSON, &perksJSON, &bundlesJSON, &enabled)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get rule: %w", err)
	}
	if err := json.Unmarshal([]byte(segmentsJSON), &r.SegmentRules); err != nil {
		return nil, fmt.Errorf("unmarshal segment rules: %w", err)
	}
	if err := json.Unmarshal([]byte(perksJSON), &r.FallbackPerks); err != nil {
		return nil, fmt.Errorf("unmarshal perks: %w", err)
	}
	if err := json.Unmarshal([]byte(bundlesJSON), &r.BundlePairs); err != nil {
		return nil, fmt.Errorf("unmarshal bundles: %w", err)
	}
	r.Enabled = enabled != 0
	return &r, nil
}
