package rules

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/anthropics/negotiation-engine/internal/domain"
)

// MySQLProvider reads negotiation rules from a shared MySQL database, for
// deployments where merchandising owns the rule table. It satisfies the same
// Provider contract as SQLiteProvider; the engine cannot tell them apart.
type MySQLProvider struct {
	db *sql.DB
}

// NewMySQLProvider opens a MySQL connection for rule lookups.
func NewMySQLProvider(dsn string) (*MySQLProvider, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(10)
	return &MySQLProvider{db: db}, nil
}

// GetRule returns the rule for a SKU, or (nil, nil) if none is configured.
func (p *MySQLProvider) GetRule(ctx context.Context, sku string) (*domain.Rule, error) {
	const q = `SELECT sku, base_price, min_price, max_discount_pct, max_rounds, stock_level, segment_rules_json, perks_json, bundles_json, enabled
FROM negotiation_rules WHERE sku = ?`
	return scanRule(p.db.QueryRowContext(ctx, q, sku))
}

// Close releases the underlying connection pool.
func (p *MySQLProvider) Close() error {
	return p.db.Close()
}
