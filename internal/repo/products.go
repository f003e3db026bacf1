package repo

import (
	"context"
	"fmt"
)

const productColumns = `id, name, credits, price, currency, active, created_at`

// ListActiveCreditProducts returns purchasable credit packs, cheapest first.
func (r *PostgresRepository) ListActiveCreditProducts(ctx context.Context) ([]CreditProduct, error) {
	const q = `
SELECT ` + productColumns + `
FROM credit_products
WHERE active
ORDER BY price ASC;`

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list credit products: %w", err)
	}
	defer rows.Close()

	var products []CreditProduct
	for rows.Next() {
		var p CreditProduct
		if err := rows.Scan(&p.ID, &p.Name, &p.Credits, &p.Price, &p.Currency, &p.Active, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credit products: %w", err)
	}
	return products, nil
}

// CheapestActiveProduct returns the lowest-priced active pack, or nil when
// the catalog is empty.
func (r *PostgresRepository) CheapestActiveProduct(ctx context.Context) (*CreditProduct, error) {
	const q = `
SELECT ` + productColumns + `
FROM credit_products
WHERE active
ORDER BY price ASC
LIMIT 1;`

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("cheapest credit product: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var p CreditProduct
	if err := rows.Scan(&p.ID, &p.Name, &p.Credits, &p.Price, &p.Currency, &p.Active, &p.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan credit product: %w", err)
	}
	return &p, nil
}
