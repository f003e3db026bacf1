package convo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bot-gambar/internal/repo"
)

const offeringsCacheKey = "offerings:active"

// activeProducts loads the offerings catalog, preferring the Redis cache.
func (e *Engine) activeProducts(ctx context.Context) ([]repo.CreditProduct, error) {
	if e.cache != nil {
		var cached []repo.CreditProduct
		found, err := e.cache.GetJSON(ctx, offeringsCacheKey, &cached)
		if err != nil {
			e.logger.Warn("offerings cache read failed", "error", err)
		} else if found {
			return cached, nil
		}
	}

	products, err := e.repo.ListActiveCreditProducts(ctx)
	if err != nil {
		return nil, err
	}

	if e.cache != nil && len(products) > 0 {
		ttl := e.cfg.OfferingsTTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		if err := e.cache.SetJSON(ctx, offeringsCacheKey, products, ttl); err != nil {
			e.logger.Warn("offerings cache write failed", "error", err)
		}
	}
	return products, nil
}

// RefreshOfferings drops the cached catalog and re-primes it from the store.
// Exposed through the admin HTTP endpoint.
func (e *Engine) RefreshOfferings(ctx context.Context) (int, error) {
	if e.cache != nil {
		if err := e.cache.Delete(ctx, offeringsCacheKey); err != nil {
			e.logger.Warn("offerings cache invalidation failed", "error", err)
		}
	}
	products, err := e.activeProducts(ctx)
	if err != nil {
		return 0, err
	}
	return len(products), nil
}

func formatOfferings(products []repo.CreditProduct) string {
	if len(products) == 0 {
		return "No credit packs are available right now, please check back later."
	}

	var builder strings.Builder
	builder.WriteString("Credit packs:\n")
	for _, p := range products {
		builder.WriteString(fmt.Sprintf("- %s: %d credits for %s\n", p.Name, p.Credits, formatPrice(p)))
	}
	builder.WriteString("\nVisit the shop link in your purchase receipt or reply with the pack name to get a checkout link.")
	return strings.TrimSpace(builder.String())
}

func formatPrice(p repo.CreditProduct) string {
	switch strings.ToUpper(p.Currency) {
	case "USD":
		return fmt.Sprintf("$%.2f", float64(p.Price)/100)
	case "EUR":
		return fmt.Sprintf("€%.2f", float64(p.Price)/100)
	default:
		return fmt.Sprintf("%.2f %s", float64(p.Price)/100, p.Currency)
	}
}
