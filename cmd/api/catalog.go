package main

import (
	"time"

	domain "github.com/hanko-field/ordercore/internal/domain"
)

// demoCatalog seeds the in-memory backend.
func demoCatalog(now time.Time) []domain.Product {
	return []domain.Product{
		{ID: "prod-round-seal", Name: "Round seal, boxwood 15mm", Image: "/images/round-seal.png", Price: 4200, Currency: "JPY", CountInStock: 25, UpdatedAt: now},
		{ID: "prod-square-seal", Name: "Square seal, black buffalo 18mm", Image: "/images/square-seal.png", Price: 12800, Currency: "JPY", CountInStock: 10, UpdatedAt: now},
		{ID: "prod-ink-pad", Name: "Vermilion ink pad", Image: "/images/ink-pad.png", Price: 1500, Currency: "JPY", CountInStock: 100, UpdatedAt: now},
		{ID: "prod-case", Name: "Lacquer seal case", Image: "/images/case.png", Price: 2600, Currency: "JPY", CountInStock: 3, UpdatedAt: now},
	}
}
