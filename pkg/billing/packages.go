package billing

import (
	"strings"

	"github.com/jordanlanch/companion-api/pkg/models"
	"github.com/shopspring/decimal"
)

// Package is a bundle of tokens sold through checkout
type Package struct {
	ID     string
	Label  string
	Tokens int64
	Price  decimal.Decimal // major currency units
}

// PriceCents returns the price in minor units
func (p Package) PriceCents() int64 {
	return p.Price.Shift(2).Round(0).IntPart()
}

// DefaultPackages is the catalog sold when none is configured
var DefaultPackages = []Package{
	{ID: "starter", Label: "Starter pack", Tokens: 100, Price: decimal.RequireFromString("4.99")},
	{ID: "plus", Label: "Plus pack", Tokens: 550, Price: decimal.RequireFromString("19.99")},
	{ID: "pro", Label: "Pro pack", Tokens: 1500, Price: decimal.RequireFromString("49.99")},
}

// Package returns the catalog entry for id
func (s *Service) Package(id string) (Package, bool) {
	for _, p := range s.packages {
		if p.ID == id {
			return p, true
		}
	}
	return Package{}, false
}

// Packages lists the catalog in display form
func (s *Service) Packages() []models.PackageInfo {
	list := make([]models.PackageInfo, 0, len(s.packages))
	for _, p := range s.packages {
		list = append(list, models.PackageInfo{
			ID:         p.ID,
			Label:      p.Label,
			Tokens:     p.Tokens,
			PriceCents: p.PriceCents(),
			Price:      p.Price.StringFixed(2),
			Currency:   strings.ToUpper(s.currency()),
		})
	}
	return list
}
