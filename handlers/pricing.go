package handlers

import (
	"bookmart/config"
	"math"
)

// totals are in minor currency units.
type totals struct {
	Subtotal    int64 `json:"subtotal"`
	ShippingFee int64 `json:"shippingFee"`
	Tax         int64 `json:"tax"`
	Total       int64 `json:"total"`
}

// calculateTotals charges the flat shipping fee unless the subtotal reaches
// the free shipping threshold. Tax is applied to the subtotal only.
func calculateTotals(shop config.ShopConfig, subtotal int64) totals {
	t := totals{Subtotal: subtotal}
	if subtotal == 0 {
		return t
	}

	t.ShippingFee = shop.ShippingFee
	if shop.FreeShippingThreshold > 0 && subtotal >= shop.FreeShippingThreshold {
		t.ShippingFee = 0
	}
	t.Tax = int64(math.Round(float64(subtotal) * shop.TaxRate))
	t.Total = t.Subtotal + t.ShippingFee + t.Tax
	return t
}
