package purchases

import "github.com/shopspring/decimal"

// ResolvePrice decides what price to record for a receipt.
//
// Without a catalog entry no price is recorded at all. With one, the
// catalog price wins unless it would raise the price past what the client
// reported without the customer having consented to the increase, in which
// case the client-reported price is kept.
func ResolvePrice(catalogPrice, clientPrice *decimal.Decimal, hasCatalogEntry, consented bool) *decimal.Decimal {
	if !hasCatalogEntry {
		return nil
	}
	if catalogPrice == nil {
		return clientPrice
	}
	if clientPrice != nil && catalogPrice.GreaterThan(*clientPrice) && !consented {
		return clientPrice
	}
	return catalogPrice
}
