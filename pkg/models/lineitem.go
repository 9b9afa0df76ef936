package models

// PriceKind distinguishes whether LineItem.RawPrice is a per-unit price or
// the line's total.
type PriceKind string

const (
	PriceKindPerUnit PriceKind = "per_unit"
	PriceKindTotal   PriceKind = "total"
)

// BusinessLine classifies a line item's product category. Unclassified
// lines leave this empty rather than guessing.
type BusinessLine string

const (
	BusinessLineSignage   BusinessLine = "signage"
	BusinessLinePrinting  BusinessLine = "printing"
	BusinessLineEngraving BusinessLine = "engraving"
)

// LineItem is the shared shape of a line-item row, used for both the
// append-only master table and the mutable current projection — the two
// tables carry identical columns, only the write policy differs (§3).
type LineItem struct {
	CardID    string `bigquery:"card_id"`
	LineIndex int    `bigquery:"line_index"` // 1-based, contiguous within a card

	Quantity     float64      `bigquery:"quantity"`
	RawPrice     float64      `bigquery:"raw_price"`
	PriceKind    PriceKind    `bigquery:"price_kind"`
	UnitPrice    float64      `bigquery:"unit_price"`
	TotalRevenue float64      `bigquery:"total_revenue"`
	Description  string       `bigquery:"description"`
	BusinessLine BusinessLine `bigquery:"business_line"`
	Material     string       `bigquery:"material"`
	Dimensions   string       `bigquery:"dimensions"`
}

// DerivePricing fills UnitPrice and TotalRevenue from RawPrice, PriceKind,
// and Quantity per §4.C's numerical post-processing rule. It mutates li in
// place and also returns it for chaining.
func (li *LineItem) DerivePricing() *LineItem {
	switch li.PriceKind {
	case PriceKindPerUnit:
		li.UnitPrice = li.RawPrice
		li.TotalRevenue = li.RawPrice * li.Quantity
	case PriceKindTotal:
		li.TotalRevenue = li.RawPrice
		if li.Quantity >= 1 {
			li.UnitPrice = li.RawPrice / li.Quantity
		} else {
			li.UnitPrice = li.RawPrice
		}
	}
	return li
}
