package domain

// Shipping fee policy, in paise. Orders at or above the free-shipping
// threshold ship free; everything below pays the flat fee.
const (
	FreeShippingThreshold int64 = 99900
	FlatShippingFee       int64 = 5000
)

// CartTotals holds the derived monetary rollup for a cart.
type CartTotals struct {
	TotalItems    int
	TotalPrice    int64
	TotalMRP      int64
	TotalDiscount int64
}

// ComputeCartTotals recomputes the cart rollup from scratch. Line subtotals
// are rewritten as unit price times quantity so stale subtotals cannot
// survive a mutation.
func ComputeCartTotals(items []CartItem) ([]CartItem, CartTotals) {
	totals := CartTotals{}
	for i := range items {
		items[i].Subtotal = items[i].UnitPrice * int64(items[i].Quantity)
		totals.TotalItems += items[i].Quantity
		totals.TotalPrice += items[i].Subtotal
		totals.TotalMRP += items[i].MRP * int64(items[i].Quantity)
	}
	totals.TotalDiscount = totals.TotalMRP - totals.TotalPrice
	return items, totals
}

// ShippingFeeFor returns the shipping fee owed for an order whose line
// subtotals sum to totalAmount.
func ShippingFeeFor(totalAmount int64) int64 {
	if totalAmount >= FreeShippingThreshold {
		return 0
	}
	return FlatShippingFee
}

// OrderTotals holds the rolled-up monetary fields of an order. TotalAmount is
// the pre-shipping item sum; GrandTotal adds the shipping fee.
type OrderTotals struct {
	TotalItems    int
	TotalMRP      int64
	TotalDiscount int64
	TotalAmount   int64
	ShippingFee   int64
	GrandTotal    int64
}

// ComputeOrderTotals derives the order rollup from its line items.
func ComputeOrderTotals(items []OrderItem) OrderTotals {
	var totals OrderTotals
	for _, item := range items {
		totals.TotalItems += item.Quantity
		totals.TotalAmount += item.Subtotal
		totals.TotalMRP += item.MRP * int64(item.Quantity)
	}
	totals.TotalDiscount = totals.TotalMRP - totals.TotalAmount
	totals.ShippingFee = ShippingFeeFor(totals.TotalAmount)
	totals.GrandTotal = totals.TotalAmount + totals.ShippingFee
	return totals
}
