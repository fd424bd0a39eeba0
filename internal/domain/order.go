package domain

import "time"

// Order is the read-only view of an order consumed by the report pipeline
type Order struct {
	ID        int64
	Name      string
	CreatedAt time.Time
	Items     []OrderItem
}

// OrderItem is one line of an order. Prices are kept in minor units (cents).
type OrderItem struct {
	ProductName    string
	Quantity       int64
	UnitPriceCents int64
}

// TotalCents returns quantity * unit price
func (i OrderItem) TotalCents() int64 {
	return i.Quantity * i.UnitPriceCents
}

// TotalValueCents returns the sum of all line totals
func (o *Order) TotalValueCents() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.TotalCents()
	}
	return total
}
