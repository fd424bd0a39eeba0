package render

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/cuongbtq/order-reports/internal/domain"
)

// CSVRenderer writes the order report as CSV
type CSVRenderer struct{}

func NewCSVRenderer() *CSVRenderer {
	return &CSVRenderer{}
}

func (r *CSVRenderer) Format() domain.Format {
	return domain.FormatCSV
}

func (r *CSVRenderer) Render(ctx context.Context, order *domain.Order, _ time.Time) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	rows := [][]string{
		{"Order Report"},
		{"Order ID:", strconv.FormatInt(order.ID, 10)},
		{"Order Name:", order.Name},
		{"Created:", order.CreatedAt.Format(timestampLayout)},
		{""},
		{"Product", "Quantity", "Unit Price", "Total Price"},
	}
	for _, item := range order.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows = append(rows, []string{
			item.ProductName,
			strconv.FormatInt(item.Quantity, 10),
			money(item.UnitPriceCents),
			money(item.TotalCents()),
		})
	}
	rows = append(rows,
		[]string{""},
		[]string{"Total Order Value:", "", "", money(order.TotalValueCents())},
	)

	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("failed to write csv report: %w", err)
	}
	return buf.Bytes(), nil
}
