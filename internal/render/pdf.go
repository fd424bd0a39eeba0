package render

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cuongbtq/order-reports/internal/domain"
	"github.com/go-pdf/fpdf"
)

type rgb struct{ r, g, b int }

var (
	accent    = rgb{30, 230, 0}
	paleGreen = rgb{240, 253, 244}
	darkGreen = rgb{2, 52, 0}
)

// PDFRenderer writes the order report as a letter-sized PDF
type PDFRenderer struct{}

func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{}
}

func (r *PDFRenderer) Format() domain.Format {
	return domain.FormatPDF
}

func (r *PDFRenderer) Render(ctx context.Context, order *domain.Order, generatedAt time.Time) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "Letter", "")
	pdf.SetTitle(fmt.Sprintf("Order %d Report", order.ID), true)
	pdf.SetCreationDate(generatedAt)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetTextColor(accent.r, accent.g, accent.b)
	pdf.CellFormat(0, 10, "Order Report", "", 1, "L", false, 0, "")
	pdf.Ln(8)

	info := [][2]string{
		{"Order ID:", strconv.FormatInt(order.ID, 10)},
		{"Order Name:", order.Name},
		{"Created:", order.CreatedAt.Format(timestampLayout)},
		{"Report Generated:", generatedAt.Format(timestampLayout)},
	}
	pdf.SetDrawColor(128, 128, 128)
	for _, row := range info {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetFillColor(paleGreen.r, paleGreen.g, paleGreen.b)
		pdf.SetTextColor(darkGreen.r, darkGreen.g, darkGreen.b)
		pdf.CellFormat(50, 8, row[0], "1", 0, "R", true, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.SetTextColor(0, 0, 0)
		pdf.CellFormat(100, 8, tr(row[1]), "1", 1, "L", false, 0, "")
	}
	pdf.Ln(8)

	widths := []float64{75, 25, 38, 38}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(accent.r, accent.g, accent.b)
	pdf.SetTextColor(255, 255, 255)
	for i, h := range []string{"Product", "Quantity", "Unit Price", "Total Price"} {
		align := "C"
		if i == 0 {
			align = "L"
		}
		pdf.CellFormat(widths[i], 8, h, "1", 0, align, true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(0, 0, 0)
	for _, item := range order.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pdf.CellFormat(widths[0], 8, tr(item.ProductName), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 8, strconv.FormatInt(item.Quantity, 10), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[2], 8, money(item.UnitPriceCents), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[3], 8, money(item.TotalCents()), "1", 1, "C", false, 0, "")
	}

	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(paleGreen.r, paleGreen.g, paleGreen.b)
	pdf.SetTextColor(darkGreen.r, darkGreen.g, darkGreen.b)
	pdf.SetDrawColor(0, 0, 0)
	pdf.CellFormat(widths[0]+widths[1], 8, "", "1", 0, "L", true, 0, "")
	pdf.CellFormat(widths[2], 8, "Total:", "1", 0, "C", true, 0, "")
	pdf.CellFormat(widths[3], 8, money(order.TotalValueCents()), "1", 1, "C", true, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write pdf report: %w", err)
	}
	return buf.Bytes(), nil
}
