// Package render turns an order into report bytes, one renderer per format.
package render

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/order-reports/internal/domain"
)

const (
	timestampLayout = "2006-01-02 15:04:05"
	currency        = "ETB"
)

// Renderer produces the document for one format
type Renderer interface {
	Format() domain.Format
	Render(ctx context.Context, order *domain.Order, generatedAt time.Time) ([]byte, error)
}

// Func adapts a function to the Renderer interface
type Func struct {
	F  domain.Format
	Fn func(ctx context.Context, order *domain.Order, generatedAt time.Time) ([]byte, error)
}

func (f Func) Format() domain.Format { return f.F }

func (f Func) Render(ctx context.Context, order *domain.Order, generatedAt time.Time) ([]byte, error) {
	return f.Fn(ctx, order, generatedAt)
}

// Registry maps formats to renderers
type Registry struct {
	renderers map[domain.Format]Renderer
}

// NewRegistry registers the given renderers; later ones replace earlier ones
// of the same format.
func NewRegistry(renderers ...Renderer) *Registry {
	r := &Registry{renderers: make(map[domain.Format]Renderer, len(renderers))}
	for _, renderer := range renderers {
		r.renderers[renderer.Format()] = renderer
	}
	return r
}

// DefaultRegistry returns the CSV and PDF renderers
func DefaultRegistry() *Registry {
	return NewRegistry(NewCSVRenderer(), NewPDFRenderer())
}

// Get returns the renderer for format
func (r *Registry) Get(format domain.Format) (Renderer, error) {
	renderer, ok := r.renderers[format]
	if !ok {
		return nil, fmt.Errorf("no renderer registered for format %s", format)
	}
	return renderer, nil
}

// FileName returns order_<id>_report_<YYYYMMDD_HHMMSS>.<ext>
func FileName(orderID int64, format domain.Format, at time.Time) string {
	return fmt.Sprintf("order_%d_report_%s.%s", orderID, at.Format("20060102_150405"), format.Extension())
}

func money(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s %s%d.%02d", currency, sign, cents/100, cents%100)
}
