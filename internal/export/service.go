package export

import (
	"context"
	"fmt"
)

type pdfRenderer func(ctx context.Context, html, title string) (*Result, error)

type Service struct {
	pdf pdfRenderer
}

func NewService() *Service {
	return &Service{pdf: renderPDF}
}

// Export renders stmt in the requested format.
func (s *Service) Export(ctx context.Context, stmt Statement, format Format) (*Result, error) {
	if stmt.Lines == nil {
		stmt.Lines = []Line{}
	}
	switch format {
	case FormatXLSX:
		return renderXLSX(stmt)
	case FormatPDF:
		html, err := RenderStatementHTML(stmt)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return s.pdf(ctx, html, stmt.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
