// Package export renders payout statements as XLSX spreadsheets and PDFs.
package export

import (
	"errors"
	"time"
)

type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case FormatXLSX, "":
		return FormatXLSX, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Statement is a list of payouts owed to a referrer, or owed by a poster.
type Statement struct {
	Title       string
	Owner       string
	Period      string
	GeneratedAt time.Time
	Lines       []Line
}

type Line struct {
	PayoutID     string
	Job          string
	Candidate    string
	AmountCents  int64
	Currency     string
	Status       string
	ScheduledFor time.Time
	PaidAt       *time.Time
}

// Total is the sum for one currency, split into paid and outstanding.
type Total struct {
	Currency         string
	PaidCents        int64
	OutstandingCents int64
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates no chromium binary is available.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
