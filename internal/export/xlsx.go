package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

const statementSheet = "Statement"

var statementHeaders = []string{"Payout ID", "Job", "Candidate", "Amount", "Currency", "Status", "Scheduled For", "Paid At"}

func renderXLSX(stmt Statement) (*Result, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", statementSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return nil, fmt.Errorf("create money style: %w", err)
	}

	if err := f.SetSheetRow(statementSheet, "A1", &[]any{stmt.Title}); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(statementSheet, "A2", &[]any{stmt.Owner, stmt.Period, stmt.GeneratedAt.UTC().Format(time.RFC3339)}); err != nil {
		return nil, err
	}

	headerRow := 4
	header := make([]any, len(statementHeaders))
	for i, h := range statementHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(statementSheet, cell("A", headerRow), &header); err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(statementSheet, cell("A", headerRow), cell("H", headerRow), bold); err != nil {
		return nil, err
	}

	row := headerRow + 1
	for _, line := range stmt.Lines {
		paidAt := ""
		if line.PaidAt != nil {
			paidAt = line.PaidAt.UTC().Format("2006-01-02")
		}
		values := []any{
			line.PayoutID,
			line.Job,
			line.Candidate,
			float64(line.AmountCents) / 100,
			line.Currency,
			line.Status,
			line.ScheduledFor.UTC().Format("2006-01-02"),
			paidAt,
		}
		if err := f.SetSheetRow(statementSheet, cell("A", row), &values); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(statementSheet, cell("D", row), cell("D", row), money); err != nil {
			return nil, err
		}
		row++
	}

	row++
	for _, total := range Totals(stmt.Lines) {
		values := []any{"Total paid", "", "", float64(total.PaidCents) / 100, total.Currency}
		if err := f.SetSheetRow(statementSheet, cell("A", row), &values); err != nil {
			return nil, err
		}
		values = []any{"Total outstanding", "", "", float64(total.OutstandingCents) / 100, total.Currency}
		if err := f.SetSheetRow(statementSheet, cell("A", row+1), &values); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(statementSheet, cell("A", row), cell("E", row+1), bold); err != nil {
			return nil, err
		}
		row += 2
	}

	_ = f.SetColWidth(statementSheet, "A", "A", 38)
	_ = f.SetColWidth(statementSheet, "B", "C", 28)
	_ = f.SetColWidth(statementSheet, "D", "H", 14)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return &Result{
		Data:     buf.Bytes(),
		Filename: sanitizeFilename(stmt.Title) + ".xlsx",
		MimeType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	}, nil
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
