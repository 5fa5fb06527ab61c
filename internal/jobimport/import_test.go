package jobimport

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	file := excelize.NewFile()
	defer func() { _ = file.Close() }()
	sheet := file.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := file.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := file.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf
}

func TestParseXLSX(t *testing.T) {
	buf := buildWorkbook(t, [][]any{
		{"Job Title", "Company", "Location", "Employment_Type", "Remote", "Salary Min", "Salary Max", "Referral Reward", "Currency", "Skills", "Description"},
		{"Backend Engineer", "Acme", "Berlin", "Full-Time", "yes", "90,000", "120000", "2500.50", "eur", "Go, Postgres ,", "Build things"},
		{"", "", "", "", "", "", "", "", "", "", ""},
		{"Designer", "Acme", "", "contract", "", "", "", "", "", "", ""},
		{"", "Acme", "Remote", "", "", "", "", "", "", "", ""},
		{"Broken", "Acme", "", "gig", "", "", "", "", "", "", ""},
		{"Inverted", "Acme", "", "", "", "200", "100", "", "", "", ""},
	})

	result, err := Parse(buf, "jobs.xlsx")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d (%+v)", len(result.Rows), result.Errors)
	}

	first := result.Rows[0]
	if first.Line != 2 || first.Title != "Backend Engineer" || first.EmploymentType != "full_time" || !first.Remote {
		t.Fatalf("unexpected first row: %+v", first)
	}
	if first.SalaryMin == nil || *first.SalaryMin != 9_000_000 || first.SalaryMax == nil || *first.SalaryMax != 12_000_000 {
		t.Fatalf("unexpected salary: %v %v", first.SalaryMin, first.SalaryMax)
	}
	if first.RewardCents != 250_050 || first.Currency != "EUR" {
		t.Fatalf("unexpected reward: %d %s", first.RewardCents, first.Currency)
	}
	if strings.Join(first.Skills, "|") != "Go|Postgres" {
		t.Fatalf("unexpected skills: %v", first.Skills)
	}

	second := result.Rows[1]
	if second.Line != 4 || second.EmploymentType != "contract" || second.Currency != "USD" || second.Remote {
		t.Fatalf("unexpected second row: %+v", second)
	}

	if len(result.Errors) != 3 {
		t.Fatalf("expected 3 row errors, got %+v", result.Errors)
	}
	wantLines := []int{5, 6, 7}
	for i, rowErr := range result.Errors {
		if rowErr.Line != wantLines[i] {
			t.Fatalf("error %d on line %d, want %d", i, rowErr.Line, wantLines[i])
		}
	}
	if !strings.Contains(result.Errors[0].Message, "title") {
		t.Fatalf("unexpected message: %s", result.Errors[0].Message)
	}
}

func TestParseLegacyXLS(t *testing.T) {
	file, err := os.Open(filepath.Join("testdata", "jobs.xls"))
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer file.Close()

	result, err := Parse(file, "Jobs.XLS")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d (%+v)", len(result.Rows), result.Errors)
	}

	first := result.Rows[0]
	if first.Line != 2 || first.Title != "Platform Engineer" || first.Company != "Globex" || first.EmploymentType != "contract" || !first.Remote {
		t.Fatalf("unexpected first row: %+v", first)
	}
	if first.SalaryMin == nil || *first.SalaryMin != 9_500_000 || first.SalaryMax != nil {
		t.Fatalf("unexpected salary: %v %v", first.SalaryMin, first.SalaryMax)
	}
	if first.RewardCents != 150_000 || first.Currency != "USD" {
		t.Fatalf("unexpected reward: %d %s", first.RewardCents, first.Currency)
	}
	if strings.Join(first.Skills, "|") != "Go|Kubernetes" {
		t.Fatalf("unexpected skills: %v", first.Skills)
	}

	second := result.Rows[1]
	if second.Line != 5 || second.Title != "Data Analyst" || second.EmploymentType != "full_time" || second.Remote {
		t.Fatalf("unexpected second row: %+v", second)
	}

	want := []struct {
		line    int
		message string
	}{
		{3, "title is required"},
		{4, `remote value "maybe"`},
		{7, `reward "lots" is not a number`},
	}
	if len(result.Errors) != len(want) {
		t.Fatalf("expected %d row errors, got %+v", len(want), result.Errors)
	}
	for i, w := range want {
		got := result.Errors[i]
		if got.Line != w.line || !strings.Contains(got.Message, w.message) {
			t.Fatalf("error %d = %+v, want line %d containing %q", i, got, w.line, w.message)
		}
	}
}

func TestParseRejectsCorruptXLS(t *testing.T) {
	if _, err := Parse(strings.NewReader("not a compound file"), "jobs.xls"); !errors.Is(err, ErrUnreadableFile) {
		t.Fatalf("expected ErrUnreadableFile, got %v", err)
	}
}

func TestParseRejectsMissingTitleColumn(t *testing.T) {
	buf := buildWorkbook(t, [][]any{
		{"Company", "Location"},
		{"Acme", "Berlin"},
	})
	if _, err := Parse(buf, "jobs.xlsx"); !errors.Is(err, ErrMissingTitle) {
		t.Fatalf("expected ErrMissingTitle, got %v", err)
	}
}

func TestParseRejectsTooManyRows(t *testing.T) {
	rows := [][]any{{"Title"}}
	for i := 0; i <= MaxRows; i++ {
		rows = append(rows, []any{"Engineer"})
	}
	buf := buildWorkbook(t, rows)
	if _, err := Parse(buf, "jobs.xlsx"); !errors.Is(err, ErrTooManyRows) {
		t.Fatalf("expected ErrTooManyRows, got %v", err)
	}
}

func TestParseRejectsUnknownExtension(t *testing.T) {
	if _, err := Parse(strings.NewReader("title\nengineer\n"), "jobs.csv"); !errors.Is(err, ErrUnreadableFile) {
		t.Fatalf("expected ErrUnreadableFile, got %v", err)
	}
}

func TestParseRejectsCorruptWorkbook(t *testing.T) {
	if _, err := Parse(strings.NewReader("not a zip"), "jobs.xlsx"); !errors.Is(err, ErrUnreadableFile) {
		t.Fatalf("expected ErrUnreadableFile, got %v", err)
	}
}

func TestParseOptionalCents(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		nilWant bool
		wantErr bool
	}{
		{in: "", nilWant: true},
		{in: "$1,000", want: 100_000},
		{in: "12.5", want: 1250},
		{in: "abc", wantErr: true},
		{in: "-5", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseOptionalCents(tc.in, "reward")
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if tc.nilWant {
			if got != nil {
				t.Fatalf("%q: expected nil, got %d", tc.in, *got)
			}
			continue
		}
		if got == nil || *got != tc.want {
			t.Fatalf("%q: got %v want %d", tc.in, got, tc.want)
		}
	}
}
