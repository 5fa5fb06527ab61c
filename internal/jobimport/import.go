// Package jobimport turns an uploaded spreadsheet into job postings.
package jobimport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"refery/api/internal/jobboard"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

const MaxRows = 500

var (
	ErrEmptySheet     = errors.New("worksheet is empty")
	ErrMissingTitle   = errors.New("header row has no title column")
	ErrTooManyRows    = errors.New("too many rows")
	ErrUnreadableFile = errors.New("unreadable spreadsheet")
)

// Row is one parsed posting. Amounts are in cents.
type Row struct {
	Line           int
	Title          string
	Company        string
	Location       string
	EmploymentType string
	Remote         bool
	SalaryMin      *int64
	SalaryMax      *int64
	RewardCents    int64
	Currency       string
	Skills         []string
	Description    string
}

type RowError struct {
	Line    int    `json:"row"`
	Message string `json:"message"`
}

type Result struct {
	Rows   []Row
	Errors []RowError
}

var headerAliases = map[string]string{
	"title":           "title",
	"job title":       "title",
	"company":         "company",
	"location":        "location",
	"employment type": "employment_type",
	"type":            "employment_type",
	"remote":          "remote",
	"salary min":      "salary_min",
	"min salary":      "salary_min",
	"salary max":      "salary_max",
	"max salary":      "salary_max",
	"reward":          "reward",
	"referral reward": "reward",
	"currency":        "currency",
	"skills":          "skills",
	"description":     "description",
}

// Parse reads an .xlsx or .xls upload. Rows with errors are reported and
// skipped; blank rows are ignored.
func Parse(r io.Reader, filename string) (Result, error) {
	rows, err := readRows(r, filename)
	if err != nil {
		return Result{}, err
	}
	if len(rows) == 0 {
		return Result{}, ErrEmptySheet
	}

	columns := map[string]int{}
	for idx, header := range rows[0] {
		if key, ok := headerAliases[normalizeHeader(header)]; ok {
			if _, seen := columns[key]; !seen {
				columns[key] = idx
			}
		}
	}
	if _, ok := columns["title"]; !ok {
		return Result{}, ErrMissingTitle
	}

	body := rows[1:]
	if len(body) > MaxRows {
		return Result{}, fmt.Errorf("%w: %d rows (max %d)", ErrTooManyRows, len(body), MaxRows)
	}

	result := Result{Rows: []Row{}, Errors: []RowError{}}
	for i, cells := range body {
		line := i + 2
		if isBlank(cells) {
			continue
		}
		row, err := parseRow(cells, columns, line)
		if err != nil {
			result.Errors = append(result.Errors, RowError{Line: line, Message: err.Error()})
			continue
		}
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}

func parseRow(cells []string, columns map[string]int, line int) (Row, error) {
	get := func(key string) string {
		idx, ok := columns[key]
		if !ok {
			return ""
		}
		return cellValue(cells, idx)
	}

	row := Row{
		Line:        line,
		Title:       get("title"),
		Company:     get("company"),
		Location:    get("location"),
		Description: get("description"),
		Currency:    strings.ToUpper(get("currency")),
	}
	if row.Title == "" {
		return Row{}, errors.New("title is required")
	}
	if row.Currency == "" {
		row.Currency = "USD"
	}
	if len(row.Currency) != 3 {
		return Row{}, fmt.Errorf("currency %q must be a 3-letter code", row.Currency)
	}

	row.EmploymentType = strings.ReplaceAll(strings.ToLower(get("employment_type")), " ", "_")
	row.EmploymentType = strings.ReplaceAll(row.EmploymentType, "-", "_")
	if row.EmploymentType == "" {
		row.EmploymentType = "full_time"
	}
	if !jobboard.ValidEmploymentType(row.EmploymentType) {
		return Row{}, fmt.Errorf("unknown employment type %q", get("employment_type"))
	}

	remote, err := parseBool(get("remote"))
	if err != nil {
		return Row{}, err
	}
	row.Remote = remote

	if row.SalaryMin, err = parseOptionalCents(get("salary_min"), "salary min"); err != nil {
		return Row{}, err
	}
	if row.SalaryMax, err = parseOptionalCents(get("salary_max"), "salary max"); err != nil {
		return Row{}, err
	}
	if row.SalaryMin != nil && row.SalaryMax != nil && *row.SalaryMin > *row.SalaryMax {
		return Row{}, errors.New("salary min exceeds salary max")
	}
	reward, err := parseOptionalCents(get("reward"), "reward")
	if err != nil {
		return Row{}, err
	}
	if reward != nil {
		row.RewardCents = *reward
	}

	row.Skills = []string{}
	for _, skill := range strings.Split(get("skills"), ",") {
		if skill = strings.TrimSpace(skill); skill != "" {
			row.Skills = append(row.Skills, skill)
		}
	}
	return row, nil
}

// parseOptionalCents reads a major-unit amount such as "1,500.50" or "$2000".
func parseOptionalCents(value, field string) (*int64, error) {
	cleaned := strings.NewReplacer(",", "", "$", "", "€", "", "£", "", " ", "").Replace(value)
	if cleaned == "" {
		return nil, nil
	}
	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, fmt.Errorf("%s %q is not a number", field, value)
	}
	if amount < 0 {
		return nil, fmt.Errorf("%s must not be negative", field)
	}
	cents := int64(math.Round(amount * 100))
	return &cents, nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "no", "n", "false", "0", "onsite", "on-site":
		return false, nil
	case "yes", "y", "true", "1", "remote":
		return true, nil
	default:
		return false, fmt.Errorf("remote value %q is not yes/no", value)
	}
}

func readRows(reader io.Reader, filename string) ([][]string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xls":
		workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
		}
		if workbook.NumSheets() == 0 {
			return nil, ErrEmptySheet
		}
		return workbook.ReadAllCells(MaxRows + 1), nil
	case ".xlsx", ".xlsm":
		file, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
		}
		defer func() { _ = file.Close() }()

		sheetName := file.GetSheetName(0)
		if sheetName == "" {
			return nil, ErrEmptySheet
		}
		return file.GetRows(sheetName)
	default:
		return nil, fmt.Errorf("%w: expected .xlsx or .xls, got %q", ErrUnreadableFile, filepath.Ext(filename))
	}
}

func normalizeHeader(header string) string {
	header = strings.ToLower(strings.TrimSpace(header))
	header = strings.ReplaceAll(header, "_", " ")
	return strings.Join(strings.Fields(header), " ")
}

func cellValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
