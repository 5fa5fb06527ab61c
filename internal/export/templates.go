package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var statementTemplate = template.Must(
	template.New("statement.html").Funcs(template.FuncMap{
		"formatDate": formatDate,
		"money":      FormatCents,
	}).ParseFS(templateFS, "templates/statement.html"),
)

func formatDate(value any, layout string) string {
	switch t := value.(type) {
	case time.Time:
		return t.UTC().Format(layout)
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.UTC().Format(layout)
	default:
		return ""
	}
}

// TemplateData is what the statement template renders.
type TemplateData struct {
	Statement
	Totals []Total
}

func RenderStatementHTML(stmt Statement) (string, error) {
	var buf bytes.Buffer
	if err := statementTemplate.Execute(&buf, TemplateData{Statement: stmt, Totals: Totals(stmt.Lines)}); err != nil {
		return "", err
	}
	return buf.String(), nil
}
