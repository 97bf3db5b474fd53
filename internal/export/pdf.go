// Package export renders a resource page as a PDF table.
package export

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/phpdave11/gofpdf"

	"github.com/tkingovr/adminsync/api"
)

// maxAutoColumns caps the columns picked when none are configured.
const maxAutoColumns = 6

// Table is the content of one exported page.
type Table struct {
	Title       string
	Columns     []string
	Params      api.QueryParams
	Page        api.ResourcePage
	GeneratedAt time.Time
}

// Filename returns the download name for a page export.
func Filename(resource string, page int, at time.Time) string {
	return fmt.Sprintf("%s-page%d-%s.pdf", resource, page, at.Format("20060102-150405"))
}

// WritePDF renders t to w.
func WritePDF(w io.Writer, t Table) error {
	columns := t.Columns
	if len(columns) == 0 {
		columns = inferColumns(t.Page.Items)
	}
	columns = append([]string{"id"}, columns...)

	orientation := "P"
	if len(columns) > 5 {
		orientation = "L"
	}
	pdf := gofpdf.New(orientation, "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(t.Title, true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, tr(t.Title))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 9)
	pdf.Cell(0, 5, tr(summaryLine(t)))
	pdf.Ln(8)

	pageWidth, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	colWidth := (pageWidth - left - right) / float64(len(columns))

	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for _, col := range columns {
		pdf.CellFormat(colWidth, 7, tr(fit(pdf, col, colWidth)), "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	if len(t.Page.Items) == 0 {
		pdf.CellFormat(colWidth*float64(len(columns)), 7, "No records", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}
	for _, item := range t.Page.Items {
		for i, col := range columns {
			value := item.Field(col)
			if i == 0 {
				value = item.ID
			}
			pdf.CellFormat(colWidth, 6, tr(fit(pdf, value, colWidth)), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("rendering pdf: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("writing pdf: %w", err)
	}
	return nil
}

func summaryLine(t Table) string {
	parts := []string{
		fmt.Sprintf("Page %d of %d", max(t.Params.Page, 1), max(t.Page.TotalPages, 1)),
		fmt.Sprintf("%d records", t.Page.TotalCount),
	}
	if t.Params.Search != "" {
		parts = append(parts, fmt.Sprintf("search %q", t.Params.Search))
	}
	if s := t.Params.StatusFilter(); s != "" {
		parts = append(parts, "status "+s)
	}
	if !t.GeneratedAt.IsZero() {
		parts = append(parts, "generated "+t.GeneratedAt.Format("2006-01-02 15:04"))
	}
	return strings.Join(parts, " | ")
}

// fit truncates s with an ellipsis so it fits in width.
func fit(pdf *gofpdf.Fpdf, s string, width float64) string {
	const pad = 2.0
	if pdf.GetStringWidth(s)+pad <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && pdf.GetStringWidth(string(runes)+"...")+pad > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}

func inferColumns(items []api.Resource) []string {
	if len(items) == 0 {
		return nil
	}
	var cols []string
	for k := range items[0].Fields {
		if k == "_id" || k == "id" {
			continue
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)
	if len(cols) > maxAutoColumns {
		cols = cols[:maxAutoColumns]
	}
	return cols
}
