package report

import (
	"bytes"
	"time"

	"github.com/go-pdf/fpdf"
)

// renderPDF lays out the codex sections on A4 pages and returns the document
// bytes. Body text passes through a latin-1 translator so smart quotes and
// similar output from the model do not break the core fonts.
func renderPDF(title, subtitle string, generated time.Time, sections []Section, disclaimer string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(18, 20, 18)
	pdf.SetAutoPageBreak(true, 22)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-16)
		pdf.SetFont("Helvetica", "I", 7)
		pdf.SetTextColor(130, 130, 130)
		pdf.MultiCell(0, 3.5, tr(disclaimer), "", "C", false)
	})

	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.SetTextColor(0, 121, 121)
	pdf.MultiCell(0, 9, tr(title), "", "C", false)

	pdf.SetFont("Helvetica", "", 11)
	pdf.SetTextColor(90, 90, 90)
	pdf.MultiCell(0, 6, tr(subtitle), "", "C", false)

	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 6, generated.Format("January 2, 2006"), "", 1, "R", false, 0, "")
	pdf.Ln(4)

	for i, sec := range sections {
		pdf.SetFont("Helvetica", "B", 13)
		pdf.SetTextColor(0, 121, 121)
		pdf.MultiCell(0, 7, tr(sec.Heading), "", "L", false)
		pdf.Ln(1)

		pdf.SetFont("Helvetica", "", 10.5)
		pdf.SetTextColor(40, 40, 40)
		pdf.MultiCell(0, 5.2, tr(sec.Body), "", "L", false)

		if i < len(sections)-1 {
			pdf.Ln(3)
			pdf.SetDrawColor(210, 210, 210)
			x, y := pdf.GetX(), pdf.GetY()
			pdf.Line(x, y, 210-18, y)
			pdf.Ln(4)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
