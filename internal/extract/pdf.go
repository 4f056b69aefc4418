package extract

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF extracts text page by page. A single unreadable page is
// skipped so one corrupt page does not lose the whole document; the
// extraction fails only when no page yields text.
func extractPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("extract: open pdf %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var (
		b        strings.Builder
		pageErrs int
	)
	total := reader.NumPage()
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			pageErrs++
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}

	if b.Len() == 0 {
		if pageErrs > 0 {
			return "", fmt.Errorf("extract: pdf %s: all %d readable pages failed", path, pageErrs)
		}
		return "", fmt.Errorf("extract: pdf %s: no extractable text", path)
	}
	return b.String(), nil
}
