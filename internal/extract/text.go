package extract

import (
	"fmt"
	"os"
)

// extractText reads plain-text and markdown files verbatim.
func extractText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("extract: read %s: %w", path, err)
	}
	return string(data), nil
}
