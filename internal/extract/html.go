package extract

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/net/html"
)

// extractHTML strips tags and returns the visible text, skipping
// script and style content.
func extractHTML(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("extract: open html %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	z := html.NewTokenizer(f)
	var (
		b    strings.Builder
		skip int // depth inside <script>/<style>
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF terminates cleanly; anything else is a parse
			// failure partway through, return what we have.
			return strings.TrimSpace(b.String()), nil
		case html.StartTagToken:
			name, _ := z.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.TrimSpace(string(z.Text()))
			if text != "" {
				b.WriteString(text)
				b.WriteString("\n")
			}
		}
	}
}
