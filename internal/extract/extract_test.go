package extract_test

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ruochenliao/ai-training-course-sub000/internal/extract"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestSupported(t *testing.T) {
	t.Parallel()

	r := extract.NewRegistry()
	for _, ext := range []string{".txt", ".md", ".pdf", ".docx", ".html", ".htm", ".HTML"} {
		if !r.Supported(ext) {
			t.Errorf("Supported(%q) = false", ext)
		}
	}
	for _, ext := range []string{".png", ".exe", ""} {
		if r.Supported(ext) {
			t.Errorf("Supported(%q) = true", ext)
		}
	}
}

func TestTextPassThrough(t *testing.T) {
	t.Parallel()

	r := extract.NewRegistry()
	const content = "# Heading\n\nPlain body with unicode: 你好。\n"

	for _, name := range []string{"doc.txt", "doc.md"} {
		got, err := r.Extract(writeFile(t, name, content))
		if err != nil {
			t.Fatalf("Extract(%s): %v", name, err)
		}
		if got != content {
			t.Errorf("Extract(%s) = %q, want verbatim content", name, got)
		}
	}
}

func TestHTMLStripsTags(t *testing.T) {
	t.Parallel()

	r := extract.NewRegistry()
	path := writeFile(t, "page.html", `<!DOCTYPE html>
<html><head>
<title>Memo</title>
<style>body { color: red; }</style>
<script>console.log("never this");</script>
</head><body>
<h1>Quarterly update</h1>
<p>Revenue grew <b>12%</b> year over year.</p>
</body></html>`)

	got, err := r.Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for _, want := range []string{"Memo", "Quarterly update", "Revenue grew", "12%"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	for _, reject := range []string{"console.log", "color: red", "<p>", "<h1>"} {
		if strings.Contains(got, reject) {
			t.Errorf("output contains %q:\n%s", reject, got)
		}
	}
}

func TestDocx(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "report.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	_, _ = w.Write([]byte(`<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph, </w:t></w:r><w:r><w:t>split across runs.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second paragraph.</w:t></w:r></w:p>
    <w:p></w:p>
  </w:body>
</w:document>`))
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("file close: %v", err)
	}

	got, err := extract.NewRegistry().Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := "First paragraph, split across runs.\nSecond paragraph.\n"
	if got != want {
		t.Errorf("Extract = %q, want %q", got, want)
	}
}

func TestDocxMissingDocumentXML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	zw := zip.NewWriter(f)
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("file close: %v", err)
	}

	if _, err := extract.NewRegistry().Extract(path); err == nil {
		t.Fatal("Extract accepted a docx without word/document.xml")
	}
}

func TestUnsupportedFormat(t *testing.T) {
	t.Parallel()

	r := extract.NewRegistry()
	_, err := r.Extract(writeFile(t, "image.png", "not really an image"))
	if !errors.Is(err, extract.ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestRegisterCustomExtractor(t *testing.T) {
	t.Parallel()

	r := extract.NewRegistry()
	r.Register(".CSV", extract.ExtractorFunc(func(path string) (string, error) {
		return "rows", nil
	}))

	if !r.Supported(".csv") {
		t.Fatal("Supported(.csv) = false after Register")
	}
	got, err := r.Extract(writeFile(t, "data.csv", "a,b\n1,2\n"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "rows" {
		t.Errorf("Extract = %q", got)
	}
}

func TestMissingFile(t *testing.T) {
	t.Parallel()

	r := extract.NewRegistry()
	if _, err := r.Extract(filepath.Join(t.TempDir(), "gone.txt")); err == nil {
		t.Fatal("Extract accepted a missing file")
	}
}
