package gateway

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ruochenliao/ai-training-course-sub000/internal/embed"
	"github.com/ruochenliao/ai-training-course-sub000/internal/extract"
	"github.com/ruochenliao/ai-training-course-sub000/internal/fusion"
	"github.com/ruochenliao/ai-training-course-sub000/internal/ingest"
	"github.com/ruochenliao/ai-training-course-sub000/internal/knowledge"
	"github.com/ruochenliao/ai-training-course-sub000/internal/memory/conversation"
	"github.com/ruochenliao/ai-training-course-sub000/internal/memory/registry"
	"github.com/ruochenliao/ai-training-course-sub000/internal/memory/vector"
)

type testEnv struct {
	gateway *Gateway
	handler http.Handler
	files   *knowledge.Store
	dir     string
}

// newTestEnv wires a full gateway against in-memory and temp-dir
// backends with the deterministic local embedder.
func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	dir := t.TempDir()
	logger := slog.Default()

	convDB, err := conversation.Open(filepath.Join(dir, "conversation.db"))
	if err != nil {
		t.Fatalf("open conversation db: %v", err)
	}
	vecDB, err := vector.Open("")
	if err != nil {
		t.Fatalf("open vector db: %v", err)
	}
	files, err := knowledge.Open(filepath.Join(dir, "knowledge.db"), logger)
	if err != nil {
		t.Fatalf("open knowledge store: %v", err)
	}
	t.Cleanup(func() { _ = files.Close() })

	reg, err := registry.New(registry.Config{
		ConversationDB: convDB,
		VectorDB:       vecDB,
		Embedder:       embed.NewMockEmbedder(0),
		Logger:         logger,
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.CloseAll() })

	pipeline, err := ingest.New(ingest.Config{
		Files:      files,
		Stores:     reg,
		Extractors: extract.NewRegistry(),
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	t.Cleanup(pipeline.Stop)

	adapter, err := fusion.New(fusion.Config{Stores: reg, Logger: logger})
	if err != nil {
		t.Fatalf("new fusion adapter: %v", err)
	}

	cfg := Config{
		Registry: reg,
		Fusion:   adapter,
		Pipeline: pipeline,
		Files:    files,
		Logger:   logger,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	gw, err := New(cfg)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return &testEnv{gateway: gw, handler: gw.buildRouter(), files: files, dir: dir}
}

// do sends a JSON request through the router and decodes the response.
func (e *testEnv) do(t *testing.T, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec
}
