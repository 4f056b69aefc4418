package gateway

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ruochenliao/ai-training-course-sub000/internal/knowledge"
)

func TestHealth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	var resp HealthResponse
	rec := env.do(t, http.MethodGet, "/health", nil, &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp.Status != "ok" {
		t.Errorf("health status = %q, want ok", resp.Status)
	}
}

func TestAddAndQueryMemory(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	var created map[string]string
	rec := env.do(t, http.MethodPost, "/api/memory", addMemoryRequest{
		Kind:    "private",
		UserID:  "u1",
		Content: "user prefers espresso over filter coffee",
	}, &created)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d: %s", rec.Code, rec.Body.String())
	}
	if created["id"] == "" {
		t.Fatal("add returned no id")
	}

	var resp queryResponse
	rec = env.do(t, http.MethodPost, "/api/query", queryRequest{
		UserID: "u1",
		Text:   "espresso preference",
		Limit:  6,
	}, &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("query status = %d: %s", rec.Code, rec.Body.String())
	}
	found := false
	for _, item := range resp.Items {
		if strings.Contains(item.Content, "espresso") {
			found = true
		}
	}
	if !found {
		t.Errorf("query did not return the stored memory: %+v", resp.Items)
	}
}

func TestQueryRequiresText(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/api/query", queryRequest{UserID: "u1"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestClearMemory(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/api/memory", addMemoryRequest{
		Kind: "private", UserID: "u1", Content: "temporary fact",
	}, nil)

	var resp map[string]bool
	rec := env.do(t, http.MethodDelete, "/api/memory", clearMemoryRequest{
		Kind: "private", UserID: "u1",
	}, &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !resp["cleared"] {
		t.Error("clear reported nothing removed")
	}
}

func TestKnowledgeBaseLifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	var base knowledge.Base
	rec := env.do(t, http.MethodPost, "/api/bases", createBaseRequest{
		Name: "handbook", Scope: knowledge.ScopePublic,
	}, &base)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create base status = %d: %s", rec.Code, rec.Body.String())
	}

	var got knowledge.Base
	if rec := env.do(t, http.MethodGet, "/api/bases/"+base.ID, nil, &got); rec.Code != http.StatusOK {
		t.Fatalf("get base status = %d", rec.Code)
	}
	if got.Name != "handbook" {
		t.Errorf("base name = %q", got.Name)
	}

	if rec := env.do(t, http.MethodDelete, "/api/bases/"+base.ID, nil, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete base status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/bases/"+base.ID, nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("deleted base status = %d, want 404", rec.Code)
	}
}

func TestPurgeBaseConflictsUntilFilesDeleted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	var base knowledge.Base
	if rec := env.do(t, http.MethodPost, "/api/bases", createBaseRequest{Name: "scratch"}, &base); rec.Code != http.StatusCreated {
		t.Fatalf("create base status = %d", rec.Code)
	}
	var file knowledge.File
	if rec := env.do(t, http.MethodPost, "/api/bases/"+base.ID+"/files", createFileRequest{
		Path: "/tmp/a.txt", Hash: "h1",
	}, &file); rec.Code != http.StatusCreated {
		t.Fatalf("create file status = %d", rec.Code)
	}

	if rec := env.do(t, http.MethodDelete, "/api/bases/"+base.ID+"?purge=true", nil, nil); rec.Code != http.StatusConflict {
		t.Fatalf("purge with files status = %d, want 409", rec.Code)
	}

	if rec := env.do(t, http.MethodDelete, "/api/files/"+file.ID, nil, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete file status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/bases/"+base.ID+"?purge=true", nil, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("purge of emptied base status = %d", rec.Code)
	}
}

func TestFileRegistrationAndDuplicate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	var base knowledge.Base
	env.do(t, http.MethodPost, "/api/bases", createBaseRequest{Name: "docs", Scope: knowledge.ScopePrivate, OwnerID: "u1"}, &base)

	req := createFileRequest{Path: "/tmp/report.txt", Hash: "abc123"}
	var file knowledge.File
	rec := env.do(t, http.MethodPost, "/api/bases/"+base.ID+"/files", req, &file)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create file status = %d: %s", rec.Code, rec.Body.String())
	}
	if file.Status != knowledge.StatusPending {
		t.Errorf("file status = %q, want pending", file.Status)
	}

	if rec := env.do(t, http.MethodPost, "/api/bases/"+base.ID+"/files", req, nil); rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", rec.Code)
	}

	var files []knowledge.File
	if rec := env.do(t, http.MethodGet, "/api/bases/"+base.ID+"/files", nil, &files); rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if len(files) != 1 {
		t.Errorf("files = %d, want 1", len(files))
	}
}

func TestProcessFileQueueFull(t *testing.T) {
	t.Parallel()

	// Workers never started: the queue only fills until Enqueue
	// reports explicit backpressure.
	env := newTestEnv(t, nil)

	var base knowledge.Base
	env.do(t, http.MethodPost, "/api/bases", createBaseRequest{Name: "docs", Scope: knowledge.ScopePublic}, &base)

	makeFile := func(hash string) knowledge.File {
		var f knowledge.File
		env.do(t, http.MethodPost, "/api/bases/"+base.ID+"/files", createFileRequest{Path: "/tmp/" + hash, Hash: hash}, &f)
		return f
	}

	full := false
	for i := 0; i < 150; i++ {
		f := makeFile(strings.Repeat("x", 3) + string(rune('a'+i%26)) + string(rune('0'+i/26)))
		rec := env.do(t, http.MethodPost, "/api/files/"+f.ID+"/process", nil, nil)
		if rec.Code == http.StatusTooManyRequests {
			full = true
			break
		}
		if rec.Code != http.StatusAccepted {
			t.Fatalf("process status = %d: %s", rec.Code, rec.Body.String())
		}
	}
	if !full {
		t.Error("queue never reported backpressure")
	}
}

func TestProcessFileSync(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	var base knowledge.Base
	env.do(t, http.MethodPost, "/api/bases", createBaseRequest{
		Name: "docs", Scope: knowledge.ScopePrivate, OwnerID: "u1",
		ChunkSize: 1000, ChunkOverlap: 100,
	}, &base)

	path := filepath.Join(env.dir, "notes.txt")
	if err := os.WriteFile(path, []byte("Espresso machines need regular descaling. Hard water makes it worse."), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}

	var file knowledge.File
	env.do(t, http.MethodPost, "/api/bases/"+base.ID+"/files", createFileRequest{Path: path, Hash: "notes"}, &file)

	var processed knowledge.File
	rec := env.do(t, http.MethodPost, "/api/files/"+file.ID+"/process", processFileRequest{Sync: true}, &processed)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync process status = %d: %s", rec.Code, rec.Body.String())
	}
	if processed.Status != knowledge.StatusCompleted {
		t.Errorf("status = %q, want completed (error: %q)", processed.Status, processed.ErrorMessage)
	}
	if processed.ChunkCount != 1 {
		t.Errorf("chunk count = %d, want 1", processed.ChunkCount)
	}
}

func TestGetFileNotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	if rec := env.do(t, http.MethodGet, "/api/files/missing", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(cfg *Config) { cfg.BearerToken = "hunter2" })

	// /health stays open.
	if rec := env.do(t, http.MethodGet, "/health", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"text":"q"}`))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"text":"q","user_id":"u1"}`))
	req.Header.Set("Authorization", "Bearer hunter2")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d: %s", rec.Code, rec.Body.String())
	}
}
