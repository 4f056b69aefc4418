package registry_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruochenliao/ai-training-course-sub000/internal/embed"
	"github.com/ruochenliao/ai-training-course-sub000/internal/memory"
	"github.com/ruochenliao/ai-training-course-sub000/internal/memory/conversation"
	"github.com/ruochenliao/ai-training-course-sub000/internal/memory/registry"
	"github.com/ruochenliao/ai-training-course-sub000/internal/memory/vector"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	convDB, err := conversation.Open(filepath.Join(t.TempDir(), "conversation.db"))
	if err != nil {
		t.Fatalf("conversation.Open: %v", err)
	}
	vecDB, err := vector.Open("")
	if err != nil {
		t.Fatalf("vector.Open: %v", err)
	}

	r, err := registry.New(registry.Config{
		ConversationDB: convDB,
		VectorDB:       vecDB,
		Embedder:       embed.NewMockEmbedder(0),
	})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	t.Cleanup(func() { _ = r.CloseAll() })
	return r
}

func TestNew_RequiresBackends(t *testing.T) {
	t.Parallel()

	vecDB, err := vector.Open("")
	if err != nil {
		t.Fatalf("vector.Open: %v", err)
	}
	if _, err := registry.New(registry.Config{VectorDB: vecDB, Embedder: embed.NewMockEmbedder(0)}); err == nil {
		t.Error("New accepted a nil conversation DB")
	}

	convDB, err := conversation.Open(filepath.Join(t.TempDir(), "conversation.db"))
	if err != nil {
		t.Fatalf("conversation.Open: %v", err)
	}
	defer func() { _ = convDB.Close() }()
	if _, err := registry.New(registry.Config{ConversationDB: convDB, VectorDB: vecDB}); err == nil {
		t.Error("New accepted a nil embedder")
	}
}

func TestInstanceReuse(t *testing.T) {
	t.Parallel()

	r := newRegistry(t)

	a, err := r.Private("alice")
	if err != nil {
		t.Fatalf("Private: %v", err)
	}
	b, err := r.Private("alice")
	if err != nil {
		t.Fatalf("Private: %v", err)
	}
	if a != b {
		t.Error("same owner returned distinct instances")
	}

	c, err := r.Private("bob")
	if err != nil {
		t.Fatalf("Private: %v", err)
	}
	if a == c {
		t.Error("distinct owners share one instance")
	}

	p1, err := r.Public()
	if err != nil {
		t.Fatalf("Public: %v", err)
	}
	p2, err := r.Public()
	if err != nil {
		t.Fatalf("Public: %v", err)
	}
	if p1 != p2 {
		t.Error("public store not a singleton")
	}

	if _, err := r.Conversation("alice", "s1"); err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if _, err := r.Conversation("alice", "s2"); err != nil {
		t.Fatalf("Conversation: %v", err)
	}

	// alice private, bob private, public, two conversation sessions.
	if got := r.Len(); got != 5 {
		t.Errorf("Len = %d, want 5", got)
	}
}

func TestConversationScopedPerSession(t *testing.T) {
	t.Parallel()

	r := newRegistry(t)
	ctx := context.Background()

	s1, err := r.Conversation("alice", "s1")
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if _, err := s1.Add(ctx, "hello from s1", map[string]string{"role": "user"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s2, err := r.Conversation("alice", "s2")
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	res, err := s2.Query(ctx, "", 10, memory.QueryOptions{Mode: memory.ModeRecent})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Items) != 0 {
		t.Errorf("s2 sees %d turns from s1", len(res.Items))
	}
}

func TestCleanupIdle(t *testing.T) {
	t.Parallel()

	r := newRegistry(t)

	if _, err := r.Private("alice"); err != nil {
		t.Fatalf("Private: %v", err)
	}
	if _, err := r.Public(); err != nil {
		t.Fatalf("Public: %v", err)
	}

	if evicted := r.CleanupIdle(time.Hour); evicted != 0 {
		t.Errorf("evicted %d fresh instances", evicted)
	}
	if evicted := r.CleanupIdle(0); evicted != 0 {
		t.Errorf("CleanupIdle(0) evicted %d", evicted)
	}

	time.Sleep(20 * time.Millisecond)
	if evicted := r.CleanupIdle(10 * time.Millisecond); evicted != 2 {
		t.Errorf("evicted %d, want 2", evicted)
	}
	if got := r.Len(); got != 0 {
		t.Errorf("Len = %d after cleanup, want 0", got)
	}

	// Eviction is transparent: the next request rebuilds the instance.
	if _, err := r.Private("alice"); err != nil {
		t.Fatalf("Private after eviction: %v", err)
	}
}

func TestHealthCheckAll(t *testing.T) {
	t.Parallel()

	r := newRegistry(t)
	ctx := context.Background()

	conv, err := r.Conversation("alice", "s1")
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if _, err := conv.Add(ctx, "turn", map[string]string{"role": "user"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	priv, err := r.Private("alice")
	if err != nil {
		t.Fatalf("Private: %v", err)
	}

	report := r.HealthCheckAll(ctx)
	if report.Status != "ok" {
		t.Errorf("Status = %q, want ok", report.Status)
	}
	if len(report.Instances) != 2 {
		t.Fatalf("len(Instances) = %d, want 2", len(report.Instances))
	}

	// A closed instance degrades the aggregate.
	if err := priv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	report = r.HealthCheckAll(ctx)
	if report.Status != "degraded" {
		t.Errorf("Status = %q after closing an instance, want degraded", report.Status)
	}
}

func TestCloseAll(t *testing.T) {
	t.Parallel()

	r := newRegistry(t)

	if _, err := r.Private("alice"); err != nil {
		t.Fatalf("Private: %v", err)
	}

	if err := r.CloseAll(); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	if err := r.CloseAll(); err != nil {
		t.Fatalf("second CloseAll: %v", err)
	}

	if _, err := r.Private("alice"); !errors.Is(err, registry.ErrRegistryClosed) {
		t.Errorf("Private after CloseAll: err = %v, want ErrRegistryClosed", err)
	}
	if _, err := r.Public(); !errors.Is(err, registry.ErrRegistryClosed) {
		t.Errorf("Public after CloseAll: err = %v, want ErrRegistryClosed", err)
	}
}
