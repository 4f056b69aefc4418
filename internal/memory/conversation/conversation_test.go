package conversation_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruochenliao/ai-training-course-sub000/internal/memory"
	"github.com/ruochenliao/ai-training-course-sub000/internal/memory/conversation"
)

func newStore(t *testing.T, userID, sessionID string) *conversation.Store {
	t.Helper()

	db, err := conversation.Open(filepath.Join(t.TempDir(), "conversation.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return conversation.New(db, userID, sessionID, nil)
}

func addTurn(t *testing.T, s *conversation.Store, role, content string) string {
	t.Helper()

	id, err := s.Add(context.Background(), content, map[string]string{"role": role})
	if err != nil {
		t.Fatalf("Add(%q): %v", content, err)
	}
	return id
}

func TestAddRejectsEmptyContent(t *testing.T) {
	t.Parallel()

	s := newStore(t, "alice", "s1")
	if _, err := s.Add(context.Background(), "   \n\t", nil); err != memory.ErrEmptyContent {
		t.Fatalf("err = %v, want ErrEmptyContent", err)
	}
}

func TestRecentOrderAndLimit(t *testing.T) {
	t.Parallel()

	s := newStore(t, "alice", "s1")
	for _, msg := range []string{"first", "second", "third", "fourth"} {
		addTurn(t, s, "user", msg)
	}

	res, err := s.Query(context.Background(), "", 3, memory.QueryOptions{Mode: memory.ModeRecent})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Items) != 3 {
		t.Fatalf("len(Items) = %d, want 3", len(res.Items))
	}
	want := []string{"fourth", "third", "second"}
	for i, w := range want {
		if res.Items[i].Content != w {
			t.Errorf("Items[%d].Content = %q, want %q", i, res.Items[i].Content, w)
		}
	}
}

func TestRecentFallbackOnBlankQuery(t *testing.T) {
	t.Parallel()

	s := newStore(t, "alice", "s1")
	addTurn(t, s, "user", "only entry")

	// Relevance mode with no query text has nothing to score.
	res, err := s.Query(context.Background(), "  ", 10, memory.QueryOptions{Mode: memory.ModeRelevance})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].Content != "only entry" {
		t.Fatalf("Items = %+v, want the single turn", res.Items)
	}
}

func TestRelevanceSearch(t *testing.T) {
	t.Parallel()

	s := newStore(t, "alice", "s1")
	addTurn(t, s, "user", "I adopted a golden retriever last spring")
	addTurn(t, s, "assistant", "Tell me more about the retriever")
	addTurn(t, s, "user", "We talked about tax returns yesterday")

	res, err := s.Query(context.Background(), "golden retriever", 10, memory.QueryOptions{Mode: memory.ModeRelevance})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2 (tax turn shares no terms)", len(res.Items))
	}
	// The substring match "golden retriever" outranks term overlap alone.
	if res.Items[0].Content != "I adopted a golden retriever last spring" {
		t.Errorf("top item = %q", res.Items[0].Content)
	}
	if res.Items[0].RelevanceScore <= res.Items[1].RelevanceScore {
		t.Errorf("scores not descending: %f <= %f",
			res.Items[0].RelevanceScore, res.Items[1].RelevanceScore)
	}
}

func TestRelevanceSearchNonASCIITerms(t *testing.T) {
	t.Parallel()

	s := newStore(t, "alice", "s1")
	addTurn(t, s, "user", "每天 喝 咖啡")
	addTurn(t, s, "user", "totally unrelated words")

	// The query is not a verbatim substring of the turn, so the match
	// can only come from term overlap on the non-ASCII token.
	res, err := s.Query(context.Background(), "每天 espresso", 10, memory.QueryOptions{Mode: memory.ModeRelevance})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Items) != 1 {
		t.Fatalf("len(Items) = %d, want 1", len(res.Items))
	}
	if res.Items[0].Content != "每天 喝 咖啡" {
		t.Errorf("matched %q", res.Items[0].Content)
	}
	if res.Items[0].RelevanceScore <= 0 {
		t.Errorf("score = %f, want > 0", res.Items[0].RelevanceScore)
	}
}

func TestRelevanceMinScore(t *testing.T) {
	t.Parallel()

	s := newStore(t, "alice", "s1")
	addTurn(t, s, "user", "the weather is nice in lisbon this time of year")

	res, err := s.Query(context.Background(), "weather", 10, memory.QueryOptions{
		Mode:     memory.ModeRelevance,
		MinScore: 0.9,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Items) != 0 {
		t.Fatalf("len(Items) = %d, want 0 with MinScore 0.9", len(res.Items))
	}
}

func TestSessionIsolation(t *testing.T) {
	t.Parallel()

	db, err := conversation.Open(filepath.Join(t.TempDir(), "conversation.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s1 := conversation.New(db, "alice", "s1", nil)
	s2 := conversation.New(db, "alice", "s2", nil)

	addTurn(t, s1, "user", "session one content")
	addTurn(t, s2, "user", "session two content")

	res, err := s1.Query(context.Background(), "", 10, memory.QueryOptions{Mode: memory.ModeRecent})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].Content != "session one content" {
		t.Fatalf("s1 sees %+v, want only its own turn", res.Items)
	}
}

func TestItemMetadataCarriesRoleAndSource(t *testing.T) {
	t.Parallel()

	s := newStore(t, "alice", "s1")
	addTurn(t, s, "assistant", "noted")

	res, err := s.Query(context.Background(), "", 1, memory.QueryOptions{Mode: memory.ModeRecent})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	item := res.Items[0]
	if item.Metadata["role"] != "assistant" {
		t.Errorf("role = %q, want assistant", item.Metadata["role"])
	}
	if item.Metadata["source"] != "conversation" {
		t.Errorf("source = %q, want conversation", item.Metadata["source"])
	}
	if item.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestClearSession(t *testing.T) {
	t.Parallel()

	s := newStore(t, "alice", "s1")
	addTurn(t, s, "user", "about to vanish")

	removed, err := s.Clear(context.Background(), memory.ClearOptions{})
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if !removed {
		t.Fatal("Clear removed nothing")
	}

	res, err := s.Query(context.Background(), "", 10, memory.QueryOptions{Mode: memory.ModeRecent})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Items) != 0 {
		t.Fatalf("len(Items) = %d after clear, want 0", len(res.Items))
	}

	// Second clear finds nothing.
	removed, err = s.Clear(context.Background(), memory.ClearOptions{})
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if removed {
		t.Error("second Clear reported removals")
	}
}

func TestClearOlderThanKeepsFreshTurns(t *testing.T) {
	t.Parallel()

	s := newStore(t, "alice", "s1")
	addTurn(t, s, "user", "fresh")

	removed, err := s.Clear(context.Background(), memory.ClearOptions{OlderThan: time.Hour})
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if removed {
		t.Error("Clear removed a turn newer than the cutoff")
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	s := newStore(t, "alice", "s1")
	addTurn(t, s, "user", "one")
	addTurn(t, s, "user", "two")

	status := s.HealthCheck(context.Background())
	if !status.Healthy {
		t.Errorf("Healthy = false: %s", status.LastError)
	}
	if status.Kind != memory.KindConversation {
		t.Errorf("Kind = %q", status.Kind)
	}
	if status.OwnerKey != "alice/s1" {
		t.Errorf("OwnerKey = %q", status.OwnerKey)
	}
	if status.ItemCount != 2 {
		t.Errorf("ItemCount = %d, want 2", status.ItemCount)
	}
}

func TestClosedStore(t *testing.T) {
	t.Parallel()

	s := newStore(t, "alice", "s1")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := s.Add(context.Background(), "late", nil); err != memory.ErrStoreClosed {
		t.Errorf("Add after close: err = %v, want ErrStoreClosed", err)
	}

	res, err := s.Query(context.Background(), "anything", 5, memory.QueryOptions{})
	if err != nil {
		t.Fatalf("Query after close: %v", err)
	}
	if !res.Degraded {
		t.Error("Query after close not degraded")
	}

	if !s.HealthCheck(context.Background()).Healthy {
		return
	}
	t.Error("HealthCheck after close reports healthy")
}
