package fusion_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ruochenliao/ai-training-course-sub000/internal/fusion"
	"github.com/ruochenliao/ai-training-course-sub000/internal/memory"
)

// stubStore returns canned items, optionally degraded or slow.
type stubStore struct {
	items    []memory.Item
	degraded bool
	err      error
	delay    time.Duration
}

func (s *stubStore) Add(context.Context, string, map[string]string) (string, error) {
	return "", nil
}

func (s *stubStore) Query(ctx context.Context, _ string, limit int, _ memory.QueryOptions) (memory.QueryResult, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return memory.DegradedResult("timeout"), nil
		}
	}
	if s.err != nil {
		return memory.QueryResult{}, s.err
	}
	if s.degraded {
		return memory.DegradedResult("backend down"), nil
	}
	items := s.items
	if len(items) > limit {
		items = items[:limit]
	}
	return memory.QueryResult{Items: items, TotalCount: len(items)}, nil
}

func (s *stubStore) Clear(context.Context, memory.ClearOptions) (bool, error) { return false, nil }

func (s *stubStore) HealthCheck(context.Context) memory.HealthStatus {
	return memory.HealthStatus{Healthy: true}
}

func (s *stubStore) Close() error { return nil }

// stubStores hands one stub per source.
type stubStores struct {
	conversation memory.Store
	private      memory.Store
	public       memory.Store

	conversationErr error
}

func (s *stubStores) Conversation(string, string) (memory.Store, error) {
	if s.conversationErr != nil {
		return nil, s.conversationErr
	}
	return s.conversation, nil
}

func (s *stubStores) Private(string) (memory.Store, error) { return s.private, nil }
func (s *stubStores) Public() (memory.Store, error)        { return s.public, nil }

func item(id, content string, score float64) memory.Item {
	return memory.Item{ID: id, Content: content, RelevanceScore: score}
}

func newAdapter(t *testing.T, cfg fusion.Config) *fusion.Adapter {
	t.Helper()
	a, err := fusion.New(cfg)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return a
}

func TestQuery_WeightOrdering(t *testing.T) {
	t.Parallel()

	// Identical base relevance everywhere: private must outrank
	// conversation, which outranks public.
	stores := &stubStores{
		conversation: &stubStore{items: []memory.Item{item("c1", "chat", 0.9)}},
		private:      &stubStore{items: []memory.Item{item("p1", "fact", 0.9)}},
		public:       &stubStore{items: []memory.Item{item("k1", "doc", 0.9)}},
	}
	a := newAdapter(t, fusion.Config{Stores: stores})

	fc, err := a.Query(context.Background(), fusion.Scope{UserID: "u1", SessionID: "s1"}, "query", 9)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(fc.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(fc.Items))
	}

	wantOrder := []memory.Kind{memory.KindPrivate, memory.KindConversation, memory.KindPublic}
	for i, kind := range wantOrder {
		if fc.Items[i].Source != kind {
			t.Errorf("rank %d source = %q, want %q", i, fc.Items[i].Source, kind)
		}
	}

	if got, want := fc.Items[0].FinalScore, 0.9*1.5; got != want {
		t.Errorf("private final score = %v, want %v", got, want)
	}
	if got, want := fc.Items[2].FinalScore, 0.9*0.6; got != want {
		t.Errorf("public final score = %v, want %v", got, want)
	}
}

func TestQuery_TruncatesToLimit(t *testing.T) {
	t.Parallel()

	many := make([]memory.Item, 10)
	for i := range many {
		many[i] = item("p", "fact", 0.5)
	}
	stores := &stubStores{
		conversation: &stubStore{},
		private:      &stubStore{items: many},
		public:       &stubStore{},
	}
	a := newAdapter(t, fusion.Config{Stores: stores})

	fc, err := a.Query(context.Background(), fusion.Scope{UserID: "u1"}, "query", 6)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(fc.Items) > 6 {
		t.Errorf("items = %d, want <= 6", len(fc.Items))
	}
}

func TestQuery_DegradedSourceDoesNotFail(t *testing.T) {
	t.Parallel()

	stores := &stubStores{
		conversation: &stubStore{degraded: true},
		private:      &stubStore{err: errors.New("store exploded")},
		public:       &stubStore{items: []memory.Item{item("k1", "doc", 0.8)}},
	}
	a := newAdapter(t, fusion.Config{Stores: stores})

	fc, err := a.Query(context.Background(), fusion.Scope{UserID: "u1", SessionID: "s1"}, "query", 6)
	if err != nil {
		t.Fatalf("query should not fail on degraded sources: %v", err)
	}
	if len(fc.Items) != 1 || fc.Items[0].Source != memory.KindPublic {
		t.Fatalf("items = %+v, want just the public item", fc.Items)
	}
	if len(fc.Degraded) != 2 {
		t.Errorf("degraded = %v, want two sources", fc.Degraded)
	}
}

func TestQuery_SlowSourceTimesOut(t *testing.T) {
	t.Parallel()

	stores := &stubStores{
		conversation: &stubStore{delay: time.Second, items: []memory.Item{item("c1", "slow", 0.9)}},
		private:      &stubStore{items: []memory.Item{item("p1", "fast", 0.9)}},
		public:       &stubStore{},
	}
	a := newAdapter(t, fusion.Config{Stores: stores, Timeout: 50 * time.Millisecond})

	start := time.Now()
	fc, err := a.Query(context.Background(), fusion.Scope{UserID: "u1", SessionID: "s1"}, "query", 6)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("query took %v, slow source should not block", elapsed)
	}
	for _, it := range fc.Items {
		if it.ID == "c1" {
			t.Error("timed-out source contributed an item")
		}
	}
}

func TestQuery_StoreResolutionFailureIsDegraded(t *testing.T) {
	t.Parallel()

	stores := &stubStores{
		conversation:    &stubStore{},
		conversationErr: errors.New("registry closed"),
		private:         &stubStore{items: []memory.Item{item("p1", "fact", 0.7)}},
		public:          &stubStore{},
	}
	a := newAdapter(t, fusion.Config{Stores: stores})

	fc, err := a.Query(context.Background(), fusion.Scope{UserID: "u1", SessionID: "s1"}, "query", 6)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	found := false
	for _, k := range fc.Degraded {
		if k == memory.KindConversation {
			found = true
		}
	}
	if !found {
		t.Errorf("degraded = %v, want conversation listed", fc.Degraded)
	}
}

func TestQuery_AnonymousScopeIsPublicOnly(t *testing.T) {
	t.Parallel()

	private := &stubStore{items: []memory.Item{item("p1", "secret", 0.9)}}
	stores := &stubStores{
		conversation: &stubStore{items: []memory.Item{item("c1", "chat", 0.9)}},
		private:      private,
		public:       &stubStore{items: []memory.Item{item("k1", "doc", 0.9)}},
	}
	a := newAdapter(t, fusion.Config{Stores: stores})

	fc, err := a.Query(context.Background(), fusion.Scope{}, "query", 6)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, it := range fc.Items {
		if it.Source != memory.KindPublic {
			t.Errorf("anonymous scope returned %q item %q", it.Source, it.ID)
		}
	}
	if len(fc.Items) != 1 {
		t.Errorf("items = %d, want only the public item", len(fc.Items))
	}
}

func TestQuery_CancellationDiscardsResults(t *testing.T) {
	t.Parallel()

	stores := &stubStores{
		conversation: &stubStore{delay: time.Second},
		private:      &stubStore{delay: time.Second},
		public:       &stubStore{delay: time.Second},
	}
	a := newAdapter(t, fusion.Config{Stores: stores, Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	fc, err := a.Query(ctx, fusion.Scope{UserID: "u1"}, "query", 6)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(fc.Items) != 0 {
		t.Errorf("cancelled query returned %d items", len(fc.Items))
	}
}

func TestNew_RequiresStores(t *testing.T) {
	t.Parallel()
	if _, err := fusion.New(fusion.Config{}); !errors.Is(err, fusion.ErrNoStores) {
		t.Fatalf("error = %v, want ErrNoStores", err)
	}
}
