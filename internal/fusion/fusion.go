// Package fusion merges results from the conversation, private, and
// public memory stores into one ranked context block and injects it
// into an outgoing message sequence before the agent generates a
// reply. A slow or failing store degrades the result instead of
// failing the query.
package fusion

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ruochenliao/ai-training-course-sub000/internal/memory"
	"github.com/ruochenliao/ai-training-course-sub000/internal/metrics"
)

const (
	defaultTimeout = 3 * time.Second
	defaultLimit   = 6
)

// Weights scales each source's relevance scores before merging.
// Private memory ranks highest: it holds confirmed user-specific facts
// and documents the user explicitly owns.
type Weights struct {
	Conversation float64
	Private      float64
	Public       float64
}

// DefaultWeights are the source weights used when none are configured.
func DefaultWeights() Weights {
	return Weights{Conversation: 0.8, Private: 1.5, Public: 0.6}
}

func (w Weights) forKind(kind memory.Kind) float64 {
	switch kind {
	case memory.KindConversation:
		return w.Conversation
	case memory.KindPrivate:
		return w.Private
	default:
		return w.Public
	}
}

// Scope identifies whose memory a fusion query reads. An empty UserID
// restricts the query to public memory only.
type Scope struct {
	UserID    string
	SessionID string
}

// Stores resolves per-owner store instances. Satisfied by
// *registry.Registry.
type Stores interface {
	Conversation(userID, sessionID string) (memory.Store, error)
	Private(userID string) (memory.Store, error)
	Public() (memory.Store, error)
}

// Item is one fused result: a memory item tagged with its source and
// weighted score.
type Item struct {
	memory.Item
	Source     memory.Kind
	Weight     float64
	FinalScore float64
}

// Context is the merged, ranked result of one fusion query. Degraded
// lists the sources that failed or timed out; their absence from Items
// is silent to the end user.
type Context struct {
	Items     []Item
	Degraded  []memory.Kind
	QueryTime time.Duration
}

// Empty reports whether fusion produced nothing to inject.
func (c Context) Empty() bool { return len(c.Items) == 0 }

// Config holds the configuration for an Adapter.
type Config struct {
	Stores  Stores
	Weights Weights

	// Timeout bounds each per-store query. Zero means 3s.
	Timeout time.Duration
	// Limit is the default top-K when the caller passes limit <= 0.
	Limit int

	Renderer *Renderer
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// withDefaults returns a copy of the config with zero values replaced by defaults.
func (c Config) withDefaults() Config {
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights()
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Limit <= 0 {
		c.Limit = defaultLimit
	}
	if c.Renderer == nil {
		c.Renderer = NewRenderer(RenderConfig{})
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.New(prometheus.NewRegistry())
	}
	return c
}

// Adapter fans queries out to the three memory stores, weights and
// merges the results, and rewrites message sequences to carry the
// fused context.
type Adapter struct {
	config Config
	logger *slog.Logger
}

// New creates an Adapter with the given configuration.
func New(cfg Config) (*Adapter, error) {
	cfg = cfg.withDefaults()
	if cfg.Stores == nil {
		return nil, ErrNoStores
	}
	return &Adapter{config: cfg, logger: cfg.Logger}, nil
}

// sourceResult carries one store's answer back from its goroutine.
type sourceResult struct {
	kind     memory.Kind
	items    []memory.Item
	degraded bool
}

// Query fans the text out to every store in scope, weights each item's
// relevance by its source, merges, and returns the top limit by final
// score. Degraded sources contribute nothing but never fail the query.
func (a *Adapter) Query(ctx context.Context, scope Scope, text string, limit int) (Context, error) {
	ctx, span := otel.Tracer("memoryd/fusion").Start(ctx, "fusion.Query")
	defer span.End()

	if limit <= 0 {
		limit = a.config.Limit
	}
	started := time.Now()
	a.config.Metrics.FusionQueries.Inc()

	budgets := subBudgets(limit, scope)
	results := make(chan sourceResult, len(budgets))
	for kind, budget := range budgets {
		go a.querySource(ctx, scope, kind, text, budget, results)
	}

	var (
		items    []Item
		degraded []memory.Kind
	)
	for range budgets {
		select {
		case <-ctx.Done():
			// Partial results are discarded on cancellation.
			return Context{}, ctx.Err()
		case res := <-results:
			if res.degraded {
				degraded = append(degraded, res.kind)
				a.config.Metrics.FusionDegraded.WithLabelValues(string(res.kind)).Inc()
				continue
			}
			weight := a.config.Weights.forKind(res.kind)
			for _, it := range res.items {
				items = append(items, Item{
					Item:       it,
					Source:     res.kind,
					Weight:     weight,
					FinalScore: it.RelevanceScore * weight,
				})
			}
		}
	}

	if ctx.Err() != nil {
		return Context{}, ctx.Err()
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].FinalScore > items[j].FinalScore
	})
	if len(items) > limit {
		items = items[:limit]
	}

	elapsed := time.Since(started)
	a.config.Metrics.FusionLatency.Observe(elapsed.Seconds())
	span.SetAttributes(
		attribute.Int("fusion.items", len(items)),
		attribute.Int("fusion.degraded", len(degraded)),
	)
	if len(degraded) > 0 {
		a.logger.Warn("fusion: query partially degraded",
			"degraded", degraded,
			"items", len(items),
		)
	}

	return Context{Items: items, Degraded: degraded, QueryTime: elapsed}, nil
}

// querySource runs one store query under the per-call timeout. Store
// resolution failures and query errors both collapse to a degraded
// source so the other two stores proceed unaffected.
func (a *Adapter) querySource(ctx context.Context, scope Scope, kind memory.Kind, text string, budget int, results chan<- sourceResult) {
	store, err := a.resolveStore(scope, kind)
	if err != nil {
		a.logger.Warn("fusion: store unavailable", "source", kind, "error", err)
		results <- sourceResult{kind: kind, degraded: true}
		return
	}

	qctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	res, err := store.Query(qctx, text, budget, memory.QueryOptions{Timeout: a.config.Timeout})
	if err != nil || res.Degraded {
		if err != nil {
			a.logger.Warn("fusion: source query failed", "source", kind, "error", err)
		}
		results <- sourceResult{kind: kind, degraded: true}
		return
	}
	results <- sourceResult{kind: kind, items: res.Items}
}

func (a *Adapter) resolveStore(scope Scope, kind memory.Kind) (memory.Store, error) {
	switch kind {
	case memory.KindConversation:
		return a.config.Stores.Conversation(scope.UserID, scope.SessionID)
	case memory.KindPrivate:
		return a.config.Stores.Private(scope.UserID)
	default:
		return a.config.Stores.Public()
	}
}

// subBudgets splits K across the sources in scope: roughly K/3 each,
// with the public store absorbing the remainder. An anonymous scope
// gets the whole budget on the public store.
func subBudgets(limit int, scope Scope) map[memory.Kind]int {
	if scope.UserID == "" {
		return map[memory.Kind]int{memory.KindPublic: limit}
	}
	third := limit / 3
	if third < 1 {
		third = 1
	}
	budgets := map[memory.Kind]int{
		memory.KindConversation: third,
		memory.KindPrivate:      third,
		memory.KindPublic:       limit - 2*third,
	}
	if budgets[memory.KindPublic] < 1 {
		budgets[memory.KindPublic] = 1
	}
	return budgets
}
