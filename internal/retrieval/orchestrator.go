// Package retrieval fans a query out across namespace searches with
// shared cancellation and a single-flight policy per session.
package retrieval

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/intent"
	"github.com/parleyhq/parley/internal/logger"
	"github.com/parleyhq/parley/internal/metrics"
)

// Defaults for the orchestrator budgets.
const (
	DefaultTopK          = 5
	DefaultEmbedTimeout  = 5 * time.Second
	DefaultSearchTimeout = 20 * time.Second

	// transcriptFallbackChars bounds the pseudo-hit synthesized from the
	// raw transcript when the transcript namespace comes back empty.
	transcriptFallbackChars = 2000
	transcriptFallbackScore = 0.3
)

// Config tunes the orchestrator.
type Config struct {
	TopK          int
	EmbedTimeout  time.Duration
	SearchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = DefaultEmbedTimeout
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = DefaultSearchTimeout
	}
	return c
}

// Orchestrator runs namespace fan-out retrievals. At most one retrieval
// is live per session: a new query cancels the previous one.
type Orchestrator struct {
	embedder domain.Embedder
	searcher Searcher
	cfg      Config

	mu       sync.Mutex
	inflight map[string]*flight
}

// flight identifies one live retrieval so a finished one only releases
// the session slot if it still owns it.
type flight struct {
	cancel context.CancelFunc
}

// New creates an orchestrator.
func New(embedder domain.Embedder, searcher Searcher, cfg Config) *Orchestrator {
	return &Orchestrator{
		embedder: embedder,
		searcher: searcher,
		cfg:      cfg.withDefaults(),
		inflight: make(map[string]*flight),
	}
}

// Retrieve embeds the query once, selects the namespace set from the
// source classification, and searches all selected namespaces in
// parallel. A namespace search that fails resolves to an empty list so one
// bad namespace never blocks the rest. Returns domain.ErrSuperseded when a
// newer query for the same session cancelled this one.
func (o *Orchestrator) Retrieve(ctx context.Context, query domain.Query, session domain.Session) (Result, error) {
	ctx, finish := o.begin(ctx, query.SessionID)
	defer finish()

	log := logger.FromContext(ctx)

	namespaces := o.selectNamespaces(query)

	// Embed once under a short budget. On failure each namespace search
	// self-embeds under its own, more generous budget.
	vector := o.embedOnce(ctx, query.Text, log)

	searchCtx, cancelSearches := context.WithTimeout(ctx, o.cfg.SearchTimeout)
	defer cancelSearches()

	type nsResult struct {
		namespace string
		hits      []domain.Hit
	}

	results := make(chan nsResult, len(namespaces))
	var wg sync.WaitGroup
	for _, ns := range namespaces {
		wg.Add(1)
		go func(ns string) {
			defer wg.Done()
			results <- nsResult{namespace: ns, hits: o.searchNamespace(searchCtx, ns, query.Text, vector, log)}
		}(ns)
	}
	wg.Wait()
	close(results)

	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return Result{}, domain.ErrSuperseded
		}
		return Result{}, err
	}

	out := Result{HitsByNamespace: make(map[string][]domain.Hit, len(namespaces))}
	for r := range results {
		out.HitsByNamespace[r.namespace] = r.hits
		out.Merged = append(out.Merged, r.hits...)
	}

	o.addTranscriptFallback(&out, query, session)
	return out, nil
}

// Cancel aborts any in-flight retrieval for the session.
func (o *Orchestrator) Cancel(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if f, ok := o.inflight[sessionID]; ok {
		f.cancel()
		delete(o.inflight, sessionID)
	}
}

// begin registers this retrieval as the session's live one, cancelling
// any predecessor. The returned finish func releases the slot unless a
// newer retrieval already took it over.
func (o *Orchestrator) begin(ctx context.Context, sessionID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	if sessionID == "" {
		return ctx, cancel
	}

	f := &flight{cancel: cancel}
	o.mu.Lock()
	if prev, ok := o.inflight[sessionID]; ok {
		prev.cancel()
	}
	o.inflight[sessionID] = f
	o.mu.Unlock()

	return ctx, func() {
		o.mu.Lock()
		// A newer query may have replaced this flight already.
		if current, ok := o.inflight[sessionID]; ok && current == f {
			delete(o.inflight, sessionID)
		}
		o.mu.Unlock()
		cancel()
	}
}

func (o *Orchestrator) selectNamespaces(query domain.Query) []string {
	switch intent.ClassifySource(query.Text) {
	case intent.TranscriptOnly:
		return []string{domain.TranscriptNamespace(query.SessionID)}
	case intent.FilesOnly:
		return []string{domain.FilesNamespace(query.SessionID)}
	default:
		return domain.AllNamespaces(query.SessionID)
	}
}

func (o *Orchestrator) embedOnce(ctx context.Context, text string, log *zap.Logger) []float32 {
	embedCtx, cancel := context.WithTimeout(ctx, o.cfg.EmbedTimeout)
	defer cancel()

	result, err := o.embedder.Embed(embedCtx, text)
	if err != nil {
		log.Warn("query embedding failed, namespaces will self-embed", zap.Error(err))
		return nil
	}
	return result.Embedding
}

// searchNamespace resolves to an empty hit list on any failure, including
// cancellation. The outcome is recorded per namespace.
func (o *Orchestrator) searchNamespace(ctx context.Context, namespace, text string, vector []float32, log *zap.Logger) []domain.Hit {
	if vector == nil {
		result, err := o.embedder.Embed(ctx, text)
		if err != nil {
			o.recordOutcome(ctx, namespace, err, log)
			return nil
		}
		vector = result.Embedding
	}

	hits, err := o.searcher.Search(ctx, vector, namespace, o.cfg.TopK)
	if err != nil {
		o.recordOutcome(ctx, namespace, err, log)
		return nil
	}

	if len(hits) == 0 {
		metrics.NamespaceSearchesTotal.WithLabelValues("empty").Inc()
	} else {
		metrics.NamespaceSearchesTotal.WithLabelValues("ok").Inc()
	}
	return hits
}

func (o *Orchestrator) recordOutcome(ctx context.Context, namespace string, err error, log *zap.Logger) {
	if ctx.Err() != nil {
		metrics.NamespaceSearchesTotal.WithLabelValues("cancelled").Inc()
		return
	}
	metrics.NamespaceSearchesTotal.WithLabelValues("error").Inc()
	log.Warn("namespace search failed", zap.String("namespace", namespace), zap.Error(err))
}

// addTranscriptFallback synthesizes a low-confidence pseudo-hit from the
// raw transcript when the transcript namespace was searched and came back
// empty, so a meeting summary is still answerable.
func (o *Orchestrator) addTranscriptFallback(out *Result, query domain.Query, session domain.Session) {
	if session.Transcript == "" {
		return
	}
	ns := domain.TranscriptNamespace(query.SessionID)
	hits, searched := out.HitsByNamespace[ns]
	if !searched || len(hits) > 0 {
		return
	}

	text := session.Transcript
	if len(text) > transcriptFallbackChars {
		text = text[:transcriptFallbackChars]
	}
	// Pinned: the fallback score is below every relevance floor on
	// purpose, yet the hit must survive filtering and reach the prompt.
	hit := domain.Hit{
		ID:          "transcript-fallback",
		Score:       transcriptFallbackScore,
		SourceLabel: "Meeting Transcript",
		Content:     text,
		Namespace:   ns,
		Pinned:      true,
	}
	out.HitsByNamespace[ns] = []domain.Hit{hit}
	out.Merged = append(out.Merged, hit)
}
