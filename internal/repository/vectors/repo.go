// Package vectors persists embedded document chunks as Redis hashes and
// exposes namespace-scoped KNN search over them.
package vectors

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/db"
	"github.com/parleyhq/parley/internal/domain"
)

// store is the consumer interface for vector persistence (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index, query string) (int, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	DropIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)
}

// Vector is one embedded chunk to upsert.
type Vector struct {
	ID       string
	Values   []float32
	Content  string
	Source   string
	Title    string
	Modified time.Time
}

// Stats summarizes the stored corpus.
type Stats struct {
	TotalDocuments int                       `json:"totalDocuments"`
	Namespaces     map[string]NamespaceStats `json:"namespaces,omitempty"`
}

// NamespaceStats is per-namespace write activity, kept in a metadata hash
// alongside the documents.
type NamespaceStats struct {
	LastUpsertAt time.Time `json:"lastUpsertAt"`
	LastBatch    int       `json:"lastBatch"`
}

// Repo implements the vector read/write paths over a db store.
type Repo struct {
	store     store
	keyPrefix string
	dims      int
}

// New creates a vectors repository. keyPrefix namespaces all Redis keys,
// dims is the embedding dimensionality enforced by the FT index.
func New(s store, keyPrefix string, dims int) *Repo {
	return &Repo{store: s, keyPrefix: keyPrefix, dims: dims}
}

// IndexName returns the FT index guarding the document hashes.
func (r *Repo) IndexName() string {
	return r.keyPrefix + "docs:idx"
}

func (r *Repo) docKeyPrefix() string {
	return r.keyPrefix + "doc:"
}

func (r *Repo) docKey(namespace, id string) string {
	return r.docKeyPrefix() + namespace + ":" + id
}

func (r *Repo) schemaKey() string {
	return r.keyPrefix + "docs:schema"
}

func (r *Repo) metaKeyPrefix() string {
	return r.keyPrefix + "ns:"
}

func (r *Repo) metaKey(namespace string) string {
	return r.metaKeyPrefix() + namespace
}

// EnsureIndex creates the FT index when absent. The embedding
// dimensionality is recorded next to the index; when a restart comes up
// with different dims (an embedding model switch) the stale index is
// dropped and rebuilt, since its vectors are unsearchable anyway.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, r.IndexName())
	if err != nil {
		return fmt.Errorf("probe index: %w", err)
	}

	if exists {
		raw, err := r.store.Get(ctx, r.schemaKey())
		switch {
		case errors.Is(err, db.ErrKeyNotFound):
			// Index predates the schema marker; adopt it as-is.
			return r.recordSchema(ctx)
		case err != nil:
			return fmt.Errorf("read index schema: %w", err)
		}

		if dims, convErr := strconv.Atoi(string(raw)); convErr == nil && dims == r.dims {
			return nil
		}
		if err := r.store.DropIndex(ctx, r.IndexName()); err != nil && !errors.Is(err, db.ErrIndexNotFound) {
			return fmt.Errorf("drop stale index: %w", err)
		}
	}

	def := db.NewIndex(r.IndexName(), r.docKeyPrefix()).
		Tag("namespace").
		Text("content").
		Numeric("modified_at").
		VectorHNSW("vector", r.dims, db.DistanceCosine, 16, 200)

	if err := r.store.CreateIndex(ctx, def); err != nil && err != db.ErrIndexExists {
		return fmt.Errorf("create index: %w", err)
	}
	return r.recordSchema(ctx)
}

func (r *Repo) recordSchema(ctx context.Context) error {
	if err := r.store.Set(ctx, r.schemaKey(), []byte(strconv.Itoa(r.dims))); err != nil {
		return fmt.Errorf("record index schema: %w", err)
	}
	return nil
}

// Upsert writes vectors into a namespace. Existing IDs are overwritten.
func (r *Repo) Upsert(ctx context.Context, namespace string, vectors []Vector) (int, error) {
	if namespace == "" {
		return 0, fmt.Errorf("namespace is required")
	}

	items := make([]db.HashSetItem, 0, len(vectors))
	for _, v := range vectors {
		if v.ID == "" || len(v.Values) == 0 {
			continue
		}
		fields := map[string]string{
			"namespace": namespace,
			"content":   v.Content,
			"vector":    vectorToBytes(v.Values),
		}
		if v.Source != "" {
			fields["source"] = v.Source
		}
		if v.Title != "" {
			fields["title"] = v.Title
		}
		if !v.Modified.IsZero() {
			fields["modified_at"] = strconv.FormatInt(v.Modified.Unix(), 10)
		}
		items = append(items, db.HashSetItem{Key: r.docKey(namespace, v.ID), Fields: fields})
	}

	if len(items) == 0 {
		return 0, nil
	}
	if err := r.store.HSetMulti(ctx, items); err != nil {
		return 0, fmt.Errorf("upsert %s: %w", namespace, err)
	}

	meta := map[string]string{
		"last_upsert_at": strconv.FormatInt(time.Now().Unix(), 10),
		"last_batch":     strconv.Itoa(len(items)),
	}
	if err := r.store.HSet(ctx, r.metaKey(namespace), meta); err != nil {
		return len(items), fmt.Errorf("record namespace meta %s: %w", namespace, err)
	}
	return len(items), nil
}

// Search runs a KNN query restricted to one namespace and adapts the raw
// entries into normalized hits.
func (r *Repo) Search(ctx context.Context, vector []float32, namespace string, topK int) ([]domain.Hit, error) {
	sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.IndexName(),
		Namespace:    namespace,
		Vector:       vector,
		K:            topK,
		ReturnFields: []string{"content", "source", "title", "__vector_score"},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", namespace, err)
	}

	hits := make([]domain.Hit, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		id := strings.TrimPrefix(entry.Key, r.docKeyPrefix()+namespace+":")
		hits = append(hits, domain.NormalizeHit(
			id,
			entry.Score,
			0,
			entry.Fields["content"],
			"",
			namespace,
			entry.Fields["source"],
			entry.Fields["title"],
		))
	}
	return hits, nil
}

// Delete removes specific vectors from a namespace. Empty ids means
// delete the whole namespace, including its metadata hash. The returned
// count covers only keys that actually existed.
func (r *Repo) Delete(ctx context.Context, namespace string, ids []string) (int, error) {
	if namespace == "" {
		return 0, fmt.Errorf("namespace is required")
	}

	if len(ids) == 0 {
		keys, err := r.store.Scan(ctx, r.docKeyPrefix()+namespace+":*")
		if err != nil {
			return 0, fmt.Errorf("scan %s: %w", namespace, err)
		}
		deleted := 0
		for _, key := range keys {
			if err := r.store.Del(ctx, key); err != nil {
				return deleted, fmt.Errorf("delete %s: %w", key, err)
			}
			deleted++
		}
		if err := r.store.Del(ctx, r.metaKey(namespace)); err != nil {
			return deleted, fmt.Errorf("delete namespace meta %s: %w", namespace, err)
		}
		return deleted, nil
	}

	deleted := 0
	for _, id := range ids {
		key := r.docKey(namespace, id)
		found, err := r.store.Exists(ctx, key)
		if err != nil {
			return deleted, fmt.Errorf("probe %s: %w", key, err)
		}
		if !found {
			continue
		}
		if err := r.store.Del(ctx, key); err != nil {
			return deleted, fmt.Errorf("delete %s: %w", key, err)
		}
		deleted++
	}
	return deleted, nil
}

// Stats counts all indexed documents and reads back the per-namespace
// write activity recorded by Upsert.
func (r *Repo) Stats(ctx context.Context) (Stats, error) {
	total, err := r.store.SearchCount(ctx, r.IndexName(), "*")
	if err != nil {
		return Stats{}, fmt.Errorf("count documents: %w", err)
	}

	metaKeys, err := r.store.Scan(ctx, r.metaKeyPrefix()+"*")
	if err != nil {
		return Stats{}, fmt.Errorf("scan namespace meta: %w", err)
	}

	stats := Stats{TotalDocuments: total}
	for _, key := range metaKeys {
		fields, err := r.store.HGetAll(ctx, key)
		if err != nil {
			return Stats{}, fmt.Errorf("read namespace meta %s: %w", key, err)
		}
		ts, err := strconv.ParseInt(fields["last_upsert_at"], 10, 64)
		if err != nil {
			continue
		}
		batch, _ := strconv.Atoi(fields["last_batch"])
		if stats.Namespaces == nil {
			stats.Namespaces = make(map[string]NamespaceStats, len(metaKeys))
		}
		stats.Namespaces[strings.TrimPrefix(key, r.metaKeyPrefix())] = NamespaceStats{
			LastUpsertAt: time.Unix(ts, 0).UTC(),
			LastBatch:    batch,
		}
	}
	return stats, nil
}
