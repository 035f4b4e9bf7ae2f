// Package skcache resolves natural keys to surrogate keys against the
// warehouse's dimension tables. Fact loaders call it once per batch;
// resolved pairs are cached because surrogate keys are stable across
// refreshes, so a pair observed once stays valid.
package skcache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/plenariolabs/plenario/pkg/duck"
	"github.com/plenariolabs/plenario/pkg/indexer/metrics"
)

const (
	resolveChunkSize = 500
	cacheTTL         = 30 * time.Minute
)

// Resolver maps natural keys to surrogate keys.
type Resolver struct {
	log   *slog.Logger
	cache *ristretto.Cache
}

func NewResolver(log *slog.Logger) (*Resolver, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1_000_000,
		MaxCost:     100_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create surrogate key cache: %w", err)
	}

	return &Resolver{log: log, cache: cache}, nil
}

func cacheKey(table, id string) string {
	return table + ":" + id
}

// ResolveAll maps natural keys to surrogate keys in the given dimension
// table (role-playing views work too). Keys absent from the dimension
// are omitted from the result; callers decide whether to skip the row
// or fail the load.
func (r *Resolver) ResolveAll(ctx context.Context, conn duck.Connection, table, surrogateKey, naturalKey string, ids []string) (map[string]int64, error) {
	resolved := make(map[string]int64, len(ids))

	var misses []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		if val, ok := r.cache.Get(cacheKey(table, id)); ok {
			resolved[id] = val.(int64)
			metrics.SKCacheTotal.WithLabelValues(table, "hit").Inc()
			continue
		}
		metrics.SKCacheTotal.WithLabelValues(table, "miss").Inc()
		misses = append(misses, id)
	}

	for start := 0; start < len(misses); start += resolveChunkSize {
		end := min(start+resolveChunkSize, len(misses))
		if err := r.resolveChunk(ctx, conn, table, surrogateKey, naturalKey, misses[start:end], resolved); err != nil {
			return nil, err
		}
	}
	r.cache.Wait()

	return resolved, nil
}

func (r *Resolver) resolveChunk(ctx context.Context, conn duck.Connection, table, surrogateKey, naturalKey string, ids []string, resolved map[string]int64) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf(
		`SELECT %s, %s FROM %s WHERE %s IN (%s)`,
		naturalKey, surrogateKey, table, naturalKey, placeholders,
	)

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to resolve %s surrogate keys: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var sk int64
		if err := rows.Scan(&id, &sk); err != nil {
			return fmt.Errorf("failed to scan %s surrogate key: %w", table, err)
		}
		resolved[id] = sk
		r.cache.SetWithTTL(cacheKey(table, id), sk, 0, cacheTTL)
	}
	return rows.Err()
}
