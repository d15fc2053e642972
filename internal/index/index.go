// Package index provides the on-disk vector similarity index.
//
// chromem-go is a pure Go embedded vector database; each project key gets
// its own collection so queries can never cross namespaces. Embeddings are
// always supplied by the caller; the index never computes them.
package index

import (
	"context"
	"fmt"
	"sort"
	"time"

	chromem "github.com/philippgille/chromem-go"
)

// Entry is one similarity hit: a record id with its normalized score.
// CreatedAt is carried in the index so ties can break on recency without
// a metadata lookup.
type Entry struct {
	ID         string
	Similarity float64
	CreatedAt  time.Time
}

// Index wraps one project's chromem collection.
type Index struct {
	db  *chromem.DB
	col *chromem.Collection
}

// Open loads (or creates) the persistent index for a project under dir.
// The collection is rebuilt lazily from disk on first use; nothing is
// assumed to survive in memory between invocations.
func Open(dir, projectKey string) (*Index, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector db: %w", err)
	}

	col, err := db.GetOrCreateCollection(
		"engram_"+projectKey,
		map[string]string{"project_key": projectKey},
		nil, // embeddings are always provided by the caller
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection: %w", err)
	}

	return &Index{db: db, col: col}, nil
}

// Upsert stores the vector for a record id, replacing any previous one.
func (ix *Index) Upsert(ctx context.Context, id string, vector []float32, createdAt time.Time) error {
	if id == "" {
		return fmt.Errorf("upsert requires an id")
	}
	if len(vector) == 0 {
		return fmt.Errorf("upsert requires a vector")
	}

	// chromem has no replace; delete-then-add keeps ids unique.
	_ = ix.col.Delete(ctx, nil, nil, id)

	doc := chromem.Document{
		ID:        id,
		Embedding: vector,
		Metadata: map[string]string{
			"created_at": createdAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if err := ix.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to add vector: %w", err)
	}
	return nil
}

// Search returns at most k entries with similarity >= minSimilarity,
// ordered by similarity descending, ties broken by newer created_at.
// An empty index yields an empty result, never an error.
func (ix *Index) Search(ctx context.Context, query []float32, k int, minSimilarity float64) ([]Entry, error) {
	n := ix.col.Count()
	if n == 0 || k <= 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}

	results, err := ix.col.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}

	var entries []Entry
	for _, res := range results {
		sim := float64(res.Similarity)
		if sim < minSimilarity {
			continue
		}
		createdAt, _ := time.Parse(time.RFC3339Nano, res.Metadata["created_at"])
		entries = append(entries, Entry{ID: res.ID, Similarity: sim, CreatedAt: createdAt})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Similarity != entries[j].Similarity {
			return entries[i].Similarity > entries[j].Similarity
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// Delete removes a record's vector. Missing ids are not an error.
func (ix *Index) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := ix.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to delete vector: %w", err)
	}
	return nil
}

// Count reports how many vectors the project holds.
func (ix *Index) Count() int {
	return ix.col.Count()
}

// Reset drops every vector in the project's collection.
func (ix *Index) Reset(ctx context.Context, projectKey string) error {
	if err := ix.db.DeleteCollection("engram_" + projectKey); err != nil {
		return fmt.Errorf("failed to reset collection: %w", err)
	}
	col, err := ix.db.GetOrCreateCollection(
		"engram_"+projectKey,
		map[string]string{"project_key": projectKey},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to recreate collection: %w", err)
	}
	ix.col = col
	return nil
}
