// Package engine orchestrates capture and retrieval across the two
// stores. A memory lives in two places under one id: its vector in the
// similarity index and its row in the metadata store. Writes order the
// two so that a failure never leaves an orphaned vector behind.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/engram-sh/engram/internal/config"
	"github.com/engram-sh/engram/internal/extract"
	"github.com/engram-sh/engram/internal/index"
	"github.com/engram-sh/engram/internal/observe"
	"github.com/engram-sh/engram/internal/store"
)

// ErrDisabled is returned when the config turns the engine off.
var ErrDisabled = errors.New("engine: memory system disabled")

// dedupOverlap is the token overlap above which a candidate counts as a
// near-duplicate of a recently stored record.
const dedupOverlap = 0.9

// preserveWindow bounds how far back Preserve scans.
const preserveWindow = 24 * time.Hour

// preserveKeep caps how many records one compaction pass protects.
const preserveKeep = 50

// MetadataStore is the relational half of the engine.
type MetadataStore interface {
	Insert(r *store.Record) error
	Get(projectKey, id string) (*store.Record, error)
	Query(projectKey string, f store.Filters, limit int) ([]*store.Record, error)
	Delete(projectKey, id string) (bool, error)
	DeleteProject(projectKey string) (int, error)
	TouchAccess(projectKey string, ids []string) error
	Stats(projectKey string) (*store.ProjectStats, error)
	StartSession(sess *store.Session) error
	EndSession(id, summary string, memoryCount int) error
}

// VectorIndex is the similarity half of the engine.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, vector []float32, createdAt time.Time) error
	Search(ctx context.Context, query []float32, k int, minSimilarity float64) ([]index.Entry, error)
	Delete(ctx context.Context, id string) error
	Count() int
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// Result is one retrieved memory with its similarity score.
type Result struct {
	*store.Record
	Similarity float64
}

// Engine is the capture/retrieve facade for one project.
type Engine struct {
	project string
	cfg     config.Settings
	meta    MetadataStore
	vectors VectorIndex
	embed   Embedder
	obs     *observe.Observer
}

func New(projectKey string, cfg config.Settings, meta MetadataStore, vectors VectorIndex, embed Embedder, obs *observe.Observer) *Engine {
	return &Engine{
		project: projectKey,
		cfg:     cfg,
		meta:    meta,
		vectors: vectors,
		embed:   embed,
		obs:     obs,
	}
}

// ProjectKey returns the namespace this engine writes into.
func (e *Engine) ProjectKey() string {
	return e.project
}

// RecordID derives the content-addressed id shared by both stores.
// Identical content of the same type in the same project always maps to
// the same id, which makes re-capture idempotent.
func RecordID(projectKey, recordType, content string) string {
	sum := sha256.Sum256([]byte(projectKey + ":" + recordType + ":" + content))
	return hex.EncodeToString(sum[:])[:16]
}

// Capture stores the candidates that pass gating, returning how many
// were written. Individual candidate failures are logged and skipped;
// one bad candidate never loses the rest of the batch.
func (e *Engine) Capture(ctx context.Context, sessionID string, cands []extract.Candidate) (int, error) {
	if !e.cfg.Enabled {
		return 0, ErrDisabled
	}

	ctx, span := e.obs.StartSpan(ctx, "engine.capture")
	defer span.End()

	stored := 0
	for _, cand := range cands {
		ok, err := e.captureOne(ctx, sessionID, cand)
		if err != nil {
			e.obs.Log().Warn().Str("type", cand.Type).Err(err).Msg("failed to store candidate")
			continue
		}
		if ok {
			stored++
		}
	}
	return stored, nil
}

func (e *Engine) captureOne(ctx context.Context, sessionID string, cand extract.Candidate) (bool, error) {
	if len(cand.Content) < e.cfg.MinContentLength {
		return false, nil
	}
	if e.toolExcluded(cand.Metadata["tool"]) {
		return false, nil
	}

	id := RecordID(e.project, cand.Type, cand.Content)

	// Same content already stored: idempotent no-op.
	if _, err := e.meta.Get(e.project, id); err == nil {
		return false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	dup, err := e.isNearDuplicate(cand.Type, cand.Content)
	if err != nil {
		return false, err
	}
	if dup {
		return false, nil
	}

	vec, err := e.embed.Embed(ctx, cand.Content)
	if err != nil {
		// Embedding providers can be offline; the candidate is dropped,
		// never queued.
		e.obs.Log().Warn().Str("provider", e.embed.Name()).Err(err).Msg("embedding failed, dropping candidate")
		return false, nil
	}

	now := time.Now().UTC()
	if err := e.vectors.Upsert(ctx, id, vec, now); err != nil {
		return false, fmt.Errorf("vector upsert: %w", err)
	}

	rec := &store.Record{
		ID:         id,
		ProjectKey: e.project,
		Type:       cand.Type,
		Content:    cand.Content,
		Importance: clamp01(cand.Importance),
		Tags:       cand.Tags,
		Metadata:   cand.Metadata,
		SessionID:  sessionID,
		CreatedAt:  now,
	}
	if err := e.meta.Insert(rec); err != nil {
		// Roll the vector back so no orphan survives the failed write.
		if delErr := e.vectors.Delete(ctx, id); delErr != nil {
			e.obs.Log().Error().Str("id", id).Err(delErr).Msg("failed to roll back vector after metadata error")
		}
		return false, fmt.Errorf("metadata insert: %w", err)
	}

	return true, nil
}

func (e *Engine) toolExcluded(tool string) bool {
	if tool == "" {
		return false
	}
	for _, pattern := range e.cfg.ExcludedTools {
		if match, err := doublestar.Match(pattern, tool); err == nil && match {
			return true
		}
	}
	return false
}

// isNearDuplicate compares the candidate against the most recent
// records of the same type.
func (e *Engine) isNearDuplicate(recordType, content string) (bool, error) {
	if e.cfg.DedupWindow == 0 {
		return false, nil
	}
	recent, err := e.meta.Query(e.project, store.Filters{Type: recordType}, e.cfg.DedupWindow)
	if err != nil {
		return false, err
	}
	for _, r := range recent {
		if tokenOverlap(content, r.Content) >= dedupOverlap {
			return true, nil
		}
	}
	return false, nil
}

// tokenOverlap measures shared whitespace-delimited tokens relative to
// the larger of the two texts. 1.0 means token-identical.
func tokenOverlap(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	shared := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			shared++
		}
	}

	larger := len(ta)
	if len(tb) > larger {
		larger = len(tb)
	}
	return float64(shared) / float64(larger)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = struct{}{}
	}
	return set
}

// Retrieve finds the memories most similar to the query. A limit of 0
// uses the configured default; minSimilarity of 0 uses the configured
// threshold; types, when given, restrict the result to those record
// types. Retrieval failures degrade to an empty result so the invoking
// tool is never blocked on memory lookups.
func (e *Engine) Retrieve(ctx context.Context, query string, limit int, minSimilarity float64, types ...string) ([]Result, error) {
	if !e.cfg.Enabled {
		return nil, nil
	}

	ctx, span := e.obs.StartSpan(ctx, "engine.retrieve")
	defer span.End()

	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	if minSimilarity <= 0 {
		minSimilarity = e.cfg.SimilarityThreshold
	}
	minSimilarity = clamp01(minSimilarity)

	vec, err := e.embed.Embed(ctx, query)
	if err != nil {
		e.obs.Log().Warn().Str("provider", e.embed.Name()).Err(err).Msg("failed to embed query")
		return nil, nil
	}

	// Over-fetch when type filtering happens after the join.
	k := limit
	if len(types) > 0 {
		k = limit * 4
	}

	entries, err := e.vectors.Search(ctx, vec, k, minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	var (
		results []Result
		touched []string
	)
	for _, entry := range entries {
		if len(results) >= limit {
			break
		}
		rec, err := e.meta.Get(e.project, entry.ID)
		if errors.Is(err, store.ErrNotFound) {
			// Vector with no metadata row; drop it from the result and
			// leave a trace for cleanup.
			e.obs.Log().Warn().Str("id", entry.ID).Msg("vector has no metadata row")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("metadata join: %w", err)
		}
		if len(types) > 0 && !typeAllowed(rec.Type, types) {
			continue
		}
		results = append(results, Result{Record: rec, Similarity: entry.Similarity})
		touched = append(touched, rec.ID)
	}

	if len(touched) > 0 {
		if err := e.meta.TouchAccess(e.project, touched); err != nil {
			e.obs.Log().Warn().Err(err).Msg("failed to update access stats")
		}
	}

	return results, nil
}

func typeAllowed(recordType string, types []string) bool {
	for _, t := range types {
		if t == recordType {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
