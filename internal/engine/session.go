package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/engram-sh/engram/internal/extract"
	"github.com/engram-sh/engram/internal/store"
)

// scored pairs a record with its computed preservation score.
type scored struct {
	rec   *store.Record
	score float64
}

// Preserve protects the most valuable recent memories ahead of a
// context compaction: it scores the last day's records, writes a
// summary record listing the keepers, and bumps their access stats so
// retention favors them. It returns the summary text and how many
// records were preserved.
func (e *Engine) Preserve(ctx context.Context, sessionID, reason string) (string, int, error) {
	if !e.cfg.Enabled {
		return "", 0, ErrDisabled
	}

	ctx, span := e.obs.StartSpan(ctx, "engine.preserve")
	defer span.End()

	records, err := e.meta.Query(e.project, store.Filters{Since: time.Now().Add(-preserveWindow)}, 500)
	if err != nil {
		return "", 0, fmt.Errorf("list recent records: %w", err)
	}

	var keep []scored
	for _, rec := range records {
		if rec.Type == store.TypeCompactionPreservation {
			continue
		}
		s := preservationScore(rec)
		if s > 0.5 {
			keep = append(keep, scored{rec: rec, score: s})
		}
	}

	sort.SliceStable(keep, func(i, j int) bool { return keep[i].score > keep[j].score })
	if len(keep) > preserveKeep {
		keep = keep[:preserveKeep]
	}

	summary := preservationSummary(keep)

	cand := extract.Candidate{
		Type:       store.TypeCompactionPreservation,
		Content:    summary,
		Importance: extract.Importance(store.TypeCompactionPreservation),
		Tags:       []string{"compaction", reason},
		Metadata: map[string]string{
			"reason":          reason,
			"preserved_count": fmt.Sprintf("%d", len(keep)),
		},
	}
	if _, err := e.captureOne(ctx, sessionID, cand); err != nil {
		return "", 0, err
	}

	ids := make([]string, len(keep))
	for i, k := range keep {
		ids[i] = k.rec.ID
	}
	if len(ids) > 0 {
		if err := e.meta.TouchAccess(e.project, ids); err != nil {
			e.obs.Log().Warn().Err(err).Msg("failed to touch preserved records")
		}
	}

	return summary, len(keep), nil
}

// preservationScore combines type weight, access history, content
// richness, and recency. The result is capped at 1.
func preservationScore(rec *store.Record) float64 {
	score := extract.Importance(rec.Type)

	switch {
	case rec.AccessCount > 5:
		score += 0.3
	case rec.AccessCount > 2:
		score += 0.2
	case rec.AccessCount > 0:
		score += 0.1
	}

	if len(rec.Content) > 200 {
		score += 0.1
	}

	age := time.Since(rec.CreatedAt)
	switch {
	case age < time.Hour:
		score += 0.2
	case age < 6*time.Hour:
		score += 0.1
	}

	return clamp01(score)
}

func preservationSummary(keep []scored) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pre-compaction memory preservation\n")
	fmt.Fprintf(&b, "Preserved %d important memories\n", len(keep))

	byType := make(map[string][]scored)
	var order []string
	for _, k := range keep {
		if _, ok := byType[k.rec.Type]; !ok {
			order = append(order, k.rec.Type)
		}
		byType[k.rec.Type] = append(byType[k.rec.Type], k)
	}

	for _, typ := range order {
		group := byType[typ]
		fmt.Fprintf(&b, "\n%s (%d):\n", strings.ReplaceAll(typ, "_", " "), len(group))
		for i, k := range group {
			if i >= 5 {
				break
			}
			preview := strings.ReplaceAll(k.rec.Content, "\n", " ")
			if len(preview) > 100 {
				preview = preview[:100]
			}
			fmt.Fprintf(&b, "  [%.2f] %s\n", k.score, preview)
		}
	}

	return b.String()
}

// StartSession opens the bookkeeping row for a session. Calling it
// twice with the same id is harmless.
func (e *Engine) StartSession(sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return e.meta.StartSession(&store.Session{
		ID:         sessionID,
		ProjectKey: e.project,
		StartedAt:  time.Now().UTC(),
	})
}

// SummarizeSession aggregates what a session stored into one
// session_summary record and closes the sessions row.
func (e *Engine) SummarizeSession(ctx context.Context, sessionID string) error {
	if !e.cfg.Enabled {
		return ErrDisabled
	}
	if sessionID == "" {
		return nil
	}

	ctx, span := e.obs.StartSpan(ctx, "engine.summarize_session")
	defer span.End()

	records, err := e.meta.Query(e.project, store.Filters{SessionID: sessionID}, 200)
	if err != nil {
		return fmt.Errorf("list session records: %w", err)
	}

	summary := sessionSummary(sessionID, records)

	if len(records) > 0 {
		cand := extract.Candidate{
			Type:       store.TypeSessionSummary,
			Content:    summary,
			Importance: extract.Importance(store.TypeSessionSummary),
			Tags:       []string{"session"},
			Metadata: map[string]string{
				"memory_count": fmt.Sprintf("%d", len(records)),
			},
		}
		if _, err := e.captureOne(ctx, sessionID, cand); err != nil {
			return err
		}
	}

	if err := e.meta.EndSession(sessionID, summary, len(records)); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

func sessionSummary(sessionID string, records []*store.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s stored %d memories\n", sessionID, len(records))

	counts := make(map[string]int)
	var order []string
	for _, r := range records {
		if counts[r.Type] == 0 {
			order = append(order, r.Type)
		}
		counts[r.Type]++
	}
	for _, typ := range order {
		fmt.Fprintf(&b, "  %s: %d\n", strings.ReplaceAll(typ, "_", " "), counts[typ])
	}

	return b.String()
}

// List returns records matching the filters, newest first.
func (e *Engine) List(f store.Filters, limit int) ([]*store.Record, error) {
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	return e.meta.Query(e.project, f, limit)
}

// Stats aggregates the project's stored memories.
func (e *Engine) Stats() (*store.ProjectStats, error) {
	return e.meta.Stats(e.project)
}

// Delete removes one record from both stores. Deleting an unknown id
// reports false without error.
func (e *Engine) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := e.meta.Delete(e.project, id)
	if err != nil {
		return false, err
	}
	if err := e.vectors.Delete(ctx, id); err != nil {
		return deleted, fmt.Errorf("delete vector: %w", err)
	}
	return deleted, nil
}

// Clear wipes the whole project namespace from both stores and reports
// how many records were removed.
func (e *Engine) Clear(ctx context.Context) (int, error) {
	records, err := e.meta.Query(e.project, store.Filters{}, 100000)
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		if err := e.vectors.Delete(ctx, rec.ID); err != nil {
			e.obs.Log().Warn().Str("id", rec.ID).Err(err).Msg("failed to delete vector")
		}
	}
	removed, err := e.meta.DeleteProject(e.project)
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Get fetches one record by id.
func (e *Engine) Get(id string) (*store.Record, error) {
	return e.meta.Get(e.project, id)
}
