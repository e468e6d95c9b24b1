package memory

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// SearchMemories filters owned records by text, type, category, tags
// and date range, computes facet counts over the filtered set and
// paginates last. Search is advisory over an eventually consistent
// store: failures degrade to an empty result, never an error.
func (s *Service) SearchMemories(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	if err := s.queue.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: throttle: %v", ErrStorageFailure, err)
	}

	recs, err := s.store.SearchOwned(ctx, q.Text, 0)
	if err != nil {
		s.logger.Warn("search degraded to empty result", zap.Error(err))
		return emptyResult(), nil
	}

	needle := strings.ToLower(q.Text)
	var filtered []*Record
	for _, rec := range recs {
		view := rec
		if rec.Encrypted {
			plaintext, ok := s.decryptContent(rec)
			view = rec.Clone()
			view.Content = plaintext
			// The adapter cannot text-match ciphertext, so encrypted
			// records are re-checked here. Undecryptable ones only
			// match an empty query.
			if needle != "" && (!ok || !matchesText(view, needle)) {
				continue
			}
		}
		if !matchesFilters(view, q) {
			continue
		}
		filtered = append(filtered, view)
	}

	result := &SearchResult{
		TotalCount: len(filtered),
		Facets:     computeFacets(filtered),
	}
	result.Records = paginate(filtered, q.Offset, q.Limit)
	return result, nil
}

func matchesFilters(rec *Record, q SearchQuery) bool {
	if q.Type != "" && rec.Type != q.Type {
		return false
	}
	if q.Category != "" && !strings.EqualFold(rec.Category, q.Category) {
		return false
	}
	for _, tag := range q.Tags {
		if !rec.HasTag(tag) {
			return false
		}
	}
	if !q.DateFrom.IsZero() && rec.CreatedAt.Before(q.DateFrom) {
		return false
	}
	if !q.DateTo.IsZero() && rec.CreatedAt.After(q.DateTo) {
		return false
	}
	return true
}

func computeFacets(recs []*Record) Facets {
	f := Facets{
		Types:      make(map[string]int),
		Categories: make(map[string]int),
		Tags:       make(map[string]int),
	}
	for _, rec := range recs {
		f.Types[string(rec.Type)]++
		if rec.Category != "" {
			f.Categories[rec.Category]++
		}
		for _, tag := range rec.Tags {
			f.Tags[tag]++
		}
	}
	return f
}

func paginate(recs []*Record, offset, limit int) []*Record {
	if offset >= len(recs) {
		return []*Record{}
	}
	recs = recs[offset:]
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs
}

func emptyResult() *SearchResult {
	return &SearchResult{
		Records: []*Record{},
		Facets: Facets{
			Types:      make(map[string]int),
			Categories: make(map[string]int),
			Tags:       make(map[string]int),
		},
	}
}
