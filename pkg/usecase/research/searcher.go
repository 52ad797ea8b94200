package research

import (
	"context"
	"sync"

	"github.com/m-mizutani/fennec/pkg/adapter"
	"github.com/m-mizutani/fennec/pkg/model"
	"golang.org/x/sync/errgroup"
)

// searcher runs the search subtasks of a plan against a search provider
type searcher struct {
	provider    adapter.SearchProvider
	limit       int
	concurrency int
}

// newSearcher creates a searcher. limit is the number of results per
// subtask and concurrency the number of searches in flight.
func newSearcher(provider adapter.SearchProvider, limit, concurrency int) *searcher {
	if limit <= 0 {
		limit = DefaultMaxResults
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &searcher{provider: provider, limit: limit, concurrency: concurrency}
}

// Run executes every search subtask and returns one result list per search
// subtask, in plan order. A URL already returned by an earlier subtask is
// dropped from later lists. A failed search is recorded and yields an
// empty list.
func (s *searcher) Run(ctx context.Context, rec *recorder, subtasks []*model.Subtask) [][]*model.SearchResult {
	var searches []*model.Subtask
	for _, st := range subtasks {
		if st.Type == model.SubtaskTypeSearch {
			searches = append(searches, st)
		}
	}

	results := make([][]*model.SearchResult, len(searches))

	var eg errgroup.Group
	eg.SetLimit(s.concurrency)
	var mu sync.Mutex
	for i, st := range searches {
		eg.Go(func() error {
			r := s.search(ctx, rec, st)
			mu.Lock()
			results[i] = r
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	seen := map[string]bool{}
	for i, list := range results {
		unique := make([]*model.SearchResult, 0, len(list))
		for _, r := range list {
			if r.URL != "" {
				if seen[r.URL] {
					continue
				}
				seen[r.URL] = true
			}
			unique = append(unique, r)
		}
		results[i] = unique
	}

	return results
}

func (s *searcher) search(ctx context.Context, rec *recorder, st *model.Subtask) []*model.SearchResult {
	rec.action(ctx, AgentSearch, "search_started", map[string]any{
		"query":      st.Query,
		"subtask_id": st.ID,
	})

	results, err := s.provider.Search(ctx, st.Query, s.limit)
	if err != nil {
		rec.action(ctx, AgentSearch, "search_failed", map[string]any{
			"query": st.Query,
			"error": err.Error(),
		})
		return []*model.SearchResult{}
	}

	rec.action(ctx, AgentSearch, "search_completed", map[string]any{
		"query":        st.Query,
		"result_count": len(results),
		"success":      true,
	})
	rec.searchResults(ctx, len(results))
	return results
}
