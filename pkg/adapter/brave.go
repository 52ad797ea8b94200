package adapter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

const braveBaseURL = "https://api.search.brave.com/res/v1/web/search"

// Brave searches the web via Brave Search API
type Brave struct {
	apiKey string
	cfg    *searchConfig
}

type braveResponse struct {
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	PageAge     string `json:"page_age,omitempty"`
}

// NewBrave creates a Brave Search provider
func NewBrave(apiKey string, opts ...SearchOption) *Brave {
	return &Brave{
		apiKey: apiKey,
		cfg:    newSearchConfig(braveBaseURL, opts),
	}
}

func (b *Brave) Search(ctx context.Context, query string, limit int) ([]*model.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = 5
	}
	if limit > 20 {
		limit = 20
	}

	u, err := url.Parse(b.cfg.baseURL)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid brave endpoint", goerr.V("url", b.cfg.baseURL))
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.cfg.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(ErrSearchTransient, "brave request failed", goerr.V("error", err.Error()))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read brave response")
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, goerr.Wrap(ErrSearchTransient, "brave API unavailable",
			goerr.V("status", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, goerr.New("brave API error",
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(body)))
	}

	var result braveResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, goerr.Wrap(err, "failed to parse brave response")
	}

	results := make([]*model.SearchResult, 0, len(result.Web.Results))
	for i, r := range result.Web.Results {
		sr := &model.SearchResult{
			Rank:    i + 1,
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Description,
			Source:  "brave",
		}
		if r.PageAge != "" {
			if t, err := time.Parse("2006-01-02T15:04:05", r.PageAge); err == nil {
				sr.PublishedAt = &t
			}
		}
		results = append(results, sr)
		if len(results) >= limit {
			break
		}
	}

	return results, nil
}
