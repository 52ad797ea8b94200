package adapter

import (
	"context"
	"net/http"
	"time"

	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrSearchTransient marks a search failure worth retrying later
	ErrSearchTransient = goerr.New("transient search failure")
	ErrEmptyQuery      = goerr.New("search query is empty")
)

// SearchProvider returns ordered web search results for a query
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]*model.SearchResult, error)
}

// SearchOption configures the HTTP based search providers
type SearchOption func(*searchConfig)

type searchConfig struct {
	baseURL    string
	httpClient *http.Client
}

// WithSearchBaseURL overrides the endpoint of a search provider
func WithSearchBaseURL(u string) SearchOption {
	return func(c *searchConfig) {
		c.baseURL = u
	}
}

// WithHTTPClient replaces the HTTP client used by a search provider
func WithHTTPClient(client *http.Client) SearchOption {
	return func(c *searchConfig) {
		c.httpClient = client
	}
}

func newSearchConfig(baseURL string, opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
