package adapter

import (
	"context"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

const (
	duckDuckGoLiteURL  = "https://lite.duckduckgo.com/lite/"
	duckDuckGoInterval = time.Second
	duckDuckGoRetries  = 3
)

var (
	ddgLinkPattern    = regexp.MustCompile(`<a[^>]*href=['"]([^'"]+)['"][^>]*class=['"]result-link['"][^>]*>(.*?)</a>`)
	ddgLinkPatternAlt = regexp.MustCompile(`<a[^>]*class=['"]result-link['"][^>]*href=['"]([^'"]+)['"][^>]*>(.*?)</a>`)
	ddgSnippetPattern = regexp.MustCompile(`(?s)<td[^>]*class=['"]result-snippet['"][^>]*>(.*?)</td>`)
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
)

// DuckDuckGo scrapes the DuckDuckGo lite HTML interface. It needs no API key
// and allows at most one query per second per instance.
type DuckDuckGo struct {
	cfg *searchConfig

	mu   sync.Mutex
	last time.Time
}

// NewDuckDuckGo creates a DuckDuckGo search provider
func NewDuckDuckGo(opts ...SearchOption) *DuckDuckGo {
	return &DuckDuckGo{cfg: newSearchConfig(duckDuckGoLiteURL, opts)}
}

func (d *DuckDuckGo) wait(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if wait := time.Until(d.last.Add(duckDuckGoInterval)); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	d.last = time.Now()
	return nil
}

func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]*model.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = 5
	}

	form := url.Values{}
	form.Set("q", query)

	delay := time.Second
	for attempt := 0; ; attempt++ {
		if err := d.wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.baseURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create request")
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := d.cfg.httpClient.Do(req)
		if err != nil {
			return nil, goerr.Wrap(ErrSearchTransient, "duckduckgo request failed", goerr.V("error", err.Error()))
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			if attempt >= duckDuckGoRetries {
				return nil, goerr.Wrap(ErrSearchTransient, "duckduckgo rate limited", goerr.V("attempts", attempt+1))
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read duckduckgo response")
		}
		if resp.StatusCode != http.StatusOK {
			return nil, goerr.Wrap(ErrSearchTransient, "duckduckgo http error", goerr.V("status", resp.StatusCode))
		}

		return parseDuckDuckGoLite(string(body), limit), nil
	}
}

// parseDuckDuckGoLite extracts result links and snippets from the lite HTML page
func parseDuckDuckGoLite(page string, limit int) []*model.SearchResult {
	links := ddgLinkPattern.FindAllStringSubmatch(page, -1)
	if len(links) == 0 {
		links = ddgLinkPatternAlt.FindAllStringSubmatch(page, -1)
	}
	snippets := ddgSnippetPattern.FindAllStringSubmatch(page, -1)

	var results []*model.SearchResult
	for i, m := range links {
		href := resolveDuckDuckGoURL(strings.TrimSpace(m[1]))
		title := cleanHTML(m[2])
		if href == "" || title == "" {
			continue
		}

		var snippet string
		if i < len(snippets) {
			snippet = cleanHTML(snippets[i][1])
		}

		results = append(results, &model.SearchResult{
			Rank:    len(results) + 1,
			Title:   title,
			URL:     href,
			Snippet: snippet,
			Source:  "duckduckgo",
		})
		if len(results) >= limit {
			break
		}
	}

	return results
}

// resolveDuckDuckGoURL unwraps redirect links of the form //duckduckgo.com/l/?uddg=<target>
func resolveDuckDuckGoURL(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.HasSuffix(u.Host, "duckduckgo.com") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
		return ""
	}
	return href
}

func cleanHTML(s string) string {
	s = htmlTagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}
