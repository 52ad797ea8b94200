package adapter

import (
	"testing"

	"github.com/m-mizutani/gt"
)

func TestResolveDuckDuckGoURL(t *testing.T) {
	testCases := []struct {
		name string
		href string
		want string
	}{
		{"redirect", "//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fa%3Fb%3D1", "https://example.com/a?b=1"},
		{"direct", "https://example.com/x", "https://example.com/x"},
		{"internal link", "https://duckduckgo.com/settings", ""},
		{"broken", "http://[::1", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gt.Equal(t, resolveDuckDuckGoURL(tc.href), tc.want)
		})
	}
}

func TestParseDuckDuckGoLiteLimit(t *testing.T) {
	page := `<a href="https://a.example" class="result-link">A</a>
<a href="https://b.example" class="result-link">B</a>
<a href="https://c.example" class="result-link">C</a>`

	results := parseDuckDuckGoLite(page, 2)
	gt.A(t, results).Length(2)
	gt.Equal(t, results[1].URL, "https://b.example")
	// no snippet cells on the page
	gt.Equal(t, results[0].Snippet, "")
}

func TestCleanHTML(t *testing.T) {
	gt.Equal(t, cleanHTML("<b>Fish</b> &amp;\n  <i>chips</i>"), "Fish & chips")
}
