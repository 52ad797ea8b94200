package research

import (
	"context"
	"os"
	"path/filepath"

	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
)

const (
	retentionQuery = "data.retain.allow"

	// DefaultRetainedFindings is how many findings are remembered without a policy
	DefaultRetainedFindings = 5
)

// RetentionPolicy decides which key findings are stored in similarity
// memory. The Rego rule data.retain.allow is evaluated for every finding with
// input {finding, query, index}. A nil policy keeps the first
// DefaultRetainedFindings findings.
type RetentionPolicy struct {
	query *rego.PreparedEvalQuery
}

// LoadRetentionPolicy loads all .rego files of policyDir. It returns nil
// when the directory has no policy file.
func LoadRetentionPolicy(ctx context.Context, policyDir string) (*RetentionPolicy, error) {
	files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files")
	}
	if len(files) == 0 {
		return nil, nil
	}

	modules := make([]func(*rego.Rego), 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		modules = append(modules, rego.Module(file, string(data)))
	}

	return prepareRetention(ctx, modules)
}

// NewRetentionPolicy compiles a single Rego module
func NewRetentionPolicy(ctx context.Context, name, src string) (*RetentionPolicy, error) {
	return prepareRetention(ctx, []func(*rego.Rego){rego.Module(name, src)})
}

func prepareRetention(ctx context.Context, modules []func(*rego.Rego)) (*RetentionPolicy, error) {
	options := make([]func(*rego.Rego), 0, len(modules)+1)
	options = append(options, rego.Query(retentionQuery))
	options = append(options, modules...)

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare retention policy", goerr.V("query", retentionQuery))
	}
	return &RetentionPolicy{query: &prepared}, nil
}

// Retain returns the findings to remember, in their original order
func (p *RetentionPolicy) Retain(ctx context.Context, query string, findings []*model.Finding) ([]*model.Finding, error) {
	if p == nil || p.query == nil {
		if len(findings) > DefaultRetainedFindings {
			return findings[:DefaultRetainedFindings], nil
		}
		return findings, nil
	}

	var kept []*model.Finding
	for i, f := range findings {
		input := map[string]any{
			"query": query,
			"index": i,
			"finding": map[string]any{
				"point":       f.Point,
				"source":      f.Source,
				"url":         f.URL,
				"credibility": string(f.Credibility),
			},
		}

		rs, err := p.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to evaluate retention policy", goerr.V("index", i))
		}
		if rs.Allowed() {
			kept = append(kept, f)
		}
	}
	return kept, nil
}
