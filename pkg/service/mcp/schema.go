package mcp

import (
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
)

// searchMemorySchema derives the input schema of search_memory from its
// params struct and adds the numeric bounds the handler accepts.
func searchMemorySchema() (*jsonschema.Schema, error) {
	schema, err := jsonschema.For[searchMemoryParams](nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build search_memory schema")
	}

	if limit, ok := schema.Properties["limit"]; ok {
		limit.Minimum = ptr(0.0)
		limit.Maximum = ptr(float64(maxSearchLimit))
	}
	if minScore, ok := schema.Properties["min_score"]; ok {
		minScore.Minimum = ptr(-1.0)
		minScore.Maximum = ptr(1.0)
	}
	schema.Required = []string{"query"}

	return schema, nil
}

func ptr[T any](v T) *T {
	return &v
}
