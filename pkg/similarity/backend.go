package similarity

import (
	"context"
	"slices"

	"github.com/m-mizutani/fennec/pkg/model"
)

// Hit is the similarity of one stored entry to a query vector
type Hit struct {
	ID    model.EntryID
	Score float64
}

// Backend scores stored vectors against a query. The Store owns ordering,
// filtering and truncation, so a backend only has to return one hit per
// inserted entry in any order.
type Backend interface {
	Insert(ctx context.Context, entry *model.MemoryEntry) error
	Score(ctx context.Context, query []float32) ([]Hit, error)
	Reset(ctx context.Context) error
}

type vector struct {
	id  model.EntryID
	vec []float32
}

// LinearBackend is a brute-force cosine scan over all vectors
type LinearBackend struct {
	vectors []vector
}

// NewLinearBackend creates an empty LinearBackend
func NewLinearBackend() *LinearBackend {
	return &LinearBackend{}
}

func (b *LinearBackend) Insert(ctx context.Context, entry *model.MemoryEntry) error {
	b.vectors = append(b.vectors, vector{id: entry.ID, vec: slices.Clone(entry.Embedding)})
	return nil
}

func (b *LinearBackend) Score(ctx context.Context, query []float32) ([]Hit, error) {
	hits := make([]Hit, len(b.vectors))
	for i, v := range b.vectors {
		hits[i] = Hit{ID: v.id, Score: Cosine(query, v.vec)}
	}
	return hits, nil
}

func (b *LinearBackend) Reset(ctx context.Context) error {
	b.vectors = nil
	return nil
}
