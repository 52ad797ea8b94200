package similarity

import (
	"context"
	"slices"
	"strconv"

	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	chromem "github.com/philippgille/chromem-go"
)

const chromemCollection = "memory"

// ChromemBackend scores vectors with the chromem-go embedded vector
// database. chromem normalizes every vector on insert, so zero vectors
// are kept aside and always score 0.
type ChromemBackend struct {
	db    *chromem.DB
	col   *chromem.Collection
	zeros []model.EntryID
}

// NewChromemBackend creates an empty in-memory chromem collection
func NewChromemBackend() (*ChromemBackend, error) {
	b := &ChromemBackend{}
	if err := b.Reset(context.Background()); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *ChromemBackend) Insert(ctx context.Context, entry *model.MemoryEntry) error {
	if isZero(entry.Embedding) {
		b.zeros = append(b.zeros, entry.ID)
		return nil
	}

	text := entry.Text
	if text == "" {
		text = " "
	}

	doc := chromem.Document{
		ID:        strconv.FormatInt(int64(entry.ID), 10),
		Content:   text,
		Embedding: slices.Clone(entry.Embedding),
	}
	if err := b.col.AddDocument(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to add document to chromem", goerr.V("id", entry.ID))
	}
	return nil
}

func (b *ChromemBackend) Score(ctx context.Context, query []float32) ([]Hit, error) {
	hits := make([]Hit, 0, b.col.Count()+len(b.zeros))

	// chromem requires 0 < nResults <= Count
	if n := b.col.Count(); n > 0 {
		results, err := b.col.QueryEmbedding(ctx, slices.Clone(query), n, nil, nil)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to query chromem", goerr.V("n", n))
		}

		for _, r := range results {
			id, err := strconv.ParseInt(r.ID, 10, 64)
			if err != nil {
				return nil, goerr.Wrap(err, "invalid chromem document id", goerr.V("id", r.ID))
			}
			hits = append(hits, Hit{ID: model.EntryID(id), Score: float64(r.Similarity)})
		}
	}

	for _, id := range b.zeros {
		hits = append(hits, Hit{ID: id, Score: 0})
	}
	return hits, nil
}

func (b *ChromemBackend) Reset(ctx context.Context) error {
	db := chromem.NewDB()
	// embeddings are always supplied, so no embedding func is needed
	col, err := db.CreateCollection(chromemCollection, nil, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to create chromem collection")
	}

	b.db = db
	b.col = col
	b.zeros = nil
	return nil
}
