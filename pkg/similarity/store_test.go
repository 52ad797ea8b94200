package similarity_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/fennec/pkg/adapter"
	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/fennec/pkg/similarity"
	"github.com/m-mizutani/gt"
)

func newBackends(t *testing.T) map[string]func() similarity.Backend {
	return map[string]func() similarity.Backend{
		"linear": func() similarity.Backend { return similarity.NewLinearBackend() },
		"chromem": func() similarity.Backend {
			b, err := similarity.NewChromemBackend()
			gt.NoError(t, err)
			return b
		},
	}
}

func TestLearningScenario(t *testing.T) {
	ctx := context.Background()

	for name, backend := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			store := similarity.New(adapter.NewFileStorage(t.TempDir()), similarity.WithBackend(backend()))

			id1, err := store.Add(ctx, "machine learning basics", map[string]any{})
			gt.NoError(t, err)
			id2, err := store.Add(ctx, "deep learning overview", map[string]any{})
			gt.NoError(t, err)
			gt.True(t, id2 > id1)

			top1, err := store.Search(ctx, "learning", 1)
			gt.NoError(t, err)
			gt.A(t, top1).Length(1)

			top2, err := store.Search(ctx, "learning", 2)
			gt.NoError(t, err)
			gt.A(t, top2).Length(2)
			ids := []model.EntryID{top2[0].Entry.ID, top2[1].Entry.ID}
			gt.A(t, ids).Has(id1)
			gt.A(t, ids).Has(id2)
			gt.True(t, top2[0].Score >= top2[1].Score)
		})
	}
}

func TestSearchOrdering(t *testing.T) {
	ctx := context.Background()

	for name, backend := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			store := similarity.New(adapter.NewFileStorage(t.TempDir()), similarity.WithBackend(backend()))

			texts := []string{
				"quantum computing hardware",
				"renewable energy policy",
				"quantum error correction",
				"renewable energy policy",
				"history of jazz",
			}
			for _, text := range texts {
				_, err := store.Add(ctx, text, nil)
				gt.NoError(t, err)
			}

			results, err := store.Search(ctx, "renewable energy policy", 10)
			gt.NoError(t, err)
			gt.A(t, results).Length(len(texts))

			for i := 1; i < len(results); i++ {
				gt.True(t, results[i-1].Score >= results[i].Score)
			}

			// identical texts score the same and keep insertion order
			gt.Equal(t, results[0].Entry.ID, model.EntryID(2))
			gt.Equal(t, results[1].Entry.ID, model.EntryID(4))
			gt.True(t, results[0].Score > 0.999)
		})
	}
}

func TestSearchLimits(t *testing.T) {
	ctx := context.Background()
	store := similarity.New(adapter.NewFileStorage(t.TempDir()))

	empty, err := store.Search(ctx, "anything", 3)
	gt.NoError(t, err)
	gt.A(t, empty).Length(0)

	_, err = store.Search(ctx, "anything", 3, similarity.RequireResults())
	gt.True(t, errors.Is(err, model.ErrEmptyStore))

	for _, text := range []string{"alpha", "beta", "gamma"} {
		_, err := store.Add(ctx, text, nil)
		gt.NoError(t, err)
	}

	zero, err := store.Search(ctx, "alpha", 0)
	gt.NoError(t, err)
	gt.A(t, zero).Length(0)

	negative, err := store.Search(ctx, "alpha", -1)
	gt.NoError(t, err)
	gt.A(t, negative).Length(0)

	all, err := store.Search(ctx, "alpha", 100)
	gt.NoError(t, err)
	gt.A(t, all).Length(3)
	gt.Equal(t, all[0].Entry.Text, "alpha")

	// a query without tokens scores every entry 0, ordered by id
	blank, err := store.Search(ctx, "   ", 2)
	gt.NoError(t, err)
	gt.A(t, blank).Length(2)
	gt.Equal(t, blank[0].Entry.ID, model.EntryID(1))
	gt.Equal(t, blank[1].Entry.ID, model.EntryID(2))
	gt.Equal(t, blank[0].Score, 0.0)
}

func TestSearchOptions(t *testing.T) {
	ctx := context.Background()
	store := similarity.New(adapter.NewFileStorage(t.TempDir()))

	_, err := store.Add(ctx, "climate change research", map[string]any{"kind": "query"})
	gt.NoError(t, err)
	_, err = store.Add(ctx, "climate change impact on agriculture", map[string]any{"kind": "finding"})
	gt.NoError(t, err)
	_, err = store.Add(ctx, "stock market forecast", map[string]any{"kind": "finding"})
	gt.NoError(t, err)

	findings, err := store.Search(ctx, "climate change", 10, similarity.WithFilter(func(e *model.MemoryEntry) bool {
		return e.Metadata["kind"] == "finding"
	}))
	gt.NoError(t, err)
	gt.A(t, findings).Length(2)
	for _, f := range findings {
		gt.Equal(t, f.Entry.Metadata["kind"], "finding")
	}

	related, err := store.Search(ctx, "climate change", 10, similarity.WithMinScore(0.3))
	gt.NoError(t, err)
	for _, r := range related {
		gt.True(t, r.Score >= 0.3)
	}
	gt.True(t, len(related) >= 2)
}

func TestSearchReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := similarity.New(adapter.NewFileStorage(t.TempDir()))

	id, err := store.Add(ctx, "original text", map[string]any{"k": "v"})
	gt.NoError(t, err)

	results, err := store.Search(ctx, "original", 1)
	gt.NoError(t, err)
	results[0].Entry.Text = "mutated"
	results[0].Entry.Metadata["k"] = "changed"

	entry, ok := store.Get(id)
	gt.True(t, ok)
	gt.Equal(t, entry.Text, "original text")
	gt.Equal(t, entry.Metadata["k"], "v")
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	storage := adapter.NewFileStorage(t.TempDir())
	store := similarity.New(storage)

	_, err := store.Add(ctx, "first", nil)
	gt.NoError(t, err)
	_, err = store.Add(ctx, "second", nil)
	gt.NoError(t, err)

	gt.NoError(t, store.Clear(ctx))
	gt.Equal(t, store.Len(), 0)

	results, err := store.Search(ctx, "first", 5)
	gt.NoError(t, err)
	gt.A(t, results).Length(0)

	// ids keep growing after a clear, also across reloads
	reloaded, err := similarity.Open(ctx, storage)
	gt.NoError(t, err)
	gt.Equal(t, reloaded.Len(), 0)

	id, err := reloaded.Add(ctx, "third", nil)
	gt.NoError(t, err)
	gt.Equal(t, id, model.EntryID(3))
}

func TestPersistAndLoad(t *testing.T) {
	ctx := context.Background()
	storage := adapter.NewFileStorage(t.TempDir())
	store := similarity.New(storage)

	texts := []string{"graph neural networks", "transformer architectures", "reinforcement learning"}
	for i, text := range texts {
		_, err := store.Add(ctx, text, map[string]any{"session_id": "session_1_1", "rank": float64(i)})
		gt.NoError(t, err)
	}

	loaded, err := similarity.Open(ctx, storage)
	gt.NoError(t, err)
	gt.False(t, loaded.Recovered())

	orig := store.Entries()
	got := loaded.Entries()
	gt.A(t, got).Length(len(orig))
	for i := range orig {
		gt.Equal(t, got[i].ID, orig[i].ID)
		gt.Equal(t, got[i].Text, orig[i].Text)
		gt.Equal(t, got[i].Embedding, orig[i].Embedding)
		gt.Equal(t, got[i].Metadata, orig[i].Metadata)
		gt.True(t, got[i].CreatedAt.Equal(orig[i].CreatedAt))
	}

	before, err := store.Search(ctx, "neural networks", 3)
	gt.NoError(t, err)
	after, err := loaded.Search(ctx, "neural networks", 3)
	gt.NoError(t, err)
	for i := range before {
		gt.Equal(t, after[i].Entry.ID, before[i].Entry.ID)
		gt.Equal(t, after[i].Score, before[i].Score)
	}

	stats := loaded.Stats()
	gt.Equal(t, stats.TotalEntries, 3)
	gt.Equal(t, stats.Dimension, similarity.DefaultDimension)
	gt.True(t, stats.StorageBytes > 0)
}

func TestLoadCorruptDocument(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers with empty store", func(t *testing.T) {
		dir := t.TempDir()
		gt.NoError(t, os.WriteFile(filepath.Join(dir, similarity.DefaultKey), []byte("garbage"), 0o644))

		store, err := similarity.Open(ctx, adapter.NewFileStorage(dir))
		gt.NoError(t, err)
		gt.True(t, store.Recovered())
		gt.Equal(t, store.Len(), 0)

		backups, err := filepath.Glob(filepath.Join(dir, similarity.DefaultKey+".corrupt-*"))
		gt.NoError(t, err)
		gt.A(t, backups).Length(1)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		dir := t.TempDir()
		doc := `{"next_id":2,"entries":[{"id":1,"text":"x","embedding":[1,0],"metadata":{}}]}`
		gt.NoError(t, os.WriteFile(filepath.Join(dir, similarity.DefaultKey), []byte(doc), 0o644))

		store, err := similarity.Open(ctx, adapter.NewFileStorage(dir))
		gt.NoError(t, err)
		gt.True(t, store.Recovered())
	})

	t.Run("strict", func(t *testing.T) {
		dir := t.TempDir()
		gt.NoError(t, os.WriteFile(filepath.Join(dir, similarity.DefaultKey), []byte("garbage"), 0o644))

		_, err := similarity.Open(ctx, adapter.NewFileStorage(dir), similarity.WithStrictLoad())
		gt.True(t, errors.Is(err, model.ErrRecoveredFromCorruption))
		gt.True(t, errors.Is(err, model.ErrPersistence))
	})
}

func TestPersistAndLoadMetadataAsJSON(t *testing.T) {
	ctx := context.Background()
	storage := adapter.NewFileStorage(t.TempDir())
	store := similarity.New(storage)

	for i, text := range []string{"alpha", "beta", "gamma"} {
		_, err := store.Add(ctx, text, map[string]any{"n": i, "tags": []string{"x", "y"}})
		gt.NoError(t, err)
	}

	loaded, err := similarity.Open(ctx, storage)
	gt.NoError(t, err)

	want, err := json.Marshal(store.Entries())
	gt.NoError(t, err)
	got, err := json.Marshal(loaded.Entries())
	gt.NoError(t, err)
	gt.Equal(t, string(got), string(want))

	entries := loaded.Entries()
	gt.A(t, entries).Length(3)
	gt.Equal(t, entries[2].Text, "gamma")
	gt.Equal(t, entries[2].Metadata["n"], any(float64(2)))
}

type failingBackend struct {
	similarity.Backend
	inserts int
	failAt  int
}

func (b *failingBackend) Insert(ctx context.Context, entry *model.MemoryEntry) error {
	b.inserts++
	if b.inserts == b.failAt {
		return errors.New("index full")
	}
	return b.Backend.Insert(ctx, entry)
}

func TestLoadBackendFailureLeavesEmptyStore(t *testing.T) {
	ctx := context.Background()
	storage := adapter.NewFileStorage(t.TempDir())
	store := similarity.New(storage)
	for _, text := range []string{"alpha", "beta", "gamma"} {
		_, err := store.Add(ctx, text, nil)
		gt.NoError(t, err)
	}

	backend := &failingBackend{Backend: similarity.NewLinearBackend(), failAt: 2}
	reloaded := similarity.New(storage, similarity.WithBackend(backend))
	gt.Error(t, reloaded.Load(ctx))
	gt.Equal(t, reloaded.Len(), 0)
	gt.A(t, reloaded.Entries()).Length(0)

	results, err := reloaded.Search(ctx, "alpha", 3)
	gt.NoError(t, err)
	gt.A(t, results).Length(0)
}
