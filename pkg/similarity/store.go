package similarity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/fennec/pkg/adapter"
	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/fennec/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const (
	// DefaultKey is the storage key of the memory document
	DefaultKey = "vector_memory.json"

	documentVersion = "1.0.0"
)

type document struct {
	Metadata documentMetadata     `json:"metadata"`
	NextID   model.EntryID        `json:"next_id"`
	Entries  []*model.MemoryEntry `json:"entries"`
}

type documentMetadata struct {
	Created   time.Time `json:"created"`
	Version   string    `json:"version"`
	Dimension int       `json:"dimension"`
}

// Store is the similarity memory: texts with their embeddings, searched
// by cosine similarity. Every mutation rewrites the whole document.
type Store struct {
	mu sync.Mutex

	storage  adapter.Storage
	key      string
	embedder Embedder
	backend  Backend
	now      func() time.Time
	strict   bool

	created   time.Time
	entries   []*model.MemoryEntry
	byID      map[model.EntryID]*model.MemoryEntry
	nextID    model.EntryID
	size      int64
	recovered bool
}

// Option is a functional option for Store
type Option func(*Store)

// WithEmbedder replaces the default HashEmbedder
func WithEmbedder(embedder Embedder) Option {
	return func(s *Store) {
		s.embedder = embedder
	}
}

// WithBackend replaces the default LinearBackend
func WithBackend(backend Backend) Option {
	return func(s *Store) {
		s.backend = backend
	}
}

// WithKey sets the storage key of the memory document
func WithKey(key string) Option {
	return func(s *Store) {
		s.key = key
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithStrictLoad makes Load fail on a corrupt document instead of starting over
func WithStrictLoad() Option {
	return func(s *Store) {
		s.strict = true
	}
}

// New creates an empty store bound to storage. Nothing is read or written.
func New(storage adapter.Storage, opts ...Option) *Store {
	s := &Store{
		storage:  storage,
		key:      DefaultKey,
		embedder: NewHashEmbedder(DefaultDimension),
		backend:  NewLinearBackend(),
		now:      time.Now,
		nextID:   1,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.created = s.now()
	s.byID = map[model.EntryID]*model.MemoryEntry{}
	return s
}

// Open creates a store and loads the persisted document if there is one
func Open(ctx context.Context, storage adapter.Storage, opts ...Option) (*Store, error) {
	s := New(storage, opts...)
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Embed returns the vector the store would compute for text
func (s *Store) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embedder.Embed(ctx, text)
}

// Add embeds text, stores it with a copy of metadata and persists the
// store. If only the write fails, the entry is kept in memory and its id is
// returned together with an ErrPersistence error.
func (s *Store) Add(ctx context.Context, text string, metadata map[string]any) (model.EntryID, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to embed text")
	}
	if len(vec) != s.embedder.Dimension() {
		return 0, goerr.New("embedding dimension mismatch",
			goerr.V("expected", s.embedder.Dimension()),
			goerr.V("actual", len(vec)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &model.MemoryEntry{
		ID:        s.nextID,
		Text:      text,
		Embedding: vec,
		Metadata:  model.ClonePayload(metadata),
		CreatedAt: s.now(),
	}
	if err := s.backend.Insert(ctx, entry); err != nil {
		return 0, goerr.Wrap(err, "failed to index entry", goerr.V("id", entry.ID))
	}

	s.nextID++
	s.entries = append(s.entries, entry)
	s.byID[entry.ID] = entry

	logging.From(ctx).Debug("memory added", "id", entry.ID, "text", text)

	if err := s.persist(ctx); err != nil {
		return entry.ID, err
	}
	return entry.ID, nil
}

type searchConfig struct {
	require  bool
	minScore *float64
	filter   func(*model.MemoryEntry) bool
}

// SearchOption configures Search
type SearchOption func(*searchConfig)

// RequireResults makes Search on an empty store fail with model.ErrEmptyStore
func RequireResults() SearchOption {
	return func(c *searchConfig) {
		c.require = true
	}
}

// WithMinScore drops hits scoring below score
func WithMinScore(score float64) SearchOption {
	return func(c *searchConfig) {
		c.minScore = &score
	}
}

// WithFilter keeps only entries for which filter returns true
func WithFilter(filter func(*model.MemoryEntry) bool) SearchOption {
	return func(c *searchConfig) {
		c.filter = filter
	}
}

// Search returns at most k entries by descending cosine similarity to
// query. Equal scores are ordered by lower id first. The returned entries
// are copies.
func (s *Store) Search(ctx context.Context, query string, k int, opts ...SearchOption) ([]*model.ScoredEntry, error) {
	var cfg searchConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.require && s.Len() == 0 {
		return nil, goerr.Wrap(model.ErrEmptyStore, "no entry to search", goerr.V("query", query))
	}
	if k <= 0 {
		return []*model.ScoredEntry{}, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		if cfg.require {
			return nil, goerr.Wrap(model.ErrEmptyStore, "no entry to search", goerr.V("query", query))
		}
		return []*model.ScoredEntry{}, nil
	}

	var hits []Hit
	if isZero(vec) {
		hits = make([]Hit, len(s.entries))
		for i, e := range s.entries {
			hits[i] = Hit{ID: e.ID}
		}
	} else {
		hits, err = s.backend.Score(ctx, vec)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to score entries")
		}
	}

	scored := make([]*model.ScoredEntry, 0, len(hits))
	for _, hit := range hits {
		entry, ok := s.byID[hit.ID]
		if !ok {
			continue
		}
		if cfg.minScore != nil && hit.Score < *cfg.minScore {
			continue
		}
		if cfg.filter != nil && !cfg.filter(entry) {
			continue
		}
		scored = append(scored, &model.ScoredEntry{Entry: entry, Score: hit.Score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Entry.ID < scored[j].Entry.ID
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	for _, se := range scored {
		se.Entry = se.Entry.Copy()
	}
	return scored, nil
}

// Get returns a copy of the entry, or false if there is none with id
func (s *Store) Get(id model.EntryID) (*model.MemoryEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return entry.Copy(), true
}

// Entries returns copies of all entries in id order
func (s *Store) Entries() []*model.MemoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*model.MemoryEntry, len(s.entries))
	for i, e := range s.entries {
		entries[i] = e.Copy()
	}
	return entries
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats reports the entry count, the vector dimension and the size of the
// last document written or read.
func (s *Store) Stats() *model.MemoryStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &model.MemoryStats{
		TotalEntries: len(s.entries),
		Dimension:    s.embedder.Dimension(),
		StorageBytes: s.size,
	}
}

// Clear removes every entry and persists the empty store. Ids are not reused.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Reset(ctx); err != nil {
		return goerr.Wrap(err, "failed to reset search backend")
	}
	removed := len(s.entries)
	s.entries = nil
	s.byID = map[model.EntryID]*model.MemoryEntry{}

	logging.From(ctx).Info("memory cleared", "removed", removed)
	return s.persist(ctx)
}

// Recovered reports whether the last Load discarded a corrupt document
func (s *Store) Recovered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recovered
}

// Persist writes the whole document to storage
func (s *Store) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist(ctx)
}

func (s *Store) persist(ctx context.Context) error {
	doc := &document{
		Metadata: documentMetadata{
			Created:   s.created,
			Version:   documentVersion,
			Dimension: s.embedder.Dimension(),
		},
		NextID:  s.nextID,
		Entries: s.entries,
	}
	if doc.Entries == nil {
		doc.Entries = []*model.MemoryEntry{}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return goerr.Wrap(model.ErrPersistence, "failed to marshal memory",
			goerr.V("key", s.key),
			goerr.V("error", err.Error()))
	}
	if err := adapter.WriteObject(ctx, s.storage, s.key, data); err != nil {
		return goerr.Wrap(model.ErrPersistence, "failed to write memory",
			goerr.V("key", s.key),
			goerr.V("error", err.Error()))
	}

	s.size = int64(len(data))
	return nil
}

// Load replaces the in-memory state with the persisted document. A missing
// document yields an empty store. A corrupt document is copied aside,
// logged and replaced by an empty store, unless WithStrictLoad is set. If
// the backend rejects an entry, the store is left empty.
//
// Metadata is decoded as plain JSON: numbers come back as float64.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recovered = false

	data, err := adapter.ReadObject(ctx, s.storage, s.key)
	if err != nil {
		if errors.Is(err, adapter.ErrNotFound) {
			return s.reset(ctx, 1)
		}
		return goerr.Wrap(model.ErrPersistence, "failed to read memory",
			goerr.V("key", s.key),
			goerr.V("error", err.Error()))
	}

	doc, err := decodeDocument(data, s.embedder.Dimension())
	if err != nil {
		if s.strict {
			return goerr.Wrap(model.ErrRecoveredFromCorruption, "memory document is corrupt",
				goerr.V("key", s.key),
				goerr.V("error", err.Error()))
		}

		logger := logging.From(ctx)
		backupKey := fmt.Sprintf("%s.corrupt-%d", s.key, s.now().Unix())
		if backupErr := adapter.WriteObject(ctx, s.storage, backupKey, data); backupErr != nil {
			logger.Warn("failed to back up corrupt memory document", "key", backupKey, "error", backupErr)
			backupKey = ""
		}
		logger.Warn("memory document is corrupt, starting with an empty store",
			"key", s.key,
			"backup", backupKey,
			"error", err)

		if err := s.reset(ctx, 1); err != nil {
			return err
		}
		s.recovered = true
		return nil
	}

	if err := s.reset(ctx, doc.NextID); err != nil {
		return err
	}
	for _, entry := range doc.Entries {
		if err := s.backend.Insert(ctx, entry); err != nil {
			if resetErr := s.reset(ctx, 1); resetErr != nil {
				logging.From(ctx).Warn("failed to reset memory after load failure", "error", resetErr)
			}
			return goerr.Wrap(err, "failed to index loaded entry", goerr.V("id", entry.ID))
		}
		s.entries = append(s.entries, entry)
		s.byID[entry.ID] = entry
	}
	if !doc.Metadata.Created.IsZero() {
		s.created = doc.Metadata.Created
	}
	s.size = int64(len(data))
	return nil
}

func (s *Store) reset(ctx context.Context, nextID model.EntryID) error {
	if err := s.backend.Reset(ctx); err != nil {
		return goerr.Wrap(err, "failed to reset search backend")
	}
	s.entries = nil
	s.byID = map[model.EntryID]*model.MemoryEntry{}
	s.nextID = nextID
	s.size = 0
	return nil
}

// decodeDocument parses a persisted store and checks that ids ascend below
// next_id and that every vector has the configured dimension.
func decodeDocument(data []byte, dimension int) (*document, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, goerr.Wrap(err, "invalid memory json")
	}

	var last model.EntryID
	for _, e := range doc.Entries {
		if e == nil {
			return nil, goerr.New("null memory entry")
		}
		if e.ID <= last {
			return nil, goerr.New("memory ids are not ascending", goerr.V("id", e.ID))
		}
		if len(e.Embedding) != dimension {
			return nil, goerr.New("embedding dimension mismatch",
				goerr.V("id", e.ID),
				goerr.V("expected", dimension),
				goerr.V("actual", len(e.Embedding)))
		}
		if e.Metadata == nil {
			e.Metadata = map[string]any{}
		}
		last = e.ID
	}

	if doc.NextID <= last {
		doc.NextID = last + 1
	}
	return &doc, nil
}
