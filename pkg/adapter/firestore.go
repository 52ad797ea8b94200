package adapter

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// firestoreStorage keeps each document as a single Firestore document with
// the raw bytes in the "data" field. Firestore caps documents at 1 MiB,
// which is well above the intended size of either store.
type firestoreStorage struct {
	client     *firestore.Client
	collection string
}

type firestoreBlob struct {
	Key       string    `firestore:"key"`
	Data      []byte    `firestore:"data"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// NewFirestoreStorage creates a Storage backed by a Firestore collection
func NewFirestoreStorage(ctx context.Context, projectID, databaseID, collection string) (Storage, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID),
			goerr.V("database", databaseID))
	}

	return &firestoreStorage{
		client:     client,
		collection: collection,
	}, nil
}

// docID maps a storage key to a valid Firestore document ID
func docID(key string) string {
	return strings.ReplaceAll(key, "/", ":")
}

func (s *firestoreStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	return &firestoreWriter{ctx: ctx, storage: s, key: key}, nil
}

func (s *firestoreStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	snap, err := s.client.Collection(s.collection).Doc(docID(key)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "document does not exist", goerr.V("key", key))
		}
		return nil, goerr.Wrap(err, "failed to get document", goerr.V("key", key))
	}

	var blob firestoreBlob
	if err := snap.DataTo(&blob); err != nil {
		return nil, goerr.Wrap(err, "failed to decode document", goerr.V("key", key))
	}

	return io.NopCloser(bytes.NewReader(blob.Data)), nil
}

type firestoreWriter struct {
	bytes.Buffer
	ctx     context.Context
	storage *firestoreStorage
	key     string
	closed  bool
}

func (w *firestoreWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	blob := firestoreBlob{
		Key:       w.key,
		Data:      w.Bytes(),
		UpdatedAt: time.Now(),
	}

	doc := w.storage.client.Collection(w.storage.collection).Doc(docID(w.key))
	if _, err := doc.Set(w.ctx, blob); err != nil {
		return goerr.Wrap(err, "failed to set document", goerr.V("key", w.key))
	}
	return nil
}

// Abort drops the buffered data
func (w *firestoreWriter) Abort() {
	w.closed = true
	w.Reset()
}
