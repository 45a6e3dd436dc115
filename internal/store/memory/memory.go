package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kassza/internal/domain"
	"kassza/internal/store"
	"kassza/internal/xid"
)

// Store is the in-process backend used for development and tests.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]json.RawMessage
	bus         *store.Broadcaster[store.Snapshot]
}

var _ store.Port = (*Store)(nil)

func New() *Store {
	return &Store{
		collections: make(map[string]map[string]json.RawMessage),
		bus:         store.NewBroadcaster[store.Snapshot](),
	}
}

// NewSeeded returns a store with a small demo catalog. It holds no users;
// the first admin is bootstrapped from configuration.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	items := []domain.Item{
		{ID: "book-egri-csillagok", Kind: domain.ItemKindBook, Name: "Egri csillagok", Author: "Gárdonyi Géza", ISBN: "9789634154892", Category: "regény", Price: decimal.NewFromInt(3990), Quantity: 8},
		{ID: "book-a-pal-utcai-fiuk", Kind: domain.ItemKindBook, Name: "A Pál utcai fiúk", Author: "Molnár Ferenc", ISBN: "9789634861325", Category: "ifjúsági", Price: decimal.NewFromInt(2990), Quantity: 10},
		{ID: "book-sorstalansag", Kind: domain.ItemKindBook, Name: "Sorstalanság", Author: "Kertész Imre", ISBN: "9789631432450", Category: "regény", Price: decimal.NewFromInt(4490), Quantity: 5},
		{ID: "gift-konyvjelzo", Kind: domain.ItemKindGift, Name: "Bőr könyvjelző", Category: "kiegészítő", Price: decimal.NewFromInt(1500), Quantity: 30},
		{ID: "gift-bogre", Kind: domain.ItemKindGift, Name: "Irodalmi bögre", Category: "ajándék", Price: decimal.NewFromInt(3500), Quantity: 12},
	}
	for _, item := range items {
		item.CreatedAt = now
		item.UpdatedAt = now
		collection := store.Books
		if item.Kind == domain.ItemKindGift {
			collection = store.Gifts
		}
		s.mustPut(collection, item.ID, item)
	}

	return s
}

func (s *Store) mustPut(collection string, id string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		panic(fmt.Sprintf("memory store: seed %s/%s: %v", collection, id, err))
	}
	s.docs(collection)[id] = raw
}

// docs must be called with s.mu held for writing.
func (s *Store) docs(collection string) map[string]json.RawMessage {
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]json.RawMessage)
		s.collections[collection] = docs
	}
	return docs
}

// snapshot must be called with s.mu held.
func (s *Store) snapshot(collection string) store.Snapshot {
	return store.Snapshot{Collection: collection, Docs: store.CloneDocs(s.collections[collection])}
}

func (s *Store) Subscribe(ctx context.Context, collection string) (<-chan store.Snapshot, error) {
	if err := store.ValidCollection(collection); err != nil {
		return nil, err
	}
	// Publishes happen under the write lock, so no change can slip in
	// between the initial snapshot and the registration.
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bus.Subscribe(ctx, collection, s.snapshot(collection)), nil
}

func (s *Store) Create(_ context.Context, collection string) (string, error) {
	if err := store.ValidCollection(collection); err != nil {
		return "", err
	}
	return xid.New(store.IDPrefix(collection)), nil
}

func (s *Store) Write(_ context.Context, path string, value any) error {
	collection, id, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs(collection)[id] = raw
	s.bus.Publish(collection, s.snapshot(collection))
	return nil
}

func (s *Store) Patch(_ context.Context, path string, fields map[string]any) error {
	collection, id, err := store.SplitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.collections[collection][id]
	if !ok {
		return fmt.Errorf("patch %s: %w", path, store.ErrNotFound)
	}
	merged, err := store.MergeFields(current, fields)
	if err != nil {
		return fmt.Errorf("patch %s: %w", path, err)
	}
	s.collections[collection][id] = merged
	s.bus.Publish(collection, s.snapshot(collection))
	return nil
}

func (s *Store) Delete(_ context.Context, path string) error {
	collection, id, err := store.SplitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[collection][id]; !ok {
		return fmt.Errorf("delete %s: %w", path, store.ErrNotFound)
	}
	delete(s.collections[collection], id)
	s.bus.Publish(collection, s.snapshot(collection))
	return nil
}

func (s *Store) Load(_ context.Context, collection string) (store.Snapshot, error) {
	if err := store.ValidCollection(collection); err != nil {
		return store.Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(collection), nil
}

func (s *Store) Get(_ context.Context, path string, dest any) error {
	collection, id, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	s.mu.RLock()
	raw, ok := s.collections[collection][id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("get %s: %w", path, store.ErrNotFound)
	}
	return json.Unmarshal(raw, dest)
}
