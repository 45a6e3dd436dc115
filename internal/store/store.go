package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidPath        = errors.New("invalid path")
)

// Collection names shared by every backend.
const (
	Books             = "books"
	Gifts             = "gifts"
	Shifts            = "shifts"
	Sales             = "sales"
	ExtraTransactions = "extra_transactions"
	Loans             = "loans"
	Users             = "users"
	AuditLogs         = "audit_logs"
)

// Port is the realtime document store the ledger treats as its system of
// record. Paths have the form "collection/id". None of the writes are
// conditional: concurrent writers get last-write-wins.
type Port interface {
	// Subscribe delivers the full collection immediately and again after
	// every change. The channel keeps only the newest snapshot and is closed
	// when ctx ends.
	Subscribe(ctx context.Context, collection string) (<-chan Snapshot, error)
	Create(ctx context.Context, collection string) (string, error)
	Write(ctx context.Context, path string, value any) error
	Patch(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	Load(ctx context.Context, collection string) (Snapshot, error)
	Get(ctx context.Context, path string, dest any) error
}

type Snapshot struct {
	Collection string
	Docs       map[string]json.RawMessage
}

func Path(collection string, id string) string {
	return collection + "/" + id
}

func SplitPath(path string) (string, string, error) {
	collection, id, ok := strings.Cut(path, "/")
	if !ok || collection == "" || id == "" || strings.Contains(id, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return collection, id, nil
}

func ValidCollection(collection string) error {
	if collection == "" || strings.Contains(collection, "/") {
		return fmt.Errorf("%w: collection %q", ErrInvalidPath, collection)
	}
	return nil
}

// Decode unmarshals every document of the snapshot, ordered by id.
func Decode[T any](snap Snapshot) ([]T, error) {
	ids := make([]string, 0, len(snap.Docs))
	for id := range snap.Docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]T, 0, len(ids))
	for _, id := range ids {
		var v T
		if err := json.Unmarshal(snap.Docs[id], &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", snap.Collection, id, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// LoadAll is Load followed by Decode.
func LoadAll[T any](ctx context.Context, port Port, collection string) ([]T, error) {
	snap, err := port.Load(ctx, collection)
	if err != nil {
		return nil, err
	}
	return Decode[T](snap)
}

// MergeFields applies a shallow patch to a JSON object document.
func MergeFields(doc json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	merged := make(map[string]json.RawMessage)
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &merged); err != nil {
			return nil, fmt.Errorf("patch target is not an object: %w", err)
		}
	}
	for key, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("patch field %s: %w", key, err)
		}
		merged[key] = raw
	}
	return json.Marshal(merged)
}

// CloneDocs copies the map so snapshots handed to subscribers never alias
// backend state.
func CloneDocs(docs map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(docs))
	for id, raw := range docs {
		out[id] = append(json.RawMessage(nil), raw...)
	}
	return out
}

// IDPrefix is the human readable prefix new ids get in a collection.
func IDPrefix(collection string) string {
	switch collection {
	case Books:
		return "book"
	case Gifts:
		return "gift"
	case Shifts:
		return "shift"
	case Sales:
		return "sale"
	case ExtraTransactions:
		return "extra"
	case Loans:
		return "loan"
	case AuditLogs:
		return "audit"
	default:
		return collection
	}
}
