package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kassza/internal/domain"
	"kassza/internal/store"
)

type note struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Done bool   `json:"done"`
}

func TestWritePatchGetDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, err := s.Create(ctx, "notes")
	require.NoError(t, err)
	path := store.Path("notes", id)

	require.NoError(t, s.Write(ctx, path, note{ID: id, Text: "pénztár"}))
	require.NoError(t, s.Patch(ctx, path, map[string]any{"done": true}))

	var got note
	require.NoError(t, s.Get(ctx, path, &got))
	assert.Equal(t, note{ID: id, Text: "pénztár", Done: true}, got)

	require.NoError(t, s.Delete(ctx, path))
	assert.ErrorIs(t, s.Get(ctx, path, &got), store.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, path), store.ErrNotFound)
}

func TestPatchMissingDocument(t *testing.T) {
	err := New().Patch(context.Background(), "notes/missing", map[string]any{"done": true})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWriteRejectsBadPath(t *testing.T) {
	err := New().Write(context.Background(), "notes", note{})
	assert.ErrorIs(t, err, store.ErrInvalidPath)
}

func TestSubscribeDeliversInitialAndLatestSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New()

	ch, err := s.Subscribe(ctx, "notes")
	require.NoError(t, err)

	initial := <-ch
	assert.Empty(t, initial.Docs)

	require.NoError(t, s.Write(ctx, "notes/a", note{ID: "a"}))
	require.NoError(t, s.Write(ctx, "notes/b", note{ID: "b"}))

	select {
	case snap := <-ch:
		assert.Equal(t, "notes", snap.Collection)
		assert.Len(t, snap.Docs, 2)
	case <-time.After(time.Second):
		t.Fatal("no snapshot after writes")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestSnapshotsDoNotAliasState(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Write(ctx, "notes/a", note{ID: "a", Text: "x"}))

	snap, err := s.Load(ctx, "notes")
	require.NoError(t, err)
	snap.Docs["a"][0] = '!'

	var got note
	require.NoError(t, s.Get(ctx, "notes/a", &got))
	assert.Equal(t, "x", got.Text)
}

func TestNewSeededHasCatalogOnly(t *testing.T) {
	t.Setenv("ADMIN_PASSWORD", "seed-secret")
	ctx := context.Background()
	s := NewSeeded()

	books, err := store.LoadAll[domain.Item](ctx, s, store.Books)
	require.NoError(t, err)
	assert.NotEmpty(t, books)
	gifts, err := store.LoadAll[domain.Item](ctx, s, store.Gifts)
	require.NoError(t, err)
	assert.NotEmpty(t, gifts)

	users, err := store.LoadAll[domain.UserAccount](ctx, s, store.Users)
	require.NoError(t, err)
	assert.Empty(t, users)
}
