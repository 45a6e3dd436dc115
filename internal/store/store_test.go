package store

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPath(t *testing.T) {
	collection, id, err := SplitPath("sales/sale-1")
	require.NoError(t, err)
	assert.Equal(t, "sales", collection)
	assert.Equal(t, "sale-1", id)

	for _, bad := range []string{"", "sales", "sales/", "/x", "a/b/c"} {
		_, _, err := SplitPath(bad)
		assert.ErrorIs(t, err, ErrInvalidPath, bad)
	}
}

func TestMergeFieldsKeepsUntouchedFields(t *testing.T) {
	doc := json.RawMessage(`{"id":"b1","name":"Egri csillagok","quantity":4}`)

	merged, err := MergeFields(doc, map[string]any{"quantity": 3})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(merged, &got))
	assert.Equal(t, "Egri csillagok", got["name"])
	assert.EqualValues(t, 3, got["quantity"])
}

func TestMergeFieldsRejectsNonObject(t *testing.T) {
	_, err := MergeFields(json.RawMessage(`[1,2]`), map[string]any{"a": 1})
	assert.Error(t, err)
}

func TestDecodeOrdersByID(t *testing.T) {
	type doc struct {
		ID string `json:"id"`
	}
	snap := Snapshot{Collection: "x", Docs: map[string]json.RawMessage{
		"b": json.RawMessage(`{"id":"b"}`),
		"a": json.RawMessage(`{"id":"a"}`),
	}}

	docs, err := Decode[doc](snap)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "b", docs[1].ID)
}

func TestBroadcasterKeepsLatestValue(t *testing.T) {
	b := NewBroadcaster[int]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, "t", 0)
	b.Publish("t", 1)
	b.Publish("t", 2)
	b.Publish("t", 3)

	assert.Equal(t, 3, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("expected no backlog, got %d", v)
	default:
	}
}

func TestBroadcasterClosesOnCancel(t *testing.T) {
	b := NewBroadcaster[string]()
	ctx, cancel := context.WithCancel(context.Background())

	ch := b.Subscribe(ctx, "t", "initial")
	assert.Equal(t, "initial", <-ch)
	assert.True(t, b.HasSubscribers("t"))

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel was not closed after cancel")
	}
	assert.Eventually(t, func() bool { return !b.HasSubscribers("t") }, time.Second, 10*time.Millisecond)
}

func TestRefresherSerializesReloads(t *testing.T) {
	bus := NewBroadcaster[Snapshot]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := bus.Subscribe(ctx, "sales", Snapshot{Collection: "sales"})
	<-ch

	var calls atomic.Int32
	firstLoading := make(chan struct{})
	releaseFirst := make(chan struct{})
	r := NewRefresher(bus, func(_ context.Context, collection string) (Snapshot, error) {
		n := calls.Add(1)
		snap := Snapshot{Collection: collection, Docs: map[string]json.RawMessage{
			"version": json.RawMessage(strconv.Itoa(int(n))),
		}}
		if n == 1 {
			close(firstLoading)
			<-releaseFirst
		}
		return snap, nil
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, r.Refresh(ctx, "sales"))
	}()
	<-firstLoading
	go func() {
		defer wg.Done()
		assert.NoError(t, r.Refresh(ctx, "sales"))
	}()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "second reload started before the first was published")
	close(releaseFirst)
	wg.Wait()

	snap := <-ch
	assert.Equal(t, "2", string(snap.Docs["version"]))
}

func TestRefresherSkipsCollectionsWithoutSubscribers(t *testing.T) {
	bus := NewBroadcaster[Snapshot]()
	r := NewRefresher(bus, func(context.Context, string) (Snapshot, error) {
		t.Fatal("load called without subscribers")
		return Snapshot{}, nil
	})
	require.NoError(t, r.Refresh(context.Background(), "sales"))
}
