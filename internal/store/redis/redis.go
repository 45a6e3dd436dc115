// Package redis keeps each collection in one Redis hash and announces
// changes on a pub/sub channel.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	redis "github.com/redis/go-redis/v9"

	"kassza/internal/store"
	"kassza/internal/xid"
)

const patchRetries = 5

type Store struct {
	client    *redis.Client
	prefix    string
	logger    *slog.Logger
	bus       *store.Broadcaster[store.Snapshot]
	refresher *store.Refresher

	listenOnce sync.Once
	stop       context.CancelFunc
	done       chan struct{}
}

var _ store.Port = (*Store)(nil)

func New(ctx context.Context, logger *slog.Logger, addr string, password string, db int, prefix string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	if prefix == "" {
		prefix = "kassza"
	}
	logger.Info("connected to Redis", "addr", addr, "prefix", prefix)
	s := &Store{
		client: client,
		prefix: prefix,
		logger: logger,
		bus:    store.NewBroadcaster[store.Snapshot](),
	}
	s.refresher = store.NewRefresher(s.bus, s.Load)
	return s, nil
}

func (s *Store) Close() error {
	if s.stop != nil {
		s.stop()
		<-s.done
	}
	return s.client.Close()
}

func (s *Store) collectionKey(collection string) string {
	return s.prefix + ":" + collection
}

func (s *Store) changesChannel() string {
	return s.prefix + ":changes"
}

func (s *Store) Subscribe(ctx context.Context, collection string) (<-chan store.Snapshot, error) {
	if err := store.ValidCollection(collection); err != nil {
		return nil, err
	}
	if err := s.startListener(); err != nil {
		return nil, err
	}
	initial, err := s.Load(ctx, collection)
	if err != nil {
		return nil, err
	}
	ch := s.bus.Subscribe(ctx, collection, initial)

	// A change handled between the load above and the registration would be
	// lost; one more refresh closes that gap.
	s.refresh(ctx, collection)
	return ch, nil
}

func (s *Store) Create(_ context.Context, collection string) (string, error) {
	if err := store.ValidCollection(collection); err != nil {
		return "", err
	}
	return xid.New(store.IDPrefix(collection)), nil
}

func (s *Store) Write(ctx context.Context, path string, value any) error {
	collection, id, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.collectionKey(collection), id, body)
		pipe.Publish(ctx, s.changesChannel(), collection)
		return nil
	})
	if err != nil {
		s.logger.Error("failed to write document", "path", path, "error", err)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Patch merges fields under WATCH so a concurrent writer forces a retry
// instead of being overwritten with stale fields.
func (s *Store) Patch(ctx context.Context, path string, fields map[string]any) error {
	collection, id, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	key := s.collectionKey(collection)

	txf := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, id).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("patch %s: %w", path, store.ErrNotFound)
		}
		if err != nil {
			return err
		}
		merged, err := store.MergeFields(current, fields)
		if err != nil {
			return fmt.Errorf("patch %s: %w", path, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, id, []byte(merged))
			pipe.Publish(ctx, s.changesChannel(), collection)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < patchRetries; attempt++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		s.logger.Error("failed to patch document", "path", path, "error", err)
		return fmt.Errorf("failed to patch %s: %w", path, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	collection, id, err := store.SplitPath(path)
	if err != nil {
		return err
	}

	var removed *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.HDel(ctx, s.collectionKey(collection), id)
		pipe.Publish(ctx, s.changesChannel(), collection)
		return nil
	})
	if err != nil {
		s.logger.Error("failed to delete document", "path", path, "error", err)
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	if removed.Val() == 0 {
		return fmt.Errorf("delete %s: %w", path, store.ErrNotFound)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, collection string) (store.Snapshot, error) {
	if err := store.ValidCollection(collection); err != nil {
		return store.Snapshot{}, err
	}
	values, err := s.client.HGetAll(ctx, s.collectionKey(collection)).Result()
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("failed to load %s: %w", collection, err)
	}
	snap := store.Snapshot{Collection: collection, Docs: make(map[string]json.RawMessage, len(values))}
	for id, body := range values {
		snap.Docs[id] = json.RawMessage(body)
	}
	return snap, nil
}

func (s *Store) Get(ctx context.Context, path string, dest any) error {
	collection, id, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	body, err := s.client.HGet(ctx, s.collectionKey(collection), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("get %s: %w", path, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", path, err)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (s *Store) startListener() error {
	var startErr error
	s.listenOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		pubsub := s.client.Subscribe(ctx, s.changesChannel())
		// Wait for the subscription to be confirmed so no change published
		// after Subscribe returns is missed.
		if _, err := pubsub.Receive(ctx); err != nil {
			cancel()
			_ = pubsub.Close()
			startErr = fmt.Errorf("subscribe %s: %w", s.changesChannel(), err)
			return
		}
		s.stop = cancel
		s.done = make(chan struct{})
		go func() {
			defer close(s.done)
			defer pubsub.Close()
			messages := pubsub.Channel()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-messages:
					if !ok {
						return
					}
					s.refresh(ctx, msg.Payload)
				}
			}
		}()
	})
	return startErr
}

func (s *Store) refresh(ctx context.Context, collection string) {
	if err := s.refresher.Refresh(ctx, collection); err != nil {
		s.logger.Warn("failed to reload collection after change", "collection", collection, "error", err)
	}
}
