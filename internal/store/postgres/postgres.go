// Package postgres keeps the document collections in one jsonb table and
// fans changes out through LISTEN/NOTIFY.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"kassza/internal/store"
	"kassza/internal/xid"
)

// ChangesChannel is the NOTIFY channel the documents trigger writes the
// changed collection name to.
const ChangesChannel = "kassza_changes"

// Querier is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

var _ Querier = (*pgxpool.Pool)(nil)

type Store struct {
	querier   Querier
	pool      *pgxpool.Pool
	logger    *slog.Logger
	bus       *store.Broadcaster[store.Snapshot]
	refresher *store.Refresher

	listenOnce sync.Once
	stop       context.CancelFunc
	done       chan struct{}
}

var _ store.Port = (*Store)(nil)

func New(ctx context.Context, logger *slog.Logger, databaseURL string) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL connection string: %w", err)
	}
	poolConfig.MaxConns = 16
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	logger.Info("connected to PostgreSQL")
	s := newStore(pool, logger)
	s.pool = pool
	return s, nil
}

func newStore(querier Querier, logger *slog.Logger) *Store {
	s := &Store{
		querier: querier,
		logger:  logger,
		bus:     store.NewBroadcaster[store.Snapshot](),
	}
	s.refresher = store.NewRefresher(s.bus, s.Load)
	return s
}

func (s *Store) Close() {
	if s.stop != nil {
		s.stop()
		<-s.done
	}
	if s.pool != nil {
		s.pool.Close()
		s.logger.Info("closed PostgreSQL connection")
	}
}

func (s *Store) Subscribe(ctx context.Context, collection string) (<-chan store.Snapshot, error) {
	if err := store.ValidCollection(collection); err != nil {
		return nil, err
	}
	s.startListener()

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

	query := `
		INSERT INTO documents (collection, id, body, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (collection, id)
		DO UPDATE SET body = EXCLUDED.body, updated_at = now()
	`
	if _, err := s.querier.Exec(ctx, query, collection, id, string(body)); err != nil {
		s.logger.Error("failed to write document", "path", path, "error", err)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (s *Store) Patch(ctx context.Context, path string, fields map[string]any) error {
	collection, id, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode patch %s: %w", path, err)
	}

	query := `
		UPDATE documents
		SET body = body || $3::jsonb, updated_at = now()
		WHERE collection = $1 AND id = $2
	`
	tag, err := s.querier.Exec(ctx, query, collection, id, string(patch))
	if err != nil {
		s.logger.Error("failed to patch document", "path", path, "error", err)
		return fmt.Errorf("failed to patch %s: %w", path, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patch %s: %w", path, store.ErrNotFound)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	collection, id, err := store.SplitPath(path)
	if err != nil {
		return err
	}

	query := `
		DELETE FROM documents
		WHERE collection = $1 AND id = $2
	`
	tag, err := s.querier.Exec(ctx, query, collection, id)
	if err != nil {
		s.logger.Error("failed to delete document", "path", path, "error", err)
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete %s: %w", path, store.ErrNotFound)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, collection string) (store.Snapshot, error) {
	if err := store.ValidCollection(collection); err != nil {
		return store.Snapshot{}, err
	}

	query := `
		SELECT id, body
		FROM documents
		WHERE collection = $1
	`
	rows, err := s.querier.Query(ctx, query, collection)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("failed to load %s: %w", collection, err)
	}
	defer rows.Close()

	snap := store.Snapshot{Collection: collection, Docs: make(map[string]json.RawMessage)}
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return store.Snapshot{}, fmt.Errorf("failed to scan %s document: %w", collection, err)
		}
		snap.Docs[id] = json.RawMessage(body)
	}
	if err := rows.Err(); err != nil {
		return store.Snapshot{}, fmt.Errorf("failed to load %s: %w", collection, err)
	}
	return snap, nil
}

func (s *Store) Get(ctx context.Context, path string, dest any) error {
	collection, id, err := store.SplitPath(path)
	if err != nil {
		return err
	}

	query := `
		SELECT body
		FROM documents
		WHERE collection = $1 AND id = $2
	`
	var body []byte
	if err := s.querier.QueryRow(ctx, query, collection, id).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("get %s: %w", path, store.ErrNotFound)
		}
		return fmt.Errorf("failed to get %s: %w", path, err)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// refresh reloads a collection and hands it to its subscribers.
func (s *Store) refresh(ctx context.Context, collection string) {
	if err := s.refresher.Refresh(ctx, collection); err != nil {
		s.logger.Warn("failed to reload collection after change", "collection", collection, "error", err)
	}
}
