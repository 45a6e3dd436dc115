package postgres

import (
	"context"
	"fmt"
	"time"
)

// startListener runs the LISTEN loop once per store. Without a pool (tests
// on a mock querier) subscribers only get their initial snapshot.
func (s *Store) startListener() {
	if s.pool == nil {
		return
	}
	s.listenOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.stop = cancel
		s.done = make(chan struct{})
		go func() {
			defer close(s.done)
			s.listen(ctx)
		}()
	})
}

func (s *Store) listen(ctx context.Context) {
	backoff := time.Second
	for {
		err := s.listenOnConn(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("change listener dropped, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *Store) listenOnConn(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+ChangesChannel); err != nil {
		return fmt.Errorf("listen %s: %w", ChangesChannel, err)
	}
	s.logger.Info("listening for document changes", "channel", ChangesChannel)

	// Changes made while the connection was down are picked up here.
	for _, collection := range s.bus.Topics() {
		s.refresh(ctx, collection)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.refresh(ctx, notification.Payload)
	}
}
