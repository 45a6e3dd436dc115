package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kassza/internal/archive"
	"kassza/internal/domain"
	"kassza/internal/events"
	"kassza/internal/inventory"
	"kassza/internal/lending"
	"kassza/internal/metrics"
	"kassza/internal/store"
	"kassza/internal/xid"
)

var (
	ErrShiftAlreadyOpen = errors.New("a shift is already open")
	ErrNoOpenShift      = errors.New("no open shift")
	ErrForbidden        = errors.New("admin role required")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Config struct {
	Location        *time.Location
	DefaultLoanDays int
}

// Service is the till's single writer. Every mutation of shifts, sales,
// extra transactions and stock runs under mu.
type Service struct {
	port      store.Port
	catalog   *inventory.Catalog
	publisher events.Publisher
	reports   archive.Archive
	logger    *slog.Logger
	loc       *time.Location
	loanDays  int
	now       func() time.Time

	mu sync.Mutex
}

func New(port store.Port, publisher events.Publisher, reports archive.Archive, logger *slog.Logger, cfg Config) *Service {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if reports == nil {
		reports = archive.NewMemory()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DefaultLoanDays < 1 {
		cfg.DefaultLoanDays = lending.DefaultLoanDays
	}
	return &Service{
		port:      port,
		catalog:   inventory.NewCatalog(port),
		publisher: publisher,
		reports:   reports,
		logger:    logger,
		loc:       cfg.Location,
		loanDays:  cfg.DefaultLoanDays,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Location() *time.Location {
	return s.loc
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

// storeFailure counts and wraps a persistence error.
func (s *Service) storeFailure(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return err
	}
	metrics.StoreErrors.WithLabelValues(op).Inc()
	s.logger.Error("store write failed", "operation", op, "error", err)
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if event.At.IsZero() {
		event.At = s.now()
	}
	if event.Actor == "" {
		event.Actor = actorName(ctx)
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event", "type", event.Type, "entity_id", event.EntityID, "error", err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	entry := domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}
	if err := s.port.Write(ctx, store.Path(store.AuditLogs, entry.ID), entry); err != nil {
		s.logger.Warn("failed to write audit log", "action", action, "entity_type", entityType, "entity_id", entityID, "error", err)
	}
}

// ListAuditLogs returns entries newest first, optionally restricted to one
// calendar day (YYYY-MM-DD in the shop's time zone).
func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if date != "" {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidTransaction)
		}
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}

	entries, err := store.LoadAll[domain.AuditLog](ctx, s.port, store.AuditLogs)
	if err != nil {
		return nil, err
	}
	out := make([]domain.AuditLog, 0, len(entries))
	for _, entry := range entries {
		if date != "" && entry.CreatedAt.In(s.loc).Format("2006-01-02") != date {
			continue
		}
		out = append(out, entry)
	}
	sortNewestFirst(out, func(e domain.AuditLog) time.Time { return e.CreatedAt })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
