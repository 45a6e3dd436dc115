package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"kassza/internal/domain"
	"kassza/internal/store"
)

// Catalog is the books and gifts inventory kept on a store.Port.
type Catalog struct {
	port store.Port
	now  func() time.Time
}

func NewCatalog(port store.Port) *Catalog {
	return &Catalog{port: port, now: func() time.Time { return time.Now().UTC() }}
}

func Collection(kind domain.ItemKind) (string, error) {
	switch kind {
	case domain.ItemKindBook:
		return store.Books, nil
	case domain.ItemKindGift:
		return store.Gifts, nil
	default:
		return "", fmt.Errorf("%w: unknown item type %q", store.ErrInvalidTransaction, kind)
	}
}

func (c *Catalog) path(kind domain.ItemKind, id string) (string, error) {
	collection, err := Collection(kind)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: item id required", store.ErrInvalidTransaction)
	}
	return store.Path(collection, id), nil
}

func (c *Catalog) List(ctx context.Context, kind domain.ItemKind) ([]domain.Item, error) {
	collection, err := Collection(kind)
	if err != nil {
		return nil, err
	}
	items, err := store.LoadAll[domain.Item](ctx, c.port, collection)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
	return items, nil
}

func (c *Catalog) Get(ctx context.Context, kind domain.ItemKind, id string) (domain.Item, error) {
	path, err := c.path(kind, id)
	if err != nil {
		return domain.Item{}, err
	}
	var item domain.Item
	if err := c.port.Get(ctx, path, &item); err != nil {
		return domain.Item{}, err
	}
	if item.ID == "" {
		item.ID = id
	}
	if item.Kind == "" {
		item.Kind = kind
	}
	return item, nil
}

func (c *Catalog) Create(ctx context.Context, kind domain.ItemKind, req domain.ItemCreateRequest) (domain.Item, error) {
	collection, err := Collection(kind)
	if err != nil {
		return domain.Item{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Item{}, fmt.Errorf("%w: name required", store.ErrInvalidTransaction)
	}
	if req.Price.IsNegative() || req.Quantity < 0 {
		return domain.Item{}, fmt.Errorf("%w: price and quantity must be non-negative", store.ErrInvalidTransaction)
	}

	id, err := c.port.Create(ctx, collection)
	if err != nil {
		return domain.Item{}, err
	}
	now := c.now()
	item := domain.Item{
		ID:        id,
		Kind:      kind,
		Name:      req.Name,
		Author:    strings.TrimSpace(req.Author),
		ISBN:      strings.TrimSpace(req.ISBN),
		Publisher: strings.TrimSpace(req.Publisher),
		Category:  strings.TrimSpace(req.Category),
		Price:     req.Price,
		Quantity:  req.Quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.port.Write(ctx, store.Path(collection, id), item); err != nil {
		return domain.Item{}, err
	}
	return item, nil
}

func (c *Catalog) Update(ctx context.Context, kind domain.ItemKind, id string, req domain.ItemUpdateRequest) (domain.Item, error) {
	item, err := c.Get(ctx, kind, id)
	if err != nil {
		return domain.Item{}, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Item{}, fmt.Errorf("%w: name required", store.ErrInvalidTransaction)
		}
		item.Name = name
	}
	if req.Author != nil {
		item.Author = strings.TrimSpace(*req.Author)
	}
	if req.ISBN != nil {
		item.ISBN = strings.TrimSpace(*req.ISBN)
	}
	if req.Publisher != nil {
		item.Publisher = strings.TrimSpace(*req.Publisher)
	}
	if req.Category != nil {
		item.Category = strings.TrimSpace(*req.Category)
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.Item{}, fmt.Errorf("%w: price must be non-negative", store.ErrInvalidTransaction)
		}
		item.Price = *req.Price
	}
	if req.Quantity != nil {
		if *req.Quantity < 0 {
			return domain.Item{}, fmt.Errorf("%w: quantity must be non-negative", store.ErrInvalidTransaction)
		}
		item.Quantity = *req.Quantity
	}
	item.UpdatedAt = c.now()

	path, _ := c.path(kind, id)
	if err := c.port.Write(ctx, path, item); err != nil {
		return domain.Item{}, err
	}
	return item, nil
}

func (c *Catalog) Delete(ctx context.Context, kind domain.ItemKind, id string) error {
	path, err := c.path(kind, id)
	if err != nil {
		return err
	}
	return c.port.Delete(ctx, path)
}

// SetQuantity overwrites the quantity on hand.
func (c *Catalog) SetQuantity(ctx context.Context, kind domain.ItemKind, id string, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("%w: quantity would drop to %d", store.ErrInsufficientStock, quantity)
	}
	path, err := c.path(kind, id)
	if err != nil {
		return err
	}
	return c.port.Patch(ctx, path, map[string]any{
		"quantity":   quantity,
		"updated_at": c.now(),
	})
}

// AdjustStock applies delta to the quantity on hand and returns the new
// quantity. Results below zero are rejected with store.ErrInsufficientStock.
func (c *Catalog) AdjustStock(ctx context.Context, kind domain.ItemKind, id string, delta int) (int, error) {
	item, err := c.Get(ctx, kind, id)
	if err != nil {
		return 0, err
	}
	next := item.Quantity + delta
	if next < 0 {
		return item.Quantity, fmt.Errorf("%w: %s has %d, needs %d", store.ErrInsufficientStock, item.Name, item.Quantity, -delta)
	}
	if err := c.SetQuantity(ctx, kind, id, next); err != nil {
		return item.Quantity, err
	}
	return next, nil
}

// IsMissing reports whether err means the item no longer exists.
func IsMissing(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
