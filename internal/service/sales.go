package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kassza/internal/domain"
	"kassza/internal/events"
	"kassza/internal/export"
	"kassza/internal/inventory"
	"kassza/internal/ledger"
	"kassza/internal/metrics"
	"kassza/internal/store"
)

// RecordSale takes the stock first and then writes the sale. If the sale
// write fails the stock is put back.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleRequest) (domain.Sale, error) {
	if !req.ItemType.Valid() {
		return domain.Sale{}, fmt.Errorf("%w: item type must be book or gift", store.ErrInvalidTransaction)
	}
	req.ItemID = strings.TrimSpace(req.ItemID)
	if req.ItemID == "" {
		return domain.Sale{}, fmt.Errorf("%w: item id required", store.ErrInvalidTransaction)
	}
	if req.Quantity < 1 {
		return domain.Sale{}, fmt.Errorf("%w: quantity must be positive", store.ErrInvalidTransaction)
	}
	if req.UnitPrice != nil && req.UnitPrice.IsNegative() {
		return domain.Sale{}, fmt.Errorf("%w: unit price must be non-negative", store.ErrInvalidTransaction)
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentCash
	}
	if !req.PaymentMethod.Valid() {
		return domain.Sale{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidTransaction, req.PaymentMethod)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.catalog.Get(ctx, req.ItemType, req.ItemID)
	if err != nil {
		return domain.Sale{}, err
	}
	if req.Quantity > item.Quantity {
		return domain.Sale{}, fmt.Errorf("%w: %s has %d, requested %d", store.ErrInsufficientStock, item.Name, item.Quantity, req.Quantity)
	}
	unitPrice := item.Price
	if req.UnitPrice != nil {
		unitPrice = *req.UnitPrice
	}

	active, err := s.activeShift(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	shiftID := ""
	if active != nil {
		shiftID = active.ID
	}

	id, err := s.port.Create(ctx, store.Sales)
	if err != nil {
		return domain.Sale{}, s.storeFailure("create sale", err)
	}
	sale := domain.Sale{
		ID:            id,
		ItemType:      req.ItemType,
		ItemID:        item.ID,
		ItemName:      item.Name,
		Quantity:      req.Quantity,
		UnitPrice:     unitPrice,
		Total:         unitPrice.Mul(decimal.NewFromInt(int64(req.Quantity))),
		PaymentMethod: req.PaymentMethod,
		Timestamp:     s.now(),
		Seller:        actorName(ctx),
		ShiftID:       shiftID,
	}

	if _, err := s.catalog.AdjustStock(ctx, sale.ItemType, sale.ItemID, -sale.Quantity); err != nil {
		if errors.Is(err, store.ErrInsufficientStock) || errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, err
		}
		return domain.Sale{}, s.storeFailure("take stock", err)
	}
	if err := s.port.Write(ctx, store.Path(store.Sales, id), sale); err != nil {
		cause := s.storeFailure("write sale", err)
		return domain.Sale{}, s.restoreStock(ctx, sale.ItemType, sale.ItemID, sale.Quantity, cause)
	}

	metrics.SalesRecorded.WithLabelValues(string(sale.PaymentMethod)).Inc()
	metrics.SalesAmount.WithLabelValues(string(sale.PaymentMethod)).Add(metrics.Forints(sale.Total))
	s.publish(ctx, events.Event{Type: events.SaleRecorded, EntityID: id, ShiftID: shiftID, Payload: sale})
	s.logAudit(ctx, "sale_record", "sale", id, fmt.Sprintf("item=%s/%s,qty=%d,total=%s,method=%s",
		sale.ItemType, sale.ItemID, sale.Quantity, sale.Total.String(), sale.PaymentMethod))

	return sale, nil
}

// EditSale changes quantity, price or payment method. Stock moves by the
// quantity delta; timestamp, seller and shift stay as recorded.
func (s *Service) EditSale(ctx context.Context, id string, req domain.SaleEditRequest) (domain.Sale, error) {
	if req.Quantity < 1 {
		return domain.Sale{}, fmt.Errorf("%w: quantity must be positive", store.ErrInvalidTransaction)
	}
	if req.UnitPrice != nil && req.UnitPrice.IsNegative() {
		return domain.Sale{}, fmt.Errorf("%w: unit price must be non-negative", store.ErrInvalidTransaction)
	}
	if req.PaymentMethod != "" && !req.PaymentMethod.Valid() {
		return domain.Sale{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidTransaction, req.PaymentMethod)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sale, err := s.getSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}

	// delta > 0 needs that many more units on hand; AdjustStock rejects
	// anything that would go below zero.
	delta := req.Quantity - sale.Quantity
	if delta != 0 {
		if _, err := s.catalog.AdjustStock(ctx, sale.ItemType, sale.ItemID, -delta); err != nil {
			if errors.Is(err, store.ErrInsufficientStock) || errors.Is(err, store.ErrNotFound) {
				return domain.Sale{}, err
			}
			return domain.Sale{}, s.storeFailure("adjust stock", err)
		}
	}

	updated := sale
	updated.Quantity = req.Quantity
	if req.UnitPrice != nil {
		updated.UnitPrice = *req.UnitPrice
	}
	if req.PaymentMethod != "" {
		updated.PaymentMethod = req.PaymentMethod
	}
	updated.Total = updated.UnitPrice.Mul(decimal.NewFromInt(int64(updated.Quantity)))
	editedAt := s.now()
	updated.UpdatedAt = &editedAt

	if err := s.port.Write(ctx, store.Path(store.Sales, sale.ID), updated); err != nil {
		cause := s.storeFailure("write sale", err)
		if delta != 0 {
			return domain.Sale{}, s.restoreStock(ctx, sale.ItemType, sale.ItemID, delta, cause)
		}
		return domain.Sale{}, cause
	}

	s.publish(ctx, events.Event{Type: events.SaleEdited, EntityID: sale.ID, ShiftID: sale.ShiftID, Payload: updated})
	s.logAudit(ctx, "sale_edit", "sale", sale.ID, fmt.Sprintf("qty=%d->%d,total=%s->%s",
		sale.Quantity, updated.Quantity, sale.Total.String(), updated.Total.String()))

	return updated, nil
}

// DeleteSale puts the sold quantity back on the shelf and removes the sale.
// A sale whose item has since left the catalog is removed without a restock.
func (s *Service) DeleteSale(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, err := s.getSale(ctx, id)
	if err != nil {
		return err
	}

	restocked := true
	if _, err := s.catalog.AdjustStock(ctx, sale.ItemType, sale.ItemID, sale.Quantity); err != nil {
		if !inventory.IsMissing(err) {
			return s.storeFailure("restore stock", err)
		}
		restocked = false
		s.logger.Warn("deleting sale of an item no longer in the catalog", "sale_id", sale.ID, "item_id", sale.ItemID)
	}

	if err := s.port.Delete(ctx, store.Path(store.Sales, sale.ID)); err != nil {
		cause := s.storeFailure("delete sale", err)
		if restocked {
			return s.restoreStock(ctx, sale.ItemType, sale.ItemID, -sale.Quantity, cause)
		}
		return cause
	}

	s.publish(ctx, events.Event{Type: events.SaleDeleted, EntityID: sale.ID, ShiftID: sale.ShiftID, Payload: sale})
	s.logAudit(ctx, "sale_delete", "sale", sale.ID, fmt.Sprintf("item=%s/%s,qty=%d,restocked=%t",
		sale.ItemType, sale.ItemID, sale.Quantity, restocked))
	return nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	return s.getSale(ctx, id)
}

func (s *Service) getSale(ctx context.Context, id string) (domain.Sale, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Sale{}, fmt.Errorf("%w: sale id required", store.ErrInvalidTransaction)
	}
	var sale domain.Sale
	if err := s.port.Get(ctx, store.Path(store.Sales, id), &sale); err != nil {
		return domain.Sale{}, err
	}
	if sale.ID == "" {
		sale.ID = id
	}
	return sale, nil
}

// restoreStock undoes a stock move after the paired sale write failed. The
// returned error always carries cause.
func (s *Service) restoreStock(ctx context.Context, kind domain.ItemKind, itemID string, delta int, cause error) error {
	// The request may already be cancelled; the rollback must still land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if _, err := s.catalog.AdjustStock(ctx, kind, itemID, delta); err != nil {
		metrics.Compensations.WithLabelValues("failed").Inc()
		s.logger.Error("stock rollback failed, inventory needs a manual check",
			"item_type", kind, "item_id", itemID, "delta", delta, "cause", cause, "error", err)
		return errors.Join(cause, fmt.Errorf("restore stock of %s/%s: %w", kind, itemID, err))
	}
	metrics.Compensations.WithLabelValues("applied").Inc()
	return cause
}

// ListSales filters by calendar scope around day, newest first.
func (s *Service) ListSales(ctx context.Context, scope string, day time.Time) ([]domain.Sale, error) {
	parsed, err := ledger.ParseScope(scope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}
	if day.IsZero() {
		day = s.now()
	}
	sales, err := store.LoadAll[domain.Sale](ctx, s.port, store.Sales)
	if err != nil {
		return nil, err
	}
	return ledger.FilterSales(sales, parsed, day, s.loc), nil
}

func (s *Service) ExportSales(ctx context.Context, scope string, day time.Time) ([]byte, error) {
	sales, err := s.ListSales(ctx, scope, day)
	if err != nil {
		return nil, err
	}
	return export.SalesWorkbook(sales, s.loc)
}
