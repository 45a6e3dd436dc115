package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"kassza/internal/domain"
	"kassza/internal/lending"
	"kassza/internal/store"
)

func (s *Service) ListItems(ctx context.Context, kind domain.ItemKind) ([]domain.Item, error) {
	return s.catalog.List(ctx, kind)
}

func (s *Service) GetItem(ctx context.Context, kind domain.ItemKind, id string) (domain.Item, error) {
	return s.catalog.Get(ctx, kind, id)
}

func (s *Service) CreateItem(ctx context.Context, kind domain.ItemKind, req domain.ItemCreateRequest) (domain.Item, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Item{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.catalog.Create(ctx, kind, req)
	if err != nil {
		return domain.Item{}, err
	}
	s.logAudit(ctx, "item_create", string(kind), item.ID, fmt.Sprintf("name=%s,price=%s,qty=%d", item.Name, item.Price.String(), item.Quantity))
	return item, nil
}

func (s *Service) UpdateItem(ctx context.Context, kind domain.ItemKind, id string, req domain.ItemUpdateRequest) (domain.Item, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Item{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.catalog.Update(ctx, kind, id, req)
	if err != nil {
		return domain.Item{}, err
	}
	s.logAudit(ctx, "item_update", string(kind), item.ID, fmt.Sprintf("name=%s,price=%s,qty=%d", item.Name, item.Price.String(), item.Quantity))
	return item, nil
}

func (s *Service) DeleteItem(ctx context.Context, kind domain.ItemKind, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.catalog.Delete(ctx, kind, id); err != nil {
		return err
	}
	s.logAudit(ctx, "item_delete", string(kind), id, "")
	return nil
}

// LendBook lends one copy. Loans do not move stock, but a book cannot have
// more copies out than it has on hand.
func (s *Service) LendBook(ctx context.Context, req domain.LoanRequest) (domain.LoanView, error) {
	req.Borrower = strings.TrimSpace(req.Borrower)
	if req.Borrower == "" {
		return domain.LoanView{}, fmt.Errorf("%w: borrower required", store.ErrInvalidTransaction)
	}
	if req.Days < 0 {
		return domain.LoanView{}, fmt.Errorf("%w: loan days must be non-negative", store.ErrInvalidTransaction)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	book, err := s.catalog.Get(ctx, domain.ItemKindBook, req.BookID)
	if err != nil {
		return domain.LoanView{}, err
	}
	loans, err := store.LoadAll[domain.Loan](ctx, s.port, store.Loans)
	if err != nil {
		return domain.LoanView{}, err
	}
	out := 0
	for _, loan := range loans {
		if loan.BookID == book.ID && loan.ReturnedAt == nil {
			out++
		}
	}
	if out >= book.Quantity {
		return domain.LoanView{}, fmt.Errorf("%w: every copy of %s is lent out", store.ErrInsufficientStock, book.Name)
	}

	id, err := s.port.Create(ctx, store.Loans)
	if err != nil {
		return domain.LoanView{}, s.storeFailure("create loan", err)
	}
	now := s.now()
	loan := domain.Loan{
		ID:        id,
		BookID:    book.ID,
		BookTitle: book.Name,
		Borrower:  req.Borrower,
		Contact:   strings.TrimSpace(req.Contact),
		LentAt:    now,
		DueAt:     lending.DueDate(now, req.Days, s.loanDays),
		LentBy:    actorName(ctx),
	}
	if err := s.port.Write(ctx, store.Path(store.Loans, id), loan); err != nil {
		return domain.LoanView{}, s.storeFailure("write loan", err)
	}
	s.logAudit(ctx, "loan_create", "loan", id, fmt.Sprintf("book=%s,borrower=%s,due=%s", book.ID, loan.Borrower, loan.DueAt.Format("2006-01-02")))
	return lending.View(loan, now), nil
}

func (s *Service) ReturnLoan(ctx context.Context, id string) (domain.LoanView, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.LoanView{}, fmt.Errorf("%w: loan id required", store.ErrInvalidTransaction)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var loan domain.Loan
	path := store.Path(store.Loans, id)
	if err := s.port.Get(ctx, path, &loan); err != nil {
		return domain.LoanView{}, err
	}
	if loan.ReturnedAt != nil {
		return domain.LoanView{}, fmt.Errorf("%w: loan %s already returned", store.ErrInvalidTransaction, id)
	}
	now := s.now()
	if err := s.port.Patch(ctx, path, map[string]any{"returned_at": now}); err != nil {
		return domain.LoanView{}, s.storeFailure("return loan", err)
	}
	loan.ID = id
	loan.ReturnedAt = &now
	s.logAudit(ctx, "loan_return", "loan", id, fmt.Sprintf("book=%s,borrower=%s", loan.BookID, loan.Borrower))
	return lending.View(loan, now), nil
}

// ListLoans returns loans by due date, outstanding ones first.
func (s *Service) ListLoans(ctx context.Context, outstandingOnly bool) ([]domain.LoanView, error) {
	loans, err := store.LoadAll[domain.Loan](ctx, s.port, store.Loans)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]domain.LoanView, 0, len(loans))
	for _, loan := range loans {
		if outstandingOnly && loan.ReturnedAt != nil {
			continue
		}
		out = append(out, lending.View(loan, now))
	}
	sort.SliceStable(out, func(i, j int) bool {
		iOpen, jOpen := out[i].ReturnedAt == nil, out[j].ReturnedAt == nil
		if iOpen != jOpen {
			return iOpen
		}
		return out[i].DueAt.Before(out[j].DueAt)
	})
	return out, nil
}
