package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"kassza/internal/domain"
	"kassza/internal/events"
	"kassza/internal/ledger"
	"kassza/internal/metrics"
	"kassza/internal/store"
)

// activeShift loads the shifts collection and picks the open one.
func (s *Service) activeShift(ctx context.Context) (*domain.Shift, error) {
	shifts, err := store.LoadAll[domain.Shift](ctx, s.port, store.Shifts)
	if err != nil {
		return nil, err
	}
	active, open := ledger.ActiveShift(shifts)
	metrics.OpenShifts.Set(float64(open))
	if open > 1 {
		s.logger.Warn("more than one open shift, using the latest", "open", open, "shift_id", active.ID)
	}
	return active, nil
}

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.ShiftResponse, error) {
	if req.OpeningBalance.IsNegative() {
		return domain.ShiftResponse{}, fmt.Errorf("%w: opening balance must be non-negative", store.ErrInvalidTransaction)
	}
	staff := make([]string, 0, len(req.StaffOnDuty))
	for _, name := range req.StaffOnDuty {
		if name = strings.TrimSpace(name); name != "" {
			staff = append(staff, name)
		}
	}
	if len(staff) == 0 {
		return domain.ShiftResponse{}, fmt.Errorf("%w: at least one staff member required", store.ErrInvalidTransaction)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.activeShift(ctx)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	if active != nil {
		return domain.ShiftResponse{}, fmt.Errorf("%w: %s opened at %s", ErrShiftAlreadyOpen, active.ID, active.OpenedAt.Format(time.RFC3339))
	}

	id, err := s.port.Create(ctx, store.Shifts)
	if err != nil {
		return domain.ShiftResponse{}, s.storeFailure("create shift", err)
	}
	now := s.now()
	shift := domain.Shift{
		ID:             id,
		Status:         domain.ShiftStatusOpen,
		Date:           now.In(s.loc).Format("2006-01-02"),
		OpenedAt:       now,
		OpenedBy:       actorName(ctx),
		OpeningBalance: req.OpeningBalance,
		StaffOnDuty:    staff,
	}
	if err := s.port.Write(ctx, store.Path(store.Shifts, id), shift); err != nil {
		return domain.ShiftResponse{}, s.storeFailure("write shift", err)
	}

	metrics.ShiftsOpened.Inc()
	metrics.OpenShifts.Set(1)
	s.publish(ctx, events.Event{Type: events.ShiftOpened, EntityID: id, ShiftID: id, Payload: shift})
	s.logAudit(ctx, "shift_open", "shift", id, fmt.Sprintf("opening_balance=%s,staff=%s", shift.OpeningBalance.String(), strings.Join(staff, ",")))
	s.logger.Info("shift opened", "shift_id", id, "opening_balance", shift.OpeningBalance.String(), "staff", staff)

	return domain.ShiftResponse{Shift: shift}, nil
}

func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (domain.ShiftCloseResponse, error) {
	if req.ActualBalance.IsNegative() {
		return domain.ShiftCloseResponse{}, fmt.Errorf("%w: counted balance must be non-negative", store.ErrInvalidTransaction)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	shifts, err := store.LoadAll[domain.Shift](ctx, s.port, store.Shifts)
	if err != nil {
		return domain.ShiftCloseResponse{}, err
	}
	open := ledger.OpenShifts(shifts)
	if len(open) == 0 {
		return domain.ShiftCloseResponse{}, ErrNoOpenShift
	}
	active := &open[0]

	sales, err := store.LoadAll[domain.Sale](ctx, s.port, store.Sales)
	if err != nil {
		return domain.ShiftCloseResponse{}, err
	}
	extras, err := store.LoadAll[domain.ExtraTransaction](ctx, s.port, store.ExtraTransactions)
	if err != nil {
		return domain.ShiftCloseResponse{}, err
	}

	now := s.now()
	// Older open shifts only exist after two writers raced. They are closed
	// first, uncounted, so a failed write leaves the active shift open.
	for _, stray := range open[1:] {
		if err := s.closeSuperseded(ctx, stray, active.ID, sales, extras, now); err != nil {
			return domain.ShiftCloseResponse{}, err
		}
	}

	summary := ledger.Summarize(*active, sales, extras, now)
	closed := ledger.CloseShift(*active, summary, req.ActualBalance, actorName(ctx), now)
	if err := s.port.Write(ctx, store.Path(store.Shifts, closed.ID), closed); err != nil {
		return domain.ShiftCloseResponse{}, s.storeFailure("close shift", err)
	}

	text := ledger.RenderClosingReport(closed, summary, ledger.ShiftExtras(closed, extras), s.loc)
	report := domain.ClosingReport{
		ShiftID:         closed.ID,
		Date:            closed.Date,
		ClosedAt:        now,
		ClosedBy:        closed.ClosedBy,
		ExpectedBalance: summary.ExpectedBalance,
		ActualBalance:   req.ActualBalance,
		Discrepancy:     *closed.Discrepancy,
		Text:            text,
	}
	if err := s.reports.Save(ctx, report); err != nil {
		s.logger.Error("failed to archive closing report", "shift_id", closed.ID, "error", err)
	}

	metrics.ShiftsClosed.Inc()
	metrics.OpenShifts.Set(0)
	metrics.LastDiscrepancy.Set(metrics.Forints(*closed.Discrepancy))
	s.publish(ctx, events.Event{Type: events.ShiftClosed, EntityID: closed.ID, ShiftID: closed.ID, Payload: report})
	s.logAudit(ctx, "shift_close", "shift", closed.ID, fmt.Sprintf("expected=%s,actual=%s,discrepancy=%s",
		summary.ExpectedBalance.String(), req.ActualBalance.String(), closed.Discrepancy.String()))
	s.logger.Info("shift closed",
		"shift_id", closed.ID,
		"expected_balance", summary.ExpectedBalance.String(),
		"actual_balance", req.ActualBalance.String(),
		"discrepancy", closed.Discrepancy.String(),
	)

	return domain.ShiftCloseResponse{Shift: closed, Report: text}, nil
}

// closeSuperseded closes a stray open shift with its computed totals. Its
// cash was never counted, so the actual balance is taken as expected.
func (s *Service) closeSuperseded(ctx context.Context, stray domain.Shift, activeID string, sales []domain.Sale, extras []domain.ExtraTransaction, now time.Time) error {
	summary := ledger.Summarize(stray, sales, extras, now)
	closed := ledger.CloseShift(stray, summary, summary.ExpectedBalance, actorName(ctx), now)
	if err := s.port.Write(ctx, store.Path(store.Shifts, closed.ID), closed); err != nil {
		return s.storeFailure("close superseded shift", err)
	}
	metrics.ShiftsClosed.Inc()
	s.logAudit(ctx, "shift_close_superseded", "shift", closed.ID, fmt.Sprintf("superseded_by=%s,expected=%s,uncounted=true",
		activeID, summary.ExpectedBalance.String()))
	s.logger.Warn("closed superseded open shift",
		"shift_id", closed.ID,
		"superseded_by", activeID,
		"expected_balance", summary.ExpectedBalance.String(),
	)
	return nil
}

func (s *Service) GetActiveShift(ctx context.Context) (domain.ShiftResponse, error) {
	active, err := s.activeShift(ctx)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	if active == nil {
		return domain.ShiftResponse{}, ErrNoOpenShift
	}
	return domain.ShiftResponse{Shift: *active}, nil
}

func (s *Service) GetShift(ctx context.Context, id string) (domain.Shift, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Shift{}, fmt.Errorf("%w: shift id required", store.ErrInvalidTransaction)
	}
	var shift domain.Shift
	if err := s.port.Get(ctx, store.Path(store.Shifts, id), &shift); err != nil {
		return domain.Shift{}, err
	}
	if shift.ID == "" {
		shift.ID = id
	}
	return shift, nil
}

// ListShifts returns shifts newest first.
func (s *Service) ListShifts(ctx context.Context, limit int) ([]domain.Shift, error) {
	shifts, err := store.LoadAll[domain.Shift](ctx, s.port, store.Shifts)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(shifts, func(sh domain.Shift) time.Time { return sh.OpenedAt })
	if limit > 0 && len(shifts) > limit {
		shifts = shifts[:limit]
	}
	return shifts, nil
}

// GetShiftReport returns the archived closing report, rebuilding it from the
// stored shift when the archive has no copy.
func (s *Service) GetShiftReport(ctx context.Context, id string) (domain.ClosingReport, error) {
	report, err := s.reports.Get(ctx, id)
	if err == nil {
		return report, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("closing report archive lookup failed", "shift_id", id, "error", err)
	}

	shift, err := s.GetShift(ctx, id)
	if err != nil {
		return domain.ClosingReport{}, err
	}
	if shift.IsOpen() || shift.ClosedAt == nil || shift.Discrepancy == nil || shift.ActualBalance == nil {
		return domain.ClosingReport{}, fmt.Errorf("%w: shift %s is not closed", store.ErrInvalidTransaction, id)
	}

	sales, err := store.LoadAll[domain.Sale](ctx, s.port, store.Sales)
	if err != nil {
		return domain.ClosingReport{}, err
	}
	extras, err := store.LoadAll[domain.ExtraTransaction](ctx, s.port, store.ExtraTransactions)
	if err != nil {
		return domain.ClosingReport{}, err
	}
	summary := ledger.SummaryOfClosed(shift, sales)
	return domain.ClosingReport{
		ShiftID:         shift.ID,
		Date:            shift.Date,
		ClosedAt:        *shift.ClosedAt,
		ClosedBy:        shift.ClosedBy,
		ExpectedBalance: summary.ExpectedBalance,
		ActualBalance:   *shift.ActualBalance,
		Discrepancy:     *shift.Discrepancy,
		Text:            ledger.RenderClosingReport(shift, summary, ledger.ShiftExtras(shift, extras), s.loc),
	}, nil
}

func (s *Service) ListClosingReports(ctx context.Context, limit int) ([]domain.ClosingReport, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 365 {
		limit = 30
	}
	return s.reports.List(ctx, limit)
}

func (s *Service) RecordExtraTransaction(ctx context.Context, req domain.ExtraTransactionRequest) (domain.ExtraTransaction, error) {
	req.Description = strings.TrimSpace(req.Description)
	if req.Description == "" {
		return domain.ExtraTransaction{}, fmt.Errorf("%w: description required", store.ErrInvalidTransaction)
	}
	if req.Amount.IsNegative() {
		return domain.ExtraTransaction{}, fmt.Errorf("%w: amount must be non-negative", store.ErrInvalidTransaction)
	}
	if !req.Type.Valid() {
		return domain.ExtraTransaction{}, fmt.Errorf("%w: type must be income or expense", store.ErrInvalidTransaction)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.activeShift(ctx)
	if err != nil {
		return domain.ExtraTransaction{}, err
	}
	if active == nil {
		return domain.ExtraTransaction{}, ErrNoOpenShift
	}

	id, err := s.port.Create(ctx, store.ExtraTransactions)
	if err != nil {
		return domain.ExtraTransaction{}, s.storeFailure("create extra transaction", err)
	}
	extra := domain.ExtraTransaction{
		ID:          id,
		Description: req.Description,
		Amount:      req.Amount,
		Type:        req.Type,
		Timestamp:   s.now(),
		ShiftID:     active.ID,
		RecordedBy:  actorName(ctx),
	}
	if err := s.port.Write(ctx, store.Path(store.ExtraTransactions, id), extra); err != nil {
		return domain.ExtraTransaction{}, s.storeFailure("write extra transaction", err)
	}

	metrics.ExtraTransactions.WithLabelValues(string(extra.Type)).Inc()
	s.publish(ctx, events.Event{Type: events.ExtraRecorded, EntityID: id, ShiftID: active.ID, Payload: extra})
	s.logAudit(ctx, "extra_"+string(extra.Type), "extra_transaction", id, fmt.Sprintf("amount=%s,description=%s", extra.Amount.String(), extra.Description))

	return extra, nil
}

// ListExtraTransactions lists one shift's extras in time order. An empty
// shiftID means the open shift; with none open the list is empty.
func (s *Service) ListExtraTransactions(ctx context.Context, shiftID string) ([]domain.ExtraTransaction, error) {
	if shiftID == "" {
		active, err := s.activeShift(ctx)
		if err != nil {
			return nil, err
		}
		if active == nil {
			return []domain.ExtraTransaction{}, nil
		}
		shiftID = active.ID
	}
	extras, err := store.LoadAll[domain.ExtraTransaction](ctx, s.port, store.ExtraTransactions)
	if err != nil {
		return nil, err
	}
	return ledger.ShiftExtras(domain.Shift{ID: shiftID}, extras), nil
}

// TillSummary is the till state computed on demand from the store.
func (s *Service) TillSummary(ctx context.Context) (ledger.TillState, error) {
	shifts, err := store.LoadAll[domain.Shift](ctx, s.port, store.Shifts)
	if err != nil {
		return ledger.TillState{}, err
	}
	sales, err := store.LoadAll[domain.Sale](ctx, s.port, store.Sales)
	if err != nil {
		return ledger.TillState{}, err
	}
	extras, err := store.LoadAll[domain.ExtraTransaction](ctx, s.port, store.ExtraTransactions)
	if err != nil {
		return ledger.TillState{}, err
	}
	return ledger.ComputeTillState(shifts, sales, extras, s.now(), s.loc), nil
}

func sortNewestFirst[T any](items []T, at func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool {
		return at(items[i]).After(at(items[j]))
	})
}
