package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kassza/internal/domain"
	"kassza/internal/store"
)

// TillState is what a till screen shows: the open shift with its running
// summary plus today's sales.
type TillState struct {
	ActiveShift     *domain.Shift   `json:"active_shift,omitempty"`
	Summary         *Summary        `json:"summary,omitempty"`
	OpenShifts      int             `json:"open_shifts"`
	TodaySalesTotal decimal.Decimal `json:"today_sales_total"`
	TodaySalesCount int             `json:"today_sales_count"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func ComputeTillState(shifts []domain.Shift, sales []domain.Sale, extras []domain.ExtraTransaction, now time.Time, loc *time.Location) TillState {
	state := TillState{UpdatedAt: now}
	if active, open := ActiveShift(shifts); active != nil {
		summary := Summarize(*active, sales, extras, now)
		state.ActiveShift = active
		state.Summary = &summary
		state.OpenShifts = open
	}
	today := FilterSales(sales, ScopeDaily, now, loc)
	state.TodaySalesTotal = SalesTotal(today)
	state.TodaySalesCount = len(today)
	return state
}

const tillTopic = "till"

// Projection keeps TillState current from the shifts, sales and
// extra_transactions streams of a store.Port.
type Projection struct {
	port   store.Port
	logger *slog.Logger
	loc    *time.Location
	now    func() time.Time
	bus    *store.Broadcaster[TillState]

	mu     sync.RWMutex
	shifts []domain.Shift
	sales  []domain.Sale
	extras []domain.ExtraTransaction
	state  TillState
}

func NewProjection(port store.Port, logger *slog.Logger, loc *time.Location) *Projection {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Projection{
		port:   port,
		logger: logger,
		loc:    loc,
		now:    func() time.Time { return time.Now().UTC() },
		bus:    store.NewBroadcaster[TillState](),
	}
}

// Run subscribes to the three streams and recomputes on every snapshot until
// ctx is done or a stream closes.
func (p *Projection) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shiftsCh, err := p.port.Subscribe(ctx, store.Shifts)
	if err != nil {
		return fmt.Errorf("subscribe shifts: %w", err)
	}
	salesCh, err := p.port.Subscribe(ctx, store.Sales)
	if err != nil {
		return fmt.Errorf("subscribe sales: %w", err)
	}
	extrasCh, err := p.port.Subscribe(ctx, store.ExtraTransactions)
	if err != nil {
		return fmt.Errorf("subscribe extra transactions: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-shiftsCh:
			if !ok {
				return nil
			}
			if shifts, err := store.Decode[domain.Shift](snap); err != nil {
				p.logger.Error("till projection: decode shifts", "error", err)
			} else {
				p.apply(func() { p.shifts = shifts })
			}
		case snap, ok := <-salesCh:
			if !ok {
				return nil
			}
			if sales, err := store.Decode[domain.Sale](snap); err != nil {
				p.logger.Error("till projection: decode sales", "error", err)
			} else {
				p.apply(func() { p.sales = sales })
			}
		case snap, ok := <-extrasCh:
			if !ok {
				return nil
			}
			if extras, err := store.Decode[domain.ExtraTransaction](snap); err != nil {
				p.logger.Error("till projection: decode extra transactions", "error", err)
			} else {
				p.apply(func() { p.extras = extras })
			}
		}
	}
}

func (p *Projection) apply(update func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	update()
	p.state = ComputeTillState(p.shifts, p.sales, p.extras, p.now(), p.loc)
	if p.state.OpenShifts > 1 {
		p.logger.Warn("more than one open shift", "open", p.state.OpenShifts, "active", p.state.ActiveShift.ID)
	}
	p.bus.Publish(tillTopic, p.state)
}

func (p *Projection) Current() TillState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Watch streams the till state, starting with the current one.
func (p *Projection) Watch(ctx context.Context) <-chan TillState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bus.Subscribe(ctx, tillTopic, p.state)
}
