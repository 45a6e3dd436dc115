// Package archive keeps closing reports after the shift documents roll off
// the realtime store.
package archive

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"kassza/internal/domain"
	"kassza/internal/store"
)

type Archive interface {
	Save(ctx context.Context, report domain.ClosingReport) error
	Get(ctx context.Context, shiftID string) (domain.ClosingReport, error)
	List(ctx context.Context, limit int) ([]domain.ClosingReport, error)
}

type Memory struct {
	mu      sync.RWMutex
	reports map[string]domain.ClosingReport
}

func NewMemory() *Memory {
	return &Memory{reports: make(map[string]domain.ClosingReport)}
}

func (m *Memory) Save(_ context.Context, report domain.ClosingReport) error {
	if report.ShiftID == "" {
		return fmt.Errorf("%w: shift id required", store.ErrInvalidTransaction)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[report.ShiftID] = report
	return nil
}

func (m *Memory) Get(_ context.Context, shiftID string) (domain.ClosingReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	report, ok := m.reports[shiftID]
	if !ok {
		return domain.ClosingReport{}, fmt.Errorf("closing report %s: %w", shiftID, store.ErrNotFound)
	}
	return report, nil
}

// List returns the newest reports first.
func (m *Memory) List(_ context.Context, limit int) ([]domain.ClosingReport, error) {
	m.mu.RLock()
	out := make([]domain.ClosingReport, 0, len(m.reports))
	for _, report := range m.reports {
		out = append(out, report)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ClosedAt.After(out[j].ClosedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
