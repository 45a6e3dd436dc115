package events

import (
	"context"
	"time"
)

const (
	ShiftOpened   = "shift.opened"
	ShiftClosed   = "shift.closed"
	SaleRecorded  = "sale.recorded"
	SaleEdited    = "sale.edited"
	SaleDeleted   = "sale.deleted"
	ExtraRecorded = "extra.recorded"
)

// Event is a ledger change announced to downstream consumers.
type Event struct {
	Type     string    `json:"type"`
	EntityID string    `json:"entity_id"`
	ShiftID  string    `json:"shift_id,omitempty"`
	Actor    string    `json:"actor,omitempty"`
	At       time.Time `json:"at"`
	Payload  any       `json:"payload,omitempty"`
}

// Key partitions events so one shift's events stay ordered.
func (e Event) Key() string {
	if e.ShiftID != "" {
		return e.ShiftID
	}
	return e.EntityID
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

func (Noop) Close() error { return nil }
