package audittrail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/audithub/internal/shared"
)

// Repository persists events. There is deliberately no update or delete.
type Repository interface {
	Insert(ctx context.Context, ev Event) error
	List(ctx context.Context, companyID int64, filter Filter, limit, offset int) ([]Event, error)
}

// Appender is the write side used by the other engines.
type Appender interface {
	Append(ctx context.Context, ev Event) (Event, error)
}

// Log appends and reads audit events.
type Log struct {
	repo Repository
	now  func() time.Time
}

// NewLog constructs a Log.
func NewLog(repo Repository) *Log {
	return &Log{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// WithNow overrides the clock for deterministic tests.
func (l *Log) WithNow(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// Append validates and stores ev, assigning its id and timestamp. When ctx
// carries a transaction the event commits or rolls back with it.
func (l *Log) Append(ctx context.Context, ev Event) (Event, error) {
	const op = "audittrail.Append"
	if l == nil || l.repo == nil {
		return Event{}, fmt.Errorf("%s: repository not configured", op)
	}
	if ev.CompanyID <= 0 {
		return Event{}, shared.E(shared.KindValidation, op, "company id required")
	}
	if strings.TrimSpace(ev.EntityType) == "" || strings.TrimSpace(ev.EntityID) == "" || strings.TrimSpace(ev.Action) == "" {
		return Event{}, shared.E(shared.KindValidation, op, "entity type, entity id and action required")
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}
	if err := l.repo.Insert(ctx, ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// List returns events for a company in chronological order.
func (l *Log) List(ctx context.Context, companyID int64, filter Filter) (Page, error) {
	const op = "audittrail.List"
	if err := shared.RequireCompany(op, companyID); err != nil {
		return Page{}, err
	}
	page, pageSize := shared.ClampPage(filter.Page, filter.PageSize, 50, 200)
	events, err := l.repo.List(ctx, companyID, filter, pageSize+1, (page-1)*pageSize)
	if err != nil {
		return Page{}, err
	}
	hasNext := len(events) > pageSize
	if hasNext {
		events = events[:pageSize]
	}
	return Page{Events: events, Page: page, HasNext: hasNext}, nil
}
