package audittrail

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/audithub/internal/platform/db"
)

// PGRepository stores events in audit_events.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Insert writes one event, joining the transaction carried by ctx.
func (r *PGRepository) Insert(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("audittrail: marshal payload: %w", err)
	}
	_, err = db.Conn(ctx, r.pool).Exec(ctx, `INSERT INTO audit_events (id, company_id, entity_type, entity_id, action, actor_id, occurred_at, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, ev.ID, ev.CompanyID, ev.EntityType, ev.EntityID, ev.Action, ev.ActorID, ev.Timestamp, payload)
	return err
}

// List returns events ordered by time then id.
func (r *PGRepository) List(ctx context.Context, companyID int64, filter Filter, limit, offset int) ([]Event, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, company_id, entity_type, entity_id, action, actor_id, occurred_at, payload
FROM audit_events
WHERE company_id = $1
  AND ($2 = '' OR entity_type = $2)
  AND ($3 = '' OR entity_id = $3)
ORDER BY occurred_at ASC, id ASC
LIMIT $4 OFFSET $5`, companyID, filter.EntityType, filter.EntityID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var ev Event
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.CompanyID, &ev.EntityType, &ev.EntityID, &ev.Action, &ev.ActorID, &ev.Timestamp, &payload); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("audittrail: decode payload: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
