package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"routepay/internal/platform/db"
)

const (
	ActionPayRunCompute    = "payroll.pay_run.compute"
	ActionPeriodCompute    = "payroll.period.compute"
	ActionAdjustmentCreate = "payroll.adjustment.create"

	EntityPayRun     = "pay_run"
	EntityPeriod     = "payroll_period"
	EntityAdjustment = "payroll_adjustment"
)

type Event struct {
	ID         string          `json:"id"`
	CompanyID  string          `json:"companyId"`
	ActorID    string          `json:"actorId"`
	Action     string          `json:"action"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	RequestID  string          `json:"requestId"`
	CreatedAt  time.Time       `json:"createdAt"`
	After      json.RawMessage `json:"after,omitempty"`
}

type Filter struct {
	Action     string
	EntityType string
	ActorID    string
}

type Service struct {
	DB    db.DBTX
	newID func() string
}

func New(conn db.DBTX) *Service {
	return &Service{DB: conn, newID: uuid.NewString}
}

// Record stores one event. after is marshalled as the entity snapshot.
func (s *Service) Record(ctx context.Context, evt Event, after any) error {
	if after != nil {
		payload, err := json.Marshal(after)
		if err != nil {
			return fmt.Errorf("marshal audit snapshot: %w", err)
		}
		evt.After = payload
	}
	if evt.ID == "" {
		evt.ID = s.newID()
	}
	_, err := s.DB.Exec(ctx, `
    INSERT INTO audit_events (id, company_id, actor_id, action, entity_type, entity_id, request_id, after_json)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
  `, evt.ID, evt.CompanyID, evt.ActorID, evt.Action, evt.EntityType, evt.EntityID, evt.RequestID, evt.After)
	return err
}

func (s *Service) List(ctx context.Context, companyID string, filter Filter, limit, offset int) ([]Event, error) {
	query, args := buildQuery(companyID, filter)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.CompanyID, &evt.ActorID, &evt.Action, &evt.EntityType, &evt.EntityID, &evt.RequestID, &evt.CreatedAt, &evt.After); err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func buildQuery(companyID string, filter Filter) (string, []any) {
	query := `SELECT id, company_id, actor_id, action, entity_type, entity_id, request_id, created_at, after_json
    FROM audit_events WHERE company_id = $1`
	args := []any{companyID}
	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", len(args)+1)
		args = append(args, filter.Action)
	}
	if filter.EntityType != "" {
		query += fmt.Sprintf(" AND entity_type = $%d", len(args)+1)
		args = append(args, filter.EntityType)
	}
	if filter.ActorID != "" {
		query += fmt.Sprintf(" AND actor_id = $%d", len(args)+1)
		args = append(args, filter.ActorID)
	}
	return query, args
}
