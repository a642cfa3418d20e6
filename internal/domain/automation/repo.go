package automation

import (
	"context"

	"github.com/google/uuid"
)

// RuleRepository persists automation rules.
type RuleRepository interface {
	Create(ctx context.Context, r *Rule) error
	GetByID(ctx context.Context, id uuid.UUID) (*Rule, error)
	List(ctx context.Context, limit, offset int) ([]*Rule, int, error)
	ListActive(ctx context.Context) ([]*Rule, error)
	Update(ctx context.Context, r *Rule) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// LogRepository is the append-only execution log store.
type LogRepository interface {
	Append(ctx context.Context, entries []*ExecutionLog) error
	List(ctx context.Context, ruleID *uuid.UUID, limit, offset int) ([]*ExecutionLog, int, error)
}
