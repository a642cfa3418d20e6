package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cliniflow/cliniflow/internal/platform/db"
	"github.com/cliniflow/cliniflow/internal/platform/errs"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// ruleRow mirrors the JSONB columns of automation_rule.
type ruleRow struct {
	ABTest        *ABTest        `json:"ab_test,omitempty"`
	ActiveHours   *ActiveHours   `json:"active_hours,omitempty"`
	Pause         *Pause         `json:"pause,omitempty"`
	SLAThresholds map[string]int `json:"sla_thresholds,omitempty"`
}

// =========== Rule Repository ===========

type ruleRepoPG struct{ pool *pgxpool.Pool }

func NewRuleRepoPG(pool *pgxpool.Pool) RuleRepository { return &ruleRepoPG{pool: pool} }

func (r *ruleRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const ruleCols = `id, name, active, priority, role_scope, settings, conditions, actions, created_at, updated_at`

func (r *ruleRepoPG) scanRule(row pgx.Row) (*Rule, error) {
	var rule Rule
	var settings, conditions, actions []byte
	err := row.Scan(&rule.ID, &rule.Name, &rule.Active, &rule.Priority, &rule.RoleScope,
		&settings, &conditions, &actions, &rule.CreatedAt, &rule.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("rule", "")
	}
	if err != nil {
		return nil, err
	}
	var rr ruleRow
	if err := json.Unmarshal(settings, &rr); err != nil {
		return nil, err
	}
	rule.ABTest = rr.ABTest
	rule.ActiveHours = rr.ActiveHours
	rule.Pause = rr.Pause
	rule.SLAThresholds = rr.SLAThresholds
	if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(actions, &rule.Actions); err != nil {
		return nil, err
	}
	return &rule, nil
}

func marshalRule(rule *Rule) (settings, conditions, actions []byte, err error) {
	settings, err = json.Marshal(ruleRow{
		ABTest:        rule.ABTest,
		ActiveHours:   rule.ActiveHours,
		Pause:         rule.Pause,
		SLAThresholds: rule.SLAThresholds,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if conditions, err = json.Marshal(rule.Conditions); err != nil {
		return nil, nil, nil, err
	}
	if actions, err = json.Marshal(rule.Actions); err != nil {
		return nil, nil, nil, err
	}
	return settings, conditions, actions, nil
}

func (r *ruleRepoPG) Create(ctx context.Context, rule *Rule) error {
	rule.ID = uuid.New()
	settings, conditions, actions, err := marshalRule(rule)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO automation_rule (id, name, active, priority, role_scope, settings, conditions, actions)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rule.ID, rule.Name, rule.Active, rule.Priority, rule.RoleScope, settings, conditions, actions)
	return err
}

func (r *ruleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Rule, error) {
	rule, err := r.scanRule(r.conn(ctx).QueryRow(ctx, `SELECT `+ruleCols+` FROM automation_rule WHERE id = $1`, id))
	if errs.IsNotFound(err) {
		return nil, errs.NotFound("rule", id.String())
	}
	return rule, err
}

func (r *ruleRepoPG) List(ctx context.Context, limit, offset int) ([]*Rule, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM automation_rule`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+ruleCols+` FROM automation_rule ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Rule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rule)
	}
	return items, total, rows.Err()
}

func (r *ruleRepoPG) ListActive(ctx context.Context) ([]*Rule, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+ruleCols+` FROM automation_rule WHERE active ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Rule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rule)
	}
	return items, rows.Err()
}

func (r *ruleRepoPG) Update(ctx context.Context, rule *Rule) error {
	settings, conditions, actions, err := marshalRule(rule)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE automation_rule SET name=$2, active=$3, priority=$4, role_scope=$5,
			settings=$6, conditions=$7, actions=$8, updated_at=NOW()
		WHERE id = $1`,
		rule.ID, rule.Name, rule.Active, rule.Priority, rule.RoleScope, settings, conditions, actions)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("rule", rule.ID.String())
	}
	return nil
}

func (r *ruleRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM automation_rule WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("rule", id.String())
	}
	return nil
}

// =========== Log Repository ===========

type logRepoPG struct{ pool *pgxpool.Pool }

func NewLogRepoPG(pool *pgxpool.Pool) LogRepository { return &logRepoPG{pool: pool} }

func (r *logRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const logCols = `id, rule_id, rule_name, target_id, target_name, action_summary, outcome, message, details, timestamp`

func (r *logRepoPG) Append(ctx context.Context, entries []*ExecutionLog) error {
	for _, e := range entries {
		details, err := json.Marshal(e.Details)
		if err != nil {
			return err
		}
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO automation_log (id, rule_id, rule_name, target_id, target_name,
				action_summary, outcome, message, details, timestamp)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			e.ID, e.RuleID, e.RuleName, e.TargetID, e.TargetName,
			e.ActionSummary, e.Outcome, e.Message, details, e.Timestamp); err != nil {
			return err
		}
	}
	return nil
}

func (r *logRepoPG) List(ctx context.Context, ruleID *uuid.UUID, limit, offset int) ([]*ExecutionLog, int, error) {
	where := ``
	args := []interface{}{}
	if ruleID != nil {
		where = `WHERE rule_id = $1`
		args = append(args, *ruleID)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM automation_log `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM automation_log %s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		logCols, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*ExecutionLog
	for rows.Next() {
		var e ExecutionLog
		var details []byte
		if err := rows.Scan(&e.ID, &e.RuleID, &e.RuleName, &e.TargetID, &e.TargetName,
			&e.ActionSummary, &e.Outcome, &e.Message, &details, &e.Timestamp); err != nil {
			return nil, 0, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, 0, err
			}
		}
		items = append(items, &e)
	}
	return items, total, rows.Err()
}
