package automation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cliniflow/cliniflow/internal/domain/leads"
)

// TickSummary reports one engine pass over the live leads.
type TickSummary struct {
	RulesEvaluated int       `json:"rules_evaluated"`
	LeadsScanned   int       `json:"leads_scanned"`
	Executions     int       `json:"executions"`
	Failures       int       `json:"failures"`
	RanAt          time.Time `json:"ran_at"`
}

// Service owns rule CRUD and drives the engine tick.
type Service struct {
	rules   RuleRepository
	logs    LogRepository
	records leads.Repository
	engine  *Engine
	log     zerolog.Logger
}

func NewService(rules RuleRepository, logs LogRepository, records leads.Repository, engine *Engine, log zerolog.Logger) *Service {
	return &Service{
		rules:   rules,
		logs:    logs,
		records: records,
		engine:  engine,
		log:     log.With().Str("component", "automation").Logger(),
	}
}

func (s *Service) CreateRule(ctx context.Context, r *Rule) (*Rule, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := s.rules.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) GetRule(ctx context.Context, id uuid.UUID) (*Rule, error) {
	return s.rules.GetByID(ctx, id)
}

func (s *Service) ListRules(ctx context.Context, limit, offset int) ([]*Rule, int, error) {
	return s.rules.List(ctx, limit, offset)
}

func (s *Service) UpdateRule(ctx context.Context, id uuid.UUID, r *Rule) (*Rule, error) {
	existing, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.ID = existing.ID
	r.CreatedAt = existing.CreatedAt
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := s.rules.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) DeleteRule(ctx context.Context, id uuid.UUID) error {
	return s.rules.Delete(ctx, id)
}

func (s *Service) ListLogs(ctx context.Context, ruleID *uuid.UUID, limit, offset int) ([]*ExecutionLog, int, error) {
	return s.logs.List(ctx, ruleID, limit, offset)
}

// RunTick loads the active rules and the full lead set, runs the engine, and
// appends the resulting execution logs. This is the scheduler's entry point
// and also backs the force-run endpoint.
func (s *Service) RunTick(ctx context.Context, now time.Time) (*TickSummary, error) {
	rules, err := s.rules.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	records, err := s.records.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	entries := s.engine.Evaluate(ctx, rules, records, now)

	summary := &TickSummary{
		RulesEvaluated: len(rules),
		LeadsScanned:   len(records),
		Executions:     len(entries),
		RanAt:          now,
	}
	for _, e := range entries {
		if e.Outcome == OutcomeFailure {
			summary.Failures++
		}
	}

	if len(entries) > 0 {
		if err := s.logs.Append(ctx, entries); err != nil {
			return summary, err
		}
	}

	s.log.Info().Int("rules", summary.RulesEvaluated).
		Int("leads", summary.LeadsScanned).
		Int("executions", summary.Executions).
		Int("failures", summary.Failures).
		Msg("automation tick complete")
	return summary, nil
}

// SeedDefaultRules installs the stock rule set on an empty store. Existing
// rules are left alone.
func (s *Service) SeedDefaultRules(ctx context.Context) error {
	_, total, err := s.rules.List(ctx, 1, 0)
	if err != nil {
		return err
	}
	if total > 0 {
		return nil
	}
	for _, r := range defaultRules() {
		if err := s.rules.Create(ctx, r); err != nil {
			return err
		}
	}
	s.log.Info().Msg("seeded default automation rules")
	return nil
}

func defaultRules() []*Rule {
	return []*Rule{
		{
			Name:     "Follow up silent leads",
			Active:   true,
			Priority: PriorityHigh,
			Conditions: []Condition{
				{ID: "c1", Type: CondStatus, Operator: OpEQ, Value: "new"},
				{ID: "c2", Type: CondDaysWithoutResponse, Operator: OpGTE, Value: "2"},
			},
			Actions: []Action{
				{ID: "a1", Type: ActionNotify, Value: "Hola! Seguimos a tu disposicion para agendar tu cita."},
				{ID: "a2", Type: ActionAddTag, Value: "follow-up"},
			},
		},
		{
			Name:     "Escalate stalled negotiations",
			Active:   true,
			Priority: PriorityMedium,
			Conditions: []Condition{
				{ID: "c1", Type: CondStatus, Operator: OpEQ, Value: "negotiating"},
				{ID: "c2", Type: CondDaysWithoutResponse, Operator: OpGTE, Value: "5"},
			},
			Actions: []Action{
				{ID: "a1", Type: ActionNotifySupervisor, Value: "lead stalled in negotiation"},
				{ID: "a2", Type: ActionCreateTask, Value: "Call the lead to close or discard"},
			},
		},
		{
			Name:     "Park unresponsive leads",
			Active:   true,
			Priority: PriorityLow,
			Conditions: []Condition{
				{ID: "c1", Type: CondDaysWithoutResponse, Operator: OpGTE, Value: "14"},
				{ID: "c2", Type: CondTag, Operator: OpNotContains, Value: "vip"},
			},
			Actions: []Action{
				{ID: "a1", Type: ActionMoveStatus, Value: "dormant"},
				{ID: "a2", Type: ActionRemoveTag, Value: "follow-up"},
			},
		},
	}
}
