package automation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cliniflow/cliniflow/internal/domain/leads"
	"github.com/cliniflow/cliniflow/internal/platform/errs"
	"github.com/cliniflow/cliniflow/internal/platform/messaging"
)

func newTestService() (*Service, *leads.InMemoryRepo, *InMemoryLogRepo) {
	records := leads.NewInMemoryRepo()
	sender := messaging.NewFakeSender()
	engine := NewEngine(records, sender, &fakeDispatcher{}, zerolog.Nop())
	logs := NewInMemoryLogRepo()
	svc := NewService(NewInMemoryRuleRepo(), logs, records, engine, zerolog.Nop())
	return svc, records, logs
}

func TestCreateRuleValidates(t *testing.T) {
	svc, _, _ := newTestService()

	r := validRule()
	created, err := svc.CreateRule(nil, r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ID == uuid.Nil {
		t.Errorf("expected an id assigned")
	}

	bad := validRule()
	bad.Priority = "urgent"
	if _, err := svc.CreateRule(nil, bad); !errs.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestUpdateRulePreservesIdentity(t *testing.T) {
	svc, _, _ := newTestService()

	created, err := svc.CreateRule(nil, validRule())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	replacement := validRule()
	replacement.Name = "renamed"
	updated, err := svc.UpdateRule(nil, created.ID, replacement)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.ID != created.ID {
		t.Errorf("id must survive updates")
	}
	if updated.Name != "renamed" {
		t.Errorf("expected renamed, got %s", updated.Name)
	}

	if _, err := svc.UpdateRule(nil, uuid.New(), validRule()); !errs.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestDeleteRule(t *testing.T) {
	svc, _, _ := newTestService()

	created, err := svc.CreateRule(nil, validRule())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.DeleteRule(nil, created.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.GetRule(nil, created.ID); !errs.IsNotFound(err) {
		t.Errorf("expected not found after delete, got %v", err)
	}
}

func TestRunTickAppendsLogs(t *testing.T) {
	svc, records, logs := newTestService()

	if err := records.Create(nil, &leads.Lead{Name: "Ana", Status: "new", Channel: leads.ChannelWeb, AppointmentStatus: leads.AppointmentNone}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.CreateRule(nil, statusRule("promote", PriorityHigh, "new", "contacted")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	summary, err := svc.RunTick(nil, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.RulesEvaluated != 1 || summary.LeadsScanned != 1 || summary.Executions != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if summary.Failures != 0 {
		t.Errorf("expected no failures, got %d", summary.Failures)
	}

	stored, total, err := logs.List(nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || stored[0].Outcome != OutcomeSuccess {
		t.Errorf("expected one success log, got %d (%+v)", total, stored)
	}
}

func TestRunTickWithNoMatches(t *testing.T) {
	svc, _, logs := newTestService()

	if _, err := svc.CreateRule(nil, statusRule("promote", PriorityHigh, "new", "contacted")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	summary, err := svc.RunTick(nil, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Executions != 0 {
		t.Errorf("expected no executions, got %d", summary.Executions)
	}
	if _, total, _ := logs.List(nil, nil, 10, 0); total != 0 {
		t.Errorf("expected empty log, got %d entries", total)
	}
}

func TestListLogsFiltersByRule(t *testing.T) {
	svc, _, logs := newTestService()

	ruleA := uuid.New()
	ruleB := uuid.New()
	err := logs.Append(nil, []*ExecutionLog{
		{ID: uuid.New(), RuleID: ruleA, Outcome: OutcomeSuccess},
		{ID: uuid.New(), RuleID: ruleB, Outcome: OutcomeSuccess},
		{ID: uuid.New(), RuleID: ruleA, Outcome: OutcomeFailure},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	items, total, err := svc.ListLogs(nil, &ruleA, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Errorf("expected 2 logs for rule A, got %d", total)
	}
}

func TestSeedDefaultRulesIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService()

	if err := svc.SeedDefaultRules(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, total, err := svc.ListRules(nil, 50, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total == 0 {
		t.Fatalf("expected seeded rules")
	}

	if err := svc.SeedDefaultRules(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, again, err := svc.ListRules(nil, 50, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != total {
		t.Errorf("seeding twice must not duplicate rules: %d then %d", total, again)
	}
}
