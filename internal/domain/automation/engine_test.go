package automation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cliniflow/cliniflow/internal/domain/leads"
	"github.com/cliniflow/cliniflow/internal/platform/messaging"
	"github.com/cliniflow/cliniflow/internal/platform/webhook"
)

type fakeDispatcher struct {
	calls []webhook.Event
	urls  []string
	err   error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, url string, event webhook.Event) (*webhook.Delivery, error) {
	f.calls = append(f.calls, event)
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	return &webhook.Delivery{Success: true}, nil
}

type engineFixture struct {
	engine  *Engine
	records *leads.InMemoryRepo
	sender  *messaging.FakeSender
	hooks   *fakeDispatcher
}

func newTestEngine(opts ...EngineOption) *engineFixture {
	records := leads.NewInMemoryRepo()
	sender := messaging.NewFakeSender()
	hooks := &fakeDispatcher{}
	all := append([]EngineOption{WithSupervisorRecipient("+5215550000000")}, opts...)
	return &engineFixture{
		engine:  NewEngine(records, sender, hooks, zerolog.Nop(), all...),
		records: records,
		sender:  sender,
		hooks:   hooks,
	}
}

func seedLead(t *testing.T, repo *leads.InMemoryRepo, l *leads.Lead) *leads.Lead {
	t.Helper()
	if l.Status == "" {
		l.Status = "new"
	}
	if l.Channel == "" {
		l.Channel = leads.ChannelWhatsApp
	}
	if l.AppointmentStatus == "" {
		l.AppointmentStatus = leads.AppointmentNone
	}
	if err := repo.Create(nil, l); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return l
}

func statusRule(name, priority, from, to string) *Rule {
	return &Rule{
		Name:     name,
		Active:   true,
		Priority: priority,
		Conditions: []Condition{
			{ID: "c1", Type: CondStatus, Operator: OpEQ, Value: from},
		},
		Actions: []Action{
			{ID: "a1", Type: ActionMoveStatus, Value: to},
		},
	}
}

func TestEvaluateMovesMatchingLead(t *testing.T) {
	fx := newTestEngine()
	l := seedLead(t, fx.records, &leads.Lead{Name: "Ana", Status: "new"})

	rule := statusRule("promote", PriorityHigh, "new", "contacted")
	logs := fx.engine.Evaluate(nil, []*Rule{rule}, mustGetAll(t, fx.records), time.Now())

	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	if logs[0].Outcome != OutcomeSuccess {
		t.Errorf("expected success, got %s (%s)", logs[0].Outcome, logs[0].Message)
	}
	got, err := fx.records.GetByID(nil, l.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != "contacted" {
		t.Errorf("expected status contacted, got %s", got.Status)
	}
	if got.Version != 2 {
		t.Errorf("expected version bump to 2, got %d", got.Version)
	}
}

func TestEvaluateSkipsInactiveRules(t *testing.T) {
	fx := newTestEngine()
	seedLead(t, fx.records, &leads.Lead{Name: "Ana", Status: "new"})

	rule := statusRule("off", PriorityHigh, "new", "contacted")
	rule.Active = false
	logs := fx.engine.Evaluate(nil, []*Rule{rule}, mustGetAll(t, fx.records), time.Now())

	if len(logs) != 0 {
		t.Fatalf("expected no logs for inactive rule, got %d", len(logs))
	}
}

func TestEvaluateOrdersByPriorityThenAge(t *testing.T) {
	fx := newTestEngine()
	seedLead(t, fx.records, &leads.Lead{Name: "Ana", Status: "new"})

	older := statusRule("older-medium", PriorityMedium, "new", "warm")
	older.UpdatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := statusRule("newer-medium", PriorityMedium, "new", "warm")
	newer.UpdatedAt = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	high := statusRule("high", PriorityHigh, "new", "hot")
	high.UpdatedAt = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	logs := fx.engine.Evaluate(nil, []*Rule{newer, older, high}, mustGetAll(t, fx.records), time.Now())

	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	// The high-priority rule runs first and moves the lead out of "new",
	// so the medium rules no longer match.
	if logs[0].RuleName != "high" {
		t.Errorf("expected high-priority rule first, got %s", logs[0].RuleName)
	}
}

func TestEvaluateTieBreakOldestFirst(t *testing.T) {
	fx := newTestEngine()
	seedLead(t, fx.records, &leads.Lead{Name: "Ana", Status: "new"})

	older := statusRule("older", PriorityMedium, "new", "warm")
	older.UpdatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := statusRule("newer", PriorityMedium, "new", "hot")
	newer.UpdatedAt = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	logs := fx.engine.Evaluate(nil, []*Rule{newer, older}, mustGetAll(t, fx.records), time.Now())

	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	if logs[0].RuleName != "older" {
		t.Errorf("expected oldest rule to win the tie, got %s", logs[0].RuleName)
	}
}

func TestActiveHoursGateBlocksFiring(t *testing.T) {
	fx := newTestEngine()
	seedLead(t, fx.records, &leads.Lead{Name: "Ana", Status: "new"})

	rule := statusRule("business-hours", PriorityHigh, "new", "contacted")
	rule.ActiveHours = &ActiveHours{Start: "09:00", End: "18:00", Timezone: "UTC"}

	night := time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC)
	if logs := fx.engine.Evaluate(nil, []*Rule{rule}, mustGetAll(t, fx.records), night); len(logs) != 0 {
		t.Fatalf("expected rule suppressed at night, got %d logs", len(logs))
	}

	day := time.Date(2026, 8, 31, 11, 0, 0, 0, time.UTC)
	if logs := fx.engine.Evaluate(nil, []*Rule{rule}, mustGetAll(t, fx.records), day); len(logs) != 1 {
		t.Fatalf("expected rule to fire during the day, got %d logs", len(logs))
	}
}

func TestPauseGateBlocksFiring(t *testing.T) {
	fx := newTestEngine()
	seedLead(t, fx.records, &leads.Lead{Name: "Ana", Status: "new"})

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	rule := statusRule("paused", PriorityHigh, "new", "contacted")
	rule.Pause = &Pause{From: &from, To: &to}

	inside := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	if logs := fx.engine.Evaluate(nil, []*Rule{rule}, mustGetAll(t, fx.records), inside); len(logs) != 0 {
		t.Fatalf("expected rule paused, got %d logs", len(logs))
	}

	after := time.Date(2026, 9, 2, 12, 0, 0, 0, time.UTC)
	if logs := fx.engine.Evaluate(nil, []*Rule{rule}, mustGetAll(t, fx.records), after); len(logs) != 1 {
		t.Fatalf("expected rule active after pause, got %d logs", len(logs))
	}
}

func TestNotifySendsOnLeadChannel(t *testing.T) {
	fx := newTestEngine()
	phone := "+5215551234567"
	seedLead(t, fx.records, &leads.Lead{Name: "Ana", Status: "new", Channel: leads.ChannelInstagram, Phone: &phone})

	rule := &Rule{
		Name:     "greet",
		Active:   true,
		Priority: PriorityHigh,
		Conditions: []Condition{
			{ID: "c1", Type: CondStatus, Operator: OpEQ, Value: "new"},
		},
		Actions: []Action{
			{ID: "a1", Type: ActionNotify, Value: "hola"},
		},
	}
	logs := fx.engine.Evaluate(nil, []*Rule{rule}, mustGetAll(t, fx.records), time.Now())

	if len(logs) != 1 || logs[0].Outcome != OutcomeSuccess {
		t.Fatalf("unexpected logs: %+v", logs)
	}
	sent := fx.sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	if sent[0].Channel != messaging.ChannelInstagram {
		t.Errorf("expected instagram delivery, got %s", sent[0].Channel)
	}
	if sent[0].Recipient != phone {
		t.Errorf("expected phone recipient, got %s", sent[0].Recipient)
	}
}

func TestNotifyBlockedConversationFails(t *testing.T) {
	fx := newTestEngine()
	seedLead(t, fx.records, &leads.Lead{Name: "Ana", Status: "new", ConversationBlocked: true})

	rule := &Rule{
		Name:     "greet",
		Active:   true,
		Priority: PriorityHigh,
		Conditions: []Condition{
			{ID: "c1", Type: CondStatus, Operator: OpEQ, Value: "new"},
		},
		Actions: []Action{
			{ID: "a1", Type: ActionNotify, Value: "hola"},
		},
	}
	logs := fx.engine.Evaluate(nil, []*Rule{rule}, mustGetAll(t, fx.records), time.Now())

	if len(logs) != 1 || logs[0].Outcome != OutcomeFailure {
		t.Fatalf("expected delivery failure for blocked conversation, got %+v", logs)
	}
	if len(fx.sender.Sent()) != 0 {
		t.Errorf("expected no message sent")
	}
}

func TestDeliveryFailureStopsRemainingActions(t *testing.T) {
	fx := newTestEngine()
	seedLead(t, fx.records, &leads.Lead{Name: "Ana", Status: "new"})
	fx.sender.FailAll = errors.New("gateway down")

	rule := &Rule{
		Name:     "greet-and-tag",
		Active:   true,
		Priority: PriorityHigh,
		Conditions: []Condition{
			{ID: "c1", Type: CondStatus, Operator: OpEQ, Value: "new"},
		},
		Actions: []Action{
			{ID: "a1", Type: ActionNotify, Value: "hola"},
			{ID: "a2", Type: ActionAddTag, Value: "greeted"},
		},
	}
	logs := fx.engine.Evaluate(nil, []*Rule{rule}, mustGetAll(t, fx.records), time.Now())

	if len(logs) != 1 || logs[0].Outcome != OutcomeFailure {
		t.Fatalf("expected failure log, got %+v", logs)
	}
	got := mustGetAll(t, fx.records)[0]
	if got.HasTag("greeted") {
		t.Errorf("expected tag action skipped after delivery failure")
	}
}

func TestDeliveryFailureDoesNotStopBatch(t *testing.T) {
	fx := newTestEngine()
	seedLead(t, fx.records, &leads.Lead{Name: "Ana", Status: "new"})
	seedLead(t, fx.records, &leads.Lead{Name: "Luis", Status: "new"})
	fx.sender.FailNext = errors.New("gateway hiccup")

	rule := &Rule{
		Name:     "greet",
		Active:   true,
		Priority: PriorityHigh,
		Conditions: []Condition{
			{ID: "c1", Type: CondStatus, Operator: OpEQ, Value: "new"},
		},
		Actions: []Action{
			{ID: "a1", Type: ActionNotify, Value: "hola"},
		},
	}
	logs := fx.engine.Evaluate(nil, []*Rule{rule}, mustGetAll(t, fx.records), time.Now())

	if len(logs) != 2 {
		t.Fatalf("expected the whole batch evaluated, got %d logs", len(logs))
	}
	outcomes := map[string]int{}
	for _, l := range logs {
		outcomes[l.Outcome]++
	}
	if outcomes[OutcomeFailure] != 1 || outcomes[OutcomeSuccess] != 1 {
		t.Errorf("expected one failure and one success, got %v", outcomes)
	}
}

func TestUnknownActionTypeIsPartial(t *testing.T) {
	fx := newTestEngine()
	seedLead(t, fx.records, &leads.Lead{Name: "Ana", Status: "new"})

	rule := &Rule{
		Name:     "mixed",
		Active:   true,
		Priority: PriorityHigh,
		Conditions: []Condition{
			{ID: "c1", Type: CondStatus, Operator: OpEQ, Value: "new"},
		},
		Actions: []Action{
			{ID: "a1", Type: "teleport", Value: "x"},
			{ID: "a2", Type: ActionAddTag, Value: "kept"},
		},
	}
	logs := fx.engine.Evaluate(nil, []*Rule{rule}, mustGetAll(t, fx.records), time.Now())

	if len(logs) != 1 || logs[0].Outcome != OutcomePartial {
		t.Fatalf("expected partial outcome, got %+v", logs)
	}
	got := mustGetAll(t, fx.records)[0]
	if !got.HasTag("kept") {
		t.Errorf("expected later actions still applied after unknown type")
	}
}

func TestABTestVariantSelection(t *testing.T) {
	rule := &Rule{
		Name:     "ab",
		Active:   true,
		Priority: PriorityHigh,
		ABTest:   &ABTest{Enabled: true, Ratio: 30, VariantA: "texto A", VariantB: "texto B"},
		Conditions: []Condition{
			{ID: "c1", Type: CondStatus, Operator: OpEQ, Value: "new"},
		},
		Actions: []Action{
			{ID: "a1", Type: ActionNotify, Value: "fallback"},
		},
	}

	fxA := newTestEngine(WithRand(func() int { return 10 }))
	seedLead(t, fxA.records, &leads.Lead{Name: "Ana", Status: "new"})
	fxA.engine.Evaluate(nil, []*Rule{rule}, mustGetAll(t, fxA.records), time.Now())
	if sent := fxA.sender.Sent(); len(sent) != 1 || sent[0].Text != "texto A" {
		t.Errorf("expected variant A below the ratio, got %+v", sent)
	}

	fxB := newTestEngine(WithRand(func() int { return 90 }))
	seedLead(t, fxB.records, &leads.Lead{Name: "Ana", Status: "new"})
	fxB.engine.Evaluate(nil, []*Rule{rule}, mustGetAll(t, fxB.records), time.Now())
	if sent := fxB.sender.Sent(); len(sent) != 1 || sent[0].Text != "texto B" {
		t.Errorf("expected variant B at or above the ratio, got %+v", sent)
	}
}

func TestABTestSplitTracksRatio(t *testing.T) {
	rule := &Rule{
		Name:     "ab",
		Active:   true,
		Priority: PriorityHigh,
		ABTest:   &ABTest{Enabled: true, Ratio: 30, VariantA: "texto A", VariantB: "texto B"},
		Conditions: []Condition{
			{ID: "c1", Type: CondStatus, Operator: OpEQ, Value: "new"},
		},
		Actions: []Action{
			{ID: "a1", Type: ActionNotify, Value: "fallback"},
		},
	}

	draw := 0
	fx := newTestEngine(WithRand(func() int {
		d := draw % 100
		draw++
		return d
	}))
	for i := 0; i < 100; i++ {
		seedLead(t, fx.records, &leads.Lead{Name: fmt.Sprintf("Lead %d", i), Status: "new"})
	}
	fx.engine.Evaluate(nil, []*Rule{rule}, mustGetAll(t, fx.records), time.Now())

	sent := fx.sender.Sent()
	if len(sent) != 100 {
		t.Fatalf("expected 100 deliveries, got %d", len(sent))
	}
	variantA := 0
	for _, m := range sent {
		if m.Text == "texto A" {
			variantA++
		}
	}
	if variantA != 30 {
		t.Errorf("expected 30 variant A deliveries for ratio 30, got %d", variantA)
	}
}

func TestIntegrationActionDispatches(t *testing.T) {
	fx := newTestEngine()
	seedLead(t, fx.records, &leads.Lead{Name: "Ana", Status: "new"})

	rule := &Rule{
		Name:     "sync-crm",
		Active:   true,
		Priority: PriorityHigh,
		Conditions: []Condition{
			{ID: "c1", Type: CondStatus, Operator: OpEQ, Value: "new"},
		},
		Actions: []Action{
			{ID: "a1", Type: ActionIntegration, Value: "https://example.com/hook"},
		},
	}
	logs := fx.engine.Evaluate(nil, []*Rule{rule}, mustGetAll(t, fx.records), time.Now())

	if len(logs) != 1 || logs[0].Outcome != OutcomeSuccess {
		t.Fatalf("unexpected logs: %+v", logs)
	}
	if len(fx.hooks.calls) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(fx.hooks.calls))
	}
	if fx.hooks.urls[0] != "https://example.com/hook" {
		t.Errorf("unexpected url %s", fx.hooks.urls[0])
	}
	if fx.hooks.calls[0].Type != "automation.rule_fired" {
		t.Errorf("unexpected event type %s", fx.hooks.calls[0].Type)
	}
}

func TestNotifySupervisorUsesWhatsApp(t *testing.T) {
	fx := newTestEngine()
	seedLead(t, fx.records, &leads.Lead{Name: "Ana", Status: "new", Channel: leads.ChannelFacebook})

	rule := &Rule{
		Name:     "escalate",
		Active:   true,
		Priority: PriorityHigh,
		Conditions: []Condition{
			{ID: "c1", Type: CondStatus, Operator: OpEQ, Value: "new"},
		},
		Actions: []Action{
			{ID: "a1", Type: ActionNotifySupervisor, Value: "needs a call"},
		},
	}
	fx.engine.Evaluate(nil, []*Rule{rule}, mustGetAll(t, fx.records), time.Now())

	sent := fx.sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	if sent[0].Channel != messaging.ChannelWhatsApp {
		t.Errorf("supervisor alerts go out on whatsapp, got %s", sent[0].Channel)
	}
	if sent[0].Recipient != "+5215550000000" {
		t.Errorf("unexpected recipient %s", sent[0].Recipient)
	}
}

func TestVersionConflictRecordedAsFailure(t *testing.T) {
	fx := newTestEngine()
	l := seedLead(t, fx.records, &leads.Lead{Name: "Ana", Status: "new"})

	snapshot := mustGetAll(t, fx.records)

	// A concurrent writer bumps the version before the engine persists.
	stale, err := fx.records.GetByID(nil, l.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stale.Score = 99
	if err := fx.records.Update(nil, stale); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rule := statusRule("promote", PriorityHigh, "new", "contacted")
	logs := fx.engine.Evaluate(nil, []*Rule{rule}, snapshot, time.Now())

	if len(logs) != 1 || logs[0].Outcome != OutcomeFailure {
		t.Fatalf("expected version conflict failure, got %+v", logs)
	}
	got, err := fx.records.GetByID(nil, l.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != "new" {
		t.Errorf("conflicting write must not land, status is %s", got.Status)
	}
}

func TestCreateTaskAddsNote(t *testing.T) {
	fx := newTestEngine()
	l := seedLead(t, fx.records, &leads.Lead{Name: "Ana", Status: "new"})

	rule := &Rule{
		Name:     "task",
		Active:   true,
		Priority: PriorityHigh,
		Conditions: []Condition{
			{ID: "c1", Type: CondStatus, Operator: OpEQ, Value: "new"},
		},
		Actions: []Action{
			{ID: "a1", Type: ActionCreateTask, Value: "Call before friday"},
		},
	}
	fx.engine.Evaluate(nil, []*Rule{rule}, mustGetAll(t, fx.records), time.Now())

	notes, err := fx.records.ListNotes(nil, l.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notes) != 1 || notes[0].Kind != leads.NoteKindTask {
		t.Fatalf("expected one task note, got %+v", notes)
	}
}

func mustGetAll(t *testing.T, repo *leads.InMemoryRepo) []*leads.Lead {
	t.Helper()
	all, err := repo.GetAll(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return all
}
