package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cliniflow/cliniflow/internal/domain/leads"
	"github.com/cliniflow/cliniflow/internal/platform/messaging"
	"github.com/cliniflow/cliniflow/internal/platform/webhook"
)

// IntegrationDispatcher posts integration events to third-party URLs.
// Satisfied by webhook.Dispatcher.
type IntegrationDispatcher interface {
	Dispatch(ctx context.Context, url string, event webhook.Event) (*webhook.Delivery, error)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRand injects the percentage draw used for A/B variant selection.
// The function must return values in [0, 100).
func WithRand(fn func() int) EngineOption {
	return func(e *Engine) { e.rng = fn }
}

// WithSupervisorRecipient sets the destination for notify-supervisor actions.
func WithSupervisorRecipient(recipient string) EngineOption {
	return func(e *Engine) { e.supervisor = recipient }
}

// Engine evaluates automation rules against live leads and applies their
// actions. It is driven by the scheduler's automation tick and by the
// force-run endpoint.
type Engine struct {
	records      leads.Repository
	sender       messaging.Port
	integrations IntegrationDispatcher
	supervisor   string
	rng          func() int
	log          zerolog.Logger
}

func NewEngine(records leads.Repository, sender messaging.Port, integrations IntegrationDispatcher, log zerolog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		records:      records,
		sender:       sender,
		integrations: integrations,
		rng:          func() int { return rand.Intn(100) },
		log:          log.With().Str("component", "automation").Logger(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Evaluate runs every active rule against every lead at the given instant
// and returns one execution log per (rule, lead) match. A delivery failure
// for one lead never stops the rest of the batch.
func (e *Engine) Evaluate(ctx context.Context, rules []*Rule, records []*leads.Lead, now time.Time) []*ExecutionLog {
	ordered := orderRules(rules)

	var logs []*ExecutionLog
	for _, rule := range ordered {
		if !rule.FiringAllowed(now) {
			continue
		}
		for _, l := range records {
			if !rule.Matches(l, now) {
				continue
			}
			logs = append(logs, e.execute(ctx, rule, l, now))
		}
	}
	return logs
}

// orderRules filters to active rules and sorts by priority rank descending,
// oldest UpdatedAt first among equals.
func orderRules(rules []*Rule) []*Rule {
	var active []*Rule
	for _, r := range rules {
		if r.Active {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		ri, rj := priorityRank[active[i].Priority], priorityRank[active[j].Priority]
		if ri != rj {
			return ri > rj
		}
		return active[i].UpdatedAt.Before(active[j].UpdatedAt)
	})
	return active
}

// execute applies the rule's actions to one matched lead and builds the log
// entry. The lead is mutated on a working copy and persisted once; a version
// conflict is recorded as a failure and retried naturally on the next tick.
func (e *Engine) execute(ctx context.Context, rule *Rule, l *leads.Lead, now time.Time) *ExecutionLog {
	entry := &ExecutionLog{
		ID:         uuid.New(),
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		TargetID:   l.ID,
		TargetName: l.Name,
		Outcome:    OutcomeSuccess,
		Timestamp:  now,
		Details:    map[string]string{},
	}

	working := *l
	working.Tags = append([]string(nil), l.Tags...)
	mutated := false

	var applied []string
	for _, a := range rule.Actions {
		if !validActionTypes[a.Type] {
			entry.Outcome = OutcomePartial
			entry.Details[a.ID] = "unsupported action type " + a.Type
			continue
		}

		changed, err := e.applyAction(ctx, rule, &working, a, now)
		if err != nil {
			entry.Outcome = OutcomeFailure
			entry.Message = fmt.Sprintf("action %s failed: %v", a.Type, err)
			e.log.Warn().Str("rule", rule.Name).Str("lead", l.ID.String()).
				Str("action", a.Type).Err(err).Msg("action failed")
			break
		}
		mutated = mutated || changed
		applied = append(applied, a.Type)
	}
	entry.ActionSummary = strings.Join(applied, ", ")

	if mutated {
		if err := e.records.Update(ctx, &working); err != nil {
			entry.Outcome = OutcomeFailure
			if entry.Message == "" {
				entry.Message = fmt.Sprintf("persist lead: %v", err)
			}
		} else {
			*l = working
		}
	}
	return entry
}

// applyAction performs a single effect. The bool result reports whether the
// lead record was mutated and needs persisting.
func (e *Engine) applyAction(ctx context.Context, rule *Rule, l *leads.Lead, a Action, now time.Time) (bool, error) {
	switch a.Type {
	case ActionMoveStatus:
		l.SetStatus(strings.TrimSpace(a.Value), now)
		return true, nil

	case ActionAssignOwner:
		ownerID, err := uuid.Parse(strings.TrimSpace(a.Value))
		if err != nil {
			return false, fmt.Errorf("invalid owner id %q", a.Value)
		}
		l.OwnerID = &ownerID
		return true, nil

	case ActionAddTag:
		l.AddTag(strings.TrimSpace(a.Value))
		return true, nil

	case ActionRemoveTag:
		l.RemoveTag(strings.TrimSpace(a.Value))
		return true, nil

	case ActionBlockConversation:
		l.ConversationBlocked = true
		return true, nil

	case ActionConfirmAppointment:
		l.AppointmentStatus = leads.AppointmentConfirmed
		return true, nil

	case ActionRescheduleAppointment:
		l.AppointmentStatus = leads.AppointmentPendingReschedule
		return true, nil

	case ActionMarkArrival:
		l.AppointmentStatus = leads.AppointmentArrived
		return true, nil

	case ActionCreateTask:
		return false, e.records.AddNote(ctx, &leads.Note{
			LeadID: l.ID,
			Kind:   leads.NoteKindTask,
			Text:   a.Value,
		})

	case ActionNotify:
		if l.ConversationBlocked {
			return false, fmt.Errorf("conversation blocked")
		}
		text := e.pickVariant(rule, a.Value)
		_, err := e.sender.Send(ctx, outboundChannel(l), recipient(l), text)
		return false, err

	case ActionNotifySupervisor:
		if e.supervisor == "" {
			return false, fmt.Errorf("no supervisor recipient configured")
		}
		text := fmt.Sprintf("[%s] %s: %s", rule.Name, l.Name, a.Value)
		_, err := e.sender.Send(ctx, messaging.ChannelWhatsApp, e.supervisor, text)
		return false, err

	case ActionIntegration:
		snapshot, err := json.Marshal(l)
		if err != nil {
			return false, err
		}
		_, err = e.integrations.Dispatch(ctx, strings.TrimSpace(a.Value), webhook.Event{
			Type:    "automation.rule_fired",
			LeadID:  l.ID.String(),
			RuleID:  rule.ID.String(),
			Payload: snapshot,
		})
		return false, err
	}
	return false, fmt.Errorf("unsupported action type %s", a.Type)
}

// pickVariant resolves the notify text, drawing an A/B variant when the rule
// has a test enabled. The draw is per send; variant assignment is not sticky
// across evaluations.
func (e *Engine) pickVariant(rule *Rule, fallback string) string {
	ab := rule.ABTest
	if ab == nil || !ab.Enabled {
		return fallback
	}
	if e.rng() < ab.Ratio {
		return ab.VariantA
	}
	return ab.VariantB
}

// outboundChannel maps a lead's origin to a delivery channel. Social leads
// keep their platform; everything else goes out on whatsapp.
func outboundChannel(l *leads.Lead) messaging.Channel {
	switch l.Channel {
	case leads.ChannelFacebook:
		return messaging.ChannelFacebook
	case leads.ChannelInstagram:
		return messaging.ChannelInstagram
	default:
		return messaging.ChannelWhatsApp
	}
}

func recipient(l *leads.Lead) string {
	if l.Phone != nil && *l.Phone != "" {
		return *l.Phone
	}
	return l.ID.String()
}
