package automation

import (
	"time"

	"github.com/google/uuid"

	"github.com/cliniflow/cliniflow/internal/platform/errs"
)

// Rule priorities, highest first at evaluation time.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

var priorityRank = map[string]int{
	PriorityHigh:   3,
	PriorityMedium: 2,
	PriorityLow:    1,
}

// Condition types form a closed set; rules referencing anything else are
// rejected at save time.
const (
	CondStatus              = "status"
	CondNumericThreshold    = "numeric-threshold"
	CondChannel             = "channel"
	CondTag                 = "tag"
	CondBranch              = "branch"
	CondCampaign            = "campaign"
	CondService             = "service"
	CondSource              = "source"
	CondAttemptCount        = "attempt-count"
	CondDaysWithoutResponse = "days-without-response"
	CondMessagingWindow     = "messaging-window"
	CondFreeTextContains    = "free-text-contains"
	CondTimeInStatus        = "time-in-status"
)

var validConditionTypes = map[string]bool{
	CondStatus: true, CondNumericThreshold: true, CondChannel: true,
	CondTag: true, CondBranch: true, CondCampaign: true, CondService: true,
	CondSource: true, CondAttemptCount: true, CondDaysWithoutResponse: true,
	CondMessagingWindow: true, CondFreeTextContains: true, CondTimeInStatus: true,
}

// Operators form a closed set.
const (
	OpGT          = "gt"
	OpLT          = "lt"
	OpGTE         = "gte"
	OpLTE         = "lte"
	OpEQ          = "eq"
	OpNEQ         = "neq"
	OpContains    = "contains"
	OpNotContains = "not-contains"
	OpIn          = "in"
	OpNotIn       = "not-in"
)

var validOperators = map[string]bool{
	OpGT: true, OpLT: true, OpGTE: true, OpLTE: true, OpEQ: true,
	OpNEQ: true, OpContains: true, OpNotContains: true, OpIn: true, OpNotIn: true,
}

// Action types form a closed set.
const (
	ActionMoveStatus            = "move-status"
	ActionAssignOwner           = "assign-owner"
	ActionAddTag                = "add-tag"
	ActionRemoveTag             = "remove-tag"
	ActionNotify                = "notify"
	ActionCreateTask            = "create-task"
	ActionNotifySupervisor      = "notify-supervisor"
	ActionBlockConversation     = "block-conversation"
	ActionIntegration           = "integration"
	ActionConfirmAppointment    = "confirm-appointment"
	ActionRescheduleAppointment = "reschedule-appointment"
	ActionMarkArrival           = "mark-arrival"
)

var validActionTypes = map[string]bool{
	ActionMoveStatus: true, ActionAssignOwner: true, ActionAddTag: true,
	ActionRemoveTag: true, ActionNotify: true, ActionCreateTask: true,
	ActionNotifySupervisor: true, ActionBlockConversation: true,
	ActionIntegration: true, ActionConfirmAppointment: true,
	ActionRescheduleAppointment: true, ActionMarkArrival: true,
}

// Condition is one predicate of a rule. All conditions AND together.
type Condition struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
	Label    string `json:"label,omitempty"`
}

// Action is one effect of a rule, applied in declared order.
type Action struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// ABTest splits notify messages between two variants by ratio. Ratio is the
// percentage of sends that get VariantA.
type ABTest struct {
	Enabled  bool   `json:"enabled"`
	Ratio    int    `json:"ratio"`
	VariantA string `json:"variant_a"`
	VariantB string `json:"variant_b"`
}

// ActiveHours restricts when a rule may fire, in its own timezone.
type ActiveHours struct {
	Days     []time.Weekday `json:"days"`
	Start    string         `json:"start"` // HH:MM
	End      string         `json:"end"`   // HH:MM
	Timezone string         `json:"timezone"`
}

// Pause suspends a rule for a window, e.g. a branch holiday.
type Pause struct {
	Scope string     `json:"scope,omitempty"`
	ID    string     `json:"id,omitempty"`
	From  *time.Time `json:"from,omitempty"`
	To    *time.Time `json:"to,omitempty"`
}

// Rule maps to the automation_rule table.
type Rule struct {
	ID            uuid.UUID      `db:"id" json:"id"`
	Name          string         `db:"name" json:"name"`
	Active        bool           `db:"active" json:"active"`
	Priority      string         `db:"priority" json:"priority"`
	RoleScope     *string        `db:"role_scope" json:"role_scope,omitempty"`
	ABTest        *ABTest        `db:"ab_test" json:"ab_test,omitempty"`
	ActiveHours   *ActiveHours   `db:"active_hours" json:"active_hours,omitempty"`
	Pause         *Pause         `db:"pause" json:"pause,omitempty"`
	SLAThresholds map[string]int `db:"sla_thresholds" json:"sla_thresholds,omitempty"` // status -> hours
	Conditions    []Condition    `db:"conditions" json:"conditions"`
	Actions       []Action       `db:"actions" json:"actions"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// Execution outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)

// ExecutionLog maps to the automation_log table. Append-only.
type ExecutionLog struct {
	ID            uuid.UUID         `db:"id" json:"id"`
	RuleID        uuid.UUID         `db:"rule_id" json:"rule_id"`
	RuleName      string            `db:"rule_name" json:"rule_name"`
	TargetID      uuid.UUID         `db:"target_id" json:"target_id"`
	TargetName    string            `db:"target_name" json:"target_name"`
	ActionSummary string            `db:"action_summary" json:"action_summary"`
	Outcome       string            `db:"outcome" json:"outcome"`
	Message       string            `db:"message" json:"message,omitempty"`
	Details       map[string]string `db:"details" json:"details,omitempty"`
	Timestamp     time.Time         `db:"timestamp" json:"timestamp"`
}

// Validate rejects rules outside the closed vocabulary before they are
// persisted, so the engine never sees a malformed rule.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return errs.Validation("name", "is required")
	}
	if _, ok := priorityRank[r.Priority]; !ok {
		return errs.Validation("priority", "must be high, medium, or low")
	}
	if r.Active {
		if len(r.Conditions) == 0 {
			return errs.Validation("conditions", "an active rule needs at least one condition")
		}
		if len(r.Actions) == 0 {
			return errs.Validation("actions", "an active rule needs at least one action")
		}
	}
	for _, c := range r.Conditions {
		if !validConditionTypes[c.Type] {
			return errs.Validation("conditions", "unknown condition type "+c.Type)
		}
		if !validOperators[c.Operator] {
			return errs.Validation("conditions", "unknown operator "+c.Operator)
		}
	}
	for _, a := range r.Actions {
		if !validActionTypes[a.Type] {
			return errs.Validation("actions", "unknown action type "+a.Type)
		}
	}
	if r.ABTest != nil && r.ABTest.Enabled {
		if r.ABTest.Ratio < 0 || r.ABTest.Ratio > 100 {
			return errs.Validation("ab_test", "ratio must be between 0 and 100")
		}
	}
	if r.ActiveHours != nil {
		if err := r.ActiveHours.validate(); err != nil {
			return err
		}
	}
	return nil
}
