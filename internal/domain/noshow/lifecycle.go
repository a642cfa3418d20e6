package noshow

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cliniflow/cliniflow/internal/platform/errs"
)

// IsTerminal reports whether the case accepts no further transitions.
func (c *NoShowCase) IsTerminal() bool {
	switch c.FollowUpState {
	case StateRescheduled, StateLost, StateBlocked:
		return true
	}
	return false
}

func (c *NoShowCase) guardMutable() error {
	if c.FollowUpState == StateBlocked {
		return errs.State("noshow_case", c.FollowUpState, "patient blocked, no further contact")
	}
	if c.IsTerminal() {
		return errs.State("noshow_case", c.FollowUpState, "case is closed")
	}
	return nil
}

func (c *NoShowCase) appendNote(text string, now time.Time) {
	c.Notes = append(c.Notes, CaseNote{At: now, Text: text})
}

// RegisterContactAttempt appends a timestamped attempt and moves a fresh
// case into follow-up. The next-attempt date is recomputed only once a
// motive is known.
func (c *NoShowCase) RegisterContactAttempt(note string, succeeded bool, patientResponse string, now time.Time) error {
	if err := c.guardMutable(); err != nil {
		return err
	}
	c.ContactAttempts = append(c.ContactAttempts, ContactAttempt{
		At:              now,
		Note:            note,
		Succeeded:       succeeded,
		PatientResponse: patientResponse,
	})
	if c.Motive != nil {
		if info, ok := motiveCatalog[*c.Motive]; ok && info.RequiresRecovery {
			next := now.AddDate(0, 0, info.RecontactDelayDays)
			c.NextAttemptAt = &next
		}
	}
	if c.FollowUpState == StatePendingContact {
		c.FollowUpState = StateInFollowUp
	}
	return nil
}

// AssignMotive records why the appointment was missed and applies the
// catalog's side effects. RazaBrava blocks the patient outright and takes
// priority over any recovery effect.
func (c *NoShowCase) AssignMotive(motive, detail string, now time.Time) error {
	if err := c.guardMutable(); err != nil {
		return err
	}
	motive = strings.ToLower(strings.TrimSpace(motive))
	info, ok := motiveCatalog[motive]
	if !ok {
		return errs.Validation("motive", "unknown motive "+motive)
	}
	c.Motive = &motive

	if motive == MotiveRazaBrava {
		reason := detail
		if reason == "" {
			reason = info.Description
		}
		c.FollowUpState = StateBlocked
		c.BlockedFlag = true
		c.BlockReason = &reason
		c.BlockedAt = &now
		c.InRecoveryList = false
		c.RecoveryCampaignID = nil
		c.NextAttemptAt = nil
		c.appendNote("BLOCKED: "+reason, now)
		return nil
	}

	if info.RequiresRecovery {
		campaign := CampaignIDFor(motive)
		c.InRecoveryList = true
		c.RecoveryCampaignID = &campaign
		next := now.AddDate(0, 0, info.RecontactDelayDays)
		c.NextAttemptAt = &next
	}
	if c.FollowUpState == StatePendingContact {
		c.FollowUpState = StateInFollowUp
	}
	if detail != "" {
		c.appendNote(detail, now)
	}
	return nil
}

// RegisterReschedule closes the case as recovered. A second reschedule is
// rejected and leaves the stored appointment id untouched.
func (c *NoShowCase) RegisterReschedule(newAppointmentID uuid.UUID, now time.Time) error {
	if c.FollowUpState == StateBlocked {
		return errs.State("noshow_case", c.FollowUpState, "patient blocked, no further contact")
	}
	if c.NewAppointmentID != nil || c.FollowUpState == StateRescheduled {
		return errs.Conflict("noshow_case", c.ID.String(), "case already rescheduled")
	}
	if c.IsTerminal() {
		return errs.State("noshow_case", c.FollowUpState, "case is closed")
	}
	c.FollowUpState = StateRescheduled
	c.NewAppointmentID = &newAppointmentID
	c.InRecoveryList = false
	c.NextAttemptAt = nil
	c.appendNote("RESCHEDULED: new appointment "+newAppointmentID.String(), now)
	return nil
}

// MarkLost closes the case after the response window expires. Calling it on
// an already lost case is a no-op.
func (c *NoShowCase) MarkLost(reason string, now time.Time) error {
	if c.FollowUpState == StateLost {
		return nil
	}
	if c.IsTerminal() {
		return errs.State("noshow_case", c.FollowUpState, "case is closed")
	}
	c.FollowUpState = StateLost
	c.LostFlag = true
	c.LostAt = &now
	c.InRecoveryList = false
	c.NextAttemptAt = nil
	c.appendNote("MARKED LOST: "+reason, now)
	return nil
}

// DeadlineReport is the deterministic answer to "what should happen to this
// case right now".
type DeadlineReport struct {
	State             string `json:"state"`
	DaysSinceMissed   int    `json:"days_since_missed"`
	DaysUntilDeadline int    `json:"days_until_deadline"`
	ActionRequired    bool   `json:"action_required"`
	Message           string `json:"message"`
}

// EvaluateDeadline computes the follow-up tier for the case at the given
// instant. Terminal states short-circuit to fixed messages.
func (c *NoShowCase) EvaluateDeadline(now time.Time) DeadlineReport {
	report := DeadlineReport{
		State:             c.FollowUpState,
		DaysSinceMissed:   int(now.Sub(c.MissedAt).Hours() / 24),
		DaysUntilDeadline: int(c.ResponseDeadline.Sub(now).Hours() / 24),
	}

	switch c.FollowUpState {
	case StateRescheduled:
		report.Message = "case closed: patient rescheduled"
		return report
	case StateLost:
		report.Message = "case closed: patient lost"
		return report
	case StateBlocked:
		report.Message = "case closed: patient blocked"
		return report
	}

	switch {
	case report.DaysUntilDeadline <= 0:
		report.ActionRequired = true
		report.Message = "response window expired, mark lost"
	case report.DaysUntilDeadline <= 2:
		report.ActionRequired = true
		report.Message = fmt.Sprintf("alert: %d days left before lost", report.DaysUntilDeadline)
	case c.NextAttemptAt != nil && now.After(*c.NextAttemptAt):
		report.ActionRequired = true
		report.Message = "needs new contact attempt"
	default:
		report.Message = fmt.Sprintf("in follow-up, %d days left", report.DaysUntilDeadline)
	}
	return report
}
