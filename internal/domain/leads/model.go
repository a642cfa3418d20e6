package leads

import (
	"time"

	"github.com/google/uuid"
)

// Lead maps to the lead table. It is the contact request record automation
// rules evaluate and act on.
type Lead struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	Name               string     `db:"name" json:"name"`
	Phone              *string    `db:"phone" json:"phone,omitempty"`
	Email              *string    `db:"email" json:"email,omitempty"`
	Status             string     `db:"status" json:"status"`
	Channel            string     `db:"channel" json:"channel"`
	BranchID           *uuid.UUID `db:"branch_id" json:"branch_id,omitempty"`
	CampaignID         *uuid.UUID `db:"campaign_id" json:"campaign_id,omitempty"`
	ServiceID          *uuid.UUID `db:"service_id" json:"service_id,omitempty"`
	SourceID           *uuid.UUID `db:"source_id" json:"source_id,omitempty"`
	OwnerID            *uuid.UUID `db:"owner_id" json:"owner_id,omitempty"`
	RoleScope          *string    `db:"role_scope" json:"role_scope,omitempty"`
	Tags               []string   `db:"tags" json:"tags"`
	Score              int        `db:"score" json:"score"`
	AttemptCount       int        `db:"attempt_count" json:"attempt_count"`
	LastMessageText    *string    `db:"last_message_text" json:"last_message_text,omitempty"`
	ConversationBlocked bool      `db:"conversation_blocked" json:"conversation_blocked"`
	AppointmentStatus  string     `db:"appointment_status" json:"appointment_status"`
	LastResponseAt     *time.Time `db:"last_response_at" json:"last_response_at,omitempty"`
	LastStatusChangeAt time.Time  `db:"last_status_change_at" json:"last_status_change_at"`
	Version            int64      `db:"version" json:"version"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// Note maps to the lead_note table. Notes carry free-form annotations,
// follow-up tasks created by automation, and system entries.
type Note struct {
	ID        uuid.UUID `db:"id" json:"id"`
	LeadID    uuid.UUID `db:"lead_id" json:"lead_id"`
	Kind      string    `db:"kind" json:"kind"`
	Text      string    `db:"text" json:"text"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Note kinds.
const (
	NoteKindNote   = "note"
	NoteKindTask   = "task"
	NoteKindSystem = "system"
)

// Lead origin channels. The first three are messaging channels; web and
// phone leads get outbound messages on whatsapp by default.
const (
	ChannelWhatsApp  = "whatsapp"
	ChannelFacebook  = "facebook"
	ChannelInstagram = "instagram"
	ChannelWeb       = "web"
	ChannelPhone     = "phone"
)

var validChannels = map[string]bool{
	ChannelWhatsApp:  true,
	ChannelFacebook:  true,
	ChannelInstagram: true,
	ChannelWeb:       true,
	ChannelPhone:     true,
}

// Appointment statuses tracked on the lead.
const (
	AppointmentNone              = "none"
	AppointmentConfirmed         = "confirmed"
	AppointmentPendingReschedule = "pending-reschedule"
	AppointmentArrived           = "arrived"
)

var validAppointmentStatuses = map[string]bool{
	AppointmentNone:              true,
	AppointmentConfirmed:         true,
	AppointmentPendingReschedule: true,
	AppointmentArrived:           true,
}

// HasTag reports whether the lead carries the given tag.
func (l *Lead) HasTag(tag string) bool {
	for _, t := range l.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag appends the tag if not already present.
func (l *Lead) AddTag(tag string) {
	if !l.HasTag(tag) {
		l.Tags = append(l.Tags, tag)
	}
}

// RemoveTag drops the tag if present.
func (l *Lead) RemoveTag(tag string) {
	out := l.Tags[:0]
	for _, t := range l.Tags {
		if t != tag {
			out = append(out, t)
		}
	}
	l.Tags = out
}

// SetStatus changes the pipeline status and stamps the change time. A no-op
// when the status is unchanged.
func (l *Lead) SetStatus(status string, now time.Time) {
	if l.Status == status {
		return
	}
	l.Status = status
	l.LastStatusChangeAt = now
}

// DaysSinceLastResponse returns whole days since the lead last responded,
// falling back to creation time when it never has.
func (l *Lead) DaysSinceLastResponse(now time.Time) int {
	ref := l.CreatedAt
	if l.LastResponseAt != nil {
		ref = *l.LastResponseAt
	}
	d := now.Sub(ref)
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// HoursInCurrentStatus returns whole hours since the last status change.
func (l *Lead) HoursInCurrentStatus(now time.Time) int {
	d := now.Sub(l.LastStatusChangeAt)
	if d < 0 {
		return 0
	}
	return int(d.Hours())
}
