package noshow

import (
	"time"

	"github.com/google/uuid"
)

// Follow-up states of a no-show case. Rescheduled, Lost, and Blocked are
// terminal; once reached the case only accepts reads.
const (
	StatePendingContact = "pending_contact"
	StateInFollowUp     = "in_follow_up"
	StateRescheduled    = "rescheduled"
	StateLost           = "lost"
	StateBlocked        = "blocked"
)

var validStates = map[string]bool{
	StatePendingContact: true,
	StateInFollowUp:     true,
	StateRescheduled:    true,
	StateLost:           true,
	StateBlocked:        true,
}

// Motives a patient gives for missing an appointment.
const (
	MotiveEconomico  = "economico"
	MotiveOlvido     = "olvido"
	MotiveEnfermedad = "enfermedad"
	MotiveTrabajo    = "trabajo"
	MotiveViaje      = "viaje"
	MotiveDesinteres = "desinteres"
	MotiveSinMotivo  = "sin_motivo"
	MotiveRazaBrava  = "raza_brava"
)

// MotiveInfo describes how a motive drives the recovery flow.
type MotiveInfo struct {
	Description        string `json:"description"`
	RequiresRecovery   bool   `json:"requires_recovery"`
	RecontactDelayDays int    `json:"recontact_delay_days"`
	Priority           string `json:"priority"`
}

// motiveCatalog is read-only reference data.
var motiveCatalog = map[string]MotiveInfo{
	MotiveEconomico:  {Description: "Motivo economico", RequiresRecovery: true, RecontactDelayDays: 2, Priority: "medium"},
	MotiveOlvido:     {Description: "Olvido la cita", RequiresRecovery: true, RecontactDelayDays: 1, Priority: "high"},
	MotiveEnfermedad: {Description: "Enfermedad", RequiresRecovery: true, RecontactDelayDays: 3, Priority: "medium"},
	MotiveTrabajo:    {Description: "Compromiso laboral", RequiresRecovery: true, RecontactDelayDays: 2, Priority: "medium"},
	MotiveViaje:      {Description: "De viaje", RequiresRecovery: true, RecontactDelayDays: 7, Priority: "low"},
	MotiveDesinteres: {Description: "Perdio interes", RequiresRecovery: true, RecontactDelayDays: 5, Priority: "low"},
	MotiveSinMotivo:  {Description: "Sin motivo declarado", RequiresRecovery: true, RecontactDelayDays: 1, Priority: "high"},
	MotiveRazaBrava:  {Description: "Paciente conflictivo", RequiresRecovery: false, RecontactDelayDays: 0, Priority: "high"},
}

// MotiveCatalog returns a copy of the catalog for the read-only endpoint.
func MotiveCatalog() map[string]MotiveInfo {
	out := make(map[string]MotiveInfo, len(motiveCatalog))
	for k, v := range motiveCatalog {
		out[k] = v
	}
	return out
}

// ResponseWindow is how long a patient has to respond before the case is
// marked lost. Fixed at case creation.
const ResponseWindow = 7 * 24 * time.Hour

// ContactAttempt records one outreach to the patient.
type ContactAttempt struct {
	At              time.Time `json:"at"`
	Note            string    `json:"note"`
	Succeeded       bool      `json:"succeeded"`
	PatientResponse string    `json:"patient_response,omitempty"`
}

// CaseNote is a free-form annotation on a case.
type CaseNote struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// NoShowCase maps to the noshow_case table. One per missed appointment.
type NoShowCase struct {
	ID                 uuid.UUID        `db:"id" json:"id"`
	AppointmentID      uuid.UUID        `db:"appointment_id" json:"appointment_id"`
	PatientID          uuid.UUID        `db:"patient_id" json:"patient_id"`
	BranchID           *uuid.UUID       `db:"branch_id" json:"branch_id,omitempty"`
	MissedAt           time.Time        `db:"missed_at" json:"missed_at"`
	Motive             *string          `db:"motive" json:"motive,omitempty"`
	FollowUpState      string           `db:"follow_up_state" json:"follow_up_state"`
	ContactAttempts    []ContactAttempt `db:"contact_attempts" json:"contact_attempts"`
	Notes              []CaseNote       `db:"notes" json:"notes"`
	InRecoveryList     bool             `db:"in_recovery_list" json:"in_recovery_list"`
	RecoveryCampaignID *string          `db:"recovery_campaign_id" json:"recovery_campaign_id,omitempty"`
	ResponseDeadline   time.Time        `db:"response_deadline" json:"response_deadline"`
	NextAttemptAt      *time.Time       `db:"next_attempt_at" json:"next_attempt_at,omitempty"`
	LostFlag           bool             `db:"lost_flag" json:"lost_flag"`
	LostAt             *time.Time       `db:"lost_at" json:"lost_at,omitempty"`
	BlockedFlag        bool             `db:"blocked_flag" json:"blocked_flag"`
	BlockReason        *string          `db:"block_reason" json:"block_reason,omitempty"`
	BlockedAt          *time.Time       `db:"blocked_at" json:"blocked_at,omitempty"`
	NewAppointmentID   *uuid.UUID       `db:"new_appointment_id" json:"new_appointment_id,omitempty"`
	Version            int64            `db:"version" json:"version"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at" json:"updated_at"`
}

// NewCase opens a case for a missed appointment. The response deadline is
// fixed here and never recomputed.
func NewCase(appointmentID, patientID uuid.UUID, branchID *uuid.UUID, missedAt time.Time) *NoShowCase {
	return &NoShowCase{
		AppointmentID:    appointmentID,
		PatientID:        patientID,
		BranchID:         branchID,
		MissedAt:         missedAt,
		FollowUpState:    StatePendingContact,
		ResponseDeadline: missedAt.Add(ResponseWindow),
	}
}
