package noshow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cliniflow/cliniflow/internal/platform/errs"
	"github.com/cliniflow/cliniflow/internal/platform/messaging"
)

// Service owns the no-show follow-up flow: case intake, lifecycle
// transitions, recovery outreach, and the deadline protocol.
type Service struct {
	cases    Repository
	sender   messaging.Port
	protocol *Protocol
	log      zerolog.Logger
}

func NewService(cases Repository, sender messaging.Port, log zerolog.Logger) *Service {
	return &Service{
		cases:    cases,
		sender:   sender,
		protocol: NewProtocol(cases, log),
		log:      log.With().Str("component", "noshow").Logger(),
	}
}

// OpenCase creates a case for a missed appointment. At most one case exists
// per appointment; a duplicate returns a conflict.
func (s *Service) OpenCase(ctx context.Context, appointmentID, patientID uuid.UUID, branchID *uuid.UUID, missedAt time.Time) (*NoShowCase, error) {
	if appointmentID == uuid.Nil {
		return nil, errs.Validation("appointment_id", "is required")
	}
	if patientID == uuid.Nil {
		return nil, errs.Validation("patient_id", "is required")
	}
	if missedAt.IsZero() {
		return nil, errs.Validation("missed_at", "is required")
	}
	c := NewCase(appointmentID, patientID, branchID, missedAt)
	if err := s.cases.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*NoShowCase, error) {
	return s.cases.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, state string, branchID *uuid.UUID, limit, offset int) ([]*NoShowCase, int, error) {
	if state != "" && !validStates[state] {
		return nil, 0, errs.Validation("state", "unknown state "+state)
	}
	return s.cases.List(ctx, state, branchID, limit, offset)
}

// RegisterContactAttempt appends an outreach attempt and persists the case.
func (s *Service) RegisterContactAttempt(ctx context.Context, id uuid.UUID, note string, succeeded bool, patientResponse string, now time.Time) (*NoShowCase, error) {
	c, err := s.cases.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.RegisterContactAttempt(note, succeeded, patientResponse, now); err != nil {
		return nil, err
	}
	if err := s.cases.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// AssignMotive records the no-show motive and, for recovery motives, kicks
// off the matching campaign message on the spot.
func (s *Service) AssignMotive(ctx context.Context, id uuid.UUID, motive, detail, recipient string, now time.Time) (*NoShowCase, error) {
	c, err := s.cases.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.AssignMotive(motive, detail, now); err != nil {
		return nil, err
	}
	if err := s.cases.Update(ctx, c); err != nil {
		return nil, err
	}

	if c.InRecoveryList && recipient != "" {
		plan, err := SelectCampaign(motive)
		if err == nil {
			if _, sendErr := s.sender.Send(ctx, plan.Channel, recipient, plan.Template); sendErr != nil {
				// The case state already moved; the campaign message is
				// best-effort and the protocol job re-alerts later.
				s.log.Warn().Str("case", c.ID.String()).Err(sendErr).Msg("recovery message failed")
			}
		}
	}
	return c, nil
}

// RegisterReschedule closes the case as recovered.
func (s *Service) RegisterReschedule(ctx context.Context, id, newAppointmentID uuid.UUID, now time.Time) (*NoShowCase, error) {
	if newAppointmentID == uuid.Nil {
		return nil, errs.Validation("new_appointment_id", "is required")
	}
	c, err := s.cases.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.RegisterReschedule(newAppointmentID, now); err != nil {
		return nil, err
	}
	if err := s.cases.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// MarkLost closes the case manually.
func (s *Service) MarkLost(ctx context.Context, id uuid.UUID, reason string, now time.Time) (*NoShowCase, error) {
	c, err := s.cases.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.MarkLost(reason, now); err != nil {
		return nil, err
	}
	if err := s.cases.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Deadline reports the follow-up tier for one case.
func (s *Service) Deadline(ctx context.Context, id uuid.UUID, now time.Time) (*DeadlineReport, error) {
	c, err := s.cases.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	report := c.EvaluateDeadline(now)
	return &report, nil
}

// RunProtocol executes one deadline pass. This is the scheduler's entry
// point and also backs the force-run endpoint.
func (s *Service) RunProtocol(ctx context.Context, now time.Time) (*ProtocolSummary, error) {
	return s.protocol.Run(ctx, now)
}
