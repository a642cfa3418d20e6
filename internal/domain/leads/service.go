package leads

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cliniflow/cliniflow/internal/platform/errs"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, l *Lead) error {
	if l.Name == "" {
		return errs.Validation("name", "is required")
	}
	if !validChannels[l.Channel] {
		return errs.Validation("channel", "must be one of whatsapp, facebook, instagram, web, phone")
	}
	if l.Status == "" {
		l.Status = "new"
	}
	if l.AppointmentStatus == "" {
		l.AppointmentStatus = AppointmentNone
	}
	if !validAppointmentStatuses[l.AppointmentStatus] {
		return errs.Validation("appointment_status", "unknown value "+l.AppointmentStatus)
	}
	return s.repo.Create(ctx, l)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Lead, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Lead, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListByStatus(ctx context.Context, status string, limit, offset int) ([]*Lead, int, error) {
	return s.repo.ListByStatus(ctx, status, limit, offset)
}

func (s *Service) Update(ctx context.Context, l *Lead) error {
	if !validChannels[l.Channel] {
		return errs.Validation("channel", "must be one of whatsapp, facebook, instagram, web, phone")
	}
	if !validAppointmentStatuses[l.AppointmentStatus] {
		return errs.Validation("appointment_status", "unknown value "+l.AppointmentStatus)
	}
	return s.repo.Update(ctx, l)
}

// RegisterInboundMessage records a patient reply: stamps the response time,
// clears the messaging window counter, and stores the text for
// free-text-contains rules.
func (s *Service) RegisterInboundMessage(ctx context.Context, id uuid.UUID, text string, now time.Time) (*Lead, error) {
	l, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	l.LastResponseAt = &now
	l.LastMessageText = &text
	if err := s.repo.Update(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Service) AddNote(ctx context.Context, leadID uuid.UUID, kind, text string) (*Note, error) {
	if text == "" {
		return nil, errs.Validation("text", "is required")
	}
	if kind == "" {
		kind = NoteKindNote
	}
	if _, err := s.repo.GetByID(ctx, leadID); err != nil {
		return nil, err
	}
	n := &Note{LeadID: leadID, Kind: kind, Text: text}
	if err := s.repo.AddNote(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Service) Notes(ctx context.Context, leadID uuid.UUID) ([]*Note, error) {
	return s.repo.ListNotes(ctx, leadID)
}
