package noshow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cliniflow/cliniflow/internal/platform/errs"
)

// InMemoryRepo is a thread-safe, in-memory Repository honoring the same
// uniqueness and versioning contracts as the pg repo.
type InMemoryRepo struct {
	mu      sync.RWMutex
	cases   map[uuid.UUID]*NoShowCase
	byAppt  map[uuid.UUID]uuid.UUID
	order   []uuid.UUID
	FailNow error // next Update returns this error, then resets
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		cases:  make(map[uuid.UUID]*NoShowCase),
		byAppt: make(map[uuid.UUID]uuid.UUID),
	}
}

func cloneCase(c *NoShowCase) *NoShowCase {
	cp := *c
	cp.ContactAttempts = append([]ContactAttempt(nil), c.ContactAttempts...)
	cp.Notes = append([]CaseNote(nil), c.Notes...)
	return &cp
}

func (r *InMemoryRepo) Create(_ context.Context, c *NoShowCase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byAppt[c.AppointmentID]; exists {
		return errs.Conflict("noshow_case", c.AppointmentID.String(), "case already exists for appointment")
	}
	c.ID = uuid.New()
	c.Version = 1
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	r.cases[c.ID] = cloneCase(c)
	r.byAppt[c.AppointmentID] = c.ID
	r.order = append(r.order, c.ID)
	return nil
}

func (r *InMemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*NoShowCase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cases[id]
	if !ok {
		return nil, errs.NotFound("noshow_case", id.String())
	}
	return cloneCase(c), nil
}

func (r *InMemoryRepo) GetByAppointmentID(_ context.Context, appointmentID uuid.UUID) (*NoShowCase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byAppt[appointmentID]
	if !ok {
		return nil, errs.NotFound("noshow_case", appointmentID.String())
	}
	return cloneCase(r.cases[id]), nil
}

func (r *InMemoryRepo) List(_ context.Context, state string, branchID *uuid.UUID, limit, offset int) ([]*NoShowCase, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*NoShowCase
	for _, id := range r.order {
		c := r.cases[id]
		if state != "" && c.FollowUpState != state {
			continue
		}
		if branchID != nil && (c.BranchID == nil || *c.BranchID != *branchID) {
			continue
		}
		all = append(all, cloneCase(c))
	}
	total := len(all)
	if offset >= total {
		return []*NoShowCase{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *InMemoryRepo) ListOpen(_ context.Context) ([]*NoShowCase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*NoShowCase
	for _, id := range r.order {
		c := r.cases[id]
		if c.FollowUpState == StatePendingContact || c.FollowUpState == StateInFollowUp {
			out = append(out, cloneCase(c))
		}
	}
	return out, nil
}

func (r *InMemoryRepo) Update(_ context.Context, c *NoShowCase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailNow != nil {
		err := r.FailNow
		r.FailNow = nil
		return err
	}
	stored, ok := r.cases[c.ID]
	if !ok {
		return errs.NotFound("noshow_case", c.ID.String())
	}
	if stored.Version != c.Version {
		return errs.Conflict("noshow_case", c.ID.String(), "version mismatch")
	}
	c.Version++
	c.UpdatedAt = time.Now()
	r.cases[c.ID] = cloneCase(c)
	return nil
}
