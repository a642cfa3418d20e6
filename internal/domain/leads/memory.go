package leads

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cliniflow/cliniflow/internal/platform/errs"
)

// InMemoryRepo is a thread-safe, in-memory Repository. It backs unit tests
// across packages and honors the same versioning contract as the pg repo.
type InMemoryRepo struct {
	mu    sync.RWMutex
	leads map[uuid.UUID]*Lead
	notes map[uuid.UUID][]*Note
	order []uuid.UUID
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		leads: make(map[uuid.UUID]*Lead),
		notes: make(map[uuid.UUID][]*Note),
	}
}

func cloneLead(l *Lead) *Lead {
	c := *l
	c.Tags = append([]string(nil), l.Tags...)
	return &c
}

func (r *InMemoryRepo) Create(_ context.Context, l *Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.ID = uuid.New()
	l.Version = 1
	now := time.Now()
	l.CreatedAt = now
	l.UpdatedAt = now
	if l.LastStatusChangeAt.IsZero() {
		l.LastStatusChangeAt = now
	}
	r.leads[l.ID] = cloneLead(l)
	r.order = append(r.order, l.ID)
	return nil
}

func (r *InMemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.leads[id]
	if !ok {
		return nil, errs.NotFound("lead", id.String())
	}
	return cloneLead(l), nil
}

func (r *InMemoryRepo) GetAll(_ context.Context) ([]*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Lead, 0, len(r.order))
	for _, id := range r.order {
		if l, ok := r.leads[id]; ok {
			out = append(out, cloneLead(l))
		}
	}
	return out, nil
}

func (r *InMemoryRepo) List(_ context.Context, limit, offset int) ([]*Lead, int, error) {
	all, _ := r.GetAll(nil)
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return []*Lead{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *InMemoryRepo) ListByStatus(_ context.Context, status string, limit, offset int) ([]*Lead, int, error) {
	all, _ := r.GetAll(nil)
	var filtered []*Lead
	for _, l := range all {
		if l.Status == status {
			filtered = append(filtered, l)
		}
	}
	total := len(filtered)
	if offset >= total {
		return []*Lead{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}

func (r *InMemoryRepo) Update(_ context.Context, l *Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.leads[l.ID]
	if !ok {
		return errs.NotFound("lead", l.ID.String())
	}
	if stored.Version != l.Version {
		return errs.Conflict("lead", l.ID.String(), "version mismatch")
	}
	l.Version++
	l.UpdatedAt = time.Now()
	r.leads[l.ID] = cloneLead(l)
	return nil
}

func (r *InMemoryRepo) AddNote(_ context.Context, n *Note) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n.ID = uuid.New()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	r.notes[n.LeadID] = append(r.notes[n.LeadID], n)
	return nil
}

func (r *InMemoryRepo) ListNotes(_ context.Context, leadID uuid.UUID) ([]*Note, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Note(nil), r.notes[leadID]...), nil
}
