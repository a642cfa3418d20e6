package automation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cliniflow/cliniflow/internal/platform/errs"
)

// InMemoryRuleRepo is a thread-safe, in-memory RuleRepository for tests.
type InMemoryRuleRepo struct {
	mu    sync.RWMutex
	rules map[uuid.UUID]*Rule
	order []uuid.UUID
}

func NewInMemoryRuleRepo() *InMemoryRuleRepo {
	return &InMemoryRuleRepo{rules: make(map[uuid.UUID]*Rule)}
}

func (r *InMemoryRuleRepo) Create(_ context.Context, rule *Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule.ID = uuid.New()
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	c := *rule
	r.rules[rule.ID] = &c
	r.order = append(r.order, rule.ID)
	return nil
}

func (r *InMemoryRuleRepo) GetByID(_ context.Context, id uuid.UUID) (*Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, errs.NotFound("rule", id.String())
	}
	c := *rule
	return &c, nil
}

func (r *InMemoryRuleRepo) List(_ context.Context, limit, offset int) ([]*Rule, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*Rule
	for _, id := range r.order {
		if rule, ok := r.rules[id]; ok {
			c := *rule
			all = append(all, &c)
		}
	}
	total := len(all)
	if offset >= total {
		return []*Rule{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *InMemoryRuleRepo) ListActive(_ context.Context) ([]*Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Rule
	for _, id := range r.order {
		if rule, ok := r.rules[id]; ok && rule.Active {
			c := *rule
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *InMemoryRuleRepo) Update(_ context.Context, rule *Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[rule.ID]; !ok {
		return errs.NotFound("rule", rule.ID.String())
	}
	rule.UpdatedAt = time.Now()
	c := *rule
	r.rules[rule.ID] = &c
	return nil
}

func (r *InMemoryRuleRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[id]; !ok {
		return errs.NotFound("rule", id.String())
	}
	delete(r.rules, id)
	return nil
}

// InMemoryLogRepo is a thread-safe, in-memory LogRepository for tests.
type InMemoryLogRepo struct {
	mu      sync.RWMutex
	entries []*ExecutionLog
}

func NewInMemoryLogRepo() *InMemoryLogRepo {
	return &InMemoryLogRepo{}
}

func (r *InMemoryLogRepo) Append(_ context.Context, entries []*ExecutionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entries...)
	return nil
}

func (r *InMemoryLogRepo) List(_ context.Context, ruleID *uuid.UUID, limit, offset int) ([]*ExecutionLog, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var filtered []*ExecutionLog
	for _, e := range r.entries {
		if ruleID == nil || e.RuleID == *ruleID {
			filtered = append(filtered, e)
		}
	}
	total := len(filtered)
	if offset >= total {
		return []*ExecutionLog{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}
