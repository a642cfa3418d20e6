package leads

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the lead store. Update is optimistic: the write only applies
// when the stored version matches the lead's Version field, and a mismatch
// returns a ConflictError so concurrent jobs re-read instead of clobbering
// each other.
type Repository interface {
	Create(ctx context.Context, l *Lead) error
	GetByID(ctx context.Context, id uuid.UUID) (*Lead, error)
	GetAll(ctx context.Context) ([]*Lead, error)
	List(ctx context.Context, limit, offset int) ([]*Lead, int, error)
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]*Lead, int, error)
	Update(ctx context.Context, l *Lead) error
	AddNote(ctx context.Context, n *Note) error
	ListNotes(ctx context.Context, leadID uuid.UUID) ([]*Note, error)
}
