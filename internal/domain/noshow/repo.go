package noshow

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists no-show cases. Create enforces one case per
// appointment; Update is optimistic on the case version.
type Repository interface {
	Create(ctx context.Context, c *NoShowCase) error
	GetByID(ctx context.Context, id uuid.UUID) (*NoShowCase, error)
	GetByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*NoShowCase, error)
	List(ctx context.Context, state string, branchID *uuid.UUID, limit, offset int) ([]*NoShowCase, int, error)
	ListOpen(ctx context.Context) ([]*NoShowCase, error)
	Update(ctx context.Context, c *NoShowCase) error
}
