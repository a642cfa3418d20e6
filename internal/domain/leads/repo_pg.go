package leads

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cliniflow/cliniflow/internal/platform/db"
	"github.com/cliniflow/cliniflow/internal/platform/errs"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type leadRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &leadRepoPG{pool: pool} }

func (r *leadRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const leadCols = `id, name, phone, email, status, channel, branch_id, campaign_id,
	service_id, source_id, owner_id, role_scope, tags, score, attempt_count,
	last_message_text, conversation_blocked, appointment_status,
	last_response_at, last_status_change_at, version, created_at, updated_at`

func (r *leadRepoPG) scanLead(row pgx.Row) (*Lead, error) {
	var l Lead
	err := row.Scan(&l.ID, &l.Name, &l.Phone, &l.Email, &l.Status, &l.Channel, &l.BranchID, &l.CampaignID,
		&l.ServiceID, &l.SourceID, &l.OwnerID, &l.RoleScope, &l.Tags, &l.Score, &l.AttemptCount,
		&l.LastMessageText, &l.ConversationBlocked, &l.AppointmentStatus,
		&l.LastResponseAt, &l.LastStatusChangeAt, &l.Version, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("lead", "")
	}
	return &l, err
}

func (r *leadRepoPG) Create(ctx context.Context, l *Lead) error {
	l.ID = uuid.New()
	l.Version = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lead (id, name, phone, email, status, channel, branch_id, campaign_id,
			service_id, source_id, owner_id, role_scope, tags, score, attempt_count,
			last_message_text, conversation_blocked, appointment_status,
			last_response_at, last_status_change_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		l.ID, l.Name, l.Phone, l.Email, l.Status, l.Channel, l.BranchID, l.CampaignID,
		l.ServiceID, l.SourceID, l.OwnerID, l.RoleScope, l.Tags, l.Score, l.AttemptCount,
		l.LastMessageText, l.ConversationBlocked, l.AppointmentStatus,
		l.LastResponseAt, l.LastStatusChangeAt, l.Version)
	return err
}

func (r *leadRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Lead, error) {
	l, err := r.scanLead(r.conn(ctx).QueryRow(ctx, `SELECT `+leadCols+` FROM lead WHERE id = $1`, id))
	if errs.IsNotFound(err) {
		return nil, errs.NotFound("lead", id.String())
	}
	return l, err
}

func (r *leadRepoPG) GetAll(ctx context.Context) ([]*Lead, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+leadCols+` FROM lead ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Lead
	for rows.Next() {
		l, err := r.scanLead(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

func (r *leadRepoPG) List(ctx context.Context, limit, offset int) ([]*Lead, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lead`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+leadCols+` FROM lead ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Lead
	for rows.Next() {
		l, err := r.scanLead(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, l)
	}
	return items, total, rows.Err()
}

func (r *leadRepoPG) ListByStatus(ctx context.Context, status string, limit, offset int) ([]*Lead, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lead WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+leadCols+` FROM lead WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Lead
	for rows.Next() {
		l, err := r.scanLead(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, l)
	}
	return items, total, rows.Err()
}

// Update writes the lead only when the stored version matches l.Version.
// On success l.Version is bumped to the stored value.
func (r *leadRepoPG) Update(ctx context.Context, l *Lead) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lead SET name=$2, phone=$3, email=$4, status=$5, channel=$6, branch_id=$7,
			campaign_id=$8, service_id=$9, source_id=$10, owner_id=$11, role_scope=$12,
			tags=$13, score=$14, attempt_count=$15, last_message_text=$16,
			conversation_blocked=$17, appointment_status=$18, last_response_at=$19,
			last_status_change_at=$20, version=version+1, updated_at=NOW()
		WHERE id = $1 AND version = $21`,
		l.ID, l.Name, l.Phone, l.Email, l.Status, l.Channel, l.BranchID,
		l.CampaignID, l.ServiceID, l.SourceID, l.OwnerID, l.RoleScope,
		l.Tags, l.Score, l.AttemptCount, l.LastMessageText,
		l.ConversationBlocked, l.AppointmentStatus, l.LastResponseAt,
		l.LastStatusChangeAt, l.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the lead is gone or someone moved the version under us.
		if _, err := r.GetByID(ctx, l.ID); err != nil {
			return err
		}
		return errs.Conflict("lead", l.ID.String(), "version mismatch")
	}
	l.Version++
	return nil
}

func (r *leadRepoPG) AddNote(ctx context.Context, n *Note) error {
	n.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lead_note (id, lead_id, kind, text) VALUES ($1,$2,$3,$4)`,
		n.ID, n.LeadID, n.Kind, n.Text)
	return err
}

func (r *leadRepoPG) ListNotes(ctx context.Context, leadID uuid.UUID) ([]*Note, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, lead_id, kind, text, created_at FROM lead_note
		WHERE lead_id = $1 ORDER BY created_at`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.LeadID, &n.Kind, &n.Text, &n.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &n)
	}
	return items, rows.Err()
}
