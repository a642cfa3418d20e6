package noshow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const caseCols = `id, appointment_id, patient_id, branch_id, missed_at, motive, follow_up_state,
	contact_attempts, notes, in_recovery_list, recovery_campaign_id, response_deadline,
	next_attempt_at, lost_flag, lost_at, blocked_flag, block_reason, blocked_at,
	new_appointment_id, version, created_at, updated_at`

func scanCase(row pgx.Row) (*NoShowCase, error) {
	var c NoShowCase
	var attempts, notes []byte
	err := row.Scan(&c.ID, &c.AppointmentID, &c.PatientID, &c.BranchID, &c.MissedAt, &c.Motive,
		&c.FollowUpState, &attempts, &notes, &c.InRecoveryList, &c.RecoveryCampaignID,
		&c.ResponseDeadline, &c.NextAttemptAt, &c.LostFlag, &c.LostAt, &c.BlockedFlag,
		&c.BlockReason, &c.BlockedAt, &c.NewAppointmentID, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("noshow_case", "")
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(attempts, &c.ContactAttempts); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(notes, &c.Notes); err != nil {
		return nil, err
	}
	return &c, nil
}

func marshalCase(c *NoShowCase) (attempts, notes []byte, err error) {
	if c.ContactAttempts == nil {
		c.ContactAttempts = []ContactAttempt{}
	}
	if c.Notes == nil {
		c.Notes = []CaseNote{}
	}
	if attempts, err = json.Marshal(c.ContactAttempts); err != nil {
		return nil, nil, err
	}
	if notes, err = json.Marshal(c.Notes); err != nil {
		return nil, nil, err
	}
	return attempts, notes, nil
}

func (r *repoPG) Create(ctx context.Context, c *NoShowCase) error {
	c.ID = uuid.New()
	c.Version = 1
	attempts, notes, err := marshalCase(c)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO noshow_case (id, appointment_id, patient_id, branch_id, missed_at, motive,
			follow_up_state, contact_attempts, notes, in_recovery_list, recovery_campaign_id,
			response_deadline, next_attempt_at, lost_flag, lost_at, blocked_flag, block_reason,
			blocked_at, new_appointment_id, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		c.ID, c.AppointmentID, c.PatientID, c.BranchID, c.MissedAt, c.Motive,
		c.FollowUpState, attempts, notes, c.InRecoveryList, c.RecoveryCampaignID,
		c.ResponseDeadline, c.NextAttemptAt, c.LostFlag, c.LostAt, c.BlockedFlag, c.BlockReason,
		c.BlockedAt, c.NewAppointmentID, c.Version)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errs.Conflict("noshow_case", c.AppointmentID.String(), "case already exists for appointment")
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*NoShowCase, error) {
	c, err := scanCase(r.conn(ctx).QueryRow(ctx, `SELECT `+caseCols+` FROM noshow_case WHERE id = $1`, id))
	if errs.IsNotFound(err) {
		return nil, errs.NotFound("noshow_case", id.String())
	}
	return c, err
}

func (r *repoPG) GetByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*NoShowCase, error) {
	c, err := scanCase(r.conn(ctx).QueryRow(ctx,
		`SELECT `+caseCols+` FROM noshow_case WHERE appointment_id = $1`, appointmentID))
	if errs.IsNotFound(err) {
		return nil, errs.NotFound("noshow_case", appointmentID.String())
	}
	return c, err
}

func (r *repoPG) List(ctx context.Context, state string, branchID *uuid.UUID, limit, offset int) ([]*NoShowCase, int, error) {
	where := ""
	var args []interface{}
	if state != "" {
		args = append(args, state)
		where = fmt.Sprintf("WHERE follow_up_state = $%d", len(args))
	}
	if branchID != nil {
		args = append(args, *branchID)
		if where == "" {
			where = fmt.Sprintf("WHERE branch_id = $%d", len(args))
		} else {
			where += fmt.Sprintf(" AND branch_id = $%d", len(args))
		}
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM noshow_case %s`, where), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM noshow_case %s ORDER BY missed_at DESC LIMIT $%d OFFSET $%d`,
		caseCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*NoShowCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *repoPG) ListOpen(ctx context.Context) ([]*NoShowCase, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+caseCols+` FROM noshow_case
		WHERE follow_up_state IN ($1, $2)`, StatePendingContact, StateInFollowUp)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*NoShowCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, c *NoShowCase) error {
	attempts, notes, err := marshalCase(c)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE noshow_case SET
			motive = $2, follow_up_state = $3, contact_attempts = $4, notes = $5,
			in_recovery_list = $6, recovery_campaign_id = $7, next_attempt_at = $8,
			lost_flag = $9, lost_at = $10, blocked_flag = $11, block_reason = $12,
			blocked_at = $13, new_appointment_id = $14,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $15`,
		c.ID, c.Motive, c.FollowUpState, attempts, notes,
		c.InRecoveryList, c.RecoveryCampaignID, c.NextAttemptAt,
		c.LostFlag, c.LostAt, c.BlockedFlag, c.BlockReason,
		c.BlockedAt, c.NewAppointmentID, c.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, c.ID); err != nil {
			return err
		}
		return errs.Conflict("noshow_case", c.ID.String(), "version mismatch")
	}
	c.Version++
	return nil
}
