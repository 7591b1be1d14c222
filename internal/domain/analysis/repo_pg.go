package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rxsense/rxsense/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Request Repository ===========

type requestRepoPG struct{ pool *pgxpool.Pool }

func NewRequestRepoPG(pool *pgxpool.Pool) RequestRepository { return &requestRepoPG{pool: pool} }

func (r *requestRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const requestCols = `id, patient_id, requested_by_id, status, consent_obtained, input,
	retry_count, max_retries, error_code, error_message, completed_at, created_at, updated_at`

func (r *requestRepoPG) scanRequest(row pgx.Row) (*Request, error) {
	var req Request
	var input []byte
	err := row.Scan(&req.ID, &req.PatientID, &req.RequestedByID, &req.Status, &req.ConsentObtained, &input,
		&req.RetryCount, &req.MaxRetries, &req.ErrorCode, &req.ErrorMessage, &req.CompletedAt, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &req.Input); err != nil {
			return nil, fmt.Errorf("decode request input: %w", err)
		}
	}
	return &req, nil
}

func (r *requestRepoPG) Create(ctx context.Context, req *Request) error {
	req.ID = uuid.New()
	input, err := json.Marshal(req.Input)
	if err != nil {
		return fmt.Errorf("encode request input: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO analysis_request (id, patient_id, requested_by_id, status, consent_obtained, input,
			retry_count, max_retries)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		req.ID, req.PatientID, req.RequestedByID, req.Status, req.ConsentObtained, input,
		req.RetryCount, req.MaxRetries)
	return err
}

func (r *requestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	return r.scanRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+requestCols+` FROM analysis_request WHERE id = $1`, id))
}

func (r *requestRepoPG) Update(ctx context.Context, req *Request) error {
	input, err := json.Marshal(req.Input)
	if err != nil {
		return fmt.Errorf("encode request input: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE analysis_request SET status=$2, consent_obtained=$3, input=$4, retry_count=$5,
			max_retries=$6, error_code=$7, error_message=$8, completed_at=$9, updated_at=NOW()
		WHERE id = $1`,
		req.ID, req.Status, req.ConsentObtained, input, req.RetryCount,
		req.MaxRetries, req.ErrorCode, req.ErrorMessage, req.CompletedAt)
	return err
}

func (r *requestRepoPG) List(ctx context.Context, limit, offset int) ([]*Request, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM analysis_request`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+requestCols+` FROM analysis_request ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Request
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, req)
	}
	return items, total, nil
}

func (r *requestRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Request, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM analysis_request WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+requestCols+` FROM analysis_request WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Request
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, req)
	}
	return items, total, nil
}

// HasActiveForPatient treats only pending and processing as active. A
// failed request never blocks a fresh one.
func (r *requestRepoPG) HasActiveForPatient(ctx context.Context, patientID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM analysis_request
			WHERE patient_id = $1 AND status IN ('pending', 'processing')
		)`, patientID).Scan(&exists)
	return exists, err
}

func (r *requestRepoPG) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE analysis_request SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// =========== Result Repository ===========

type resultRepoPG struct{ pool *pgxpool.Pool }

func NewResultRepoPG(pool *pgxpool.Pool) ResultRepository { return &resultRepoPG{pool: pool} }

func (r *resultRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const resultCols = `id, request_id, assessment, safety_report, raw_response, model, provider_request_id, total_tokens, created_at`

func (r *resultRepoPG) scanResult(row pgx.Row) (*Result, error) {
	var res Result
	err := row.Scan(&res.ID, &res.RequestID, &res.Assessment, &res.SafetyReport, &res.RawResponse,
		&res.Model, &res.ProviderRequestID, &res.TotalTokens, &res.CreatedAt)
	return &res, err
}

func (r *resultRepoPG) Create(ctx context.Context, res *Result) error {
	res.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO analysis_result (id, request_id, assessment, safety_report, raw_response, model, provider_request_id, total_tokens)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		res.ID, res.RequestID, res.Assessment, res.SafetyReport, res.RawResponse, res.Model, res.ProviderRequestID, res.TotalTokens)
	return err
}

func (r *resultRepoPG) GetByRequest(ctx context.Context, requestID uuid.UUID) (*Result, error) {
	return r.scanResult(r.conn(ctx).QueryRow(ctx,
		`SELECT `+resultCols+` FROM analysis_result WHERE request_id = $1 ORDER BY created_at DESC LIMIT 1`, requestID))
}

// =========== Review Repository ===========

type reviewRepoPG struct{ pool *pgxpool.Pool }

func NewReviewRepoPG(pool *pgxpool.Pool) ReviewRepository { return &reviewRepoPG{pool: pool} }

func (r *reviewRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const reviewCols = `id, request_id, reviewer_id, decision, reason, modification, escalated_to, created_at`

func (r *reviewRepoPG) scanReview(row pgx.Row) (*Review, error) {
	var rv Review
	err := row.Scan(&rv.ID, &rv.RequestID, &rv.ReviewerID, &rv.Decision, &rv.Reason, &rv.Modification, &rv.EscalatedTo, &rv.CreatedAt)
	return &rv, err
}

func (r *reviewRepoPG) Create(ctx context.Context, rv *Review) error {
	rv.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO analysis_review (id, request_id, reviewer_id, decision, reason, modification, escalated_to)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rv.ID, rv.RequestID, rv.ReviewerID, rv.Decision, rv.Reason, rv.Modification, rv.EscalatedTo)
	return err
}

func (r *reviewRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Review, error) {
	return r.scanReview(r.conn(ctx).QueryRow(ctx,
		`SELECT `+reviewCols+` FROM analysis_review WHERE id = $1`, id))
}

func (r *reviewRepoPG) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*Review, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+reviewCols+` FROM analysis_review WHERE request_id = $1 ORDER BY created_at`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Review
	for rows.Next() {
		rv, err := r.scanReview(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rv)
	}
	return items, nil
}

func (r *reviewRepoPG) AddAdjustment(ctx context.Context, a *Adjustment) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO analysis_adjustment (id, review_id, action, medication, medication_id, dose, frequency, formulation, outcome, detail)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.ReviewID, a.Action, a.Medication, a.MedicationID, a.Dose, a.Frequency, a.Formulation, a.Outcome, a.Detail)
	return err
}

func (r *reviewRepoPG) GetAdjustments(ctx context.Context, reviewID uuid.UUID) ([]*Adjustment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, review_id, action, medication, medication_id, dose, frequency, formulation, outcome, detail, created_at
		FROM analysis_adjustment WHERE review_id = $1 ORDER BY created_at`, reviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Adjustment
	for rows.Next() {
		var a Adjustment
		if err := rows.Scan(&a.ID, &a.ReviewID, &a.Action, &a.Medication, &a.MedicationID, &a.Dose,
			&a.Frequency, &a.Formulation, &a.Outcome, &a.Detail, &a.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &a)
	}
	return items, nil
}
