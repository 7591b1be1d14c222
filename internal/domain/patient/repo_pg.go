package patient

import (
	"context"
	"errors"
	"time"

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

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const patientCols = `id, mrn, first_name, last_name, date_of_birth, sex, height_cm, weight_kg, created_at, updated_at`

func (r *patientRepoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.MRN, &p.FirstName, &p.LastName, &p.DateOfBirth, &p.Sex, &p.HeightCm, &p.WeightKg, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (id, mrn, first_name, last_name, date_of_birth, sex, height_cm, weight_kg)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.MRN, p.FirstName, p.LastName, p.DateOfBirth, p.Sex, p.HeightCm, p.WeightKg)
	return err
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET mrn=$2, first_name=$3, last_name=$4, date_of_birth=$5, sex=$6,
			height_cm=$7, weight_kg=$8, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.MRN, p.FirstName, p.LastName, p.DateOfBirth, p.Sex, p.HeightCm, p.WeightKg)
	return err
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	return err
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patient ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, nil
}

// =========== Allergy Repository ===========

type allergyRepoPG struct{ pool *pgxpool.Pool }

func NewAllergyRepoPG(pool *pgxpool.Pool) AllergyRepository { return &allergyRepoPG{pool: pool} }

func (r *allergyRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *allergyRepoPG) Create(ctx context.Context, a *Allergy) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_allergy (id, patient_id, substance, reaction, severity)
		VALUES ($1,$2,$3,$4,$5)`,
		a.ID, a.PatientID, a.Substance, a.Reaction, a.Severity)
	return err
}

func (r *allergyRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Allergy, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, substance, reaction, severity, created_at
		FROM patient_allergy WHERE patient_id = $1 ORDER BY created_at`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Allergy
	for rows.Next() {
		var a Allergy
		if err := rows.Scan(&a.ID, &a.PatientID, &a.Substance, &a.Reaction, &a.Severity, &a.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &a)
	}
	return items, nil
}

func (r *allergyRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient_allergy WHERE id = $1`, id)
	return err
}

// =========== Condition Repository ===========

type conditionRepoPG struct{ pool *pgxpool.Pool }

func NewConditionRepoPG(pool *pgxpool.Pool) ConditionRepository { return &conditionRepoPG{pool: pool} }

func (r *conditionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *conditionRepoPG) Create(ctx context.Context, c *Condition) error {
	c.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_condition (id, patient_id, name, icd10_code, status, onset_date)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.PatientID, c.Name, c.ICD10Code, c.Status, c.OnsetDate)
	return err
}

func (r *conditionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Condition, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, name, icd10_code, status, onset_date, created_at
		FROM patient_condition WHERE patient_id = $1 ORDER BY created_at`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Condition
	for rows.Next() {
		var c Condition
		if err := rows.Scan(&c.ID, &c.PatientID, &c.Name, &c.ICD10Code, &c.Status, &c.OnsetDate, &c.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &c)
	}
	return items, nil
}

func (r *conditionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient_condition WHERE id = $1`, id)
	return err
}

// =========== Medication Repository ===========

type medicationRepoPG struct{ pool *pgxpool.Pool }

func NewMedicationRepoPG(pool *pgxpool.Pool) MedicationRepository { return &medicationRepoPG{pool: pool} }

func (r *medicationRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const medCols = `id, patient_id, name, dose, frequency, route, form, status, started_at, stopped_at, created_at, updated_at`

func (r *medicationRepoPG) scanMed(row pgx.Row) (*MedicationRecord, error) {
	var m MedicationRecord
	err := row.Scan(&m.ID, &m.PatientID, &m.Name, &m.Dose, &m.Frequency, &m.Route, &m.Form, &m.Status, &m.StartedAt, &m.StoppedAt, &m.CreatedAt, &m.UpdatedAt)
	return &m, err
}

func (r *medicationRepoPG) Create(ctx context.Context, m *MedicationRecord) error {
	m.ID = uuid.New()
	if m.Status == "" {
		m.Status = "active"
	}
	if m.StartedAt.IsZero() {
		m.StartedAt = time.Now()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medication_record (id, patient_id, name, dose, frequency, route, form, status, started_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		m.ID, m.PatientID, m.Name, m.Dose, m.Frequency, m.Route, m.Form, m.Status, m.StartedAt)
	return err
}

func (r *medicationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicationRecord, error) {
	return r.scanMed(r.conn(ctx).QueryRow(ctx, `SELECT `+medCols+` FROM medication_record WHERE id = $1`, id))
}

func (r *medicationRepoPG) Update(ctx context.Context, m *MedicationRecord) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication_record SET name=$2, dose=$3, frequency=$4, route=$5, form=$6, status=$7, updated_at=NOW()
		WHERE id = $1`,
		m.ID, m.Name, m.Dose, m.Frequency, m.Route, m.Form, m.Status)
	return err
}

func (r *medicationRepoPG) ListActiveByPatient(ctx context.Context, patientID uuid.UUID) ([]*MedicationRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+medCols+` FROM medication_record
		WHERE patient_id = $1 AND status = 'active' ORDER BY started_at`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*MedicationRecord
	for rows.Next() {
		m, err := r.scanMed(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, nil
}

func (r *medicationRepoPG) Stop(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication_record SET status='stopped', stopped_at=NOW(), updated_at=NOW()
		WHERE id = $1`, id)
	return err
}

// =========== Lab Repository ===========

type labRepoPG struct{ pool *pgxpool.Pool }

func NewLabRepoPG(pool *pgxpool.Pool) LabRepository { return &labRepoPG{pool: pool} }

func (r *labRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *labRepoPG) Create(ctx context.Context, l *LabResult) error {
	l.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lab_result (id, patient_id, test_name, value, unit, reference_range, abnormal, collected_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		l.ID, l.PatientID, l.TestName, l.Value, l.Unit, l.ReferenceRange, l.Abnormal, l.CollectedAt)
	return err
}

func (r *labRepoPG) ListRecentByPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]*LabResult, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, test_name, value, unit, reference_range, abnormal, collected_at, created_at
		FROM lab_result WHERE patient_id = $1 ORDER BY collected_at DESC LIMIT $2`, patientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*LabResult
	for rows.Next() {
		var l LabResult
		if err := rows.Scan(&l.ID, &l.PatientID, &l.TestName, &l.Value, &l.Unit, &l.ReferenceRange, &l.Abnormal, &l.CollectedAt, &l.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &l)
	}
	return items, nil
}
