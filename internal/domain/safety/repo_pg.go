package safety

import (
	"context"

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

type drugInteractionRepoPG struct{ pool *pgxpool.Pool }

func NewDrugInteractionRepoPG(pool *pgxpool.Pool) DrugInteractionRepository {
	return &drugInteractionRepoPG{pool: pool}
}

func (r *drugInteractionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const interactionCols = `id, medication_a_name, medication_b_name, severity, description,
	clinical_effect, management, evidence_level, source, active, created_at, updated_at`

func (r *drugInteractionRepoPG) scanInteraction(row pgx.Row) (*DrugInteraction, error) {
	var d DrugInteraction
	err := row.Scan(&d.ID, &d.MedicationAName, &d.MedicationBName, &d.Severity, &d.Description,
		&d.ClinicalEffect, &d.Management, &d.EvidenceLevel, &d.Source, &d.Active, &d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

func (r *drugInteractionRepoPG) Create(ctx context.Context, d *DrugInteraction) error {
	d.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO drug_interaction (id, medication_a_name, medication_b_name, severity, description,
			clinical_effect, management, evidence_level, source, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		d.ID, d.MedicationAName, d.MedicationBName, d.Severity, d.Description,
		d.ClinicalEffect, d.Management, d.EvidenceLevel, d.Source, d.Active)
	return err
}

func (r *drugInteractionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*DrugInteraction, error) {
	return r.scanInteraction(r.conn(ctx).QueryRow(ctx,
		`SELECT `+interactionCols+` FROM drug_interaction WHERE id = $1`, id))
}

func (r *drugInteractionRepoPG) Update(ctx context.Context, d *DrugInteraction) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE drug_interaction SET medication_a_name=$2, medication_b_name=$3, severity=$4, description=$5,
			clinical_effect=$6, management=$7, evidence_level=$8, source=$9, active=$10, updated_at=NOW()
		WHERE id = $1`,
		d.ID, d.MedicationAName, d.MedicationBName, d.Severity, d.Description,
		d.ClinicalEffect, d.Management, d.EvidenceLevel, d.Source, d.Active)
	return err
}

func (r *drugInteractionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM drug_interaction WHERE id = $1`, id)
	return err
}

func (r *drugInteractionRepoPG) List(ctx context.Context, limit, offset int) ([]*DrugInteraction, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM drug_interaction`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+interactionCols+` FROM drug_interaction ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*DrugInteraction
	for rows.Next() {
		d, err := r.scanInteraction(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, nil
}

func (r *drugInteractionRepoPG) FindByPair(ctx context.Context, medA, medB string) ([]*DrugInteraction, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+interactionCols+` FROM drug_interaction
		WHERE active = TRUE
		  AND ((LOWER(medication_a_name) = LOWER($1) AND LOWER(medication_b_name) = LOWER($2))
		    OR (LOWER(medication_a_name) = LOWER($2) AND LOWER(medication_b_name) = LOWER($1)))`,
		medA, medB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*DrugInteraction
	for rows.Next() {
		d, err := r.scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, nil
}
