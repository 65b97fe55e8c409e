package repo

import (
	"context"
	"database/sql"
	"errors"

	"dealdesk/internal/domain"
)

// Repo owns the mutation primitives for the lead store. It carries no
// business logic; stage rules and permissions live in the engine.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const leadColumns = `id,name,company,value,stage,probability,COALESCE(notes,'') AS notes,qualification_score,qualification_summary,created_at,updated_at`

func scanLead(s interface{ Scan(...any) error }) (domain.Lead, error) {
	var l domain.Lead
	var score sql.NullInt64
	var summary sql.NullString
	err := s.Scan(&l.ID, &l.Name, &l.Company, &l.Value, &l.Stage, &l.Probability, &l.Notes, &score, &summary, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if score.Valid {
		v := int(score.Int64)
		l.QualificationScore = &v
	}
	if summary.Valid {
		l.QualificationSummary = &summary.String
	}
	return l, nil
}

func (r Repo) InsertLead(ctx context.Context, tx *sql.Tx, l domain.Lead) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO leads(id,name,company,value,stage,probability,notes,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		l.ID, l.Name, l.Company, l.Value, l.Stage, l.Probability, nullable(l.Notes), l.CreatedAt, l.UpdatedAt)
	return err
}

func (r Repo) GetLead(ctx context.Context, id string) (domain.Lead, error) {
	return scanLead(r.DB.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id=?`, id))
}

// ListLeads returns all leads in insertion order. The entity resolver
// depends on this ordering for its first-match tie-break.
func (r Repo) ListLeads(ctx context.Context) ([]domain.Lead, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+leadColumns+` FROM leads ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) UpdateLead(ctx context.Context, tx *sql.Tx, l domain.Lead) error {
	res, err := tx.ExecContext(ctx, `UPDATE leads SET name=?,company=?,value=?,stage=?,probability=?,notes=?,qualification_score=?,qualification_summary=?,updated_at=? WHERE id=?`,
		l.Name, l.Company, l.Value, l.Stage, l.Probability, nullable(l.Notes), nullableInt(l.QualificationScore), nullablePtr(l.QualificationSummary), l.UpdatedAt, l.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteLead(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM leads WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountLeadsByStage computes the pipeline aggregate. Stages with no leads
// are absent from the map.
func (r Repo) CountLeadsByStage(ctx context.Context) (map[domain.Stage]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT stage, COUNT(*) FROM leads GROUP BY stage`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[domain.Stage]int{}
	for rows.Next() {
		var stage domain.Stage
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		counts[stage] = n
	}
	return counts, rows.Err()
}

func (r Repo) CountLeads(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads`).Scan(&n)
	return n, err
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullablePtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
