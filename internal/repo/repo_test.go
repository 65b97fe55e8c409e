package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/google/uuid"

	"dealdesk/internal/db"
	"dealdesk/internal/domain"
	"dealdesk/internal/migrate"
	"dealdesk/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func inTx(t *testing.T, r repo.Repo, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := r.DB.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		t.Fatalf("tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func sampleLead(name string, stage domain.Stage) domain.Lead {
	return domain.Lead{
		ID:          uuid.NewString(),
		Name:        name,
		Company:     name,
		Value:       1000,
		Stage:       stage,
		Probability: 10,
		CreatedAt:   "2026-03-01T00:00:00Z",
		UpdatedAt:   "2026-03-01T00:00:00Z",
	}
}

func TestInsertAndGet(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	lead := sampleLead("ACME", domain.StageIntake)
	inTx(t, r, func(tx *sql.Tx) error { return r.InsertLead(ctx, tx, lead) })

	got, err := r.GetLead(ctx, lead.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "ACME" || got.QualificationScore != nil {
		t.Fatalf("got %+v", got)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	r := newRepo(t)
	if _, err := r.GetLead(context.Background(), "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestUpdateMissingIsNotFound(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := r.UpdateLead(ctx, tx, sampleLead("ghost", domain.StageIntake)); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestListPreservesInsertionOrder(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	for _, name := range []string{"first", "second", "third"} {
		lead := sampleLead(name, domain.StageIntake)
		inTx(t, r, func(tx *sql.Tx) error { return r.InsertLead(ctx, tx, lead) })
	}
	leads, err := r.ListLeads(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"first", "second", "third"} {
		if leads[i].Name != want {
			t.Fatalf("leads[%d] = %s", i, leads[i].Name)
		}
	}
}

func TestCountLeadsByStage(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	for _, stage := range []domain.Stage{domain.StageIntake, domain.StageIntake, domain.StageClosed} {
		lead := sampleLead("l", stage)
		inTx(t, r, func(tx *sql.Tx) error { return r.InsertLead(ctx, tx, lead) })
	}
	counts, err := r.CountLeadsByStage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[domain.StageIntake] != 2 || counts[domain.StageClosed] != 1 {
		t.Fatalf("counts = %v", counts)
	}
	if _, present := counts[domain.StageProposal]; present {
		t.Fatalf("empty stages must be absent from the map")
	}
}

func TestQualificationFieldsRoundTrip(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	lead := sampleLead("ACME", domain.StageIntake)
	inTx(t, r, func(tx *sql.Tx) error { return r.InsertLead(ctx, tx, lead) })

	score := 72
	summary := "looks strong"
	lead.Stage = domain.StageQualified
	lead.QualificationScore = &score
	lead.QualificationSummary = &summary
	inTx(t, r, func(tx *sql.Tx) error { return r.UpdateLead(ctx, tx, lead) })

	got, err := r.GetLead(ctx, lead.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.QualificationScore == nil || *got.QualificationScore != 72 {
		t.Fatalf("score = %v", got.QualificationScore)
	}
	if got.QualificationSummary == nil || *got.QualificationSummary != "looks strong" {
		t.Fatalf("summary = %v", got.QualificationSummary)
	}
}
