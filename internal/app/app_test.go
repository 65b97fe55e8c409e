package app_test

import (
	"context"
	"strings"
	"testing"

	"dealdesk/internal/app"
	"dealdesk/internal/domain"
	"dealdesk/internal/oracle"
)

type stubOracle struct {
	report domain.QualificationReport
}

func (stubOracle) Interpret(context.Context, string, domain.Role) (domain.Interpretation, error) {
	return domain.Interpretation{Kind: domain.IntentUnrecognized}, nil
}

func (s stubOracle) Score(context.Context, oracle.ScoreInput) (domain.QualificationReport, error) {
	return s.report, nil
}

// A nil Scorer must fail fast without an API key, never degrade to a
// disabled oracle that would quietly skip scoring on stage advance.
func TestSetupRequiresKeyWhenScorerMissing(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	_, err := app.Setup(context.Background(), app.Options{
		Workspace:   t.TempDir(),
		Interpreter: oracle.Disabled{},
	})
	if err == nil {
		t.Fatal("expected setup to fail without GEMINI_API_KEY")
	}
	if !strings.Contains(err.Error(), "GEMINI_API_KEY") {
		t.Fatalf("error does not point at the missing key: %v", err)
	}
}

func TestAdvanceUsesConfiguredScorer(t *testing.T) {
	a, err := app.Setup(context.Background(), app.Options{
		Workspace:   t.TempDir(),
		Interpreter: oracle.Disabled{},
		Scorer: stubOracle{report: domain.QualificationReport{
			Score:   81,
			Summary: "strong fit",
		}},
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer a.Close()

	ctx := context.Background()
	lead, err := a.Engine.CreateLead(ctx, "Maria Chen", "Northwind", 40000, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	advanced, err := a.Engine.AdvanceStage(ctx, lead.ID, "manager")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if advanced.Stage != domain.StageQualified {
		t.Fatalf("expected qualified, got %s", advanced.Stage)
	}
	if advanced.QualificationScore == nil || *advanced.QualificationScore != 81 {
		t.Fatalf("configured scorer was not consulted: %+v", advanced.QualificationScore)
	}
}
