package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dealdesk/internal/audit"
	"dealdesk/internal/config"
	"dealdesk/internal/domain"
	"dealdesk/internal/oracle"
	"dealdesk/internal/rbac"
	"dealdesk/internal/repo"
	"dealdesk/internal/resolve"
)

// Engine turns free-text commands into store mutations and audit entries,
// and drives leads through the pipeline lifecycle. Commands are serialized:
// at most one is in flight at a time.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Config *config.Config
	Oracle oracle.Interpreter
	Scorer oracle.Scorer
	Log    *zap.Logger
	Now    func() time.Time

	mu sync.Mutex
}

func New(db *sql.DB, cfg *config.Config, interp oracle.Interpreter, scorer oracle.Scorer, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	now := time.Now
	return &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.Writer{DB: db, Now: now},
		Config: cfg,
		Oracle: interp,
		Scorer: scorer,
		Log:    log,
		Now:    now,
	}
}

const (
	actionCreate       = "Create Lead"
	actionUpdate       = "Update Lead"
	actionDelete       = "Delete Lead"
	actionQuery        = "Pipeline Query"
	actionAnalyze      = "Lead Analysis"
	actionStatus       = "System Status"
	actionAdvance      = "Stage Advance"
	actionScoring      = "Qualification Scoring"
	actionSystemError  = "System Error"
	actionUnrecognized = "Unrecognized Command"
)

const helpText = `I can manage your pipeline. Try:
  "create a lead for ACME worth 50000"
  "update the acme deal value to 75000"
  "delete the lead for ACME"
  "show me the pipeline"
  "analyze the acme lead"
  "system status"`

// ProcessCommand runs one free-text command on behalf of role. It always
// returns a user-facing envelope; an error means the engine itself failed
// (store unavailable), not that the command was refused.
func (e *Engine) ProcessCommand(ctx context.Context, rawText string, role domain.Role) (domain.ResponseEnvelope, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	text := strings.TrimSpace(rawText)
	if text == "" {
		return textEnvelope("Please enter a command."), nil
	}

	// Reserved commands never reach the oracle and leave no audit trail.
	switch strings.ToLower(text) {
	case "help":
		return textEnvelope(helpText), nil
	case "clear":
		return domain.ResponseEnvelope{Kind: domain.EnvelopeText, Text: "", Payload: map[string]bool{"clear": true}}, nil
	}

	in, err := e.Oracle.Interpret(ctx, text, role)
	if err != nil {
		e.Log.Warn("oracle interpret failed", zap.Error(err))
		if aerr := e.record(ctx, nil, domain.AuditEntry{
			Actor:    string(role),
			Action:   actionSystemError,
			Status:   domain.StatusFailed,
			Severity: domain.SeverityHigh,
			Details:  err.Error(),
		}); aerr != nil {
			return domain.ResponseEnvelope{}, aerr
		}
		return textEnvelope("Sorry, I couldn't process that command right now. Please try again."), nil
	}

	// An interpretation whose payload is missing for its kind is treated
	// as unrecognized rather than trusted.
	switch in.Kind {
	case domain.IntentCreateLead:
		if in.Create == nil {
			return e.unrecognized(ctx, role, text, in)
		}
		return e.createLead(ctx, role, in)
	case domain.IntentUpdateLead:
		if in.Update == nil {
			return e.unrecognized(ctx, role, text, in)
		}
		return e.updateLead(ctx, role, in)
	case domain.IntentDeleteLead:
		if in.Subject == nil {
			return e.unrecognized(ctx, role, text, in)
		}
		return e.deleteLead(ctx, role, in)
	case domain.IntentQueryPipeline:
		return e.queryPipeline(ctx, role)
	case domain.IntentAnalyzeLead:
		if in.Subject == nil {
			return e.unrecognized(ctx, role, text, in)
		}
		return e.analyzeLead(ctx, role, in)
	case domain.IntentSystemStatus:
		return e.systemStatus(ctx, role)
	default:
		return e.unrecognized(ctx, role, text, in)
	}
}

func (e *Engine) createLead(ctx context.Context, role domain.Role, in domain.Interpretation) (domain.ResponseEnvelope, error) {
	if !rbac.Allowed(role, domain.IntentCreateLead) {
		return e.deny(ctx, role, domain.IntentCreateLead, actionCreate)
	}
	p := in.Create
	now := e.Now().UTC().Format(time.RFC3339)
	lead := domain.Lead{
		ID:          uuid.NewString(),
		Name:        p.Name,
		Company:     p.Company,
		Value:       p.Value,
		Stage:       domain.StageIntake,
		Probability: 10,
		Notes:       p.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := e.record(ctx, func(tx *sql.Tx) error {
		return e.Repo.InsertLead(ctx, tx, lead)
	}, domain.AuditEntry{
		Actor:    string(role),
		Action:   actionCreate,
		Status:   domain.StatusSuccess,
		Severity: domain.SeverityMedium,
		Details:  fmt.Sprintf("created %s (%s) worth %d", lead.Name, lead.Company, lead.Value),
	})
	if err != nil {
		return domain.ResponseEnvelope{}, err
	}
	reply := in.Reply
	if reply == "" {
		reply = fmt.Sprintf("Created lead %s for %s worth %d, starting in intake.", lead.Name, lead.Company, lead.Value)
	}
	return domain.ResponseEnvelope{Kind: domain.EnvelopeText, Text: reply, Payload: lead}, nil
}

func (e *Engine) updateLead(ctx context.Context, role domain.Role, in domain.Interpretation) (domain.ResponseEnvelope, error) {
	if !rbac.Allowed(role, domain.IntentUpdateLead) {
		return e.deny(ctx, role, domain.IntentUpdateLead, actionUpdate)
	}
	p := in.Update
	lead, ok, err := e.findLead(ctx, p.Subject)
	if err != nil {
		return domain.ResponseEnvelope{}, err
	}
	if !ok {
		return e.notFound(ctx, role, actionUpdate, p.Subject)
	}

	if err := applyUpdate(&lead, p.Field, p.NewValue); err != nil {
		if aerr := e.record(ctx, nil, domain.AuditEntry{
			Actor:    string(role),
			Action:   actionUpdate,
			Status:   domain.StatusFailed,
			Severity: domain.SeverityLow,
			Details:  fmt.Sprintf("%s: %v", lead.Name, err),
		}); aerr != nil {
			return domain.ResponseEnvelope{}, aerr
		}
		return textEnvelope(fmt.Sprintf("Couldn't update %s: %v.", lead.Name, err)), nil
	}
	lead.UpdatedAt = e.Now().UTC().Format(time.RFC3339)

	err = e.record(ctx, func(tx *sql.Tx) error {
		return e.Repo.UpdateLead(ctx, tx, lead)
	}, domain.AuditEntry{
		Actor:    string(role),
		Action:   actionUpdate,
		Status:   domain.StatusSuccess,
		Severity: domain.SeverityMedium,
		Details:  fmt.Sprintf("%s: set %s to %s", lead.Name, p.Field, p.NewValue),
	})
	if err != nil {
		return domain.ResponseEnvelope{}, err
	}
	reply := in.Reply
	if reply == "" {
		reply = fmt.Sprintf("Updated %s: %s is now %s.", lead.Name, p.Field, p.NewValue)
	}
	return domain.ResponseEnvelope{Kind: domain.EnvelopeText, Text: reply, Payload: lead}, nil
}

// applyUpdate mutates a single field on the lead, validating the new value.
func applyUpdate(lead *domain.Lead, field domain.UpdatableField, raw string) error {
	switch field {
	case domain.FieldValue:
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || v < 0 {
			return fmt.Errorf("value must be a non-negative integer, got %q", raw)
		}
		lead.Value = v
	case domain.FieldProbability:
		p, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || p < 0 || p > 100 {
			return fmt.Errorf("probability must be between 0 and 100, got %q", raw)
		}
		lead.Probability = p
	case domain.FieldStage:
		stage, ok := domain.ParseStage(strings.TrimSpace(strings.ToLower(raw)))
		if !ok {
			return fmt.Errorf("unknown stage %q", raw)
		}
		lead.Stage = stage
	default:
		return fmt.Errorf("field %q cannot be updated", field)
	}
	return nil
}

func (e *Engine) deleteLead(ctx context.Context, role domain.Role, in domain.Interpretation) (domain.ResponseEnvelope, error) {
	if !rbac.Allowed(role, domain.IntentDeleteLead) {
		return e.deny(ctx, role, domain.IntentDeleteLead, actionDelete)
	}
	lead, ok, err := e.findLead(ctx, in.Subject.Subject)
	if err != nil {
		return domain.ResponseEnvelope{}, err
	}
	if !ok {
		return e.notFound(ctx, role, actionDelete, in.Subject.Subject)
	}
	err = e.record(ctx, func(tx *sql.Tx) error {
		return e.Repo.DeleteLead(ctx, tx, lead.ID)
	}, domain.AuditEntry{
		Actor:    string(role),
		Action:   actionDelete,
		Status:   domain.StatusSuccess,
		Severity: domain.SeverityHigh,
		Details:  fmt.Sprintf("deleted %s (%s)", lead.Name, lead.Company),
	})
	if err != nil {
		return domain.ResponseEnvelope{}, err
	}
	reply := in.Reply
	if reply == "" {
		reply = fmt.Sprintf("Deleted the lead for %s.", lead.Name)
	}
	return textEnvelope(reply), nil
}

func (e *Engine) queryPipeline(ctx context.Context, role domain.Role) (domain.ResponseEnvelope, error) {
	counts, err := e.Repo.CountLeadsByStage(ctx)
	if err != nil {
		return domain.ResponseEnvelope{}, err
	}
	if err := e.record(ctx, nil, domain.AuditEntry{
		Actor:    string(role),
		Action:   actionQuery,
		Status:   domain.StatusSuccess,
		Severity: domain.SeverityLow,
		Details:  "pipeline summary",
	}); err != nil {
		return domain.ResponseEnvelope{}, err
	}

	parts := make([]string, 0, len(domain.StageOrder))
	payload := make(map[string]int, len(domain.StageOrder))
	for _, s := range domain.StageOrder {
		payload[string(s)] = counts[s]
		parts = append(parts, fmt.Sprintf("%s: %d", s, counts[s]))
	}
	return domain.ResponseEnvelope{
		Kind:    domain.EnvelopeAggregate,
		Text:    "Pipeline: " + strings.Join(parts, ", "),
		Payload: payload,
	}, nil
}

func (e *Engine) analyzeLead(ctx context.Context, role domain.Role, in domain.Interpretation) (domain.ResponseEnvelope, error) {
	lead, ok, err := e.findLead(ctx, in.Subject.Subject)
	if err != nil {
		return domain.ResponseEnvelope{}, err
	}
	if !ok {
		return e.notFound(ctx, role, actionAnalyze, in.Subject.Subject)
	}

	report, err := e.Scorer.Score(ctx, oracle.ScoreInput{
		Name:    lead.Name,
		Company: lead.Company,
		Notes:   lead.Notes,
		Value:   lead.Value,
	})
	if err != nil {
		e.Log.Warn("lead scoring failed", zap.String("lead", lead.ID), zap.Error(err))
		if aerr := e.record(ctx, nil, domain.AuditEntry{
			Actor:    string(role),
			Action:   actionAnalyze,
			Status:   domain.StatusFailed,
			Severity: domain.SeverityMedium,
			Details:  fmt.Sprintf("%s: %v", lead.Name, err),
		}); aerr != nil {
			return domain.ResponseEnvelope{}, aerr
		}
		return textEnvelope(fmt.Sprintf("Analysis of %s failed. Please try again later.", lead.Name)), nil
	}

	if err := e.record(ctx, nil, domain.AuditEntry{
		Actor:    string(role),
		Action:   actionAnalyze,
		Status:   domain.StatusSuccess,
		Severity: domain.SeverityLow,
		Details:  fmt.Sprintf("%s scored %d", lead.Name, report.Score),
	}); err != nil {
		return domain.ResponseEnvelope{}, err
	}
	return domain.ResponseEnvelope{
		Kind:    domain.EnvelopeAnalysis,
		Text:    fmt.Sprintf("%s scores %d/100: %s", lead.Name, report.Score, report.Summary),
		Payload: report,
	}, nil
}

func (e *Engine) systemStatus(ctx context.Context, role domain.Role) (domain.ResponseEnvelope, error) {
	leads, err := e.Repo.CountLeads(ctx)
	if err != nil {
		return domain.ResponseEnvelope{}, err
	}
	entries, err := e.Audit.Count(ctx)
	if err != nil {
		return domain.ResponseEnvelope{}, err
	}
	if err := e.record(ctx, nil, domain.AuditEntry{
		Actor:    string(role),
		Action:   actionStatus,
		Status:   domain.StatusSuccess,
		Severity: domain.SeverityLow,
		Details:  fmt.Sprintf("%d leads, %d audit entries", leads, entries),
	}); err != nil {
		return domain.ResponseEnvelope{}, err
	}
	model := "unconfigured"
	if e.Config != nil {
		model = e.Config.Oracle.Model
	}
	return textEnvelope(fmt.Sprintf("All systems operational. %d leads tracked, %d audit entries, oracle model %s.", leads, entries+1, model)), nil
}

func (e *Engine) unrecognized(ctx context.Context, role domain.Role, text string, in domain.Interpretation) (domain.ResponseEnvelope, error) {
	if err := e.record(ctx, nil, domain.AuditEntry{
		Actor:    string(role),
		Action:   actionUnrecognized,
		Status:   domain.StatusFailed,
		Severity: domain.SeverityLow,
		Details:  text,
	}); err != nil {
		return domain.ResponseEnvelope{}, err
	}
	reply := in.Reply
	if reply == "" {
		reply = "I didn't understand that. Type \"help\" to see what I can do."
	}
	return textEnvelope(reply), nil
}

// AdvanceStage moves a lead one step forward in the pipeline. Closed leads
// are left untouched and produce no audit entry. Entering the qualified
// stage triggers scoring; a scoring failure still advances the lead and is
// recorded alongside the advance entry.
func (e *Engine) AdvanceStage(ctx context.Context, leadID, actor string) (domain.Lead, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lead, err := e.Repo.GetLead(ctx, leadID)
	if err != nil {
		return domain.Lead{}, err
	}
	next, ok := domain.NextStage(lead.Stage)
	if !ok {
		return lead, nil
	}

	var scoreErr error
	if next == domain.StageQualified {
		report, err := e.Scorer.Score(ctx, oracle.ScoreInput{
			Name:    lead.Name,
			Company: lead.Company,
			Notes:   lead.Notes,
			Value:   lead.Value,
		})
		if err != nil {
			scoreErr = err
			e.Log.Warn("qualification scoring failed", zap.String("lead", lead.ID), zap.Error(err))
		} else {
			score := report.Score
			summary := report.Summary
			lead.QualificationScore = &score
			lead.QualificationSummary = &summary
		}
	}

	prev := lead.Stage
	lead.Stage = next
	lead.UpdatedAt = e.Now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateLead(ctx, tx, lead); err != nil {
		return domain.Lead{}, err
	}
	if _, err := e.Audit.Append(ctx, tx, domain.AuditEntry{
		Actor:    actor,
		Action:   actionAdvance,
		Status:   domain.StatusSuccess,
		Severity: domain.SeverityMedium,
		Details:  fmt.Sprintf("%s: %s -> %s", lead.Name, prev, next),
	}); err != nil {
		return domain.Lead{}, err
	}
	if scoreErr != nil {
		if _, err := e.Audit.Append(ctx, tx, domain.AuditEntry{
			Actor:    actor,
			Action:   actionScoring,
			Status:   domain.StatusFailed,
			Severity: domain.SeverityMedium,
			Details:  fmt.Sprintf("%s: %v", lead.Name, scoreErr),
		}); err != nil {
			return domain.Lead{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return lead, nil
}

// CreateLead is the direct write path used by the lead form and CLI. It
// bypasses the oracle but not the store defaults.
func (e *Engine) CreateLead(ctx context.Context, name, company string, value int64, notes string) (domain.Lead, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if strings.TrimSpace(name) == "" {
		return domain.Lead{}, fmt.Errorf("lead name is required")
	}
	if company == "" {
		company = name
	}
	if value < 0 {
		return domain.Lead{}, fmt.Errorf("lead value must be non-negative")
	}
	now := e.Now().UTC().Format(time.RFC3339)
	lead := domain.Lead{
		ID:          uuid.NewString(),
		Name:        name,
		Company:     company,
		Value:       value,
		Stage:       domain.StageIntake,
		Probability: 10,
		Notes:       notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertLead(ctx, tx, lead); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return lead, nil
}

// Pipeline returns per-stage lead counts in pipeline order.
func (e *Engine) Pipeline(ctx context.Context) (map[domain.Stage]int, error) {
	return e.Repo.CountLeadsByStage(ctx)
}

func (e *Engine) deny(ctx context.Context, role domain.Role, kind domain.IntentKind, action string) (domain.ResponseEnvelope, error) {
	if err := e.record(ctx, nil, domain.AuditEntry{
		Actor:    string(role),
		Action:   action,
		Status:   domain.StatusDenied,
		Severity: rbac.DenialSeverity(kind),
		Details:  fmt.Sprintf("role %s is not permitted to %s", role, strings.ToLower(action)),
	}); err != nil {
		return domain.ResponseEnvelope{}, err
	}
	return textEnvelope(fmt.Sprintf("Permission denied: your role (%s) cannot do that.", role)), nil
}

func (e *Engine) notFound(ctx context.Context, role domain.Role, action, subject string) (domain.ResponseEnvelope, error) {
	if err := e.record(ctx, nil, domain.AuditEntry{
		Actor:    string(role),
		Action:   action,
		Status:   domain.StatusFailed,
		Severity: domain.SeverityLow,
		Details:  fmt.Sprintf("no lead matching %q", subject),
	}); err != nil {
		return domain.ResponseEnvelope{}, err
	}
	return textEnvelope(fmt.Sprintf("I couldn't find a lead matching %q.", subject)), nil
}

// findLead resolves a free-text fragment against the store in insertion order.
func (e *Engine) findLead(ctx context.Context, fragment string) (domain.Lead, bool, error) {
	leads, err := e.Repo.ListLeads(ctx)
	if err != nil {
		return domain.Lead{}, false, err
	}
	lead, ok := resolve.Lead(fragment, leads)
	return lead, ok, nil
}

// record commits an optional store mutation and exactly one audit entry in
// a single transaction. mutate may be nil for audit-only outcomes.
func (e *Engine) record(ctx context.Context, mutate func(tx *sql.Tx) error, entry domain.AuditEntry) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if mutate != nil {
		if err := mutate(tx); err != nil {
			return err
		}
	}
	if _, err := e.Audit.Append(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func textEnvelope(text string) domain.ResponseEnvelope {
	return domain.ResponseEnvelope{Kind: domain.EnvelopeText, Text: text}
}
