package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"dealdesk/internal/domain"
)

const (
	defaultModel   = "gemini-2.0-flash"
	defaultTimeout = 30 * time.Second
	maxRetries     = 2
)

// GeminiConfig configures the Gemini-backed oracles.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Gemini implements Interpreter and Scorer against the Gemini API with a
// JSON response mode and a bounded retry policy.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	log     *zap.Logger
}

func NewGemini(ctx context.Context, cfg GeminiConfig, log *zap.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model, timeout: cfg.Timeout, log: log}, nil
}

func (g *Gemini) Interpret(ctx context.Context, command string, role domain.Role) (domain.Interpretation, error) {
	user := fmt.Sprintf("Actor role: %s\nInstruction: %s", role, command)
	raw, err := g.generate(ctx, "interpret", interpretSystemPrompt, user)
	if err != nil {
		return domain.Interpretation{}, &Error{Op: "interpret", Err: err}
	}
	in, err := parseInterpretation([]byte(raw))
	if err != nil {
		g.log.Warn("oracle returned malformed interpretation", zap.Error(err))
		return domain.Interpretation{}, &Error{Op: "interpret", Err: err}
	}
	return in, nil
}

func (g *Gemini) Score(ctx context.Context, in ScoreInput) (domain.QualificationReport, error) {
	user := fmt.Sprintf("Lead: %s\nCompany: %s\nDeal value: %d\nNotes: %s", in.Name, in.Company, in.Value, in.Notes)
	raw, err := g.generate(ctx, "score", scoreSystemPrompt, user)
	if err != nil {
		return domain.QualificationReport{}, &Error{Op: "score", Err: err}
	}
	rep, err := parseReport([]byte(raw))
	if err != nil {
		g.log.Warn("oracle returned malformed report", zap.Error(err))
		return domain.QualificationReport{}, &Error{Op: "score", Err: err}
	}
	return rep, nil
}

func (g *Gemini) generate(ctx context.Context, op, system, user string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	start := time.Now()
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0.1),
	}
	text, err := backoff.RetryWithData(func() (string, error) {
		resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(user), cfg)
		if err != nil {
			if ctx.Err() != nil {
				return "", backoff.Permanent(ctx.Err())
			}
			return "", err
		}
		out := resp.Text()
		if out == "" {
			return "", backoff.Permanent(fmt.Errorf("empty completion"))
		}
		return out, nil
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx))
	if err != nil {
		g.log.Warn("oracle call failed",
			zap.String("op", op),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", err
	}
	g.log.Debug("oracle call completed",
		zap.String("op", op),
		zap.String("model", g.model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("response_len", len(text)))
	return text, nil
}

const interpretSystemPrompt = `You translate CRM terminal instructions into exactly one JSON object:
{"intent": "<KIND>", "reply": "<short confirmation for the user>", "payload": {...}}

Kinds and payloads:
- CREATE_LEAD: {"name": string, "company": string, "value": integer, "notes": string}
- UPDATE_LEAD: {"subject": string, "field": "value"|"stage"|"probability", "new_value": string}
- DELETE_LEAD: {"subject": string}
- ANALYZE_LEAD: {"subject": string}
- QUERY_PIPELINE: no payload
- SYSTEM_STATUS: no payload
- UNRECOGNIZED: no payload, for anything that is not a CRM instruction

"subject" is the fragment of the lead or company name the user referred to.
Deal values are plain integers with no currency symbols. Respond with the
JSON object only.`

const scoreSystemPrompt = `You are a sales qualification analyst. Score the lead with the BANT rubric
(budget, authority, need, timeline) and respond with exactly one JSON object:
{"score": 0-100, "summary": string, "strengths": [string], "weaknesses": [string],
 "bant": {"budget": 0-100, "authority": 0-100, "need": 0-100, "timeline": 0-100}}
The overall score reflects the four components. Base every judgement only on
the provided notes and deal value; do not invent facts.`
