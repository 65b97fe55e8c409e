package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"dealdesk/internal/domain"
)

// rawInterpretation is the wire shape the interpretation model is asked to
// produce. The payload stays raw until the intent kind selects its schema.
type rawInterpretation struct {
	Intent  string          `json:"intent"`
	Reply   string          `json:"reply"`
	Payload json.RawMessage `json:"payload"`
}

// parseInterpretation decodes model output into the typed intent union.
// This is the single point where untrusted external data becomes typed;
// anything that does not fit is rejected, never patched up.
func parseInterpretation(data []byte) (domain.Interpretation, error) {
	var raw rawInterpretation
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.Interpretation{}, fmt.Errorf("decode interpretation: %w", err)
	}
	out := domain.Interpretation{
		Kind:  domain.IntentKind(strings.ToUpper(strings.TrimSpace(raw.Intent))),
		Reply: strings.TrimSpace(raw.Reply),
	}
	switch out.Kind {
	case domain.IntentCreateLead:
		var p domain.CreateLeadPayload
		if err := decodePayload(raw.Payload, &p); err != nil {
			return domain.Interpretation{}, err
		}
		if strings.TrimSpace(p.Name) == "" {
			return domain.Interpretation{}, fmt.Errorf("create payload missing name")
		}
		if p.Value < 0 {
			return domain.Interpretation{}, fmt.Errorf("create payload has negative value %d", p.Value)
		}
		if strings.TrimSpace(p.Company) == "" {
			p.Company = p.Name
		}
		out.Create = &p
	case domain.IntentUpdateLead:
		var p domain.UpdateLeadPayload
		if err := decodePayload(raw.Payload, &p); err != nil {
			return domain.Interpretation{}, err
		}
		if strings.TrimSpace(p.Subject) == "" {
			return domain.Interpretation{}, fmt.Errorf("update payload missing subject")
		}
		switch p.Field {
		case domain.FieldValue, domain.FieldStage, domain.FieldProbability:
		default:
			return domain.Interpretation{}, fmt.Errorf("update payload names unknown field %q", p.Field)
		}
		out.Update = &p
	case domain.IntentDeleteLead, domain.IntentAnalyzeLead:
		var p domain.SubjectPayload
		if err := decodePayload(raw.Payload, &p); err != nil {
			return domain.Interpretation{}, err
		}
		if strings.TrimSpace(p.Subject) == "" {
			return domain.Interpretation{}, fmt.Errorf("%s payload missing subject", out.Kind)
		}
		out.Subject = &p
	case domain.IntentQueryPipeline, domain.IntentSystemStatus, domain.IntentUnrecognized:
		// No payload.
	default:
		return domain.Interpretation{}, fmt.Errorf("unknown intent kind %q", raw.Intent)
	}
	return out, nil
}

func decodePayload(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing payload")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// parseReport decodes and bounds-checks a qualification report.
func parseReport(data []byte) (domain.QualificationReport, error) {
	var rep domain.QualificationReport
	if err := json.Unmarshal(data, &rep); err != nil {
		return rep, fmt.Errorf("decode report: %w", err)
	}
	if rep.Score < 0 || rep.Score > 100 {
		return rep, fmt.Errorf("score %d out of range", rep.Score)
	}
	for _, v := range []int{rep.BANT.Budget, rep.BANT.Authority, rep.BANT.Need, rep.BANT.Timeline} {
		if v < 0 || v > 100 {
			return rep, fmt.Errorf("bant component %d out of range", v)
		}
	}
	if strings.TrimSpace(rep.Summary) == "" {
		return rep, fmt.Errorf("report missing summary")
	}
	return rep, nil
}
