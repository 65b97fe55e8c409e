package domain

// Role identifies the actor submitting a command.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleSales   Role = "sales"
	RoleViewer  Role = "viewer"
)

// Stage is a position in the fixed deal lifecycle.
type Stage string

const (
	StageIntake      Stage = "intake"
	StageQualified   Stage = "qualified"
	StageProposal    Stage = "proposal"
	StageNegotiation Stage = "negotiation"
	StageClosed      Stage = "closed"
)

// StageOrder is the lifecycle in advancement order; closed is terminal.
var StageOrder = []Stage{StageIntake, StageQualified, StageProposal, StageNegotiation, StageClosed}

type Lead struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Company     string `json:"company"`
	Value       int64  `json:"value" minimum:"0"`
	Stage       Stage  `json:"stage" enum:"intake,qualified,proposal,negotiation,closed"`
	Probability int    `json:"probability" minimum:"0" maximum:"100"`
	Notes       string `json:"notes,omitempty"`

	// Set only as a side effect of entering the qualified stage.
	QualificationScore   *int    `json:"qualification_score,omitempty"`
	QualificationSummary *string `json:"qualification_summary,omitempty"`

	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// AuditStatus classifies the outcome of an attempted action.
type AuditStatus string

const (
	StatusSuccess AuditStatus = "success"
	StatusFailed  AuditStatus = "failed"
	StatusDenied  AuditStatus = "denied"
)

// AuditSeverity is an advisory classification of an action's sensitivity,
// independent of its outcome.
type AuditSeverity string

const (
	SeverityLow    AuditSeverity = "low"
	SeverityMedium AuditSeverity = "medium"
	SeverityHigh   AuditSeverity = "high"
)

// AuditEntry is an immutable record of one attempted action. Entries are
// written only by the command processor and the lifecycle state machine.
type AuditEntry struct {
	ID        string        `json:"id"`
	Timestamp string        `json:"timestamp" format:"date-time"`
	Actor     string        `json:"actor"`
	Action    string        `json:"action"`
	Status    AuditStatus   `json:"status" enum:"success,failed,denied"`
	Severity  AuditSeverity `json:"severity" enum:"low,medium,high"`
	Details   string        `json:"details,omitempty"`
}

// EnvelopeKind distinguishes the payload shape of a command response.
type EnvelopeKind string

const (
	EnvelopeText      EnvelopeKind = "text"
	EnvelopeAggregate EnvelopeKind = "aggregate"
	EnvelopeAnalysis  EnvelopeKind = "analysis"
)

// ResponseEnvelope is the transient result of one processed command.
// It is never persisted.
type ResponseEnvelope struct {
	Kind    EnvelopeKind `json:"kind" enum:"text,aggregate,analysis"`
	Text    string       `json:"text"`
	Payload any          `json:"payload,omitempty"`
}

// QualificationReport is the BANT-style output of the qualification scorer.
type QualificationReport struct {
	Score      int           `json:"score" minimum:"0" maximum:"100"`
	Summary    string        `json:"summary"`
	Strengths  []string      `json:"strengths,omitempty"`
	Weaknesses []string      `json:"weaknesses,omitempty"`
	BANT       BANTBreakdown `json:"bant"`
}

type BANTBreakdown struct {
	Budget    int `json:"budget" minimum:"0" maximum:"100"`
	Authority int `json:"authority" minimum:"0" maximum:"100"`
	Need      int `json:"need" minimum:"0" maximum:"100"`
	Timeline  int `json:"timeline" minimum:"0" maximum:"100"`
}

// NextStage returns the stage one step forward, or the same stage and false
// when s is terminal or unknown.
func NextStage(s Stage) (Stage, bool) {
	for i, cur := range StageOrder {
		if cur == s && i+1 < len(StageOrder) {
			return StageOrder[i+1], true
		}
	}
	return s, false
}

// ParseStage maps a string onto a known stage.
func ParseStage(s string) (Stage, bool) {
	for _, cur := range StageOrder {
		if string(cur) == s {
			return cur, true
		}
	}
	return "", false
}

// ParseRole maps a string onto a known role.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin, RoleManager, RoleSales, RoleViewer:
		return Role(s), true
	}
	return "", false
}
