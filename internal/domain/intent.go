package domain

// IntentKind tags the action classified from free-text input.
type IntentKind string

const (
	IntentCreateLead    IntentKind = "CREATE_LEAD"
	IntentUpdateLead    IntentKind = "UPDATE_LEAD"
	IntentDeleteLead    IntentKind = "DELETE_LEAD"
	IntentQueryPipeline IntentKind = "QUERY_PIPELINE"
	IntentAnalyzeLead   IntentKind = "ANALYZE_LEAD"
	IntentSystemStatus  IntentKind = "SYSTEM_STATUS"
	IntentUnrecognized  IntentKind = "UNRECOGNIZED"
)

// IntentKinds lists every kind the policy table must cover.
var IntentKinds = []IntentKind{
	IntentCreateLead,
	IntentUpdateLead,
	IntentDeleteLead,
	IntentQueryPipeline,
	IntentAnalyzeLead,
	IntentSystemStatus,
	IntentUnrecognized,
}

// UpdatableField names a lead field a command may mutate. Anything else is
// rejected with an explicit validation failure.
type UpdatableField string

const (
	FieldValue       UpdatableField = "value"
	FieldStage       UpdatableField = "stage"
	FieldProbability UpdatableField = "probability"
)

// CreateLeadPayload carries the fields for a new lead.
type CreateLeadPayload struct {
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Value   int64  `json:"value,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// UpdateLeadPayload names the subject, the field and its new value.
type UpdateLeadPayload struct {
	Subject  string         `json:"subject"`
	Field    UpdatableField `json:"field"`
	NewValue string         `json:"new_value"`
}

// SubjectPayload carries only a textual subject reference.
type SubjectPayload struct {
	Subject string `json:"subject"`
}

// Interpretation is the tagged union the oracle adapter produces. Exactly
// one payload pointer is set, matching Kind; read-only kinds carry none.
type Interpretation struct {
	Kind    IntentKind
	Create  *CreateLeadPayload
	Update  *UpdateLeadPayload
	Subject *SubjectPayload
	Reply   string
}
