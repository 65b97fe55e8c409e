package server

import "dealdesk/internal/domain"

type CommandRequest struct {
	Text string `json:"text" example:"create a lead for ACME worth 50000"`
}

type CommandResponse struct {
	Kind    domain.EnvelopeKind `json:"kind" enum:"text,aggregate,analysis"`
	Text    string              `json:"text"`
	Payload any                 `json:"payload,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type CreateLeadRequest struct {
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Value   int64  `json:"value,omitempty" minimum:"0"`
	Notes   string `json:"notes,omitempty"`
}

type PipelineResponse struct {
	Stages []PipelineStage `json:"stages"`
	Total  int             `json:"total"`
}

type PipelineStage struct {
	Stage domain.Stage `json:"stage"`
	Count int          `json:"count"`
}

func commandResponse(env domain.ResponseEnvelope) CommandResponse {
	return CommandResponse{Kind: env.Kind, Text: env.Text, Payload: env.Payload}
}

func pipelineResponse(counts map[domain.Stage]int) PipelineResponse {
	resp := PipelineResponse{Stages: []PipelineStage{}}
	for _, s := range domain.StageOrder {
		resp.Stages = append(resp.Stages, PipelineStage{Stage: s, Count: counts[s]})
		resp.Total += counts[s]
	}
	return resp
}
