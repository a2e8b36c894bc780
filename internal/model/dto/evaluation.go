package dto

import (
	"time"

	"LegacyVault/internal/model"
)

type ScheduleRequest struct {
	Frequency model.EvaluationFrequency `json:"frequency"`
	Enabled   *bool                     `json:"enabled,omitempty"`
}

type EnabledRequest struct {
	Enabled bool `json:"enabled"`
}

type TriggerRequest struct {
	ID      string           `json:"id,omitempty"`
	Name    string           `json:"name"`
	Kind    model.RuleKind   `json:"kind"`
	Params  model.RuleParams `json:"params"`
	Enabled *bool            `json:"enabled,omitempty"`
}

type SignalRequest struct {
	Type       model.SignalType `json:"type"`
	Source     string           `json:"source"`
	Confidence float64          `json:"confidence"`
	ObservedAt time.Time        `json:"observed_at"`
}

type EvaluationData struct {
	Results        []model.TriggerEvaluationResult `json:"results"`
	HighConfidence []model.TriggerEvaluationResult `json:"high_confidence"`
}
