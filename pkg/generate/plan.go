// Package generate holds the four LLM-backed use cases of the analysis
// pipeline: plan, code, review and report generation. Each is a thin prompt
// construction + gateway call + response decode unit; pipeline policy (task
// ordering, self-correction, fallbacks) lives in the orchestrator.
package generate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nebelbild/data-analysis/pkg/domain"
	"github.com/nebelbild/data-analysis/pkg/model"
)

// PlanGenerator produces the ordered task list for a run.
type PlanGenerator struct {
	gateway model.Gateway
	model   string
}

// NewPlanGenerator creates a PlanGenerator bound to the given model.
func NewPlanGenerator(gateway model.Gateway, modelName string) *PlanGenerator {
	return &PlanGenerator{gateway: gateway, model: modelName}
}

// Generate asks the model for an analysis plan. The returned plan may be
// empty; callers decide how to handle that.
func (g *PlanGenerator) Generate(ctx context.Context, dataInfo, userRequest string) (*domain.Plan, error) {
	system, err := renderPrompt("plan.md.tmpl", dataInfo)
	if err != nil {
		return nil, err
	}

	messages := []model.Message{
		{Role: domain.RoleSystem, Text: system},
		{Role: domain.RoleUser, Text: "Task request: " + userRequest},
	}

	content, err := g.gateway.Generate(ctx, g.model, messages, planSchema)
	if err != nil {
		return nil, fmt.Errorf("generating plan: %w", err)
	}

	var plan domain.Plan
	if err := json.Unmarshal([]byte(content), &plan); err != nil {
		return nil, fmt.Errorf("decoding plan response: %w", err)
	}
	return &plan, nil
}
