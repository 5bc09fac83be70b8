package generate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nebelbild/data-analysis/pkg/domain"
	"github.com/nebelbild/data-analysis/pkg/model"
)

// ReviewGenerator judges whether an execution actually answered its task.
type ReviewGenerator struct {
	gateway model.Gateway
	model   string
}

// NewReviewGenerator creates a ReviewGenerator bound to the given model.
func NewReviewGenerator(gateway model.Gateway, modelName string) *ReviewGenerator {
	return &ReviewGenerator{gateway: gateway, model: modelName}
}

// Generate reviews the given execution. Image results are attached to the
// prompt so the model can see the figures, not just read about them.
func (g *ReviewGenerator) Generate(ctx context.Context, dataInfo, userRequest string, thread *domain.DataThread) (*domain.Review, error) {
	system, err := renderPrompt("review.md.tmpl", dataInfo)
	if err != nil {
		return nil, err
	}

	messages := []model.Message{
		{Role: domain.RoleSystem, Text: system},
		{Role: domain.RoleUser, Text: userRequest},
		{Role: domain.RoleAssistant, Text: thread.Code},
	}

	for _, result := range thread.Results {
		switch result.Type {
		case domain.ResultImage:
			messages = append(messages, model.Message{Role: domain.RoleUser, ImageData: result.Data})
		case domain.ResultText:
			messages = append(messages, model.Message{Role: domain.RoleUser, Text: result.Data})
		}
	}

	messages = append(messages,
		model.Message{Role: domain.RoleSystem, Text: "stdout: " + thread.Stdout},
		model.Message{Role: domain.RoleSystem, Text: "stderr: " + thread.Stderr},
	)
	if thread.Error != "" {
		messages = append(messages, model.Message{Role: domain.RoleSystem, Text: "error: " + thread.Error})
	}
	messages = append(messages, model.Message{
		Role: domain.RoleUser,
		Text: "Provide your review of this execution.",
	})

	content, err := g.gateway.Generate(ctx, g.model, messages, reviewSchema)
	if err != nil {
		return nil, fmt.Errorf("generating review: %w", err)
	}

	var review domain.Review
	if err := json.Unmarshal([]byte(content), &review); err != nil {
		return nil, fmt.Errorf("decoding review response: %w", err)
	}
	return &review, nil
}
