package generate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nebelbild/data-analysis/pkg/domain"
	"github.com/nebelbild/data-analysis/pkg/model"
)

// CodeGenerator produces executable code for one analysis task. Prior
// executions can be threaded in as self-correction context: their code,
// output and review observation are replayed into the conversation so the
// model can repair earlier mistakes.
type CodeGenerator struct {
	gateway model.Gateway
	model   string
}

// NewCodeGenerator creates a CodeGenerator bound to the given model.
func NewCodeGenerator(gateway model.Gateway, modelName string) *CodeGenerator {
	return &CodeGenerator{gateway: gateway, model: modelName}
}

// Generate asks the model for a program addressing taskPrompt. previous holds
// earlier task executions, oldest first; pass nil for the first task.
func (g *CodeGenerator) Generate(ctx context.Context, dataInfo, taskPrompt string, previous []*domain.DataThread) (*domain.Program, error) {
	system, err := renderPrompt("code.md.tmpl", dataInfo)
	if err != nil {
		return nil, err
	}

	messages := []model.Message{
		{Role: domain.RoleSystem, Text: system},
		{Role: domain.RoleUser, Text: "Task request: " + taskPrompt},
	}
	for _, thread := range previous {
		messages = appendThreadContext(messages, thread)
	}

	content, err := g.gateway.Generate(ctx, g.model, messages, programSchema)
	if err != nil {
		return nil, fmt.Errorf("generating code: %w", err)
	}

	var program domain.Program
	if err := json.Unmarshal([]byte(content), &program); err != nil {
		return nil, fmt.Errorf("decoding code response: %w", err)
	}
	return &program, nil
}

// appendThreadContext replays one earlier execution into the conversation:
// the code as an assistant turn, its output as system turns, and the review
// observation as a user correction request.
func appendThreadContext(messages []model.Message, thread *domain.DataThread) []model.Message {
	if thread == nil {
		return messages
	}
	if thread.Code != "" {
		messages = append(messages, model.Message{Role: domain.RoleAssistant, Text: thread.Code})
	}
	if thread.Stdout != "" {
		messages = append(messages, model.Message{Role: domain.RoleSystem, Text: "stdout: " + thread.Stdout})
	}
	if thread.Stderr != "" {
		messages = append(messages, model.Message{Role: domain.RoleSystem, Text: "stderr: " + thread.Stderr})
	}
	if thread.Error != "" {
		messages = append(messages, model.Message{Role: domain.RoleSystem, Text: "error: " + thread.Error})
	}
	if thread.Observation != "" {
		messages = append(messages, model.Message{
			Role: domain.RoleUser,
			Text: "Taking this review into account, regenerate code that satisfies the request: " + thread.Observation,
		})
	}
	return messages
}
