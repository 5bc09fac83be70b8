package generate

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nebelbild/data-analysis/pkg/domain"
	"github.com/nebelbild/data-analysis/pkg/model"
)

const (
	// maxReportThreads caps how many executions are replayed into the report
	// prompt; very long runs would otherwise blow the context window.
	maxReportThreads = 5

	// maxDataInfoLen truncates oversized data descriptions in the prompt.
	maxDataInfoLen = 10000
)

// ReportGenerator synthesizes the final Markdown report from all executions.
type ReportGenerator struct {
	gateway model.Gateway
	model   string
}

// NewReportGenerator creates a ReportGenerator bound to the given model.
func NewReportGenerator(gateway model.Gateway, modelName string) *ReportGenerator {
	return &ReportGenerator{gateway: gateway, model: modelName}
}

// Generate returns the report as Markdown. Figures the model neglected to
// reference are appended at the end so no persisted chart goes missing from
// the rendered report.
func (g *ReportGenerator) Generate(ctx context.Context, dataInfo, userRequest string, threads []domain.DataThread) (string, error) {
	if len(dataInfo) > maxDataInfoLen {
		dataInfo = dataInfo[:maxDataInfoLen] + "...(truncated)"
	}

	system, err := renderPrompt("report.md.tmpl", dataInfo)
	if err != nil {
		return "", err
	}

	messages := []model.Message{
		{Role: domain.RoleSystem, Text: system},
		{Role: domain.RoleUser, Text: "Task request: " + userRequest},
	}

	shown := threads
	if len(shown) > maxReportThreads {
		shown = shown[:maxReportThreads]
	}
	for i, thread := range shown {
		text := threadSummary(&thread)
		if strings.TrimSpace(text) == "" {
			continue
		}
		messages = append(messages, model.Message{
			Role: domain.RoleUser,
			Text: fmt.Sprintf("Execution result %d:\n%s", i+1, text),
		})
	}

	content, err := g.gateway.Generate(ctx, g.model, messages, nil)
	if err != nil {
		return "", fmt.Errorf("generating report: %w", err)
	}

	markdown := stripMarkdownFence(content)
	return appendMissingImages(markdown, threads), nil
}

func threadSummary(thread *domain.DataThread) string {
	var b strings.Builder
	fmt.Fprintf(&b, "instruction: %s\n", thread.UserRequest)
	fmt.Fprintf(&b, "stdout: %s\n", thread.Stdout)
	if thread.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", thread.Error)
	}
	if thread.Observation != "" {
		fmt.Fprintf(&b, "observation: %s\n", thread.Observation)
	}
	for _, path := range thread.SavedPaths["images"] {
		fmt.Fprintf(&b, "figure file: %s\n", filepath.Base(path))
	}
	return b.String()
}

// stripMarkdownFence removes a surrounding ```markdown fence if the model
// wrapped its answer in one. Inner fences (code samples) are left alone.
func stripMarkdownFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```markdown") || !strings.HasSuffix(trimmed, "```") {
		return content
	}
	trimmed = strings.TrimPrefix(trimmed, "```markdown")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

// appendMissingImages adds image references for persisted figures the model
// did not mention, so the rendered report always shows every chart.
func appendMissingImages(markdown string, threads []domain.DataThread) string {
	var missing []string
	for _, thread := range threads {
		for _, path := range thread.SavedPaths["images"] {
			name := filepath.Base(path)
			if !strings.Contains(markdown, name) {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) == 0 {
		return markdown
	}

	var b strings.Builder
	b.WriteString(markdown)
	b.WriteString("\n\n## Additional figures\n")
	for _, name := range missing {
		fmt.Fprintf(&b, "\n![%s](%s)\n", name, name)
	}
	return b.String()
}
