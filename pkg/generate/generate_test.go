package generate

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/nebelbild/data-analysis/pkg/domain"
	"github.com/nebelbild/data-analysis/pkg/model"
)

// recordingGateway captures the call and answers with a fixed response.
type recordingGateway struct {
	response string
	err      error

	modelName string
	messages  []model.Message
	schema    *model.Schema
}

func (g *recordingGateway) Generate(_ context.Context, modelName string, messages []model.Message, schema *model.Schema) (string, error) {
	g.modelName = modelName
	g.messages = messages
	g.schema = schema
	return g.response, g.err
}

func (g *recordingGateway) Stream(context.Context, string, []model.Message) (model.Stream, error) {
	return nil, fmt.Errorf("not supported")
}

func (g *recordingGateway) List(context.Context) ([]domain.Model, error) {
	return nil, nil
}

func TestPlanGenerator(t *testing.T) {
	gw := &recordingGateway{response: `{"tasks":[{"hypothesis":"h1","purpose":"p1","description":"d1","chart_type":"bar"}]}`}
	gen := NewPlanGenerator(gw, "plan-model")

	plan, err := gen.Generate(context.Background(), "File: x.csv", "find trends")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if len(plan.Tasks) != 1 || plan.Tasks[0].ChartType != "bar" {
		t.Errorf("plan = %+v", plan)
	}

	if gw.modelName != "plan-model" {
		t.Errorf("model = %q", gw.modelName)
	}
	if gw.schema == nil || gw.schema.Properties["tasks"] == nil {
		t.Error("plan call must carry the plan schema")
	}
	if len(gw.messages) != 2 || gw.messages[0].Role != domain.RoleSystem {
		t.Fatalf("messages = %+v", gw.messages)
	}
	if !strings.Contains(gw.messages[0].Text, "File: x.csv") {
		t.Error("system prompt should embed the data description")
	}
	if gw.messages[1].Text != "Task request: find trends" {
		t.Errorf("user turn = %q", gw.messages[1].Text)
	}
}

func TestPlanGeneratorMalformedResponse(t *testing.T) {
	gw := &recordingGateway{response: "not json"}
	gen := NewPlanGenerator(gw, "m")
	if _, err := gen.Generate(context.Background(), "d", "r"); err == nil {
		t.Fatal("malformed response should fail")
	}
}

func TestCodeGeneratorSelfCorrectionContext(t *testing.T) {
	gw := &recordingGateway{response: `{"code":"print(2)","outline":"o","success_criteria":"s"}`}
	gen := NewCodeGenerator(gw, "code-model")

	previous := &domain.DataThread{
		Code:        "print(1)",
		Stdout:      "1",
		Error:       "NameError: x",
		Observation: "variable x was never defined",
	}
	program, err := gen.Generate(context.Background(), "data", "task", []*domain.DataThread{previous})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if program.Code != "print(2)" {
		t.Errorf("program = %+v", program)
	}

	var roles []domain.Role
	for _, m := range gw.messages {
		roles = append(roles, m.Role)
	}
	// system prompt, task, then code/stdout/error/observation replay.
	want := []domain.Role{
		domain.RoleSystem, domain.RoleUser,
		domain.RoleAssistant, domain.RoleSystem, domain.RoleSystem, domain.RoleUser,
	}
	if len(roles) != len(want) {
		t.Fatalf("roles = %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("roles = %v, want %v", roles, want)
		}
	}
	last := gw.messages[len(gw.messages)-1].Text
	if !strings.Contains(last, "variable x was never defined") {
		t.Errorf("observation missing from correction turn: %q", last)
	}
}

func TestReviewGeneratorAttachesResults(t *testing.T) {
	gw := &recordingGateway{response: `{"observation":"chart looks right","is_completed":true}`}
	gen := NewReviewGenerator(gw, "review-model")

	thread := &domain.DataThread{
		Code:   "plot()",
		Stdout: "done",
		Results: []domain.Result{
			{Type: domain.ResultImage, Data: "aW1n"},
			{Type: domain.ResultText, Data: "shape: (3, 2)"},
		},
	}
	review, err := gen.Generate(context.Background(), "data", "request", thread)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if review.Observation != "chart looks right" || !review.IsCompleted {
		t.Errorf("review = %+v", review)
	}

	var sawImage bool
	for _, m := range gw.messages {
		if m.ImageData == "aW1n" {
			sawImage = true
		}
	}
	if !sawImage {
		t.Error("image result should be attached to the review conversation")
	}
}

func TestReportGeneratorStripsFence(t *testing.T) {
	gw := &recordingGateway{response: "```markdown\n# Report\n\nbody\n```"}
	gen := NewReportGenerator(gw, "report-model")

	md, err := gen.Generate(context.Background(), "data", "request", nil)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if md != "# Report\n\nbody" {
		t.Errorf("markdown = %q, fence should be stripped", md)
	}
	if gw.schema != nil {
		t.Error("report call must be unstructured")
	}
}

func TestReportGeneratorAppendsMissingImages(t *testing.T) {
	gw := &recordingGateway{response: "# Report\n\n![first](s1_1_0.png)\n"}
	gen := NewReportGenerator(gw, "m")

	threads := []domain.DataThread{
		{SavedPaths: map[string][]string{"images": {
			"/out/s1_1_0.png",
			"/out/s1_1_1.png",
		}}},
	}
	md, err := gen.Generate(context.Background(), "data", "request", threads)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if strings.Count(md, "s1_1_0.png") != 1 {
		t.Error("referenced image should not be duplicated")
	}
	if !strings.Contains(md, "## Additional figures") || !strings.Contains(md, "![s1_1_1.png](s1_1_1.png)") {
		t.Errorf("unreferenced image should be appended:\n%s", md)
	}
}

func TestRenderPromptUnknownTemplate(t *testing.T) {
	if _, err := renderPrompt("nope.md.tmpl", "x"); err == nil {
		t.Fatal("unknown template should fail")
	}
}
