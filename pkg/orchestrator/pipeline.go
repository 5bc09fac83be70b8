package orchestrator

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nebelbild/data-analysis/pkg/dataset"
	"github.com/nebelbild/data-analysis/pkg/domain"
	"github.com/nebelbild/data-analysis/pkg/report"
	"github.com/nebelbild/data-analysis/pkg/sandbox"
)

// completedCopies is how many times the terminal completed message is
// queued, so a poller that drops a message still observes completion.
const completedCopies = 3

// capturePreamble makes the figure-capture helper available even when the
// session initialization did not define it (local or mocked interpreters).
const capturePreamble = `
if 'capture_current_figure' not in dir():
    import io as _io
    import matplotlib
    matplotlib.use('Agg')
    import matplotlib.pyplot as plt
    from IPython.display import display as _display, Image as _Image
    def capture_current_figure():
        _buf = _io.BytesIO()
        plt.savefig(_buf, format='png', dpi=100, bbox_inches='tight')
        _buf.seek(0)
        _display(_Image(_buf.getvalue()))
        _buf.close()
        plt.close()
`

// run executes one full pipeline on its own goroutine. All failures are
// converted to a terminal error status; nothing escapes to the caller of
// Start or Poll.
func (o *Orchestrator) run(h *runHandle, request, filePath string, temporary bool) {
	ctx := context.Background()
	runID := uuid.New().String()

	defer func() {
		if r := recover(); r != nil {
			o.fail(h, runID, fmt.Errorf("internal error: %v", r))
		}
		// Keep the alive marker briefly so a poll racing the finish still
		// sees consistent state.
		time.Sleep(o.cfg.GraceDelay)
		o.registry.release(h)
		close(h.job.done)
	}()

	// Validate the data file before touching the model or the sandbox.
	resolved := ""
	if filePath != "" {
		var err error
		resolved, err = validatePath(filePath, o.cfg.AllowedDirs, o.cfg.TempRoot, temporary)
		if err != nil {
			o.fail(h, "", err)
			return
		}
	}

	dataInfo, err := dataset.Describe(resolved)
	if err != nil {
		o.fail(h, "", fmt.Errorf("reading dataset: %w", err))
		return
	}

	outputDir := filepath.Join(o.cfg.OutputRoot, h.sessionID, time.Now().Format("20060102_150405"))
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		o.fail(h, "", fmt.Errorf("creating output directory: %w", err))
		return
	}

	o.recordRunStart(ctx, runID, h.sessionID, request, resolved, outputDir)

	plan, err := o.planner.Generate(ctx, dataInfo, request)
	if err != nil {
		o.fail(h, runID, fmt.Errorf("planning analysis: %w", err))
		return
	}
	if len(plan.Tasks) == 0 {
		// Never dead-end with zero tasks.
		plan.Tasks = []domain.Task{{Description: request}}
	}

	sess, err := o.factory.Create(ctx, o.cfg.CreateTimeout)
	if err != nil {
		o.fail(h, runID, fmt.Errorf("starting sandbox: %w", err))
		return
	}
	defer sess.Kill()

	dataPath := o.stageDataFile(ctx, sess, resolved)

	total := len(plan.Tasks)
	threads := make([]domain.DataThread, 0, total)
	for i, task := range plan.Tasks {
		o.registry.push(h, domain.StatusMessage{
			Status:  domain.StatusProgress,
			Step:    i + 1,
			Total:   total,
			Message: progressMessage(task),
		})

		program, err := o.coder.Generate(ctx, dataInfo, taskPrompt(task), previousThreads(threads, o.cfg.ContextWindow))
		if err != nil {
			o.fail(h, runID, fmt.Errorf("generating code for step %d: %w", i+1, err))
			return
		}

		code := composeCode(dataPath, program.Code)
		processID := fmt.Sprintf("%s_%d_task_%d", h.sessionID, h.threadID, i)

		res, execErr := sess.Execute(ctx, code, o.cfg.ExecTimeout)
		thread := sandbox.Thread(res, processID, h.threadID, code, request)
		if execErr != nil && thread.Error == "" {
			thread.Error = execErr.Error()
		}

		o.saveArtifacts(thread, outputDir)
		threads = append(threads, *thread)
		o.recordThread(ctx, runID, thread)
	}

	last := &threads[len(threads)-1]
	review, err := o.reviewer.Generate(ctx, dataInfo, request, last)
	if err != nil {
		o.fail(h, runID, fmt.Errorf("reviewing execution: %w", err))
		return
	}
	last.Observation = review.Observation

	var markdown string
	if allFailed(threads) && resolved != "" {
		thread, md, err := o.runFallback(ctx, sess, h, resolved, dataPath, request, outputDir)
		if err != nil {
			o.fail(h, runID, fmt.Errorf("fallback analysis: %w", err))
			return
		}
		if thread != nil {
			threads = append(threads, *thread)
			o.recordThread(ctx, runID, thread)
		}
		markdown = md
	} else {
		markdown, err = o.reporter.Generate(ctx, dataInfo, request, threads)
		if err != nil {
			o.fail(h, runID, fmt.Errorf("generating report: %w", err))
			return
		}
	}

	mdPath, htmlPath, err := report.Write(markdown, outputDir)
	if err != nil {
		o.fail(h, runID, fmt.Errorf("writing report: %w", err))
		return
	}

	result := &domain.RunResult{
		Plan:       plan,
		Execution:  &threads[len(threads)-1],
		Executions: threads,
		Report: &domain.ReportRef{
			Markdown:  mdPath,
			HTMLPath:  htmlPath,
			OutputDir: outputDir,
		},
	}
	done := domain.StatusMessage{
		Status:    domain.StatusCompleted,
		Step:      total,
		Total:     total,
		Result:    result,
		OutputDir: outputDir,
	}
	for range completedCopies {
		o.registry.push(h, done)
	}
	o.recordRunEnd(ctx, runID, domain.StatusCompleted, "")
	slog.Info("Analysis run completed", "session", h.sessionID, "run", runID, "tasks", total)
}

// fail queues a terminal error status. If the queue is gone (session torn
// down or restarted) the failure goes to the process log instead of being
// lost.
func (o *Orchestrator) fail(h *runHandle, runID string, err error) {
	delivered := o.registry.push(h, domain.StatusMessage{
		Status: domain.StatusError,
		Error:  err.Error(),
	})
	if !delivered {
		slog.Error("Undeliverable run failure", "session", h.sessionID, "run", runID, "error", err)
	}
	if runID != "" {
		o.recordRunEnd(context.Background(), runID, domain.StatusError, err.Error())
	}
}

// stageDataFile uploads the dataset into the session and returns the path
// the generated code should read. If the upload fails the host path is used
// instead, which keeps local interpreters working.
func (o *Orchestrator) stageDataFile(ctx context.Context, sess sandbox.Session, resolved string) string {
	if resolved == "" {
		return ""
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		slog.Warn("Reading data file for upload failed", "file", resolved, "error", err)
		return resolved
	}
	if err := sess.Upload(ctx, resolved, data); err != nil {
		slog.Warn("Uploading data file to sandbox failed", "file", resolved, "error", err)
		return resolved
	}
	return path.Join(sandbox.DataDir, filepath.Base(resolved))
}

// composeCode prepends the deterministic setup to generated code: the data
// loading preamble binding df, and the figure-capture helper.
func composeCode(dataPath, code string) string {
	var b strings.Builder
	b.WriteString(capturePreamble)
	if dataPath != "" {
		b.WriteString("\nimport pandas as pd\n")
		if strings.EqualFold(filepath.Ext(dataPath), ".tsv") {
			fmt.Fprintf(&b, "df = pd.read_csv(%q, sep='\\t')\n", dataPath)
		} else {
			fmt.Fprintf(&b, "df = pd.read_csv(%q)\n", dataPath)
		}
	}
	b.WriteString("\n")
	b.WriteString(code)
	return b.String()
}

// taskPrompt flattens a planned task into the prompt handed to the code
// generator.
func taskPrompt(t domain.Task) string {
	var parts []string
	if t.Hypothesis != "" {
		parts = append(parts, "Hypothesis: "+t.Hypothesis)
	}
	if t.Purpose != "" {
		parts = append(parts, "Purpose: "+t.Purpose)
	}
	if t.Description != "" {
		parts = append(parts, "Approach: "+t.Description)
	}
	if t.ChartType != "" && t.ChartType != "auto" {
		parts = append(parts, "Chart type: "+t.ChartType)
	}
	return strings.Join(parts, "\n")
}

func progressMessage(t domain.Task) string {
	if t.Purpose != "" {
		return t.Purpose
	}
	return t.Description
}

// previousThreads returns up to window trailing threads as self-correction
// context for the next generation call.
func previousThreads(threads []domain.DataThread, window int) []*domain.DataThread {
	if window > len(threads) {
		window = len(threads)
	}
	prev := make([]*domain.DataThread, 0, window)
	for i := len(threads) - window; i < len(threads); i++ {
		prev = append(prev, &threads[i])
	}
	return prev
}

func allFailed(threads []domain.DataThread) bool {
	for i := range threads {
		if !threads[i].Failed() {
			return false
		}
	}
	return len(threads) > 0
}

// saveArtifacts writes the thread's image results into the run's output
// directory under deterministic names, so re-persisting the same thread
// overwrites rather than duplicates. Individual write failures are logged
// and skipped.
func (o *Orchestrator) saveArtifacts(t *domain.DataThread, outputDir string) {
	var saved []string
	n := 0
	for _, res := range t.Results {
		if res.Type != domain.ResultImage {
			continue
		}
		name := fmt.Sprintf("%s_%d_%d.png", t.ProcessID, t.ThreadID, n)
		n++

		raw, err := base64.StdEncoding.DecodeString(res.Data)
		if err != nil {
			slog.Warn("Skipping undecodable image result", "process", t.ProcessID, "error", err)
			continue
		}
		full := filepath.Join(outputDir, name)
		if err := os.WriteFile(full, raw, 0o644); err != nil {
			slog.Warn("Writing artifact failed", "path", full, "error", err)
			continue
		}
		saved = append(saved, full)
	}
	if len(saved) > 0 {
		t.SavedPaths = map[string][]string{"images": saved}
	}
}

func (o *Orchestrator) recordRunStart(ctx context.Context, runID, sessionID, request, filePath, outputDir string) {
	if o.runs == nil {
		return
	}
	err := o.runs.CreateRun(ctx, &domain.Run{
		ID:        runID,
		SessionID: sessionID,
		Request:   request,
		FilePath:  filePath,
		OutputDir: outputDir,
		Status:    domain.StatusRunning,
		StartedAt: time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("Recording run failed", "run", runID, "error", err)
	}
}

func (o *Orchestrator) recordRunEnd(ctx context.Context, runID, status, errMsg string) {
	if o.runs == nil {
		return
	}
	if err := o.runs.FinishRun(ctx, runID, status, errMsg); err != nil {
		slog.Warn("Recording run end failed", "run", runID, "error", err)
	}
}

func (o *Orchestrator) recordThread(ctx context.Context, runID string, t *domain.DataThread) {
	if o.runs == nil {
		return
	}
	if err := o.runs.AppendThread(ctx, runID, t); err != nil {
		slog.Warn("Recording thread failed", "run", runID, "error", err)
	}
}
