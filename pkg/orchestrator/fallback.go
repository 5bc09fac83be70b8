package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/nebelbild/data-analysis/pkg/dataset"
	"github.com/nebelbild/data-analysis/pkg/domain"
	"github.com/nebelbild/data-analysis/pkg/report"
	"github.com/nebelbild/data-analysis/pkg/sandbox"
)

// fallbackChartCode draws basic exploratory charts straight from the
// dataframe, bypassing code generation entirely. It only assumes the df
// binding and the figure-capture helper that composeCode provides.
const fallbackChartCode = `
numeric = df.select_dtypes(include='number')
if numeric.shape[1] > 0:
    numeric.hist(bins=20, figsize=(10, 8))
    capture_current_figure()
if numeric.shape[1] > 1:
    import seaborn as sns
    plt.figure(figsize=(8, 6))
    sns.heatmap(numeric.corr(), annot=True, cmap='coolwarm', fmt='.2f')
    plt.title('Correlation Matrix')
    capture_current_figure()
    cols = list(numeric.columns[:2])
    plt.figure(figsize=(8, 6))
    plt.scatter(numeric[cols[0]], numeric[cols[1]], alpha=0.6)
    plt.xlabel(cols[0])
    plt.ylabel(cols[1])
    plt.title(f'{cols[0]} vs {cols[1]}')
    capture_current_figure()
print(df.describe().to_string())
`

// runFallback performs the deterministic built-in analysis used when every
// generated task failed: basic charts through the interpreter plus a
// statistics summary computed directly from the file. The charts are
// best-effort; the statistics report is what the fallback guarantees.
func (o *Orchestrator) runFallback(ctx context.Context, sess sandbox.Session, h *runHandle, resolved, dataPath, request, outputDir string) (*domain.DataThread, string, error) {
	summary, err := dataset.Summarize(resolved)
	if err != nil {
		return nil, "", fmt.Errorf("summarizing dataset: %w", err)
	}

	code := composeCode(dataPath, fallbackChartCode)
	processID := fmt.Sprintf("%s_%d_fallback", h.sessionID, h.threadID)

	var thread *domain.DataThread
	res, execErr := sess.Execute(ctx, code, o.cfg.ExecTimeout)
	if execErr == nil {
		thread = sandbox.Thread(res, processID, h.threadID, code, request)
		o.saveArtifacts(thread, outputDir)
	}

	var figures []string
	if thread != nil {
		for _, p := range thread.SavedPaths["images"] {
			figures = append(figures, filepath.Base(p))
		}
	}
	return thread, report.Fallback(request, summary, figures), nil
}
