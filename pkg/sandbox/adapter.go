package sandbox

import (
	"strings"

	"github.com/nebelbild/data-analysis/pkg/domain"
)

// Thread converts a raw execution result into a DataThread. The transform is
// total: any result shape the interpreter can emit maps to a defined thread,
// with entries that cannot be classified silently dropped. It never panics,
// including on a nil result (which yields an empty thread for the code).
func Thread(res *ExecResult, processID string, threadID int, code, userRequest string) *domain.DataThread {
	thread := &domain.DataThread{
		ProcessID:   processID,
		ThreadID:    threadID,
		UserRequest: userRequest,
		Code:        code,
	}
	if res == nil {
		return thread
	}

	thread.ID = res.ExecutionCount
	thread.Stdout = strings.TrimSpace(strings.Join(res.Stdout, ""))
	thread.Stderr = strings.TrimSpace(strings.Join(res.Stderr, ""))
	if res.Err != nil {
		thread.Error = res.Err.Traceback
		if thread.Error == "" {
			thread.Error = strings.TrimSpace(res.Err.Name + ": " + res.Err.Value)
		}
	}

	for _, raw := range res.Results {
		if result, ok := classify(raw); ok {
			thread.Results = append(thread.Results, result)
		}
	}
	return thread
}

// classify maps one raw payload onto the two-kind result shape. Figures carry
// base64 PNG bytes; every other known payload becomes text.
func classify(raw RawResult) (domain.Result, bool) {
	switch raw.Kind {
	case "png", "image":
		if raw.Content == "" {
			return domain.Result{}, false
		}
		return domain.Result{Type: domain.ResultImage, Data: strings.TrimSpace(raw.Content)}, true
	case "raw", "text":
		return domain.Result{Type: domain.ResultText, Data: raw.Content}, true
	default:
		return domain.Result{}, false
	}
}
