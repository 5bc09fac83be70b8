package jupyter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nebelbild/data-analysis/pkg/sandbox"
)

func message(msgType string, content any) *wireMessage {
	raw, _ := json.Marshal(content)
	return &wireMessage{
		Header:  header{MsgType: msgType},
		Content: raw,
	}
}

func TestCollectStream(t *testing.T) {
	result := &sandbox.ExecResult{}

	collect(result, message("stream", streamContent{Name: "stdout", Text: "hello\n"}))
	collect(result, message("stream", streamContent{Name: "stderr", Text: "warning\n"}))
	collect(result, message("stream", streamContent{Name: "stdout", Text: "world\n"}))

	if len(result.Stdout) != 2 || result.Stdout[0] != "hello\n" {
		t.Errorf("Stdout = %v", result.Stdout)
	}
	if len(result.Stderr) != 1 || result.Stderr[0] != "warning\n" {
		t.Errorf("Stderr = %v", result.Stderr)
	}
}

func TestCollectDisplayData(t *testing.T) {
	result := &sandbox.ExecResult{}

	collect(result, message("display_data", displayContent{
		Data: map[string]any{"image/png": "aWltYWdl"},
	}))
	collect(result, message("execute_result", displayContent{
		Data: map[string]any{"text/plain": "42"},
	}))

	if len(result.Results) != 2 {
		t.Fatalf("Results = %v", result.Results)
	}
	if result.Results[0].Kind != "png" || result.Results[0].Content != "aWltYWdl" {
		t.Errorf("image result = %+v", result.Results[0])
	}
	if result.Results[1].Kind != "raw" || result.Results[1].Content != "42" {
		t.Errorf("text result = %+v", result.Results[1])
	}
}

func TestCollectError(t *testing.T) {
	result := &sandbox.ExecResult{}

	collect(result, message("error", errorContent{
		Ename:     "ValueError",
		Evalue:    "bad input",
		Traceback: []string{"Traceback (most recent call last):", "ValueError: bad input"},
	}))

	if result.Err == nil {
		t.Fatal("error message should populate Err")
	}
	if result.Err.Name != "ValueError" {
		t.Errorf("Name = %q", result.Err.Name)
	}
	if result.Err.Traceback != "Traceback (most recent call last):\nValueError: bad input" {
		t.Errorf("Traceback = %q", result.Err.Traceback)
	}
}

func TestCollectCompletionSignals(t *testing.T) {
	result := &sandbox.ExecResult{}

	if got := collect(result, message("status", statusContent{ExecutionState: "busy"})); got != doneNone {
		t.Errorf("busy status = %v, want doneNone", got)
	}
	if got := collect(result, message("status", statusContent{ExecutionState: "idle"})); got != doneIdle {
		t.Errorf("idle status = %v, want doneIdle", got)
	}
	if got := collect(result, message("execute_reply", replyContent{Status: "ok", ExecutionCount: 7})); got != doneReply {
		t.Errorf("execute_reply = %v, want doneReply", got)
	}
	if result.ExecutionCount != 7 {
		t.Errorf("ExecutionCount = %d, want 7", result.ExecutionCount)
	}
}

func TestCollectIgnoresUnknownTypes(t *testing.T) {
	result := &sandbox.ExecResult{}

	if got := collect(result, message("comm_msg", map[string]any{"x": 1})); got != doneNone {
		t.Errorf("unknown type = %v, want doneNone", got)
	}
	if len(result.Stdout) != 0 || len(result.Results) != 0 || result.Err != nil {
		t.Errorf("unknown message mutated the result: %+v", result)
	}
}

// silentKernel accepts the channel websocket and swallows every request
// without ever answering, like a kernel that hung mid-execution.
func silentKernel(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestCloseUnblocksExecute(t *testing.T) {
	ts := silentKernel(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	client, err := Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := client.Execute(context.Background(), "print(1)", time.Hour)
		done <- err
	}()

	// Let Execute get into its receive loop, then tear the connection down.
	time.Sleep(50 * time.Millisecond)
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Error("Execute against a closed connection should fail")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Close() did not unblock the in-flight Execute")
	}

	if err := client.Close(); err != nil {
		t.Errorf("repeated Close() should be a no-op: %v", err)
	}
	if _, err := client.Execute(context.Background(), "print(2)", time.Second); err == nil {
		t.Error("Execute after Close should fail fast")
	}
}

func TestCollectMalformedContent(t *testing.T) {
	result := &sandbox.ExecResult{}
	msg := &wireMessage{
		Header:  header{MsgType: "stream"},
		Content: json.RawMessage(`not json`),
	}
	if got := collect(result, msg); got != doneNone {
		t.Errorf("malformed content = %v, want doneNone", got)
	}
}
