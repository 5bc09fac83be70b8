// Package jupyter implements the kernel message protocol over a websocket
// channel: execute requests go out on the shell channel, and the asynchronous
// iopub stream (stdout/stderr, display data, errors, state transitions) is
// folded back into one synchronous result per execution.
package jupyter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nebelbild/data-analysis/pkg/sandbox"
)

// readSlice is the per-message receive timeout. A single expired read is not
// fatal; the receive loop retries until the overall execution timeout is
// spent.
const readSlice = 2 * time.Second

// Client speaks the kernel wire protocol over one websocket connection.
// The protocol is request/response per execution; Execute serializes callers.
type Client struct {
	conn *websocket.Conn
	// session identifies this client in message headers.
	session string

	// mu serializes executions. closed lives outside it so Close can
	// interrupt a receive loop that holds mu.
	mu     sync.Mutex
	closed atomic.Bool
}

// Dial connects to a kernel's channels endpoint
// (ws://host:port/api/kernels/{id}/channels).
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing kernel channels: %w", err)
	}
	return &Client{conn: conn, session: uuid.New().String()}, nil
}

// Close shuts the websocket down, unblocking any in-flight Execute with a
// transport error. Safe to call multiple times and concurrently.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

type header struct {
	MsgID    string `json:"msg_id"`
	MsgType  string `json:"msg_type"`
	Session  string `json:"session"`
	Username string `json:"username"`
	Version  string `json:"version"`
}

type wireMessage struct {
	Header       header          `json:"header"`
	ParentHeader header          `json:"parent_header"`
	Metadata     map[string]any  `json:"metadata"`
	Content      json.RawMessage `json:"content"`
	Channel      string          `json:"channel"`
}

type streamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type displayContent struct {
	Data map[string]any `json:"data"`
}

type errorContent struct {
	Ename     string   `json:"ename"`
	Evalue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

type statusContent struct {
	ExecutionState string `json:"execution_state"`
}

type replyContent struct {
	Status         string `json:"status"`
	ExecutionCount int    `json:"execution_count"`
}

// Execute submits code and collects its output until the kernel reports idle
// for this execution or the overall timeout elapses. A timeout returns the
// partial result collected so far together with the error; transport failures
// other than read-deadline expiry truncate the loop the same way.
func (c *Client) Execute(ctx context.Context, code string, timeout time.Duration) (*sandbox.ExecResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return nil, fmt.Errorf("kernel connection closed")
	}

	code = NormalizeEscapes(code)

	msgID := uuid.New().String()
	request := wireMessage{
		Header: header{
			MsgID:    msgID,
			MsgType:  "execute_request",
			Session:  c.session,
			Username: "analysis",
			Version:  "5.3",
		},
		Metadata: map[string]any{},
		Content: mustJSON(map[string]any{
			"code":             code,
			"silent":           false,
			"store_history":    true,
			"allow_stdin":      false,
			"stop_on_error":    false,
			"user_expressions": map[string]any{},
		}),
		Channel: "shell",
	}
	if err := c.conn.WriteJSON(request); err != nil {
		return nil, fmt.Errorf("sending execute request: %w", err)
	}

	result := &sandbox.ExecResult{}
	deadline := time.Now().Add(timeout)
	idle := false
	replied := false

	for !(idle && replied) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if time.Now().After(deadline) {
			return result, fmt.Errorf("execution timed out after %s", timeout)
		}

		slice := readSlice
		if remaining := time.Until(deadline); remaining < slice {
			slice = remaining
		}
		c.conn.SetReadDeadline(time.Now().Add(slice))

		var msg wireMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if isTimeout(err) {
				continue
			}
			if c.closed.Load() {
				return result, fmt.Errorf("kernel connection closed")
			}
			return result, fmt.Errorf("reading kernel message: %w", err)
		}

		// The channel multiplexes every execution's traffic; only this
		// request's messages count.
		if msg.ParentHeader.MsgID != msgID {
			continue
		}
		if done := collect(result, &msg); done == doneIdle {
			idle = true
		} else if done == doneReply {
			replied = true
		}
	}

	return result, nil
}

type progress int

const (
	doneNone progress = iota
	doneIdle
	doneReply
)

// collect folds one protocol message into the accumulating result and
// reports whether it signals completion. Unknown message types are ignored.
func collect(result *sandbox.ExecResult, msg *wireMessage) progress {
	switch msg.Header.MsgType {
	case "stream":
		var content streamContent
		if err := json.Unmarshal(msg.Content, &content); err != nil {
			return doneNone
		}
		if content.Name == "stderr" {
			result.Stderr = append(result.Stderr, content.Text)
		} else {
			result.Stdout = append(result.Stdout, content.Text)
		}

	case "display_data", "execute_result":
		var content displayContent
		if err := json.Unmarshal(msg.Content, &content); err != nil {
			return doneNone
		}
		if png, ok := content.Data["image/png"].(string); ok {
			result.Results = append(result.Results, sandbox.RawResult{Kind: "png", Content: png})
		}
		if text, ok := content.Data["text/plain"].(string); ok {
			result.Results = append(result.Results, sandbox.RawResult{Kind: "raw", Content: text})
		}

	case "error":
		var content errorContent
		if err := json.Unmarshal(msg.Content, &content); err != nil {
			return doneNone
		}
		traceback := ""
		for i, line := range content.Traceback {
			if i > 0 {
				traceback += "\n"
			}
			traceback += line
		}
		result.Err = &sandbox.RawError{
			Name:      content.Ename,
			Value:     content.Evalue,
			Traceback: traceback,
		}

	case "status":
		var content statusContent
		if err := json.Unmarshal(msg.Content, &content); err != nil {
			return doneNone
		}
		if content.ExecutionState == "idle" {
			return doneIdle
		}

	case "execute_reply":
		var content replyContent
		if err := json.Unmarshal(msg.Content, &content); err != nil {
			return doneNone
		}
		result.ExecutionCount = content.ExecutionCount
		return doneReply
	}
	return doneNone
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("Marshaling protocol content", "error", err)
		return json.RawMessage("{}")
	}
	return b
}
