package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/nebelbild/data-analysis/pkg/domain"
	"github.com/nebelbild/data-analysis/pkg/model"
	"google.golang.org/genai"
)

// Gateway implements model.Gateway using the Google Gen AI SDK.
type Gateway struct {
	client *genai.Client
}

// Verify interface compliance.
var _ model.Gateway = (*Gateway)(nil)

// New creates a new Gemini gateway.
func New(ctx context.Context, apiKey string) (*Gateway, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &Gateway{client: client}, nil
}

// Generate sends the prompt and blocks until the full response is available.
// When schema is non-nil the response is constrained to JSON of that shape.
func (g *Gateway) Generate(ctx context.Context, modelName string, messages []model.Message, schema *model.Schema) (string, error) {
	slog.Debug("gemini.Generate", "model", modelName, "messageCount", len(messages), "structured", schema != nil)

	contents, system := convertMessages(messages)

	config := &genai.GenerateContentConfig{
		SystemInstruction: system,
	}
	if schema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = convertSchema(schema)
	}

	resp, err := g.client.Models.GenerateContent(ctx, modelName, contents, config)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			text.WriteString(part.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("model returned no text content")
	}
	return text.String(), nil
}

// Stream sends the prompt and returns the response incrementally.
func (g *Gateway) Stream(ctx context.Context, modelName string, messages []model.Message) (model.Stream, error) {
	slog.Debug("gemini.Stream", "model", modelName, "messageCount", len(messages))

	contents, system := convertMessages(messages)
	config := &genai.GenerateContentConfig{
		SystemInstruction: system,
	}

	streamCtx, cancel := context.WithCancel(ctx)
	iter := g.client.Models.GenerateContentStream(streamCtx, modelName, contents, config)

	chunks := make(chan chunk)
	go func() {
		defer close(chunks)
		for resp, err := range iter {
			if err != nil {
				select {
				case chunks <- chunk{err: err}:
				case <-streamCtx.Done():
				}
				return
			}
			if resp == nil {
				continue
			}
			var text strings.Builder
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					text.WriteString(part.Text)
				}
			}
			if text.Len() == 0 {
				continue
			}
			select {
			case chunks <- chunk{text: text.String()}:
			case <-streamCtx.Done():
				return
			}
		}
	}()

	return &geminiStream{chunks: chunks, cancel: cancel}, nil
}

// List returns available Gemini models that support content generation.
func (g *Gateway) List(ctx context.Context) ([]domain.Model, error) {
	var models []domain.Model
	for m, err := range g.client.Models.All(ctx) {
		if err != nil {
			return nil, err
		}

		supportsGenerate := false
		for _, action := range m.SupportedActions {
			if action == "generateContent" {
				supportsGenerate = true
				break
			}
		}
		if !supportsGenerate {
			continue
		}

		maxTokens := 0
		if m.InputTokenLimit > 0 {
			maxTokens = int(m.InputTokenLimit)
		}
		models = append(models, domain.Model{
			ID:        m.Name,
			Name:      m.DisplayName,
			Provider:  "gemini",
			MaxTokens: maxTokens,
		})
	}
	return models, nil
}

// convertMessages maps gateway messages onto genai contents. System turns are
// folded into the system instruction; assistant turns take the "model" role.
func convertMessages(messages []model.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var systemParts []string

	for _, msg := range messages {
		if msg.Role == domain.RoleSystem {
			systemParts = append(systemParts, msg.Text)
			continue
		}

		var parts []*genai.Part
		if msg.Text != "" {
			parts = append(parts, &genai.Part{Text: msg.Text})
		}
		if msg.ImageData != "" {
			raw, err := base64.StdEncoding.DecodeString(msg.ImageData)
			if err == nil {
				parts = append(parts, &genai.Part{
					InlineData: &genai.Blob{MIMEType: "image/png", Data: raw},
				})
			} else {
				slog.Warn("Dropping undecodable image part", "error", err)
			}
		}
		if len(parts) == 0 {
			continue
		}

		role := "user"
		if msg.Role == domain.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	var system *genai.Content
	if len(systemParts) > 0 {
		system = &genai.Content{
			Parts: []*genai.Part{{Text: strings.Join(systemParts, "\n\n")}},
		}
	}
	return contents, system
}

func convertSchema(s *model.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
	}
	switch s.Type {
	case model.TypeObject:
		out.Type = genai.TypeObject
	case model.TypeArray:
		out.Type = genai.TypeArray
	case model.TypeString:
		out.Type = genai.TypeString
	case model.TypeNumber:
		out.Type = genai.TypeNumber
	case model.TypeInteger:
		out.Type = genai.TypeInteger
	case model.TypeBoolean:
		out.Type = genai.TypeBoolean
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = convertSchema(prop)
		}
	}
	if s.Items != nil {
		out.Items = convertSchema(s.Items)
	}
	return out
}

type chunk struct {
	text string
	err  error
}

// geminiStream adapts the streaming iterator to the pull-based model.Stream.
type geminiStream struct {
	chunks <-chan chunk
	cancel context.CancelFunc
}

func (s *geminiStream) Recv() (string, error) {
	c, ok := <-s.chunks
	if !ok {
		return "", io.EOF
	}
	return c.text, c.err
}

func (s *geminiStream) Close() error {
	s.cancel()
	// Drain so the producer goroutine can exit.
	for range s.chunks {
	}
	return nil
}
