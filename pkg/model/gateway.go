package model

import (
	"context"

	"github.com/nebelbild/data-analysis/pkg/domain"
)

// Message is one turn of the prompt handed to the gateway.
type Message struct {
	Role domain.Role
	Text string
	// ImageData holds base64-encoded PNG bytes when the turn carries an
	// image (review prompts attach execution figures). Empty otherwise.
	ImageData string
}

// Schema is a provider-neutral description of the structured output a caller
// expects. Gateways translate it into their native response-schema form.
type Schema struct {
	Type        SchemaType
	Description string
	Properties  map[string]*Schema
	Items       *Schema
	Required    []string
}

// SchemaType enumerates the JSON value kinds a Schema can describe.
type SchemaType string

const (
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeInteger SchemaType = "integer"
	TypeBoolean SchemaType = "boolean"
)

// Gateway is the text-generation capability consumed by the generator use
// cases. Implementations are stateless; all per-call context travels in the
// arguments.
type Gateway interface {
	// Generate returns the model's full response as text. When schema is
	// non-nil the gateway constrains the model to emit JSON matching it, so
	// the returned text unmarshals into the caller's target type.
	Generate(ctx context.Context, modelName string, messages []Message, schema *Schema) (string, error)

	// Stream returns the response as a finite sequence of text chunks. The
	// stream is not restartable; callers must Close it.
	Stream(ctx context.Context, modelName string, messages []Message) (Stream, error)

	// List returns the models available from this gateway.
	List(ctx context.Context) ([]domain.Model, error)
}

// Stream is a finite sequence of response chunks.
type Stream interface {
	// Recv returns the next chunk, or io.EOF when the stream is exhausted.
	Recv() (string, error)

	// Close releases resources associated with the stream.
	Close() error
}
