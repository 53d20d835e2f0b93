// Package extract is the boundary to the language-model extraction
// collaborator. Every response passes a JSON Schema before it reaches
// business logic; a mismatch is an error, never a silent coercion.
package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/invite-sync/internal/model"
)

// ReplyItem is one decision extracted from a free-form digest reply.
type ReplyItem struct {
	// Reference is the raw reference text as the user wrote it.
	Reference string `json:"reference"`

	Decision   string   `json:"decision"`
	Notes      string   `json:"notes,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Guardrail is the result of the HTML strike-through check run on
// rendered reply bodies.
type Guardrail struct {
	// StruckThroughReferences lists references the user visibly
	// struck out; decisions for them are discarded.
	StruckThroughReferences []string `json:"struck_through_references"`

	Notes string `json:"notes"`
}

// Extractor is the extraction surface the sync engine consumes.
type Extractor interface {
	// ExtractInvite pulls a structured event proposal out of message
	// text. A schema mismatch returns a SchemaError.
	ExtractInvite(ctx context.Context, text string) (*model.InvitePayload, error)

	// ExtractDecisions pulls per-reference decisions out of a digest
	// reply. letters names the valid letter references for context.
	ExtractDecisions(ctx context.Context, text string, letters []string) ([]ReplyItem, error)

	// CheckStruckThrough inspects a rendered HTML reply body for
	// struck-through references.
	CheckStruckThrough(ctx context.Context, html string) (*Guardrail, error)
}

// SchemaError indicates the collaborator's output did not validate
// against the expected schema. Callers skip the single message and
// continue the batch.
type SchemaError struct {
	Schema string
	Err    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("extraction result failed %s schema: %v", e.Schema, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// IsSchemaError reports whether err (or any error in its chain) is a
// SchemaError.
func IsSchemaError(err error) bool {
	var schemaErr *SchemaError
	return errors.As(err, &schemaErr)
}
