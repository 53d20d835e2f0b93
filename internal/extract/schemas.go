package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const inviteSchemaJSON = `{
	"type": "object",
	"properties": {
		"external_ref": {"type": "string"},
		"title": {"type": "string"},
		"summary": {"type": "string"},
		"inviter": {"type": "string"},
		"location": {"type": "string"},
		"proposed_times": {"type": "array", "items": {"type": "string"}},
		"follow_up_actions": {"type": "array", "items": {"type": "string"}},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	},
	"required": ["external_ref", "title", "summary", "proposed_times", "follow_up_actions"],
	"additionalProperties": false
}`

const decisionsSchemaJSON = `{
	"type": "array",
	"items": {
		"type": "object",
		"properties": {
			"reference": {"type": "string"},
			"decision": {"type": "string", "enum": ["yes", "no", "maybe"]},
			"notes": {"type": "string"},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1}
		},
		"required": ["reference", "decision"],
		"additionalProperties": false
	}
}`

const guardrailSchemaJSON = `{
	"type": "object",
	"properties": {
		"struck_through_references": {"type": "array", "items": {"type": "string"}},
		"notes": {"type": "string"}
	},
	"required": ["struck_through_references", "notes"],
	"additionalProperties": false
}`

// schemas holds the compiled response schemas.
type schemas struct {
	invite    *jsonschema.Schema
	decisions *jsonschema.Schema
	guardrail *jsonschema.Schema
}

// compileSchemas compiles all response schemas once at construction.
func compileSchemas() (*schemas, error) {
	compiler := jsonschema.NewCompiler()

	sources := map[string]string{
		"invite.json":    inviteSchemaJSON,
		"decisions.json": decisionsSchemaJSON,
		"guardrail.json": guardrailSchemaJSON,
	}
	for name, src := range sources {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("parsing schema %s: %w", name, err)
		}
		if err := compiler.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("adding schema %s: %w", name, err)
		}
	}

	s := &schemas{}
	var err error
	if s.invite, err = compiler.Compile("invite.json"); err != nil {
		return nil, fmt.Errorf("compiling invite schema: %w", err)
	}
	if s.decisions, err = compiler.Compile("decisions.json"); err != nil {
		return nil, fmt.Errorf("compiling decisions schema: %w", err)
	}
	if s.guardrail, err = compiler.Compile("guardrail.json"); err != nil {
		return nil, fmt.Errorf("compiling guardrail schema: %w", err)
	}

	return s, nil
}

// validateJSON checks raw JSON against a compiled schema and, on
// success, unmarshals it into out.
func validateJSON(schema *jsonschema.Schema, name string, raw []byte, out interface{}) error {
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return &SchemaError{Schema: name, Err: fmt.Errorf("not valid JSON: %w", err)}
	}

	if err := schema.Validate(decoded); err != nil {
		return &SchemaError{Schema: name, Err: err}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &SchemaError{Schema: name, Err: err}
	}
	return nil
}
