// Package validation checks submission bodies against a JSON Schema before
// they reach the scheduler, so malformed requests fail with a field-level
// message instead of a generic decode error.
package validation

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const submitSchemaID = "https://docvivid.dev/schemas/video-submission.input"

const submitSchema = `{
  "type": "object",
  "properties": {
    "text":            {"type": "string", "maxLength": 200000},
    "url":             {"type": "string", "format": "uri", "maxLength": 2048},
    "file_ref":        {"type": "string", "maxLength": 512},
    "target_language": {"type": "string", "maxLength": 16},
    "voice_type":      {"type": "string", "maxLength": 64}
  },
  "anyOf": [
    {"required": ["text"],     "properties": {"text":     {"minLength": 1}}},
    {"required": ["url"],      "properties": {"url":      {"minLength": 1}}},
    {"required": ["file_ref"], "properties": {"file_ref": {"minLength": 1}}}
  ],
  "additionalProperties": false
}`

// Validator validates inbound submission descriptors.
type Validator struct {
	submit *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	schema, err := jsonschema.CompileString(submitSchemaID, submitSchema)
	if err != nil {
		return nil, fmt.Errorf("compile submission schema: %w", err)
	}
	return &Validator{submit: schema}, nil
}

// ValidateSubmission checks a raw submission body. The returned error's
// message is safe to echo back to the client.
func (v *Validator) ValidateSubmission(body []byte) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := v.submit.Validate(doc); err != nil {
		return fmt.Errorf("invalid submission: %w", err)
	}
	return nil
}
