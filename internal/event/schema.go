// ABOUTME: JSON Schema validation for event payloads at the publish boundary
// ABOUTME: Rejects malformed payloads before they are persisted or delivered

package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError reports a payload that does not match the shape for its type.
type ValidationError struct {
	Type   Type
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s payload: %s: %v", e.Type, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s payload: %s", e.Type, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var payloadSchemas = map[Type]string{
	TypeMessage: `{
		"type": "object",
		"required": ["content", "sender"],
		"properties": {
			"content": {"type": "string"},
			"sender": {"type": "string", "minLength": 1},
			"messageId": {"type": "string"},
			"replyToMessageId": {"type": "string"},
			"role": {"enum": ["user", "assistant", "tool", "system"]},
			"approval": {
				"type": "object",
				"required": ["requestId", "toolName", "options"],
				"properties": {
					"requestId": {"type": "string", "minLength": 1},
					"toolName": {"type": "string", "minLength": 1},
					"options": {"type": "array", "items": {"type": "string"}}
				}
			}
		}
	}`,
	TypeWorld: `{
		"type": "object",
		"required": ["kind"],
		"properties": {
			"kind": {"type": "string", "minLength": 1},
			"message": {"type": "string"},
			"data": {"type": "object"}
		}
	}`,
	TypeSSE: `{
		"type": "object",
		"required": ["type"],
		"properties": {
			"type": {"enum": ["start", "chunk", "end", "error"]},
			"agentName": {"type": "string"},
			"content": {"type": "string"},
			"messageId": {"type": "string"},
			"error": {"type": "string"}
		}
	}`,
	TypeSystem: `{
		"type": "object",
		"required": ["content"],
		"properties": {
			"kind": {"type": "string"},
			"content": {"type": "string"},
			"data": {"type": "object"}
		}
	}`,
	TypeTool: `{
		"type": "object",
		"required": ["kind", "toolName"],
		"properties": {
			"kind": {"enum": ["tool-start", "tool-result", "tool-error", "tool-progress", "tool-approval"]},
			"toolName": {"type": "string", "minLength": 1},
			"toolCallId": {"type": "string"},
			"agentName": {"type": "string"},
			"args": {"type": "object"},
			"result": {"type": "string"},
			"error": {"type": "string"}
		}
	}`,
}

var compiled = compileSchemas()

func compileSchemas() map[Type]*jsonschema.Schema {
	out := make(map[Type]*jsonschema.Schema, len(payloadSchemas))
	for t, src := range payloadSchemas {
		out[t] = jsonschema.MustCompileString(fmt.Sprintf("mem://agentworld/%s.schema.json", t), src)
	}
	return out
}

// Validate checks p against the schema for its event type.
func Validate(p Payload) error {
	if p == nil {
		return &ValidationError{Reason: "payload is nil"}
	}
	t := p.EventType()
	raw, err := json.Marshal(p)
	if err != nil {
		return &ValidationError{Type: t, Reason: "payload is not serializable", Err: err}
	}
	return validateRaw(t, raw)
}

// DecodePayload validates raw JSON against the schema for t and decodes it.
func DecodePayload(t Type, raw json.RawMessage) (Payload, error) {
	if !t.Valid() {
		return nil, &ValidationError{Type: t, Reason: "unknown event type"}
	}
	if err := validateRaw(t, raw); err != nil {
		return nil, err
	}
	p, err := unmarshalPayload(t, raw)
	if err != nil {
		return nil, &ValidationError{Type: t, Reason: "undecodable", Err: err}
	}
	return p, nil
}

func validateRaw(t Type, raw []byte) error {
	schema, ok := compiled[t]
	if !ok {
		return &ValidationError{Type: t, Reason: "unknown event type"}
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &ValidationError{Type: t, Reason: "malformed JSON", Err: err}
	}
	if err := schema.Validate(doc); err != nil {
		return &ValidationError{Type: t, Reason: "schema mismatch", Err: err}
	}
	return nil
}
