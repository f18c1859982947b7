package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaFor reflects a JSON schema for a tool input struct. Fields without
// omitempty are required; unknown properties are rejected.
func SchemaFor(v any) json.RawMessage {
	reflector := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""
	schema.ID = ""

	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("tools: marshal schema for %T: %v", v, err))
	}
	return data
}

// decodeInput unmarshals tool input, treating empty or null input as {}.
func decodeInput(input json.RawMessage, v any) error {
	if isEmptyInput(input) {
		return nil
	}
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}

func isEmptyInput(input json.RawMessage) bool {
	trimmed := bytes.TrimSpace(input)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
