package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateArgs checks action.params against the named tool's args_schema,
// when one is configured. A tool with no args_schema accepts any params.
func ValidateArgs(tool Tool, params map[string]interface{}) error {
	return validateAgainst(tool.ArgsSchema, params, "args")
}

// ValidateOutput checks a connector's result data against the named tool's
// output_schema, when one is configured.
func ValidateOutput(tool Tool, result interface{}) error {
	return validateAgainst(tool.OutputSchema, result, "output")
}

func validateAgainst(schemaDoc json.RawMessage, value interface{}, kind string) error {
	if len(schemaDoc) == 0 {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	const resource = "inline.json"
	if err := compiler.AddResource(resource, bytes.NewReader(schemaDoc)); err != nil {
		return fmt.Errorf("manifest: invalid %s schema: %w", kind, err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("manifest: compile %s schema: %w", kind, err)
	}

	// jsonschema validates against decoded JSON values (map[string]any,
	// []any, float64, ...); round-trip through encoding/json so callers can
	// pass already-typed Go values (e.g. action.params) directly.
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("manifest: encode %s: %w", kind, err)
	}
	var decoded interface{}
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return fmt.Errorf("manifest: decode %s: %w", kind, err)
	}

	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("manifest: %s schema validation failed: %w", kind, err)
	}
	return nil
}
