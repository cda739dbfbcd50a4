package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kaptinlin/jsonschema"
	"github.com/tidwall/gjson"

	"github.com/storagedv/toolproctor/internal/fault"
)

// LoadTool reads the proctor configuration file, extracts the section for
// the named tool, validates it against the tool's schema, and returns the
// section merged over the schema defaults. Unknown parameters in the
// section are rejected, not ignored.
func LoadTool(path, tool string, schema Schema) (Config, error) {
	params, err := LoadToolSection(path, tool, schema)
	if err != nil {
		return nil, err
	}
	return schema.Merge(schema.Defaults(), params)
}

// LoadToolSection reads and validates the named tool's section of the
// configuration file, returning just the parameters the file sets. No
// defaults are applied.
func LoadToolSection(path, tool string, schema Schema) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "read configuration file %s", path)
	}
	if !gjson.ValidBytes(data) {
		return nil, fault.New(fault.KindConfig, "configuration file %s is not valid JSON", path)
	}

	section := gjson.GetBytes(data, tool)
	if !section.Exists() {
		return nil, fault.New(fault.KindConfig, "tool %q has no section in %s", tool, path)
	}
	if !section.IsObject() {
		return nil, fault.New(fault.KindConfig, "tool %q section must be a flat JSON object", tool)
	}

	if err := validateSection(schema, []byte(section.Raw)); err != nil {
		return nil, err
	}

	var params map[string]any
	if err := json.Unmarshal([]byte(section.Raw), &params); err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "decode tool %q section", tool)
	}
	return Config(params), nil
}

// ValidateFile checks every top-level section of the configuration file:
// each key must name a registered tool, and each section must satisfy that
// tool's schema. Returns the validated tool names.
func ValidateFile(path string, reg *Registry) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfig, err, "read configuration file %s", path)
	}
	if !gjson.ValidBytes(data) {
		return nil, fault.New(fault.KindConfig, "configuration file %s is not valid JSON", path)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fault.New(fault.KindConfig, "configuration file %s must be a JSON object", path)
	}

	var tools []string
	var firstErr error
	root.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		td, ok := reg.Tool(name)
		if !ok {
			firstErr = fault.New(fault.KindConfig, "unknown tool %q in %s", name, path)
			return false
		}
		if !value.IsObject() {
			firstErr = fault.New(fault.KindConfig, "tool %q section must be a flat JSON object", name)
			return false
		}
		if err := validateSection(td.Schema, []byte(value.Raw)); err != nil {
			firstErr = err
			return false
		}
		tools = append(tools, name)
		return true
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return tools, nil
}

func validateSection(schema Schema, raw []byte) error {
	schemaJSON, err := schema.JSONSchema()
	if err != nil {
		return fmt.Errorf("render schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiled, err := compiler.Compile(schemaJSON)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	result := compiled.ValidateJSON(raw)
	if !result.IsValid() {
		return fault.New(fault.KindConfig, "schema validation failed: %v", result.Errors)
	}
	return nil
}
