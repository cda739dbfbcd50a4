package config

import (
	"fmt"
	"regexp"
	"sort"

	_ "embed"

	yamlv3 "gopkg.in/yaml.v3"
)

//go:embed schemas/tools.yaml
var toolSchemasYAML []byte

// Monitor strategy names accepted by the monitor factory.
const (
	StrategyLogFile    = "logfile"
	StrategyStdout     = "stdout"
	StrategyStatusFile = "statusfile"
	StrategyUI         = "ui"
)

// ToolDef describes one wrapped tool: its declared parameter schema and the
// monitor strategy it uses by default.
type ToolDef struct {
	Name     string
	Strategy string
	Schema   Schema
}

// Registry holds the known tool definitions. The built-in set is loaded
// from the embedded schema document; callers may register additional tools.
type Registry struct {
	tools map[string]*ToolDef
}

type paramDoc struct {
	Type     string   `yaml:"type"`
	Required bool     `yaml:"required"`
	Default  any      `yaml:"default"`
	Min      *float64 `yaml:"min"`
	Max      *float64 `yaml:"max"`
	Pattern  string   `yaml:"pattern"`
}

type toolDoc struct {
	Strategy string              `yaml:"strategy"`
	Params   map[string]paramDoc `yaml:"params"`
}

type schemaFile struct {
	Common map[string]paramDoc `yaml:"common"`
	Tools  map[string]toolDoc  `yaml:"tools"`
}

// BuiltinRegistry parses the embedded tool schema document and returns a
// registry with the built-in tool set.
func BuiltinRegistry() (*Registry, error) {
	var doc schemaFile
	if err := yamlv3.Unmarshal(toolSchemasYAML, &doc); err != nil {
		return nil, fmt.Errorf("parse embedded tool schemas: %w", err)
	}

	reg := &Registry{tools: make(map[string]*ToolDef, len(doc.Tools))}
	for name, td := range doc.Tools {
		schema := make(Schema, len(doc.Common)+len(td.Params))
		for pname, pd := range doc.Common {
			spec, err := pd.toSpec(name, pname)
			if err != nil {
				return nil, err
			}
			schema[pname] = spec
		}
		for pname, pd := range td.Params {
			spec, err := pd.toSpec(name, pname)
			if err != nil {
				return nil, err
			}
			schema[pname] = spec
		}

		// The tool's declared strategy becomes the monitor_strategy default.
		if spec, ok := schema["monitor_strategy"]; ok {
			spec.Default = td.Strategy
			schema["monitor_strategy"] = spec
		}

		reg.tools[name] = &ToolDef{Name: name, Strategy: td.Strategy, Schema: schema}
	}
	return reg, nil
}

func (d paramDoc) toSpec(tool, param string) (ParamSpec, error) {
	spec := ParamSpec{
		Required: d.Required,
		Default:  d.Default,
		Min:      d.Min,
		Max:      d.Max,
		Pattern:  d.Pattern,
	}
	switch d.Type {
	case "string":
		spec.Type = TypeString
	case "int":
		spec.Type = TypeInt
	case "float":
		spec.Type = TypeFloat
	case "bool":
		spec.Type = TypeBool
	default:
		return ParamSpec{}, fmt.Errorf("tool %q parameter %q: unknown type %q", tool, param, d.Type)
	}
	if d.Pattern != "" {
		re, err := regexp.Compile(d.Pattern)
		if err != nil {
			return ParamSpec{}, fmt.Errorf("tool %q parameter %q: bad pattern: %w", tool, param, err)
		}
		spec.compiled = re
	}
	return spec, nil
}

// Tool returns the definition for name.
func (r *Registry) Tool(name string) (*ToolDef, bool) {
	td, ok := r.tools[name]
	return td, ok
}

// Register adds or replaces a tool definition.
func (r *Registry) Register(def *ToolDef) {
	r.tools[def.Name] = def
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
