package config

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/storagedv/toolproctor/internal/fault"
)

// ParamType is the declared type of a parameter.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeInt    ParamType = "int"
	TypeFloat  ParamType = "float"
	TypeBool   ParamType = "bool"
)

// ParamSpec declares one parameter: its type, whether it must be present
// before a run starts, an optional default, and optional range/pattern
// constraints.
type ParamSpec struct {
	Type     ParamType
	Required bool
	Default  any
	Min      *float64
	Max      *float64
	Pattern  string

	compiled *regexp.Regexp
}

// Schema is the fixed declared parameter set of one tool.
type Schema map[string]ParamSpec

// Defaults returns a fresh Config holding every parameter that declares a
// default value.
func (s Schema) Defaults() Config {
	cfg := make(Config)
	for name, spec := range s {
		if spec.Default != nil {
			cfg[name] = spec.Default
		}
	}
	return cfg
}

// Validate checks cfg against the schema: every key must be declared, every
// value must match its declared type and constraints, and every required
// parameter must be present. All violations are reported as config faults.
func (s Schema) Validate(cfg Config) error {
	for key, value := range cfg {
		spec, ok := s[key]
		if !ok {
			return fault.New(fault.KindConfig, "unknown parameter %q", key)
		}
		if err := spec.check(key, value); err != nil {
			return err
		}
	}
	for name, spec := range s {
		if spec.Required {
			if _, ok := cfg[name]; !ok {
				return fault.New(fault.KindConfig, "required parameter %q is missing", name)
			}
		}
	}
	return nil
}

// Merge validates overrides and applies them on top of base, returning a
// new Config. The base is never mutated. The merged result is not checked
// for required keys; Validate does that before a run starts.
func (s Schema) Merge(base, overrides Config) (Config, error) {
	for key, value := range overrides {
		spec, ok := s[key]
		if !ok {
			return nil, fault.New(fault.KindConfig, "unknown parameter %q", key)
		}
		if err := spec.check(key, value); err != nil {
			return nil, err
		}
	}
	merged := base.Clone()
	for k, v := range overrides {
		merged[k] = v
	}
	return merged, nil
}

func (p ParamSpec) check(key string, value any) error {
	switch p.Type {
	case TypeString:
		str, ok := value.(string)
		if !ok {
			return fault.New(fault.KindConfig, "parameter %q must be a string, got %T", key, value)
		}
		if p.Pattern != "" {
			re := p.compiled
			if re == nil {
				var err error
				re, err = regexp.Compile(p.Pattern)
				if err != nil {
					return fault.Wrap(fault.KindConfig, err, "parameter %q has an invalid pattern", key)
				}
			}
			if !re.MatchString(str) {
				return fault.New(fault.KindConfig, "parameter %q must match pattern %q", key, p.Pattern)
			}
		}
	case TypeBool:
		if _, ok := value.(bool); !ok {
			return fault.New(fault.KindConfig, "parameter %q must be a boolean, got %T", key, value)
		}
	case TypeInt:
		n, ok := numeric(value)
		if !ok || n != float64(int64(n)) {
			return fault.New(fault.KindConfig, "parameter %q must be an integer, got %v", key, value)
		}
		return p.checkRange(key, n)
	case TypeFloat:
		n, ok := numeric(value)
		if !ok {
			return fault.New(fault.KindConfig, "parameter %q must be a number, got %T", key, value)
		}
		return p.checkRange(key, n)
	default:
		return fault.New(fault.KindConfig, "parameter %q has unknown type %q", key, p.Type)
	}
	return nil
}

func (p ParamSpec) checkRange(key string, n float64) error {
	if p.Min != nil && n < *p.Min {
		return fault.New(fault.KindConfig, "parameter %q must be >= %v", key, *p.Min)
	}
	if p.Max != nil && n > *p.Max {
		return fault.New(fault.KindConfig, "parameter %q must be <= %v", key, *p.Max)
	}
	return nil
}

func numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// JSONSchema renders the tool schema as a JSON Schema document with
// additionalProperties disabled, so the raw configuration file can be
// checked before any value reaches the store. Required parameters are not
// enforced here: a file section may stay partial and be completed through
// Merge, with Validate holding the line at Start().
func (s Schema) JSONSchema() ([]byte, error) {
	props := make(map[string]any, len(s))
	for name, spec := range s {
		prop := make(map[string]any, 4)
		switch spec.Type {
		case TypeString:
			prop["type"] = "string"
			if spec.Pattern != "" {
				prop["pattern"] = spec.Pattern
			}
		case TypeInt:
			prop["type"] = "integer"
		case TypeFloat:
			prop["type"] = "number"
		case TypeBool:
			prop["type"] = "boolean"
		}
		if spec.Min != nil {
			prop["minimum"] = *spec.Min
		}
		if spec.Max != nil {
			prop["maximum"] = *spec.Max
		}
		props[name] = prop
	}
	doc := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal json schema: %w", err)
	}
	return out, nil
}
