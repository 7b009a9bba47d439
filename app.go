package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// --- Interface Configuration ---

// Component is a single input/output element of the served interface.
// Stateful components keep their value across calls within one session.
type Component struct {
	ID       int            `json:"id"`
	Type     string         `json:"type"`
	Label    string         `json:"label,omitempty"`
	Stateful bool           `json:"stateful,omitempty"`
	Default  any            `json:"default,omitempty"`
	Props    map[string]any `json:"props,omitempty"`
}

// Function describes one callable exposed by the interface: which
// components feed it and which receive its outputs, by component ID.
type Function struct {
	Name    string `json:"name,omitempty"`
	Inputs  []int  `json:"inputs"`
	Outputs []int  `json:"outputs"`
}

// AppConfig is the interface configuration document. It is loaded once at
// startup and served verbatim at /config; the server itself only reads
// the component/function topology from it.
type AppConfig struct {
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Theme       string      `json:"theme,omitempty"`
	Components  []Component `json:"components"`
	Functions   []Function  `json:"functions"`
	Examples    [][]any     `json:"examples,omitempty"`
	ExamplesDir string      `json:"examplesDir,omitempty"`
	Encrypt     bool        `json:"encrypt,omitempty"`
	AuthMessage string      `json:"authMessage,omitempty"`
	Live        bool        `json:"live,omitempty"`
}

// --- Component Type Registry ---

// ComponentType declares the wire-level semantics of a component variant:
// what an input of this type accepts, what an output of this type emits,
// and a sample payload for the API docs page.
type ComponentType struct {
	Input  string
	Output string
	Sample any
}

// componentTypes is the static registry of supported component variants.
// Populated at definition time; the server never derives type info at
// runtime.
var componentTypes = map[string]ComponentType{
	"textbox":   {Input: "str", Output: "str", Sample: "example text"},
	"number":    {Input: "float", Output: "float", Sample: 42.0},
	"slider":    {Input: "float", Output: "float", Sample: 5.0},
	"checkbox":  {Input: "bool", Output: "bool", Sample: true},
	"radio":     {Input: "str", Output: "str", Sample: "choice"},
	"dropdown":  {Input: "str", Output: "str", Sample: "option"},
	"image":     {Input: "base64 str", Output: "base64 str", Sample: "data:image/png;base64,..."},
	"audio":     {Input: "base64 str", Output: "base64 str", Sample: "data:audio/wav;base64,..."},
	"file":      {Input: "base64 str", Output: "base64 str", Sample: "data:application/octet-stream;base64,..."},
	"dataframe": {Input: "2D list", Output: "2D list", Sample: [][]any{{1, 2}, {3, 4}}},
	"label":     {Input: "", Output: "dict of label → confidence", Sample: map[string]any{"cat": 0.9}},
	"json":      {Input: "dict | list", Output: "dict | list", Sample: map[string]any{"key": "value"}},
	"html":      {Input: "str", Output: "str", Sample: "<p>example</p>"},
	"variable":  {Input: "any", Output: "any", Sample: nil},
}

// loadAppConfig reads and validates the interface document.
func loadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read interface config: %w", err)
	}
	var app AppConfig
	if err := json.Unmarshal(data, &app); err != nil {
		return nil, fmt.Errorf("parse interface config %s: %w", path, err)
	}
	if err := app.validate(); err != nil {
		return nil, fmt.Errorf("invalid interface config %s: %w", path, err)
	}
	return &app, nil
}

// validate checks component references and type names. Runs once at load;
// requests never see a half-valid document.
func (a *AppConfig) validate() error {
	if len(a.Functions) == 0 {
		return fmt.Errorf("no functions declared")
	}
	ids := make(map[int]bool, len(a.Components))
	for _, c := range a.Components {
		if _, ok := componentTypes[c.Type]; !ok {
			return fmt.Errorf("component %d: unknown type %q", c.ID, c.Type)
		}
		if ids[c.ID] {
			return fmt.Errorf("duplicate component id %d", c.ID)
		}
		ids[c.ID] = true
	}
	for i, fn := range a.Functions {
		if len(fn.Inputs) == 0 && len(fn.Outputs) == 0 {
			return fmt.Errorf("function %d: no inputs or outputs", i)
		}
		for _, id := range fn.Inputs {
			if !ids[id] {
				return fmt.Errorf("function %d: unknown input component %d", i, id)
			}
		}
		for _, id := range fn.Outputs {
			if !ids[id] {
				return fmt.Errorf("function %d: unknown output component %d", i, id)
			}
		}
	}
	for i, row := range a.Examples {
		if len(row) != len(a.Functions[0].Inputs) {
			return fmt.Errorf("example %d: %d values for %d inputs", i, len(row), len(a.Functions[0].Inputs))
		}
	}
	return nil
}

// component returns the component with the given ID, or nil.
func (a *AppConfig) component(id int) *Component {
	for i := range a.Components {
		if a.Components[i].ID == id {
			return &a.Components[i]
		}
	}
	return nil
}

// function returns the function at the given index.
func (a *AppConfig) function(idx int) (*Function, error) {
	if idx < 0 || idx >= len(a.Functions) {
		return nil, fmt.Errorf("%w: function index %d out of range", errBadRequest, idx)
	}
	return &a.Functions[idx], nil
}

// statefulDefaults seeds a fresh session state with each stateful
// component's declared default.
func (a *AppConfig) statefulDefaults() map[int]any {
	state := make(map[int]any)
	for _, c := range a.Components {
		if c.Stateful {
			state[c.ID] = c.Default
		}
	}
	return state
}

// --- Served Documents ---

// configDocument is the full /config payload.
func (a *AppConfig) configDocument(authRequired bool) map[string]any {
	return map[string]any{
		"title":         a.Title,
		"description":   a.Description,
		"theme":         a.Theme,
		"components":    a.Components,
		"functions":     a.Functions,
		"examples":      a.Examples,
		"live":          a.Live,
		"auth_required": authRequired,
	}
}

// reducedDocument is what unauthenticated callers see when auth is on.
func (a *AppConfig) reducedDocument() map[string]any {
	return map[string]any{
		"auth_required": true,
		"auth_message":  a.AuthMessage,
	}
}
