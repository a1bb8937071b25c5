// Package loader deserializes workflow definitions and agent/prompt
// files from their on-disk YAML/Markdown forms, and renders prompt
// templates against a variable view.
package loader

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kestrelflow/workflow-engine/pkg/workflow"
)

// rawStep mirrors the on-disk shape of a step before it is normalized
// into the tagged workflow.Step union. yaml.v3's KnownFields strictness
// is what enforces "unknown step keys rejected" from §6.
type rawStep struct {
	Name        string     `yaml:"name"`
	Type        string     `yaml:"type,omitempty"`
	Enabled     *bool      `yaml:"enabled,omitempty"`
	Agent       string     `yaml:"agent,omitempty"`
	Prompt      string     `yaml:"prompt,omitempty"`
	Model       string     `yaml:"model,omitempty"`
	Input       string     `yaml:"input,omitempty"`
	Output      string     `yaml:"output,omitempty"`
	Handler     string     `yaml:"handler,omitempty"`
	Source      string     `yaml:"source,omitempty"`
	Condition   string     `yaml:"condition,omitempty"`
	MaxRetries  uint       `yaml:"maxRetries,omitempty"`
	OnExhausted string     `yaml:"onExhausted,omitempty"`
	Steps       []*rawStep `yaml:"steps,omitempty"`
}

type rawDefaults struct {
	Model          string   `yaml:"model,omitempty"`
	Agent          string   `yaml:"agent,omitempty"`
	PermissionMode string   `yaml:"permissionMode,omitempty"`
	SettingSources []string `yaml:"settingSources,omitempty"`
}

type rawDefinition struct {
	Name     string       `yaml:"name"`
	Version  int          `yaml:"version"`
	Defaults *rawDefaults `yaml:"defaults,omitempty"`
	Phases   []*rawStep   `yaml:"phases"`
}

// ParseWorkflow decodes and validates a workflow definition from YAML
// bytes.
func ParseWorkflow(data []byte) (*workflow.Definition, error) {
	var raw rawDefinition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("loader: parse workflow: %w", err)
	}

	def := &workflow.Definition{Name: raw.Name, Version: raw.Version}
	if raw.Defaults != nil {
		def.Defaults = &workflow.Defaults{
			Model:          raw.Defaults.Model,
			Agent:          raw.Defaults.Agent,
			PermissionMode: raw.Defaults.PermissionMode,
			SettingSources: raw.Defaults.SettingSources,
		}
	}
	for _, rs := range raw.Phases {
		step, err := normalizeStep(rs)
		if err != nil {
			return nil, err
		}
		def.Phases = append(def.Phases, step)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// LoadWorkflow reads and parses a workflow definition from path.
func LoadWorkflow(path string) (*workflow.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: read workflow %q: %w", path, err)
	}
	return ParseWorkflow(data)
}

func normalizeStep(rs *rawStep) (*workflow.Step, error) {
	kind := workflow.StepKind(rs.Type)
	if kind == "" {
		if rs.Agent != "" || rs.Prompt != "" {
			kind = workflow.StepAgent
		} else {
			return nil, fmt.Errorf("loader: step %q: missing \"type\" and no agent/prompt to infer one from", rs.Name)
		}
	}

	switch kind {
	case workflow.StepAgent, workflow.StepCode, workflow.StepPerTask, workflow.StepParallel, workflow.StepLoop:
	default:
		return nil, fmt.Errorf("loader: step %q: unknown type %q", rs.Name, rs.Type)
	}

	step := &workflow.Step{
		Name:    rs.Name,
		Kind:    kind,
		Enabled: rs.Enabled,
		Agent:   rs.Agent,
		Prompt:  rs.Prompt,
		Model:   rs.Model,
		Input:   rs.Input,
		Output:  rs.Output,
		Handler: rs.Handler,
		Source:  rs.Source,
	}
	if rs.Condition != "" {
		step.Condition = rs.Condition
		step.MaxRetries = rs.MaxRetries
		if step.MaxRetries == 0 {
			step.MaxRetries = 1
		}
		step.OnExhausted = workflow.OnExhausted(rs.OnExhausted)
	}

	for _, child := range rs.Steps {
		cs, err := normalizeStep(child)
		if err != nil {
			return nil, err
		}
		step.Steps = append(step.Steps, cs)
	}
	return step, nil
}
