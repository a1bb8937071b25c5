// Package workflow defines the declarative data model for a workflow
// definition: phases, steps, agents, and prompts.
package workflow

import "fmt"

// StepKind identifies which of the five step variants a Step carries.
type StepKind string

const (
	StepAgent    StepKind = "agent"
	StepCode     StepKind = "code"
	StepPerTask  StepKind = "per-task"
	StepParallel StepKind = "parallel"
	StepLoop     StepKind = "loop"
)

// OnExhausted is the exhaustion policy for a loop step.
type OnExhausted string

const (
	OnExhaustedEscalate OnExhausted = "escalate"
	OnExhaustedWarn     OnExhausted = "warn"
	OnExhaustedFail     OnExhausted = "fail"
)

// Step is a tagged union over the five step variants. Only the fields
// relevant to Kind are meaningful; the others are zero.
type Step struct {
	Name    string
	Kind    StepKind
	Enabled *bool

	// agent
	Agent  string
	Prompt string
	Model  string
	Input  string
	Output string

	// code
	Handler string

	// per-task
	Source string

	// loop
	Condition   string
	MaxRetries  uint
	OnExhausted OnExhausted

	// per-task, parallel, loop
	Steps []*Step
}

// IsEnabled reports whether the step should run at all, per its own
// enabled flag. Defaults true when unset.
func (s *Step) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Defaults holds workflow-level fallback values, merged with step-level
// and engine-level values by the engine's precedence rules.
type Defaults struct {
	Model          string   `yaml:"model,omitempty"`
	Agent          string   `yaml:"agent,omitempty"`
	PermissionMode string   `yaml:"permissionMode,omitempty"`
	SettingSources []string `yaml:"settingSources,omitempty"`
}

// Definition is a complete workflow document: a named, versioned phase
// tree plus defaults.
type Definition struct {
	Name     string
	Version  int
	Defaults *Defaults
	Phases   []*Step
}

// AgentDefinition is the parsed form of an agent file: a typed header
// plus a free-text system prompt body.
type AgentDefinition struct {
	Name         string
	Description  string
	Tools        []string
	Model        string
	OutputSchema string
	SystemPrompt string
}

// PromptDefinition is the parsed form of a prompt file: a typed header
// plus a template body.
type PromptDefinition struct {
	Name        string
	Description string
	Body        string
}

// Validate checks the invariants of §3: non-empty phases, non-empty step
// names recursively, and that recursive step lists satisfy the same
// rules. Kind/field-shape validation happens at parse time in the loader,
// since it requires distinguishing "key absent" from "key present but
// empty" on the raw document.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("workflow: name must not be empty")
	}
	if len(d.Phases) == 0 {
		return fmt.Errorf("workflow %q: phases must not be empty", d.Name)
	}
	for _, p := range d.Phases {
		if err := validateStep(p); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(s *Step) error {
	if s.Name == "" {
		return fmt.Errorf("workflow: step name must not be empty")
	}
	switch s.Kind {
	case StepAgent:
	case StepCode:
		if s.Handler == "" {
			return fmt.Errorf("step %q: code step requires a handler", s.Name)
		}
	case StepPerTask:
		if s.Source == "" {
			return fmt.Errorf("step %q: per-task step requires a source", s.Name)
		}
	case StepParallel:
	case StepLoop:
		if s.Condition == "" {
			return fmt.Errorf("step %q: loop step requires a condition", s.Name)
		}
		if s.MaxRetries < 1 {
			return fmt.Errorf("step %q: loop step maxRetries must be >= 1", s.Name)
		}
		switch s.OnExhausted {
		case OnExhaustedEscalate, OnExhaustedWarn, OnExhaustedFail:
		default:
			return fmt.Errorf("step %q: invalid onExhausted %q", s.Name, s.OnExhausted)
		}
	default:
		return fmt.Errorf("step %q: unknown step type %q", s.Name, s.Kind)
	}
	for _, child := range s.Steps {
		if err := validateStep(child); err != nil {
			return err
		}
	}
	return nil
}
