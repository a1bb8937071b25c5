// Package config defines the engine's process-level configuration: the
// working directory, workflow base directory, skip/dry-run knobs, and
// the MCP server map passed through to agent dispatch.
package config

import (
	"fmt"

	"github.com/kestrelflow/workflow-engine/pkg/workflow"
)

// EngineConfig is the engine-level knob set from §6.
type EngineConfig struct {
	WorkingDirectory string             `yaml:"workingDirectory,omitempty"`
	WorkflowBaseDir  string             `yaml:"workflowBaseDir,omitempty"`
	Defaults         *workflow.Defaults `yaml:"defaults,omitempty"`
	DryRun           bool               `yaml:"dryRun,omitempty"`
	MCPServers       map[string]any     `yaml:"mcpServers,omitempty"`
	SkipChecks       bool               `yaml:"skipChecks,omitempty"`
	SkipStepNames    []string           `yaml:"skipStepNames,omitempty"`
	Scope            string             `yaml:"scope,omitempty"`
	LogLevel         string             `yaml:"logLevel,omitempty"`
	LogFormat        string             `yaml:"logFormat,omitempty"`
	MetricsAddr      string             `yaml:"metricsAddr,omitempty"`
}

// SetDefaults fills in the engine's zero-value fallbacks, following the
// teacher's SetDefaults/Validate config idiom.
func (c *EngineConfig) SetDefaults() {
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "."
	}
	if c.WorkflowBaseDir == "" {
		c.WorkflowBaseDir = ".workflow-engine"
	}
	if c.Scope == "" {
		c.Scope = "workflow"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "simple"
	}
}

// Validate checks the config for internal consistency.
func (c *EngineConfig) Validate() error {
	if c.WorkflowBaseDir == "" {
		return fmt.Errorf("config: workflowBaseDir must not be empty")
	}
	if c.Scope == "" {
		return fmt.Errorf("config: scope must not be empty")
	}
	return nil
}

// ShouldSkipStep reports whether name appears in SkipStepNames.
func (c *EngineConfig) ShouldSkipStep(name string) bool {
	for _, n := range c.SkipStepNames {
		if n == name {
			return true
		}
	}
	return false
}
