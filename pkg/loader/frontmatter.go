package loader

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kestrelflow/workflow-engine/pkg/workflow"
)

const frontmatterDelim = "---"

// splitFrontmatter separates a leading "---\n...\n---" YAML header from
// the remaining body. A file with no header returns an empty header and
// the full content as body.
func splitFrontmatter(content string) (header, body string, hasHeader bool) {
	trimmed := strings.TrimLeft(content, "\n")
	if !strings.HasPrefix(trimmed, frontmatterDelim) {
		return "", strings.TrimSpace(content), false
	}
	rest := trimmed[len(frontmatterDelim):]
	rest = strings.TrimPrefix(rest, "\n")
	end := strings.Index(rest, "\n"+frontmatterDelim)
	if end < 0 {
		return "", strings.TrimSpace(content), false
	}
	header = rest[:end]
	body = rest[end+len("\n"+frontmatterDelim):]
	body = strings.TrimPrefix(body, "\n")
	return header, strings.TrimSpace(body), true
}

type agentHeader struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description,omitempty"`
	Tools        []string `yaml:"tools,omitempty"`
	Model        string   `yaml:"model,omitempty"`
	OutputSchema string   `yaml:"outputSchema,omitempty"`
}

// ParseAgent decodes an agent file: a YAML header requiring at least
// "name", followed by a free-text system-prompt body.
func ParseAgent(content string) (*workflow.AgentDefinition, error) {
	header, body, _ := splitFrontmatter(content)

	var h agentHeader
	if header != "" {
		if err := yaml.Unmarshal([]byte(header), &h); err != nil {
			return nil, fmt.Errorf("loader: parse agent header: %w", err)
		}
	}
	if h.Name == "" {
		return nil, fmt.Errorf("loader: agent header missing required field \"name\"")
	}

	tools := h.Tools
	if tools == nil {
		tools = []string{}
	}

	return &workflow.AgentDefinition{
		Name:         h.Name,
		Description:  h.Description,
		Tools:        tools,
		Model:        h.Model,
		OutputSchema: h.OutputSchema,
		SystemPrompt: body,
	}, nil
}

// LoadAgent reads and parses an agent file from path.
func LoadAgent(path string) (*workflow.AgentDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: read agent %q: %w", path, err)
	}
	return ParseAgent(string(data))
}

type promptHeader struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// ParsePrompt decodes a prompt file: a YAML header requiring "name",
// followed by the template body. A file with a header but empty body is
// legal; the body is trimmed.
func ParsePrompt(content string) (*workflow.PromptDefinition, error) {
	header, body, _ := splitFrontmatter(content)

	var h promptHeader
	if header != "" {
		if err := yaml.Unmarshal([]byte(header), &h); err != nil {
			return nil, fmt.Errorf("loader: parse prompt header: %w", err)
		}
	}
	if h.Name == "" {
		return nil, fmt.Errorf("loader: prompt header missing required field \"name\"")
	}

	return &workflow.PromptDefinition{
		Name:        h.Name,
		Description: h.Description,
		Body:        body,
	}, nil
}

// LoadPrompt reads and parses a prompt file from path.
func LoadPrompt(path string) (*workflow.PromptDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: read prompt %q: %w", path, err)
	}
	return ParsePrompt(string(data))
}
