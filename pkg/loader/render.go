package loader

import "github.com/kestrelflow/workflow-engine/pkg/template"

// RenderPrompt renders a prompt body against a template-var view, per the
// grammar and non-recursive escape rule of §4.2.
func RenderPrompt(body string, vars map[string]any) (string, error) {
	return template.Render(body, vars)
}
