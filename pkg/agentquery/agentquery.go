// Package agentquery defines the contract for the injected LLM dispatch
// capability: a QueryFunction producing a lazy, finite sequence of
// messages, the same generator shape the teacher's workflowagent package
// uses for its Run sequences. The transport itself is an external
// collaborator — this package only fixes the shape both sides agree on.
package agentquery

import (
	"context"
	"iter"
)

// Options carries everything an agent step resolves before dispatch.
type Options struct {
	Prompt                          string
	SystemPrompt                    string
	AllowedTools                    []string
	Model                           string
	Cwd                             string
	PermissionMode                  string
	SettingSources                  []string
	AllowDangerouslySkipPermissions bool
	MCPServers                      map[string]any
	OutputFormat                    *OutputFormat
}

// OutputFormat requests a structured-output schema constraint from the
// transport.
type OutputFormat struct {
	Type   string
	Schema any
}

// MessageKind distinguishes the messages a QueryFunction may yield. The
// engine only inspects Result messages; all others are ignored.
type MessageKind string

const (
	MessageResult MessageKind = "result"
	MessageOther  MessageKind = "other"
)

// Message is one element of a QueryResult sequence.
type Message struct {
	Kind   MessageKind
	Result *ResultPayload
}

// ResultPayload is the payload of a "result" message: either a success
// carrying an optional structured output, or a terminal error.
type ResultPayload struct {
	Success          bool
	StructuredOutput any
	SessionID        string
	Cost             *float64
	IsError          bool
	Subtype          string
	Errors           []string
}

// QueryFunction is the injected LLM dispatch capability. It returns a
// lazy, finite, non-restartable sequence of messages; an error yielded
// mid-stream terminates the sequence.
type QueryFunction func(ctx context.Context, opts Options) iter.Seq2[Message, error]
