// Package discovery implements the Discovery Agent: searches node types,
// recommends nodes for a described outcome, and fetches documentation,
// grounded on the teacher's runtime/agent/planner sub-agent shape (an
// Execute/ExecuteStream pair driven by an LLM call with a deterministic
// fallback) generalised to the flow builder's node-nomination task.
package discovery

import (
	"context"
	"strings"

	"n3n.dev/core/agent"
	"n3n.dev/core/agent/llm"
	"n3n.dev/core/agent/stream"
)

const nominateToolName = "nominate_nodes"

var nominateToolSchema = []byte(`{
  "type": "object",
  "properties": {
    "nodeTypes": {"type": "array", "items": {"type": "string"}},
    "explanation": {"type": "string"}
  },
  "required": ["nodeTypes"]
}`)

const systemPrompt = "You recommend n8n-style workflow node types for the outcome the user " +
	"describes. Call nominate_nodes with the ordered list of node type identifiers " +
	"(e.g. scheduleTrigger, httpRequest, sendEmail) needed to build that flow."

// keywordTable maps an outcome keyword (English or Chinese) to the node type
// it implies, used when the LLM provider is unavailable.
var keywordTable = []struct {
	keyword  string
	nodeType string
}{
	{"email", "sendEmail"},
	{"郵件", "sendEmail"},
	{"mail", "sendEmail"},
	{"database", "databaseQuery"},
	{"資料庫", "databaseQuery"},
	{"http", "httpRequest"},
	{"api", "httpRequest"},
	{"slack", "slackMessage"},
	{"telegram", "telegramMessage"},
	{"schedule", "scheduleTrigger"},
	{"排程", "scheduleTrigger"},
	{"每天", "scheduleTrigger"},
	{"webhook", "webhookTrigger"},
	{"報表", "sendEmail"},
}

// Agent is the Discovery sub-agent.
type Agent struct {
	client llm.Client
	model  string
}

// Options configures an Agent.
type Options struct {
	// Client is the LLM provider to try first. Nil goes straight to the
	// keyword fallback.
	Client llm.Client
	Model  string
}

// New builds a discovery Agent.
func New(opts Options) *Agent {
	return &Agent{client: opts.Client, model: opts.Model}
}

func (a *Agent) ID() string          { return "discovery" }
func (a *Agent) Name() string        { return "Discovery Agent" }
func (a *Agent) Description() string { return "Searches node types, fetches docs, and recommends nodes for a described outcome" }
func (a *Agent) Capabilities() []string {
	return []string{"search_node", "get_documentation", "find_examples", "recommend_nodes"}
}
func (a *Agent) Tools() []agent.Tool { return nil }

// Execute recommends node types for actx.Utterance, preferring the LLM
// provider and falling back to the keyword table, then requests a builder
// follow-up so the nominated nodes get added to the draft.
func (a *Agent) Execute(ctx context.Context, actx *agent.Context) (agent.Result, error) {
	nodeTypes, explanation := a.recommend(ctx, actx.Utterance)

	if actx.WorkingMemory == nil {
		actx.WorkingMemory = make(map[string]any)
	}
	actx.WorkingMemory["discoveryResults"] = map[string]any{
		"nodeTypes":   nodeTypes,
		"explanation": explanation,
	}

	return agent.Result{
		Text:       explanation,
		Structured: map[string]any{"nodeTypes": nodeTypes},
		NextAction: "builder",
		Done:       false,
	}, nil
}

// ExecuteStream runs Execute and reports the result as a single thinking
// event followed by the structured recommendation, since node discovery is a
// single LLM/rule-table call with no intermediate progress to stream.
func (a *Agent) ExecuteStream(ctx context.Context, actx *agent.Context, sink stream.Sink) (agent.Result, error) {
	sessionID := string(actx.ConversationID)
	_ = stream.Thinking(ctx, sink, sessionID, "searching for matching node types")
	result, err := a.Execute(ctx, actx)
	if err != nil {
		_ = stream.Error(ctx, sink, sessionID, err.Error())
		return result, err
	}
	_ = stream.Structured(ctx, sink, sessionID, result.Structured)
	return result, nil
}

func (a *Agent) recommend(ctx context.Context, utterance string) ([]string, string) {
	if a.client != nil {
		if types, explanation, ok := a.recommendWithLLM(ctx, utterance); ok {
			return types, explanation
		}
	}
	return recommendWithKeywords(utterance)
}

func (a *Agent) recommendWithLLM(ctx context.Context, utterance string) ([]string, string, bool) {
	req := llm.Request{
		Model: a.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Text: systemPrompt},
			{Role: llm.RoleUser, Text: utterance},
		},
		Tools:     []llm.ToolSpec{{Name: nominateToolName, Description: "Nominate node types for the described flow", ParametersSchema: nominateToolSchema}},
		ForceTool: nominateToolName,
	}
	resp, err := a.client.Complete(ctx, req)
	if err != nil || len(resp.ToolCalls) == 0 {
		return nil, "", false
	}
	args := resp.ToolCalls[0].Arguments
	rawTypes, _ := args["nodeTypes"].([]any)
	if len(rawTypes) == 0 {
		return nil, "", false
	}
	types := make([]string, 0, len(rawTypes))
	for _, v := range rawTypes {
		if s, ok := v.(string); ok && s != "" {
			types = append(types, s)
		}
	}
	explanation, _ := args["explanation"].(string)
	return types, explanation, len(types) > 0
}

// recommendWithKeywords matches outcome keywords against keywordTable,
// preserving first-match order and de-duplicating node types.
func recommendWithKeywords(utterance string) ([]string, string) {
	lower := strings.ToLower(utterance)
	seen := make(map[string]bool)
	var types []string
	for _, entry := range keywordTable {
		if strings.Contains(lower, strings.ToLower(entry.keyword)) || strings.Contains(utterance, entry.keyword) {
			if !seen[entry.nodeType] {
				seen[entry.nodeType] = true
				types = append(types, entry.nodeType)
			}
		}
	}
	if len(types) == 0 {
		return nil, "no matching node types found"
	}
	return types, "recommended nodes based on keyword matches"
}
