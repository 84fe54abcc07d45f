// Package intent implements the IntentAnalyzer: an LLM-first structured
// classifier for one user utterance, falling back to a deterministic keyword
// rule table when the LLM provider is unavailable or its response cannot be
// parsed, grounded on the teacher's features/policy/basic rule-evaluation
// idiom (an ordered match table with a default fallthrough) generalised from
// allow/deny decisions to intent classification.
package intent

import (
	"context"
	"encoding/json"
	"strings"

	"n3n.dev/core/agent"
	"n3n.dev/core/agent/llm"
)

// classifyToolName is the forced tool call the LLM path uses to extract a
// structured intent instead of parsing free text.
const classifyToolName = "classify_intent"

var classifyToolSchema = []byte(`{
  "type": "object",
  "properties": {
    "type": {"type": "string"},
    "confidence": {"type": "number"},
    "understanding": {"type": "string"},
    "entities": {"type": "object"}
  },
  "required": ["type", "confidence"]
}`)

const systemPrompt = "You classify a user's message to a flow-automation assistant into exactly " +
	"one intent type: SEARCH_NODE, GET_DOCUMENTATION, FIND_EXAMPLES, CREATE_FLOW, " +
	"ADD_NODE, REMOVE_NODE, CONNECT_NODES, CONFIGURE_NODE, MODIFY_FLOW, OPTIMIZE_FLOW, " +
	"EXPLAIN, CLARIFY, CONFIRM, COMPOUND, CHITCHAT, or UNKNOWN. Call classify_intent " +
	"with your classification."

// Analyzer classifies a Context's utterance into an agent.Intent.
type Analyzer struct {
	client llm.Client
	model  string
}

// Options configures an Analyzer.
type Options struct {
	// Client is the LLM provider to try first. Nil falls back to the rule
	// table immediately.
	Client llm.Client
	Model  string
}

// New builds an Analyzer.
func New(opts Options) *Analyzer {
	return &Analyzer{client: opts.Client, model: opts.Model}
}

// Analyze classifies actx.Utterance, trying the LLM provider first and
// falling back to the deterministic rule table on provider unavailability or
// a malformed response.
func (a *Analyzer) Analyze(ctx context.Context, actx *agent.Context) (agent.Intent, error) {
	if a.client != nil {
		if in, ok := a.analyzeWithLLM(ctx, actx); ok {
			return in, nil
		}
	}
	return analyzeWithRules(actx.Utterance), nil
}

func (a *Analyzer) analyzeWithLLM(ctx context.Context, actx *agent.Context) (agent.Intent, bool) {
	req := llm.Request{
		Model: a.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Text: systemPrompt},
			{Role: llm.RoleUser, Text: actx.Utterance},
		},
		Tools:     []llm.ToolSpec{{Name: classifyToolName, Description: "Classify the user's intent", ParametersSchema: classifyToolSchema}},
		ForceTool: classifyToolName,
	}
	resp, err := a.client.Complete(ctx, req)
	if err != nil || len(resp.ToolCalls) == 0 {
		return agent.Intent{}, false
	}
	return decodeIntent(resp.ToolCalls[0].Arguments)
}

func decodeIntent(args map[string]any) (agent.Intent, bool) {
	raw, err := json.Marshal(args)
	if err != nil {
		return agent.Intent{}, false
	}
	var decoded struct {
		Type          string         `json:"type"`
		Confidence    float64        `json:"confidence"`
		Understanding string         `json:"understanding"`
		Entities      map[string]any `json:"entities"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return agent.Intent{}, false
	}
	t := agent.IntentType(strings.ToUpper(decoded.Type))
	if !validIntentTypes[t] {
		return agent.Intent{}, false
	}
	return agent.Intent{
		Type:          t,
		Confidence:    decoded.Confidence,
		Understanding: decoded.Understanding,
		Entities:      decoded.Entities,
	}, true
}

var validIntentTypes = map[agent.IntentType]bool{
	agent.IntentSearchNode:       true,
	agent.IntentGetDocumentation: true,
	agent.IntentFindExamples:     true,
	agent.IntentCreateFlow:       true,
	agent.IntentAddNode:          true,
	agent.IntentRemoveNode:       true,
	agent.IntentConnectNodes:     true,
	agent.IntentConfigureNode:    true,
	agent.IntentModifyFlow:       true,
	agent.IntentOptimizeFlow:     true,
	agent.IntentExplain:          true,
	agent.IntentClarify:          true,
	agent.IntentConfirm:          true,
	agent.IntentCompound:         true,
	agent.IntentChitchat:         true,
	agent.IntentUnknown:          true,
}

// ruleEntry pairs a set of keywords (English and Chinese) with the intent
// type they indicate. Checked in order; the first match wins.
type ruleEntry struct {
	intentType agent.IntentType
	keywords   []string
}

var rules = []ruleEntry{
	{agent.IntentCreateFlow, []string{"create a flow", "build a flow", "new flow", "建立一個", "創建流程", "建立流程"}},
	{agent.IntentAddNode, []string{"add a node", "add node", "新增節點", "添加節點"}},
	{agent.IntentRemoveNode, []string{"remove node", "delete node", "刪除節點", "移除節點"}},
	{agent.IntentConnectNodes, []string{"connect", "link node", "連接節點"}},
	{agent.IntentConfigureNode, []string{"configure", "set up node", "設定節點", "配置節點"}},
	{agent.IntentOptimizeFlow, []string{"optimize", "improve the flow", "優化流程"}},
	{agent.IntentModifyFlow, []string{"modify the flow", "change the flow", "修改流程"}},
	{agent.IntentSearchNode, []string{"find a node", "search for node", "搜尋節點", "查找節點"}},
	{agent.IntentGetDocumentation, []string{"documentation", "docs for", "文件", "說明文件"}},
	{agent.IntentFindExamples, []string{"example", "sample flow", "範例"}},
	{agent.IntentExplain, []string{"explain", "what does this do", "解釋"}},
	{agent.IntentConfirm, []string{"yes", "confirm", "go ahead", "好的", "確認"}},
	{agent.IntentClarify, []string{"what do you mean", "clarify", "不清楚"}},
}

// analyzeWithRules is the LLM-unavailable fallback: an ordered keyword match
// table over the user's utterance, defaulting to UNKNOWN. It does not
// attempt to disambiguate compound or chitchat utterances beyond the
// explicit keyword sets above.
func analyzeWithRules(utterance string) agent.Intent {
	lower := strings.ToLower(utterance)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, strings.ToLower(kw)) || strings.Contains(utterance, kw) {
				return agent.Intent{
					Type:          r.intentType,
					Confidence:    0.8,
					Understanding: "matched keyword rule",
					Entities:      map[string]any{},
				}
			}
		}
	}
	return agent.Intent{Type: agent.IntentUnknown, Confidence: 0.2, Entities: map[string]any{}}
}
