// Package expr implements the flow expression language: a deliberately
// Turing-incomplete, value-extraction-only template grammar with six fixed
// forms, plus the credential resolver that decrypts values referenced from
// node configuration.
//
// No arithmetic, no conditionals, no user-defined functions — every
// expression maps directly to a lookup against the execution's context.
package expr

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"n3n.dev/core/flow"
	flowerrors "n3n.dev/core/flow/errors"
)

// templatePattern matches one {{ ... }} placeholder within a larger string.
var templatePattern = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)

var (
	nodeExprPattern = regexp.MustCompile(`^\$node\["([^"]+)"\]\.json(?:\.([\p{L}\p{N}_.#-]+))?$`)
	jsonExprPattern = regexp.MustCompile(`^\$json(?:\.([\p{L}\p{N}_.#-]+))?$`)
	envExprPattern  = regexp.MustCompile(`^\$env\.([A-Za-z_][A-Za-z0-9_]*)$`)
)

// Context carries the values the six expression forms resolve against.
type Context struct {
	// JSON is the current node's upstream data, resolved by $json and
	// $json.field.path.
	JSON map[string]any
	// Node is upstream node output keyed by node ID, resolved by
	// $node["id"].json[.path].
	Node map[flow.Ident]map[string]any
	// Env is the process environment visible to $env.NAME.
	Env map[string]string
	// ExecutionID resolves $execution.id.
	ExecutionID flow.Ident
	// WorkflowID resolves $workflow.id.
	WorkflowID flow.Ident
	// Now resolves $now. Callers fix this once per node execution so
	// repeated references within one config are consistent.
	Now time.Time
}

// Evaluator evaluates expressions against a Context.
type Evaluator struct{}

// New returns a ready-to-use Evaluator. It has no state: every call is
// evaluated fresh against the Context passed to it.
func New() *Evaluator { return &Evaluator{} }

// EvaluateValue evaluates a single expression (the trimmed inner text of one
// {{ ... }} placeholder, without the braces) and returns its resolved value
// with its native type preserved (object, string, etc.). Use this for config
// values that are exactly one placeholder and nothing else.
func (e *Evaluator) EvaluateValue(expression string, ctx Context) (any, error) {
	expression = strings.TrimSpace(expression)

	switch {
	case expression == "$json":
		return ctx.JSON, nil
	case expression == "$execution.id":
		return string(ctx.ExecutionID), nil
	case expression == "$workflow.id":
		return string(ctx.WorkflowID), nil
	case expression == "$now":
		return ctx.Now.Format(time.RFC3339), nil
	}

	if m := jsonExprPattern.FindStringSubmatch(expression); m != nil {
		return lookupPath(ctx.JSON, m[1]), nil
	}

	if m := nodeExprPattern.FindStringSubmatch(expression); m != nil {
		nodeID, path := flow.Ident(m[1]), m[2]
		data, ok := ctx.Node[nodeID]
		if !ok {
			return nil, nil
		}
		if path == "" {
			return data, nil
		}
		return lookupPath(data, path), nil
	}

	if m := envExprPattern.FindStringSubmatch(expression); m != nil {
		v, ok := ctx.Env[m[1]]
		if !ok {
			return "", nil
		}
		return v, nil
	}

	return nil, flowerrors.Validation("unrecognized_expression", fmt.Sprintf("expression %q does not match any of the supported forms", expression))
}

// lookupPath resolves a dotted path against data using gjson's path dialect,
// returning nil when the path does not resolve (a miss, not an error).
func lookupPath(data map[string]any, path string) any {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	result := gjson.GetBytes(raw, path)
	if !result.Exists() {
		return nil
	}
	return result.Value()
}

// EvaluateString performs template substitution: every {{ ... }} placeholder
// in template is replaced by the string form of its resolved value. Objects
// are JSON-encoded; a miss resolves to the empty string.
func (e *Evaluator) EvaluateString(template string, ctx Context) (string, error) {
	var firstErr error
	out := templatePattern.ReplaceAllStringFunc(template, func(match string) string {
		inner := templatePattern.FindStringSubmatch(match)[1]
		val, err := e.EvaluateValue(inner, ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return ""
		}
		return stringify(val)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func stringify(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// EvaluateConfig walks config recursively, resolving every string value.
// A string that is exactly one placeholder (optionally surrounded by
// whitespace) evaluates through EvaluateValue, preserving its native type;
// any other string evaluates through EvaluateString. Non-string values pass
// through unchanged.
func (e *Evaluator) EvaluateConfig(config map[string]any, ctx Context) (map[string]any, error) {
	out := make(map[string]any, len(config))
	for k, v := range config {
		resolved, err := e.evaluateValue(v, ctx)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

func (e *Evaluator) evaluateValue(v any, ctx Context) (any, error) {
	switch val := v.(type) {
	case string:
		if !containsExpression(val) {
			return val, nil
		}
		if m := templatePattern.FindStringSubmatch(val); m != nil && strings.TrimSpace(val) == m[0] {
			return e.EvaluateValue(m[1], ctx)
		}
		return e.EvaluateString(val, ctx)
	case map[string]any:
		return e.EvaluateConfig(val, ctx)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := e.evaluateValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// containsExpression reports whether s contains at least one {{ ... }}
// placeholder, letting callers skip template evaluation entirely for plain
// string config values.
func containsExpression(s string) bool {
	return templatePattern.MatchString(s)
}

// Validate performs lexical-only validation of every placeholder in
// template: it reports malformed or unrecognized forms without resolving
// them against any data.
func (e *Evaluator) Validate(template string) error {
	for _, m := range templatePattern.FindAllStringSubmatch(template, -1) {
		expr := strings.TrimSpace(m[1])
		switch {
		case expr == "$json", expr == "$execution.id", expr == "$workflow.id", expr == "$now":
			continue
		case jsonExprPattern.MatchString(expr):
			continue
		case nodeExprPattern.MatchString(expr):
			continue
		case envExprPattern.MatchString(expr):
			continue
		default:
			return flowerrors.Validation("unrecognized_expression", fmt.Sprintf("expression %q does not match any of the supported forms", expr))
		}
	}
	return nil
}
