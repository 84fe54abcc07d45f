// Package builtin registers the small set of node handlers the engine ships
// with out of the box: the two trigger types the AI flow builder's
// validate_flow tool expects a flow to start from, an HTTP request node, and
// a send-email node, grounded on the teacher's handler registration shape
// (flow/handler.Registry.Register) and exercising the pack's
// github.com/tidwall/gjson dependency for response field extraction the way
// flow/expr already does.
package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"n3n.dev/core/flow"
	flowerrors "n3n.dev/core/flow/errors"
	"n3n.dev/core/flow/handler"
)

// Register adds every builtin node type to reg.
func Register(reg *handler.Registry) error {
	descriptors := []handler.Descriptor{
		scheduleTriggerDescriptor(),
		webhookTriggerDescriptor(),
		httpRequestDescriptor(),
		sendEmailDescriptor(),
	}
	for _, d := range descriptors {
		if err := reg.Register(d); err != nil {
			return fmt.Errorf("builtin: register %q: %w", d.Type, err)
		}
	}
	return nil
}

// triggerHandler passes the execution's trigger data straight through as the
// node's output; trigger nodes have no upstream input and exist only to mark
// where an execution's data originates (and, for scheduleTrigger/
// webhookTrigger, to satisfy the DAG's has-a-trigger validation).
func triggerHandler(ctx context.Context, nctx flow.NodeExecutionContext) (flow.NodeExecutionResult, error) {
	now := time.Now().UTC()
	return flow.NodeExecutionResult{
		NodeID:     nctx.Node.ID,
		State:      flow.NodeStateSucceeded,
		Output:     nctx.TriggerData,
		StartedAt:  now,
		FinishedAt: now,
	}, nil
}

func scheduleTriggerDescriptor() handler.Descriptor {
	return handler.Descriptor{
		Type:         "scheduleTrigger",
		DisplayName:  "Schedule Trigger",
		Description:  "Starts a flow on a cron schedule",
		ConfigSchema: json.RawMessage(`{"type":"object","required":["cronExpression"],"properties":{"cronExpression":{"type":"string"}}}`),
		Handler:      handler.HandlerFunc(triggerHandler),
	}
}

func webhookTriggerDescriptor() handler.Descriptor {
	return handler.Descriptor{
		Type:         "webhookTrigger",
		DisplayName:  "Webhook Trigger",
		Description:  "Starts a flow when its webhook path receives a request",
		ConfigSchema: json.RawMessage(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`),
		Handler:      handler.HandlerFunc(triggerHandler),
	}
}

func httpRequestDescriptor() handler.Descriptor {
	return handler.Descriptor{
		Type:         "httpRequest",
		DisplayName:  "HTTP Request",
		Description:  "Calls an HTTP endpoint and extracts fields from the JSON response",
		ConfigSchema: json.RawMessage(`{"type":"object","required":["url"],"properties":{"url":{"type":"string"},"method":{"type":"string"},"extract":{"type":"object"},"bodyFields":{"type":"object"}}}`),
		Handler:      handler.HandlerFunc(httpRequestExecute),
	}
}

func httpRequestExecute(ctx context.Context, nctx flow.NodeExecutionContext) (flow.NodeExecutionResult, error) {
	started := time.Now().UTC()
	fail := func(err error) (flow.NodeExecutionResult, error) {
		msg := err.Error()
		return flow.NodeExecutionResult{
			NodeID:     nctx.Node.ID,
			State:      flow.NodeStateFailed,
			Error:      &msg,
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
		}, err
	}

	url, _ := nctx.Node.Config["url"].(string)
	if url == "" {
		return fail(flowerrors.Validation("missing_url", "httpRequest node requires a url"))
	}
	method, _ := nctx.Node.Config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if fields, ok := nctx.Node.Config["bodyFields"].(map[string]any); ok && len(fields) > 0 {
		body, err := buildJSONBody(fields)
		if err != nil {
			return fail(flowerrors.Validation("invalid_body_fields", "failed to build request body from bodyFields"))
		}
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fail(flowerrors.Handler("request_build_failed", "failed to build HTTP request", err))
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fail(flowerrors.Transient("request_failed", "HTTP request failed", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(flowerrors.Transient("response_read_failed", "failed to read HTTP response", err))
	}
	if resp.StatusCode >= 400 {
		return fail(flowerrors.Handler("http_error_status", fmt.Sprintf("HTTP request returned status %d", resp.StatusCode), nil))
	}

	output := map[string]any{"statusCode": resp.StatusCode, "body": json.RawMessage(body)}
	if extract, ok := nctx.Node.Config["extract"].(map[string]any); ok {
		for field, rawPath := range extract {
			path, ok := rawPath.(string)
			if !ok {
				continue
			}
			output[field] = gjson.GetBytes(body, path).Value()
		}
	}

	return flow.NodeExecutionResult{
		NodeID:     nctx.Node.ID,
		State:      flow.NodeStateSucceeded,
		Output:     output,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}, nil
}

// buildJSONBody assembles a JSON document from a flat map of dotted paths to
// values, the sjson-side counterpart of the "extract" config's gjson paths:
// {"user.name": "ada"} produces {"user":{"name":"ada"}}.
func buildJSONBody(fields map[string]any) ([]byte, error) {
	doc := []byte("{}")
	for path, value := range fields {
		updated, err := sjson.SetBytes(doc, path, value)
		if err != nil {
			return nil, err
		}
		doc = updated
	}
	return doc, nil
}

func sendEmailDescriptor() handler.Descriptor {
	return handler.Descriptor{
		Type:         "sendEmail",
		DisplayName:  "Send Email",
		Description:  "Sends an email over SMTP",
		ConfigSchema: json.RawMessage(`{"type":"object","required":["to"],"properties":{"to":{"type":"string"},"subject":{"type":"string"},"body":{"type":"string"},"smtpAddr":{"type":"string"},"from":{"type":"string"}}}`),
		Handler:      handler.HandlerFunc(sendEmailExecute),
	}
}

func sendEmailExecute(ctx context.Context, nctx flow.NodeExecutionContext) (flow.NodeExecutionResult, error) {
	started := time.Now().UTC()
	fail := func(err error) (flow.NodeExecutionResult, error) {
		msg := err.Error()
		return flow.NodeExecutionResult{
			NodeID:     nctx.Node.ID,
			State:      flow.NodeStateFailed,
			Error:      &msg,
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
		}, err
	}

	to, _ := nctx.Node.Config["to"].(string)
	if to == "" {
		return fail(flowerrors.Validation("missing_to", "sendEmail node requires a to address"))
	}
	from, _ := nctx.Node.Config["from"].(string)
	if from == "" {
		from = "n3n-engine@localhost"
	}
	subject, _ := nctx.Node.Config["subject"].(string)
	body, _ := nctx.Node.Config["body"].(string)
	smtpAddr, _ := nctx.Node.Config["smtpAddr"].(string)
	if smtpAddr == "" {
		smtpAddr = "127.0.0.1:25"
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", from, to, subject, body)

	if err := smtp.SendMail(smtpAddr, nil, from, []string{to}, msg.Bytes()); err != nil {
		return fail(flowerrors.Transient("smtp_send_failed", "failed to send email", err))
	}

	return flow.NodeExecutionResult{
		NodeID:     nctx.Node.ID,
		State:      flow.NodeStateSucceeded,
		Output:     map[string]any{"to": to, "subject": subject},
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}, nil
}
