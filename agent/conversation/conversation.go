// Package conversation implements conversation-lifecycle bookkeeping for the
// AI flow builder: a bounded message list plus a ConversationSummarizer that
// compresses old turns through agent/llm once the list grows past a
// threshold, grounded on the teacher's planner/model summarise pattern
// (an LLM call through the provider-agnostic client, packed as a system
// message ahead of the live conversation).
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"n3n.dev/core/agent/llm"
)

// Message is one turn in a conversation.
type Message struct {
	Role llm.Role
	Text string
}

// Conversation tracks one AI builder conversation's message history and, once
// summarised, a compacted summary of everything older than the retained
// tail.
type Conversation struct {
	ID       string
	Messages []Message
	Summary  string
}

// Context returns the LLM message list for this conversation: the summary
// (if any) as a leading system message, followed by the retained messages.
func (c *Conversation) Context() []llm.Message {
	out := make([]llm.Message, 0, len(c.Messages)+1)
	if c.Summary != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Text: c.Summary})
	}
	for _, m := range c.Messages {
		out = append(out, llm.Message{Role: m.Role, Text: m.Text})
	}
	return out
}

// Append adds a message to the conversation.
func (c *Conversation) Append(role llm.Role, text string) {
	c.Messages = append(c.Messages, Message{Role: role, Text: text})
}

const (
	// DefaultThreshold is the message-list length that triggers summarisation.
	DefaultThreshold = 20
	// DefaultRecentToKeep is how many of the most recent messages survive
	// summarisation untouched.
	DefaultRecentToKeep = 10
	// DefaultMaxSummaryChars bounds the summary's length.
	DefaultMaxSummaryChars = 200
)

const summarizePrompt = "Summarize the conversation below in %d characters or fewer. " +
	"Preserve the topics discussed, decisions made, action items, and key " +
	"technical details. Do not include pleasantries or restate the instructions."

// Summarizer compresses a conversation's older messages into a short summary
// via an LLM call, keeping the most recent messages intact.
type Summarizer struct {
	client          llm.Client
	model           string
	threshold       int
	recentToKeep    int
	maxSummaryChars int
}

// Options configures a Summarizer.
type Options struct {
	Client llm.Client
	// Model selects the LLM model; empty defers to the client's default.
	Model string
	// Threshold overrides DefaultThreshold when non-zero.
	Threshold int
	// RecentToKeep overrides DefaultRecentToKeep when non-zero.
	RecentToKeep int
	// MaxSummaryChars overrides DefaultMaxSummaryChars when non-zero.
	MaxSummaryChars int
}

// New builds a Summarizer.
func New(opts Options) (*Summarizer, error) {
	if opts.Client == nil {
		return nil, errors.New("conversation: llm client is required")
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	recentToKeep := opts.RecentToKeep
	if recentToKeep <= 0 {
		recentToKeep = DefaultRecentToKeep
	}
	maxSummaryChars := opts.MaxSummaryChars
	if maxSummaryChars <= 0 {
		maxSummaryChars = DefaultMaxSummaryChars
	}
	return &Summarizer{
		client:          opts.Client,
		model:           opts.Model,
		threshold:       threshold,
		recentToKeep:    recentToKeep,
		maxSummaryChars: maxSummaryChars,
	}, nil
}

// Summarize compresses c's older messages into c.Summary when the message
// list exceeds the configured threshold, leaving exactly recentToKeep
// messages behind. A no-op when c is still below the threshold.
func (s *Summarizer) Summarize(ctx context.Context, c *Conversation) error {
	if len(c.Messages) <= s.threshold {
		return nil
	}
	cut := len(c.Messages) - s.recentToKeep
	older := c.Messages[:cut]

	var transcript strings.Builder
	for _, m := range older {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Text)
	}

	req := llm.Request{
		Model: s.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Text: fmt.Sprintf(summarizePrompt, s.maxSummaryChars)},
			{Role: llm.RoleUser, Text: transcript.String()},
		},
	}
	resp, err := s.client.Complete(ctx, req)
	if err != nil {
		return fmt.Errorf("conversation: summarize: %w", err)
	}
	summary := strings.TrimSpace(resp.Text)
	if len(summary) > s.maxSummaryChars {
		summary = summary[:s.maxSummaryChars]
	}

	c.Summary = summary
	c.Messages = append([]Message(nil), c.Messages[cut:]...)
	return nil
}
