package conversation_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"n3n.dev/core/agent/conversation"
	"n3n.dev/core/agent/llm"
)

type fakeClient struct {
	response llm.Response
	lastReq  llm.Request
}

func (f *fakeClient) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	f.lastReq = req
	return f.response, nil
}

func (f *fakeClient) Stream(context.Context, llm.Request) (llm.Streamer, error) {
	return nil, nil
}

func TestSummarizeBelowThresholdIsNoop(t *testing.T) {
	c := &conversation.Conversation{ID: "c1"}
	for i := 0; i < 5; i++ {
		c.Append(llm.RoleUser, "hi")
	}
	s, err := conversation.New(conversation.Options{Client: &fakeClient{}})
	require.NoError(t, err)
	require.NoError(t, s.Summarize(context.Background(), c))
	require.Empty(t, c.Summary)
	require.Len(t, c.Messages, 5)
}

func TestSummarizeCompactsOlderMessages(t *testing.T) {
	c := &conversation.Conversation{ID: "c1"}
	for i := 0; i < 25; i++ {
		c.Append(llm.RoleUser, "message")
	}
	fake := &fakeClient{response: llm.Response{Text: strings.Repeat("x", 300)}}
	s, err := conversation.New(conversation.Options{Client: fake, RecentToKeep: 10, Threshold: 20, MaxSummaryChars: 200})
	require.NoError(t, err)
	require.NoError(t, s.Summarize(context.Background(), c))
	require.Len(t, c.Messages, 10)
	require.Len(t, c.Summary, 200)
}

func TestConversationContextPrependsSummary(t *testing.T) {
	c := &conversation.Conversation{ID: "c1", Summary: "earlier discussion"}
	c.Append(llm.RoleUser, "now what")
	ctxMsgs := c.Context()
	require.Len(t, ctxMsgs, 2)
	require.Equal(t, llm.RoleSystem, ctxMsgs[0].Role)
	require.Equal(t, "earlier discussion", ctxMsgs[0].Text)
}
