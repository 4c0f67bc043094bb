package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsReasoningStartedAndEnded(t *testing.T) {
	assert.False(t, IsReasoningStarted("plain answer"))
	assert.True(t, IsReasoningStarted("<THINK>hmm"))
	assert.True(t, IsReasoningStarted("<thought>x"))
	assert.False(t, IsReasoningEnded("<think>still going"))
	assert.True(t, IsReasoningEnded("<think>done</think> answer"))
}

func TestRemoveReasoning(t *testing.T) {
	in := "<think>\nlet me see\n</think>\n  What is the capital of France?  "
	assert.Equal(t, "What is the capital of France?", RemoveReasoning(in))
	assert.Equal(t, "a  b", RemoveReasoning("a <reason>x</reason> b"))
}

func TestMergeReasoningContent(t *testing.T) {
	text := MergeReasoningContent("", "first ")
	assert.Equal(t, "<think>first ", text)

	text = MergeReasoningContent(text, "second")
	assert.Equal(t, "<think>first second", text)
}

func TestParseReasoning(t *testing.T) {
	segs := ParseReasoning(`intro <think>pondering</think> answer <tool_run>search</tool_run duration="12"> tail`)
	require.Len(t, segs, 5)

	assert.Equal(t, Segment{Type: SegmentText, Content: "intro"}, segs[0])
	assert.Equal(t, SegmentReasoning, segs[1].Type)
	assert.Equal(t, "pondering", segs[1].Content)
	assert.True(t, segs[1].Done)
	assert.Equal(t, "answer", segs[2].Content)
	assert.Equal(t, SegmentToolRun, segs[3].Type)
	assert.True(t, segs[3].Done)
	require.NotNil(t, segs[3].Duration)
	assert.Equal(t, 12, *segs[3].Duration)
	assert.Equal(t, "tail", segs[4].Content)
}

func TestParseReasoning_Unterminated(t *testing.T) {
	segs := ParseReasoning("<think>still thinking")
	require.Len(t, segs, 1)
	assert.Equal(t, SegmentReasoning, segs[0].Type)
	assert.False(t, segs[0].Done)
}

func TestParseReasoning_PlainText(t *testing.T) {
	segs := ParseReasoning("just text")
	require.Len(t, segs, 1)
	assert.Equal(t, SegmentText, segs[0].Type)
	assert.False(t, segs[0].Done)
}
