package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
)

func TestAccumulator_ToolCallsInOrder(t *testing.T) {
	acc := NewAccumulator(testLogger())
	for _, ev := range []message.StreamEvent{
		message.MessageStart(message.RoleAssistant),
		message.TextDelta("Checking "),
		message.TextDelta("both."),
		message.BlockStart("a", "weather_getToday"),
		message.ToolInputDelta(`{"ci`),
		message.ToolInputDelta(`ty":"Paris"}`),
		message.BlockStop(),
		message.BlockStart("b", "weather_getTomorrow"),
		message.BlockStop(),
		message.MessageStop(message.StopToolUse),
	} {
		acc.Observe(ev)
	}

	calls := acc.Finalize()
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].ToolUseID)
	assert.Equal(t, map[string]any{"city": "Paris"}, calls[0].Input)
	assert.Equal(t, "weather_getTomorrow", calls[1].Name)
	assert.Equal(t, map[string]any{}, calls[1].Input)
	assert.Equal(t, "Checking both.", acc.Text())
}

func TestAccumulator_NewBlockStartClosesOpenCall(t *testing.T) {
	acc := NewAccumulator(testLogger())
	acc.Observe(message.BlockStart("a", "x_one"))
	acc.Observe(message.ToolInputDelta(`{"n":1}`))
	acc.Observe(message.BlockStart("b", "x_two"))
	acc.Observe(message.ToolInputDelta(`{"n":2}`))

	calls := acc.Finalize()
	require.Len(t, calls, 2)
	assert.Equal(t, map[string]any{"n": float64(1)}, calls[0].Input)
	assert.Equal(t, map[string]any{"n": float64(2)}, calls[1].Input)
}

func TestAccumulator_MalformedInputStaysRaw(t *testing.T) {
	acc := NewAccumulator(testLogger())
	acc.Observe(message.BlockStart("a", "x_one"))
	acc.Observe(message.ToolInputDelta(`{"n":`))
	acc.Observe(message.BlockStop())

	calls := acc.Finalize()
	require.Len(t, calls, 1)
	assert.Equal(t, `{"n":`, calls[0].Input)
}

func TestAccumulator_ReasoningSeparateFromText(t *testing.T) {
	acc := NewAccumulator(testLogger())
	acc.Observe(message.ReasoningDelta("hmm"))
	acc.Observe(message.TextDelta("answer"))
	acc.Observe(message.BlockStop())
	acc.Observe(message.ToolInputDelta("orphan"))

	assert.Equal(t, "hmm", acc.Reasoning())
	assert.Equal(t, "answer", acc.Text())
	assert.Empty(t, acc.Finalize())
}

func TestAccumulator_InputSameForAnySplit(t *testing.T) {
	const input = `{"city":"São Paulo","days":[1,2]}`
	want := map[string]any{"city": "São Paulo", "days": []any{float64(1), float64(2)}}

	observe := func(fragments ...string) message.ToolUse {
		acc := NewAccumulator(testLogger())
		acc.Observe(message.BlockStart("a", "weather_getForecast"))
		for _, f := range fragments {
			acc.Observe(message.ToolInputDelta(f))
		}
		acc.Observe(message.BlockStop())

		calls := acc.Finalize()
		require.Len(t, calls, 1)
		return calls[0]
	}

	for i := 1; i < len(input); i++ {
		assert.Equal(t, want, observe(input[:i], input[i:]).Input, "split at %d", i)
		for j := i + 1; j < len(input); j++ {
			assert.Equal(t, want, observe(input[:i], input[i:j], input[j:]).Input, "split at %d,%d", i, j)
		}
	}
}
