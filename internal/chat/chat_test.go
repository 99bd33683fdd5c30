package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const systemPrompt = "You are a concise, technical assistant. Answer clearly and accurately."

func TestFormatExample(t *testing.T) {
	got := Format("", []Turn{{User: "hi", Assistant: "hello!"}}, "how are you?")

	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello!"},
		{Role: RoleUser, Content: "how are you?"},
	}, got)
}

func TestFormatEmptyHistory(t *testing.T) {
	got := Format("", nil, "hello")
	require.Len(t, got, 1)
	assert.Equal(t, Message{Role: RoleUser, Content: "hello"}, got[0])

	got = Format(systemPrompt, nil, "hello")
	require.Len(t, got, 2)
	assert.Equal(t, Message{Role: RoleSystem, Content: systemPrompt}, got[0])
	assert.Equal(t, Message{Role: RoleUser, Content: "hello"}, got[1])
}

func TestFormatEmptyStrings(t *testing.T) {
	got := Format("", []Turn{{}}, "")
	assert.Equal(t, []Message{
		{Role: RoleUser},
		{Role: RoleAssistant},
		{Role: RoleUser},
	}, got)
}

func TestFormatLengthAndAlternation(t *testing.T) {
	for _, n := range []int{0, 1, 2, 5, 17} {
		for _, sys := range []string{"", systemPrompt} {
			t.Run(fmt.Sprintf("n=%d/system=%t", n, sys != ""), func(t *testing.T) {
				turns := make([]Turn, n)
				for i := range turns {
					turns[i] = Turn{User: fmt.Sprintf("u%d", i), Assistant: fmt.Sprintf("a%d", i)}
				}

				got := Format(sys, turns, "next")

				want := 2*n + 1
				offset := 0
				if sys != "" {
					want++
					offset = 1
					assert.Equal(t, RoleSystem, got[0].Role)
				}
				require.Len(t, got, want)

				for i := 0; i < n; i++ {
					u, a := got[offset+2*i], got[offset+2*i+1]
					assert.Equal(t, Message{Role: RoleUser, Content: turns[i].User}, u)
					assert.Equal(t, Message{Role: RoleAssistant, Content: turns[i].Assistant}, a)
				}
				assert.Equal(t, Message{Role: RoleUser, Content: "next"}, got[len(got)-1])
			})
		}
	}
}

func TestFormatDoesNotAliasInput(t *testing.T) {
	turns := []Turn{{User: "a", Assistant: "b"}}
	got := Format("", turns, "c")
	got[0].Content = "changed"
	assert.Equal(t, "a", turns[0].User)
}

func TestTurnsRoundTrip(t *testing.T) {
	history := []Turn{
		{User: "hi", Assistant: "hello!"},
		{User: "what is go?", Assistant: "A programming language."},
		{User: "", Assistant: ""},
	}

	for _, sys := range []string{"", systemPrompt} {
		turns, pending, err := Turns(Format(sys, history, "thanks"))
		require.NoError(t, err)
		assert.Equal(t, history, turns)
		assert.Equal(t, "thanks", pending)
	}
}

func TestTurnsRejectsMalformedSequences(t *testing.T) {
	tests := []struct {
		name     string
		messages []Message
	}{
		{"empty", nil},
		{"only system", []Message{{Role: RoleSystem, Content: "s"}}},
		{"trailing assistant", []Message{
			{Role: RoleUser, Content: "u"},
			{Role: RoleAssistant, Content: "a"},
		}},
		{"two users", []Message{
			{Role: RoleUser, Content: "u"},
			{Role: RoleUser, Content: "u2"},
			{Role: RoleUser, Content: "u3"},
		}},
		{"ends with assistant after odd count", []Message{
			{Role: RoleSystem, Content: "s"},
			{Role: RoleAssistant, Content: "a"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Turns(tt.messages)
			assert.True(t, errors.Is(err, ErrUnpairedMessage), "got %v", err)
		})
	}
}

func TestTurnJSON(t *testing.T) {
	data, err := json.Marshal([]Turn{{User: "hi", Assistant: "hello!"}})
	require.NoError(t, err)
	assert.JSONEq(t, `[["hi","hello!"]]`, string(data))

	var turns []Turn
	require.NoError(t, json.Unmarshal([]byte(`[["hi","hello!"],["pending",null]]`), &turns))
	assert.Equal(t, []Turn{{User: "hi", Assistant: "hello!"}, {User: "pending"}}, turns)
}

func TestTurnJSONErrors(t *testing.T) {
	var turn Turn
	assert.Error(t, json.Unmarshal([]byte(`["only one"]`), &turn))
	assert.Error(t, json.Unmarshal([]byte(`{"user":"x"}`), &turn))
	assert.Error(t, json.Unmarshal([]byte(`["a","b","c"]`), &turn))
}

func TestMessageJSON(t *testing.T) {
	data, err := json.Marshal(Message{Role: RoleAssistant, Content: "ok"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"assistant","content":"ok"}`, string(data))
}
