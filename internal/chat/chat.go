// Package chat holds the role-tagged message model and the history formatter
// that turns a widget's (user, assistant) turn list into a chat-completion
// message sequence.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat-completion message list.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Turn is one completed user/assistant exchange. It encodes as a two-element
// JSON array, the shape chat widgets send history in.
type Turn struct {
	User      string
	Assistant string
}

func (t Turn) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{t.User, t.Assistant})
}

func (t *Turn) UnmarshalJSON(data []byte) error {
	var pair []*string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("turn must be a [user, assistant] array: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("turn must have exactly 2 elements, got %d", len(pair))
	}
	*t = Turn{User: deref(pair[0]), Assistant: deref(pair[1])}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// RespondFunc is the callback a chat front end invokes once per submission.
type RespondFunc func(ctx context.Context, message string, history []Turn) (string, error)

var ErrUnpairedMessage = errors.New("message sequence is not alternating user/assistant")

// Format builds the message list for a completion call: the system prompt
// (when non-empty), each turn as a user then assistant message, and finally
// newMessage as a user message.
func Format(systemPrompt string, turns []Turn, newMessage string) []Message {
	n := 2*len(turns) + 1
	if systemPrompt != "" {
		n++
	}
	messages := make([]Message, 0, n)
	if systemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: systemPrompt})
	}
	for _, t := range turns {
		messages = append(messages,
			Message{Role: RoleUser, Content: t.User},
			Message{Role: RoleAssistant, Content: t.Assistant},
		)
	}
	return append(messages, Message{Role: RoleUser, Content: newMessage})
}

// Turns reverses Format. A leading system message is skipped, consecutive
// user/assistant pairs become turns and the trailing user message is returned
// as pending.
func Turns(messages []Message) ([]Turn, string, error) {
	if len(messages) > 0 && messages[0].Role == RoleSystem {
		messages = messages[1:]
	}
	if len(messages)%2 == 0 {
		return nil, "", fmt.Errorf("%w: expected a trailing user message", ErrUnpairedMessage)
	}

	turns := make([]Turn, 0, len(messages)/2)
	for i := 0; i+1 < len(messages); i += 2 {
		u, a := messages[i], messages[i+1]
		if u.Role != RoleUser || a.Role != RoleAssistant {
			return nil, "", fmt.Errorf("%w: got %s, %s at position %d", ErrUnpairedMessage, u.Role, a.Role, i)
		}
		turns = append(turns, Turn{User: u.Content, Assistant: a.Content})
	}

	last := messages[len(messages)-1]
	if last.Role != RoleUser {
		return nil, "", fmt.Errorf("%w: last message has role %s", ErrUnpairedMessage, last.Role)
	}
	return turns, last.Content, nil
}
