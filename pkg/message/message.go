// Package message defines the platform-agnostic chat message contract
// between the memory core and external agent runtimes.
package message

// Role identifies the author of a message in a conversation.
type Role string

// Role constants for conversation messages.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in the sequence handed to the completion
// provider. Metadata carries runtime-specific fields the core does not
// interpret; it is passed through injection untouched.
type Message struct {
	Role     Role              `json:"role"`
	Content  string            `json:"content"`
	Name     string            `json:"name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IsUser reports whether the message was authored by the end user.
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

// LastUserIndex returns the index of the most recent user-authored
// message in msgs, or -1 if none exists.
func LastUserIndex(msgs []Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsUser() {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of msgs so injection never mutates the
// caller's slice.
func Clone(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		if msgs[i].Metadata != nil {
			md := make(map[string]string, len(msgs[i].Metadata))
			for k, v := range msgs[i].Metadata {
				md[k] = v
			}
			out[i].Metadata = md
		}
	}
	return out
}
