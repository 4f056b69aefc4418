package message_test

import (
	"testing"

	"github.com/ruochenliao/ai-training-course-sub000/pkg/message"
)

func TestLastUserIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msgs []message.Message
		want int
	}{
		{name: "empty", msgs: nil, want: -1},
		{
			name: "no user messages",
			msgs: []message.Message{
				{Role: message.RoleSystem, Content: "rules"},
				{Role: message.RoleAssistant, Content: "hi"},
			},
			want: -1,
		},
		{
			name: "single user",
			msgs: []message.Message{
				{Role: message.RoleUser, Content: "hello"},
			},
			want: 0,
		},
		{
			name: "latest of several",
			msgs: []message.Message{
				{Role: message.RoleUser, Content: "first"},
				{Role: message.RoleAssistant, Content: "reply"},
				{Role: message.RoleUser, Content: "second"},
				{Role: message.RoleAssistant, Content: "reply"},
			},
			want: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := message.LastUserIndex(tt.msgs); got != tt.want {
				t.Errorf("LastUserIndex = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestClone(t *testing.T) {
	t.Parallel()

	if got := message.Clone(nil); got != nil {
		t.Errorf("Clone(nil) = %v, want nil", got)
	}

	orig := []message.Message{
		{Role: message.RoleUser, Content: "hello", Metadata: map[string]string{"chat_id": "42"}},
		{Role: message.RoleAssistant, Content: "hi"},
	}

	cp := message.Clone(orig)
	cp[0].Content = "changed"
	cp[0].Metadata["chat_id"] = "99"

	if orig[0].Content != "hello" {
		t.Errorf("original content mutated: %q", orig[0].Content)
	}
	if orig[0].Metadata["chat_id"] != "42" {
		t.Errorf("original metadata mutated: %q", orig[0].Metadata["chat_id"])
	}
	if cp[1].Metadata != nil {
		t.Errorf("nil metadata gained a map: %v", cp[1].Metadata)
	}
}
