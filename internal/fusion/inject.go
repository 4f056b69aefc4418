package fusion

import (
	"context"

	"github.com/ruochenliao/ai-training-course-sub000/pkg/message"
)

// InjectStrategy selects how the fused context block enters the
// outgoing message sequence.
type InjectStrategy string

const (
	// InjectSystemMessage inserts a separate system-role message before
	// the most recent user message.
	InjectSystemMessage InjectStrategy = "system_message"
	// InjectUserPrefix prepends the block to the most recent user
	// message, for protocols that forbid extra system messages.
	InjectUserPrefix InjectStrategy = "user_prefix"
)

// RenderContext renders a fused context with the adapter's configured
// renderer.
func (a *Adapter) RenderContext(fc Context) string {
	return a.config.Renderer.Render(fc)
}

// UpdateContext queries memory with the most recent user message and
// rewrites msgs to carry the fused context. The input slice is never
// mutated. When there is no user message, or fusion returns nothing,
// the original sequence comes back unmodified.
func (a *Adapter) UpdateContext(ctx context.Context, scope Scope, msgs []message.Message, strategy InjectStrategy) ([]message.Message, error) {
	idx := message.LastUserIndex(msgs)
	if idx < 0 {
		return msgs, nil
	}

	fc, err := a.Query(ctx, scope, msgs[idx].Content, a.config.Limit)
	if err != nil {
		return nil, err
	}
	if fc.Empty() {
		return msgs, nil
	}

	block := a.config.Renderer.Render(fc)
	if block == "" {
		return msgs, nil
	}

	out := message.Clone(msgs)
	switch strategy {
	case InjectUserPrefix:
		out[idx].Content = "Relevant memory:\n" + block + "\n\n" + out[idx].Content
	default:
		sys := message.Message{
			Role:    message.RoleSystem,
			Content: "Relevant memory:\n" + block,
		}
		out = append(out[:idx], append([]message.Message{sys}, out[idx:]...)...)
	}
	return out, nil
}
