package fusion

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/ruochenliao/ai-training-course-sub000/internal/memory"
)

const (
	defaultMaxChatEntries = 3
	defaultChatSnippetLen = 100
	defaultTokenBudget    = 1500

	knowledgeHeader = "[Knowledge base — authoritative]"
	personalHeader  = "[User facts]"
	chatHeader      = "[Recent conversation]"
)

// TokenCounter counts prompt tokens for budget enforcement.
type TokenCounter interface {
	Count(text string) int
}

// TikTokenCounter counts with the cl100k_base BPE encoding.
type TikTokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTikTokenCounter loads the cl100k_base encoding. The first call
// may fetch and cache the vocabulary file.
func NewTikTokenCounter() (*TikTokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &TikTokenCounter{enc: enc}, nil
}

// Count implements TokenCounter.
func (c *TikTokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// approxCounter estimates ~4 bytes per token. Used when no encoder is
// configured so rendering never depends on a vocabulary download.
type approxCounter struct{}

func (approxCounter) Count(text string) int { return len(text)/4 + 1 }

// RenderConfig holds the configuration for a Renderer.
type RenderConfig struct {
	// MaxChatEntries bounds the conversation excerpt. Zero means 3.
	MaxChatEntries int
	// ChatSnippetLen truncates each chat entry, in runes. Zero means 100.
	ChatSnippetLen int
	// TokenBudget bounds the rendered block. Zero means 1500; negative
	// disables the budget.
	TokenBudget int
	// Tokens counts tokens against the budget. Nil means a byte-length
	// approximation.
	Tokens TokenCounter
}

func (c RenderConfig) withDefaults() RenderConfig {
	if c.MaxChatEntries <= 0 {
		c.MaxChatEntries = defaultMaxChatEntries
	}
	if c.ChatSnippetLen <= 0 {
		c.ChatSnippetLen = defaultChatSnippetLen
	}
	if c.TokenBudget == 0 {
		c.TokenBudget = defaultTokenBudget
	}
	if c.Tokens == nil {
		c.Tokens = approxCounter{}
	}
	return c
}

// Renderer turns a fused Context into the text block injected into the
// agent's message sequence.
type Renderer struct {
	config RenderConfig
}

// NewRenderer creates a Renderer with the given configuration.
func NewRenderer(cfg RenderConfig) *Renderer {
	return &Renderer{config: cfg.withDefaults()}
}

// Render produces the context block: knowledge-base content first and
// labeled authoritative, then personal facts, then a short
// recency-ordered chat excerpt. Sections with no items are omitted;
// an empty context renders to "".
func (r *Renderer) Render(fc Context) string {
	if fc.Empty() {
		return ""
	}

	var knowledge, personal []string
	var chatItems []Item
	for _, item := range fc.Items {
		switch classify(item) {
		case sectionKnowledge:
			knowledge = append(knowledge, "- "+strings.TrimSpace(item.Content))
		case sectionPersonal:
			personal = append(personal, "- "+strings.TrimSpace(item.Content))
		case sectionChat:
			chatItems = append(chatItems, item)
		}
	}

	// Fusion orders by final score; the chat excerpt reads newest first
	// regardless of how the turns scored.
	sort.SliceStable(chatItems, func(i, j int) bool {
		return chatItems[i].CreatedAt.After(chatItems[j].CreatedAt)
	})
	if len(chatItems) > r.config.MaxChatEntries {
		chatItems = chatItems[:r.config.MaxChatEntries]
	}
	chat := make([]string, 0, len(chatItems))
	for _, item := range chatItems {
		role := item.Metadata["role"]
		if role == "" {
			role = "user"
		}
		chat = append(chat, "- "+role+": "+truncateRunes(strings.TrimSpace(item.Content), r.config.ChatSnippetLen))
	}

	var lines []string
	appendSection := func(header string, entries []string) {
		if len(entries) == 0 {
			return
		}
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, header)
		lines = append(lines, entries...)
	}
	appendSection(knowledgeHeader, knowledge)
	appendSection(personalHeader, personal)
	appendSection(chatHeader, chat)

	return r.enforceBudget(lines)
}

// enforceBudget drops trailing lines until the block fits the token
// budget. Headers left without entries are dropped too.
func (r *Renderer) enforceBudget(lines []string) string {
	budget := r.config.TokenBudget
	if budget < 0 {
		return strings.Join(lines, "\n")
	}

	block := strings.Join(lines, "\n")
	for len(lines) > 0 && r.config.Tokens.Count(block) > budget {
		lines = lines[:len(lines)-1]
		for len(lines) > 0 {
			last := lines[len(lines)-1]
			if last != "" && !strings.HasPrefix(last, "[") {
				break
			}
			lines = lines[:len(lines)-1]
		}
		block = strings.Join(lines, "\n")
	}
	return block
}

type section int

const (
	sectionKnowledge section = iota
	sectionPersonal
	sectionChat
)

// classify maps an item to its rendered section by provenance:
// ingested documents and anything public count as knowledge, other
// private items are personal facts, conversation items are chat.
func classify(item Item) section {
	if item.Source == memory.KindConversation {
		return sectionChat
	}
	if item.Source == memory.KindPublic {
		return sectionKnowledge
	}
	if _, ok := item.Metadata["knowledge_base_id"]; ok {
		return sectionKnowledge
	}
	return sectionPersonal
}

// truncateRunes shortens s to at most n runes, appending an ellipsis
// when anything was cut.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…"
}
