package persona

import (
	"errors"
	"fmt"
	"strings"
)

const defaultMaxHistoryTokens = 4000

// ErrEmptyMessage is returned when the caller sends a blank chat message.
var ErrEmptyMessage = errors.New("message is required")

type Language string

const (
	Spanish    Language = "Spanish"
	English    Language = "English"
	French     Language = "French"
	German     Language = "German"
	Italian    Language = "Italian"
	Portuguese Language = "Portuguese"
)

// ParseLanguage maps a display name or ISO 639-1 code to a Language.
// Unknown or empty values fall back to Spanish.
func ParseLanguage(s string) Language {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "english", "en":
		return English
	case "french", "fr":
		return French
	case "german", "de":
		return German
	case "italian", "it":
		return Italian
	case "portuguese", "pt":
		return Portuguese
	default:
		return Spanish
	}
}

type Persona string

const (
	Santa      Persona = "santa"
	Grinch     Persona = "grinch"
	SpicySanta Persona = "spicy_santa"
)

// CallContext describes the child the call is for.
type CallContext struct {
	RecipientName string  `json:"recipientName"`
	Age           string  `json:"age"`
	Gifts         string  `json:"gifts"`
	Behavior      string  `json:"behavior"`
	Details       string  `json:"details,omitempty"`
	Persona       Persona `json:"persona"`
}

// Turn is one message of a prior conversation. Role is "user" or "model".
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Instruction returns the localized system instruction for the call context.
func Instruction(cc CallContext, lang Language) string {
	t, ok := translations[lang]
	if !ok {
		t = translations[Spanish]
	}

	or := func(v string) string {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
		return t.notSpecified
	}

	var sb strings.Builder
	sb.WriteString(t.base)
	sb.WriteString("\n\n")
	sb.WriteString(t.childInfo)
	fmt.Fprintf(&sb, "\n- %s: %s", t.name, or(cc.RecipientName))
	fmt.Fprintf(&sb, "\n- %s: %s", t.age, or(cc.Age))
	fmt.Fprintf(&sb, "\n- %s: %s", t.gifts, or(cc.Gifts))
	fmt.Fprintf(&sb, "\n- %s: %s", t.behavior, or(cc.Behavior))
	if d := strings.TrimSpace(cc.Details); d != "" {
		fmt.Fprintf(&sb, "\n- %s: %s", t.details, d)
	}
	sb.WriteString("\n\n")

	switch cc.Persona {
	case Grinch:
		sb.WriteString(t.grinch)
	case SpicySanta:
		sb.WriteString(t.spicy)
	default:
		sb.WriteString(t.santa)
	}
	return sb.String()
}

// Builder assembles single-string chat prompts for text generation.
type Builder struct {
	MaxHistoryTokens int
}

// New creates a Builder with the given token budget for replayed history.
// If maxHistoryTokens <= 0, the default (4000) is used.
func New(maxHistoryTokens int) *Builder {
	if maxHistoryTokens <= 0 {
		maxHistoryTokens = defaultMaxHistoryTokens
	}
	return &Builder{MaxHistoryTokens: maxHistoryTokens}
}

// BuildPrompt renders the instruction, the most recent history that fits the
// budget, and the new message as one prompt ending in "Assistant:".
func (b *Builder) BuildPrompt(cc CallContext, lang Language, history []Turn, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyMessage
	}

	prompt := Instruction(cc, lang)
	if lines := b.historyLines(history); len(lines) > 0 {
		prompt += "\n\n" + strings.Join(lines, "\n")
	}
	return prompt + "\n\n User: " + message + "\nAssistant:", nil
}

// historyLines keeps the newest turns whose combined size stays under the
// budget, returned in chronological order.
func (b *Builder) historyLines(history []Turn) []string {
	remaining := b.MaxHistoryTokens
	var kept []string
	for i := len(history) - 1; i >= 0; i-- {
		text := strings.TrimSpace(history[i].Text)
		if text == "" {
			continue
		}
		line := "Assistant: " + text
		if history[i].Role == "user" {
			line = "User: " + text
		}
		tokens := EstimateTokens(line)
		if tokens > remaining {
			break
		}
		kept = append(kept, line)
		remaining -= tokens
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
