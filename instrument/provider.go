package instrument

import (
	"fmt"
	"strings"

	agenttrace "github.com/agenttrace/agenttrace-go"
)

const (
	promptMessages     = 3
	promptMessageLimit = 100
)

// ProviderFromModel infers the provider from a model name. A "provider/model"
// prefix wins; otherwise well-known model families are recognised.
func ProviderFromModel(model string) string {
	if provider, _, ok := strings.Cut(model, "/"); ok {
		return provider
	}
	for _, prefix := range []string{"gpt-", "o1", "o3", "text-", "davinci"} {
		if strings.HasPrefix(model, prefix) {
			return OpenAI
		}
	}
	if strings.HasPrefix(model, "claude") {
		return Anthropic
	}
	return "unknown"
}

// PromptPreview renders the last few messages as "[role] content" lines.
// Each message is cut to 100 runes and the whole preview to the preview limit.
func PromptPreview(messages []Message) string {
	start := max(len(messages)-promptMessages, 0)
	lines := make([]string, 0, len(messages)-start)
	for _, m := range messages[start:] {
		role := m.Role
		if role == "" {
			role = "unknown"
		}
		content := m.Content
		if short := agenttrace.Truncate(content, promptMessageLimit); short != content {
			content = short + "..."
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", role, content))
	}
	return agenttrace.Truncate(strings.Join(lines, "\n"), agenttrace.PreviewLimit)
}
