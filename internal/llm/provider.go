package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cocode/agent-core/internal/input"
)

// suggestionsResponse is the common response format for all providers
type suggestionsResponse struct {
	Suggestions []CommandSuggestion `json:"suggestions"`
}

// LegacyProvider is the one-shot suggestion/ask interface the original
// term-llm command surface drove; the agent loop (Component G) instead
// talks to the Stream-based Provider in types.go. Retained for the
// providers below (openai.go, zen.go, codex.go, codeassist.go) that
// still implement GetEdits/GetUnifiedDiff against it.
type LegacyProvider interface {
	// Name returns the provider name for logging/debugging
	Name() string

	// SuggestCommands generates command suggestions based on user input
	SuggestCommands(ctx context.Context, req SuggestRequest) ([]CommandSuggestion, error)

	// StreamResponse streams a text response for the ask command
	StreamResponse(ctx context.Context, req AskRequest, output chan<- string) error
}

// AskRequest contains parameters for asking a question
type AskRequest struct {
	Question     string
	Instructions string // Custom system prompt
	EnableSearch bool
	Debug        bool
	Files        []input.FileContent // Files to include as context
	Stdin        string              // Content piped via stdin
}

// SuggestRequest contains all parameters for a suggestion request
type SuggestRequest struct {
	UserInput      string
	Shell          string
	Instructions   string              // Custom user instructions/context
	NumSuggestions int                 // Number of suggestions to request (default 3)
	EnableSearch   bool
	Debug          bool
	Files          []input.FileContent // Files to include as context
	Stdin          string              // Content piped via stdin
}

// EditToolProvider is an optional interface for providers that support the edit tool
type EditToolProvider interface {
	GetEdits(ctx context.Context, systemPrompt, userPrompt string, debug bool) ([]EditToolCall, error)
}

// UnifiedDiffProvider is an optional interface for providers that support unified diff format.
// This is more efficient for models fine-tuned on single tool calls (e.g., Codex models).
type UnifiedDiffProvider interface {
	GetUnifiedDiff(ctx context.Context, systemPrompt, userPrompt string, debug bool) (string, error)
}

// ToolCallRequest holds parameters for a single-tool LLM call
type ToolCallRequest struct {
	SystemPrompt string
	UserPrompt   string
	ToolName     string
	ToolDesc     string
	ToolSchema   map[string]interface{}
	Debug        bool
}

// ToolCallResult holds the raw results from a tool call
type ToolCallResult struct {
	TextOutput string
	ToolCalls  []ToolCallArguments
}

// ToolCallArguments holds a single tool call's data
type ToolCallArguments struct {
	Name      string
	Arguments json.RawMessage
}

// ParseEditToolCalls extracts EditToolCall structs from raw tool call results
func ParseEditToolCalls(toolCalls []ToolCallArguments) []EditToolCall {
	var edits []EditToolCall
	for _, tc := range toolCalls {
		if tc.Name != "edit" {
			continue
		}
		var edit EditToolCall
		if err := json.Unmarshal(tc.Arguments, &edit); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing edit: %v\n", err)
			continue
		}
		edits = append(edits, edit)
	}
	return edits
}

// ParseUnifiedDiff extracts the diff string from raw tool call results
func ParseUnifiedDiff(toolCalls []ToolCallArguments) (string, error) {
	for _, tc := range toolCalls {
		if tc.Name == "unified_diff" {
			var result struct {
				Diff string `json:"diff"`
			}
			if err := json.Unmarshal(tc.Arguments, &result); err != nil {
				return "", fmt.Errorf("failed to parse unified_diff response: %w", err)
			}
			return result.Diff, nil
		}
	}
	return "", fmt.Errorf("no unified_diff function call in response")
}

// IsCodexModel returns true if the model name indicates a Codex model
// which works better with unified diff format (single tool call).
func IsCodexModel(model string) bool {
	model = strings.ToLower(model)
	return strings.Contains(model, "codex")
}

// ParseLegacyProviderModel parses "provider:model" or just "provider" from a
// flag value against the fixed built-in provider list LegacyProvider
// implementations support. ParseProviderModel in factory.go supersedes this
// for the config-aware (cfg.Providers-backed) call sites.
func ParseLegacyProviderModel(s string) (string, string, error) {
	parts := strings.SplitN(s, ":", 2)
	provider := parts[0]
	model := ""
	if len(parts) == 2 {
		model = parts[1]
	}
	// Validate provider name
	switch provider {
	case "anthropic", "openai", "gemini", "zen", "ollama", "lmstudio", "openai-compat":
		return provider, model, nil
	default:
		return "", "", fmt.Errorf("unknown provider: %s (valid: anthropic, openai, gemini, zen, ollama, lmstudio, openai-compat)", provider)
	}
}
