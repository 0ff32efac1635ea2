package config

import "testing"

func TestApplyOverrides(t *testing.T) {
	cfg := &Config{
		DefaultProvider: "anthropic",
		Providers: map[string]ProviderConfig{
			"anthropic": {Model: "claude-sonnet-4-5"},
			"openai":    {Model: "gpt-5.2"},
		},
	}

	cfg.ApplyOverrides("openai", "gpt-4o")
	if cfg.DefaultProvider != "openai" {
		t.Fatalf("provider=%q, want %q", cfg.DefaultProvider, "openai")
	}
	if got := cfg.Providers["openai"].Model; got != "gpt-4o" {
		t.Fatalf("openai model=%q, want %q", got, "gpt-4o")
	}
	if got := cfg.Providers["anthropic"].Model; got != "claude-sonnet-4-5" {
		t.Fatalf("anthropic model changed unexpectedly: %q", got)
	}

	cfg.ApplyOverrides("", "gemini-2.5-flash")
	if cfg.DefaultProvider != "openai" {
		t.Fatalf("provider changed unexpectedly: %q", cfg.DefaultProvider)
	}
	if got := cfg.Providers["openai"].Model; got != "gemini-2.5-flash" {
		t.Fatalf("openai model=%q, want %q", got, "gemini-2.5-flash")
	}
}
