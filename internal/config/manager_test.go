package config

import (
	"testing"

	"github.com/cocode/agent-core/internal/corestate"
)

func testConfig() *Config {
	return &Config{
		DefaultProvider: "anthropic",
		Providers: map[string]ProviderConfig{
			"anthropic": {Model: "claude-sonnet-4-5"},
			"openai":    {Model: "gpt-5.2"},
		},
	}
}

func TestManager_CurrentSpecForRoleFallsBackToConfigDefault(t *testing.T) {
	m := NewManager(testConfig())

	sel := m.CurrentSpecForRole(MainRole)
	if sel.ProviderKey != "anthropic" || sel.Model != "claude-sonnet-4-5" {
		t.Fatalf("got %+v, want anthropic/claude-sonnet-4-5", sel)
	}
}

func TestManager_SwitchSpecOverridesWithoutMutatingConfig(t *testing.T) {
	cfg := testConfig()
	m := NewManager(cfg)

	if err := m.SwitchSpec(corestate.RoleSelection{ProviderKey: "openai", Model: "gpt-5.2"}); err != nil {
		t.Fatalf("SwitchSpec: %v", err)
	}

	sel := m.CurrentSpecForRole(MainRole)
	if sel.ProviderKey != "openai" || sel.Model != "gpt-5.2" {
		t.Fatalf("got %+v, want openai/gpt-5.2 after override", sel)
	}
	if cfg.DefaultProvider != "anthropic" {
		t.Fatalf("underlying config mutated: DefaultProvider=%q", cfg.DefaultProvider)
	}
}

func TestManager_SwitchRoleSpecRejectsUnknownProvider(t *testing.T) {
	m := NewManager(testConfig())

	err := m.SwitchRoleSpecWithThinking("fast", corestate.RoleSelection{ProviderKey: "nonexistent", Model: "x"}, "")
	if err == nil {
		t.Fatal("expected an error for an unknown provider")
	}
}

func TestManager_BuildConfigMergesOverridesOverRuntimeOverConfig(t *testing.T) {
	m := NewManager(testConfig())
	if err := m.SwitchSpec(corestate.RoleSelection{ProviderKey: "openai", Model: "gpt-5.2"}); err != nil {
		t.Fatalf("SwitchSpec: %v", err)
	}

	snap, err := m.BuildConfig(ConfigOverrides{
		CWD: "/work",
		Models: map[string]corestate.RoleSelection{
			"fast": {ProviderKey: "anthropic", Model: "claude-haiku-4-5"},
		},
	})
	if err != nil {
		t.Fatalf("BuildConfig: %v", err)
	}

	if snap.CWD != "/work" {
		t.Fatalf("CWD=%q, want /work", snap.CWD)
	}
	main, ok := snap.ModelForRole(MainRole)
	if !ok || main.Model != "gpt-5.2" {
		t.Fatalf("main role=%+v, want gpt-5.2 from the runtime override", main)
	}
	fast, ok := snap.ModelForRole("fast")
	if !ok || fast.Model != "claude-haiku-4-5" {
		t.Fatalf("fast role=%+v, want claude-haiku-4-5 from the call override", fast)
	}
	unconfigured, ok := snap.ModelForRole("reviewer")
	if !ok || unconfigured.Model != main.Model {
		t.Fatalf("unconfigured role should fall back to main, got %+v", unconfigured)
	}
}

func TestManager_ReloadPreservesRuntimeOverrides(t *testing.T) {
	m := NewManager(testConfig())
	if err := m.SwitchSpec(corestate.RoleSelection{ProviderKey: "openai", Model: "gpt-5.2"}); err != nil {
		t.Fatalf("SwitchSpec: %v", err)
	}

	before := m.CurrentSelections()
	if len(before) != 1 {
		t.Fatalf("expected one runtime override before reload, got %d", len(before))
	}

	// Reload() re-reads from disk via Load(), which this test environment
	// has no config.yaml for; a failing reload must leave overrides intact.
	_ = m.Reload()

	after := m.CurrentSelections()
	if len(after) != 1 || after[MainRole].Model != "gpt-5.2" {
		t.Fatalf("runtime overrides not preserved across Reload: %+v", after)
	}
}
