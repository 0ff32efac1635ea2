package config

import (
	"fmt"
	"sync"

	"github.com/cocode/agent-core/internal/corekind"
	"github.com/cocode/agent-core/internal/corestate"
)

// MainRole is the role name used when a caller does not target a
// specific role (the teacher's notion of the "default" provider).
const MainRole = "main"

// ConfigOverrides is the runtime-overrides layer BuildConfig merges on
// top of JSON config and built-in defaults, grounded on the original's
// ConfigOverrides passed into ConfigManager::build_config.
type ConfigOverrides struct {
	CWD    string
	Models map[string]corestate.RoleSelection
}

// ConfigSnapshot is the immutable value BuildConfig returns: a plain
// copy of every field a caller might read, holding no pointer into the
// Manager's mutable state (its *Config is read once under lock and
// copied out field by field, its Providers map is copied entry by
// entry). Safe to pass to G/H without further synchronization.
type ConfigSnapshot struct {
	CWD             string
	DefaultProvider string
	Providers       map[string]ProviderConfig
	Models          map[string]corestate.RoleSelection
	AutoCompact     bool
	Tools           ToolsConfig
	Search          SearchConfig
}

// ModelForRole returns the resolved selection for role, or the Main
// role's selection if role has no entry of its own — mirroring the
// original's "Fast falls back to Main if not configured".
func (s ConfigSnapshot) ModelForRole(role string) (corestate.RoleSelection, bool) {
	if sel, ok := s.Models[role]; ok {
		return sel, true
	}
	sel, ok := s.Models[MainRole]
	return sel, ok
}

// Manager is the thread-safe, snapshot-producing Config Manager (spec
// §4.I): three precedence layers (runtime overrides > JSON config >
// built-in defaults), grounded on
// _examples/original_source/cocode-rs/common/config/src/manager.rs's
// ConfigManager, rendered over the teacher's existing viper/mapstructure
// *Config instead of the original's JSON+TOML loader pair — the
// precedence structure and method names carry over, the file format
// does not.
type Manager struct {
	mu      sync.RWMutex
	cfg     *Config
	runtime map[string]corestate.RoleSelection // per-role runtime overrides, highest precedence
}

// NewManager wraps an already-loaded *Config (see Load) in a Manager.
func NewManager(cfg *Config) *Manager {
	return &Manager{cfg: cfg, runtime: make(map[string]corestate.RoleSelection)}
}

// CurrentSpecForRole resolves a role's active provider/model/thinking
// selection: runtime override first, then the JSON-config default
// provider (role==MainRole only — the teacher's config has no
// per-role provider table beyond the active one), finally a built-in
// fallback.
func (m *Manager) CurrentSpecForRole(role string) corestate.RoleSelection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if sel, ok := m.runtime[role]; ok {
		return sel
	}

	if role == MainRole || role == "" {
		if provCfg := m.cfg.GetActiveProviderConfig(); provCfg != nil {
			return corestate.RoleSelection{
				Role:        MainRole,
				ProviderKey: m.cfg.DefaultProvider,
				Model:       provCfg.Model,
			}
		}
	}

	return corestate.RoleSelection{Role: role, ProviderKey: "openai", Model: "gpt-5"}
}

// SwitchSpec sets the Main role's runtime override, in-memory only —
// to persist, edit config.yaml directly (matching the original's "To
// persist, edit config.toml directly").
func (m *Manager) SwitchSpec(sel corestate.RoleSelection) error {
	return m.SwitchRoleSpecWithThinking(MainRole, sel, sel.ThinkingLevel)
}

// SwitchRoleSpecWithThinking sets role's runtime override to sel with
// thinkingLevel, after validating sel's provider is known.
func (m *Manager) SwitchRoleSpecWithThinking(role string, sel corestate.RoleSelection, thinkingLevel string) error {
	if err := m.validateProvider(sel.ProviderKey); err != nil {
		return err
	}

	sel.Role = role
	sel.ThinkingLevel = thinkingLevel

	m.mu.Lock()
	defer m.mu.Unlock()
	m.runtime[role] = sel
	return nil
}

// CurrentSelections returns a copy of every runtime-overridden role.
func (m *Manager) CurrentSelections() map[string]corestate.RoleSelection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]corestate.RoleSelection, len(m.runtime))
	for k, v := range m.runtime {
		out[k] = v
	}
	return out
}

// BuildConfig produces an immutable ConfigSnapshot merging overrides
// over the Manager's current JSON config and runtime selections.
func (m *Manager) BuildConfig(overrides ConfigOverrides) (ConfigSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	providers := make(map[string]ProviderConfig, len(m.cfg.Providers))
	for name, p := range m.cfg.Providers {
		providers[name] = p
	}

	models := make(map[string]corestate.RoleSelection, len(m.runtime)+1)
	for role, sel := range m.runtime {
		models[role] = sel
	}
	if _, ok := models[MainRole]; !ok {
		if provCfg := m.cfg.GetActiveProviderConfig(); provCfg != nil {
			models[MainRole] = corestate.RoleSelection{
				Role:        MainRole,
				ProviderKey: m.cfg.DefaultProvider,
				Model:       provCfg.Model,
			}
		}
	}
	for role, sel := range overrides.Models {
		models[role] = sel
	}

	cwd := overrides.CWD
	if cwd == "" {
		cwd = "."
	}

	return ConfigSnapshot{
		CWD:             cwd,
		DefaultProvider: m.cfg.DefaultProvider,
		Providers:       providers,
		Models:          models,
		AutoCompact:     m.cfg.AutoCompact,
		Tools:           m.cfg.Tools,
		Search:          m.cfg.Search,
	}, nil
}

// Reload re-reads config.yaml from disk via Load, preserving runtime
// overrides across the swap — matching the original's "Runtime
// overrides are preserved across reloads".
func (m *Manager) Reload() error {
	fresh, err := Load()
	if err != nil {
		return corekind.Wrap(corekind.Internal, "reloading configuration", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = fresh
	return nil
}

func (m *Manager) validateProvider(provider string) error {
	if provider == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.cfg.Providers[provider]; ok {
		return nil
	}
	for _, name := range GetBuiltInProviderNames() {
		if name == provider {
			return nil
		}
	}
	return corekind.Newf(corekind.NotFound, "unknown provider %q", provider)
}

func (m *Manager) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Sprintf("Manager{default=%s providers=%d overrides=%d}", m.cfg.DefaultProvider, len(m.cfg.Providers), len(m.runtime))
}
