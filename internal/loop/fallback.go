package loop

// FallbackConfig lists the model chain to fall back through on stall
// or overload, grounded on driver.rs's FallbackConfig/FallbackState
// pair.
type FallbackConfig struct {
	Models   []string
	MaxHops  int
}

// FallbackState tracks which hop the loop is currently on.
type FallbackState struct {
	CurrentModel string
	hops         int
	history      []fallbackEvent
}

type fallbackEvent struct {
	to     string
	reason string
}

// NewFallbackState seeds the state at the primary model.
func NewFallbackState(primary string) FallbackState {
	return FallbackState{CurrentModel: primary}
}

// ShouldFallback reports whether another hop is available under cfg.
func (s FallbackState) ShouldFallback(cfg FallbackConfig) bool {
	return len(cfg.Models) > 0 && s.hops < cfg.MaxHops
}

// NextModel returns the next candidate in the chain after CurrentModel,
// or ok=false if the chain is exhausted.
func (s FallbackState) NextModel(cfg FallbackConfig) (string, bool) {
	for i, m := range cfg.Models {
		if m == s.CurrentModel && i+1 < len(cfg.Models) {
			return cfg.Models[i+1], true
		}
	}
	if len(cfg.Models) > 0 && s.CurrentModel != cfg.Models[0] {
		return cfg.Models[0], true
	}
	return "", false
}

// RecordFallback commits a hop to model, for reason.
func (s *FallbackState) RecordFallback(model, reason string) {
	s.history = append(s.history, fallbackEvent{to: model, reason: reason})
	s.CurrentModel = model
	s.hops++
}
