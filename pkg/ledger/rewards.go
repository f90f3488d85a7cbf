package ledger

import (
	"github.com/shopspring/decimal"
)

// SourceLearningModule rewards whatever the module reports in meta.mic_earned
const SourceLearningModule = "learning_module_completion"

// DefaultSourceRewards is the base MIC reward per earning source
var DefaultSourceRewards = map[string]float64{
	"oaa_tutor_question":         2,
	"oaa_tutor_session_complete": 5,
	"reflection_entry_created":   3,
	"reflection_phase_complete":  5,
	"reflection_entry_complete":  10,
	"reflection_spark":           4,
	"reflection_geist_mode":      7,
	"reflection_epiphany":        12,
	"shield_module_complete":     15,
	"shield_checklist_item":      2,
	"civic_radar_action_taken":   5,
	SourceLearningModule:         0,
}

// RewardTable resolves the base reward of a source
type RewardTable struct {
	Rewards map[string]float64
	Default float64
}

// NewRewardTable overlays overrides on DefaultSourceRewards
func NewRewardTable(overrides map[string]float64, def float64) RewardTable {
	rewards := make(map[string]float64, len(DefaultSourceRewards)+len(overrides))
	for k, v := range DefaultSourceRewards {
		rewards[k] = v
	}
	for k, v := range overrides {
		rewards[k] = v
	}
	return RewardTable{Rewards: rewards, Default: def}
}

// Base returns the unscaled reward for source
func (t RewardTable) Base(source string, meta map[string]any) float64 {
	if source == SourceLearningModule {
		switch v := meta["mic_earned"].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		}
		return 0
	}
	if r, ok := t.Rewards[source]; ok {
		return r
	}
	return t.Default
}

// Scale applies the breaker multiplier and rounds to AmountScale places
func Scale(base, multiplier float64) decimal.Decimal {
	return decimal.NewFromFloat(base).Mul(decimal.NewFromFloat(multiplier)).Round(AmountScale)
}
