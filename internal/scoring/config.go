package scoring

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pipedesk/dealscore/internal/domain"
)

// ConfigError reports malformed or missing scoring configuration. The engine
// fails fast on it rather than computing with undefined behavior.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("scoring config: %s: %s", e.Field, e.Reason)
}

// Factor holds the weight and value table for one call-score factor
type Factor struct {
	Weight float64            `yaml:"weight"`
	Values map[string]float64 `yaml:"values"`
}

// FactorsConfig defines the four call-score factors
type FactorsConfig struct {
	BudgetClarity Factor `yaml:"budget_clarity"`
	Competition   Factor `yaml:"competition"`
	Engagement    Factor `yaml:"engagement"`
	PlanFit       Factor `yaml:"plan_fit"`
}

// MilestonesConfig defines per-milestone bonus points and the overall cap
type MilestonesConfig struct {
	EmailOpened    float64 `yaml:"email_opened"`
	ProposalViewed float64 `yaml:"proposal_viewed"`
	AccountCreated float64 `yaml:"account_created"`
	Cap            float64 `yaml:"cap"`
}

// QuickResponseConfig defines the flat bonus for a fast first reply
type QuickResponseConfig struct {
	WithinHours float64 `yaml:"within_hours"`
	Bonus       float64 `yaml:"bonus"`
}

// DecayPenalty is one grace/rate/cap time penalty
type DecayPenalty struct {
	GraceDays  float64 `yaml:"grace_days"`
	RatePerDay float64 `yaml:"rate_per_day"`
	Cap        float64 `yaml:"cap"`
}

// SilencePenalty decays like DecayPenalty and escalates once the unanswered
// outbound count crosses the threshold.
type SilencePenalty struct {
	DecayPenalty        `yaml:",inline"`
	EscalationMultiplier float64 `yaml:"escalation_multiplier"`
	EscalationThreshold  int     `yaml:"escalation_threshold"`
}

// FollowUpPenalty is the flat deduction per unanswered outbound beyond the threshold
type FollowUpPenalty struct {
	PerMessage float64 `yaml:"per_message"`
	Threshold  int     `yaml:"threshold"`
	Cap        float64 `yaml:"cap"`
}

// PenaltiesConfig groups all time-based penalty tables
type PenaltiesConfig struct {
	EmailNotOpened    DecayPenalty    `yaml:"email_not_opened"`
	ProposalNotViewed DecayPenalty    `yaml:"proposal_not_viewed"`
	Silence           SilencePenalty  `yaml:"silence"`
	FollowUp          FollowUpPenalty `yaml:"follow_up"`
}

// Config is the versioned scoring configuration. It is data, not code:
// history entries record breakdowns as computed under the config version in
// force at the time, and tuning the tables never rewrites them.
type Config struct {
	Version     string `yaml:"version"`
	DefaultBase float64 `yaml:"default_base"`

	Factors         FactorsConfig      `yaml:"factors"`
	TierMultipliers map[domain.Tier]float64 `yaml:"tier_multipliers"`
	Milestones      MilestonesConfig   `yaml:"milestones"`
	QuickResponse   QuickResponseConfig `yaml:"quick_response"`
	Penalties       PenaltiesConfig    `yaml:"penalties"`
}

// DefaultConfig returns the production scoring configuration
func DefaultConfig() *Config {
	return &Config{
		Version:     "v1",
		DefaultBase: 50,
		Factors: FactorsConfig{
			BudgetClarity: Factor{
				Weight: 0.25,
				Values: map[string]float64{"clear": 1.0, "vague": 0.5, "unknown": 0.2, "no_budget": 0.0},
			},
			Competition: Factor{
				Weight: 0.20,
				Values: map[string]float64{"none": 1.0, "light": 0.7, "heavy": 0.4, "incumbent": 0.1},
			},
			Engagement: Factor{
				Weight: 0.25,
				Values: map[string]float64{"high": 1.0, "medium": 0.7, "low": 0.35, "cold": 0.1},
			},
			PlanFit: Factor{
				Weight: 0.30,
				Values: map[string]float64{"exact": 1.0, "strong": 0.85, "medium": 0.65, "weak": 0.3},
			},
		},
		TierMultipliers: map[domain.Tier]float64{
			domain.TierGood:   0.9,
			domain.TierBetter: 1.0,
			domain.TierBest:   1.1,
		},
		Milestones: MilestonesConfig{
			EmailOpened:    5,
			ProposalViewed: 8,
			AccountCreated: 10,
			Cap:            20,
		},
		QuickResponse: QuickResponseConfig{
			WithinHours: 48,
			Bonus:       5,
		},
		Penalties: PenaltiesConfig{
			EmailNotOpened:    DecayPenalty{GraceDays: 2, RatePerDay: 2, Cap: 20},
			ProposalNotViewed: DecayPenalty{GraceDays: 3, RatePerDay: 1.5, Cap: 15},
			Silence: SilencePenalty{
				DecayPenalty:         DecayPenalty{GraceDays: 4, RatePerDay: 2, Cap: 25},
				EscalationMultiplier: 1.5,
				EscalationThreshold:  3,
			},
			FollowUp: FollowUpPenalty{PerMessage: 2, Threshold: 3, Cap: 10},
		},
	}
}

// LoadConfig reads a scoring configuration from a YAML file and validates it
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scoring config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse scoring config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for internal consistency
func (c *Config) Validate() error {
	if c.Version == "" {
		return &ConfigError{Field: "version", Reason: "must be set"}
	}
	if c.DefaultBase < 0 || c.DefaultBase > 100 {
		return &ConfigError{Field: "default_base", Reason: "must be within [0,100]"}
	}

	factors := map[string]Factor{
		"budget_clarity": c.Factors.BudgetClarity,
		"competition":    c.Factors.Competition,
		"engagement":     c.Factors.Engagement,
		"plan_fit":       c.Factors.PlanFit,
	}
	weightSum := 0.0
	for name, f := range factors {
		if f.Weight < 0 {
			return &ConfigError{Field: "factors." + name + ".weight", Reason: "must be non-negative"}
		}
		if len(f.Values) == 0 {
			return &ConfigError{Field: "factors." + name + ".values", Reason: "value table is empty"}
		}
		for v, frac := range f.Values {
			if frac < 0 || frac > 1 {
				return &ConfigError{Field: "factors." + name + ".values." + v, Reason: "must be within [0,1]"}
			}
		}
		weightSum += f.Weight
	}
	if math.Abs(weightSum-1.0) > 1e-9 {
		return &ConfigError{Field: "factors", Reason: fmt.Sprintf("weights must sum to 1.0, got %.4f", weightSum)}
	}

	for _, tier := range []domain.Tier{domain.TierGood, domain.TierBetter, domain.TierBest} {
		m, ok := c.TierMultipliers[tier]
		if !ok {
			return &ConfigError{Field: "tier_multipliers." + string(tier), Reason: "missing"}
		}
		if m <= 0 {
			return &ConfigError{Field: "tier_multipliers." + string(tier), Reason: "must be positive"}
		}
	}

	for field, p := range map[string]DecayPenalty{
		"penalties.email_not_opened":    c.Penalties.EmailNotOpened,
		"penalties.proposal_not_viewed": c.Penalties.ProposalNotViewed,
		"penalties.silence":             c.Penalties.Silence.DecayPenalty,
	} {
		if p.GraceDays < 0 || p.RatePerDay < 0 || p.Cap < 0 {
			return &ConfigError{Field: field, Reason: "grace, rate and cap must be non-negative"}
		}
	}
	if c.Penalties.Silence.EscalationMultiplier < 1 {
		return &ConfigError{Field: "penalties.silence.escalation_multiplier", Reason: "must be >= 1"}
	}
	if c.Penalties.FollowUp.PerMessage < 0 || c.Penalties.FollowUp.Cap < 0 {
		return &ConfigError{Field: "penalties.follow_up", Reason: "per_message and cap must be non-negative"}
	}
	if c.Milestones.Cap < 0 {
		return &ConfigError{Field: "milestones.cap", Reason: "must be non-negative"}
	}
	if c.QuickResponse.WithinHours < 0 {
		return &ConfigError{Field: "quick_response.within_hours", Reason: "must be non-negative"}
	}
	return nil
}
