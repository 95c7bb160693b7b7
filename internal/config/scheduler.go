package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "5m", "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Band maps a time-to-start bucket onto a priority tier and sync interval.
// Within is inclusive: an event starting exactly Within from now falls into
// this band.
type Band struct {
	Within   Duration `yaml:"within"`
	Tier     string   `yaml:"tier"`
	Interval Duration `yaml:"interval"`
}

type TierCaps struct {
	High   int `yaml:"high"`
	Medium int `yaml:"medium"`
	Low    int `yaml:"low"`
}

type PriorityConfig struct {
	PostEventGrace  Duration `yaml:"post_event_grace"`
	Bands           []Band   `yaml:"bands"`
	DefaultTier     string   `yaml:"default_tier"`
	DefaultInterval Duration `yaml:"default_interval"`
}

// ProviderLimit overrides rate budgets for one provider. GlobalBudget, when
// set, is a second budget shared by every partner using the provider.
type ProviderLimit struct {
	Budget       int      `yaml:"budget"`
	Window       Duration `yaml:"window"`
	GlobalBudget int      `yaml:"global_budget"`
	GlobalWindow Duration `yaml:"global_window"`
}

type RateLimitConfig struct {
	Window        Duration                 `yaml:"window"`
	DefaultBudget int                      `yaml:"default_budget"`
	Providers     map[string]ProviderLimit `yaml:"providers"`
}

type ReconcileConfig struct {
	MatchWindow   Duration `yaml:"match_window"`
	NameThreshold float64  `yaml:"name_threshold"`
}

type ExecutorConfig struct {
	MaxPages int `yaml:"max_pages"`
	PageSize int `yaml:"page_size"`
}

type BackfillConfig struct {
	Pace     Duration `yaml:"pace"` // minimum spacing between backfill units
	MaxPages int      `yaml:"max_pages"`
}

type BreakerConfig struct {
	Threshold int      `yaml:"threshold"`
	Cooldown  Duration `yaml:"cooldown"`
}

// SchedulerConfig is the externally adjustable tuning surface: tier table,
// caps, budgets, pacing. None of it requires a code change to alter.
type SchedulerConfig struct {
	CycleSleep        Duration        `yaml:"cycle_sleep"`
	ItemTimeout       Duration        `yaml:"item_timeout"`
	CycleTimeout      Duration        `yaml:"cycle_timeout"`
	DiscoveryInterval Duration        `yaml:"discovery_interval"`
	Workers           int             `yaml:"workers"`
	TierCaps          TierCaps        `yaml:"tier_caps"`
	Priority          PriorityConfig  `yaml:"priority"`
	RateLimit         RateLimitConfig `yaml:"ratelimit"`
	Reconcile         ReconcileConfig `yaml:"reconcile"`
	Executor          ExecutorConfig  `yaml:"executor"`
	Backfill          BackfillConfig  `yaml:"backfill"`
	Breaker           BreakerConfig   `yaml:"breaker"`
}

// DefaultSchedulerConfig returns the built-in tuning values used when no
// SCHEDULER_CONFIG file is provided.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		CycleSleep:        Duration(10 * time.Second),
		ItemTimeout:       Duration(30 * time.Second),
		CycleTimeout:      Duration(5 * time.Minute),
		DiscoveryInterval: Duration(15 * time.Minute),
		Workers:           8,
		TierCaps:          TierCaps{High: 50, Medium: 20, Low: 10},
		Priority: PriorityConfig{
			PostEventGrace: Duration(time.Hour),
			Bands: []Band{
				{Within: Duration(4 * time.Hour), Tier: "high", Interval: Duration(time.Minute)},
				{Within: Duration(24 * time.Hour), Tier: "medium", Interval: Duration(5 * time.Minute)},
			},
			DefaultTier:     "low",
			DefaultInterval: Duration(time.Hour),
		},
		RateLimit: RateLimitConfig{
			Window:        Duration(time.Hour),
			DefaultBudget: 1000,
		},
		Reconcile: ReconcileConfig{
			MatchWindow:   Duration(24 * time.Hour),
			NameThreshold: 1.0,
		},
		Executor: ExecutorConfig{MaxPages: 10, PageSize: 50},
		Backfill: BackfillConfig{Pace: Duration(2 * time.Second), MaxPages: 50},
		Breaker:  BreakerConfig{Threshold: 3, Cooldown: Duration(10 * time.Minute)},
	}
}

// LoadSchedulerConfig reads a YAML tuning file layered over the defaults, so
// partial files only override what they mention.
func LoadSchedulerConfig(path string) (SchedulerConfig, error) {
	cfg := DefaultSchedulerConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse yaml: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with. An empty band
// table is the one business-rule input that has no sane fallback.
func (c SchedulerConfig) Validate() error {
	if len(c.Priority.Bands) == 0 {
		return fmt.Errorf("priority band table is empty")
	}
	for _, b := range c.Priority.Bands {
		switch b.Tier {
		case "high", "medium", "low":
		default:
			return fmt.Errorf("unknown tier %q in band table", b.Tier)
		}
		if b.Interval <= 0 {
			return fmt.Errorf("band %q has non-positive interval", b.Tier)
		}
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.CycleSleep <= 0 {
		return fmt.Errorf("cycle_sleep must be positive")
	}
	return nil
}
