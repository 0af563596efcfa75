package draftcfg

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/bookdraft-backend/internal/platform/envutil"
)

const (
	EnvConfigFile              = "DRAFT_CONFIG_FILE"
	EnvLockedOutlineMax        = "DRAFT_LOCKED_OUTLINE_MAX"
	EnvSplitThreshold          = "DRAFT_SPLIT_THRESHOLD"
	EnvWideOutlineMin          = "DRAFT_WIDE_OUTLINE_MIN"
	EnvRepairAttempts          = "DRAFT_REPAIR_ATTEMPTS"
	EnvMaxTimeoutAttempts      = "DRAFT_MAX_TIMEOUT_ATTEMPTS"
	EnvMaxDraftAttempts        = "DRAFT_MAX_VALIDATION_ATTEMPTS"
	EnvDefaultMaxTokens        = "DRAFT_DEFAULT_MAX_TOKENS"
	EnvMinMaxTokens            = "DRAFT_MIN_MAX_TOKENS"
	EnvNodeMaxTokens           = "DRAFT_NODE_MAX_TOKENS"
	EnvRepairMaxTokens         = "DRAFT_REPAIR_MAX_TOKENS"
	EnvTokenDecay              = "DRAFT_TOKEN_DECAY"
	EnvForceSplitAfterTimeouts = "DRAFT_FORCE_SPLIT_AFTER_TIMEOUTS"
	EnvFailurePolicy           = "DRAFT_FAILURE_POLICY"
)

type FailurePolicy string

const (
	// FailFirst surfaces only the first failing rule per validation pass.
	FailFirst FailurePolicy = "first"
	// FailAll runs every rule and reports all failures.
	FailAll FailurePolicy = "all"
)

// DensityRule holds the paragraph and emphasis minimums for one profile.
type DensityRule struct {
	MinPerSubparagraph   int `yaml:"min_per_subparagraph"`
	MinTotal             int `yaml:"min_total"`
	TotalPerSubparagraph int `yaml:"total_per_subparagraph"`
	EmphasisFloor        int `yaml:"emphasis_floor"`
	TargetParagraphs     int `yaml:"target_paragraphs"`
}

// Total is the section-wide paragraph minimum for n top-level subparagraphs.
func (r DensityRule) Total(n int) int {
	if t := n * r.TotalPerSubparagraph; t > r.MinTotal {
		return t
	}
	return r.MinTotal
}

type Profile struct {
	Normal DensityRule `yaml:"normal"`
	Wide   DensityRule `yaml:"wide"`
}

type HeadingRule struct {
	MinMicroheadings int `yaml:"min"`
	MaxMicroheadings int `yaml:"max"`
}

type Config struct {
	LockedOutlineMax        int                    `yaml:"locked_outline_max"`
	SplitThreshold          int                    `yaml:"split_threshold"`
	WideOutlineMin          int                    `yaml:"wide_outline_min"`
	RepairAttempts          int                    `yaml:"repair_attempts"`
	MaxTimeoutAttempts      int                    `yaml:"max_timeout_attempts"`
	MaxDraftAttempts        int                    `yaml:"max_draft_attempts"`
	DefaultMaxTokens        int                    `yaml:"default_max_tokens"`
	MinMaxTokens            int                    `yaml:"min_max_tokens"`
	NodeMaxTokens           int                    `yaml:"node_max_tokens"`
	RepairMaxTokens         int                    `yaml:"repair_max_tokens"`
	TokenDecay              float64                `yaml:"token_decay"`
	ForceSplitAfterTimeouts int                    `yaml:"force_split_after_timeouts"`
	FailurePolicy           FailurePolicy          `yaml:"failure_policy"`
	Profiles                map[string]Profile     `yaml:"profiles"`
	Headings                map[string]HeadingRule `yaml:"headings"`
}

func Defaults() Config {
	return Config{
		LockedOutlineMax:        12,
		SplitThreshold:          6,
		WideOutlineMin:          5,
		RepairAttempts:          2,
		MaxTimeoutAttempts:      6,
		MaxDraftAttempts:        3,
		DefaultMaxTokens:        8000,
		MinMaxTokens:            1500,
		NodeMaxTokens:           3000,
		RepairMaxTokens:         1200,
		TokenDecay:              0.75,
		ForceSplitAfterTimeouts: 3,
		FailurePolicy:           FailFirst,
		Profiles: map[string]Profile{
			"dense": {
				Normal: DensityRule{MinPerSubparagraph: 2, MinTotal: 6, TotalPerSubparagraph: 2, EmphasisFloor: 4, TargetParagraphs: 3},
				Wide:   DensityRule{MinPerSubparagraph: 2, MinTotal: 8, TotalPerSubparagraph: 2, EmphasisFloor: 6, TargetParagraphs: 2},
			},
			"auto": {
				Normal: DensityRule{MinPerSubparagraph: 2, MinTotal: 4, TotalPerSubparagraph: 2, EmphasisFloor: 3, TargetParagraphs: 2},
				Wide:   DensityRule{MinPerSubparagraph: 1, MinTotal: 5, TotalPerSubparagraph: 1, EmphasisFloor: 5, TargetParagraphs: 2},
			},
			"sparse": {
				Normal: DensityRule{MinPerSubparagraph: 1, MinTotal: 2, TotalPerSubparagraph: 1, EmphasisFloor: 2, TargetParagraphs: 1},
				Wide:   DensityRule{MinPerSubparagraph: 1, MinTotal: 3, TotalPerSubparagraph: 1, EmphasisFloor: 3, TargetParagraphs: 1},
			},
		},
		Headings: map[string]HeadingRule{
			"low":    {MinMicroheadings: 0, MaxMicroheadings: 1},
			"medium": {MinMicroheadings: 1, MaxMicroheadings: 2},
			"high":   {MinMicroheadings: 2, MaxMicroheadings: 3},
		},
	}
}

// Load starts from Defaults, overlays DRAFT_CONFIG_FILE when set and then
// individual DRAFT_* variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv(EnvConfigFile)); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read %s: %w", EnvConfigFile, err)
		}
		if err := cfg.Overlay(raw); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.LockedOutlineMax = envutil.IntRange(EnvLockedOutlineMax, cfg.LockedOutlineMax, 1, 64)
	cfg.SplitThreshold = envutil.IntRange(EnvSplitThreshold, cfg.SplitThreshold, 1, 64)
	cfg.WideOutlineMin = envutil.IntRange(EnvWideOutlineMin, cfg.WideOutlineMin, 1, 64)
	cfg.RepairAttempts = envutil.IntRange(EnvRepairAttempts, cfg.RepairAttempts, 0, 5)
	cfg.MaxTimeoutAttempts = envutil.IntRange(EnvMaxTimeoutAttempts, cfg.MaxTimeoutAttempts, 1, 20)
	cfg.MaxDraftAttempts = envutil.IntRange(EnvMaxDraftAttempts, cfg.MaxDraftAttempts, 1, 10)
	cfg.DefaultMaxTokens = envutil.IntRange(EnvDefaultMaxTokens, cfg.DefaultMaxTokens, 256, 64000)
	cfg.MinMaxTokens = envutil.IntRange(EnvMinMaxTokens, cfg.MinMaxTokens, 128, 64000)
	cfg.NodeMaxTokens = envutil.IntRange(EnvNodeMaxTokens, cfg.NodeMaxTokens, 256, 64000)
	cfg.RepairMaxTokens = envutil.IntRange(EnvRepairMaxTokens, cfg.RepairMaxTokens, 128, 16000)
	cfg.TokenDecay = envutil.Float(EnvTokenDecay, cfg.TokenDecay)
	cfg.ForceSplitAfterTimeouts = envutil.IntRange(EnvForceSplitAfterTimeouts, cfg.ForceSplitAfterTimeouts, 0, 20)
	cfg.FailurePolicy = FailurePolicy(strings.ToLower(envutil.String(EnvFailurePolicy, string(cfg.FailurePolicy))))

	return cfg, cfg.Validate()
}

// Overlay merges YAML on top of the current values.
func (c *Config) Overlay(raw []byte) error {
	return yaml.Unmarshal(raw, c)
}

func (c Config) Validate() error {
	switch c.FailurePolicy {
	case FailFirst, FailAll:
	default:
		return fmt.Errorf("invalid %s=%q (allowed: first, all)", EnvFailurePolicy, c.FailurePolicy)
	}
	if c.TokenDecay <= 0 || c.TokenDecay >= 1 {
		return fmt.Errorf("invalid %s=%v (must be in (0,1))", EnvTokenDecay, c.TokenDecay)
	}
	if c.MinMaxTokens > c.DefaultMaxTokens {
		return fmt.Errorf("%s (%d) exceeds %s (%d)", EnvMinMaxTokens, c.MinMaxTokens, EnvDefaultMaxTokens, c.DefaultMaxTokens)
	}
	if c.SplitThreshold > c.LockedOutlineMax {
		return fmt.Errorf("%s (%d) exceeds %s (%d)", EnvSplitThreshold, c.SplitThreshold, EnvLockedOutlineMax, c.LockedOutlineMax)
	}
	for _, name := range []string{"auto", "dense", "sparse"} {
		if _, ok := c.Profiles[name]; !ok {
			return fmt.Errorf("density profile %q missing", name)
		}
	}
	for _, name := range []string{"low", "medium", "high"} {
		if _, ok := c.Headings[name]; !ok {
			return fmt.Errorf("heading density %q missing", name)
		}
	}
	return nil
}

// Density picks the rule for a profile name and outline width. Unknown
// profiles fall back to auto.
func (c Config) Density(profile string, wide bool) DensityRule {
	p, ok := c.Profiles[strings.ToLower(strings.TrimSpace(profile))]
	if !ok {
		p = c.Profiles["auto"]
	}
	if wide {
		return p.Wide
	}
	return p.Normal
}

func (c Config) Heading(level string) HeadingRule {
	if h, ok := c.Headings[strings.ToLower(strings.TrimSpace(level))]; ok {
		return h
	}
	return c.Headings["medium"]
}
