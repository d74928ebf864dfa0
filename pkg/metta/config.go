package metta

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the tiered-compilation-cache thresholds and optimizer
// toggles. yaml.v3 is this core's configuration-file format, the same
// library used across the rest of the ecosystem for CLI/service
// configuration.
type Config struct {
	BytecodeThreshold int64 `yaml:"bytecode_threshold"`
	JIT1Threshold     int64 `yaml:"jit1_threshold"`
	JIT2Threshold     int64 `yaml:"jit2_threshold"`
	WarmUpThreshold   int64 `yaml:"warmup_threshold"`
	SamplingInterval  int64 `yaml:"sampling_interval"`

	EnablePeephole bool `yaml:"enable_peephole"`
	EnableDCE      bool `yaml:"enable_dce"`
	MaxPeepholePasses int `yaml:"max_peephole_passes"`

	BloomRebuildRatio float64 `yaml:"bloom_rebuild_ratio"`

	// SequentialEvalThreshold is the concurrent-evaluation count below
	// which background compiles are considered "sequential mode" and
	// scheduled onto the lightweight dynamic pool; at or above it,
	// compiles are considered "concurrent mode" and routed to the
	// priority scheduler instead, strictly below interactive-evaluation
	// priority, so they cannot starve evaluation under concurrent load.
	SequentialEvalThreshold int64 `yaml:"sequential_eval_threshold"`
}

// DefaultConfig returns the core's standard thresholds:
// bytecode=1, JIT1=100, JIT2=500, warm-up=1000, sampling=32.
func DefaultConfig() Config {
	return Config{
		BytecodeThreshold: 1,
		JIT1Threshold:     100,
		JIT2Threshold:     500,
		WarmUpThreshold:   1000,
		SamplingInterval:  32,
		EnablePeephole:    true,
		EnableDCE:         true,
		MaxPeepholePasses: 10,
		BloomRebuildRatio: 0.25,

		SequentialEvalThreshold: 2,
	}
}

// LoadConfig reads a YAML config file, applying its values on top of
// DefaultConfig() so a partial file only overrides what it mentions.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("metta: reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("metta: parsing config %s: %w", path, err)
	}
	return cfg, nil
}
