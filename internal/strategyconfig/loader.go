package strategyconfig

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// Load reads a strategy file, fills `default` tags for omitted keys and validates it.
// The raw bytes are returned even when validation fails so callers can report them.
func Load(path string) (*Config, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read strategy %s: %w", path, err)
	}

	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, nil, fmt.Errorf("strategy defaults: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // 오타 필드는 즉시 실패
	if err := dec.Decode(&cfg); err != nil {
		return nil, nil, fmt.Errorf("parse strategy %s: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, data, err
	}
	return &cfg, data, nil
}

// Hash identifies the allocation a strategy produces: SHA-256 of its canonical JSON.
// Files that differ only in universe order, exclusions already absent from codes, or the
// cron of a disabled schedule hash the same.
func Hash(cfg *Config) (string, error) {
	jsonBytes, err := json.Marshal(canonical(cfg))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}

// canonical resolves the universe to its sorted eligible set
func canonical(cfg *Config) Config {
	c := *cfg

	codes := cfg.Universe.Eligible()
	sort.Strings(codes)
	c.Universe = Universe{MarketIndex: cfg.Universe.MarketIndex, Codes: codes}

	if !c.Schedule.Enabled {
		c.Schedule.Cron = ""
	}
	return c
}

// NewDecisionSnapshot records what a published allocation was computed from
func NewDecisionSnapshot(cfg *Config, yamlData []byte, gitCommit, dataSnapshotID string) (*DecisionSnapshot, error) {
	hash, err := Hash(cfg)
	if err != nil {
		return nil, err
	}

	return &DecisionSnapshot{
		ConfigHash:     hash,
		ConfigYAML:     string(yamlData),
		StrategyID:     cfg.Meta.StrategyID,
		Universe:       cfg.Universe.Eligible(),
		GitCommit:      gitCommit,
		DataSnapshotID: dataSnapshotID,
		CreatedAt:      time.Now(),
	}, nil
}
