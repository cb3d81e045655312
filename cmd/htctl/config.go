package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/tailscale/hujson"

	kvengine "github.com/gsauere/kv-engine"
	"github.com/gsauere/kv-engine/util"
)

// loadConfig reads a partition config from a JSON file, comments and
// trailing commas allowed. Fields missing from the file keep their defaults.
func loadConfig(path string) (kvengine.PartitionConfig, error) {
	cfg := kvengine.DefaultPartitionConfig()
	if path == "" {
		return cfg, nil
	}
	if !util.IsRegularFile(path) {
		return cfg, fmt.Errorf("config %s: not a regular file", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	return parseConfig(data, cfg)
}

func parseConfig(data []byte, cfg kvengine.PartitionConfig) (kvengine.PartitionConfig, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return cfg, fmt.Errorf("invalid JSONC: %w", err)
	}
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid JSON: %w", err)
	}
	return cfg, nil
}

// applyFlags overrides cfg with the table flags the user set explicitly.
func applyFlags(fs *pflag.FlagSet, cfg *kvengine.PartitionConfig) error {
	if fs.Changed("initial-size") {
		v, err := fs.GetInt("initial-size")
		if err != nil {
			return err
		}
		cfg.Table.InitialSize = v
	}
	if fs.Changed("locks") {
		v, err := fs.GetInt("locks")
		if err != nil {
			return err
		}
		cfg.Table.NumLocks = v
	}
	if fs.Changed("visit-budget") {
		v, err := fs.GetInt("visit-budget")
		if err != nil {
			return err
		}
		cfg.VisitBudget = v
	}
	if fs.Changed("full-eviction") {
		v, err := fs.GetBool("full-eviction")
		if err != nil {
			return err
		}
		cfg.EvictionPolicy = kvengine.EvictValue
		if v {
			cfg.EvictionPolicy = kvengine.EvictFull
		}
	}
	return nil
}

func addTableFlags(fs *pflag.FlagSet) {
	fs.Int("initial-size", 0, "initial bucket count (default from config)")
	fs.Int("locks", 0, "number of shard locks (default from config)")
	fs.Int("visit-budget", 0, "slots a background visitor handles per run")
	fs.Bool("full-eviction", false, "eject whole items instead of values")
}
