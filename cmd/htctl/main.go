package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	kvengine "github.com/gsauere/kv-engine"
	"github.com/gsauere/kv-engine/util"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "htctl",
	Short: "Exercise an in-memory partition index",
	Long:  `htctl loads synthetic workloads into a partition index, runs its maintenance tasks and reports statistics.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load random keys, run maintenance and print statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, _ := cmd.Flags().GetInt("keys")
		valueSize, _ := cmd.Flags().GetInt("value-size")
		reads, _ := cmd.Flags().GetInt("reads")
		pagerBytes, _ := cmd.Flags().GetInt64("pager-bytes")
		out, _ := cmd.Flags().GetString("out")

		if out != "" && !util.PathExist(filepath.Dir(out)) {
			return fmt.Errorf("dump directory of %s does not exist", out)
		}

		cfg, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := applyFlags(cmd.Flags(), &cfg); err != nil {
			return err
		}
		cfg.Table.Logger = slog.Default()

		p, err := kvengine.OpenPartition(cfg, nil)
		if err != nil {
			return fmt.Errorf("failed to open partition: %w", err)
		}
		defer p.Close()

		value := bytes.Repeat([]byte{'x'}, valueSize)
		for i := 0; i < keys; i++ {
			if _, err := p.Set(util.StringToByte(uuid.NewString()), value, 0); err != nil {
				return fmt.Errorf("set: %w", err)
			}
		}
		hits := 0
		for i := 0; i < reads; i++ {
			itm := p.Table().GetRandomKey(rand.Int63())
			if itm == nil {
				break
			}
			if _, err := p.Get(itm.Key); err == nil {
				hits++
			}
		}
		resized, err := p.Resize()
		if err != nil {
			return err
		}
		if pagerBytes > 0 {
			res, err := p.RunPager(pagerBytes)
			if err != nil {
				return err
			}
			fmt.Printf("pager: ejected %d items, freed %d bytes\n", res.Ejected, res.Freed)
		}

		fmt.Printf("loaded %d keys, %d reads hit, resized: %v, table size %d\n",
			keys, hits, resized, p.Table().Size())
		if err := printStats(p.Stats()); err != nil {
			return err
		}

		if out != "" {
			var buf bytes.Buffer
			if err := p.Table().Dump(&buf); err != nil {
				return err
			}
			if err := atomic.WriteFile(out, &buf); err != nil {
				return fmt.Errorf("failed to write dump: %w", err)
			}
			fmt.Printf("dump written to %s\n", out)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := applyFlags(cmd.Flags(), &cfg); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	},
}

func printStats(st kvengine.StatsSnapshot) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "partition config file (JSON with comments)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	addTableFlags(rootCmd.PersistentFlags())

	loadCmd.Flags().IntP("keys", "n", 10000, "number of keys to load")
	loadCmd.Flags().Int("value-size", 64, "value size in bytes")
	loadCmd.Flags().Int("reads", 1000, "number of random reads")
	loadCmd.Flags().Int64("pager-bytes", 0, "bytes the item pager should free")
	loadCmd.Flags().StringP("out", "o", "", "write a table dump to this file")

	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
