// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the research-orchestrator CLI.
// The CLI starts research runs, streams their progress, and reads stored
// runs back as status views, message logs, and exports.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/research-orchestrator/internal/logging"
	"github.com/pdiddy/research-orchestrator/internal/secrets"
	"github.com/pdiddy/research-orchestrator/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// cfg is the effective configuration, resolved before every command runs.
var cfg = types.DefaultConfig()

// logger is built in PersistentPreRunE and synced in PersistentPostRun.
var logger = zap.NewNop()

// rootCmd is the base command for the research-orchestrator CLI.
var rootCmd = &cobra.Command{
	Use:   "research-orchestrator",
	Short: "Orchestrate multi-step research runs",
	Long: `research-orchestrator drives a research question through planning,
retrieval, analysis, evaluation, and report generation. A scheduler picks
the next stage, stalled runs are recovered or completed with a fallback
report, and critical stages wait for human approval.

Runs are stored so their status, message log, and report can be read back
with the status, messages, list, and export commands.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		verbose, _ := cmd.Flags().GetBool("verbose")
		l, err := logging.New(cfg.Log, verbose)
		if err != nil {
			return err
		}
		logger = l

		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		secrets.Apply(s, &cfg)
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			logger.Debug("loaded secrets", zap.Strings("keys", keys))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./research-orchestrator.yaml or ~/.config/research-orchestrator/research-orchestrator.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().String("store", "", "run store backend: sqlite or memory")
	rootCmd.PersistentFlags().String("store-dir", "", "directory holding the run database")

	_ = viper.BindPFlag("store.backend", rootCmd.PersistentFlags().Lookup("store"))
	_ = viper.BindPFlag("store.dir", rootCmd.PersistentFlags().Lookup("store-dir"))
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "Ignoring .env:", err)
	}

	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("research-orchestrator")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "research-orchestrator"))
		}
	}

	viper.SetEnvPrefix("RESEARCH_ORCHESTRATOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults(types.DefaultConfig())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// setDefaults registers the keys that may come from the environment.
func setDefaults(d types.Config) {
	viper.SetDefault("orchestrator.max_iterations", d.Orchestrator.MaxIterations)
	viper.SetDefault("orchestrator.stall_recover_after", d.Orchestrator.StallRecoverAfter)
	viper.SetDefault("orchestrator.stall_terminate_after", d.Orchestrator.StallTerminateAfter)
	viper.SetDefault("approval.mode", string(d.Approval.Mode))
	viper.SetDefault("approval.context_messages", d.Approval.ContextMessages)
	viper.SetDefault("approval.excerpt_length", d.Approval.ExcerptLength)
	viper.SetDefault("store.backend", string(d.Store.Backend))
	viper.SetDefault("store.dir", d.Store.Dir)
	viper.SetDefault("search.timeout", d.Search.Timeout)
	viper.SetDefault("search.user_agent", d.Search.UserAgent)
	viper.SetDefault("search.max_retries", d.Search.MaxRetries)
	viper.SetDefault("search.max_results", d.Search.MaxResults)
	viper.SetDefault("search.enable_arxiv", d.Search.EnableArxiv)
	viper.SetDefault("search.enable_openalex", d.Search.EnableOpenAlex)
	viper.SetDefault("search.openalex_email", d.Search.OpenAlexEmail)
	viper.SetDefault("log.level", d.Log.Level)
	viper.SetDefault("log.format", d.Log.Format)
}

// loadConfig resolves cfg from defaults, the config file, the environment,
// and bound flags.
func loadConfig() error {
	c := types.DefaultConfig()
	if err := viper.Unmarshal(&c); err != nil {
		return fmt.Errorf("reading configuration: %w", err)
	}
	if c.Store.Backend == "" {
		c.Store.Backend = types.StoreSQLite
	}
	if c.Store.Dir == "" {
		c.Store.Dir = types.DefaultConfig().Store.Dir
	}
	cfg = c
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
