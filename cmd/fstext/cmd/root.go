// Package cmd provides the CLI commands for fstext.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fstext/internal/config"
	"github.com/Aman-CERP/fstext/internal/logging"
	"github.com/Aman-CERP/fstext/pkg/version"
)

// options holds the flags shared by every command.
type options struct {
	configFile string
	watchDir   string
	indexDir   string
	extensions string
	backend    string
	verbose    bool
	quiet      bool
	force      bool
}

// NewRootCmd creates the root command for the fstext CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&options{})
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fstext",
		Short: "Keep a full-text index in sync with a directory and serve it over MCP",
		Long: `fstext watches a directory, keeps a full-text index of its text files
up to date as they change, and exposes keyword search and file loading
to MCP clients over stdio.

Running 'fstext' without a subcommand is the same as 'fstext serve'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.SetVersionTemplate("fstext version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Config file (default: .fstext.yaml in the watch directory)")
	cmd.PersistentFlags().StringVarP(&opts.watchDir, "watch-dir", "w", ".", "Directory to watch and index")
	cmd.PersistentFlags().StringVar(&opts.indexDir, "index-dir", "", "Directory for a persistent index (default: in memory)")
	cmd.PersistentFlags().StringVarP(&opts.extensions, "extensions", "e", "txt,md", "Comma-separated file extensions to index")
	cmd.PersistentFlags().StringVar(&opts.backend, "backend", config.BackendBleve, "Index backend: bleve or sqlite")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging, also written to stderr")
	cmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "Only log errors")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Serve even when stdin is a terminal")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newInitCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

// loadConfig layers defaults, user and project config files, environment,
// and finally any flags the user set explicitly.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configFile != "" {
		cfg, err = config.LoadFile(opts.configFile)
		if err == nil && cmd.Flags().Changed("watch-dir") {
			cfg.Watch.Dir = opts.watchDir
		}
	} else {
		cfg, err = config.Load(opts.watchDir)
	}
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("index-dir") {
		cfg.Index.Dir = opts.indexDir
	}
	if flags.Changed("extensions") {
		cfg.Watch.Extensions = config.ParseExtensions(opts.extensions)
	}
	if flags.Changed("backend") {
		cfg.Index.Backend = opts.backend
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging installs the slog default for cfg and returns its cleanup.
func setupLogging(cfg *config.Config, opts *options) (func(), error) {
	logCfg := logging.ServerConfig(cfg.Server.LogLevel, cfg.Server.LogFile, opts.verbose, opts.quiet)
	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.Info("fstext starting",
		slog.String("version", version.Version),
		slog.String("watch_dir", cfg.Watch.Dir),
		slog.String("backend", cfg.Index.Backend))
	return cleanup, nil
}
