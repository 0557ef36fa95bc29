package cmd

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fstext/internal/pipeline"
	"github.com/Aman-CERP/fstext/internal/ui"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit  int
	format string // "text", "json"
}

func newSearchCmd(opts *options) *cobra.Command {
	var sopts searchOptions

	cmd := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Index the watch directory once and search it",
		Long: `Build the index for the watch directory, run one keyword search, and
print the results. Nothing is watched afterwards.

Examples:
  fstext search hello
  fstext search "release notes" --watch-dir ~/notes --limit 5
  fstext search todo --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, opts, strings.Join(args, " "), sopts)
		},
	}

	cmd.Flags().IntVarP(&sopts.limit, "limit", "n", 0, "Maximum number of results (default: index.search_limit)")
	cmd.Flags().StringVarP(&sopts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(cmd *cobra.Command, opts *options, keyword string, sopts searchOptions) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	cleanup, err := setupLogging(cfg, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	p, err := pipeline.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = p.Stop(ctx) }()

	if err := p.Load(ctx); err != nil {
		return err
	}

	limit := sopts.limit
	if limit <= 0 {
		limit = p.SearchLimit()
	}
	hits, err := p.Index().Search(ctx, keyword, limit)
	if err != nil {
		return err
	}
	slog.Info("search_complete", slog.String("keyword", keyword), slog.Int("results", len(hits)))

	out := cmd.OutOrStdout()
	if sopts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}
	return ui.RenderHits(out, ui.StylesFor(out), p.Root(), keyword, hits)
}
