package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	fserrors "github.com/Aman-CERP/fstext/internal/errors"
	mcpserver "github.com/Aman-CERP/fstext/internal/mcp"
	"github.com/Aman-CERP/fstext/internal/pipeline"
	"github.com/Aman-CERP/fstext/internal/ui"
)

func newServeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Watch the directory and serve the index over MCP stdio",
		Long: `Index the watch directory, keep the index in sync with changes, and
serve search_index, load_file and index_status to an MCP client on stdio.

stdout carries the MCP protocol only. Logs go to ~/.fstext/logs/server.log,
and also to stderr with --verbose.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.force, "force", false, "Serve even when stdin is a terminal")

	return cmd
}

func runServe(cmd *cobra.Command, opts *options) error {
	if !opts.force && ui.IsTTY(os.Stdin) {
		return fserrors.ValidationError("stdin is a terminal; serve expects an MCP client on stdio", nil).
			WithSuggestion("Configure fstext as an MCP server in your client, or pass --force.")
	}

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	cleanup, err := setupLogging(cfg, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.New(cfg)
	if err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		slog.Error("pipeline failed to start", fserrors.LogAttrs(err)...)
		return err
	}

	srv, err := mcpserver.NewServer(p)
	if err != nil {
		_ = p.Stop(context.Background())
		return err
	}

	serveErr := srv.Serve(ctx)
	if serveErr != nil {
		slog.Error("MCP server failed", fserrors.LogAttrs(serveErr)...)
	}

	if err := p.Stop(context.WithoutCancel(ctx)); err != nil {
		slog.Error("pipeline shutdown failed", fserrors.LogAttrs(err)...)
		return errors.Join(serveErr, err)
	}
	return serveErr
}
