package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fstext/configs"
	"github.com/Aman-CERP/fstext/internal/config"
	fserrors "github.com/Aman-CERP/fstext/internal/errors"
)

// projectConfigName is the file `fstext init` creates in the watch directory.
const projectConfigName = ".fstext.yaml"

func newInitCmd(opts *options) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter .fstext.yaml into the watch directory",
		Long: `Create .fstext.yaml in the watch directory from the built-in template.
An existing file is left alone unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := writeProjectConfig(opts.watchDir, force)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing .fstext.yaml")

	return cmd
}

// writeProjectConfig writes the template into dir and checks that it loads.
func writeProjectConfig(dir string, force bool) (string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fserrors.WatchError(dir, err)
	}

	path := filepath.Join(dir, projectConfigName)
	if _, err := os.Stat(path); err == nil && !force {
		return "", fserrors.ValidationError(path+" already exists", nil).
			WithSuggestion("Pass --force to overwrite it.")
	}

	if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	if _, err := config.Load(dir); err != nil {
		return "", fmt.Errorf("written config does not load: %w", err)
	}
	return path, nil
}
