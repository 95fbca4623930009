package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/SpillwaveSolutions/agent-brain/configs"
	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and scaffold configuration",
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigInitCmd())
	return cmd
}

// newConfigShowCmd prints the fully resolved configuration, after file
// loading and environment overrides, as YAML.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return errors.Wrap(errors.KindInternal, "encoding configuration", err)
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
}

// newConfigInitCmd writes the embedded config template so users have a
// complete, commented file to edit.
func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		user  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file template",
		Long: `Init writes the project-local template to
{project_root}/.config/agent-brain.yaml, or with --user the machine-wide
template to ~/.config/agent-brain/config.yaml.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, template, err := configTemplate(user)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return errors.Newf(errors.KindConflict, "%s already exists", path).
					WithHint("pass --force to overwrite it")
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return errors.Wrap(errors.KindInternal, "creating config directory", err)
			}
			if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
				return errors.Wrap(errors.KindInternal, "writing config file", err)
			}
			out.Success("wrote %s", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.Flags().BoolVar(&user, "user", false, "write the user-global config instead of the project-local one")
	return cmd
}

func configTemplate(user bool) (path, template string, err error) {
	if user {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", errors.Wrap(errors.KindInternal, "resolving home directory", err)
		}
		return filepath.Join(home, ".config", "agent-brain", "config.yaml"), configs.UserConfigTemplate, nil
	}
	root, err := projectRoot()
	if err != nil {
		return "", "", err
	}
	return filepath.Join(root, ".config", "agent-brain.yaml"), configs.ProjectConfigTemplate, nil
}
