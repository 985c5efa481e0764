package main

import (
	"fmt"

	"github.com/openmined/objmirror/internal/config"
	"github.com/openmined/objmirror/internal/utils"
	"github.com/spf13/cobra"
)

func newInitCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file from flags and environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if utils.FileExists(cfg.Path) && !force {
				existing, err := config.LoadFromFile(cfg.Path)
				if err != nil {
					return fmt.Errorf("config %s already exists and cannot be read, use --force to overwrite: %w", cfg.Path, err)
				}
				return fmt.Errorf("config %s already exists for %s/%s, use --force to overwrite",
					cfg.Path, existing.Bucket, existing.Key)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			// Save never writes credentials
			if err := cfg.Save(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "objmirror initialized")
			fmt.Fprintf(out, "Config Path: %s\n", green.Render(cfg.Path))
			fmt.Fprintf(out, "Object:      %s\n", cyan.Render(cfg.Bucket+"/"+cfg.Key))
			fmt.Fprintf(out, "Local Path:  %s\n", cyan.Render(cfg.LocalPath))
			fmt.Fprintf(out, "Region:      %s\n", cyan.Render(cfg.Region))
			if cfg.AccessKey != "" || cfg.SecretKey != "" {
				fmt.Fprintln(out, gray.Render("Credentials were not written; keep them in the environment or a .env file."))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
