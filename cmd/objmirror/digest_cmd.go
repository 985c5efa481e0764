package main

import (
	"fmt"

	"github.com/openmined/objmirror/internal/digest"
	"github.com/spf13/cobra"
)

func newDigestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "digest <file|->...",
		Short: "Print the SHA-512 digest of files or stdin",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			for _, arg := range args {
				var (
					d   digest.Digest
					err error
				)
				if arg == "-" {
					d, err = digest.Reader(cmd.InOrStdin())
				} else {
					d, err = digest.File(arg)
				}
				if err != nil {
					return fmt.Errorf("digest %s: %w", arg, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", d, arg)
			}
			return nil
		},
	}
}
