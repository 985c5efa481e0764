package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/openmined/objmirror/internal/journal"
	"github.com/openmined/objmirror/internal/utils"
	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit int
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent reconciliation passes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.JournalPath == "" {
				return fmt.Errorf("pass history is disabled (journal_path is empty)")
			}
			path, err := utils.ResolvePath(a.cfg.JournalPath)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			out := cmd.OutOrStdout()
			if !utils.FileExists(path) {
				fmt.Fprintln(out, gray.Render("no passes recorded"))
				return nil
			}

			j, err := journal.Open(path)
			if err != nil {
				return err
			}
			defer j.Close()

			bucket, key := a.cfg.Bucket, a.cfg.Key
			if all {
				bucket, key = "", ""
			}
			entries, err := j.Recent(bucket, key, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, gray.Render("no passes recorded"))
				return nil
			}
			for _, e := range entries {
				printEntry(out, e)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of passes to show")
	cmd.Flags().BoolVar(&all, "all", false, "show passes for every object, not just the configured one")
	return cmd
}

func printEntry(w io.Writer, e *journal.Entry) {
	status := green.Render(e.Action)
	switch {
	case e.Error != "":
		status = red.Render("error")
	case e.Anomaly != "":
		status = red.Render("anomaly")
	}

	fmt.Fprintf(w, "%-4d %s %s %s %s\n",
		e.ID,
		lightGray.Render(e.StartedAt.Local().Format("2006-01-02 15:04:05")),
		gray.Render("("+humanize.Time(e.StartedAt)+")"),
		status,
		cyan.Render(e.Bucket+"/"+e.Key),
	)
	if e.BackupPath != "" {
		fmt.Fprintf(w, "     backup  %s\n", e.BackupPath)
	}
	if e.Anomaly != "" {
		fmt.Fprintf(w, "     anomaly %s\n", e.Anomaly)
	}
	if e.Error != "" {
		fmt.Fprintf(w, "     error   %s\n", e.Error)
	}
}
