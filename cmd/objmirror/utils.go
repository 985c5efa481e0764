package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/openmined/objmirror/internal/reconcile"
)

var (
	// https://github.com/muesli/termenv/blob/master/ansicolors.go
	red       = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cyan      = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray      = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	lightGray = lipgloss.NewStyle().Foreground(lipgloss.Color("248"))
)

// printSummary writes a short human readable account of a pass.
func printSummary(w io.Writer, res *reconcile.Result, err error) {
	var status string
	switch {
	case err != nil:
		status = red.Render("error")
	case res.Anomaly != nil:
		status = red.Render("anomaly")
	case res.Mutated():
		status = yellow.Render(string(res.Action))
	default:
		status = green.Render(string(res.Action))
	}

	fmt.Fprintf(w, "%s %s %s %s\n", status, cyan.Render(res.Bucket+"/"+res.Key), gray.Render("->"), res.LocalPath)

	if res.LocalDigest != "" {
		line := res.LocalDigest.Short()
		if info, statErr := os.Stat(res.LocalPath); statErr == nil {
			line += " " + gray.Render(humanize.IBytes(uint64(info.Size())))
		}
		fmt.Fprintf(w, "  digest  %s\n", line)
	}
	if res.BackupPath != "" {
		fmt.Fprintf(w, "  backup  %s\n", res.BackupPath)
	}
	if res.Uploaded {
		fmt.Fprintf(w, "  remote  %s\n", "uploaded with digest")
	} else if res.MetadataUpdated {
		fmt.Fprintf(w, "  remote  %s\n", "digest recorded in metadata")
	}
	if res.Anomaly != nil {
		fmt.Fprintf(w, "  anomaly %s\n", red.Render(res.Anomaly.Error()))
	}
	if err != nil {
		fmt.Fprintf(w, "  error   %s\n", red.Render(err.Error()))
	}
	fmt.Fprintf(w, "  took    %s\n", lightGray.Render(res.Duration.Round(time.Millisecond).String()))
}
