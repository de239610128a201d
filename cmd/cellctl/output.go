// ABOUTME: Terminal output helpers for cellctl
// ABOUTME: Colored headings and aligned tables in the style of the other binaries

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/cellular/internal/batch"
	"github.com/2389/cellular/internal/store"
)

func heading(w io.Writer, title string) {
	cyan := color.New(color.FgCyan)
	fmt.Fprintln(w)
	cyan.Fprintf(w, "  %s\n", title)
	cyan.Fprintf(w, "  %s\n", strings.Repeat("-", len(title)))
}

func success(w io.Writer, format string, args ...any) {
	color.New(color.FgGreen).Fprintf(w, "✓ "+format+"\n", args...)
}

func field(w io.Writer, name, value string) {
	if value == "" {
		value = "(none)"
	}
	fmt.Fprintf(w, "  %-12s %s\n", name+":", value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("Jan 02 15:04")
}

func printCell(w io.Writer, c *store.Cell) {
	heading(w, "Cell "+c.ID)
	field(w, "Stage", string(c.Stage))
	field(w, "Status", string(c.Status))
	field(w, "Address", c.Address)
	field(w, "Stack", c.StackRef)
	field(w, "Image", c.ImageRef)
	field(w, "Created", formatTime(c.CreatedAt))
	field(w, "Updated", formatTime(c.UpdatedAt))
	fmt.Fprintln(w)
}

func printCells(w io.Writer, cells []*store.Cell) {
	heading(w, "Cells")
	if len(cells) == 0 {
		fmt.Fprintln(w, "  (no cells)")
		fmt.Fprintln(w)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tSTAGE\tSTATUS\tADDRESS\tIMAGE\tUPDATED")
	fmt.Fprintln(tw, "  --\t-----\t------\t-------\t-----\t-------")
	for _, c := range cells {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\n", c.ID, c.Stage, c.Status, orDash(c.Address), orDash(c.ImageRef), formatTime(c.UpdatedAt))
	}
	tw.Flush()
	fmt.Fprintln(w)
}

func printUsers(w io.Writer, users []*store.User) {
	heading(w, "Users")
	if len(users) == 0 {
		fmt.Fprintln(w, "  (no users)")
		fmt.Fprintln(w)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  USERNAME\tCELL\tCREATED")
	fmt.Fprintln(tw, "  --------\t----\t-------")
	for _, u := range users {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", u.Username, u.CellID, formatTime(u.CreatedAt))
	}
	tw.Flush()
	fmt.Fprintln(w)
}

func printReport(w io.Writer, report *batch.Report) {
	title := "Batch " + report.Name
	if report.Replayed {
		title += " (replayed)"
	}
	heading(w, title)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  CELL\tSTATUS\tDURATION\tFAILURE")
	fmt.Fprintln(tw, "  ----\t------\t--------\t-------")
	for _, r := range report.Results {
		failure := "-"
		if r.Failure != nil {
			failure = r.Failure.Kind + ": " + r.Failure.Message
		}
		status := string(r.Status)
		if r.Status == batch.StatusFailed {
			status = color.RedString(status)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", r.ID, status, r.Duration.Round(time.Millisecond), failure)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n  %d succeeded, %d failed\n\n", len(report.Succeeded()), len(report.Failed()))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
