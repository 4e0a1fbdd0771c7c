package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/repolens/internal/insight"
	"github.com/sprite-ai/repolens/internal/report"
	"github.com/sprite-ai/repolens/internal/reviewapi"
	"github.com/sprite-ai/repolens/internal/session"
	"github.com/sprite-ai/repolens/internal/tui"
)

var reviewCmd = &cobra.Command{
	Use:   "review OWNER/REPO",
	Short: "Request a fresh review of a file or a whole repository",
	Long: `Ask the review backend to review one file (--path) or the whole
repository (--full) and print the resulting dashboard.

Exit codes:
  0  no warnings or errors
  1  warnings found
  2  error-tier issues found

Examples:
  repolens review octo/hello --path src/app.ts
  repolens review octo/hello --full --ref dev --format markdown
  repolens review octo/hello --path src/app.ts --tui`,
	Args: cobra.ExactArgs(1),
	RunE: runReview,
}

var lastCmd = &cobra.Command{
	Use:   "last OWNER/REPO",
	Short: "Show the stored review of a file or repository",
	Long: `Load the most recent stored review without triggering a new one.
With --files, list every reviewed file of the branch instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runLast,
}

func init() {
	for _, c := range []*cobra.Command{reviewCmd, lastCmd} {
		c.Flags().StringP("path", "p", "", "file to review")
		c.Flags().String("ref", "", "branch (default: repository default branch)")
		c.Flags().StringP("format", "f", "text", "output format: text, json, markdown, html")
		c.Flags().Bool("tui", false, "open the interactive dashboard")
	}
	reviewCmd.Flags().Bool("full", false, "review the whole repository")
	lastCmd.Flags().Bool("files", false, "list reviewed files of the branch")
}

func runReview(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("path")
	full, _ := cmd.Flags().GetBool("full")
	if full == (path != "") {
		return errors.New("pass exactly one of --path or --full")
	}
	format, err := formatFlag(cmd)
	if err != nil {
		return err
	}

	ref, _ := cmd.Flags().GetString("ref")
	c, err := openRepo(cmd, args[0], ref)
	if err != nil {
		return err
	}

	var d *insight.Dashboard
	if full {
		fmt.Fprintf(os.Stderr, "Reviewing %s@%s...\n", args[0], c.Tag().Branch)
		d, err = c.ReviewProject(cmd.Context())
	} else {
		fmt.Fprintf(os.Stderr, "Reviewing %s in %s@%s...\n", path, args[0], c.Tag().Branch)
		d, err = c.ReviewFile(cmd.Context(), path)
	}
	if err != nil {
		return err
	}

	return show(cmd, c, d, path, format)
}

func runLast(cmd *cobra.Command, args []string) error {
	format, err := formatFlag(cmd)
	if err != nil {
		return err
	}

	ref, _ := cmd.Flags().GetString("ref")
	c, err := openRepo(cmd, args[0], ref)
	if err != nil {
		return err
	}

	if files, _ := cmd.Flags().GetBool("files"); files {
		list, err := c.ReviewedFiles(cmd.Context())
		if err != nil {
			return err
		}
		return report.WriteFiles(os.Stdout, format, list, time.Now())
	}

	path, _ := cmd.Flags().GetString("path")
	d, err := c.LastReview(cmd.Context(), path)
	if errors.Is(err, reviewapi.ErrNoStoredReview) {
		fmt.Fprintln(os.Stderr, "No stored review yet. Run `repolens review` first.")
		return nil
	}
	if err != nil {
		return err
	}

	return show(cmd, c, d, path, format)
}

// show prints d or, with --tui, opens the dashboard on the reviewed file.
func show(cmd *cobra.Command, c *session.Controller, d *insight.Dashboard, path string, format report.Format) error {
	if useTUI, _ := cmd.Flags().GetBool("tui"); useTUI {
		var source string
		if path != "" {
			f, err := c.OpenFile(cmd.Context(), path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("source unavailable")
			}
			source = f.Content
		}
		return tui.Run(d, path, source)
	}

	if err := report.Write(os.Stdout, format, d, time.Now()); err != nil {
		return err
	}
	if code := report.ExitCode(d); code != 0 {
		closeLog()
		os.Exit(code)
	}
	return nil
}

func formatFlag(cmd *cobra.Command) (report.Format, error) {
	name, _ := cmd.Flags().GetString("format")
	return report.ParseFormat(name)
}
