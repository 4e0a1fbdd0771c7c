package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/repolens/internal/insight"
	"github.com/sprite-ai/repolens/internal/local"
	"github.com/sprite-ai/repolens/internal/report"
	"github.com/sprite-ai/repolens/internal/reviewapi"
	"github.com/sprite-ai/repolens/internal/tui"
)

var localCmd = &cobra.Command{
	Use:   "local FILE...",
	Short: "Review local files without a git host",
	Long: `Send local source files to the review backend as a guest project.
Files are checked against the configured size, count and extension limits
before anything is read.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLocal,
}

func init() {
	localCmd.Flags().String("owner", "guest", "project owner")
	localCmd.Flags().String("project", "", "project id to add to (default: a new project)")
	localCmd.Flags().StringP("format", "f", "text", "output format: text, json, markdown, html")
	localCmd.Flags().Bool("tui", false, "open the interactive dashboard")
}

func runLocal(cmd *cobra.Command, args []string) error {
	format, err := formatFlag(cmd)
	if err != nil {
		return err
	}
	owner, _ := cmd.Flags().GetString("owner")
	project, _ := cmd.Flags().GetString("project")
	if project == "" {
		project = local.NewProjects().ID(owner)
	}

	uploads, err := readUploads(args, localLimits())
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Reviewing %d file(s) as project %s...\n", len(uploads), project)
	resp, err := newReviews().ReviewLocal(cmd.Context(), reviewapi.LocalRequest{
		Owner:     owner,
		ProjectID: project,
		Files:     local.Files(uploads),
	})
	if err != nil {
		return err
	}
	d := insight.NewDashboard(resp, cfg.Display.InsightLimit)

	if useTUI, _ := cmd.Flags().GetBool("tui"); useTUI {
		var path, source string
		if len(uploads) == 1 {
			path, source = uploads[0].Path, uploads[0].Content
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

func localLimits() local.Limits {
	limits := local.DefaultLimits()
	if cfg.Local.MaxFileSize > 0 {
		limits.MaxFileSize = cfg.Local.MaxFileSize
	}
	if cfg.Local.MaxFiles > 0 {
		limits.MaxFiles = cfg.Local.MaxFiles
	}
	return limits
}

// readUploads validates files by name and size, then reads their content.
func readUploads(paths []string, limits local.Limits) ([]local.Upload, error) {
	uploads := make([]local.Upload, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", p)
		}
		uploads = append(uploads, local.Upload{
			Filename: filepath.Base(p),
			Path:     filepath.ToSlash(filepath.Clean(p)),
			Size:     info.Size(),
		})
	}

	if err := limits.Validate(0, uploads); err != nil {
		return nil, err
	}

	for i, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		uploads[i].Content = string(data)
	}
	return uploads, nil
}
