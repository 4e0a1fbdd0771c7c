// Package cli implements the repolens command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sprite-ai/repolens/internal/config"
	"github.com/sprite-ai/repolens/internal/githost"
	"github.com/sprite-ai/repolens/internal/logging"
	"github.com/sprite-ai/repolens/internal/model"
	"github.com/sprite-ai/repolens/internal/reviewapi"
	"github.com/sprite-ai/repolens/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "repolens",
	Short: "Browse repositories and review code with an AI review backend",
	Long: `repolens browses GitHub and Bitbucket repositories, requests reviews
from the review backend and shows the results as score tiles and grouped
insights, in the terminal or through its web API.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Loaded by setup before any command runs.
var (
	cfg      *config.Config
	log      zerolog.Logger
	closeLog = func() {}
)

func init() {
	rootCmd.PersistentFlags().String("config", "repolens.yaml", "path to config file")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")
	rootCmd.PersistentFlags().String("provider", "github", "git host: github or bitbucket")
	rootCmd.PersistentFlags().String("token", "", "git host access token (default $REPOLENS_TOKEN, then $GITHUB_TOKEN or $BITBUCKET_TOKEN)")

	rootCmd.AddCommand(serveCmd, reposCmd, treeCmd, reviewCmd, lastCmd, localCmd, versionCmd)
}

// Execute runs the root command. Interrupts cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer func() { closeLog() }()
	return rootCmd.ExecuteContext(ctx)
}

func setup(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	c, err := config.Load(path)
	if err != nil {
		return err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		c.LogLevel = level
	}

	l, closer, err := logging.New(c.LogLevel, c.LogFile)
	if err != nil {
		return err
	}

	cfg = c
	log = l
	closeLog = closer
	return nil
}

// hostSession builds a git host session from the --provider and --token
// flags.
func hostSession(cmd *cobra.Command) (model.Session, error) {
	name, _ := cmd.Flags().GetString("provider")
	provider, err := model.ParseProvider(name)
	if err != nil {
		return model.Session{}, err
	}

	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = os.Getenv("REPOLENS_TOKEN")
	}
	if token == "" {
		token = os.Getenv(strings.ToUpper(string(provider)) + "_TOKEN")
	}
	if token == "" {
		return model.Session{}, fmt.Errorf("no %s token: pass --token or set REPOLENS_TOKEN", provider)
	}
	return model.Session{Provider: provider, AccessToken: token}, nil
}

func hostOptions() githost.Options {
	return githost.Options{
		GitHubURL:    cfg.GitHub.APIURL,
		BitbucketURL: cfg.Bitbucket.APIURL,
	}
}

func connect(cmd *cobra.Command) (model.Session, githost.Provider, error) {
	sess, err := hostSession(cmd)
	if err != nil {
		return model.Session{}, nil, err
	}
	host, err := githost.New(cmd.Context(), sess, hostOptions())
	if err != nil {
		return model.Session{}, nil, err
	}
	return sess, host, nil
}

func newReviews() *reviewapi.Client {
	return reviewapi.New(reviewapi.Options{
		BaseURL:       cfg.Review.BaseURL,
		WebhookURL:    cfg.Review.WebhookURL,
		Timeout:       cfg.Review.Timeout,
		RatePerMinute: cfg.Review.RatePerMinute,
		Burst:         cfg.Review.Burst,
		Logger:        logging.Component(log, "reviewapi"),
	})
}

// parseRepo splits an OWNER/REPO argument.
func parseRepo(arg string) (string, string, error) {
	owner, repo, ok := strings.Cut(strings.Trim(arg, "/"), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("expected OWNER/REPO, got %q", arg)
	}
	return owner, repo, nil
}

// openRepo connects to the git host and selects ref, or the default branch
// when ref is empty.
func openRepo(cmd *cobra.Command, arg, ref string) (*session.Controller, error) {
	owner, repo, err := parseRepo(arg)
	if err != nil {
		return nil, err
	}
	sess, host, err := connect(cmd)
	if err != nil {
		return nil, err
	}

	c := session.New(sess, host, newReviews(), owner, repo, session.Options{
		Limit:   cfg.Display.InsightLimit,
		Exclude: cfg.Display.Exclude,
		Logger:  logging.Component(log, "session"),
	})

	ctx := cmd.Context()
	if ref == "" {
		if _, err := c.Open(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
	if _, err := c.SelectBranch(ctx, ref); err != nil {
		return nil, err
	}
	return c, nil
}
