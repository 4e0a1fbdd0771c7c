// Package session drives one repository review: branch selection, the file
// tree, file contents and reviews, with results for a superseded branch
// selection discarded.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sprite-ai/repolens/internal/filetree"
	"github.com/sprite-ai/repolens/internal/githost"
	"github.com/sprite-ai/repolens/internal/highlight"
	"github.com/sprite-ai/repolens/internal/insight"
	"github.com/sprite-ai/repolens/internal/model"
	"github.com/sprite-ai/repolens/internal/reviewapi"
)

var (
	// ErrStale is returned when the branch selection changed while a
	// branch-scoped request was in flight. The result was discarded.
	ErrStale = errors.New("branch selection changed")
	// ErrNoBranch is returned by branch-scoped calls before a branch is
	// selected.
	ErrNoBranch = errors.New("no branch selected")
)

// Reviewer is the part of the review backend client the controller needs.
type Reviewer interface {
	Review(ctx context.Context, req reviewapi.Request) (*model.AnalysisResponse, error)
	LastReview(ctx context.Context, key reviewapi.Key) (*model.AnalysisResponse, error)
	ReviewedFiles(ctx context.Context, key reviewapi.Key) ([]model.ReviewedFile, error)
}

// Options tunes a Controller.
type Options struct {
	Limit   int      // insights per bucket, 0 for all
	Exclude []string // tree globs to hide
	Logger  zerolog.Logger
}

// Tag identifies the branch selection a request was issued under.
type Tag struct {
	Branch     string `json:"branch"`
	Generation uint64 `json:"generation"`
}

// File is source content fetched for the current branch.
type File struct {
	Path     string `json:"path"`
	Ref      string `json:"ref"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

// Snapshot is the controller state at a point in time.
type Snapshot struct {
	Owner         string             `json:"owner"`
	Repo          string             `json:"repo"`
	DefaultBranch string             `json:"default_branch"`
	Branch        string             `json:"branch"`
	Branches      []string           `json:"branches"`
	Tree          []model.TreeNode   `json:"tree"`
	Reviewed      []string           `json:"reviewed"`
	Dashboard     *insight.Dashboard `json:"dashboard,omitempty"`
}

// Controller holds the state of one repository review session. It is safe
// for concurrent use.
type Controller struct {
	sess    model.Session
	host    githost.Provider
	reviews Reviewer
	owner   string
	repo    string
	opts    Options
	log     zerolog.Logger

	mu            sync.Mutex
	tag           Tag
	defaultBranch string
	branches      []string
	treeBranch    string // branch tree and reviewed were loaded for
	tree          []model.TreeNode
	reviewed      map[string]struct{}
	dashboard     *insight.Dashboard
}

// New returns a controller for owner/repo. Nothing is fetched until Open.
func New(sess model.Session, host githost.Provider, reviews Reviewer, owner, repo string, opts Options) *Controller {
	return &Controller{
		sess:     sess,
		host:     host,
		reviews:  reviews,
		owner:    owner,
		repo:     repo,
		opts:     opts,
		log:      opts.Logger.With().Str("repo", owner+"/"+repo).Logger(),
		reviewed: map[string]struct{}{},
	}
}

// Open fetches the default branch and branch list, then selects the
// default branch.
func (c *Controller) Open(ctx context.Context) (Snapshot, error) {
	var (
		def      string
		branches []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		def, err = c.host.DefaultBranch(gctx, c.owner, c.repo)
		return err
	})
	g.Go(func() error {
		var err error
		branches, err = c.host.Branches(gctx, c.owner, c.repo)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, fmt.Errorf("open %s/%s: %w", c.owner, c.repo, err)
	}

	c.mu.Lock()
	c.defaultBranch = def
	c.branches = branches
	c.mu.Unlock()

	if def == "" {
		return c.Snapshot(), nil
	}
	if _, err := c.SelectBranch(ctx, def); err != nil {
		return Snapshot{}, err
	}
	return c.Snapshot(), nil
}

// SelectBranch makes branch current and loads its tree and reviewed files.
// When another selection is made before this one completes, ErrStale is
// returned and nothing is stored. A failed load leaves the previously loaded
// branch current with its tree.
func (c *Controller) SelectBranch(ctx context.Context, branch string) ([]model.TreeNode, error) {
	c.mu.Lock()
	c.tag = Tag{Branch: branch, Generation: c.tag.Generation + 1}
	tag := c.tag
	c.mu.Unlock()

	var (
		entries  []model.FileEntry
		reviewed []model.ReviewedFile
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = c.host.Tree(gctx, c.owner, c.repo, branch)
		return err
	})
	g.Go(func() error {
		var err error
		reviewed, err = c.reviews.ReviewedFiles(gctx, c.key(branch, ""))
		if err != nil {
			c.log.Warn().Err(err).Str("branch", branch).Msg("reviewed files unavailable")
			reviewed = nil
		}
		return nil
	})
	err := g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tag != tag {
		c.log.Debug().Str("branch", branch).Str("current", c.tag.Branch).Msg("discarding stale tree")
		return nil, ErrStale
	}
	if err != nil {
		c.tag.Branch = c.treeBranch
		return nil, fmt.Errorf("load tree for %s: %w", branch, err)
	}

	c.treeBranch = branch
	c.tree = filetree.FromEntries(entries, c.opts.Exclude)
	c.reviewed = make(map[string]struct{}, len(reviewed))
	for _, f := range reviewed {
		c.reviewed[f.Filename] = struct{}{}
	}
	return c.tree, nil
}

// OpenFile fetches path at the current branch.
func (c *Controller) OpenFile(ctx context.Context, path string) (File, error) {
	tag, err := c.current()
	if err != nil {
		return File{}, err
	}

	content, err := c.host.FileContent(ctx, c.owner, c.repo, path, tag.Branch)
	if err != nil {
		return File{}, fmt.Errorf("load %s: %w", path, err)
	}
	if err := c.check(tag); err != nil {
		return File{}, err
	}
	return File{
		Path:     path,
		Ref:      tag.Branch,
		Language: highlight.Language(path),
		Content:  content,
	}, nil
}

// ReviewFile requests a fresh review of path on the current branch.
func (c *Controller) ReviewFile(ctx context.Context, path string) (*insight.Dashboard, error) {
	if path == "" {
		return nil, fmt.Errorf("review file: empty path")
	}
	return c.review(ctx, reviewapi.ActionFile, path)
}

// ReviewProject requests a fresh review of the whole current branch.
func (c *Controller) ReviewProject(ctx context.Context) (*insight.Dashboard, error) {
	return c.review(ctx, reviewapi.ActionFull, "")
}

func (c *Controller) review(ctx context.Context, action reviewapi.Action, path string) (*insight.Dashboard, error) {
	tag, err := c.current()
	if err != nil {
		return nil, err
	}

	resp, err := c.reviews.Review(ctx, reviewapi.Request{
		Provider:    c.sess.Provider,
		AccessToken: c.sess.AccessToken,
		Action:      action,
		Owner:       c.owner,
		Repo:        c.repo,
		Ref:         tag.Branch,
		Filename:    path,
	})
	if err != nil {
		return nil, err
	}

	return c.store(tag, resp, path)
}

// LastReview loads the stored review for path, or the whole project when
// path is empty. reviewapi.ErrNoStoredReview is passed through unchanged.
func (c *Controller) LastReview(ctx context.Context, path string) (*insight.Dashboard, error) {
	tag, err := c.current()
	if err != nil {
		return nil, err
	}

	resp, err := c.reviews.LastReview(ctx, c.key(tag.Branch, path))
	if err != nil {
		return nil, err
	}
	return c.store(tag, resp, "")
}

// ReviewedFiles lists the stored file reviews of the current branch.
func (c *Controller) ReviewedFiles(ctx context.Context) ([]model.ReviewedFile, error) {
	tag, err := c.current()
	if err != nil {
		return nil, err
	}
	return c.reviews.ReviewedFiles(ctx, c.key(tag.Branch, ""))
}

// Reviewed reports whether path has a stored review on the current branch.
func (c *Controller) Reviewed(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.reviewed[path]
	return ok
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	reviewed := make([]string, 0, len(c.reviewed))
	for p := range c.reviewed {
		reviewed = append(reviewed, p)
	}
	sort.Strings(reviewed)

	return Snapshot{
		Owner:         c.owner,
		Repo:          c.repo,
		DefaultBranch: c.defaultBranch,
		Branch:        c.tag.Branch,
		Branches:      append([]string(nil), c.branches...),
		Tree:          c.tree,
		Reviewed:      reviewed,
		Dashboard:     c.dashboard,
	}
}

// Tag returns the current selection tag.
func (c *Controller) Tag() Tag {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tag
}

func (c *Controller) store(tag Tag, resp *model.AnalysisResponse, reviewedPath string) (*insight.Dashboard, error) {
	d := insight.NewDashboard(resp, c.opts.Limit)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tag != tag {
		return nil, ErrStale
	}
	c.dashboard = d
	if reviewedPath != "" {
		c.reviewed[reviewedPath] = struct{}{}
	}
	return d, nil
}

func (c *Controller) current() (Tag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tag.Branch == "" {
		return Tag{}, ErrNoBranch
	}
	return c.tag, nil
}

func (c *Controller) check(tag Tag) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tag != tag {
		return ErrStale
	}
	return nil
}

func (c *Controller) key(branch, path string) reviewapi.Key {
	return reviewapi.Key{
		Provider: c.sess.Provider,
		Owner:    c.owner,
		Repo:     c.repo,
		Ref:      branch,
		Filename: path,
	}
}
