package githost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"github.com/sprite-ai/repolens/internal/model"
)

// GitHub reads from the GitHub v3 REST API.
type GitHub struct {
	client *github.Client
}

// NewGitHub returns a GitHub provider authenticating with token. baseURL
// overrides the API location (GitHub Enterprise or tests).
func NewGitHub(ctx context.Context, token, baseURL string, hc *http.Client) (*GitHub, error) {
	if hc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	gh := github.NewClient(oauth2.NewClient(ctx, ts))

	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse github url: %w", err)
		}
		gh.BaseURL = u
	}
	return &GitHub{client: gh}, nil
}

func (g *GitHub) User(ctx context.Context) (string, error) {
	u, _, err := g.client.Users.Get(ctx, "")
	if err != nil {
		return "", ghError("get user", err)
	}
	return u.GetLogin(), nil
}

func (g *GitHub) Repos(ctx context.Context) ([]model.Repo, error) {
	opts := &github.RepositoryListByAuthenticatedUserOptions{
		Sort:        "updated",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var repos []model.Repo
	for {
		page, resp, err := g.client.Repositories.ListByAuthenticatedUser(ctx, opts)
		if err != nil {
			return nil, ghError("list repositories", err)
		}
		for _, r := range page {
			repos = append(repos, model.Repo{
				Owner:         r.GetOwner().GetLogin(),
				Name:          r.GetName(),
				FullName:      r.GetFullName(),
				Description:   r.GetDescription(),
				Language:      r.GetLanguage(),
				Stars:         r.GetStargazersCount(),
				Forks:         r.GetForksCount(),
				DefaultBranch: r.GetDefaultBranch(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return repos, nil
}

func (g *GitHub) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	r, _, err := g.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", ghError("get repository", err)
	}
	return r.GetDefaultBranch(), nil
}

func (g *GitHub) Branches(ctx context.Context, owner, repo string) ([]string, error) {
	opts := &github.BranchListOptions{ListOptions: github.ListOptions{PerPage: 100}}

	var names []string
	for {
		page, resp, err := g.client.Repositories.ListBranches(ctx, owner, repo, opts)
		if err != nil {
			return nil, ghError("list branches", err)
		}
		for _, b := range page {
			names = append(names, b.GetName())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return names, nil
}

func (g *GitHub) Tree(ctx context.Context, owner, repo, ref string) ([]model.FileEntry, error) {
	tree, _, err := g.client.Git.GetTree(ctx, owner, repo, ref, true)
	if err != nil {
		return nil, ghError("get tree", err)
	}

	entries := make([]model.FileEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		entry := model.FileEntry{
			Path: e.GetPath(),
			Type: model.EntryType(e.GetType()),
			SHA:  e.GetSHA(),
		}
		if e.Size != nil {
			size := int64(*e.Size)
			entry.Size = &size
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (g *GitHub) FileContent(ctx context.Context, owner, repo, path, ref string) (string, error) {
	fc, _, _, err := g.client.Repositories.GetContents(ctx, owner, repo, path,
		&github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return "", ghError("get contents", err)
	}
	if fc == nil {
		return "", fmt.Errorf("get contents: %s is a directory", path)
	}
	content, err := fc.GetContent()
	if err != nil {
		return "", fmt.Errorf("decode contents: %w", err)
	}
	return content, nil
}

func ghError(op string, err error) error {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
