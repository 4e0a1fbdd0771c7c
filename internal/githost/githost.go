// Package githost lists repositories, branches, trees and file contents from
// the git hosting provider a user signed in with.
package githost

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sprite-ai/repolens/internal/model"
)

// ErrNotFound is returned when the repository, ref or path does not exist.
var ErrNotFound = errors.New("not found")

// Provider is the read-only view of a git host used by repolens.
type Provider interface {
	// User returns the login of the authenticated user.
	User(ctx context.Context) (string, error)
	Repos(ctx context.Context) ([]model.Repo, error)
	DefaultBranch(ctx context.Context, owner, repo string) (string, error)
	Branches(ctx context.Context, owner, repo string) ([]string, error)
	// Tree lists every entry reachable from ref, recursively.
	Tree(ctx context.Context, owner, repo, ref string) ([]model.FileEntry, error)
	FileContent(ctx context.Context, owner, repo, path, ref string) (string, error)
}

// Options configures provider clients. Zero values use the public APIs.
type Options struct {
	GitHubURL    string
	BitbucketURL string
	HTTPClient   *http.Client
}

// New returns the provider matching the session.
func New(ctx context.Context, s model.Session, opts Options) (Provider, error) {
	if !s.Authenticated() {
		return nil, fmt.Errorf("git host: session has no access token")
	}
	switch s.Provider {
	case model.ProviderGitHub:
		return NewGitHub(ctx, s.AccessToken, opts.GitHubURL, opts.HTTPClient)
	case model.ProviderBitbucket:
		return NewBitbucket(s.AccessToken, opts.BitbucketURL, opts.HTTPClient)
	default:
		return nil, fmt.Errorf("git host: unknown provider %q", s.Provider)
	}
}
