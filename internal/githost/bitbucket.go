package githost

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sprite-ai/repolens/internal/model"
)

const (
	defaultBitbucketURL = "https://api.bitbucket.org/2.0/"
	bitbucketTreeDepth  = 50
)

// Bitbucket reads from the Bitbucket Cloud 2.0 REST API.
type Bitbucket struct {
	base   *url.URL
	token  string
	client *http.Client
}

// NewBitbucket returns a Bitbucket provider authenticating with token.
func NewBitbucket(token, baseURL string, hc *http.Client) (*Bitbucket, error) {
	if baseURL == "" {
		baseURL = defaultBitbucketURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse bitbucket url: %w", err)
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Bitbucket{base: u, token: token, client: hc}, nil
}

type bbPage[T any] struct {
	Values []T    `json:"values"`
	Next   string `json:"next"`
}

type bbRepo struct {
	Name        string `json:"name"`
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	Language    string `json:"language"`
	MainBranch  *struct {
		Name string `json:"name"`
	} `json:"mainbranch"`
	Workspace struct {
		Slug string `json:"slug"`
	} `json:"workspace"`
}

type bbEntry struct {
	Path   string `json:"path"`
	Type   string `json:"type"`
	Size   *int64 `json:"size"`
	Commit struct {
		Hash string `json:"hash"`
	} `json:"commit"`
}

func (b *Bitbucket) User(ctx context.Context) (string, error) {
	var u struct {
		Username string `json:"username"`
	}
	if err := b.getJSON(ctx, b.endpoint("user"), &u); err != nil {
		return "", fmt.Errorf("get user: %w", err)
	}
	return u.Username, nil
}

func (b *Bitbucket) Repos(ctx context.Context) ([]model.Repo, error) {
	values, err := collect[bbRepo](ctx, b, b.endpoint("repositories")+"?role=member&pagelen=100&sort=-updated_on")
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	repos := make([]model.Repo, 0, len(values))
	for _, r := range values {
		repos = append(repos, model.Repo{
			Owner:         r.Workspace.Slug,
			Name:          r.Name,
			FullName:      r.FullName,
			Description:   r.Description,
			Language:      r.Language,
			DefaultBranch: r.mainBranch(),
		})
	}
	return repos, nil
}

func (b *Bitbucket) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	var r bbRepo
	if err := b.getJSON(ctx, b.endpoint("repositories", owner, repo), &r); err != nil {
		return "", fmt.Errorf("get repository: %w", err)
	}
	return r.mainBranch(), nil
}

func (b *Bitbucket) Branches(ctx context.Context, owner, repo string) ([]string, error) {
	type branch struct {
		Name string `json:"name"`
	}
	values, err := collect[branch](ctx, b, b.endpoint("repositories", owner, repo, "refs", "branches")+"?pagelen=100")
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	names := make([]string, 0, len(values))
	for _, v := range values {
		names = append(names, v.Name)
	}
	return names, nil
}

func (b *Bitbucket) Tree(ctx context.Context, owner, repo, ref string) ([]model.FileEntry, error) {
	first := b.endpoint("repositories", owner, repo, "src", ref) + fmt.Sprintf("/?max_depth=%d&pagelen=100", bitbucketTreeDepth)
	values, err := collect[bbEntry](ctx, b, first)
	if err != nil {
		return nil, fmt.Errorf("get tree: %w", err)
	}
	entries := make([]model.FileEntry, 0, len(values))
	for _, v := range values {
		typ := model.EntryBlob
		if v.Type == "commit_directory" {
			typ = model.EntryTree
		}
		entries = append(entries, model.FileEntry{
			Path: v.Path,
			Type: typ,
			SHA:  v.Commit.Hash,
			Size: v.Size,
		})
	}
	return entries, nil
}

func (b *Bitbucket) FileContent(ctx context.Context, owner, repo, path, ref string) (string, error) {
	segments := append([]string{"repositories", owner, repo, "src", ref}, strings.Split(path, "/")...)
	resp, err := b.get(ctx, b.endpoint(segments...))
	if err != nil {
		return "", fmt.Errorf("get contents: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read contents: %w", err)
	}
	return string(data), nil
}

func (r bbRepo) mainBranch() string {
	if r.MainBranch == nil {
		return ""
	}
	return r.MainBranch.Name
}

// endpoint joins escaped path segments onto the API base.
func (b *Bitbucket) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return b.base.String() + strings.Join(escaped, "/")
}

// collect follows "next" links until the listing is exhausted.
func collect[T any](ctx context.Context, b *Bitbucket, next string) ([]T, error) {
	var all []T
	for next != "" {
		var page bbPage[T]
		if err := b.getJSON(ctx, next, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Values...)
		next = page.Next
	}
	return all, nil
}

func (b *Bitbucket) getJSON(ctx context.Context, rawURL string, out any) error {
	resp, err := b.get(ctx, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// get issues an authenticated GET. Non-2xx responses are closed and turned
// into errors.
func (b *Bitbucket) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.token)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bitbucket http error: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("bitbucket returned status %d", resp.StatusCode)
	}
	return resp, nil
}
